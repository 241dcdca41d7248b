package worker

import (
	"context"
	"encoding/json"
	"time"

	"order-management/internal/broker"
	"order-management/internal/models"
	"order-management/internal/service"
	"order-management/internal/util"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// NotifierWorker consumes committed domain events and delivers them as
// outbound webhooks to a downstream system.
type NotifierWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	client       *resty.Client
	targetURL    string
	logger       *zap.Logger
}

// NewNotifierWorker creates a new notifier worker. A blank targetURL
// disables delivery; events are consumed and logged only.
func NewNotifierWorker(consumer *broker.Consumer, targetURL string) *NotifierWorker {
	w := &NotifierWorker{
		consumer: consumer,
		client: resty.New().
			SetTimeout(10 * time.Second).
			SetRetryCount(2),
		targetURL: targetURL,
		logger:    util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderCreated(w.handleOrderCreated)
	eventHandler.OnPaymentEvent(w.handlePaymentEvent)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotifierWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notifier worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotifierWorker) Stop() error {
	w.logger.Info("Stopping notifier worker")
	return w.consumer.Close()
}

func (w *NotifierWorker) handleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return w.deliver(ctx, event.EventType, event)
}

func (w *NotifierWorker) handlePaymentEvent(ctx context.Context, base *models.BaseEvent, raw []byte) error {
	return w.deliver(ctx, base.EventType, json.RawMessage(raw))
}

// deliver posts the event to the configured endpoint. Delivery errors
// are logged, not returned: a dead downstream must not wedge the
// consumer group offset.
func (w *NotifierWorker) deliver(ctx context.Context, eventType string, body interface{}) error {
	if w.targetURL == "" {
		w.logger.Debug("Outbound webhook delivery disabled",
			zap.String("event_type", eventType))
		return nil
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Event-Type", eventType).
		SetBody(body).
		Post(w.targetURL)
	if err != nil {
		w.logger.Error("Outbound webhook delivery failed",
			zap.String("event_type", eventType),
			zap.Error(err))
		return nil
	}

	w.logger.Info("Outbound webhook delivered",
		zap.String("event_type", eventType),
		zap.Int("status_code", resp.StatusCode()))
	return nil
}

// RetryWorker periodically sweeps failed webhook events and re-invokes
// the payment workflow for each.
type RetryWorker struct {
	webhookService *service.WebhookService
	interval       time.Duration
	logger         *zap.Logger
}

// NewRetryWorker creates a new retry worker
func NewRetryWorker(webhookService *service.WebhookService, interval time.Duration) *RetryWorker {
	return &RetryWorker{
		webhookService: webhookService,
		interval:       interval,
		logger:         util.GetLogger(),
	}
}

// Start runs the sweep loop until the context is cancelled
func (w *RetryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting webhook retry worker",
		zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Retry worker context cancelled, stopping")
			return ctx.Err()
		case <-ticker.C:
			result, err := w.webhookService.RetryFailedWebhooks(ctx)
			if err != nil {
				w.logger.Error("Webhook retry sweep failed", zap.Error(err))
				continue
			}
			if result.TotalFailed > 0 {
				w.logger.Info("Webhook retry sweep completed",
					zap.Int("retried", result.Retried),
					zap.Int("total_failed", result.TotalFailed))
			}
		}
	}
}

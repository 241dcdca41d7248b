package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"order-management/internal/broker"
	"order-management/internal/models"
	"order-management/internal/redisclient"
	"order-management/internal/store"
	"order-management/internal/util"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	webhookMaxRetries = 3
	webhookRetryBatch = 10
)

// amountTolerance absorbs floating rounding between the payment
// provider and the stored order total.
var amountTolerance = decimal.NewFromFloat(0.01)

// WebhookService applies external payment notifications to orders at
// most once per event_id.
type WebhookService struct {
	store          *store.Store
	cache          *redisclient.Client
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
	txTimeout      time.Duration
}

// NewWebhookService creates a new webhook service
func NewWebhookService(
	store *store.Store,
	cache *redisclient.Client,
	eventPublisher *broker.EventPublisher,
	txTimeout time.Duration,
) *WebhookService {
	return &WebhookService{
		store:          store,
		cache:          cache,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
		txTimeout:      txTimeout,
	}
}

// PaymentWebhookPayload is the externally supplied payment notification
type PaymentWebhookPayload struct {
	EventID       string          `json:"event_id" binding:"required"`
	EventType     string          `json:"event_type" binding:"required"`
	OrderNumber   string          `json:"order_number" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	TransactionID string          `json:"transaction_id"`
	Timestamp     string          `json:"timestamp"`
}

// WebhookResult reports whether this call applied the event
type WebhookResult struct {
	Applied bool   `json:"applied"`
	Message string `json:"message"`
}

// RetryResult reports the outcome of a retry sweep
type RetryResult struct {
	Retried     int `json:"retried"`
	TotalFailed int `json:"total_failed"`
}

func (p *PaymentWebhookPayload) validate() error {
	if p.EventID == "" {
		return fmt.Errorf("%w: event_id is required", ErrValidation)
	}
	if p.OrderNumber == "" {
		return fmt.Errorf("%w: order_number is required", ErrValidation)
	}
	switch p.EventType {
	case models.WebhookPaymentSuccess, models.WebhookPaymentFailed:
		return nil
	default:
		return fmt.Errorf("%w: unknown event_type %q", ErrValidation, p.EventType)
	}
}

// ProcessPaymentWebhook applies a payment event to its order exactly
// once. A replayed event_id is a no-op returning applied=false. On
// failure the business transaction rolls back but the failure is still
// durably recorded on the webhook event, so the retry sweep can pick
// it up.
func (s *WebhookService) ProcessPaymentWebhook(ctx context.Context, payload *PaymentWebhookPayload) (*WebhookResult, error) {
	ctx, span := util.StartSpan(ctx, "WebhookService.ProcessPaymentWebhook")
	defer span.End()

	if err := payload.validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var duplicate bool
	var order *models.Order

	err = s.store.WithTx(ctx, s.txTimeout, func(tx *sqlx.Tx) error {
		event, err := s.store.LockWebhookEvent(ctx, tx, payload.EventID)
		if err != nil {
			return fmt.Errorf("failed to lock webhook event: %w", err)
		}
		if event != nil && event.Status == models.WebhookStatusProcessed {
			duplicate = true
			return nil
		}
		if event == nil {
			if err := s.store.InsertWebhookEvent(ctx, tx, &models.WebhookEvent{
				EventID:   payload.EventID,
				EventType: payload.EventType,
				Payload:   rawPayload,
				Status:    models.WebhookStatusPending,
			}); err != nil {
				return fmt.Errorf("failed to record webhook event: %w", err)
			}
			// Re-acquire the lock: if a concurrent delivery won the
			// insert and already processed the event, this is a replay.
			event, err = s.store.LockWebhookEvent(ctx, tx, payload.EventID)
			if err != nil {
				return fmt.Errorf("failed to lock webhook event: %w", err)
			}
			if event != nil && event.Status == models.WebhookStatusProcessed {
				duplicate = true
				return nil
			}
		}

		order, err = s.store.LockOrderByNumber(ctx, tx, payload.OrderNumber)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: order %s", ErrNotFound, payload.OrderNumber)
		}

		switch payload.EventType {
		case models.WebhookPaymentSuccess:
			if err := s.applyPaymentSuccess(ctx, tx, order, payload); err != nil {
				return err
			}
		case models.WebhookPaymentFailed:
			if err := s.applyPaymentFailure(ctx, tx, order, payload); err != nil {
				return err
			}
		}

		return s.store.MarkWebhookProcessed(ctx, tx, payload.EventID)
	})
	if err != nil {
		s.recordFailure(payload, rawPayload)
		util.WebhooksFailedTotal.Inc()
		return nil, mapStoreErr(err)
	}

	if duplicate {
		util.WebhooksDuplicateTotal.Inc()
		s.logger.Info("Webhook already processed",
			zap.String("event_id", payload.EventID))
		return &WebhookResult{
			Applied: false,
			Message: "webhook already processed",
		}, nil
	}

	util.WebhooksProcessedTotal.Inc()
	s.logger.Info("Payment webhook processed",
		zap.String("event_id", payload.EventID),
		zap.String("event_type", payload.EventType),
		zap.String("order_number", payload.OrderNumber))

	s.invalidateDashboard(ctx)
	s.publishPaymentEvent(ctx, order, payload)

	return &WebhookResult{
		Applied: true,
		Message: fmt.Sprintf("payment webhook for order %s processed", payload.OrderNumber),
	}, nil
}

func (s *WebhookService) applyPaymentSuccess(ctx context.Context, tx *sqlx.Tx, order *models.Order, payload *PaymentWebhookPayload) error {
	if order.TotalAmount.Sub(payload.Amount).Abs().GreaterThan(amountTolerance) {
		return fmt.Errorf("%w: expected %s, got %s",
			ErrAmountMismatch, order.TotalAmount.String(), payload.Amount.String())
	}

	method := payload.PaymentMethod
	if err := s.store.SetOrderPayment(ctx, tx, order.ID, models.PaymentStatusPaid, &method); err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	if order.Status == models.OrderStatusPending {
		if err := s.store.SetOrderStatus(ctx, tx, order.ID, models.OrderStatusConfirmed); err != nil {
			return fmt.Errorf("failed to confirm order: %w", err)
		}
	}

	paid := models.PaymentStatusPaid
	changedBy := "webhook-" + payload.EventID
	return s.store.InsertAuditLog(ctx, tx, &models.AuditLog{
		OrderID:   order.ID,
		Action:    "payment_status_change",
		OldValue:  &order.PaymentStatus,
		NewValue:  &paid,
		ChangedBy: changedBy,
	})
}

func (s *WebhookService) applyPaymentFailure(ctx context.Context, tx *sqlx.Tx, order *models.Order, payload *PaymentWebhookPayload) error {
	if err := s.store.SetOrderPayment(ctx, tx, order.ID, models.PaymentStatusFailed, nil); err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	failed := models.PaymentStatusFailed
	changedBy := "webhook-" + payload.EventID
	return s.store.InsertAuditLog(ctx, tx, &models.AuditLog{
		OrderID:   order.ID,
		Action:    "payment_status_change",
		OldValue:  &order.PaymentStatus,
		NewValue:  &failed,
		ChangedBy: changedBy,
	})
}

// recordFailure runs outside the rolled-back transaction with its own
// deadline, so the attempt ledger survives even when the business
// effect did not apply.
func (s *WebhookService) recordFailure(payload *PaymentWebhookPayload, rawPayload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.RecordWebhookFailure(ctx, payload.EventID, payload.EventType, rawPayload); err != nil {
		s.logger.Error("Failed to record webhook failure",
			zap.String("event_id", payload.EventID),
			zap.Error(err))
	}
}

// RetryFailedWebhooks re-invokes the workflow for failed events under
// the retry ceiling, each independently.
func (s *WebhookService) RetryFailedWebhooks(ctx context.Context) (*RetryResult, error) {
	ctx, span := util.StartSpan(ctx, "WebhookService.RetryFailedWebhooks")
	defer span.End()

	events, err := s.store.ListRetryableWebhooks(ctx, webhookMaxRetries, webhookRetryBatch)
	if err != nil {
		return nil, err
	}

	result := &RetryResult{TotalFailed: len(events)}
	for _, event := range events {
		var payload PaymentWebhookPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			s.logger.Error("Stored webhook payload is malformed",
				zap.String("event_id", event.EventID),
				zap.Error(err))
			s.recordFailure(&PaymentWebhookPayload{
				EventID:   event.EventID,
				EventType: event.EventType,
			}, event.Payload)
			continue
		}

		if _, err := s.ProcessPaymentWebhook(ctx, &payload); err != nil {
			s.logger.Warn("Webhook retry failed",
				zap.String("event_id", event.EventID),
				zap.Int("retry_count", event.RetryCount),
				zap.Error(err))
			continue
		}
		result.Retried++
		util.WebhooksRetriedTotal.Inc()
	}

	return result, nil
}

// GetWebhookEvent retrieves a webhook event by its external event_id
func (s *WebhookService) GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	event, err := s.store.GetWebhookEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("%w: webhook event %s", ErrNotFound, eventID)
	}
	return event, nil
}

// ListWebhookEvents retrieves events, optionally filtered by status
func (s *WebhookService) ListWebhookEvents(ctx context.Context, status string, limit, offset int) ([]models.WebhookEvent, error) {
	return s.store.ListWebhookEvents(ctx, status, limit, offset)
}

func (s *WebhookService) invalidateDashboard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateDashboard(ctx); err != nil {
		s.logger.Warn("Failed to invalidate dashboard cache", zap.Error(err))
	}
}

func (s *WebhookService) publishPaymentEvent(ctx context.Context, order *models.Order, payload *PaymentWebhookPayload) {
	if s.eventPublisher == nil || order == nil {
		return
	}
	switch payload.EventType {
	case models.WebhookPaymentSuccess:
		event := &models.PaymentReceivedEvent{
			BaseEvent:     newBaseEvent(models.EventTypePaymentReceived),
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			Amount:        payload.Amount,
			PaymentMethod: payload.PaymentMethod,
		}
		if err := s.eventPublisher.PublishPaymentReceived(ctx, event); err != nil {
			s.logger.Error("Failed to publish PaymentReceived event", zap.Error(err))
		}
	case models.WebhookPaymentFailed:
		event := &models.PaymentFailedEvent{
			BaseEvent:   newBaseEvent(models.EventTypePaymentFailed),
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
		}
		if err := s.eventPublisher.PublishPaymentFailed(ctx, event); err != nil {
			s.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
		}
	}
}

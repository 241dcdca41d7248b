package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"order-management/internal/broker"
	"order-management/internal/models"
	"order-management/internal/redisclient"
	"order-management/internal/store"
	"order-management/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const orderNumberAttempts = 3

// OrderService handles the order creation workflow and order reads
type OrderService struct {
	store          *store.Store
	cache          *redisclient.Client
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
	txTimeout      time.Duration
}

// NewOrderService creates a new order service
func NewOrderService(
	store *store.Store,
	cache *redisclient.Client,
	eventPublisher *broker.EventPublisher,
	txTimeout time.Duration,
) *OrderService {
	return &OrderService{
		store:          store,
		cache:          cache,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
		txTimeout:      txTimeout,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	CustomerID      int64              `json:"customer_id" binding:"required"`
	Items           []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	PaymentMethod   *string            `json:"payment_method,omitempty"`
	ShippingAddress *string            `json:"shipping_address,omitempty"`
	Notes           *string            `json:"notes,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// BulkCreateOrderRequest represents a batch of independent orders
type BulkCreateOrderRequest struct {
	Orders []CreateOrderRequest `json:"orders" binding:"required,min=1"`
}

// BulkOrderError reports a single failed order in a bulk request
type BulkOrderError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BulkCreateOrderResult is the partial-failure report for a bulk request
type BulkCreateOrderResult struct {
	Created int                   `json:"created"`
	Orders  []*models.OrderDetail `json:"orders"`
	Errors  []BulkOrderError      `json:"errors"`
}

func (r *CreateOrderRequest) validate() error {
	if r.CustomerID <= 0 {
		return fmt.Errorf("%w: customer_id is required", ErrValidation)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	for _, item := range r.Items {
		if item.ProductID <= 0 {
			return fmt.Errorf("%w: product_id is required", ErrValidation)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
	}
	return nil
}

// CreateOrder atomically validates stock, decrements inventory, writes
// the order with its items and the audit row, then returns the hydrated
// order. Any failure rolls the whole transaction back.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := req.validate(); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	start := time.Now()
	defer func() {
		util.OrderCreateLatency.Observe(time.Since(start).Seconds())
	}()

	// Lock products in ascending id order so concurrent multi-item
	// orders touching overlapping products cannot deadlock.
	items := make([]OrderItemRequest, len(req.Items))
	copy(items, req.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	var order models.Order

	// A colliding order_number aborts the whole transaction, so the
	// retry restarts it with a fresh number.
	var err error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order = models.Order{
			CustomerID:      req.CustomerID,
			OrderNumber:     generateOrderNumber(),
			Status:          models.OrderStatusPending,
			PaymentStatus:   models.PaymentStatusPending,
			PaymentMethod:   req.PaymentMethod,
			ShippingAddress: req.ShippingAddress,
			Notes:           req.Notes,
		}
		err = s.store.WithTx(ctx, s.txTimeout, func(tx *sqlx.Tx) error {
			return s.createOrderTx(ctx, tx, &order, items)
		})
		if err == nil || !store.IsUniqueViolation(err) {
			break
		}
		s.logger.Warn("Order number collision, regenerating",
			zap.String("order_number", order.OrderNumber))
	}
	if err != nil {
		if store.IsUniqueViolation(err) {
			err = fmt.Errorf("%w: could not allocate a unique order number", ErrConflict)
		}
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, mapStoreErr(err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total_amount", order.TotalAmount.String()))

	detail, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	s.invalidateDashboard(ctx)
	s.publishOrderCreated(ctx, detail)

	return detail, nil
}

func (s *OrderService) createOrderTx(ctx context.Context, tx *sqlx.Tx, order *models.Order, items []OrderItemRequest) error {
	exists, err := s.store.CustomerExists(ctx, tx, order.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to check customer: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: customer %d", ErrNotFound, order.CustomerID)
	}

	total := decimal.Zero
	orderItems := make([]models.OrderItem, 0, len(items))

	for _, item := range items {
		product, err := s.store.LockProduct(ctx, tx, item.ProductID)
		if err != nil {
			return err
		}
		if product == nil {
			return fmt.Errorf("%w: product %d", ErrNotFound, item.ProductID)
		}
		if product.StockQuantity < item.Quantity {
			return fmt.Errorf("%w: product %s has %d available, %d requested",
				ErrInsufficientStock, product.Name, product.StockQuantity, item.Quantity)
		}

		subtotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(subtotal)
		orderItems = append(orderItems, models.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
			Subtotal:  subtotal,
		})

		newStock := product.StockQuantity - item.Quantity
		if err := s.store.SetProductStock(ctx, tx, item.ProductID, newStock); err != nil {
			return fmt.Errorf("failed to deduct stock: %w", err)
		}

		notes := "sold via order creation"
		ledger := models.InventoryTransaction{
			ProductID:       item.ProductID,
			TransactionType: models.TxTypeSale,
			QuantityChange:  -item.Quantity,
			StockAfter:      newStock,
			Notes:           &notes,
		}
		if err := s.store.InsertInventoryTransaction(ctx, tx, &ledger); err != nil {
			return fmt.Errorf("failed to record inventory transaction: %w", err)
		}
	}

	order.TotalAmount = total
	if err := s.store.InsertOrder(ctx, tx, order); err != nil {
		if store.IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range orderItems {
		orderItems[i].OrderID = order.ID
		if err := s.store.InsertOrderItem(ctx, tx, &orderItems[i]); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	created, _ := json.Marshal(map[string]interface{}{
		"status": order.Status,
		"items":  len(orderItems),
	})
	newValue := string(created)
	return s.store.InsertAuditLog(ctx, tx, &models.AuditLog{
		OrderID:   order.ID,
		Action:    "order_created",
		NewValue:  &newValue,
		ChangedBy: "system",
	})
}

// CreateBulkOrders applies the single-order workflow independently per
// input; one failure never aborts the rest.
func (s *OrderService) CreateBulkOrders(ctx context.Context, req *BulkCreateOrderRequest) *BulkCreateOrderResult {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateBulkOrders")
	defer span.End()

	result := &BulkCreateOrderResult{
		Orders: make([]*models.OrderDetail, 0, len(req.Orders)),
		Errors: []BulkOrderError{},
	}

	for i := range req.Orders {
		order, err := s.CreateOrder(ctx, &req.Orders[i])
		if err != nil {
			result.Errors = append(result.Errors, BulkOrderError{
				Index: i,
				Error: err.Error(),
			})
			continue
		}
		result.Orders = append(result.Orders, order)
		result.Created++
	}

	return result
}

// GetOrder retrieves an order hydrated with items and audit trail
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.OrderDetail, error) {
	detail, err := s.store.GetOrderDetail(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}

	if detail.Items, err = s.store.GetOrderItems(ctx, orderID); err != nil {
		return nil, err
	}
	if detail.AuditLogs, err = s.store.GetAuditLogs(ctx, orderID); err != nil {
		return nil, err
	}
	return detail, nil
}

// GetOrderByNumber retrieves an order by its order number
func (s *OrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := s.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderNumber)
	}
	return order, nil
}

// ListOrders retrieves orders matching the filter, with items hydrated
func (s *OrderService) ListOrders(ctx context.Context, filter store.OrderFilter) ([]models.OrderDetail, int, error) {
	orders, total, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		if orders[i].Items, err = s.store.GetOrderItems(ctx, orders[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

// UpdateOrderStatus transitions an order to a new status with an audit row
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, status string) (*models.OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus")
	defer span.End()

	if !models.ValidOrderStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	err := s.store.WithTx(ctx, s.txTimeout, func(tx *sqlx.Tx) error {
		order, err := s.store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		if order.Status == status {
			return nil
		}
		if err := s.store.SetOrderStatus(ctx, tx, orderID, status); err != nil {
			return err
		}
		return s.store.InsertAuditLog(ctx, tx, &models.AuditLog{
			OrderID:   orderID,
			Action:    "status_change",
			OldValue:  &order.Status,
			NewValue:  &status,
			ChangedBy: "system",
		})
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	s.invalidateDashboard(ctx)
	return s.GetOrder(ctx, orderID)
}

// CancelOrder cancels an order and returns its stock to inventory
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64, reason string) (*models.OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	var orderNumber string
	err := s.store.WithTx(ctx, s.txTimeout, func(tx *sqlx.Tx) error {
		order, err := s.store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		switch order.Status {
		case models.OrderStatusShipped, models.OrderStatusDelivered:
			return fmt.Errorf("%w: order %s already %s", ErrConflict, order.OrderNumber, order.Status)
		case models.OrderStatusCancelled:
			return fmt.Errorf("%w: order %s already cancelled", ErrConflict, order.OrderNumber)
		}
		orderNumber = order.OrderNumber

		// Items come back sorted by product id, matching the creation
		// lock order.
		items, err := s.store.GetOrderItemsTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for _, item := range items {
			product, err := s.store.LockProduct(ctx, tx, item.ProductID)
			if err != nil {
				return err
			}
			if product == nil {
				continue
			}
			newStock := product.StockQuantity + item.Quantity
			if err := s.store.SetProductStock(ctx, tx, item.ProductID, newStock); err != nil {
				return err
			}
			notes := fmt.Sprintf("returned via cancellation of %s", orderNumber)
			ledger := models.InventoryTransaction{
				ProductID:       item.ProductID,
				OrderID:         &orderID,
				TransactionType: models.TxTypeReturn,
				QuantityChange:  item.Quantity,
				StockAfter:      newStock,
				Notes:           &notes,
			}
			if err := s.store.InsertInventoryTransaction(ctx, tx, &ledger); err != nil {
				return err
			}
		}

		if err := s.store.SetOrderStatus(ctx, tx, orderID, models.OrderStatusCancelled); err != nil {
			return err
		}
		cancelled := models.OrderStatusCancelled
		return s.store.InsertAuditLog(ctx, tx, &models.AuditLog{
			OrderID:   orderID,
			Action:    "status_change",
			OldValue:  &order.Status,
			NewValue:  &cancelled,
			ChangedBy: "system",
		})
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", orderID),
		zap.String("reason", reason))

	s.invalidateDashboard(ctx)
	if s.eventPublisher != nil {
		event := &models.OrderCancelledEvent{
			BaseEvent:   newBaseEvent(models.EventTypeOrderCancelled),
			OrderID:     orderID,
			OrderNumber: orderNumber,
			Reason:      reason,
		}
		if err := s.eventPublisher.PublishOrderCancelled(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
		}
	}

	return s.GetOrder(ctx, orderID)
}

func (s *OrderService) publishOrderCreated(ctx context.Context, detail *models.OrderDetail) {
	if s.eventPublisher == nil {
		return
	}
	items := make([]models.OrderItemData, 0, len(detail.Items))
	for _, item := range detail.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}
	event := &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     detail.ID,
		OrderNumber: detail.OrderNumber,
		CustomerID:  detail.CustomerID,
		TotalAmount: detail.TotalAmount,
		Items:       items,
	}
	if err := s.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func (s *OrderService) invalidateDashboard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateDashboard(ctx); err != nil {
		s.logger.Warn("Failed to invalidate dashboard cache", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// generateOrderNumber builds a human-readable order number from the
// creation timestamp plus a random suffix. Collisions are rare and
// handled by regenerating on the unique-constraint violation.
func generateOrderNumber() string {
	now := time.Now()
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	return fmt.Sprintf("ORD-%d-%s%03d", now.Year(), ts[len(ts)-6:], rand.Intn(1000))
}

// mapStoreErr converts infrastructure failures into the closed error set
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "db_error"
	}
}

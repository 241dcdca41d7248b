package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types published to the order-events topic
const (
	EventTypeOrderCreated    = "ORDER_CREATED"
	EventTypeOrderCancelled  = "ORDER_CANCELLED"
	EventTypePaymentReceived = "PAYMENT_RECEIVED"
	EventTypePaymentFailed   = "PAYMENT_FAILED"
	EventTypeStockAdjusted   = "STOCK_ADJUSTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published after an order commits
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	CustomerID  int64           `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderCancelledEvent published after a cancellation commits
type OrderCancelledEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
}

// PaymentReceivedEvent published after a payment.success webhook applies
type PaymentReceivedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
}

// PaymentFailedEvent published after a payment.failed webhook applies
type PaymentFailedEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// StockAdjustedEvent published after a manual stock adjustment commits
type StockAdjustedEvent struct {
	BaseEvent
	ProductID       int64  `json:"product_id"`
	TransactionType string `json:"transaction_type"`
	QuantityChange  int    `json:"quantity_change"`
	StockAfter      int    `json:"stock_after"`
}

// OrderItemData represents item data carried inside events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

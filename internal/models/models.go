package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer represents a registered customer
type Customer struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Address   *string   `db:"address" json:"address,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Product represents a product in the catalog
type Product struct {
	ID            int64           `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Description   *string         `db:"description" json:"description,omitempty"`
	Price         decimal.Decimal `db:"price" json:"price"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
	SKU           string          `db:"sku" json:"sku"`
	Category      *string         `db:"category" json:"category,omitempty"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Order represents a customer order
type Order struct {
	ID              int64           `db:"id" json:"id"`
	CustomerID      int64           `db:"customer_id" json:"customer_id"`
	OrderNumber     string          `db:"order_number" json:"order_number"`
	Status          string          `db:"status" json:"status"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaymentStatus   string          `db:"payment_status" json:"payment_status"`
	PaymentMethod   *string         `db:"payment_method" json:"payment_method,omitempty"`
	ShippingAddress *string         `db:"shipping_address" json:"shipping_address,omitempty"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem represents a line item in an order. Subtotal is fixed at
// creation time and never recomputed.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// OrderItemDetail is an order item joined with its product
type OrderItemDetail struct {
	OrderItem
	ProductName string `db:"product_name" json:"product_name"`
	ProductSKU  string `db:"product_sku" json:"product_sku"`
}

// OrderDetail is an order joined with its customer, items and audit trail
type OrderDetail struct {
	Order
	CustomerName  string            `db:"customer_name" json:"customer_name"`
	CustomerEmail string            `db:"customer_email" json:"customer_email"`
	Items         []OrderItemDetail `db:"-" json:"items,omitempty"`
	AuditLogs     []AuditLog        `db:"-" json:"audit_logs,omitempty"`
}

// InventoryTransaction is one row of the append-only stock ledger.
// StockAfter must equal the product's stock_quantity at commit time.
type InventoryTransaction struct {
	ID              int64     `db:"id" json:"id"`
	ProductID       int64     `db:"product_id" json:"product_id"`
	OrderID         *int64    `db:"order_id" json:"order_id,omitempty"`
	TransactionType string    `db:"transaction_type" json:"transaction_type"`
	QuantityChange  int       `db:"quantity_change" json:"quantity_change"`
	StockAfter      int       `db:"stock_after" json:"stock_after"`
	Notes           *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// AuditLog records a single order state transition
type AuditLog struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	Action    string    `db:"action" json:"action"`
	OldValue  *string   `db:"old_value" json:"old_value,omitempty"`
	NewValue  *string   `db:"new_value" json:"new_value,omitempty"`
	ChangedBy string    `db:"changed_by" json:"changed_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// WebhookEvent tracks an externally delivered payment event, keyed by
// the provider's event_id for idempotency.
type WebhookEvent struct {
	ID          int64      `db:"id" json:"id"`
	EventID     string     `db:"event_id" json:"event_id"`
	EventType   string     `db:"event_type" json:"event_type"`
	Payload     []byte     `db:"payload" json:"payload"`
	Status      string     `db:"status" json:"status"`
	RetryCount  int        `db:"retry_count" json:"retry_count"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// Inventory transaction types
const (
	TxTypePurchase   = "purchase"
	TxTypeSale       = "sale"
	TxTypeReturn     = "return"
	TxTypeAdjustment = "adjustment"
)

// Webhook event statuses
const (
	WebhookStatusPending   = "pending"
	WebhookStatusProcessed = "processed"
	WebhookStatusFailed    = "failed"
)

// Webhook event types
const (
	WebhookPaymentSuccess = "payment.success"
	WebhookPaymentFailed  = "payment.failed"
)

// ValidOrderStatus reports whether s is a known order status
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SummaryMetrics aggregates non-cancelled order totals
type SummaryMetrics struct {
	TotalOrders       int             `db:"total_orders" json:"total_orders"`
	TotalRevenue      decimal.Decimal `db:"total_revenue" json:"total_revenue"`
	AverageOrderValue decimal.Decimal `db:"average_order_value" json:"average_order_value"`
	TotalItemsSold    int             `db:"total_items_sold" json:"total_items_sold"`
}

// StatusBucket is a per-status order count and revenue
type StatusBucket struct {
	Status  string          `db:"status" json:"status"`
	Count   int             `db:"count" json:"count"`
	Revenue decimal.Decimal `db:"revenue" json:"revenue"`
}

// PaymentBucket is a per-payment-status order count and revenue
type PaymentBucket struct {
	PaymentStatus string          `db:"payment_status" json:"payment_status"`
	Count         int             `db:"count" json:"count"`
	Revenue       decimal.Decimal `db:"revenue" json:"revenue"`
}

// DailyRevenue is revenue and order count for one calendar day
type DailyRevenue struct {
	Date       time.Time       `db:"date" json:"date"`
	Revenue    decimal.Decimal `db:"revenue" json:"revenue"`
	OrderCount int             `db:"order_count" json:"order_count"`
}

// TopProduct is a best-selling product aggregate
type TopProduct struct {
	ProductID    int64           `db:"product_id" json:"product_id"`
	Name         string          `db:"name" json:"name"`
	QuantitySold int             `db:"quantity_sold" json:"quantity_sold"`
	Revenue      decimal.Decimal `db:"revenue" json:"revenue"`
}

// TopCustomer is a highest-spending customer aggregate
type TopCustomer struct {
	CustomerID int64           `db:"customer_id" json:"customer_id"`
	Name       string          `db:"name" json:"name"`
	Email      string          `db:"email" json:"email"`
	TotalSpent decimal.Decimal `db:"total_spent" json:"total_spent"`
	OrderCount int             `db:"order_count" json:"order_count"`
}

// GetSummaryMetrics returns the dashboard summary over non-cancelled orders
func (s *Store) GetSummaryMetrics(ctx context.Context) (*SummaryMetrics, error) {
	var summary SummaryMetrics
	err := s.db.GetContext(ctx, &summary, `
		SELECT
			COUNT(DISTINCT id) AS total_orders,
			COALESCE(SUM(total_amount), 0) AS total_revenue,
			COALESCE(AVG(total_amount), 0) AS average_order_value
		FROM orders
		WHERE status != 'cancelled'`)
	if err != nil {
		return nil, err
	}

	err = s.db.GetContext(ctx, &summary.TotalItemsSold, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM order_items oi
		JOIN orders o ON oi.order_id = o.id
		WHERE o.status != 'cancelled'`)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// GetStatusBreakdown groups non-cancelled orders by status
func (s *Store) GetStatusBreakdown(ctx context.Context) ([]StatusBucket, error) {
	var buckets []StatusBucket
	err := s.db.SelectContext(ctx, &buckets, `
		SELECT status, COUNT(*) AS count, COALESCE(SUM(total_amount), 0) AS revenue
		FROM orders
		WHERE status != 'cancelled'
		GROUP BY status
		ORDER BY count DESC`)
	return buckets, err
}

// GetPaymentBreakdown groups non-cancelled orders by payment status
func (s *Store) GetPaymentBreakdown(ctx context.Context) ([]PaymentBucket, error) {
	var buckets []PaymentBucket
	err := s.db.SelectContext(ctx, &buckets, `
		SELECT payment_status, COUNT(*) AS count, COALESCE(SUM(total_amount), 0) AS revenue
		FROM orders
		WHERE status != 'cancelled'
		GROUP BY payment_status
		ORDER BY count DESC`)
	return buckets, err
}

// GetDailyRevenue returns per-day revenue for the last 30 days
func (s *Store) GetDailyRevenue(ctx context.Context) ([]DailyRevenue, error) {
	var days []DailyRevenue
	err := s.db.SelectContext(ctx, &days, `
		SELECT
			created_at::date AS date,
			COALESCE(SUM(total_amount), 0) AS revenue,
			COUNT(*) AS order_count
		FROM orders
		WHERE status != 'cancelled'
		  AND created_at >= NOW() - INTERVAL '30 days'
		GROUP BY created_at::date
		ORDER BY date ASC`)
	return days, err
}

// GetTopProducts returns the ten best-selling products
func (s *Store) GetTopProducts(ctx context.Context) ([]TopProduct, error) {
	var products []TopProduct
	err := s.db.SelectContext(ctx, &products, `
		SELECT
			p.id AS product_id,
			p.name,
			COALESCE(SUM(oi.quantity), 0) AS quantity_sold,
			COALESCE(SUM(oi.subtotal), 0) AS revenue
		FROM products p
		LEFT JOIN order_items oi ON p.id = oi.product_id
		LEFT JOIN orders o ON oi.order_id = o.id AND o.status != 'cancelled'
		GROUP BY p.id, p.name
		HAVING COALESCE(SUM(oi.quantity), 0) > 0
		ORDER BY quantity_sold DESC
		LIMIT 10`)
	return products, err
}

// GetTopCustomers returns the ten highest-spending customers
func (s *Store) GetTopCustomers(ctx context.Context) ([]TopCustomer, error) {
	var customers []TopCustomer
	err := s.db.SelectContext(ctx, &customers, `
		SELECT
			c.id AS customer_id,
			c.name,
			c.email,
			COALESCE(SUM(o.total_amount), 0) AS total_spent,
			COUNT(o.id) AS order_count
		FROM customers c
		LEFT JOIN orders o ON c.id = o.customer_id AND o.status != 'cancelled'
		GROUP BY c.id, c.name, c.email
		HAVING COUNT(o.id) > 0
		ORDER BY total_spent DESC
		LIMIT 10`)
	return customers, err
}

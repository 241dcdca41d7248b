package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"order-management/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// GetCustomerByID retrieves a customer, nil when absent
func (s *Store) GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.GetContext(ctx, &customer, "SELECT * FROM customers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// ListCustomers retrieves customers, newest first
func (s *Store) ListCustomers(ctx context.Context, limit, offset int) ([]models.Customer, error) {
	var customers []models.Customer
	err := s.db.SelectContext(ctx, &customers,
		"SELECT * FROM customers ORDER BY created_at DESC LIMIT $1 OFFSET $2", limit, offset)
	return customers, err
}

// CreateCustomer inserts a new customer
func (s *Store) CreateCustomer(ctx context.Context, c *models.Customer) error {
	query := `
		INSERT INTO customers (name, email, phone, address)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, c, query, c.Name, c.Email, c.Phone, c.Address)
}

// CustomerExists checks customer existence inside tx
func (s *Store) CustomerExists(ctx context.Context, tx *sqlx.Tx, id int64) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)", id)
	return exists, err
}

// InsertOrder inserts a new order inside tx
func (s *Store) InsertOrder(ctx context.Context, tx *sqlx.Tx, o *models.Order) error {
	query := `
		INSERT INTO orders (customer_id, order_number, status, total_amount, payment_status, payment_method, shipping_address, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return tx.GetContext(ctx, o, query,
		o.CustomerID, o.OrderNumber, o.Status, o.TotalAmount,
		o.PaymentStatus, o.PaymentMethod, o.ShippingAddress, o.Notes)
}

// InsertOrderItem inserts a line item inside tx
func (s *Store) InsertOrderItem(ctx context.Context, tx *sqlx.Tx, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return tx.GetContext(ctx, item, query,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal)
}

// InsertAuditLog appends an audit row inside tx
func (s *Store) InsertAuditLog(ctx context.Context, tx *sqlx.Tx, entry *models.AuditLog) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (order_id, action, old_value, new_value, changed_by)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.OrderID, entry.Action, entry.OldValue, entry.NewValue, entry.ChangedBy)
	return err
}

// LockOrderByNumber acquires an exclusive row lock on an order inside tx.
// Returns nil when the order does not exist.
func (s *Store) LockOrderByNumber(ctx context.Context, tx *sqlx.Tx, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := tx.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE order_number = $1 FOR UPDATE", orderNumber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order %s: %w", orderNumber, err)
	}
	return &order, nil
}

// LockOrder acquires an exclusive row lock on an order by ID inside tx
func (s *Store) LockOrder(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Order, error) {
	var order models.Order
	err := tx.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order %d: %w", id, err)
	}
	return &order, nil
}

// SetOrderStatus updates order status inside tx
func (s *Store) SetOrderStatus(ctx context.Context, tx *sqlx.Tx, id int64, status string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	return err
}

// SetOrderPayment updates payment status and method inside tx
func (s *Store) SetOrderPayment(ctx context.Context, tx *sqlx.Tx, id int64, paymentStatus string, paymentMethod *string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, payment_method = COALESCE($2, payment_method), updated_at = NOW() WHERE id = $3",
		paymentStatus, paymentMethod, id)
	return err
}

// GetOrderDetail retrieves an order joined with its customer, nil when absent
func (s *Store) GetOrderDetail(ctx context.Context, id int64) (*models.OrderDetail, error) {
	var order models.OrderDetail
	err := s.db.GetContext(ctx, &order, `
		SELECT
			o.id, o.customer_id, o.order_number, o.status, o.total_amount,
			o.payment_status, o.payment_method, o.shipping_address, o.notes,
			o.created_at, o.updated_at,
			c.name AS customer_name, c.email AS customer_email
		FROM orders o
		JOIN customers c ON o.customer_id = c.id
		WHERE o.id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByNumber retrieves an order by its order number, nil when absent
func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE order_number = $1", orderNumber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves the line items for an order with product details
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItemDetail, error) {
	var items []models.OrderItemDetail
	err := s.db.SelectContext(ctx, &items, `
		SELECT
			oi.id, oi.order_id, oi.product_id, oi.quantity,
			oi.unit_price, oi.subtotal, oi.created_at,
			p.name AS product_name, p.sku AS product_sku
		FROM order_items oi
		JOIN products p ON oi.product_id = p.id
		WHERE oi.order_id = $1
		ORDER BY oi.created_at ASC`, orderID)
	return items, err
}

// GetOrderItemsTx retrieves line items inside tx, without product details
func (s *Store) GetOrderItemsTx(ctx context.Context, tx *sqlx.Tx, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY product_id ASC", orderID)
	return items, err
}

// GetAuditLogs retrieves the audit trail for an order
func (s *Store) GetAuditLogs(ctx context.Context, orderID int64) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := s.db.SelectContext(ctx, &logs,
		"SELECT * FROM audit_logs WHERE order_id = $1 ORDER BY created_at ASC", orderID)
	return logs, err
}

// OrderFilter narrows and pages the order listing
type OrderFilter struct {
	Status        string
	PaymentStatus string
	CustomerID    int64
	DateFrom      string
	DateTo        string
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
	Search        string
	Page          int
	Limit         int
	SortBy        string
	SortOrder     string
}

var orderSortColumns = map[string]string{
	"created_at":   "created_at",
	"total_amount": "total_amount",
	"order_number": "order_number",
}

// ListOrders retrieves orders matching filter with customer details,
// plus the total match count for pagination
func (s *Store) ListOrders(ctx context.Context, filter OrderFilter) ([]models.OrderDetail, int, error) {
	conditions := make([]string, 0, 8)
	args := make([]interface{}, 0, 8)

	add := func(cond string, val interface{}) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("o.status = $%d", filter.Status)
	}
	if filter.PaymentStatus != "" {
		add("o.payment_status = $%d", filter.PaymentStatus)
	}
	if filter.CustomerID > 0 {
		add("o.customer_id = $%d", filter.CustomerID)
	}
	if filter.DateFrom != "" {
		add("o.created_at::date >= $%d", filter.DateFrom)
	}
	if filter.DateTo != "" {
		add("o.created_at::date <= $%d", filter.DateTo)
	}
	if filter.MinAmount != nil {
		add("o.total_amount >= $%d", *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		add("o.total_amount <= $%d", *filter.MaxAmount)
	}
	if filter.Search != "" {
		term := "%" + filter.Search + "%"
		args = append(args, term)
		conditions = append(conditions, fmt.Sprintf(
			"(o.order_number ILIKE $%d OR c.name ILIKE $%d OR c.email ILIKE $%d)",
			len(args), len(args), len(args)))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf(
		"SELECT COUNT(*) FROM orders o JOIN customers c ON o.customer_id = c.id %s", whereClause)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	sortBy, ok := orderSortColumns[filter.SortBy]
	if !ok {
		sortBy = "created_at"
	}
	sortOrder := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		sortOrder = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 10
	}

	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf(`
		SELECT
			o.id, o.customer_id, o.order_number, o.status, o.total_amount,
			o.payment_status, o.payment_method, o.shipping_address, o.notes,
			o.created_at, o.updated_at,
			c.name AS customer_name, c.email AS customer_email
		FROM orders o
		JOIN customers c ON o.customer_id = c.id
		%s
		ORDER BY o.%s %s
		LIMIT $%d OFFSET $%d`,
		whereClause, sortBy, sortOrder, len(args)-1, len(args))

	var orders []models.OrderDetail
	if err := s.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"order-management/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	return store.NewStoreWithDB(db), mock
}

func productColumns() []string {
	return []string{"id", "name", "description", "price", "stock_quantity", "sku", "category", "is_active", "created_at", "updated_at"}
}

func productRow(id int64, name, price string, stock int) *sqlmock.Rows {
	return sqlmock.NewRows(productColumns()).
		AddRow(id, name, nil, price, stock, "SKU-"+name, nil, true, time.Now(), time.Now())
}

func orderDetailColumns() []string {
	return []string{"id", "customer_id", "order_number", "status", "total_amount",
		"payment_status", "payment_method", "shipping_address", "notes",
		"created_at", "updated_at", "customer_name", "customer_email"}
}

func TestCreateOrderDecrementsStockAndComputesTotal(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewOrderService(st, nil, nil, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1 FOR UPDATE`).WithArgs(int64(1)).
		WillReturnRows(productRow(1, "widget", "10.00", 5))
	mock.ExpectExec("UPDATE products SET stock_quantity").WithArgs(3, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO inventory_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(7, time.Now(), time.Now()))
	mock.ExpectQuery("INSERT INTO order_items").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("FROM orders o").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(orderDetailColumns()).
			AddRow(7, 42, "ORD-2026-123456001", "pending", "20.00",
				"pending", nil, nil, nil, time.Now(), time.Now(), "Alice", "alice@example.com"))
	mock.ExpectQuery("FROM order_items oi").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity",
			"unit_price", "subtotal", "created_at", "product_name", "product_sku"}).
			AddRow(1, 7, 1, 2, "10.00", "20.00", time.Now(), "widget", "SKU-widget"))
	mock.ExpectQuery("FROM audit_logs").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "action", "old_value", "new_value", "changed_by", "created_at"}).
			AddRow(1, 7, "order_created", nil, `{"items":1,"status":"pending"}`, "system", time.Now()))

	detail, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 42,
		Items:      []OrderItemRequest{{ProductID: 1, Quantity: 2}},
	})
	require.NoError(t, err)

	assert.True(t, detail.TotalAmount.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, "pending", detail.Status)
	assert.Equal(t, "pending", detail.PaymentStatus)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, 2, detail.Items[0].Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderInsufficientStockRollsBack(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewOrderService(st, nil, nil, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1 FOR UPDATE`).WithArgs(int64(1)).
		WillReturnRows(productRow(1, "widget", "10.00", 1))
	mock.ExpectRollback()

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 42,
		Items:      []OrderItemRequest{{ProductID: 1, Quantity: 2}},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderUnknownCustomer(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewOrderService(st, nil, nil, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 99,
		Items:      []OrderItemRequest{{ProductID: 1, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderLocksProductsInAscendingOrder(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewOrderService(st, nil, nil, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	// Product 1 must be locked before product 2 even though the request
	// lists them the other way round.
	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1 FOR UPDATE`).WithArgs(int64(1)).
		WillReturnRows(productRow(1, "widget", "10.00", 5))
	mock.ExpectExec("UPDATE products SET stock_quantity").WithArgs(4, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO inventory_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1 FOR UPDATE`).WithArgs(int64(2)).
		WillReturnRows(productRow(2, "gadget", "5.50", 5))
	mock.ExpectExec("UPDATE products SET stock_quantity").WithArgs(4, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO inventory_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(2, time.Now()))
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(8, time.Now(), time.Now()))
	mock.ExpectQuery("INSERT INTO order_items").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectQuery("INSERT INTO order_items").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(2, time.Now()))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("FROM orders o").WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows(orderDetailColumns()).
			AddRow(8, 42, "ORD-2026-123456002", "pending", "15.50",
				"pending", nil, nil, nil, time.Now(), time.Now(), "Alice", "alice@example.com"))
	mock.ExpectQuery("FROM order_items oi").WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity",
			"unit_price", "subtotal", "created_at", "product_name", "product_sku"}).
			AddRow(1, 8, 1, 1, "10.00", "10.00", time.Now(), "widget", "SKU-widget").
			AddRow(2, 8, 2, 1, "5.50", "5.50", time.Now(), "gadget", "SKU-gadget"))
	mock.ExpectQuery("FROM audit_logs").WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "action", "old_value", "new_value", "changed_by", "created_at"}))

	detail, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 42,
		Items: []OrderItemRequest{
			{ProductID: 2, Quantity: 1},
			{ProductID: 1, Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.True(t, detail.TotalAmount.Equal(decimal.RequireFromString("15.50")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderGivesUpAfterRepeatedNumberCollisions(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewOrderService(st, nil, nil, time.Second)

	for i := 0; i < orderNumberAttempts; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1 FOR UPDATE`).WithArgs(int64(1)).
			WillReturnRows(productRow(1, "widget", "10.00", 5))
		mock.ExpectExec("UPDATE products SET stock_quantity").WithArgs(4, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO inventory_transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
		mock.ExpectQuery("INSERT INTO orders").
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()
	}

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 42,
		Items:      []OrderItemRequest{{ProductID: 1, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderValidation(t *testing.T) {
	st, _ := newMockStore(t)
	svc := NewOrderService(st, nil, nil, time.Second)

	cases := []struct {
		name string
		req  CreateOrderRequest
	}{
		{"missing customer", CreateOrderRequest{Items: []OrderItemRequest{{ProductID: 1, Quantity: 1}}}},
		{"no items", CreateOrderRequest{CustomerID: 1}},
		{"zero quantity", CreateOrderRequest{CustomerID: 1, Items: []OrderItemRequest{{ProductID: 1}}}},
		{"missing product", CreateOrderRequest{CustomerID: 1, Items: []OrderItemRequest{{Quantity: 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateOrder(context.Background(), &tc.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCancelOrderRestoresStock(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewOrderService(st, nil, nil, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM orders WHERE id = \$1 FOR UPDATE`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "order_number", "status", "total_amount",
			"payment_status", "payment_method", "shipping_address", "notes", "created_at", "updated_at"}).
			AddRow(7, 42, "ORD-2026-123456001", "pending", "20.00", "pending", nil, nil, nil, time.Now(), time.Now()))
	mock.ExpectQuery(`SELECT \* FROM order_items WHERE order_id = \$1 ORDER BY product_id ASC`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity", "unit_price", "subtotal", "created_at"}).
			AddRow(1, 7, 1, 2, "10.00", "20.00", time.Now()))
	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1 FOR UPDATE`).WithArgs(int64(1)).
		WillReturnRows(productRow(1, "widget", "10.00", 3))
	mock.ExpectExec("UPDATE products SET stock_quantity").WithArgs(5, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO inventory_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(2, time.Now()))
	mock.ExpectExec("UPDATE orders SET status").WithArgs("cancelled", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("FROM orders o").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(orderDetailColumns()).
			AddRow(7, 42, "ORD-2026-123456001", "cancelled", "20.00",
				"pending", nil, nil, nil, time.Now(), time.Now(), "Alice", "alice@example.com"))
	mock.ExpectQuery("FROM order_items oi").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity",
			"unit_price", "subtotal", "created_at", "product_name", "product_sku"}))
	mock.ExpectQuery("FROM audit_logs").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "action", "old_value", "new_value", "changed_by", "created_at"}))

	detail, err := svc.CancelOrder(context.Background(), 7, "customer request")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", detail.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelOrderRejectsShipped(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewOrderService(st, nil, nil, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM orders WHERE id = \$1 FOR UPDATE`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "order_number", "status", "total_amount",
			"payment_status", "payment_method", "shipping_address", "notes", "created_at", "updated_at"}).
			AddRow(7, 42, "ORD-2026-123456001", "shipped", "20.00", "paid", nil, nil, nil, time.Now(), time.Now()))
	mock.ExpectRollback()

	_, err := svc.CancelOrder(context.Background(), 7, "too late")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderStatusRejectsUnknownStatus(t *testing.T) {
	st, _ := newMockStore(t)
	svc := NewOrderService(st, nil, nil, time.Second)

	_, err := svc.UpdateOrderStatus(context.Background(), 7, "teleported")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGenerateOrderNumberFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^ORD-\d{4}-\d{9}$`)
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		number := generateOrderNumber()
		assert.Regexp(t, pattern, number)
		seen[number] = true
	}
	// Random suffixes should produce at least some variety.
	assert.Greater(t, len(seen), 1)
}

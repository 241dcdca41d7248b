package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return NewStoreWithDB(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE products").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.WithTx(context.Background(), time.Second, func(tx *sqlx.Tx) error {
		_, err := tx.Exec("UPDATE products SET stock_quantity = 1 WHERE id = 1")
		return err
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	st, mock := newMockStore(t)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), time.Second, func(tx *sqlx.Tx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("unique")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestGetProductByIDReturnsNilWhenAbsent(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1`).WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	product, err := st.GetProductByID(context.Background(), 404)
	assert.NoError(t, err)
	assert.Nil(t, product)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderByNumberReturnsNilWhenAbsent(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM orders WHERE order_number = \$1`).WithArgs("ORD-2026-000000000").
		WillReturnError(sql.ErrNoRows)

	order, err := st.GetOrderByNumber(context.Background(), "ORD-2026-000000000")
	assert.NoError(t, err)
	assert.Nil(t, order)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordWebhookFailureUpserts(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("evt-001", "payment.success", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.RecordWebhookFailure(context.Background(), "evt-001", "payment.success", []byte(`{}`))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrdersBuildsFilteredQuery(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders o JOIN customers c`).
		WithArgs("pending", int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM orders o JOIN customers c`).
		WithArgs("pending", int64(42), 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "order_number", "status", "total_amount",
			"payment_status", "payment_method", "shipping_address", "notes",
			"created_at", "updated_at", "customer_name", "customer_email"}).
			AddRow(7, 42, "ORD-2026-123456001", "pending", "20.00",
				"pending", nil, nil, nil, time.Now(), time.Now(), "Alice", "alice@example.com"))

	orders, total, err := st.ListOrders(context.Background(), OrderFilter{
		Status:     "pending",
		CustomerID: 42,
		Page:       1,
		Limit:      20,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, orders, 1)
	assert.Equal(t, "ORD-2026-123456001", orders[0].OrderNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrdersRejectsUnknownSortColumn(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders o JOIN customers c`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	// An unknown sort column falls back to created_at rather than being
	// interpolated into the query.
	mock.ExpectQuery(`ORDER BY o\.created_at DESC`).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "order_number", "status", "total_amount",
			"payment_status", "payment_method", "shipping_address", "notes",
			"created_at", "updated_at", "customer_name", "customer_email"}))

	_, _, err := st.ListOrders(context.Background(), OrderFilter{
		SortBy: "name; DROP TABLE orders",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

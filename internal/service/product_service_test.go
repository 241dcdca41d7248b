package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustStockIncrease(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewProductService(st, nil, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1 FOR UPDATE`).WithArgs(int64(1)).
		WillReturnRows(productRow(1, "widget", "10.00", 10))
	mock.ExpectExec("UPDATE products SET stock_quantity").WithArgs(15, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO inventory_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectCommit()

	product, err := svc.AdjustStock(context.Background(), 1, &AdjustStockRequest{
		QuantityChange:  5,
		TransactionType: "purchase",
	})
	require.NoError(t, err)
	assert.Equal(t, 15, product.StockQuantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStockCannotGoNegative(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewProductService(st, nil, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1 FOR UPDATE`).WithArgs(int64(1)).
		WillReturnRows(productRow(1, "widget", "10.00", 3))
	mock.ExpectRollback()

	_, err := svc.AdjustStock(context.Background(), 1, &AdjustStockRequest{
		QuantityChange:  -5,
		TransactionType: "adjustment",
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStockValidation(t *testing.T) {
	st, _ := newMockStore(t)
	svc := NewProductService(st, nil, time.Second)

	_, err := svc.AdjustStock(context.Background(), 1, &AdjustStockRequest{
		QuantityChange:  5,
		TransactionType: "sale",
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.AdjustStock(context.Background(), 1, &AdjustStockRequest{
		QuantityChange:  0,
		TransactionType: "purchase",
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAdjustStockUnknownProduct(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewProductService(st, nil, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1 FOR UPDATE`).WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.AdjustStock(context.Background(), 9, &AdjustStockRequest{
		QuantityChange:  1,
		TransactionType: "purchase",
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProductRejectsDuplicateSKU(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewProductService(st, nil, time.Second)

	mock.ExpectQuery(`SELECT \* FROM products WHERE sku = \$1`).WithArgs("SKU-widget").
		WillReturnRows(productRow(1, "widget", "10.00", 5))

	_, err := svc.CreateProduct(context.Background(), &CreateProductRequest{
		Name:  "widget",
		Price: decimal.RequireFromString("10.00"),
		SKU:   "SKU-widget",
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProductValidation(t *testing.T) {
	st, _ := newMockStore(t)
	svc := NewProductService(st, nil, time.Second)

	_, err := svc.CreateProduct(context.Background(), &CreateProductRequest{SKU: "SKU-1"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateProduct(context.Background(), &CreateProductRequest{
		Name:  "widget",
		SKU:   "SKU-1",
		Price: decimal.RequireFromString("-1"),
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetProductNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewProductService(st, nil, time.Second)

	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1`).WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	_, err := svc.GetProduct(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

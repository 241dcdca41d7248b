package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"order-management/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection, used by tests
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a transaction bounded by timeout. The
// transaction is rolled back unless fn returns nil and the commit
// succeeds, so a failure at any step leaves no partial state.
func (s *Store) WithTx(ctx context.Context, timeout time.Duration, fn func(tx *sqlx.Tx) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductBySKU retrieves a product by SKU
func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE sku = $1", sku)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts retrieves products, optionally filtered by active flag
func (s *Store) ListProducts(ctx context.Context, isActive *bool) ([]models.Product, error) {
	var products []models.Product
	if isActive != nil {
		err := s.db.SelectContext(ctx, &products,
			"SELECT * FROM products WHERE is_active = $1 ORDER BY created_at DESC", *isActive)
		return products, err
	}
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY created_at DESC")
	return products, err
}

// CreateProduct inserts a new product
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (name, description, price, stock_quantity, sku, category, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, p, query,
		p.Name, p.Description, p.Price, p.StockQuantity, p.SKU, p.Category, p.IsActive)
}

// ProductUpdate holds the mutable product fields; nil fields are left
// untouched
type ProductUpdate struct {
	Name        *string
	Description *string
	Price       *string
	Category    *string
	IsActive    *bool
}

// UpdateProduct applies a partial update to a product
func (s *Store) UpdateProduct(ctx context.Context, id int64, upd ProductUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE products SET
			name = COALESCE($1, name),
			description = COALESCE($2, description),
			price = COALESCE($3, price),
			category = COALESCE($4, category),
			is_active = COALESCE($5, is_active),
			updated_at = NOW()
		WHERE id = $6`,
		upd.Name, upd.Description, upd.Price, upd.Category, upd.IsActive, id)
	return err
}

// DeactivateProduct soft-deletes a product
func (s *Store) DeactivateProduct(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET is_active = FALSE, updated_at = NOW() WHERE id = $1", id)
	return err
}

// LockProduct acquires an exclusive row lock on a product inside tx.
// Returns nil when the product does not exist.
func (s *Store) LockProduct(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Product, error) {
	var product models.Product
	err := tx.GetContext(ctx, &product,
		"SELECT * FROM products WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product %d: %w", id, err)
	}
	return &product, nil
}

// SetProductStock persists the new stock level inside tx
func (s *Store) SetProductStock(ctx context.Context, tx *sqlx.Tx, id int64, stock int) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE products SET stock_quantity = $1, updated_at = NOW() WHERE id = $2",
		stock, id)
	return err
}

// InsertInventoryTransaction appends a ledger row inside tx
func (s *Store) InsertInventoryTransaction(ctx context.Context, tx *sqlx.Tx, it *models.InventoryTransaction) error {
	query := `
		INSERT INTO inventory_transactions (product_id, order_id, transaction_type, quantity_change, stock_after, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return tx.GetContext(ctx, it, query,
		it.ProductID, it.OrderID, it.TransactionType, it.QuantityChange, it.StockAfter, it.Notes)
}

// ListInventoryTransactions returns the most recent ledger rows for a product
func (s *Store) ListInventoryTransactions(ctx context.Context, productID int64) ([]models.InventoryTransaction, error) {
	var txs []models.InventoryTransaction
	err := s.db.SelectContext(ctx, &txs, `
		SELECT * FROM inventory_transactions
		WHERE product_id = $1
		ORDER BY created_at DESC
		LIMIT 50`, productID)
	return txs, err
}

package service

import (
	"context"
	"fmt"
	"time"

	"order-management/internal/broker"
	"order-management/internal/models"
	"order-management/internal/store"
	"order-management/internal/util"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductService handles the product catalog and the stock adjustment
// workflow.
type ProductService struct {
	store          *store.Store
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
	txTimeout      time.Duration
}

// NewProductService creates a new product service
func NewProductService(store *store.Store, eventPublisher *broker.EventPublisher, txTimeout time.Duration) *ProductService {
	return &ProductService{
		store:          store,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
		txTimeout:      txTimeout,
	}
}

// CreateProductRequest represents a request to create a product
type CreateProductRequest struct {
	Name          string          `json:"name" binding:"required"`
	Description   *string         `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price" binding:"required"`
	StockQuantity int             `json:"stock_quantity"`
	SKU           string          `json:"sku" binding:"required"`
	Category      *string         `json:"category,omitempty"`
	IsActive      *bool           `json:"is_active,omitempty"`
}

// UpdateProductRequest carries a partial product update
type UpdateProductRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Price       *string `json:"price,omitempty"`
	Category    *string `json:"category,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// AdjustStockRequest represents a manual stock mutation
type AdjustStockRequest struct {
	QuantityChange  int     `json:"quantity_change" binding:"required"`
	TransactionType string  `json:"transaction_type" binding:"required"`
	Notes           *string `json:"notes,omitempty"`
}

// CreateProduct inserts a new product with a unique SKU
func (s *ProductService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*models.Product, error) {
	if req.Name == "" || req.SKU == "" {
		return nil, fmt.Errorf("%w: name and sku are required", ErrValidation)
	}
	if req.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", ErrValidation)
	}
	if req.StockQuantity < 0 {
		return nil, fmt.Errorf("%w: stock_quantity must not be negative", ErrValidation)
	}

	existing, err := s.store.GetProductBySKU(ctx, req.SKU)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: product with SKU %s already exists", ErrConflict, req.SKU)
	}

	product := &models.Product{
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
		SKU:           req.SKU,
		Category:      req.Category,
		IsActive:      true,
	}
	if req.IsActive != nil {
		product.IsActive = *req.IsActive
	}

	if err := s.store.CreateProduct(ctx, product); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product with SKU %s already exists", ErrConflict, req.SKU)
		}
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created",
		zap.Int64("product_id", product.ID),
		zap.String("sku", product.SKU))
	return product, nil
}

// GetProduct retrieves a product by ID
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	product, err := s.store.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return product, nil
}

// ListProducts retrieves products, optionally filtered by active flag
func (s *ProductService) ListProducts(ctx context.Context, isActive *bool) ([]models.Product, error) {
	return s.store.ListProducts(ctx, isActive)
}

// UpdateProduct applies a partial update to a product
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, req *UpdateProductRequest) (*models.Product, error) {
	if _, err := s.GetProduct(ctx, id); err != nil {
		return nil, err
	}

	upd := store.ProductUpdate{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		IsActive:    req.IsActive,
	}
	if err := s.store.UpdateProduct(ctx, id, upd); err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return s.GetProduct(ctx, id)
}

// DeactivateProduct soft-deletes a product
func (s *ProductService) DeactivateProduct(ctx context.Context, id int64) error {
	if _, err := s.GetProduct(ctx, id); err != nil {
		return err
	}
	return s.store.DeactivateProduct(ctx, id)
}

// AdjustStock atomically mutates stock and appends a ledger row. Stock
// can never go negative.
func (s *ProductService) AdjustStock(ctx context.Context, productID int64, req *AdjustStockRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.AdjustStock")
	defer span.End()

	if req.TransactionType != models.TxTypePurchase && req.TransactionType != models.TxTypeAdjustment {
		return nil, fmt.Errorf("%w: transaction_type must be purchase or adjustment", ErrValidation)
	}
	if req.QuantityChange == 0 {
		return nil, fmt.Errorf("%w: quantity_change must not be zero", ErrValidation)
	}

	var updated models.Product
	err := s.store.WithTx(ctx, s.txTimeout, func(tx *sqlx.Tx) error {
		product, err := s.store.LockProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if product == nil {
			return fmt.Errorf("%w: product %d", ErrNotFound, productID)
		}

		newStock := product.StockQuantity + req.QuantityChange
		if newStock < 0 {
			return fmt.Errorf("%w: product %s has %d available, change %d",
				ErrInsufficientStock, product.Name, product.StockQuantity, req.QuantityChange)
		}

		if err := s.store.SetProductStock(ctx, tx, productID, newStock); err != nil {
			return fmt.Errorf("failed to update stock: %w", err)
		}

		ledger := models.InventoryTransaction{
			ProductID:       productID,
			TransactionType: req.TransactionType,
			QuantityChange:  req.QuantityChange,
			StockAfter:      newStock,
			Notes:           req.Notes,
		}
		if err := s.store.InsertInventoryTransaction(ctx, tx, &ledger); err != nil {
			return fmt.Errorf("failed to record inventory transaction: %w", err)
		}

		updated = *product
		updated.StockQuantity = newStock
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	util.StockAdjustmentsTotal.WithLabelValues(req.TransactionType).Inc()
	s.logger.Info("Stock adjusted",
		zap.Int64("product_id", productID),
		zap.Int("quantity_change", req.QuantityChange),
		zap.Int("stock_after", updated.StockQuantity))

	if s.eventPublisher != nil {
		event := &models.StockAdjustedEvent{
			BaseEvent:       newBaseEvent(models.EventTypeStockAdjusted),
			ProductID:       productID,
			TransactionType: req.TransactionType,
			QuantityChange:  req.QuantityChange,
			StockAfter:      updated.StockQuantity,
		}
		if err := s.eventPublisher.PublishStockAdjusted(ctx, event); err != nil {
			s.logger.Error("Failed to publish StockAdjusted event", zap.Error(err))
		}
	}

	return &updated, nil
}

// GetInventoryHistory returns the most recent ledger rows for a product
func (s *ProductService) GetInventoryHistory(ctx context.Context, productID int64) ([]models.InventoryTransaction, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.store.ListInventoryTransactions(ctx, productID)
}

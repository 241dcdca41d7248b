package service

import (
	"context"
	"fmt"

	"order-management/internal/models"
	"order-management/internal/store"
	"order-management/internal/util"

	"go.uber.org/zap"
)

// CustomerService handles the customer registry
type CustomerService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewCustomerService creates a new customer service
func NewCustomerService(store *store.Store) *CustomerService {
	return &CustomerService{store: store, logger: util.GetLogger()}
}

// CreateCustomerRequest represents a request to register a customer
type CreateCustomerRequest struct {
	Name    string  `json:"name" binding:"required"`
	Email   string  `json:"email" binding:"required,email"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
}

// CreateCustomer registers a customer with a unique email
func (s *CustomerService) CreateCustomer(ctx context.Context, req *CreateCustomerRequest) (*models.Customer, error) {
	if req.Name == "" || req.Email == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrValidation)
	}

	customer := &models.Customer{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Address: req.Address,
	}
	if err := s.store.CreateCustomer(ctx, customer); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: customer with email %s already exists", ErrConflict, req.Email)
		}
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	s.logger.Info("Customer created",
		zap.Int64("customer_id", customer.ID),
		zap.String("email", customer.Email))
	return customer, nil
}

// GetCustomer retrieves a customer by ID
func (s *CustomerService) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	customer, err := s.store.GetCustomerByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, fmt.Errorf("%w: customer %d", ErrNotFound, id)
	}
	return customer, nil
}

// ListCustomers retrieves a page of customers
func (s *CustomerService) ListCustomers(ctx context.Context, limit, offset int) ([]models.Customer, error) {
	return s.store.ListCustomers(ctx, limit, offset)
}

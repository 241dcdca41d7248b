package service

import "errors"

// Closed set of business errors. Callers branch with errors.Is instead
// of matching message strings.
var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAmountMismatch    = errors.New("amount mismatch")
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("invalid request")
	ErrTimeout           = errors.New("operation timed out")
	ErrUnavailable       = errors.New("store unavailable")
)

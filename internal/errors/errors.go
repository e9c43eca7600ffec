// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrQuoteUnavailable   = errors.New("quote unavailable")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotOpen       = errors.New("order is not open")
	ErrSymbolNotFound     = errors.New("symbol not found")
	ErrPositionNotFound   = errors.New("position not found")
	ErrHoldingNotFound    = errors.New("holding not found")
	ErrFundsNotFound      = errors.New("funds account not found")
	ErrDatabaseError      = errors.New("database error")
	ErrTimeout            = errors.New("operation timed out")
	ErrConfigInvalid      = errors.New("invalid configuration")
)

// ValidationError represents a malformed or inconsistent order request,
// refused before any margin action.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID string
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, symbol, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID: orderID,
		Symbol:  symbol,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// DriftError represents a reconciliation mismatch between the funds ledger
// and the sum of per-position blocked margin. It is non-fatal: callers log
// it and optionally auto-correct, they never crash on it.
type DriftError struct {
	UserID      string
	UsedMargin  float64
	PositionSum float64
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("reconciliation drift [%s]: used margin %.2f, position sum %.2f (drift %.2f)",
		e.UserID, e.UsedMargin, e.PositionSum, e.UsedMargin-e.PositionSum)
}

// Drift returns the signed difference between the ledger and position sum.
func (e *DriftError) Drift() float64 {
	return e.UsedMargin - e.PositionSum
}

// RejectionError is a structured, user-visible order rejection with an
// HTTP-equivalent status for the outer API layer.
type RejectionError struct {
	Status int
	Reason string
	Err    error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order rejected (%d): %s: %v", e.Status, e.Reason, e.Err)
	}
	return fmt.Sprintf("order rejected (%d): %s", e.Status, e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// NewRejectionError creates a new RejectionError.
func NewRejectionError(status int, reason string, err error) *RejectionError {
	return &RejectionError{Status: status, Reason: reason, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Package errors provides the error taxonomy used across a sync cycle.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	// ErrConfiguration marks an unusable account descriptor or config value.
	ErrConfiguration = errors.New("configuration error")
	// ErrAuthentication marks a session that could not be established.
	ErrAuthentication = errors.New("authentication failed")
	// ErrMarginUnavailable marks missing or non-positive margin data.
	ErrMarginUnavailable = errors.New("margin unavailable")
	// ErrQuoteUnavailable marks a trade abandoned for lack of a usable price.
	ErrQuoteUnavailable = errors.New("quote unavailable")
	// ErrOrderSubmission marks an order rejected at submission time.
	ErrOrderSubmission = errors.New("order submission failed")
	// ErrBaseUnresolvable is fatal for the whole cycle.
	ErrBaseUnresolvable = errors.New("base account unresolvable")
	ErrReadOnlyMode     = errors.New("operation blocked: read-only mode enabled")
	ErrOrderNotFound    = errors.New("order not found")
)

// AccountError ties a failure to the account and step it happened in.
type AccountError struct {
	AccountID string
	Op        string
	Err       error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account %s: %s: %v", e.AccountID, e.Op, e.Err)
}

func (e *AccountError) Unwrap() error {
	return e.Err
}

// NewAccountError creates a new AccountError.
func NewAccountError(accountID, op string, err error) *AccountError {
	return &AccountError{
		AccountID: accountID,
		Op:        op,
		Err:       err,
	}
}

// OrderError represents a failed chunk of an order batch. OrderIDs holds the
// chunks that were accepted before the failure.
type OrderError struct {
	Account  string
	Symbol   string
	Exchange string
	Side     string
	Quantity int
	Chunk    int
	OrderIDs []string
	Err      error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order error [%s] %s %d %s:%s (chunk %d, %d placed): %v",
		e.Account, e.Side, e.Quantity, e.Exchange, e.Symbol, e.Chunk, len(e.OrderIDs), e.Err)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(account, symbol, exchange, side string, quantity, chunk int, placed []string, err error) *OrderError {
	return &OrderError{
		Account:  account,
		Symbol:   symbol,
		Exchange: exchange,
		Side:     side,
		Quantity: quantity,
		Chunk:    chunk,
		OrderIDs: placed,
		Err:      err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfiguration
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
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

// New is errors.New, re-exported so callers need a single import.
func New(text string) error {
	return errors.New(text)
}

// Kind returns the short taxonomy name for err, used in reports and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrMarginUnavailable):
		return "margin_unavailable"
	case errors.Is(err, ErrQuoteUnavailable):
		return "quote_unavailable"
	case errors.Is(err, ErrReadOnlyMode):
		return "read_only"
	case errors.Is(err, ErrOrderSubmission):
		return "order_submission"
	case errors.Is(err, ErrBaseUnresolvable):
		return "base_unresolvable"
	default:
		return "unknown"
	}
}

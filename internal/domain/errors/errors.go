package errors

import (
	"errors"
	"fmt"
)

var (
	// Payment record errors
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrPaymentPending         = errors.New("order already has a pending payment")
	ErrDuplicateTransaction   = errors.New("transaction already recorded")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidCurrency        = errors.New("invalid currency")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrRefundExceedsAmount    = errors.New("refund amount exceeds payment amount")

	// Order errors
	ErrOrderNotFound = errors.New("order not found")

	// Gateway errors
	ErrUnsupportedGateway    = errors.New("unsupported gateway")
	ErrUnsupportedCurrency   = errors.New("currency not supported by gateway")
	ErrAmountBelowMinimum    = errors.New("amount below gateway minimum")
	ErrOperationNotSupported = errors.New("operation not supported by gateway")
	ErrProviderUnavailable   = errors.New("payment provider unavailable")
	ErrProviderRejected      = errors.New("payment rejected by provider")
	ErrGatewayMisconfigured  = errors.New("gateway misconfigured")

	// Webhook errors
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

package payment

import (
	"strings"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the standardized payment status every provider status maps into.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// transitions lists the only status changes a record may go through.
var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {StatusRefunded},
}

// ParseStatus converts a stored value into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return st, nil
	}
	return "", errors.NewValidationError("status", "unknown status "+s)
}

// IsTerminal reports whether the status only moves forward via completed -> refunded.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// CanTransition reports whether from -> to is an allowed transition.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Method identifies how a payment is collected.
type Method string

const (
	MethodGCash  Method = "gcash"
	MethodMaya   Method = "maya"
	MethodStripe Method = "stripe"
	MethodPayPal Method = "paypal"
	MethodCash   Method = "cash"
)

// ParseMethod is case-insensitive.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(s)); m {
	case MethodGCash, MethodMaya, MethodStripe, MethodPayPal, MethodCash:
		return m, nil
	}
	return "", errors.NewValidationError("method", "unknown payment method "+s)
}

// Record is the local representation of one payment attempt.
type Record struct {
	ID                    uuid.UUID
	OrderID               string
	Amount                decimal.Decimal
	Currency              string
	Method                Method
	ExternalTransactionID string
	Status                Status
	PaidAt                *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewRecord creates a record for a payment the provider has accepted.
// Providers that settle immediately may report completed at creation.
func NewRecord(orderID string, amount decimal.Decimal, currency string, method Method, txID string, status Status) (*Record, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.NewValidationError("order_id", "cannot be empty")
	}
	if err := ValidateAmount(amount, currency); err != nil {
		return nil, err
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(txID) == "" {
		return nil, errors.NewValidationError("external_transaction_id", "cannot be empty")
	}
	if status != StatusPending && status != StatusCompleted {
		return nil, errors.NewValidationError("status", "new payments must be pending or completed")
	}

	now := time.Now().UTC()
	r := &Record{
		ID:                    uuid.New(),
		OrderID:               orderID,
		Amount:                amount,
		Currency:              strings.ToUpper(currency),
		Method:                method,
		ExternalTransactionID: txID,
		Status:                status,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if status == StatusCompleted {
		r.PaidAt = &now
	}
	return r, nil
}

// Apply moves the record to target if the transition is allowed and reports
// whether anything changed. PaidAt is only ever set once: to settledAt when
// the provider reported one, otherwise to at.
func (r *Record) Apply(target Status, at time.Time, settledAt *time.Time) bool {
	if !CanTransition(r.Status, target) {
		return false
	}
	r.Status = target
	r.UpdatedAt = at
	if target == StatusCompleted && r.PaidAt == nil {
		paid := at
		if settledAt != nil {
			paid = *settledAt
		}
		r.PaidAt = &paid
	}
	return true
}

// ValidateRefund checks a refund request against the charged amount.
// A nil amount means a full refund.
func (r *Record) ValidateRefund(amount *decimal.Decimal) error {
	if r.Status != StatusCompleted {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot refund a payment in status "+string(r.Status),
			errors.ErrInvalidStateTransition,
		)
	}
	if amount == nil {
		return nil
	}
	if !amount.IsPositive() {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if amount.GreaterThan(r.Amount) {
		return errors.NewDomainError(
			"refund_exceeds_amount",
			"refund of "+amount.StringFixed(2)+" exceeds payment of "+r.Amount.StringFixed(2),
			errors.ErrRefundExceedsAmount,
		)
	}
	return nil
}

// IsFullRefund reports whether amount refunds the whole payment.
func (r *Record) IsFullRefund(amount *decimal.Decimal) bool {
	return amount == nil || amount.Equal(r.Amount)
}

// ValidateAmount checks a positive amount and a 3-letter currency code.
func ValidateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	if len(currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}

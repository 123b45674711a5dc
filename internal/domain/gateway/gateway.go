// Package gateway defines the contract every payment provider adapter
// implements and the normalized values that cross it.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// Gateway is implemented once per external payment provider. Operations that
// talk to the provider report failure through the result's Outcome and never
// return an error or panic.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreateRequest) CreateResult
	VerifyPayment(ctx context.Context, txID string) VerifyResult
	RefundPayment(ctx context.Context, txID string, req RefundRequest) RefundResult
	CancelPayment(ctx context.Context, txID string) CancelResult

	// VerifyWebhookSignature checks the signature over the exact raw body.
	// A missing secret always fails.
	VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) bool
	// ParseWebhook must only be called on verified payloads. Unrecognized
	// event names yield EventUnknown; only malformed bodies return an error.
	ParseWebhook(payload []byte) (WebhookEvent, error)

	SupportedCurrencies() []string
	SupportsCurrency(code string) bool
	MinimumAmount(code string) decimal.Decimal
	Name() string
}

// Capturer is implemented by gateways whose payments must be captured after
// the customer approves them.
type Capturer interface {
	CapturePayment(ctx context.Context, txID string) VerifyResult
}

// FailureKind classifies a failed outcome.
type FailureKind string

const (
	FailureNone           FailureKind = ""
	FailureTransient      FailureKind = "transient"
	FailureRejected       FailureKind = "rejected"
	FailureInvalidRequest FailureKind = "invalid_request"
	FailureConfiguration  FailureKind = "configuration"
)

// Outcome is embedded in every operation result.
type Outcome struct {
	Success bool
	Message string
	Failure FailureKind
}

// Succeeded builds a successful outcome.
func Succeeded(message string) Outcome {
	return Outcome{Success: true, Message: message}
}

// Failed builds a failed outcome.
func Failed(kind FailureKind, message string) Outcome {
	return Outcome{Success: false, Message: message, Failure: kind}
}

// Retryable reports whether repeating a read-only call may succeed.
func (o Outcome) Retryable() bool {
	return !o.Success && o.Failure == FailureTransient
}

type CreateRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	CustomerEmail  string
	CustomerName   string
	Description    string
	ReturnURL      string
	CancelURL      string
	IdempotencyKey string
}

type CreateResult struct {
	Outcome
	TransactionID string
	Status        payment.Status
	RedirectURL   string
	ClientSecret  string
}

type VerifyResult struct {
	Outcome
	TransactionID string
	Status        payment.Status
	Amount        decimal.Decimal
	Currency      string
	PaidAt        *time.Time
}

// RefundRequest refunds the full amount when Amount is nil.
type RefundRequest struct {
	Amount *decimal.Decimal
	Reason string
}

type RefundResult struct {
	Outcome
	RefundID      string
	TransactionID string
	Amount        decimal.Decimal
	Status        payment.Status
}

type CancelResult struct {
	Outcome
	TransactionID string
	Status        payment.Status
}

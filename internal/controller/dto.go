package controller

import (
	"time"

	"github.com/cassiomorais/paygate/internal/domain/gateway"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/service"
	"github.com/shopspring/decimal"
)

// --- Request DTOs ---
// Amounts travel as decimal strings. Controllers convert these to service
// inputs before calling business logic.

// CreatePaymentRequest starts a payment for an existing order.
type CreatePaymentRequest struct {
	OrderID       string `json:"order_id" validate:"required,max=64"`
	Method        string `json:"method,omitempty" validate:"omitempty,oneof=gcash maya stripe paypal"`
	CustomerEmail string `json:"customer_email,omitempty" validate:"omitempty,email"`
	CustomerName  string `json:"customer_name,omitempty" validate:"max=128"`
	Description   string `json:"description,omitempty" validate:"max=255"`
	ReturnURL     string `json:"return_url,omitempty" validate:"omitempty,url"`
	CancelURL     string `json:"cancel_url,omitempty" validate:"omitempty,url"`
}

// RefundRequest refunds the full amount when Amount is omitted.
type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason,omitempty" validate:"max=500"`
}

// --- Response DTOs ---

// PaymentResponse represents a payment record in API responses.
type PaymentResponse struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Method        string     `json:"method"`
	TransactionID string     `json:"transaction_id"`
	Status        string     `json:"status"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CreatePaymentResponse adds what the payer needs to finish the payment.
type CreatePaymentResponse struct {
	Payment      *PaymentResponse `json:"payment"`
	RedirectURL  string           `json:"redirect_url,omitempty"`
	ClientSecret string           `json:"client_secret,omitempty"`
}

type RefundResponse struct {
	Payment  *PaymentResponse `json:"payment"`
	RefundID string           `json:"refund_id"`
	Amount   string           `json:"amount"`
	Partial  bool             `json:"partial"`
	Pending  bool             `json:"pending"`
}

// EventResponse is one audit trail entry.
type EventResponse struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	Source     string         `json:"source"`
	FromStatus string         `json:"from_status,omitempty"`
	ToStatus   string         `json:"to_status,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type GatewayResponse struct {
	Name       string            `json:"name"`
	Default    bool              `json:"default"`
	Currencies []string          `json:"currencies"`
	Minimums   map[string]string `json:"minimum_amounts"`
}

// WebhookResponse acknowledges a delivery with how it was resolved.
type WebhookResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromRecord converts a payment record to its API response.
func FromRecord(r *payment.Record) *PaymentResponse {
	return &PaymentResponse{
		ID:            r.ID.String(),
		OrderID:       r.OrderID,
		Amount:        gateway.FormatAmount(r.Amount, r.Currency),
		Currency:      r.Currency,
		Method:        string(r.Method),
		TransactionID: r.ExternalTransactionID,
		Status:        string(r.Status),
		PaidAt:        r.PaidAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func FromEvent(e *payment.Event) *EventResponse {
	return &EventResponse{
		ID:         e.ID.String(),
		EventType:  e.EventType,
		Source:     e.Source,
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		Data:       e.EventData,
		CreatedAt:  e.CreatedAt,
	}
}

func FromGatewayInfo(info service.GatewayInfo) *GatewayResponse {
	minimums := make(map[string]string, len(info.Minimums))
	for code, amount := range info.Minimums {
		minimums[code] = gateway.FormatAmount(amount, code)
	}
	return &GatewayResponse{
		Name:       info.Name,
		Default:    info.Default,
		Currencies: info.Currencies,
		Minimums:   minimums,
	}
}

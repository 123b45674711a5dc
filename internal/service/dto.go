package service

import (
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// CreatePaymentInput starts a payment for an order. Amount and currency come
// from the order itself. An empty Method routes by the order's currency.
// Controllers convert their HTTP DTOs to this type.
type CreatePaymentInput struct {
	OrderID       string
	Method        string
	CustomerEmail string
	CustomerName  string
	Description   string
	ReturnURL     string
	CancelURL     string
}

// CreatePaymentOutput carries what the payer needs next: a redirect for
// wallet and checkout gateways, or a client secret for card payments.
type CreatePaymentOutput struct {
	Record       *payment.Record
	RedirectURL  string
	ClientSecret string
}

// RefundInput refunds the whole payment when Amount is nil.
type RefundInput struct {
	Amount *decimal.Decimal
	Reason string
}

type RefundOutput struct {
	Record   *payment.Record
	RefundID string
	Amount   decimal.Decimal
	Partial  bool
	// Pending is true when the provider accepted the refund but has not settled it.
	Pending bool
}

// GatewayInfo describes one configured gateway.
type GatewayInfo struct {
	Name       string
	Default    bool
	Currencies []string
	Minimums   map[string]decimal.Decimal
}

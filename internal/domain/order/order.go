package order

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the only order field this service writes.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// Order is the read-only view of an order needed to charge it.
type Order struct {
	ID            string
	TotalAmount   decimal.Decimal
	Currency      string
	PaymentStatus PaymentStatus
}

// Repository is the boundary to the order-processing system.
type Repository interface {
	Get(ctx context.Context, id string) (*Order, error)
	SetPaymentStatus(ctx context.Context, id string, status PaymentStatus) error
}

package testutil

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/gateway"
	"github.com/cassiomorais/paygate/internal/domain/order"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func NewTestOrder(id, amount, currency string) *order.Order {
	return &order.Order{
		ID:            id,
		TotalAmount:   decimal.RequireFromString(amount),
		Currency:      currency,
		PaymentStatus: order.PaymentStatusPending,
	}
}

func NewTestRecord(orderID, amount, currency string, method payment.Method, txID string, status payment.Status) *payment.Record {
	now := time.Now().UTC()
	r := &payment.Record{
		ID:                    uuid.New(),
		OrderID:               orderID,
		Amount:                decimal.RequireFromString(amount),
		Currency:              currency,
		Method:                method,
		ExternalTransactionID: txID,
		Status:                status,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if status == payment.StatusCompleted || status == payment.StatusRefunded {
		r.PaidAt = &now
	}
	return r
}

// TestWebhook is the body MockGateway understands.
type TestWebhook struct {
	Event         string `json:"event"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

// NewTestWebhook encodes a MockGateway webhook body.
func NewTestWebhook(event gateway.EventType, txID string) []byte {
	body, _ := json.Marshal(TestWebhook{Event: string(event), TransactionID: txID})
	return body
}

// SignedHeaders returns headers MockGateway accepts for secret.
func SignedHeaders(secret string) http.Header {
	h := http.Header{}
	h.Set("X-Test-Signature", secret)
	return h
}

// ParseTestWebhook decodes a TestWebhook. Unrecognized events map to
// EventUnknown.
func ParseTestWebhook(payload []byte) (gateway.WebhookEvent, error) {
	var w TestWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return gateway.WebhookEvent{}, err
	}
	ev := gateway.WebhookEvent{
		Type:          gateway.EventUnknown,
		TransactionID: w.TransactionID,
		Amount:        w.Amount,
		Currency:      w.Currency,
		Metadata:      map[string]string{"event_type": w.Event},
	}
	switch t := gateway.EventType(w.Event); t {
	case gateway.EventPaymentCompleted, gateway.EventPaymentFailed, gateway.EventPaymentCancelled, gateway.EventRefundCompleted:
		ev.Type = t
	}
	return ev, nil
}

package gcash

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/gateway"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways/httpx"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways/signature"
	"github.com/cassiomorais/paygate/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "gcash-webhook-secret"

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := New(Config{
		BaseURL:       srv.URL,
		SecretKey:     "sk_test",
		MerchantID:    "M-1",
		WebhookSecret: webhookSecret,
	}, httpx.NewHTTPClient(httpx.Options{Name: Name, Timeout: 5 * time.Second}),
		retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	return g
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{BaseURL: "https://example.com"}, http.DefaultClient, retry.Config{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestCreatePayment_Success(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "O1", body["reference_id"])
		assert.Equal(t, "M-1", body["merchant_id"])
		amount := body["amount"].(map[string]any)
		assert.Equal(t, float64(25000), amount["value"])
		assert.Equal(t, "PHP", amount["currency"])

		writeJSON(w, http.StatusCreated, map[string]any{
			"id":           "T1",
			"status":       "AWAITING_PAYMENT",
			"checkout_url": "https://checkout.gcash.test/T1",
		})
	})

	res := g.CreatePayment(context.Background(), gateway.CreateRequest{
		OrderID:        "O1",
		Amount:         decimal.RequireFromString("250.00"),
		Currency:       "PHP",
		CustomerEmail:  "buyer@example.com",
		IdempotencyKey: "idem-1",
	})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, "T1", res.TransactionID)
	assert.Equal(t, payment.StatusPending, res.Status)
	assert.Equal(t, "https://checkout.gcash.test/T1", res.RedirectURL)
	assert.Empty(t, res.ClientSecret)
}

func TestCreatePayment_RejectsUnsupportedCurrencyWithoutCallingProvider(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	res := g.CreatePayment(context.Background(), gateway.CreateRequest{
		OrderID:  "O1",
		Amount:   decimal.NewFromInt(10),
		Currency: "USD",
	})

	assert.False(t, res.Success)
	assert.Equal(t, gateway.FailureInvalidRequest, res.Failure)
	assert.Zero(t, calls.Load())
}

func TestCreatePayment_ProviderRejection(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": map[string]string{"code": "merchant_inactive", "message": "Merchant account is inactive"},
		})
	})

	res := g.CreatePayment(context.Background(), gateway.CreateRequest{OrderID: "O1", Amount: decimal.NewFromInt(10), Currency: "PHP"})

	assert.False(t, res.Success)
	assert.Equal(t, gateway.FailureRejected, res.Failure)
	assert.Equal(t, "Merchant account is inactive", res.Message)
}

func TestCreatePayment_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	res := g.CreatePayment(context.Background(), gateway.CreateRequest{OrderID: "O1", Amount: decimal.NewFromInt(10), Currency: "PHP"})

	assert.False(t, res.Success)
	assert.Equal(t, gateway.FailureTransient, res.Failure)
	assert.Equal(t, int32(1), calls.Load())
}

func TestVerifyPayment_Completed(t *testing.T) {
	paidAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payments/T1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      "T1",
			"status":  "SUCCESS",
			"amount":  map[string]any{"value": 25000, "currency": "php"},
			"paid_at": paidAt,
		})
	})

	res := g.VerifyPayment(context.Background(), "T1")

	require.True(t, res.Success)
	assert.Equal(t, payment.StatusCompleted, res.Status)
	assert.Equal(t, "250.00", res.Amount.StringFixed(2))
	assert.Equal(t, "PHP", res.Currency)
	require.NotNil(t, res.PaidAt)
	assert.True(t, paidAt.Equal(*res.PaidAt))
}

func TestVerifyPayment_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "T1", "status": "PENDING"})
	})

	res := g.VerifyPayment(context.Background(), "T1")

	require.True(t, res.Success)
	assert.Equal(t, payment.StatusPending, res.Status)
	assert.Nil(t, res.PaidAt)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefundPayment_AmountAboveOriginalIsRejected(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/T1/refunds", r.URL.Path)
		var body refundRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if assert.NotNil(t, body.Amount) {
			assert.Equal(t, int64(30000), body.Amount.Value)
		}

		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"code": "refund_exceeds_amount", "message": "Refund amount exceeds captured amount"},
		})
	})

	amount := decimal.RequireFromString("300.00")
	res := g.RefundPayment(context.Background(), "T1", gateway.RefundRequest{Amount: &amount})

	assert.False(t, res.Success)
	assert.Equal(t, gateway.FailureRejected, res.Failure)
	assert.Equal(t, "Refund amount exceeds captured amount", res.Message)
}

func TestRefundPayment_FullRefundOmitsAmount(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		assert.NotContains(t, string(raw), "amount")
		assert.Contains(t, string(raw), "duplicate order")
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "R1", "payment_id": "T1", "status": "SUCCESS",
			"amount": map[string]any{"value": 25000, "currency": "PHP"},
		})
	})

	res := g.RefundPayment(context.Background(), "T1", gateway.RefundRequest{Reason: "duplicate order"})

	require.True(t, res.Success)
	assert.Equal(t, "R1", res.RefundID)
	assert.Equal(t, payment.StatusRefunded, res.Status)
	assert.Equal(t, "250", res.Amount.String())
}

func TestCancelPayment(t *testing.T) {
	tests := []struct {
		name        string
		native      string
		wantSuccess bool
		wantStatus  payment.Status
	}{
		{"pending payment is cancelled", "CANCELLED", true, payment.StatusCancelled},
		{"already completed fails", "SUCCESS", false, payment.StatusCompleted},
		{"already refunded fails", "REFUNDED", false, payment.StatusRefunded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/payments/T1/cancel", r.URL.Path)
				writeJSON(w, http.StatusOK, map[string]any{"id": "T1", "status": tt.native})
			})

			res := g.CancelPayment(context.Background(), "T1")
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, tt.wantStatus, res.Status)
		})
	}
}

func TestCancelPayment_ProviderConflict(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": map[string]string{"code": "payment_completed", "message": "Payment already completed"},
		})
	})

	res := g.CancelPayment(context.Background(), "T1")
	assert.False(t, res.Success)
	assert.Equal(t, "Payment already completed", res.Message)
}

func TestVerifyWebhookSignature(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	payload := []byte(`{"event":"payment.success","data":{"id":"T1"}}`)

	valid := http.Header{}
	valid.Set(SignatureHeader, signature.SignHMACSHA256Hex(webhookSecret, payload))
	assert.True(t, g.VerifyWebhookSignature(context.Background(), payload, valid))

	wrong := http.Header{}
	wrong.Set(SignatureHeader, signature.SignHMACSHA256Hex("wrong-secret", payload))
	assert.False(t, g.VerifyWebhookSignature(context.Background(), payload, wrong))

	assert.False(t, g.VerifyWebhookSignature(context.Background(), payload, http.Header{}))
}

func TestVerifyWebhookSignature_MissingSecretFailsClosed(t *testing.T) {
	g, err := New(Config{BaseURL: "https://example.com", SecretKey: "sk"}, http.DefaultClient, retry.Config{}, zerolog.Nop())
	require.NoError(t, err)

	payload := []byte(`{}`)
	h := http.Header{}
	h.Set(SignatureHeader, signature.SignHMACSHA256Hex("", payload))
	assert.False(t, g.VerifyWebhookSignature(context.Background(), payload, h))
}

func TestParseWebhook(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		name   string
		body   string
		want   gateway.EventType
		wantTx string
	}{
		{"success", `{"event":"payment.success","data":{"id":"T1","status":"SUCCESS","amount":{"value":25000,"currency":"PHP"}}}`, gateway.EventPaymentCompleted, "T1"},
		{"expired", `{"event":"payment.expired","data":{"id":"T1"}}`, gateway.EventPaymentFailed, "T1"},
		{"cancelled", `{"event":"payment.cancelled","data":{"id":"T1"}}`, gateway.EventPaymentCancelled, "T1"},
		{"full refund uses payment id", `{"event":"refund.success","data":{"id":"R1","payment_id":"T1","status":"REFUNDED"}}`, gateway.EventRefundCompleted, "T1"},
		{"partial refund keeps payment captured", `{"event":"refund.success","data":{"id":"R1","payment_id":"T1","status":"PARTIALLY_REFUNDED","amount":{"value":10000,"currency":"PHP"}}}`, gateway.EventUnknown, "T1"},
		{"refund without payment status needs a poll", `{"event":"refund.completed","data":{"id":"R1","payment_id":"T1"}}`, gateway.EventRefundReported, "T1"},
		{"unknown event", `{"event":"customer.updated","data":{"id":"C1"}}`, gateway.EventUnknown, "C1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := g.ParseWebhook([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Type)
			assert.Equal(t, tt.wantTx, ev.TransactionID)
			assert.NotEmpty(t, ev.Metadata[gateway.MetadataEventType])
		})
	}

	_, err := g.ParseWebhook([]byte(`{not json`))
	assert.Error(t, err)
}

func TestStatusMapIsTotal(t *testing.T) {
	for native, want := range statusMap {
		assert.Equal(t, want, mapStatus(native), native)
	}
	assert.Equal(t, payment.StatusCompleted, mapStatus("success"))
	assert.Equal(t, payment.StatusPending, mapStatus("SOMETHING_NEW"))
	assert.Equal(t, payment.StatusPending, mapStatus(""))
}

func TestCapabilities(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.Equal(t, "gcash", g.Name())
	assert.Equal(t, []string{"PHP"}, g.SupportedCurrencies())
	assert.True(t, g.SupportsCurrency("php"))
	assert.False(t, g.SupportsCurrency("USD"))
	assert.Equal(t, "1.00", g.MinimumAmount("PHP").StringFixed(2))
}

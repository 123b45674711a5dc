// Package gcash adapts the GCash wallet REST API: bearer auth, redirect
// checkout, hex HMAC-SHA256 webhook signatures.
package gcash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/gateway"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways/httpx"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways/signature"
	"github.com/cassiomorais/paygate/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	Name            = "gcash"
	SignatureHeader = "X-GCash-Signature"
)

var currencies = gateway.NewCurrencySet([]string{"PHP"}, decimal.RequireFromString("1.00"), nil)

// statusMap translates GCash payment states. Anything missing is pending.
var statusMap = map[string]payment.Status{
	"PENDING":            payment.StatusPending,
	"AWAITING_PAYMENT":   payment.StatusPending,
	"PROCESSING":         payment.StatusPending,
	"AUTHORIZED":         payment.StatusPending,
	"SUCCESS":            payment.StatusCompleted,
	"PAID":               payment.StatusCompleted,
	"COMPLETED":          payment.StatusCompleted,
	"PARTIALLY_REFUNDED": payment.StatusCompleted,
	"FAILED":             payment.StatusFailed,
	"DECLINED":           payment.StatusFailed,
	"EXPIRED":            payment.StatusFailed,
	"CANCELLED":          payment.StatusCancelled,
	"VOIDED":             payment.StatusCancelled,
	"REFUNDED":           payment.StatusRefunded,
	"FULLY_REFUNDED":     payment.StatusRefunded,
}

var eventMap = map[string]gateway.EventType{
	"payment.success":   gateway.EventPaymentCompleted,
	"payment.paid":      gateway.EventPaymentCompleted,
	"payment.failed":    gateway.EventPaymentFailed,
	"payment.expired":   gateway.EventPaymentFailed,
	"payment.cancelled": gateway.EventPaymentCancelled,
	"refund.success":    gateway.EventRefundCompleted,
	"refund.completed":  gateway.EventRefundCompleted,
}

func mapStatus(native string) payment.Status {
	if s, ok := statusMap[strings.ToUpper(native)]; ok {
		return s
	}
	return payment.StatusPending
}

type Config struct {
	BaseURL       string
	SecretKey     string
	MerchantID    string
	WebhookSecret string
}

// Gateway is safe for concurrent use.
type Gateway struct {
	client        *httpx.Client
	merchantID    string
	webhookSecret string
	logger        zerolog.Logger
}

func New(cfg Config, httpClient *http.Client, readRetry retry.Config, logger zerolog.Logger) (*Gateway, error) {
	if cfg.BaseURL == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("gcash: base url and secret key are required")
	}
	auth := func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+cfg.SecretKey)
	}
	return &Gateway{
		client:        httpx.NewClient(cfg.BaseURL, httpClient, auth, readRetry, logger),
		merchantID:    cfg.MerchantID,
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}, nil
}

type money struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

func (m money) decimal() decimal.Decimal {
	return gateway.FromMinorUnits(m.Value, m.Currency)
}

type createPaymentRequest struct {
	MerchantID   string       `json:"merchant_id,omitempty"`
	Amount       money        `json:"amount"`
	ReferenceID  string       `json:"reference_id"`
	Description  string       `json:"description,omitempty"`
	Customer     *customer    `json:"customer,omitempty"`
	RedirectURLs redirectURLs `json:"redirect_urls"`
}

type customer struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type redirectURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Cancel  string `json:"cancel,omitempty"`
}

type paymentResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	CheckoutURL string     `json:"checkout_url"`
	Amount      money      `json:"amount"`
	PaidAt      *time.Time `json:"paid_at"`
}

type refundRequest struct {
	Amount *money `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type refundResponse struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Amount    money  `json:"amount"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *Gateway) CreatePayment(ctx context.Context, req gateway.CreateRequest) gateway.CreateResult {
	if out, ok := currencies.CheckCreate(req); !ok {
		return gateway.CreateResult{Outcome: out}
	}

	body := createPaymentRequest{
		MerchantID:  g.merchantID,
		Amount:      money{Value: gateway.ToMinorUnits(req.Amount, req.Currency), Currency: gateway.NormalizeCurrency(req.Currency)},
		ReferenceID: req.OrderID,
		Description: req.Description,
		RedirectURLs: redirectURLs{
			Success: req.ReturnURL,
			Failure: req.CancelURL,
			Cancel:  req.CancelURL,
		},
	}
	if req.CustomerEmail != "" || req.CustomerName != "" {
		body.Customer = &customer{Email: req.CustomerEmail, Name: req.CustomerName}
	}
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}

	var resp paymentResponse
	if err := g.client.Post(ctx, "/v1/payments", body, headers, &resp); err != nil {
		return gateway.CreateResult{Outcome: g.failure("create payment", err)}
	}
	if resp.ID == "" {
		return gateway.CreateResult{Outcome: gateway.Failed(gateway.FailureRejected, "gcash returned no payment id")}
	}

	status := mapStatus(resp.Status)
	if status != payment.StatusCompleted {
		status = payment.StatusPending
	}
	return gateway.CreateResult{
		Outcome:       gateway.Succeeded("payment created"),
		TransactionID: resp.ID,
		Status:        status,
		RedirectURL:   resp.CheckoutURL,
	}
}

func (g *Gateway) VerifyPayment(ctx context.Context, txID string) gateway.VerifyResult {
	var resp paymentResponse
	if err := g.client.Get(ctx, "/v1/payments/"+url.PathEscape(txID), &resp); err != nil {
		return gateway.VerifyResult{Outcome: g.failure("verify payment", err), TransactionID: txID}
	}

	result := gateway.VerifyResult{
		Outcome:       gateway.Succeeded(strings.ToLower(resp.Status)),
		TransactionID: txID,
		Status:        mapStatus(resp.Status),
		Amount:        resp.Amount.decimal(),
		Currency:      gateway.NormalizeCurrency(resp.Amount.Currency),
	}
	if result.Status == payment.StatusCompleted || result.Status == payment.StatusRefunded {
		result.PaidAt = resp.PaidAt
	}
	return result
}

func (g *Gateway) RefundPayment(ctx context.Context, txID string, req gateway.RefundRequest) gateway.RefundResult {
	body := refundRequest{Reason: req.Reason}
	if req.Amount != nil {
		body.Amount = &money{Value: gateway.ToMinorUnits(*req.Amount, "PHP"), Currency: "PHP"}
	}

	var resp refundResponse
	if err := g.client.Post(ctx, "/v1/payments/"+url.PathEscape(txID)+"/refunds", body, nil, &resp); err != nil {
		return gateway.RefundResult{Outcome: g.failure("refund payment", err), TransactionID: txID}
	}

	status := payment.StatusRefunded
	switch strings.ToUpper(resp.Status) {
	case "FAILED", "DECLINED":
		return gateway.RefundResult{
			Outcome:       gateway.Failed(gateway.FailureRejected, "gcash declined the refund"),
			RefundID:      resp.ID,
			TransactionID: txID,
		}
	case "PENDING", "PROCESSING":
		status = payment.StatusPending
	}
	return gateway.RefundResult{
		Outcome:       gateway.Succeeded("refund " + strings.ToLower(resp.Status)),
		RefundID:      resp.ID,
		TransactionID: txID,
		Amount:        resp.Amount.decimal(),
		Status:        status,
	}
}

func (g *Gateway) CancelPayment(ctx context.Context, txID string) gateway.CancelResult {
	var resp paymentResponse
	if err := g.client.Post(ctx, "/v1/payments/"+url.PathEscape(txID)+"/cancel", struct{}{}, nil, &resp); err != nil {
		return gateway.CancelResult{Outcome: g.failure("cancel payment", err), TransactionID: txID}
	}

	status := mapStatus(resp.Status)
	if status != payment.StatusCancelled {
		return gateway.CancelResult{
			Outcome:       gateway.Failed(gateway.FailureRejected, "payment is "+string(status)+" and cannot be cancelled"),
			TransactionID: txID,
			Status:        status,
		}
	}
	return gateway.CancelResult{
		Outcome:       gateway.Succeeded("payment cancelled"),
		TransactionID: txID,
		Status:        payment.StatusCancelled,
	}
}

func (g *Gateway) VerifyWebhookSignature(_ context.Context, payload []byte, headers http.Header) bool {
	return signature.VerifyHMACSHA256Hex(g.webhookSecret, payload, headers.Get(SignatureHeader))
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID          string `json:"id"`
		PaymentID   string `json:"payment_id"`
		Status      string `json:"status"`
		ReferenceID string `json:"reference_id"`
		Amount      money  `json:"amount"`
	} `json:"data"`
}

func (g *Gateway) ParseWebhook(payload []byte) (gateway.WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return gateway.WebhookEvent{}, fmt.Errorf("gcash: malformed webhook: %w", err)
	}

	eventType, ok := eventMap[strings.ToLower(p.Event)]
	if !ok {
		eventType = gateway.EventUnknown
	}
	if eventType == gateway.EventRefundCompleted {
		eventType = refundEvent(p.Data.Status)
	}
	txID := p.Data.ID
	if p.Data.PaymentID != "" {
		txID = p.Data.PaymentID
	}

	return gateway.WebhookEvent{
		Type:          eventType,
		TransactionID: txID,
		Amount:        gateway.FormatAmount(p.Data.Amount.decimal(), p.Data.Amount.Currency),
		Currency:      gateway.NormalizeCurrency(p.Data.Amount.Currency),
		Metadata: map[string]string{
			gateway.MetadataEventType: p.Event,
			"status":                  p.Data.Status,
			"reference_id":            p.Data.ReferenceID,
		},
	}, nil
}

// refundEvent resolves a refund notification from the payment status it
// carries. Only a fully refunded payment completes the refund; a partial one
// leaves the payment captured, and a missing status has to be polled.
func refundEvent(paymentStatus string) gateway.EventType {
	if paymentStatus == "" {
		return gateway.EventRefundReported
	}
	if mapStatus(paymentStatus) == payment.StatusRefunded {
		return gateway.EventRefundCompleted
	}
	return gateway.EventUnknown
}

func (g *Gateway) SupportedCurrencies() []string             { return currencies.Codes() }
func (g *Gateway) SupportsCurrency(code string) bool         { return currencies.Supports(code) }
func (g *Gateway) MinimumAmount(code string) decimal.Decimal { return currencies.Minimum(code) }
func (g *Gateway) Name() string                              { return Name }

// failure turns a client error into an outcome carrying the provider's message.
func (g *Gateway) failure(op string, err error) gateway.Outcome {
	kind := httpx.Classify(err)
	message := "gcash " + op + " failed"

	var statusErr *httpx.StatusError
	if errors.As(err, &statusErr) {
		var body errorResponse
		if json.Unmarshal(statusErr.Body, &body) == nil && body.Error.Message != "" {
			message = body.Error.Message
		}
	}
	g.logger.Warn().Err(err).Str("operation", op).Str("failure", string(kind)).Msg("GCash request failed")
	return gateway.Failed(kind, message)
}

// Package maya adapts the Maya (PayMaya) checkout and payments APIs.
package maya

import (
	"context"
	"encoding/base64"
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
	Name            = "maya"
	SignatureHeader = "X-Maya-Signature"
)

var currencies = gateway.NewCurrencySet([]string{"PHP"}, decimal.RequireFromString("1.00"), nil)

var statusMap = map[string]payment.Status{
	"PENDING_TOKEN":      payment.StatusPending,
	"PENDING_PAYMENT":    payment.StatusPending,
	"FOR_AUTHENTICATION": payment.StatusPending,
	"AUTHENTICATING":     payment.StatusPending,
	"AUTH_SUCCESS":       payment.StatusPending,
	"PAYMENT_PROCESSING": payment.StatusPending,
	"AUTHORIZED":         payment.StatusPending,
	"PAYMENT_SUCCESS":    payment.StatusCompleted,
	"CAPTURED":           payment.StatusCompleted,
	"PARTIALLY_REFUNDED": payment.StatusCompleted,
	"AUTH_FAILED":        payment.StatusFailed,
	"PAYMENT_FAILED":     payment.StatusFailed,
	"PAYMENT_EXPIRED":    payment.StatusFailed,
	"PAYMENT_CANCELLED":  payment.StatusCancelled,
	"VOIDED":             payment.StatusCancelled,
	"REFUNDED":           payment.StatusRefunded,
}

// Maya posts the payment object itself; the event is implied by its status.
var webhookStatusEvents = map[string]gateway.EventType{
	"PAYMENT_SUCCESS":   gateway.EventPaymentCompleted,
	"PAYMENT_FAILED":    gateway.EventPaymentFailed,
	"PAYMENT_EXPIRED":   gateway.EventPaymentFailed,
	"AUTH_FAILED":       gateway.EventPaymentFailed,
	"PAYMENT_CANCELLED": gateway.EventPaymentCancelled,
	"VOIDED":            gateway.EventPaymentCancelled,
	"REFUNDED":          gateway.EventRefundCompleted,
}

func mapStatus(native string) payment.Status {
	if s, ok := statusMap[strings.ToUpper(native)]; ok {
		return s
	}
	return payment.StatusPending
}

type Config struct {
	BaseURL       string
	PublicKey     string
	SecretKey     string
	WebhookSecret string
}

// Gateway uses the public key for checkout creation and the secret key for
// the payments API.
type Gateway struct {
	checkout      *httpx.Client
	payments      *httpx.Client
	webhookSecret string
	logger        zerolog.Logger
}

func New(cfg Config, httpClient *http.Client, readRetry retry.Config, logger zerolog.Logger) (*Gateway, error) {
	if cfg.BaseURL == "" || cfg.PublicKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("maya: base url, public key and secret key are required")
	}
	return &Gateway{
		checkout:      httpx.NewClient(cfg.BaseURL, httpClient, basicAuth(cfg.PublicKey), readRetry, logger),
		payments:      httpx.NewClient(cfg.BaseURL, httpClient, basicAuth(cfg.SecretKey), readRetry, logger),
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}, nil
}

func basicAuth(key string) func(*http.Request) {
	token := base64.StdEncoding.EncodeToString([]byte(key + ":"))
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Basic "+token)
	}
}

type totalAmount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

type checkoutRequest struct {
	TotalAmount            totalAmount       `json:"totalAmount"`
	Buyer                  *buyer            `json:"buyer,omitempty"`
	RedirectURL            redirectURL       `json:"redirectUrl"`
	RequestReferenceNumber string            `json:"requestReferenceNumber"`
	Metadata               map[string]string `json:"metadata,omitempty"`
}

type buyer struct {
	FirstName string  `json:"firstName,omitempty"`
	Contact   contact `json:"contact"`
}

type contact struct {
	Email string `json:"email,omitempty"`
}

type redirectURL struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Cancel  string `json:"cancel,omitempty"`
}

type checkoutResponse struct {
	CheckoutID  string `json:"checkoutId"`
	RedirectURL string `json:"redirectUrl"`
}

type paymentResponse struct {
	ID                     string          `json:"id"`
	Status                 string          `json:"status"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	RequestReferenceNumber string          `json:"requestReferenceNumber"`
	PaymentAt              *time.Time      `json:"paymentAt"`
}

type refundRequest struct {
	TotalAmount refundAmount `json:"totalAmount"`
	Reason      string       `json:"reason"`
}

type refundAmount struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type refundResponse struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	TotalAmount refundAmount `json:"totalAmount"`
}

type voidRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (g *Gateway) CreatePayment(ctx context.Context, req gateway.CreateRequest) gateway.CreateResult {
	if out, ok := currencies.CheckCreate(req); !ok {
		return gateway.CreateResult{Outcome: out}
	}

	body := checkoutRequest{
		TotalAmount:            totalAmount{Value: req.Amount.Round(2), Currency: gateway.NormalizeCurrency(req.Currency)},
		RequestReferenceNumber: req.OrderID,
		RedirectURL: redirectURL{
			Success: req.ReturnURL,
			Failure: req.CancelURL,
			Cancel:  req.CancelURL,
		},
	}
	if req.Description != "" {
		body.Metadata = map[string]string{"description": req.Description}
	}
	if req.CustomerEmail != "" || req.CustomerName != "" {
		body.Buyer = &buyer{FirstName: req.CustomerName, Contact: contact{Email: req.CustomerEmail}}
	}
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Request-Reference-Number"] = req.IdempotencyKey
	}

	var resp checkoutResponse
	if err := g.checkout.Post(ctx, "/checkout/v1/checkouts", body, headers, &resp); err != nil {
		return gateway.CreateResult{Outcome: g.failure("create checkout", err)}
	}
	if resp.CheckoutID == "" {
		return gateway.CreateResult{Outcome: gateway.Failed(gateway.FailureRejected, "maya returned no checkout id")}
	}

	return gateway.CreateResult{
		Outcome:       gateway.Succeeded("checkout created"),
		TransactionID: resp.CheckoutID,
		Status:        payment.StatusPending,
		RedirectURL:   resp.RedirectURL,
	}
}

func (g *Gateway) VerifyPayment(ctx context.Context, txID string) gateway.VerifyResult {
	resp, err := g.fetch(ctx, txID)
	if err != nil {
		return gateway.VerifyResult{Outcome: g.failure("get payment", err), TransactionID: txID}
	}

	result := gateway.VerifyResult{
		Outcome:       gateway.Succeeded(strings.ToLower(resp.Status)),
		TransactionID: txID,
		Status:        mapStatus(resp.Status),
		Amount:        resp.Amount,
		Currency:      gateway.NormalizeCurrency(resp.Currency),
	}
	if result.Status == payment.StatusCompleted || result.Status == payment.StatusRefunded {
		result.PaidAt = resp.PaymentAt
	}
	return result
}

func (g *Gateway) fetch(ctx context.Context, txID string) (*paymentResponse, error) {
	var resp paymentResponse
	if err := g.payments.Get(ctx, "/payments/v1/payments/"+url.PathEscape(txID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefundPayment needs an explicit amount; a full refund first reads the
// captured amount.
func (g *Gateway) RefundPayment(ctx context.Context, txID string, req gateway.RefundRequest) gateway.RefundResult {
	body := refundRequest{Reason: req.Reason}
	if body.Reason == "" {
		body.Reason = "requested by merchant"
	}

	if req.Amount != nil {
		body.TotalAmount = refundAmount{Amount: req.Amount.Round(2), Currency: "PHP"}
	} else {
		current, err := g.fetch(ctx, txID)
		if err != nil {
			return gateway.RefundResult{Outcome: g.failure("get payment", err), TransactionID: txID}
		}
		body.TotalAmount = refundAmount{Amount: current.Amount, Currency: gateway.NormalizeCurrency(current.Currency)}
	}

	var resp refundResponse
	if err := g.payments.Post(ctx, "/payments/v1/payments/"+url.PathEscape(txID)+"/refunds", body, nil, &resp); err != nil {
		return gateway.RefundResult{Outcome: g.failure("refund payment", err), TransactionID: txID}
	}

	switch strings.ToUpper(resp.Status) {
	case "FAILED", "REFUND_FAILED":
		return gateway.RefundResult{
			Outcome:       gateway.Failed(gateway.FailureRejected, "maya declined the refund"),
			RefundID:      resp.ID,
			TransactionID: txID,
		}
	case "PENDING", "REFUND_PENDING":
		return gateway.RefundResult{
			Outcome:       gateway.Succeeded("refund pending"),
			RefundID:      resp.ID,
			TransactionID: txID,
			Amount:        resp.TotalAmount.Amount,
			Status:        payment.StatusPending,
		}
	}
	return gateway.RefundResult{
		Outcome:       gateway.Succeeded("refund " + strings.ToLower(resp.Status)),
		RefundID:      resp.ID,
		TransactionID: txID,
		Amount:        resp.TotalAmount.Amount,
		Status:        payment.StatusRefunded,
	}
}

// CancelPayment voids a payment that has not been settled. Maya rejects voids
// of settled payments; the status check makes that explicit before calling.
func (g *Gateway) CancelPayment(ctx context.Context, txID string) gateway.CancelResult {
	current, err := g.fetch(ctx, txID)
	if err != nil {
		return gateway.CancelResult{Outcome: g.failure("get payment", err), TransactionID: txID}
	}

	switch status := mapStatus(current.Status); status {
	case payment.StatusCancelled:
		return gateway.CancelResult{Outcome: gateway.Succeeded("payment already cancelled"), TransactionID: txID, Status: status}
	case payment.StatusPending:
	default:
		return gateway.CancelResult{
			Outcome:       gateway.Failed(gateway.FailureRejected, "payment is "+string(status)+" and cannot be cancelled"),
			TransactionID: txID,
			Status:        status,
		}
	}

	var resp paymentResponse
	if err := g.payments.Post(ctx, "/payments/v1/payments/"+url.PathEscape(txID)+"/voids", voidRequest{Reason: "cancelled by merchant"}, nil, &resp); err != nil {
		return gateway.CancelResult{Outcome: g.failure("void payment", err), TransactionID: txID}
	}
	if status := mapStatus(resp.Status); status != payment.StatusCancelled {
		return gateway.CancelResult{
			Outcome:       gateway.Failed(gateway.FailureRejected, "void returned status "+string(status)),
			TransactionID: txID,
			Status:        status,
		}
	}
	return gateway.CancelResult{Outcome: gateway.Succeeded("payment voided"), TransactionID: txID, Status: payment.StatusCancelled}
}

func (g *Gateway) VerifyWebhookSignature(_ context.Context, payload []byte, headers http.Header) bool {
	return signature.VerifyHMACSHA256Hex(g.webhookSecret, payload, headers.Get(SignatureHeader))
}

func (g *Gateway) ParseWebhook(payload []byte) (gateway.WebhookEvent, error) {
	var p paymentResponse
	if err := json.Unmarshal(payload, &p); err != nil {
		return gateway.WebhookEvent{}, fmt.Errorf("maya: malformed webhook: %w", err)
	}

	eventType, ok := webhookStatusEvents[strings.ToUpper(p.Status)]
	if !ok {
		eventType = gateway.EventUnknown
	}
	return gateway.WebhookEvent{
		Type:          eventType,
		TransactionID: p.ID,
		Amount:        gateway.FormatAmount(p.Amount, p.Currency),
		Currency:      gateway.NormalizeCurrency(p.Currency),
		Metadata: map[string]string{
			gateway.MetadataEventType:  p.Status,
			"status":                   p.Status,
			"request_reference_number": p.RequestReferenceNumber,
		},
	}, nil
}

func (g *Gateway) SupportedCurrencies() []string             { return currencies.Codes() }
func (g *Gateway) SupportsCurrency(code string) bool         { return currencies.Supports(code) }
func (g *Gateway) MinimumAmount(code string) decimal.Decimal { return currencies.Minimum(code) }
func (g *Gateway) Name() string                              { return Name }

func (g *Gateway) failure(op string, err error) gateway.Outcome {
	kind := httpx.Classify(err)
	message := "maya " + op + " failed"

	var statusErr *httpx.StatusError
	if errors.As(err, &statusErr) {
		var body errorResponse
		if json.Unmarshal(statusErr.Body, &body) == nil && body.Message != "" {
			message = body.Message
		}
	}
	g.logger.Warn().Err(err).Str("operation", op).Str("failure", string(kind)).Msg("Maya request failed")
	return gateway.Failed(kind, message)
}

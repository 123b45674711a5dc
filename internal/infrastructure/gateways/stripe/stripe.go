// Package stripe adapts Stripe payment intents. Payments are confirmed
// client-side with the returned client secret.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/gateway"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways/httpx"
	"github.com/cassiomorais/paygate/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

const (
	Name            = "stripe"
	SignatureHeader = "Stripe-Signature"
)

var currencies = gateway.NewCurrencySet(
	[]string{"USD", "EUR", "GBP", "PHP", "SGD", "AUD", "CAD", "JPY"},
	decimal.RequireFromString("0.50"),
	map[string]decimal.Decimal{
		"PHP": decimal.RequireFromString("20.00"),
		"JPY": decimal.NewFromInt(50),
	},
)

var statusMap = map[string]payment.Status{
	"requires_payment_method": payment.StatusPending,
	"requires_confirmation":   payment.StatusPending,
	"requires_action":         payment.StatusPending,
	"processing":              payment.StatusPending,
	"requires_capture":        payment.StatusPending,
	"succeeded":               payment.StatusCompleted,
	"canceled":                payment.StatusCancelled,
}

var eventMap = map[string]gateway.EventType{
	"payment_intent.succeeded":      gateway.EventPaymentCompleted,
	"payment_intent.payment_failed": gateway.EventPaymentFailed,
	"payment_intent.canceled":       gateway.EventPaymentCancelled,
	"charge.refunded":               gateway.EventRefundCompleted,
}

func mapStatus(native string) payment.Status {
	if s, ok := statusMap[strings.ToLower(native)]; ok {
		return s
	}
	return payment.StatusPending
}

type Config struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
}

type Gateway struct {
	api           *client.API
	webhookSecret string
	readRetry     retry.Config
	logger        zerolog.Logger
}

func New(cfg Config, httpClient *http.Client, readRetry retry.Config, logger zerolog.Logger) (*Gateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe: secret key is required")
	}

	backendCfg := &stripeapi.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
		MaxNetworkRetries: stripeapi.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripeapi.String(strings.TrimRight(cfg.BaseURL, "/"))
	}
	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg)

	return &Gateway{
		api: client.New(cfg.SecretKey, &stripeapi.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		}),
		webhookSecret: cfg.WebhookSecret,
		readRetry:     readRetry,
		logger:        logger,
	}, nil
}

func (g *Gateway) CreatePayment(ctx context.Context, req gateway.CreateRequest) gateway.CreateResult {
	if out, ok := currencies.CheckCreate(req); !ok {
		return gateway.CreateResult{Outcome: out}
	}

	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(gateway.ToMinorUnits(req.Amount, req.Currency)),
		Currency: stripeapi.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	params.Context = ctx
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripeapi.String(req.CustomerEmail)
	}
	params.AddMetadata("order_id", req.OrderID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return gateway.CreateResult{Outcome: g.failure("create payment intent", err)}
	}

	status := mapStatus(string(pi.Status))
	if status != payment.StatusCompleted {
		status = payment.StatusPending
	}
	return gateway.CreateResult{
		Outcome:       gateway.Succeeded("payment intent created"),
		TransactionID: pi.ID,
		Status:        status,
		ClientSecret:  pi.ClientSecret,
	}
}

func (g *Gateway) VerifyPayment(ctx context.Context, txID string) gateway.VerifyResult {
	pi, err := g.getIntent(ctx, txID)
	if err != nil {
		return gateway.VerifyResult{Outcome: g.failure("get payment intent", err), TransactionID: txID}
	}

	currency := gateway.NormalizeCurrency(string(pi.Currency))
	result := gateway.VerifyResult{
		Outcome:       gateway.Succeeded(string(pi.Status)),
		TransactionID: txID,
		Status:        mapStatus(string(pi.Status)),
		Amount:        gateway.FromMinorUnits(pi.Amount, currency),
		Currency:      currency,
	}
	if charge := pi.LatestCharge; charge != nil && result.Status == payment.StatusCompleted {
		if charge.Refunded {
			result.Status = payment.StatusRefunded
		}
		if charge.Created > 0 {
			paidAt := time.Unix(charge.Created, 0).UTC()
			result.PaidAt = &paidAt
		}
	}
	return result
}

func (g *Gateway) getIntent(ctx context.Context, txID string) (*stripeapi.PaymentIntent, error) {
	cfg := g.readRetry
	cfg.RetryIf = isTransient
	return retry.DoWithResult(ctx, cfg, func() (*stripeapi.PaymentIntent, error) {
		params := &stripeapi.PaymentIntentParams{}
		params.Context = ctx
		params.AddExpand("latest_charge")
		return g.api.PaymentIntents.Get(txID, params)
	})
}

func (g *Gateway) RefundPayment(ctx context.Context, txID string, req gateway.RefundRequest) gateway.RefundResult {
	params := &stripeapi.RefundParams{
		PaymentIntent: stripeapi.String(txID),
		Reason:        stripeapi.String("requested_by_customer"),
	}
	params.Context = ctx
	if req.Amount != nil {
		// Minor units depend on the intent's currency.
		pi, err := g.getIntent(ctx, txID)
		if err != nil {
			return gateway.RefundResult{Outcome: g.failure("get payment intent", err), TransactionID: txID}
		}
		params.Amount = stripeapi.Int64(gateway.ToMinorUnits(*req.Amount, string(pi.Currency)))
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return gateway.RefundResult{Outcome: g.failure("create refund", err), TransactionID: txID}
	}

	currency := gateway.NormalizeCurrency(string(r.Currency))
	result := gateway.RefundResult{
		RefundID:      r.ID,
		TransactionID: txID,
		Amount:        gateway.FromMinorUnits(r.Amount, currency),
	}
	switch string(r.Status) {
	case "succeeded":
		result.Outcome = gateway.Succeeded("refund succeeded")
		result.Status = payment.StatusRefunded
	case "pending", "requires_action":
		result.Outcome = gateway.Succeeded("refund " + string(r.Status))
		result.Status = payment.StatusPending
	default:
		result.Outcome = gateway.Failed(gateway.FailureRejected, "refund "+string(r.Status))
	}
	return result
}

// CancelPayment relies on Stripe refusing to cancel a succeeded intent.
func (g *Gateway) CancelPayment(ctx context.Context, txID string) gateway.CancelResult {
	params := &stripeapi.PaymentIntentCancelParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Cancel(txID, params)
	if err != nil {
		return gateway.CancelResult{Outcome: g.failure("cancel payment intent", err), TransactionID: txID}
	}

	status := mapStatus(string(pi.Status))
	if status != payment.StatusCancelled {
		return gateway.CancelResult{
			Outcome:       gateway.Failed(gateway.FailureRejected, "payment intent is "+string(pi.Status)),
			TransactionID: txID,
			Status:        status,
		}
	}
	return gateway.CancelResult{Outcome: gateway.Succeeded("payment intent canceled"), TransactionID: txID, Status: status}
}

// VerifyWebhookSignature checks the Stripe-Signature header, including its
// timestamp tolerance.
func (g *Gateway) VerifyWebhookSignature(_ context.Context, payload []byte, headers http.Header) bool {
	if g.webhookSecret == "" {
		return false
	}
	sig := headers.Get(SignatureHeader)
	if sig == "" {
		return false
	}
	if err := webhook.ValidatePayload(payload, sig, g.webhookSecret); err != nil {
		g.logger.Debug().Err(err).Msg("Stripe signature rejected")
		return false
	}
	return true
}

type eventObject struct {
	ID            string          `json:"id"`
	Object        string          `json:"object"`
	Amount        int64           `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	Refunded      bool            `json:"refunded"`
	PaymentIntent json.RawMessage `json:"payment_intent"`
}

// paymentIntentID accepts both the id string and an expanded object.
func (o eventObject) paymentIntentID() string {
	if len(o.PaymentIntent) == 0 {
		return ""
	}
	var id string
	if json.Unmarshal(o.PaymentIntent, &id) == nil {
		return id
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(o.PaymentIntent, &expanded) == nil {
		return expanded.ID
	}
	return ""
}

func (g *Gateway) ParseWebhook(payload []byte) (gateway.WebhookEvent, error) {
	var ev stripeapi.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return gateway.WebhookEvent{}, fmt.Errorf("stripe: malformed webhook: %w", err)
	}

	var obj eventObject
	if ev.Data != nil && len(ev.Data.Raw) > 0 {
		if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
			return gateway.WebhookEvent{}, fmt.Errorf("stripe: malformed event object: %w", err)
		}
	}

	eventType, ok := eventMap[string(ev.Type)]
	if !ok {
		eventType = gateway.EventUnknown
	}

	txID := obj.ID
	if obj.Object == "charge" {
		txID = obj.paymentIntentID()
		// Partial refunds leave the charge captured.
		if eventType == gateway.EventRefundCompleted && !obj.Refunded {
			eventType = gateway.EventUnknown
		}
	}

	currency := gateway.NormalizeCurrency(obj.Currency)
	return gateway.WebhookEvent{
		Type:          eventType,
		TransactionID: txID,
		Amount:        gateway.FormatAmount(gateway.FromMinorUnits(obj.Amount, currency), currency),
		Currency:      currency,
		Metadata: map[string]string{
			"event_id":                ev.ID,
			gateway.MetadataEventType: string(ev.Type),
			"object":                  obj.Object,
			"status":                  obj.Status,
		},
	}, nil
}

func (g *Gateway) SupportedCurrencies() []string             { return currencies.Codes() }
func (g *Gateway) SupportsCurrency(code string) bool         { return currencies.Supports(code) }
func (g *Gateway) MinimumAmount(code string) decimal.Decimal { return currencies.Minimum(code) }
func (g *Gateway) Name() string                              { return Name }

func isTransient(err error) bool {
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= 500 ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.Type == stripeapi.ErrorTypeAPI
	}
	return httpx.IsTransient(err)
}

func (g *Gateway) failure(op string, err error) gateway.Outcome {
	kind := gateway.FailureRejected
	if isTransient(err) {
		kind = gateway.FailureTransient
	}

	message := "stripe " + op + " failed"
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		message = stripeErr.Msg
	}
	g.logger.Warn().Err(err).Str("operation", op).Str("failure", string(kind)).Msg("Stripe request failed")
	return gateway.Failed(kind, message)
}

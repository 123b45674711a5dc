// Package paypal adapts PayPal Checkout orders. The transaction id is the
// PayPal order id; captures and refunds are resolved from it.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cassiomorais/paygate/internal/domain/gateway"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways/httpx"
	"github.com/cassiomorais/paygate/pkg/retry"
	"github.com/plutov/paypal/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	Name            = "paypal"
	SignatureHeader = "Paypal-Transmission-Sig"
)

var currencies = gateway.NewCurrencySet(
	[]string{"USD", "EUR", "GBP", "PHP", "SGD", "AUD", "CAD", "JPY"},
	decimal.RequireFromString("1.00"),
	map[string]decimal.Decimal{"JPY": decimal.NewFromInt(100)},
)

var statusMap = map[string]payment.Status{
	"CREATED":               payment.StatusPending,
	"SAVED":                 payment.StatusPending,
	"APPROVED":              payment.StatusPending,
	"PAYER_ACTION_REQUIRED": payment.StatusPending,
	"COMPLETED":             payment.StatusCompleted,
	"VOIDED":                payment.StatusCancelled,
}

var eventMap = map[string]gateway.EventType{
	"PAYMENT.CAPTURE.COMPLETED": gateway.EventPaymentCompleted,
	"CHECKOUT.ORDER.COMPLETED":  gateway.EventPaymentCompleted,
	"PAYMENT.CAPTURE.DENIED":    gateway.EventPaymentFailed,
	"CHECKOUT.ORDER.VOIDED":     gateway.EventPaymentCancelled,
	// Sent for partial refunds too; the capture status decides.
	"PAYMENT.CAPTURE.REFUNDED": gateway.EventRefundReported,
}

func mapStatus(native string) payment.Status {
	if s, ok := statusMap[strings.ToUpper(native)]; ok {
		return s
	}
	return payment.StatusPending
}

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	BrandName    string
}

type Gateway struct {
	api       *paypal.Client
	webhookID string
	brandName string
	readRetry retry.Config
	logger    zerolog.Logger
}

func New(cfg Config, httpClient *http.Client, readRetry retry.Config, logger zerolog.Logger) (*Gateway, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = paypal.APIBaseSandBox
	}
	api, err := paypal.NewClient(cfg.ClientID, cfg.ClientSecret, base)
	if err != nil {
		return nil, fmt.Errorf("paypal: %w", err)
	}
	if httpClient != nil {
		api.Client = httpClient
	}
	return &Gateway{
		api:       api,
		webhookID: cfg.WebhookID,
		brandName: cfg.BrandName,
		readRetry: readRetry,
		logger:    logger,
	}, nil
}

func (g *Gateway) CreatePayment(ctx context.Context, req gateway.CreateRequest) gateway.CreateResult {
	if out, ok := currencies.CheckCreate(req); !ok {
		return gateway.CreateResult{Outcome: out}
	}

	currency := gateway.NormalizeCurrency(req.Currency)
	units := []paypal.PurchaseUnitRequest{{
		ReferenceID: req.OrderID,
		Description: req.Description,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: currency,
			Value:    gateway.FormatAmount(req.Amount, currency),
		},
	}}
	appCtx := &paypal.ApplicationContext{
		BrandName: g.brandName,
		ReturnURL: req.ReturnURL,
		CancelURL: req.CancelURL,
	}

	order, err := g.api.CreateOrder(ctx, "CAPTURE", units, nil, appCtx)
	if err != nil {
		return gateway.CreateResult{Outcome: g.failure("create order", err)}
	}

	approve := approvalURL(order)
	if approve == "" {
		return gateway.CreateResult{
			Outcome:       gateway.Failed(gateway.FailureRejected, "paypal returned no approval link"),
			TransactionID: order.ID,
		}
	}
	return gateway.CreateResult{
		Outcome:       gateway.Succeeded("order created"),
		TransactionID: order.ID,
		Status:        payment.StatusPending,
		RedirectURL:   approve,
	}
}

func approvalURL(order *paypal.Order) string {
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}

func (g *Gateway) getOrder(ctx context.Context, txID string) (*paypal.Order, error) {
	cfg := g.readRetry
	cfg.RetryIf = isTransient
	return retry.DoWithResult(ctx, cfg, func() (*paypal.Order, error) {
		return g.api.GetOrder(ctx, txID)
	})
}

// capture returns the first capture of the order, if any.
func capture(order *paypal.Order) (id, status string) {
	for _, unit := range order.PurchaseUnits {
		if unit.Payments == nil || len(unit.Payments.Captures) == 0 {
			continue
		}
		c := unit.Payments.Captures[0]
		return c.ID, strings.ToUpper(c.Status)
	}
	return "", ""
}

func orderAmount(order *paypal.Order) (decimal.Decimal, string) {
	for _, unit := range order.PurchaseUnits {
		if unit.Amount == nil {
			continue
		}
		amount, err := decimal.NewFromString(unit.Amount.Value)
		if err != nil {
			return decimal.Zero, gateway.NormalizeCurrency(unit.Amount.Currency)
		}
		return amount, gateway.NormalizeCurrency(unit.Amount.Currency)
	}
	return decimal.Zero, ""
}

func (g *Gateway) VerifyPayment(ctx context.Context, txID string) gateway.VerifyResult {
	order, err := g.getOrder(ctx, txID)
	if err != nil {
		return gateway.VerifyResult{Outcome: g.failure("get order", err), TransactionID: txID}
	}
	return verifyResult(txID, order.Status, order)
}

func verifyResult(txID, status string, order *paypal.Order) gateway.VerifyResult {
	amount, currency := orderAmount(order)
	result := gateway.VerifyResult{
		Outcome:       gateway.Succeeded(strings.ToLower(status)),
		TransactionID: txID,
		Status:        mapStatus(status),
		Amount:        amount,
		Currency:      currency,
	}
	if result.Status == payment.StatusCompleted {
		switch _, captureStatus := capture(order); captureStatus {
		case "REFUNDED":
			result.Status = payment.StatusRefunded
		case "DECLINED", "FAILED":
			result.Status = payment.StatusFailed
		}
	}
	return result
}

// CapturePayment captures an order the payer has approved.
func (g *Gateway) CapturePayment(ctx context.Context, txID string) gateway.VerifyResult {
	resp, err := g.api.CaptureOrder(ctx, txID, paypal.CaptureOrderRequest{})
	if err != nil {
		return gateway.VerifyResult{Outcome: g.failure("capture order", err), TransactionID: txID}
	}
	if strings.ToUpper(resp.Status) != "COMPLETED" {
		return gateway.VerifyResult{
			Outcome:       gateway.Failed(gateway.FailureRejected, "capture is "+strings.ToLower(resp.Status)),
			TransactionID: txID,
			Status:        mapStatus(resp.Status),
		}
	}
	return g.VerifyPayment(ctx, txID)
}

// RefundPayment refunds the order's capture. A nil amount refunds the whole
// capture.
func (g *Gateway) RefundPayment(ctx context.Context, txID string, req gateway.RefundRequest) gateway.RefundResult {
	order, err := g.getOrder(ctx, txID)
	if err != nil {
		return gateway.RefundResult{Outcome: g.failure("get order", err), TransactionID: txID}
	}
	captureID, _ := capture(order)
	if captureID == "" {
		return gateway.RefundResult{
			Outcome:       gateway.Failed(gateway.FailureRejected, "order "+txID+" has no captured payment"),
			TransactionID: txID,
		}
	}

	body := paypal.RefundCaptureRequest{NoteToPayer: req.Reason}
	if req.Amount != nil {
		_, currency := orderAmount(order)
		body.Amount = &paypal.Money{
			Currency: currency,
			Value:    gateway.FormatAmount(*req.Amount, currency),
		}
	}

	resp, err := g.api.RefundCapture(ctx, captureID, body)
	if err != nil {
		return gateway.RefundResult{Outcome: g.failure("refund capture", err), TransactionID: txID}
	}

	result := gateway.RefundResult{RefundID: resp.ID, TransactionID: txID}
	if resp.Amount != nil {
		result.Amount, _ = decimal.NewFromString(resp.Amount.Value)
	}
	switch strings.ToUpper(resp.Status) {
	case "COMPLETED":
		result.Outcome = gateway.Succeeded("refund completed")
		result.Status = payment.StatusRefunded
	case "PENDING":
		result.Outcome = gateway.Succeeded("refund pending")
		result.Status = payment.StatusPending
	default:
		result.Outcome = gateway.Failed(gateway.FailureRejected, "refund "+strings.ToLower(resp.Status))
	}
	return result
}

// CancelPayment cannot void an order through the Orders API. Orders the
// payer has not approved are abandoned locally and expire on PayPal's side;
// approved or completed orders are refused.
func (g *Gateway) CancelPayment(ctx context.Context, txID string) gateway.CancelResult {
	order, err := g.getOrder(ctx, txID)
	if err != nil {
		return gateway.CancelResult{Outcome: g.failure("get order", err), TransactionID: txID}
	}

	switch status := strings.ToUpper(order.Status); status {
	case "CREATED", "SAVED", "PAYER_ACTION_REQUIRED":
		return gateway.CancelResult{
			Outcome:       gateway.Succeeded("order abandoned before approval"),
			TransactionID: txID,
			Status:        payment.StatusCancelled,
		}
	case "VOIDED":
		return gateway.CancelResult{
			Outcome:       gateway.Succeeded("order already voided"),
			TransactionID: txID,
			Status:        payment.StatusCancelled,
		}
	default:
		return gateway.CancelResult{
			Outcome:       gateway.Failed(gateway.FailureRejected, "order is "+strings.ToLower(status)+" and cannot be cancelled"),
			TransactionID: txID,
			Status:        mapStatus(status),
		}
	}
}

// VerifyWebhookSignature delegates to PayPal's verify-webhook-signature API.
// Any error, including an unreachable API, rejects the webhook.
func (g *Gateway) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) bool {
	if g.webhookID == "" || headers.Get(SignatureHeader) == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header = headers.Clone()

	resp, err := g.api.VerifyWebhookSignature(ctx, req, g.webhookID)
	if err != nil {
		g.logger.Warn().Err(err).Msg("PayPal webhook verification call failed")
		return false
	}
	return resp.VerificationStatus == "SUCCESS"
}

type webhookAmount struct {
	Currency string `json:"currency_code"`
	Value    string `json:"value"`
}

type webhookPayload struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string         `json:"id"`
		Status            string         `json:"status"`
		Amount            *webhookAmount `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
		PurchaseUnits []struct {
			Amount *webhookAmount `json:"amount"`
		} `json:"purchase_units"`
	} `json:"resource"`
}

func (g *Gateway) ParseWebhook(payload []byte) (gateway.WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return gateway.WebhookEvent{}, fmt.Errorf("paypal: malformed webhook: %w", err)
	}

	eventType, ok := eventMap[strings.ToUpper(p.EventType)]
	if !ok {
		eventType = gateway.EventUnknown
	}

	txID := p.Resource.SupplementaryData.RelatedIDs.OrderID
	if txID == "" {
		txID = p.Resource.ID
	}

	amount := p.Resource.Amount
	if amount == nil && len(p.Resource.PurchaseUnits) > 0 {
		amount = p.Resource.PurchaseUnits[0].Amount
	}
	var value, currency string
	if amount != nil {
		value, currency = amount.Value, gateway.NormalizeCurrency(amount.Currency)
	}

	return gateway.WebhookEvent{
		Type:          eventType,
		TransactionID: txID,
		Amount:        value,
		Currency:      currency,
		Metadata: map[string]string{
			"event_id":                p.ID,
			gateway.MetadataEventType: p.EventType,
			"resource_id":             p.Resource.ID,
			"status":                  p.Resource.Status,
		},
	}, nil
}

func (g *Gateway) SupportedCurrencies() []string             { return currencies.Codes() }
func (g *Gateway) SupportsCurrency(code string) bool         { return currencies.Supports(code) }
func (g *Gateway) MinimumAmount(code string) decimal.Decimal { return currencies.Minimum(code) }
func (g *Gateway) Name() string                              { return Name }

func statusCode(err error) int {
	var apiErr *paypal.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return apiErr.Response.StatusCode
	}
	return 0
}

func isTransient(err error) bool {
	if code := statusCode(err); code != 0 {
		return code >= 500 || code == http.StatusTooManyRequests
	}
	return httpx.IsTransient(err)
}

func (g *Gateway) failure(op string, err error) gateway.Outcome {
	kind := gateway.FailureRejected
	switch code := statusCode(err); {
	case isTransient(err):
		kind = gateway.FailureTransient
	case code == http.StatusUnauthorized:
		kind = gateway.FailureConfiguration
	case code == http.StatusBadRequest:
		kind = gateway.FailureInvalidRequest
	}

	message := "paypal " + op + " failed"
	var apiErr *paypal.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		message = apiErr.Message
		if len(apiErr.Details) > 0 && apiErr.Details[0].Description != "" {
			message += ": " + apiErr.Details[0].Description
		}
	}
	g.logger.Warn().Err(err).Str("operation", op).Str("failure", string(kind)).Msg("PayPal request failed")
	return gateway.Failed(kind, message)
}

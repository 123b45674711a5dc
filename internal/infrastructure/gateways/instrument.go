package gateways

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/gateway"
	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/cassiomorais/paygate/gateways")

// instrumented records metrics, logs and a span around every provider call
// and turns a panicking adapter into a transient failure.
type instrumented struct {
	gateway.Gateway
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// instrumentedCapturer keeps the Capturer capability visible through the
// decorator.
type instrumentedCapturer struct {
	*instrumented
	capturer gateway.Capturer
}

func instrument(g gateway.Gateway, metrics *observability.Metrics, logger zerolog.Logger) gateway.Gateway {
	base := &instrumented{
		Gateway: g,
		metrics: metrics,
		logger:  observability.GatewayLogger(logger, g.Name()),
	}
	if c, ok := g.(gateway.Capturer); ok {
		return &instrumentedCapturer{instrumented: base, capturer: c}
	}
	return base
}

func (i *instrumented) start(ctx context.Context, op string) (context.Context, trace.Span, time.Time) {
	ctx, span := tracer.Start(ctx, "gateway."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("payment.gateway", i.Name())))
	return ctx, span, time.Now()
}

func (i *instrumented) finish(span trace.Span, op string, start time.Time, out gateway.Outcome, txID string) {
	defer span.End()

	outcome := "success"
	if !out.Success {
		outcome = string(out.Failure)
		if outcome == "" {
			outcome = "failed"
		}
		span.SetStatus(codes.Error, out.Message)
	}
	if txID != "" {
		span.SetAttributes(attribute.String("payment.transaction_id", txID))
	}
	span.SetAttributes(attribute.String("payment.outcome", outcome))

	if i.metrics != nil {
		i.metrics.GatewayRequestsTotal.WithLabelValues(i.Name(), op, outcome).Inc()
		i.metrics.GatewayRequestDuration.WithLabelValues(i.Name(), op).Observe(time.Since(start).Seconds())
	}

	evt := i.logger.Info()
	if !out.Success {
		evt = i.logger.Warn().Str("failure", string(out.Failure)).Str("message", out.Message)
	}
	evt.Str("operation", op).
		Str("transaction_id", txID).
		Dur("duration", time.Since(start)).
		Msg("Gateway call finished")
}

// recoverOutcome converts a panic into a transient failure written to out.
func (i *instrumented) recoverOutcome(op string, out *gateway.Outcome) {
	if r := recover(); r != nil {
		i.logger.Error().Str("operation", op).Interface("panic", r).Msg("Gateway adapter panicked")
		*out = gateway.Failed(gateway.FailureTransient, fmt.Sprintf("%s %s failed unexpectedly", i.Name(), op))
	}
}

func (i *instrumented) CreatePayment(ctx context.Context, req gateway.CreateRequest) (res gateway.CreateResult) {
	ctx, span, start := i.start(ctx, "create")
	span.SetAttributes(attribute.String("order.id", req.OrderID), attribute.String("payment.currency", req.Currency))
	defer func() { i.finish(span, "create", start, res.Outcome, res.TransactionID) }()
	defer i.recoverOutcome("create", &res.Outcome)
	return i.Gateway.CreatePayment(ctx, req)
}

func (i *instrumented) VerifyPayment(ctx context.Context, txID string) (res gateway.VerifyResult) {
	ctx, span, start := i.start(ctx, "verify")
	defer func() { i.finish(span, "verify", start, res.Outcome, txID) }()
	defer i.recoverOutcome("verify", &res.Outcome)
	return i.Gateway.VerifyPayment(ctx, txID)
}

func (i *instrumented) RefundPayment(ctx context.Context, txID string, req gateway.RefundRequest) (res gateway.RefundResult) {
	ctx, span, start := i.start(ctx, "refund")
	defer func() { i.finish(span, "refund", start, res.Outcome, txID) }()
	defer i.recoverOutcome("refund", &res.Outcome)
	return i.Gateway.RefundPayment(ctx, txID, req)
}

func (i *instrumented) CancelPayment(ctx context.Context, txID string) (res gateway.CancelResult) {
	ctx, span, start := i.start(ctx, "cancel")
	defer func() { i.finish(span, "cancel", start, res.Outcome, txID) }()
	defer i.recoverOutcome("cancel", &res.Outcome)
	return i.Gateway.CancelPayment(ctx, txID)
}

func (i *instrumented) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) (ok bool) {
	ctx, span := tracer.Start(ctx, "gateway.verify_signature",
		trace.WithAttributes(attribute.String("payment.gateway", i.Name())))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error().Interface("panic", r).Msg("Gateway signature check panicked")
			ok = false
		}
		span.SetAttributes(attribute.Bool("webhook.signature_valid", ok))
	}()
	return i.Gateway.VerifyWebhookSignature(ctx, payload, headers)
}

func (i *instrumented) ParseWebhook(payload []byte) (ev gateway.WebhookEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error().Interface("panic", r).Msg("Gateway webhook parser panicked")
			ev, err = gateway.WebhookEvent{}, fmt.Errorf("%s: webhook could not be parsed", i.Name())
		}
	}()
	return i.Gateway.ParseWebhook(payload)
}

func (c *instrumentedCapturer) CapturePayment(ctx context.Context, txID string) (res gateway.VerifyResult) {
	ctx, span, start := c.start(ctx, "capture")
	defer func() { c.finish(span, "capture", start, res.Outcome, txID) }()
	defer c.recoverOutcome("capture", &res.Outcome)
	return c.capturer.CapturePayment(ctx, txID)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/gateway"
	"github.com/cassiomorais/paygate/internal/domain/order"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways"
	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/cassiomorais/paygate/service")

// Outcome is how a status update was resolved.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUntracked Outcome = "untracked"
)

// Update sources recorded on audit events.
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceCreate  = "create"
	SourceRefund  = "refund"
	SourceCancel  = "cancel"
	SourceCapture = "capture"
)

// Update asks for a record, found by provider transaction id, to move to Target.
type Update struct {
	Method        payment.Method
	TransactionID string
	Target        payment.Status
	Source        string
	EventType     string
	// PaidAt is the provider's settlement time; now is used when nil.
	PaidAt *time.Time
	Data   map[string]any
}

// Reconciler is the only writer of record status after creation. Every path
// that learns a provider status (webhooks, polling, refunds, cancels) goes
// through Apply.
type Reconciler struct {
	payments  payment.Repository
	orders    order.Repository
	txManager TransactionManager
	locker    Locker
	gateways  *gateways.Factory
	metrics   *observability.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewReconciler(
	payments payment.Repository,
	orders order.Repository,
	txManager TransactionManager,
	locker Locker,
	factory *gateways.Factory,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		payments:  payments,
		orders:    orders,
		txManager: txManager,
		locker:    locker,
		gateways:  factory,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func lockKey(method payment.Method, txID string) string {
	return fmt.Sprintf("reconcile:%s:%s", method, txID)
}

// HandleWebhook verifies, parses and applies one provider callback.
//
// Errors: ErrUnsupportedGateway for an unknown gateway, ErrInvalidSignature
// for a bad signature, ErrInvalidInput for an unparseable body,
// ErrProviderUnavailable when a refund notice could not be confirmed. Any
// other error is an infrastructure failure and the provider should redeliver.
func (r *Reconciler) HandleWebhook(ctx context.Context, gatewayName string, payload []byte, headers http.Header) (Outcome, error) {
	gw, err := r.gateways.Create(gatewayName)
	if err != nil {
		r.countWebhook("unknown", "unknown_gateway")
		return "", err
	}
	name := gw.Name()

	if !gw.VerifyWebhookSignature(ctx, payload, headers) {
		r.countWebhook(name, "invalid_signature")
		r.logger.Warn().Str("gateway", name).Int("payload_bytes", len(payload)).Msg("Webhook signature verification failed")
		return "", domainErrors.ErrInvalidSignature
	}

	ev, err := gw.ParseWebhook(payload)
	if err != nil {
		r.countWebhook(name, "malformed")
		return "", fmt.Errorf("%w: %v", domainErrors.ErrInvalidInput, err)
	}

	nativeEvent := ev.Metadata[gateway.MetadataEventType]
	target, ok := ev.Type.TargetStatus()
	if !ok && !ev.Type.NeedsConfirmation() {
		r.countWebhook(name, string(OutcomeIgnored))
		r.logger.Info().Str("gateway", name).Str("native_event", nativeEvent).Msg("Ignoring webhook event")
		return OutcomeIgnored, nil
	}
	if ev.TransactionID == "" {
		r.countWebhook(name, string(OutcomeUntracked))
		r.logger.Info().Str("gateway", name).Str("native_event", nativeEvent).Msg("Webhook carries no transaction id")
		return OutcomeUntracked, nil
	}

	var paidAt *time.Time
	if ev.Type.NeedsConfirmation() {
		res := gw.VerifyPayment(ctx, ev.TransactionID)
		if !res.Success {
			r.countWebhook(name, "error")
			r.logger.Warn().Str("gateway", name).Str("transaction_id", ev.TransactionID).Str("reason", res.Message).Msg("Could not confirm refund notice")
			return "", domainErrors.NewDomainError("provider_unavailable", res.Message, domainErrors.ErrProviderUnavailable)
		}
		target, paidAt = res.Status, res.PaidAt
	}

	data := map[string]any{"amount": ev.Amount, "currency": ev.Currency}
	for k, v := range ev.Metadata {
		data[k] = v
	}
	outcome, err := r.Apply(ctx, Update{
		Method:        payment.Method(name),
		TransactionID: ev.TransactionID,
		Target:        target,
		Source:        SourceWebhook,
		EventType:     string(ev.Type),
		PaidAt:        paidAt,
		Data:          data,
	})
	if err != nil {
		r.countWebhook(name, "error")
		return "", err
	}
	r.countWebhook(name, string(outcome))
	return outcome, nil
}

// Apply moves the record to u.Target if the transition is allowed. The
// record is serialized on a distributed lock and a row lock, and the status
// changes by compare-and-set, so concurrent or repeated updates apply once.
func (r *Reconciler) Apply(ctx context.Context, u Update) (outcome Outcome, err error) {
	ctx, span := tracer.Start(ctx, "reconcile.apply")
	span.SetAttributes(
		attribute.String("payment.gateway", string(u.Method)),
		attribute.String("payment.transaction_id", u.TransactionID),
		attribute.String("payment.target_status", string(u.Target)),
		attribute.String("reconcile.source", u.Source),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.countReconcile(u, "error")
		} else {
			span.SetAttributes(attribute.String("reconcile.outcome", string(outcome)))
			r.countReconcile(u, string(outcome))
		}
		span.End()
	}()

	key := lockKey(u.Method, u.TransactionID)
	release, err := r.locker.Lock(ctx, key)
	if err != nil {
		return "", fmt.Errorf("lock %s: %w", key, err)
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			r.logger.Warn().Err(relErr).Str("key", key).Msg("Failed to release reconcile lock")
		}
	}()

	err = r.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		rec, err := r.payments.LockByTransactionID(ctx, u.Method, u.TransactionID)
		if errors.Is(err, domainErrors.ErrPaymentNotFound) {
			outcome = OutcomeUntracked
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock payment record: %w", err)
		}

		from := rec.Status
		next := *rec
		if !next.Apply(u.Target, r.now(), u.PaidAt) {
			outcome = OutcomeNoop
			return r.recordNoop(ctx, rec, u)
		}

		swapped, err := r.payments.CompareAndSetStatus(ctx, rec.ID, from, next.Status, next.PaidAt)
		if err != nil {
			return err
		}
		if !swapped {
			outcome = OutcomeNoop
			return r.recordNoop(ctx, rec, u)
		}

		if err := r.payments.AddEvent(ctx, payment.NewEvent(rec.ID, payment.EventTransitioned, u.Source, from, u.Target, u.eventData())); err != nil {
			return err
		}
		if u.Target == payment.StatusCompleted {
			if err := r.orders.SetPaymentStatus(ctx, rec.OrderID, order.PaymentStatusPaid); err != nil {
				if !errors.Is(err, domainErrors.ErrOrderNotFound) {
					return fmt.Errorf("mark order paid: %w", err)
				}
				r.logger.Warn().Str("order_id", rec.OrderID).Str("payment_id", rec.ID.String()).Msg("Paid record references a missing order")
			}
		}
		outcome = OutcomeApplied
		r.logger.Info().
			Str("payment_id", rec.ID.String()).
			Str("gateway", string(u.Method)).
			Str("from", string(from)).
			Str("to", string(u.Target)).
			Str("source", u.Source).
			Msg("Payment status reconciled")
		return nil
	})
	if err != nil {
		return "", err
	}

	if outcome == OutcomeUntracked {
		r.logger.Info().Str("gateway", string(u.Method)).Str("transaction_id", u.TransactionID).Str("source", u.Source).Msg("No payment record for transaction")
	}
	return outcome, nil
}

func (r *Reconciler) recordNoop(ctx context.Context, rec *payment.Record, u Update) error {
	r.logger.Info().
		Str("payment_id", rec.ID.String()).
		Str("status", string(rec.Status)).
		Str("target", string(u.Target)).
		Str("source", u.Source).
		Msg("Status update not applicable")
	return r.payments.AddEvent(ctx, payment.NewEvent(rec.ID, payment.EventReconcileNoop, u.Source, rec.Status, u.Target, u.eventData()))
}

func (u Update) eventData() map[string]any {
	data := make(map[string]any, len(u.Data)+2)
	for k, v := range u.Data {
		data[k] = v
	}
	data["transaction_id"] = u.TransactionID
	if u.EventType != "" {
		data["event"] = u.EventType
	}
	return data
}

func (r *Reconciler) countWebhook(gatewayName, result string) {
	if r.metrics != nil {
		r.metrics.WebhooksTotal.WithLabelValues(gatewayName, result).Inc()
	}
}

func (r *Reconciler) countReconcile(u Update, outcome string) {
	if r.metrics != nil {
		r.metrics.ReconciliationsTotal.WithLabelValues(string(u.Method), u.Source, outcome).Inc()
	}
}

package service

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/gateway"
	"github.com/cassiomorais/paygate/internal/domain/order"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways"
	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	"github.com/cassiomorais/paygate/pkg/saga"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PaymentService is the entry point for order-processing code: it starts
// payments and drives refunds, cancels and status polls through the gateways.
type PaymentService struct {
	payments   payment.Repository
	orders     order.Repository
	txManager  TransactionManager
	gateways   *gateways.Factory
	reconciler *Reconciler
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewPaymentService(
	payments payment.Repository,
	orders order.Repository,
	txManager TransactionManager,
	factory *gateways.Factory,
	reconciler *Reconciler,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PaymentService {
	return &PaymentService{
		payments:   payments,
		orders:     orders,
		txManager:  txManager,
		gateways:   factory,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
	}
}

// CreatePayment charges an order through the requested gateway, or the
// currency's default gateway when none is given.
func (s *PaymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentOutput, error) {
	o, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == order.PaymentStatusPaid {
		return nil, domainErrors.NewDomainError("order_already_paid", "order "+o.ID+" is already paid", domainErrors.ErrInvalidStateTransition)
	}

	gw, err := s.selectGateway(in.Method, o.Currency)
	if err != nil {
		return nil, err
	}
	method := payment.Method(gw.Name())

	if _, err := s.payments.GetPendingByOrderID(ctx, o.ID); err == nil {
		return nil, domainErrors.ErrPaymentPending
	} else if !errors.Is(err, domainErrors.ErrPaymentNotFound) {
		return nil, err
	}

	if !gw.SupportsCurrency(o.Currency) {
		return nil, domainErrors.NewDomainError("unsupported_currency",
			fmt.Sprintf("%s does not accept %s", gw.Name(), o.Currency), domainErrors.ErrUnsupportedCurrency)
	}
	if minimum := gw.MinimumAmount(o.Currency); o.TotalAmount.LessThan(minimum) {
		return nil, domainErrors.NewDomainError("amount_below_minimum",
			fmt.Sprintf("%s requires at least %s %s", gw.Name(), gateway.FormatAmount(minimum, o.Currency), gateway.NormalizeCurrency(o.Currency)),
			domainErrors.ErrAmountBelowMinimum)
	}

	var (
		created gateway.CreateResult
		rec     *payment.Record
	)
	sg := saga.New("create-payment").
		AddStep(saga.Step{
			Name: "provider.create",
			Execute: func(ctx context.Context) error {
				created = gw.CreatePayment(ctx, gateway.CreateRequest{
					OrderID:        o.ID,
					Amount:         o.TotalAmount,
					Currency:       o.Currency,
					CustomerEmail:  in.CustomerEmail,
					CustomerName:   in.CustomerName,
					Description:    in.Description,
					ReturnURL:      in.ReturnURL,
					CancelURL:      in.CancelURL,
					IdempotencyKey: uuid.NewString(),
				})
				if !created.Success {
					return providerError(created.Outcome)
				}
				return nil
			},
			Compensate: func(ctx context.Context) error {
				res := gw.CancelPayment(ctx, created.TransactionID)
				if !res.Success {
					return providerError(res.Outcome)
				}
				return nil
			},
		}).
		AddStep(saga.Step{
			Name: "record.persist",
			Execute: func(ctx context.Context) error {
				var err error
				rec, err = payment.NewRecord(o.ID, o.TotalAmount, o.Currency, method, created.TransactionID, created.Status)
				if err != nil {
					return err
				}
				return s.persistNew(ctx, rec)
			},
		}).
		OnCompensate(func(step string, err error) {
			evt := s.logger.Warn()
			if err != nil {
				evt = s.logger.Error().Err(err)
			}
			evt.Str("step", step).
				Str("order_id", o.ID).
				Str("gateway", gw.Name()).
				Str("transaction_id", created.TransactionID).
				Msg("Compensated provider payment after local failure")
		})

	if err := sg.Execute(ctx); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PaymentsCreated.WithLabelValues(gw.Name(), string(rec.Status)).Inc()
	}
	s.logger.Info().
		Str("payment_id", rec.ID.String()).
		Str("order_id", o.ID).
		Str("gateway", gw.Name()).
		Str("status", string(rec.Status)).
		Msg("Payment created")

	return &CreatePaymentOutput{
		Record:       rec,
		RedirectURL:  created.RedirectURL,
		ClientSecret: created.ClientSecret,
	}, nil
}

func (s *PaymentService) selectGateway(method, currency string) (gateway.Gateway, error) {
	if method == "" {
		return s.gateways.ForCurrency(currency)
	}
	return s.gateways.Create(method)
}

// persistNew stores the record and, for providers that settle at creation,
// marks the order paid in the same transaction.
func (s *PaymentService) persistNew(ctx context.Context, rec *payment.Record) error {
	return s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.payments.Create(ctx, rec); err != nil {
			return err
		}
		if err := s.payments.AddEvent(ctx, payment.NewEvent(rec.ID, payment.EventCreated, SourceCreate, "", rec.Status, map[string]any{
			"transaction_id": rec.ExternalTransactionID,
			"amount":         rec.Amount.String(),
			"currency":       rec.Currency,
		})); err != nil {
			return err
		}
		if rec.Status == payment.StatusCompleted {
			return s.orders.SetPaymentStatus(ctx, rec.OrderID, order.PaymentStatusPaid)
		}
		return nil
	})
}

// VerifyPayment asks the provider for the current status and reconciles it.
func (s *PaymentService) VerifyPayment(ctx context.Context, id uuid.UUID) (*payment.Record, error) {
	rec, gw, err := s.recordAndGateway(ctx, id)
	if err != nil {
		return nil, err
	}

	res := gw.VerifyPayment(ctx, rec.ExternalTransactionID)
	if !res.Success {
		return nil, providerError(res.Outcome)
	}
	if res.Status == rec.Status {
		return rec, nil
	}

	if _, err := s.reconciler.Apply(ctx, Update{
		Method:        rec.Method,
		TransactionID: rec.ExternalTransactionID,
		Target:        res.Status,
		Source:        SourcePoll,
		PaidAt:        res.PaidAt,
		Data:          map[string]any{"provider_status": res.Message},
	}); err != nil {
		return nil, err
	}
	return s.payments.GetByID(ctx, id)
}

// RefundPayment refunds a completed payment in full or in part. Only a
// settled full refund moves the record to refunded; the amount never changes.
func (s *PaymentService) RefundPayment(ctx context.Context, id uuid.UUID, in RefundInput) (*RefundOutput, error) {
	rec, gw, err := s.recordAndGateway(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rec.ValidateRefund(in.Amount); err != nil {
		return nil, err
	}

	res := gw.RefundPayment(ctx, rec.ExternalTransactionID, gateway.RefundRequest{Amount: in.Amount, Reason: in.Reason})
	s.countRefund(gw.Name(), res.Outcome)
	if !res.Success {
		return nil, providerError(res.Outcome)
	}

	refunded := rec.Amount
	if in.Amount != nil {
		refunded = *in.Amount
	}
	out := &RefundOutput{
		RefundID: res.RefundID,
		Amount:   refunded,
		Partial:  !rec.IsFullRefund(in.Amount),
		Pending:  res.Status == payment.StatusPending,
	}
	data := map[string]any{
		"refund_id": res.RefundID,
		"amount":    refunded.String(),
		"reason":    in.Reason,
	}

	switch {
	case !out.Partial && !out.Pending:
		if _, err := s.reconciler.Apply(ctx, Update{
			Method:        rec.Method,
			TransactionID: rec.ExternalTransactionID,
			Target:        payment.StatusRefunded,
			Source:        SourceRefund,
			Data:          data,
		}); err != nil {
			return nil, err
		}
	case out.Partial:
		if err := s.payments.AddEvent(ctx, payment.NewEvent(rec.ID, payment.EventPartialRefund, SourceRefund, rec.Status, rec.Status, data)); err != nil {
			return nil, err
		}
	default:
		if err := s.payments.AddEvent(ctx, payment.NewEvent(rec.ID, payment.EventRefundRequested, SourceRefund, rec.Status, payment.StatusRefunded, data)); err != nil {
			return nil, err
		}
	}

	if out.Record, err = s.payments.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelPayment cancels a payment the payer has not completed.
func (s *PaymentService) CancelPayment(ctx context.Context, id uuid.UUID) (*payment.Record, error) {
	rec, gw, err := s.recordAndGateway(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return nil, domainErrors.NewDomainError("invalid_transition",
			"cannot cancel a payment in status "+string(rec.Status), domainErrors.ErrInvalidStateTransition)
	}

	res := gw.CancelPayment(ctx, rec.ExternalTransactionID)
	if !res.Success {
		return nil, providerError(res.Outcome)
	}

	if _, err := s.reconciler.Apply(ctx, Update{
		Method:        rec.Method,
		TransactionID: rec.ExternalTransactionID,
		Target:        payment.StatusCancelled,
		Source:        SourceCancel,
		Data:          map[string]any{"provider_message": res.Message},
	}); err != nil {
		return nil, err
	}
	return s.payments.GetByID(ctx, id)
}

// CapturePayment captures an approved payment on gateways that separate
// approval from capture.
func (s *PaymentService) CapturePayment(ctx context.Context, id uuid.UUID) (*payment.Record, error) {
	rec, gw, err := s.recordAndGateway(ctx, id)
	if err != nil {
		return nil, err
	}
	capturer, ok := gw.(gateway.Capturer)
	if !ok {
		return nil, domainErrors.NewDomainError("operation_not_supported",
			gw.Name()+" payments do not need capturing", domainErrors.ErrOperationNotSupported)
	}

	res := capturer.CapturePayment(ctx, rec.ExternalTransactionID)
	if !res.Success {
		return nil, providerError(res.Outcome)
	}
	if res.Status != rec.Status {
		if _, err := s.reconciler.Apply(ctx, Update{
			Method:        rec.Method,
			TransactionID: rec.ExternalTransactionID,
			Target:        res.Status,
			Source:        SourceCapture,
			PaidAt:        res.PaidAt,
		}); err != nil {
			return nil, err
		}
	}
	return s.payments.GetByID(ctx, id)
}

func (s *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*payment.Record, error) {
	return s.payments.GetByID(ctx, id)
}

func (s *PaymentService) ListPayments(ctx context.Context, filter payment.ListFilter) ([]*payment.Record, error) {
	return s.payments.List(ctx, filter)
}

// GetEvents returns the audit trail of a payment.
func (s *PaymentService) GetEvents(ctx context.Context, id uuid.UUID) ([]*payment.Event, error) {
	if _, err := s.payments.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.payments.GetEvents(ctx, id)
}

// Gateways describes every configured gateway.
func (s *PaymentService) Gateways() []GatewayInfo {
	names := s.gateways.Available()
	infos := make([]GatewayInfo, 0, len(names))
	for _, name := range names {
		gw, err := s.gateways.Create(name)
		if err != nil {
			continue
		}
		currencies := gw.SupportedCurrencies()
		minimums := make(map[string]decimal.Decimal, len(currencies))
		for _, c := range currencies {
			minimums[c] = gw.MinimumAmount(c)
		}
		infos = append(infos, GatewayInfo{
			Name:       name,
			Default:    name == s.gateways.DefaultName(),
			Currencies: currencies,
			Minimums:   minimums,
		})
	}
	return infos
}

func (s *PaymentService) recordAndGateway(ctx context.Context, id uuid.UUID) (*payment.Record, gateway.Gateway, error) {
	rec, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	gw, err := s.gateways.Create(string(rec.Method))
	if err != nil {
		return nil, nil, err
	}
	return rec, gw, nil
}

func (s *PaymentService) countRefund(gatewayName string, out gateway.Outcome) {
	if s.metrics == nil {
		return
	}
	result := "success"
	if !out.Success {
		result = string(out.Failure)
	}
	s.metrics.RefundsTotal.WithLabelValues(gatewayName, result).Inc()
}

// providerError turns a failed outcome into a domain error carrying the
// provider's message.
func providerError(out gateway.Outcome) error {
	if out.Retryable() {
		return domainErrors.NewDomainError("provider_unavailable", out.Message, domainErrors.ErrProviderUnavailable)
	}
	switch out.Failure {
	case gateway.FailureInvalidRequest:
		return domainErrors.NewDomainError("invalid_request", out.Message, domainErrors.ErrInvalidInput)
	case gateway.FailureConfiguration:
		return domainErrors.NewDomainError("gateway_misconfigured", out.Message, domainErrors.ErrGatewayMisconfigured)
	default:
		return domainErrors.NewDomainError("provider_rejected", out.Message, domainErrors.ErrProviderRejected)
	}
}

package payment_test

import (
	"testing"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingRecord(t *testing.T) *payment.Record {
	t.Helper()
	r, err := payment.NewRecord("O1", decimal.RequireFromString("250.00"), "php", payment.MethodGCash, "T1", payment.StatusPending)
	require.NoError(t, err)
	return r
}

func TestNewRecord_Valid(t *testing.T) {
	r := newPendingRecord(t)
	assert.Equal(t, payment.StatusPending, r.Status)
	assert.Equal(t, "PHP", r.Currency)
	assert.Equal(t, "T1", r.ExternalTransactionID)
	assert.True(t, r.Amount.Equal(decimal.RequireFromString("250")))
	assert.Nil(t, r.PaidAt)
}

func TestNewRecord_CompletedAtCreationSetsPaidAt(t *testing.T) {
	r, err := payment.NewRecord("O1", decimal.NewFromInt(10), "USD", payment.MethodStripe, "pi_1", payment.StatusCompleted)
	require.NoError(t, err)
	assert.NotNil(t, r.PaidAt)
}

func TestNewRecord_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		orderID  string
		amount   string
		currency string
		method   payment.Method
		txID     string
		status   payment.Status
		field    string
	}{
		{"empty order", "", "10", "PHP", payment.MethodGCash, "T1", payment.StatusPending, "order_id"},
		{"zero amount", "O1", "0", "PHP", payment.MethodGCash, "T1", payment.StatusPending, "amount"},
		{"negative amount", "O1", "-5", "PHP", payment.MethodGCash, "T1", payment.StatusPending, "amount"},
		{"empty currency", "O1", "10", "", payment.MethodGCash, "T1", payment.StatusPending, "currency"},
		{"short currency", "O1", "10", "PH", payment.MethodGCash, "T1", payment.StatusPending, "currency"},
		{"unknown method", "O1", "10", "PHP", payment.Method("venmo"), "T1", payment.StatusPending, "method"},
		{"empty tx id", "O1", "10", "PHP", payment.MethodGCash, " ", payment.StatusPending, "external_transaction_id"},
		{"terminal initial status", "O1", "10", "PHP", payment.MethodGCash, "T1", payment.StatusFailed, "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := payment.NewRecord(tt.orderID, decimal.RequireFromString(tt.amount), tt.currency, tt.method, tt.txID, tt.status)
			require.Error(t, err)
			var vErr *errors.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestCanTransition(t *testing.T) {
	all := []payment.Status{
		payment.StatusPending,
		payment.StatusCompleted,
		payment.StatusFailed,
		payment.StatusCancelled,
		payment.StatusRefunded,
	}
	allowed := map[[2]payment.Status]bool{
		{payment.StatusPending, payment.StatusCompleted}:  true,
		{payment.StatusPending, payment.StatusFailed}:     true,
		{payment.StatusPending, payment.StatusCancelled}:  true,
		{payment.StatusCompleted, payment.StatusRefunded}: true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]payment.Status{from, to}], payment.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestRecord_Apply_SetsPaidAtOnce(t *testing.T) {
	r := newPendingRecord(t)
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.True(t, r.Apply(payment.StatusCompleted, first, nil))
	require.NotNil(t, r.PaidAt)
	assert.Equal(t, first, *r.PaidAt)

	assert.False(t, r.Apply(payment.StatusCompleted, first.Add(time.Hour), nil))
	assert.Equal(t, first, *r.PaidAt)

	assert.True(t, r.Apply(payment.StatusRefunded, first.Add(2*time.Hour), nil))
	assert.Equal(t, payment.StatusRefunded, r.Status)
	assert.Equal(t, first, *r.PaidAt)
}

func TestRecord_Apply_UsesProviderSettlementTime(t *testing.T) {
	r := newPendingRecord(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	settled := now.Add(-10 * time.Minute)

	require.True(t, r.Apply(payment.StatusCompleted, now, &settled))
	require.NotNil(t, r.PaidAt)
	assert.Equal(t, settled, *r.PaidAt)
	assert.Equal(t, now, r.UpdatedAt)
}

func TestRecord_Apply_NoBackwardTransition(t *testing.T) {
	for _, terminal := range []payment.Status{payment.StatusFailed, payment.StatusCancelled} {
		r := newPendingRecord(t)
		require.True(t, r.Apply(terminal, time.Now(), nil))

		for _, target := range []payment.Status{payment.StatusPending, payment.StatusCompleted, payment.StatusRefunded} {
			assert.False(t, r.Apply(target, time.Now(), nil))
			assert.Equal(t, terminal, r.Status)
		}
		assert.Nil(t, r.PaidAt)
	}
}

func TestRecord_ValidateRefund(t *testing.T) {
	r := newPendingRecord(t)
	full := decimal.RequireFromString("250.00")
	over := decimal.RequireFromString("300.00")
	partial := decimal.RequireFromString("100.00")

	assert.ErrorIs(t, r.ValidateRefund(nil), errors.ErrInvalidStateTransition)

	require.True(t, r.Apply(payment.StatusCompleted, time.Now(), nil))
	assert.NoError(t, r.ValidateRefund(nil))
	assert.NoError(t, r.ValidateRefund(&full))
	assert.NoError(t, r.ValidateRefund(&partial))
	assert.ErrorIs(t, r.ValidateRefund(&over), errors.ErrRefundExceedsAmount)
	assert.True(t, r.Amount.Equal(full))

	assert.True(t, r.IsFullRefund(nil))
	assert.True(t, r.IsFullRefund(&full))
	assert.False(t, r.IsFullRefund(&partial))
}

func TestParseStatus(t *testing.T) {
	s, err := payment.ParseStatus("refunded")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, s)

	_, err = payment.ParseStatus("processing")
	assert.Error(t, err)
}

func TestParseMethod(t *testing.T) {
	m, err := payment.ParseMethod("GCash")
	require.NoError(t, err)
	assert.Equal(t, payment.MethodGCash, m)

	_, err = payment.ParseMethod("bitcoin")
	assert.Error(t, err)
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, payment.StatusPending.IsTerminal())
	assert.True(t, payment.StatusCompleted.IsTerminal())
	assert.True(t, payment.StatusFailed.IsTerminal())
	assert.True(t, payment.StatusCancelled.IsTerminal())
	assert.True(t, payment.StatusRefunded.IsTerminal())
}

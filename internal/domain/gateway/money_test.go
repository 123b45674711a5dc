package gateway

import (
	"testing"

	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     int64
	}{
		{"250.00", "PHP", 25000},
		{"0.5", "usd", 50},
		{"19.999", "USD", 2000},
		{"1500", "JPY", 1500},
	}

	for _, tt := range tests {
		t.Run(tt.amount+tt.currency, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMinorUnits(decimal.RequireFromString(tt.amount), tt.currency))
		})
	}
}

func TestFromMinorUnits(t *testing.T) {
	assert.True(t, FromMinorUnits(25000, "PHP").Equal(decimal.RequireFromString("250")))
	assert.True(t, FromMinorUnits(1500, "JPY").Equal(decimal.NewFromInt(1500)))
}

func TestCurrencySet(t *testing.T) {
	set := NewCurrencySet([]string{"PHP", "USD"}, decimal.RequireFromString("1.00"), map[string]decimal.Decimal{
		"PHP": decimal.RequireFromString("20.00"),
	})

	assert.True(t, set.Supports("php"))
	assert.False(t, set.Supports("EUR"))
	assert.Equal(t, "20.00", set.Minimum("PHP").StringFixed(2))
	assert.Equal(t, "1.00", set.Minimum("USD").StringFixed(2))

	codes := set.Codes()
	codes[0] = "XXX"
	assert.True(t, set.Supports("PHP"))

	_, ok := set.CheckCreate(CreateRequest{Amount: decimal.NewFromInt(25), Currency: "PHP"})
	assert.True(t, ok)

	out, ok := set.CheckCreate(CreateRequest{Amount: decimal.NewFromInt(5), Currency: "PHP"})
	assert.False(t, ok)
	assert.Equal(t, FailureInvalidRequest, out.Failure)
	assert.Contains(t, out.Message, "20.00 PHP")

	out, ok = set.CheckCreate(CreateRequest{Amount: decimal.NewFromInt(5), Currency: "EUR"})
	assert.False(t, ok)
	assert.Contains(t, out.Message, "EUR")
}

func TestEventType_TargetStatus(t *testing.T) {
	tests := []struct {
		event EventType
		want  payment.Status
		ok    bool
	}{
		{EventPaymentCompleted, payment.StatusCompleted, true},
		{EventPaymentFailed, payment.StatusFailed, true},
		{EventPaymentCancelled, payment.StatusCancelled, true},
		{EventRefundCompleted, payment.StatusRefunded, true},
		{EventRefundReported, "", false},
		{EventUnknown, "", false},
		{EventType("payment.exploded"), "", false},
	}

	for _, tt := range tests {
		status, ok := tt.event.TargetStatus()
		assert.Equal(t, tt.want, status, tt.event)
		assert.Equal(t, tt.ok, ok, tt.event)
	}
	assert.True(t, EventRefundReported.NeedsConfirmation())
	assert.False(t, EventRefundCompleted.NeedsConfirmation())
}

func TestOutcome(t *testing.T) {
	assert.True(t, Succeeded("ok").Success)
	assert.True(t, Failed(FailureTransient, "timeout").Retryable())
	assert.False(t, Failed(FailureRejected, "declined").Retryable())
	assert.False(t, Succeeded("ok").Retryable())
}

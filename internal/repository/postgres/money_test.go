package postgres

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericToDecimal_Success(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"whole pesos", "250", "250"},
		{"with centavos", "250.00", "250"},
		{"cents only", "0.99", "0.99"},
		{"four places", "19.9900", "19.99"},
		{"zero decimal currency", "5000", "5000"},
		{"with whitespace", "  50.25  ", "50.25"},
		{"large amount", "99999999999999.9999", "99999999999999.9999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := numericToDecimal(tt.input)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.expected).Equal(result), "got %s", result)
		})
	}
}

func TestNumericToDecimal_Errors(t *testing.T) {
	for _, input := range []string{"", "abc", "$100.00", "10.5.5"} {
		t.Run(input, func(t *testing.T) {
			_, err := numericToDecimal(input)
			assert.Error(t, err)
		})
	}
}

func TestDecimalToNumeric(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"250.00", "250"},
		{"19.99", "19.99"},
		{"0.12345", "0.1235"},
		{"1000000", "1000000"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, decimalToNumeric(decimal.RequireFromString(tt.input)))
		})
	}
}

func TestMoneyConversion_NoPrecisionLoss(t *testing.T) {
	for _, s := range []string{"0.1", "0.2", "0.3", "1234567.89", "33.33"} {
		d := decimal.RequireFromString(s)
		back, err := numericToDecimal(decimalToNumeric(d))
		require.NoError(t, err)
		assert.True(t, d.Equal(back), s)
	}
}

package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// numericToDecimal parses a NUMERIC column read as text.
func numericToDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty numeric string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

// decimalToNumeric renders an amount for a NUMERIC(18,4) column.
func decimalToNumeric(d decimal.Decimal) string {
	return d.Round(4).String()
}

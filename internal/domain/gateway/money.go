package gateway

import (
	"strings"

	"github.com/shopspring/decimal"
)

var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
	"CLP": true,
	"ISK": true,
}

// NormalizeCurrency returns the upper-case ISO 4217 code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func minorUnitExponent(currency string) int32 {
	if zeroDecimalCurrencies[NormalizeCurrency(currency)] {
		return 0
	}
	return 2
}

// ToMinorUnits converts an amount to the smallest currency unit, e.g. 250.00 PHP -> 25000.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(minorUnitExponent(currency)).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(units int64, currency string) decimal.Decimal {
	return decimal.New(units, -minorUnitExponent(currency))
}

// FormatAmount renders an amount with the currency's usual precision.
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(minorUnitExponent(currency))
}

// CurrencySet answers capability queries for a fixed currency list.
type CurrencySet struct {
	codes    []string
	minimums map[string]decimal.Decimal
	fallback decimal.Decimal
}

// NewCurrencySet builds a set; currencies without an explicit minimum use fallback.
func NewCurrencySet(codes []string, fallback decimal.Decimal, minimums map[string]decimal.Decimal) CurrencySet {
	return CurrencySet{codes: codes, minimums: minimums, fallback: fallback}
}

func (s CurrencySet) Codes() []string {
	out := make([]string, len(s.codes))
	copy(out, s.codes)
	return out
}

func (s CurrencySet) Supports(code string) bool {
	code = NormalizeCurrency(code)
	for _, c := range s.codes {
		if c == code {
			return true
		}
	}
	return false
}

func (s CurrencySet) Minimum(code string) decimal.Decimal {
	if m, ok := s.minimums[NormalizeCurrency(code)]; ok {
		return m
	}
	return s.fallback
}

// CheckCreate validates a create request against the set before any network call.
func (s CurrencySet) CheckCreate(req CreateRequest) (Outcome, bool) {
	if !req.Amount.IsPositive() {
		return Failed(FailureInvalidRequest, "amount must be greater than 0"), false
	}
	if !s.Supports(req.Currency) {
		return Failed(FailureInvalidRequest, "currency "+NormalizeCurrency(req.Currency)+" is not supported"), false
	}
	if minimum := s.Minimum(req.Currency); req.Amount.LessThan(minimum) {
		return Failed(FailureInvalidRequest, "amount is below the minimum of "+FormatAmount(minimum, req.Currency)+" "+NormalizeCurrency(req.Currency)), false
	}
	return Outcome{}, true
}

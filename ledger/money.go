package ledger

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Single fixed currency, two decimal places
// =============================================================================

const (
	CurrencySymbol = "RM"
	AmountPlaces   = 2
)

// MaxChargeAmount is the largest total a single charge may carry.
var MaxChargeAmount = decimal.RequireFromString("999999.99")

// FormatAmount renders an amount for display, e.g. "RM120.00".
func FormatAmount(d decimal.Decimal) string {
	return CurrencySymbol + d.StringFixed(AmountPlaces)
}

// MustParseAmount parses a decimal literal and panics on bad input.
// Intended for fixtures and constants.
func MustParseAmount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// HasValidPlaces reports whether d fits the currency precision.
func HasValidPlaces(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(AmountPlaces))
}

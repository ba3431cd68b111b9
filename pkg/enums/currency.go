package enums

import "strings"

// Currency is the ISO 4217 code captured from the payment gateway.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

// Normalize upper-cases gateway-provided currency codes (Stripe sends "usd").
func Normalize(raw string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(raw)))
}

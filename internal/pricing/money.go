package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/pkg/enums"
)

// RoundMinor rounds an amount to the minor unit of the currency.
func RoundMinor(amount decimal.Decimal, currency enums.Currency) decimal.Decimal {
	return amount.Round(currency.MinorDigits())
}

// MinorUnit is the smallest representable amount of the currency.
func MinorUnit(currency enums.Currency) decimal.Decimal {
	return decimal.New(1, -currency.MinorDigits())
}

// ToAlt converts a USD amount with the company rate. A non-positive rate
// yields zero so callers never divide by it.
func ToAlt(usd, rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return usd.Mul(rate)
}

// ToUSD converts an alt-currency amount with the company rate.
func ToUSD(alt, rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return alt.Div(rate)
}

// NormalizePair derives the missing side of a dual-currency price. When both
// sides are set, USD wins and the alt side is recomputed from it.
func NormalizePair(usd, alt, rate decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if !rate.IsPositive() {
		return usd, alt
	}
	switch {
	case !usd.IsZero():
		return usd, ToAlt(usd, rate)
	case !alt.IsZero():
		return ToUSD(alt, rate), alt
	default:
		return usd, alt
	}
}

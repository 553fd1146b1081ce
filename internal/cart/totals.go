package cart

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/internal/pricing"
	"github.com/angelmondragon/pos-register/pkg/enums"
)

// Bucket sums one company's lines, or the whole cart.
type Bucket struct {
	SubtotalUSD decimal.Decimal `json:"subtotal_usd"`
	SubtotalAlt decimal.Decimal `json:"subtotal_alt"`
	TaxUSD      decimal.Decimal `json:"tax_usd"`
	TaxAlt      decimal.Decimal `json:"tax_alt"`
	TotalUSD    decimal.Decimal `json:"total_usd"`
	TotalAlt    decimal.Decimal `json:"total_alt"`
}

// Add returns the component-wise sum of two buckets.
func (b Bucket) Add(o Bucket) Bucket {
	return Bucket{
		SubtotalUSD: b.SubtotalUSD.Add(o.SubtotalUSD),
		SubtotalAlt: b.SubtotalAlt.Add(o.SubtotalAlt),
		TaxUSD:      b.TaxUSD.Add(o.TaxUSD),
		TaxAlt:      b.TaxAlt.Add(o.TaxAlt),
		TotalUSD:    b.TotalUSD.Add(o.TotalUSD),
		TotalAlt:    b.TotalAlt.Add(o.TotalAlt),
	}
}

// Total returns the total in the given pricing currency.
func (b Bucket) Total(currency enums.Currency) decimal.Decimal {
	if currency == enums.CurrencyLBP {
		return b.TotalAlt
	}
	return b.TotalUSD
}

// Totals is the cart split per company. Grand is always the sum of ByCompany.
type Totals struct {
	ByCompany map[string]Bucket `json:"by_company"`
	Grand     Bucket            `json:"grand"`
}

// ComputeTotals sums the cart per company.
func (c *Cart) ComputeTotals() Totals {
	return SumLines(c.lines, c.ExchangeRate)
}

// SumLines totals lines per company. rateOf supplies each company's exchange
// rate for deriving a zero native subtotal from the other currency.
func SumLines(lines []Line, rateOf func(companyKey string) decimal.Decimal) Totals {
	raw := make(map[string]Bucket)
	for _, line := range lines {
		b := raw[line.CompanyKey]
		subUSD := line.SubtotalUSD()
		subAlt := line.SubtotalAlt()
		b.SubtotalUSD = b.SubtotalUSD.Add(subUSD)
		b.SubtotalAlt = b.SubtotalAlt.Add(subAlt)
		b.TaxUSD = b.TaxUSD.Add(subUSD.Mul(line.TaxRate))
		b.TaxAlt = b.TaxAlt.Add(subAlt.Mul(line.TaxRate))
		raw[line.CompanyKey] = b
	}

	out := Totals{ByCompany: make(map[string]Bucket, len(raw))}
	for company, b := range raw {
		rate := decimal.Zero
		if rateOf != nil {
			rate = rateOf(company)
		}
		b = deriveMissingSide(b, rate)
		b.TotalUSD = b.SubtotalUSD.Add(b.TaxUSD)
		b.TotalAlt = b.SubtotalAlt.Add(b.TaxAlt)
		out.ByCompany[company] = b
		out.Grand = out.Grand.Add(b)
	}
	return out
}

func deriveMissingSide(b Bucket, rate decimal.Decimal) Bucket {
	switch {
	case b.SubtotalUSD.IsZero() && !b.SubtotalAlt.IsZero():
		b.SubtotalUSD = pricing.ToUSD(b.SubtotalAlt, rate)
		b.TaxUSD = pricing.ToUSD(b.TaxAlt, rate)
	case b.SubtotalAlt.IsZero() && !b.SubtotalUSD.IsZero():
		b.SubtotalAlt = pricing.ToAlt(b.SubtotalUSD, rate)
		b.TaxAlt = pricing.ToAlt(b.TaxUSD, rate)
	}
	return b
}

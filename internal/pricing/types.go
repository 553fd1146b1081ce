package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier is one quantity break of a promotion. Prices are per base unit.
type Tier struct {
	ID            string
	ItemID        string
	MinQty        decimal.Decimal
	PromoPriceUSD *decimal.Decimal
	PromoPriceAlt *decimal.Decimal
	DiscountPct   *decimal.Decimal
}

// Promotion is a read-only catalog promotion. StartsOn and EndsOn are dates;
// nil means the window is open on that side.
type Promotion struct {
	ID       string
	Code     string
	StartsOn *time.Time
	EndsOn   *time.Time
	Active   bool
	Priority int
	Items    []Tier
}

// ActiveOn reports whether the promotion applies on the given day.
func (p Promotion) ActiveOn(day time.Time) bool {
	if !p.Active {
		return false
	}
	d := dateOf(day)
	if p.StartsOn != nil && d.Before(dateOf(*p.StartsOn)) {
		return false
	}
	if p.EndsOn != nil && d.After(dateOf(*p.EndsOn)) {
		return false
	}
	return true
}

// CompanyConfig carries the per-company inputs of price resolution.
type CompanyConfig struct {
	Key              string
	ExchangeRate     decimal.Decimal
	DefaultTaxCodeID *string
	VATRate          decimal.Decimal
	// VATCodes maps tax code ids to rates. A non-empty table is authoritative.
	VATCodes map[string]decimal.Decimal
}

// LineInput is what the resolver needs from a cart line. List prices are per
// base unit.
type LineInput struct {
	ItemID       string
	BaseQty      decimal.Decimal
	ListPriceUSD decimal.Decimal
	ListPriceAlt decimal.Decimal
	TaxCodeID    *string
}

// Result is the resolved price of one base unit.
type Result struct {
	UnitPriceUSD           decimal.Decimal
	UnitPriceAlt           decimal.Decimal
	PreDiscountUSD         decimal.Decimal
	PreDiscountAlt         decimal.Decimal
	DiscountPct            decimal.Decimal
	AppliedPromotionID     *string
	AppliedPromotionItemID *string
	TaxCodeID              *string
	TaxRate                decimal.Decimal
}

// Discounted reports whether a promotion changed the price.
func (r Result) Discounted() bool {
	return r.AppliedPromotionID != nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

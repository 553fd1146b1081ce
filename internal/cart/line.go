package cart

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/internal/pricing"
)

// LineKey identifies a cart line. Two lines never share a key.
type LineKey struct {
	CompanyKey string
	ItemID     string
	QtyFactor  string
	UOM        string
}

// Line is one priced cart row. Prices are per base unit; BaseQty is
// QtyEntered times QtyFactor.
type Line struct {
	ID         string          `json:"id"`
	CompanyKey string          `json:"company_key"`
	ItemID     string          `json:"item_id"`
	SKU        string          `json:"sku,omitempty"`
	Name       string          `json:"name,omitempty"`
	UOM        string          `json:"uom"`
	QtyFactor  decimal.Decimal `json:"qty_factor"`
	QtyEntered decimal.Decimal `json:"qty_entered"`
	BaseQty    decimal.Decimal `json:"base_qty"`

	ListPriceUSD   decimal.Decimal `json:"list_price_usd"`
	ListPriceAlt   decimal.Decimal `json:"list_price_alt"`
	UnitPriceUSD   decimal.Decimal `json:"unit_price_usd"`
	UnitPriceAlt   decimal.Decimal `json:"unit_price_alt"`
	PreDiscountUSD decimal.Decimal `json:"pre_discount_usd"`
	PreDiscountAlt decimal.Decimal `json:"pre_discount_alt"`
	DiscountPct    decimal.Decimal `json:"discount_pct"`

	TaxCodeID              *string         `json:"tax_code_id,omitempty"`
	TaxRate                decimal.Decimal `json:"tax_rate"`
	AppliedPromotionID     *string         `json:"applied_promotion_id,omitempty"`
	AppliedPromotionItemID *string         `json:"applied_promotion_item_id,omitempty"`

	// ItemTaxCodeID is the code the catalog assigned; TaxCodeID is the resolved one.
	ItemTaxCodeID *string `json:"item_tax_code_id,omitempty"`
}

// Key returns the merge key of the line.
func (l Line) Key() LineKey {
	return keyFor(l.CompanyKey, l.ItemID, l.QtyFactor, l.UOM)
}

func keyFor(company, item string, factor decimal.Decimal, uom string) LineKey {
	return LineKey{
		CompanyKey: company,
		ItemID:     item,
		QtyFactor:  factor.String(),
		UOM:        strings.ToLower(strings.TrimSpace(uom)),
	}
}

// SubtotalUSD is the discounted line amount before tax.
func (l Line) SubtotalUSD() decimal.Decimal {
	return l.UnitPriceUSD.Mul(l.BaseQty)
}

// SubtotalAlt is the discounted alt-currency line amount before tax.
func (l Line) SubtotalAlt() decimal.Decimal {
	return l.UnitPriceAlt.Mul(l.BaseQty)
}

// DiscountUSD is the amount the promotion took off the line.
func (l Line) DiscountUSD() decimal.Decimal {
	return l.PreDiscountUSD.Sub(l.UnitPriceUSD).Mul(l.BaseQty)
}

// DiscountAlt is the alt-currency amount the promotion took off the line.
func (l Line) DiscountAlt() decimal.Decimal {
	return l.PreDiscountAlt.Sub(l.UnitPriceAlt).Mul(l.BaseQty)
}

func (l Line) pricingInput() pricing.LineInput {
	return pricing.LineInput{
		ItemID:       l.ItemID,
		BaseQty:      l.BaseQty,
		ListPriceUSD: l.ListPriceUSD,
		ListPriceAlt: l.ListPriceAlt,
		TaxCodeID:    l.ItemTaxCodeID,
	}
}

func (l *Line) apply(res pricing.Result) {
	l.UnitPriceUSD = res.UnitPriceUSD
	l.UnitPriceAlt = res.UnitPriceAlt
	l.PreDiscountUSD = res.PreDiscountUSD
	l.PreDiscountAlt = res.PreDiscountAlt
	l.DiscountPct = res.DiscountPct
	l.AppliedPromotionID = res.AppliedPromotionID
	l.AppliedPromotionItemID = res.AppliedPromotionItemID
	l.TaxCodeID = res.TaxCodeID
	l.TaxRate = res.TaxRate
}

// PricedFor returns a copy of the line moved under companyKey and re-priced
// with that company's promotions and tax setup. List prices are kept.
func (l Line) PricedFor(companyKey string, promos []pricing.Promotion, company pricing.CompanyConfig, today time.Time) Line {
	out := l
	out.CompanyKey = companyKey
	if !out.QtyFactor.IsPositive() {
		out.QtyFactor = decimal.NewFromInt(1)
	}
	out.BaseQty = out.QtyEntered.Mul(out.QtyFactor)
	out.apply(pricing.Resolve(out.pricingInput(), promos, company, today))
	return out
}

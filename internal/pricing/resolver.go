package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

type candidate struct {
	promo   Promotion
	tier    Tier
	score   decimal.Decimal
	unitUSD decimal.Decimal
	unitAlt decimal.Decimal
}

// Resolve prices one line. It never fails: without a qualifying promotion the
// line is priced at list with discount metadata cleared.
func Resolve(line LineInput, promos []Promotion, company CompanyConfig, today time.Time) Result {
	listUSD, listAlt := NormalizePair(line.ListPriceUSD, line.ListPriceAlt, company.ExchangeRate)
	taxCode, taxRate := ResolveTax(line.TaxCodeID, company)

	res := Result{
		UnitPriceUSD:   listUSD,
		UnitPriceAlt:   listAlt,
		PreDiscountUSD: listUSD,
		PreDiscountAlt: listAlt,
		DiscountPct:    decimal.Zero,
		TaxCodeID:      taxCode,
		TaxRate:        taxRate,
	}

	best, ok := bestCandidate(line, promos, listUSD, listAlt, company.ExchangeRate, today)
	if !ok {
		return res
	}
	promoID := best.promo.ID
	tierID := best.tier.ID
	res.UnitPriceUSD = best.unitUSD
	res.UnitPriceAlt = best.unitAlt
	res.DiscountPct = best.score
	res.AppliedPromotionID = &promoID
	res.AppliedPromotionItemID = &tierID
	return res
}

func bestCandidate(line LineInput, promos []Promotion, listUSD, listAlt, rate decimal.Decimal, today time.Time) (candidate, bool) {
	var (
		best  candidate
		found bool
	)
	if !line.BaseQty.IsPositive() {
		return best, false
	}
	for _, promo := range promos {
		if !promo.ActiveOn(today) {
			continue
		}
		tier, ok := highestTier(promo, line.ItemID, line.BaseQty)
		if !ok {
			continue
		}
		c, ok := scoreTier(promo, tier, listUSD, listAlt, rate)
		if !ok {
			continue
		}
		if !found || better(c, best) {
			best = c
			found = true
		}
	}
	return best, found
}

// highestTier keeps the largest min quantity the line qualifies for.
func highestTier(promo Promotion, itemID string, baseQty decimal.Decimal) (Tier, bool) {
	var (
		best  Tier
		found bool
	)
	for _, tier := range promo.Items {
		if tier.ItemID != itemID || tier.MinQty.GreaterThan(baseQty) {
			continue
		}
		if !found || tier.MinQty.GreaterThan(best.MinQty) {
			best = tier
			found = true
		}
	}
	return best, found
}

func scoreTier(promo Promotion, tier Tier, listUSD, listAlt, rate decimal.Decimal) (candidate, bool) {
	c := candidate{promo: promo, tier: tier}
	switch {
	case tier.PromoPriceUSD != nil && listUSD.IsPositive():
		price := clampPrice(*tier.PromoPriceUSD, listUSD)
		c.score = clampScore(one.Sub(price.Div(listUSD)))
		c.unitUSD = price
		if rate.IsPositive() {
			c.unitAlt = ToAlt(price, rate)
		} else {
			c.unitAlt = listAlt.Mul(one.Sub(c.score))
		}
	case tier.PromoPriceAlt != nil && listAlt.IsPositive():
		price := clampPrice(*tier.PromoPriceAlt, listAlt)
		c.score = clampScore(one.Sub(price.Div(listAlt)))
		c.unitAlt = price
		if rate.IsPositive() {
			c.unitUSD = ToUSD(price, rate)
		} else {
			c.unitUSD = listUSD.Mul(one.Sub(c.score))
		}
	case tier.DiscountPct != nil:
		c.score = NormalizePct(*tier.DiscountPct)
		keep := one.Sub(c.score)
		c.unitUSD = listUSD.Mul(keep)
		c.unitAlt = listAlt.Mul(keep)
	default:
		return c, false
	}
	return c, true
}

// better orders candidates by score, then priority, then min quantity, then id.
func better(a, b candidate) bool {
	if cmp := a.score.Cmp(b.score); cmp != 0 {
		return cmp > 0
	}
	if a.promo.Priority != b.promo.Priority {
		return a.promo.Priority > b.promo.Priority
	}
	if cmp := a.tier.MinQty.Cmp(b.tier.MinQty); cmp != 0 {
		return cmp > 0
	}
	return a.promo.ID < b.promo.ID
}

// NormalizePct accepts a fraction or a 0-100 percentage and returns a fraction in [0,1].
func NormalizePct(pct decimal.Decimal) decimal.Decimal {
	if pct.GreaterThan(one) {
		pct = pct.Div(hundred)
	}
	return clampScore(pct)
}

func clampScore(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(one) {
		return one
	}
	return v
}

func clampPrice(price, list decimal.Decimal) decimal.Decimal {
	if price.IsNegative() {
		return decimal.Zero
	}
	if price.GreaterThan(list) {
		return list
	}
	return price
}

// ResolveTax falls back to the company default code. A populated VAT table is
// authoritative: codes missing from it are taxed at zero, except the default
// code which keeps the company VAT rate.
func ResolveTax(lineCode *string, company CompanyConfig) (*string, decimal.Decimal) {
	code := lineCode
	if code == nil || *code == "" {
		code = company.DefaultTaxCodeID
	}
	if code == nil || *code == "" {
		return nil, decimal.Zero
	}
	resolved := *code
	isDefault := company.DefaultTaxCodeID != nil && *company.DefaultTaxCodeID == resolved

	if len(company.VATCodes) == 0 {
		return &resolved, company.VATRate
	}
	rate, ok := company.VATCodes[resolved]
	switch {
	case ok && !rate.IsZero():
		return &resolved, rate
	case isDefault:
		return &resolved, company.VATRate
	default:
		return &resolved, decimal.Zero
	}
}

package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/internal/cart"
	"github.com/angelmondragon/pos-register/internal/catalog"
	"github.com/angelmondragon/pos-register/internal/pricing"
	"github.com/angelmondragon/pos-register/pkg/enums"
	"github.com/angelmondragon/pos-register/pkg/outbox/payloads"
)

// invoiceAmounts holds the sums a payload is balanced against.
type invoiceAmounts struct {
	baseUSD decimal.Decimal
	baseAlt decimal.Decimal
	taxUSD  decimal.Decimal
	taxAlt  decimal.Decimal
}

func (a invoiceAmounts) totalUSD() decimal.Decimal { return a.baseUSD.Add(a.taxUSD) }
func (a invoiceAmounts) totalAlt() decimal.Decimal { return a.baseAlt.Add(a.taxAlt) }

// buildInvoiceLines converts cart lines into ledger lines. A zero total on one
// side is derived from the other through the exchange rate.
func buildInvoiceLines(lines []cart.Line, rate decimal.Decimal) ([]payloads.InvoiceLine, invoiceAmounts) {
	out := make([]payloads.InvoiceLine, 0, len(lines))
	var sums invoiceAmounts
	for _, line := range lines {
		factor := line.QtyFactor
		if !factor.IsPositive() {
			factor = decimal.NewFromInt(1)
		}
		qty := line.BaseQty
		qtyEntered := line.QtyEntered
		if qtyEntered.IsZero() && !qty.IsZero() {
			qtyEntered = qty.Div(factor)
		}

		totalUSD := line.UnitPriceUSD.Mul(qty)
		totalAlt := line.UnitPriceAlt.Mul(qty)
		if totalAlt.IsZero() {
			totalAlt = pricing.ToAlt(totalUSD, rate)
		}
		if totalUSD.IsZero() {
			totalUSD = pricing.ToUSD(totalAlt, rate)
		}
		sums.baseUSD = sums.baseUSD.Add(totalUSD)
		sums.baseAlt = sums.baseAlt.Add(totalAlt)

		var uom *string
		if line.UOM != "" {
			u := line.UOM
			uom = &u
		}
		out = append(out, payloads.InvoiceLine{
			ItemID:                  line.ItemID,
			TaxCodeID:               line.ItemTaxCodeID,
			Qty:                     qty,
			UOM:                     uom,
			QtyFactor:               factor,
			QtyEntered:              qtyEntered,
			UnitPriceUSD:            line.UnitPriceUSD,
			UnitPriceLBP:            line.UnitPriceAlt,
			UnitPriceEnteredUSD:     line.UnitPriceUSD.Mul(factor),
			UnitPriceEnteredLBP:     line.UnitPriceAlt.Mul(factor),
			PreDiscountUnitPriceUSD: line.PreDiscountUSD,
			PreDiscountUnitPriceLBP: line.PreDiscountAlt,
			DiscountPct:             line.DiscountPct,
			DiscountAmountUSD:       line.DiscountUSD(),
			DiscountAmountLBP:       line.DiscountAlt(),
			AppliedPromotionID:      line.AppliedPromotionID,
			AppliedPromotionItemID:  line.AppliedPromotionItemID,
			LineTotalUSD:            totalUSD,
			LineTotalLBP:            totalAlt,
		})
	}
	return out, sums
}

// buildTax posts tax per resolved code and rate, the same ones the cart
// totals used. Lines without a code or with a zero rate are untaxed; an
// invoice with no taxed line carries no tax block.
func buildTax(src []cart.Line, lines []payloads.InvoiceLine, company pricing.CompanyConfig, sums *invoiceAmounts, today time.Time) (*payloads.TaxBlock, []payloads.TaxBlock) {
	type group struct {
		block payloads.TaxBlock
		rate  decimal.Decimal
	}
	taxDate := today.UTC().Format(time.DateOnly)

	var order []string
	groups := make(map[string]*group)
	for i, line := range src {
		code, rate := lineTax(line, company)
		if code == nil || *code == "" || !rate.IsPositive() {
			continue
		}
		key := *code + "@" + rate.String()
		g, ok := groups[key]
		if !ok {
			g = &group{block: payloads.TaxBlock{TaxCodeID: *code, TaxDate: taxDate}, rate: rate}
			groups[key] = g
			order = append(order, key)
		}
		g.block.BaseUSD = g.block.BaseUSD.Add(lines[i].LineTotalUSD)
		g.block.BaseLBP = g.block.BaseLBP.Add(lines[i].LineTotalLBP)
	}
	if len(order) == 0 {
		return nil, nil
	}

	breakdown := make([]payloads.TaxBlock, 0, len(order))
	for _, key := range order {
		g := groups[key]
		g.block.TaxUSD = g.block.BaseUSD.Mul(g.rate)
		g.block.TaxLBP = g.block.BaseLBP.Mul(g.rate)
		sums.taxUSD = sums.taxUSD.Add(g.block.TaxUSD)
		sums.taxAlt = sums.taxAlt.Add(g.block.TaxLBP)
		breakdown = append(breakdown, g.block)
	}

	headerCode := breakdown[0].TaxCodeID
	if company.DefaultTaxCodeID != nil && *company.DefaultTaxCodeID != "" {
		headerCode = *company.DefaultTaxCodeID
	}
	return &payloads.TaxBlock{
		TaxCodeID: headerCode,
		BaseUSD:   sums.baseUSD,
		BaseLBP:   sums.baseAlt,
		TaxUSD:    sums.taxUSD,
		TaxLBP:    sums.taxAlt,
		TaxDate:   taxDate,
	}, breakdown
}

// lineTax returns the code and rate priced onto the line. Lines that arrive
// unpriced, such as returns, resolve through the same rule.
func lineTax(line cart.Line, company pricing.CompanyConfig) (*string, decimal.Decimal) {
	if line.TaxCodeID != nil {
		return line.TaxCodeID, line.TaxRate
	}
	return pricing.ResolveTax(line.ItemTaxCodeID, company)
}

// buildPayments books credit at zero; any other method carries both currency
// equivalents of the invoice total.
func buildPayments(method enums.PaymentMethod, sums invoiceAmounts) []payloads.Payment {
	if method.IsCredit() {
		return []payloads.Payment{{Method: method, AmountUSD: decimal.Zero, AmountLBP: decimal.Zero}}
	}
	return []payloads.Payment{{
		Method:    method,
		AmountUSD: pricing.RoundMinor(sums.totalUSD(), enums.CurrencyUSD),
		AmountLBP: pricing.RoundMinor(sums.totalAlt(), enums.CurrencyLBP),
	}}
}

type saleInput struct {
	invoice       InvoiceDraft
	snapshot      catalog.Snapshot
	method        enums.PaymentMethod
	currency      enums.Currency
	shiftID       *string
	cashierID     *string
	approvalToken *string
	today         time.Time
}

func buildSalePayload(in saleInput) (payloads.SaleCompleted, invoiceAmounts) {
	company := in.snapshot.Config
	lines, sums := buildInvoiceLines(in.invoice.Lines, company.ExchangeRate)
	tax, breakdown := buildTax(in.invoice.Lines, lines, company, &sums, in.today)

	loyalty := decimal.Zero
	if in.snapshot.LoyaltyRate.IsPositive() {
		loyalty = sums.baseUSD.Mul(in.snapshot.LoyaltyRate)
	}

	return payloads.SaleCompleted{
		ExchangeRate:       company.ExchangeRate,
		PricingCurrency:    in.currency,
		SettlementCurrency: in.currency,
		CustomerID:         in.invoice.CustomerID,
		WarehouseID:        in.snapshot.WarehouseID,
		ShiftID:            in.shiftID,
		CashierID:          in.cashierID,
		Lines:              lines,
		Tax:                tax,
		TaxBreakdown:       breakdown,
		Payments:           buildPayments(in.method, sums),
		LoyaltyPoints:      loyalty,
		CrossCompany:       in.invoice.CrossCompany,
		SkipStockMoves:     in.invoice.SkipStockMoves,
		ApprovalToken:      in.approvalToken,
	}, sums
}

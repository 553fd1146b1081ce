package checkout

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
)

// SplitToleranceMinor is how many minor units the split invoices may drift
// from the cart total.
const SplitToleranceMinor = 1

// SplitTotalInput is one company's share of a split checkout.
type SplitTotalInput struct {
	CompanyKey string
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
}

// SplitViolationDetail exposes the data returned when split totals drift.
type SplitViolationDetail struct {
	Currency     enums.Currency             `json:"currency"`
	GrandTotal   decimal.Decimal            `json:"grand_total"`
	SplitTotal   decimal.Decimal            `json:"split_total"`
	Difference   decimal.Decimal            `json:"difference"`
	Tolerance    decimal.Decimal            `json:"tolerance"`
	CompanyTotal map[string]decimal.Decimal `json:"company_totals"`
}

// ValidateSplitTotals checks that the per-company invoice totals, each rounded
// to the currency's minor unit, add up to the cart grand total within
// SplitToleranceMinor.
func ValidateSplitTotals(currency enums.Currency, grand decimal.Decimal, parts []SplitTotalInput) error {
	digits := currency.MinorDigits()
	tolerance := decimal.New(SplitToleranceMinor, -digits)
	grandRounded := grand.Round(digits)

	sum := decimal.Zero
	perCompany := make(map[string]decimal.Decimal, len(parts))
	for _, part := range parts {
		total := part.Subtotal.Add(part.Tax).Round(digits)
		perCompany[part.CompanyKey] = total
		sum = sum.Add(total)
	}

	diff := sum.Sub(grandRounded).Abs()
	if diff.LessThanOrEqual(tolerance) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeGuardrail, fmt.Sprintf("split invoices total %s but the cart totals %s", sum, grandRounded)).WithDetails(map[string]any{
		"violation": SplitViolationDetail{
			Currency:     currency,
			GrandTotal:   grandRounded,
			SplitTotal:   sum,
			Difference:   diff,
			Tolerance:    tolerance,
			CompanyTotal: perCompany,
		},
	})
}

// RefundInput describes a computed refund against the returned lines.
type RefundInput struct {
	ReturnTotal   decimal.Decimal
	Refund        decimal.Decimal
	RestockingFee decimal.Decimal
	// InvoiceTotal is the original invoice total; zero when unknown.
	InvoiceTotal decimal.Decimal
}

// ValidateRefund ensures refund plus fee reconciles with the returned amount
// and never exceeds the original invoice.
func ValidateRefund(currency enums.Currency, in RefundInput) error {
	digits := currency.MinorDigits()
	minor := decimal.New(1, -digits)

	if in.Refund.IsNegative() || in.RestockingFee.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeGuardrail, "refund and restocking fee cannot be negative")
	}
	booked := in.Refund.Add(in.RestockingFee).Round(digits)
	returned := in.ReturnTotal.Round(digits)
	if booked.Sub(returned).Abs().GreaterThan(minor) {
		return pkgerrors.New(pkgerrors.CodeGuardrail, "refund does not reconcile with the returned lines").WithDetails(map[string]any{
			"return_total":   returned,
			"refund":         in.Refund,
			"restocking_fee": in.RestockingFee,
		})
	}
	if in.InvoiceTotal.IsPositive() && returned.Sub(in.InvoiceTotal.Round(digits)).GreaterThan(minor) {
		return pkgerrors.New(pkgerrors.CodeGuardrail, "return exceeds the original invoice total").WithDetails(map[string]any{
			"return_total":  returned,
			"invoice_total": in.InvoiceTotal,
		})
	}
	return nil
}

package checkout

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestValidateSplitTotals_WithinTolerance(t *testing.T) {
	parts := []SplitTotalInput{
		{CompanyKey: "official", Subtotal: d("10.005"), Tax: d("1.1")},
		{CompanyKey: "unofficial", Subtotal: d("5.555"), Tax: d("0")},
	}
	// 11.11 + 5.56 lands one cent over the grand total
	if err := ValidateSplitTotals(enums.CurrencyUSD, d("16.66"), parts); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateSplitTotals_Violation(t *testing.T) {
	parts := []SplitTotalInput{
		{CompanyKey: "official", Subtotal: d("10"), Tax: d("1.1")},
		{CompanyKey: "unofficial", Subtotal: d("5"), Tax: d("0")},
	}
	err := ValidateSplitTotals(enums.CurrencyUSD, d("16.20"), parts)
	if err == nil {
		t.Fatal("expected guardrail violation")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeGuardrail {
		t.Fatalf("expected guardrail code, got %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		t.Fatalf("expected map details, got %T", typed.Details())
	}
	violation, ok := details["violation"].(SplitViolationDetail)
	if !ok {
		t.Fatalf("expected violation detail, got %T", details["violation"])
	}
	if !violation.Difference.Equal(d("0.1")) {
		t.Fatalf("unexpected difference %s", violation.Difference)
	}
}

func TestValidateSplitTotals_AltCurrencyUsesWholeUnits(t *testing.T) {
	parts := []SplitTotalInput{{CompanyKey: "unofficial", Subtotal: d("895000.4"), Tax: d("0")}}
	if err := ValidateSplitTotals(enums.CurrencyLBP, d("895001"), parts); err != nil {
		t.Fatalf("one lira apart must pass, got %v", err)
	}
	if err := ValidateSplitTotals(enums.CurrencyLBP, d("895002"), parts); err == nil {
		t.Fatal("two lira apart must fail")
	}
}

func TestValidateRefund(t *testing.T) {
	ok := RefundInput{ReturnTotal: d("20"), Refund: d("18"), RestockingFee: d("2"), InvoiceTotal: d("50")}
	if err := ValidateRefund(enums.CurrencyUSD, ok); err != nil {
		t.Fatalf("expected reconciled refund, got %v", err)
	}

	short := RefundInput{ReturnTotal: d("20"), Refund: d("15")}
	if err := ValidateRefund(enums.CurrencyUSD, short); pkgerrors.CodeOf(err) != pkgerrors.CodeGuardrail {
		t.Fatalf("expected guardrail for unreconciled refund, got %v", err)
	}

	over := RefundInput{ReturnTotal: d("60"), Refund: d("60"), InvoiceTotal: d("50")}
	if err := ValidateRefund(enums.CurrencyUSD, over); pkgerrors.CodeOf(err) != pkgerrors.CodeGuardrail {
		t.Fatalf("expected guardrail for return above invoice, got %v", err)
	}

	negative := RefundInput{ReturnTotal: d("5"), Refund: d("6"), RestockingFee: d("-1")}
	if err := ValidateRefund(enums.CurrencyUSD, negative); err == nil {
		t.Fatal("negative fee must be rejected")
	}
}

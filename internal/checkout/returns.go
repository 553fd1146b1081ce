package checkout

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/internal/cart"
	pkgcheckout "github.com/angelmondragon/pos-register/pkg/checkout"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/outbox"
	"github.com/angelmondragon/pos-register/pkg/outbox/payloads"
)

// ReturnRequest books returned lines against an issued invoice.
type ReturnRequest struct {
	CompanyKey      string              `json:"company_key"`
	InvoiceID       string              `json:"invoice_id"`
	Lines           []cart.Line         `json:"lines"`
	RefundMethod    enums.PaymentMethod `json:"refund_method"`
	PricingCurrency enums.Currency      `json:"pricing_currency,omitempty"`
	ShiftID         *string             `json:"shift_id,omitempty"`
	CashierID       *string             `json:"cashier_id,omitempty"`
	// InvoiceTotal is the original invoice total in the pricing currency,
	// zero when the register does not know it.
	InvoiceTotal decimal.Decimal `json:"invoice_total"`
	// IdempotencyKey must be reused when retrying the same return.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// RefundQuote is what a refund calculator prices.
type RefundQuote struct {
	CompanyKey     string
	Currency       enums.Currency
	Lines          []cart.Line
	ReturnTotalUSD decimal.Decimal
	ReturnTotalAlt decimal.Decimal
	InvoiceTotal   decimal.Decimal
}

// Refund splits the returned amount into money back and a restocking fee.
type Refund struct {
	RefundUSD decimal.Decimal `json:"refund_usd"`
	RefundAlt decimal.Decimal `json:"refund_alt"`
	FeeUSD    decimal.Decimal `json:"restocking_fee_usd"`
	FeeAlt    decimal.Decimal `json:"restocking_fee_alt"`
}

// RefundCalculator decides the restocking fee of a return. Whatever it
// returns must reconcile with the returned total.
type RefundCalculator interface {
	Refund(quote RefundQuote) (Refund, error)
}

// NoFeeRefunds refunds the full returned amount.
type NoFeeRefunds struct{}

func (NoFeeRefunds) Refund(quote RefundQuote) (Refund, error) {
	return Refund{
		RefundUSD: quote.ReturnTotalUSD,
		RefundAlt: quote.ReturnTotalAlt,
		FeeUSD:    decimal.Zero,
		FeeAlt:    decimal.Zero,
	}, nil
}

// ReturnResult mirrors the outbox outcome of a return.
type ReturnResult struct {
	EventID       uuid.UUID `json:"event_id"`
	Settled       bool      `json:"settled"`
	Deferred      bool      `json:"deferred"`
	Replayed      bool      `json:"replayed"`
	RemoteEventID string    `json:"remote_event_id,omitempty"`
	InvoiceID     *string   `json:"invoice_id,omitempty"`
	Refund        Refund    `json:"refund"`
}

func (s *service) SubmitReturn(ctx context.Context, req ReturnRequest) (ReturnResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateReturn(&req); err != nil {
		return ReturnResult{}, err
	}
	currency := s.currency
	if req.PricingCurrency != "" {
		currency = req.PricingCurrency
	}
	ctx = s.logg.WithCompany(ctx, req.CompanyKey)

	snap, err := s.snapshot(req.CompanyKey)
	if err != nil {
		return ReturnResult{}, err
	}

	var token *string
	actor := &outbox.ActorRef{RegisterID: s.registerID, CashierID: req.CashierID}
	if s.policy.Requires(req.CompanyKey, enums.ApprovalReturn) {
		grant, ok := s.approvals.Lookup(req.CompanyKey, s.now())
		if !ok {
			return ReturnResult{}, pkgerrors.New(pkgerrors.CodeApproval, "manager approval required").
				WithDetails(map[string]any{"companies": []string{req.CompanyKey}, "operation": enums.ApprovalReturn})
		}
		t := grant.Token
		token = &t
		if grant.ManagerID != "" {
			manager := grant.ManagerID
			actor.ApprovedBy = &manager
		}
	}

	company := snap.Config
	lines, sums := buildInvoiceLines(req.Lines, company.ExchangeRate)
	tax, breakdown := buildTax(req.Lines, lines, company, &sums, s.now())

	refund, err := s.refunds.Refund(RefundQuote{
		CompanyKey:     req.CompanyKey,
		Currency:       currency,
		Lines:          req.Lines,
		ReturnTotalUSD: sums.totalUSD(),
		ReturnTotalAlt: sums.totalAlt(),
		InvoiceTotal:   req.InvoiceTotal,
	})
	if err != nil {
		return ReturnResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "refund calculation failed")
	}
	check := pkgcheckout.RefundInput{
		ReturnTotal:   sums.totalUSD(),
		Refund:        refund.RefundUSD,
		RestockingFee: refund.FeeUSD,
		InvoiceTotal:  req.InvoiceTotal,
	}
	if currency == enums.CurrencyLBP {
		check.ReturnTotal, check.Refund, check.RestockingFee = sums.totalAlt(), refund.RefundAlt, refund.FeeAlt
	}
	if err := pkgcheckout.ValidateRefund(currency, check); err != nil {
		s.logg.Error(ctx, "refund guardrail tripped", err)
		return ReturnResult{}, err
	}

	payload := payloads.SaleReturned{
		InvoiceID:          req.InvoiceID,
		ExchangeRate:       company.ExchangeRate,
		PricingCurrency:    currency,
		SettlementCurrency: currency,
		WarehouseID:        snap.WarehouseID,
		ShiftID:            req.ShiftID,
		CashierID:          req.CashierID,
		RefundMethod:       req.RefundMethod,
		Lines:              lines,
		Tax:                tax,
		TaxBreakdown:       breakdown,
		RefundUSD:          refund.RefundUSD,
		RefundLBP:          refund.RefundAlt,
		RestockingFeeUSD:   refund.FeeUSD,
		RestockingFeeLBP:   refund.FeeAlt,
		ApprovalToken:      token,
	}

	res, err := s.outbox.Submit(ctx, outbox.SubmitRequest{
		CompanyKey:     req.CompanyKey,
		EventType:      enums.EventSaleReturned,
		Payload:        payload,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          actor,
	})
	out := ReturnResult{
		EventID:       res.EventID,
		Settled:       res.Settled,
		Deferred:      res.Deferred,
		Replayed:      res.Replayed,
		RemoteEventID: res.RemoteEventID,
		InvoiceID:     res.InvoiceID,
		Refund:        refund,
	}
	if err != nil {
		s.logg.Error(ctx, "return submission failed", err)
		return out, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"invoice_id": req.InvoiceID,
		"deferred":   res.Deferred,
	}), "return submitted")
	return out, nil
}

func validateReturn(req *ReturnRequest) error {
	req.CompanyKey = strings.TrimSpace(req.CompanyKey)
	req.InvoiceID = strings.TrimSpace(req.InvoiceID)
	if req.RefundMethod == "" {
		req.RefundMethod = enums.PaymentMethodCash
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = "return:" + uuid.NewString()
	}
	switch {
	case req.CompanyKey == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "company key is required")
	case req.InvoiceID == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	case len(req.Lines) == 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "return has no lines")
	case !req.RefundMethod.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown refund method")
	case req.PricingCurrency != "" && !req.PricingCurrency.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown pricing currency")
	}
	for _, line := range req.Lines {
		if !line.BaseQty.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, "returned quantity must be positive").
				WithDetails(map[string]any{"item_id": line.ItemID})
		}
	}
	return nil
}

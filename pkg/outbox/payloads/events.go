package payloads

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/pkg/enums"
)

// InvoiceLine is one priced cart line as the ledger books it. Qty is the base
// quantity used for stock; QtyEntered, UOM and QtyFactor keep what the cashier scanned.
type InvoiceLine struct {
	ItemID                  string          `json:"item_id" validate:"required"`
	TaxCodeID               *string         `json:"tax_code_id"`
	Qty                     decimal.Decimal `json:"qty"`
	UOM                     *string         `json:"uom"`
	QtyFactor               decimal.Decimal `json:"qty_factor"`
	QtyEntered              decimal.Decimal `json:"qty_entered"`
	UnitPriceUSD            decimal.Decimal `json:"unit_price_usd"`
	UnitPriceLBP            decimal.Decimal `json:"unit_price_lbp"`
	UnitPriceEnteredUSD     decimal.Decimal `json:"unit_price_entered_usd"`
	UnitPriceEnteredLBP     decimal.Decimal `json:"unit_price_entered_lbp"`
	PreDiscountUnitPriceUSD decimal.Decimal `json:"pre_discount_unit_price_usd"`
	PreDiscountUnitPriceLBP decimal.Decimal `json:"pre_discount_unit_price_lbp"`
	DiscountPct             decimal.Decimal `json:"discount_pct"`
	DiscountAmountUSD       decimal.Decimal `json:"discount_amount_usd"`
	DiscountAmountLBP       decimal.Decimal `json:"discount_amount_lbp"`
	AppliedPromotionID      *string         `json:"applied_promotion_id"`
	AppliedPromotionItemID  *string         `json:"applied_promotion_item_id"`
	LineTotalUSD            decimal.Decimal `json:"line_total_usd"`
	LineTotalLBP            decimal.Decimal `json:"line_total_lbp"`
}

// TaxBlock is the tax posted for one tax code, or for the whole invoice.
type TaxBlock struct {
	TaxCodeID string          `json:"tax_code_id"`
	BaseUSD   decimal.Decimal `json:"base_usd"`
	BaseLBP   decimal.Decimal `json:"base_lbp"`
	TaxUSD    decimal.Decimal `json:"tax_usd"`
	TaxLBP    decimal.Decimal `json:"tax_lbp"`
	TaxDate   string          `json:"tax_date"`
}

// Payment stores both currency equivalents so the ledger can balance either side.
type Payment struct {
	Method    enums.PaymentMethod `json:"method" validate:"required"`
	AmountUSD decimal.Decimal     `json:"amount_usd"`
	AmountLBP decimal.Decimal     `json:"amount_lbp"`
}

// SaleCompleted is the payload of a sale.completed event.
type SaleCompleted struct {
	InvoiceNo          *string         `json:"invoice_no"`
	ExchangeRate       decimal.Decimal `json:"exchange_rate"`
	PricingCurrency    enums.Currency  `json:"pricing_currency" validate:"required"`
	SettlementCurrency enums.Currency  `json:"settlement_currency" validate:"required"`
	CustomerID         *string         `json:"customer_id"`
	WarehouseID        *string         `json:"warehouse_id"`
	ShiftID            *string         `json:"shift_id"`
	CashierID          *string         `json:"cashier_id"`
	Lines              []InvoiceLine   `json:"lines" validate:"required,min=1,dive"`
	Tax                *TaxBlock       `json:"tax"`
	TaxBreakdown       []TaxBlock      `json:"tax_breakdown"`
	Payments           []Payment       `json:"payments" validate:"required,min=1,dive"`
	LoyaltyPoints      decimal.Decimal `json:"loyalty_points"`
	CrossCompany       bool            `json:"cross_company"`
	SkipStockMoves     bool            `json:"skip_stock_moves"`
	ApprovalToken      *string         `json:"approval_token,omitempty"`
}

// SaleReturned is the payload of a sale.returned event.
type SaleReturned struct {
	ReturnNo           *string             `json:"return_no"`
	InvoiceID          string              `json:"invoice_id" validate:"required"`
	ExchangeRate       decimal.Decimal     `json:"exchange_rate"`
	PricingCurrency    enums.Currency      `json:"pricing_currency" validate:"required"`
	SettlementCurrency enums.Currency      `json:"settlement_currency" validate:"required"`
	WarehouseID        *string             `json:"warehouse_id"`
	ShiftID            *string             `json:"shift_id"`
	CashierID          *string             `json:"cashier_id"`
	RefundMethod       enums.PaymentMethod `json:"refund_method" validate:"required"`
	Lines              []InvoiceLine       `json:"lines" validate:"required,min=1,dive"`
	Tax                *TaxBlock           `json:"tax"`
	TaxBreakdown       []TaxBlock          `json:"tax_breakdown"`
	RefundUSD          decimal.Decimal     `json:"refund_usd"`
	RefundLBP          decimal.Decimal     `json:"refund_lbp"`
	RestockingFeeUSD   decimal.Decimal     `json:"restocking_fee_usd"`
	RestockingFeeLBP   decimal.Decimal     `json:"restocking_fee_lbp"`
	ApprovalToken      *string             `json:"approval_token,omitempty"`
}

// CashMovement is the payload of a pos.cash_movement event.
type CashMovement struct {
	ShiftID      string          `json:"shift_id" validate:"required"`
	CashierID    *string         `json:"cashier_id"`
	MovementType string          `json:"movement_type" validate:"required"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	AmountLBP    decimal.Decimal `json:"amount_lbp"`
	Notes        *string         `json:"notes"`
}

package ledger

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SubmitEvent is one outbox row as the ledger ingests it.
type SubmitEvent struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SubmitBundle is the body of POST /pos/outbox/submit.
type SubmitBundle struct {
	CompanyID string        `json:"company_id"`
	DeviceID  string        `json:"device_id"`
	Events    []SubmitEvent `json:"events"`
}

// SubmitResponse lists the fate of every submitted event.
type SubmitResponse struct {
	Accepted   []string         `json:"accepted" validate:"dive,required"`
	Duplicates []DuplicateEvent `json:"duplicates" validate:"dive"`
	Rejected   []RejectedEvent  `json:"rejected" validate:"dive"`
}

// DuplicateEvent reports an idempotency key the ledger already processed.
type DuplicateEvent struct {
	EventID        string  `json:"event_id" validate:"required"`
	IdempotencyKey string  `json:"idempotency_key"`
	RemoteEventID  string  `json:"remote_event_id" validate:"required"`
	InvoiceID      *string `json:"invoice_id"`
}

// RejectedEvent is a permanent refusal for one event.
type RejectedEvent struct {
	EventID string `json:"event_id" validate:"required"`
	Error   string `json:"error" validate:"required"`
	Kind    string `json:"kind"`
}

// ProcessOneRequest is the body of POST /pos/outbox/process-one.
type ProcessOneRequest struct {
	EventID string `json:"event_id"`
}

// ProcessOneResponse carries the invoice created for a processed event.
type ProcessOneResponse struct {
	EventID   string  `json:"event_id" validate:"required"`
	InvoiceID string  `json:"invoice_id" validate:"required"`
	InvoiceNo *string `json:"invoice_no"`
}

// PostResult is returned by POST /sale and POST /return.
type PostResult struct {
	EventID   string  `json:"event_id" validate:"required"`
	InvoiceID *string `json:"invoice_id"`
}

// VATCode maps a tax code to its rate.
type VATCode struct {
	ID   string          `json:"id" validate:"required"`
	Rate decimal.Decimal `json:"rate"`
}

// DeviceConfig is the company configuration served by GET /pos/config.
type DeviceConfig struct {
	CompanyID               string           `json:"company_id" validate:"required"`
	DefaultWarehouseID      *string          `json:"default_warehouse_id"`
	VAT                     *VATCode         `json:"vat"`
	VATCodes                []VATCode        `json:"vat_codes" validate:"dive"`
	LoyaltyRate             *decimal.Decimal `json:"loyalty_rate"`
	RequireApprovalForSales bool             `json:"require_manager_approval_for_sales"`
}

// ExchangeRateResponse is served by GET /pos/exchange-rate.
type ExchangeRateResponse struct {
	Rate struct {
		USDToLBP decimal.Decimal `json:"usd_to_lbp"`
	} `json:"rate"`
}

// PromotionItem is one tier of a promotion.
type PromotionItem struct {
	ID            string           `json:"id" validate:"required"`
	ItemID        string           `json:"item_id" validate:"required"`
	MinQty        decimal.Decimal  `json:"min_qty"`
	PromoPriceUSD *decimal.Decimal `json:"promo_price_usd"`
	PromoPriceLBP *decimal.Decimal `json:"promo_price_lbp"`
	DiscountPct   *decimal.Decimal `json:"discount_pct"`
}

// Promotion is a catalog promotion as served by the ledger.
type Promotion struct {
	ID       string          `json:"id" validate:"required"`
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	StartsOn *string         `json:"starts_on"`
	EndsOn   *string         `json:"ends_on"`
	IsActive bool            `json:"is_active"`
	Priority int             `json:"priority"`
	Items    []PromotionItem `json:"items" validate:"dive"`
}

type PromotionsResponse struct {
	Promotions []Promotion `json:"promotions" validate:"dive"`
}

// CatalogUOM is a selling unit with its factor to the base stock unit.
type CatalogUOM struct {
	UOM      string           `json:"uom" validate:"required"`
	Factor   decimal.Decimal  `json:"factor"`
	IsBase   bool             `json:"is_base"`
	PriceUSD *decimal.Decimal `json:"price_usd"`
	PriceLBP *decimal.Decimal `json:"price_lbp"`
}

// CatalogItem is a sellable item of one company.
type CatalogItem struct {
	ID        string          `json:"id" validate:"required"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	PriceLBP  decimal.Decimal `json:"price_lbp"`
	TaxCodeID *string         `json:"tax_code_id"`
	UOMs      []CatalogUOM    `json:"uoms" validate:"dive"`
}

type CatalogResponse struct {
	Items []CatalogItem `json:"items" validate:"dive"`
}

// Customer is a customer account that can carry credit.
type Customer struct {
	ID             string           `json:"id" validate:"required"`
	Name           string           `json:"name"`
	Phone          *string          `json:"phone"`
	CreditLimitUSD *decimal.Decimal `json:"credit_limit_usd"`
	IsActive       bool             `json:"is_active"`
}

type CustomersResponse struct {
	Customers []Customer `json:"customers" validate:"dive"`
}

// Cashier is a register operator.
type Cashier struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name"`
	IsManager bool   `json:"is_manager"`
}

type CashiersResponse struct {
	Cashiers []Cashier `json:"cashiers" validate:"dive"`
}

// PINRequest is the body of POST /pos/auth/pin.
type PINRequest struct {
	CompanyID string `json:"company_id"`
	PIN       string `json:"pin"`
}

// PINResponse is a short-lived elevated credential.
type PINResponse struct {
	OK        bool      `json:"ok"`
	ManagerID string    `json:"manager_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

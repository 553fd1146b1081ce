package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pos-register/internal/cart"
	"github.com/angelmondragon/pos-register/pkg/enums"
)

// Request is one payment attempt against an open intent.
type Request struct {
	Mode enums.RoutingMode `json:"mode"`
	// TargetCompany selects the invoicing company in single mode. It defaults
	// to the only company of a single-company cart.
	TargetCompany   string              `json:"target_company,omitempty"`
	Lines           []cart.Line         `json:"lines"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method"`
	PricingCurrency enums.Currency      `json:"pricing_currency,omitempty"`
	// CustomerID applies to every invoice unless CustomerIDs names one for the company.
	CustomerID  *string           `json:"customer_id,omitempty"`
	CustomerIDs map[string]string `json:"customer_ids,omitempty"`
	ShiftID     *string           `json:"shift_id,omitempty"`
	CashierID   *string           `json:"cashier_id,omitempty"`
}

func (r Request) customerFor(companyKey string) *string {
	if id, ok := r.CustomerIDs[companyKey]; ok && id != "" {
		return &id
	}
	if r.CustomerID != nil && *r.CustomerID != "" {
		return r.CustomerID
	}
	return nil
}

// InvoiceDraft is the invoice one company will issue for the intent.
type InvoiceDraft struct {
	CompanyKey     string      `json:"company_key"`
	Lines          []cart.Line `json:"lines"`
	Totals         cart.Bucket `json:"totals"`
	CrossCompany   bool        `json:"cross_company"`
	SkipStockMoves bool        `json:"skip_stock_moves"`
	CustomerID     *string     `json:"customer_id,omitempty"`
	// IdempotencyKey is stable for the intent so retries never double-invoice.
	IdempotencyKey string `json:"idempotency_key"`
}

// CompanyOutcome reports what happened to one company's invoice.
type CompanyOutcome struct {
	CompanyKey    string     `json:"company_key"`
	EventID       uuid.UUID  `json:"event_id"`
	Settled       bool       `json:"settled"`
	Deferred      bool       `json:"deferred"`
	Replayed      bool       `json:"replayed"`
	RemoteEventID string     `json:"remote_event_id,omitempty"`
	InvoiceID     *string    `json:"invoice_id,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	ErrorCode     string     `json:"error_code,omitempty"`

	// CredentialsRejected marks a queued invoice held back until the device logs in again.
	CredentialsRejected bool `json:"credentials_rejected,omitempty"`

	err error
}

// Err returns the submission error of an unsettled company.
func (o CompanyOutcome) Err() error {
	return o.err
}

// Result summarizes a checkout attempt.
type Result struct {
	IntentID         uuid.UUID           `json:"intent_id"`
	State            enums.CheckoutState `json:"state"`
	Outcomes         []CompanyOutcome    `json:"outcomes"`
	SettledCompanies []string            `json:"settled_companies"`
	Deferred         bool                `json:"deferred"`
}

// Intent is a payment attempt. It is reused across retries until it settles
// or the cashier cancels it.
type Intent struct {
	ID        uuid.UUID                 `json:"id"`
	Mode      enums.RoutingMode         `json:"mode"`
	State     enums.CheckoutState       `json:"state"`
	Invoices  []InvoiceDraft            `json:"invoices"`
	Settled   map[string]CompanyOutcome `json:"settled"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`

	inFlight bool
	cancel   context.CancelFunc
}

func (i *Intent) snapshot() Intent {
	out := Intent{
		ID:        i.ID,
		Mode:      i.Mode,
		State:     i.State,
		Invoices:  append([]InvoiceDraft(nil), i.Invoices...),
		Settled:   make(map[string]CompanyOutcome, len(i.Settled)),
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
	for k, v := range i.Settled {
		out.Settled[k] = v
	}
	return out
}

// unsettled lists the invoices no company has settled yet.
func (i *Intent) unsettled() []InvoiceDraft {
	var out []InvoiceDraft
	for _, inv := range i.Invoices {
		if _, ok := i.Settled[inv.CompanyKey]; !ok {
			out = append(out, inv)
		}
	}
	return out
}

// InFlight reports whether a submission is outstanding.
func (i Intent) InFlight() bool {
	return i.inFlight
}

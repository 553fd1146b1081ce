package checkout

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/internal/cart"
	"github.com/angelmondragon/pos-register/internal/catalog"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
)

// routingPlan is the outcome of the routing decision.
type routingPlan struct {
	mode      enums.RoutingMode
	split     bool
	invoices  []InvoiceDraft
	snapshots map[string]catalog.Snapshot
}

func (p routingPlan) companies() []string {
	out := make([]string, 0, len(p.invoices))
	for _, inv := range p.invoices {
		out = append(out, inv.CompanyKey)
	}
	return out
}

func (p routingPlan) rateOf(companyKey string) decimal.Decimal {
	return p.snapshots[companyKey].Config.ExchangeRate
}

// route decides which company invoices which lines. In priority order: the
// flag override, an auto split of a multi-company cart, then a single target.
func (s *service) route(intentID uuid.UUID, req Request, today time.Time) (routingPlan, error) {
	if len(req.Lines) == 0 {
		return routingPlan{}, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	mode := req.Mode
	if mode == "" {
		mode = enums.RoutingAuto
	}
	if !mode.IsValid() {
		return routingPlan{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown routing mode").
			WithDetails(map[string]any{"mode": mode})
	}
	companies := lineCompanies(req.Lines)
	credit := req.PaymentMethod.IsCredit()

	plan := routingPlan{mode: mode, snapshots: make(map[string]catalog.Snapshot)}
	switch {
	case mode == enums.RoutingFlag:
		target := s.cfg.FlagCompanyKey
		snap, err := s.snapshot(target)
		if err != nil {
			return routingPlan{}, err
		}
		if missing := s.catalog.MissingItems(target, itemIDs(req.Lines)); len(missing) > 0 {
			return routingPlan{}, catalogMismatch(target, missing)
		}
		plan.snapshots[target] = snap
		plan.invoices = []InvoiceDraft{s.draft(intentID, target, req.Lines, snap, today)}

	case mode == enums.RoutingAuto && len(companies) > 1:
		if credit {
			return routingPlan{}, pkgerrors.New(pkgerrors.CodeValidation, "credit is not allowed when the cart is split across companies").
				WithDetails(map[string]any{"companies": companies})
		}
		plan.split = true
		for _, company := range companies {
			snap, err := s.snapshot(company)
			if err != nil {
				return routingPlan{}, err
			}
			lines := linesOf(req.Lines, company)
			if missing := s.catalog.MissingItems(company, itemIDs(lines)); len(missing) > 0 {
				return routingPlan{}, catalogMismatch(company, missing)
			}
			plan.snapshots[company] = snap
			plan.invoices = append(plan.invoices, s.draft(intentID, company, lines, snap, today))
		}

	default:
		target := strings.TrimSpace(req.TargetCompany)
		if target == "" {
			if len(companies) != 1 {
				return routingPlan{}, pkgerrors.New(pkgerrors.CodeValidation, "target company is required for a multi-company cart").
					WithDetails(map[string]any{"companies": companies})
			}
			target = companies[0]
		}
		snap, err := s.snapshot(target)
		if err != nil {
			return routingPlan{}, err
		}
		inv := s.draft(intentID, target, req.Lines, snap, today)
		if missing := s.catalog.MissingItems(target, itemIDs(req.Lines)); len(missing) > 0 {
			if credit {
				return routingPlan{}, pkgerrors.New(pkgerrors.CodeValidation, "cross-company credit requires the flag override").
					WithDetails(map[string]any{"company_key": target, "missing_items": missing})
			}
			inv.CrossCompany = true
			inv.SkipStockMoves = true
		}
		plan.snapshots[target] = snap
		plan.invoices = []InvoiceDraft{inv}
	}

	for i := range plan.invoices {
		plan.invoices[i].CustomerID = req.customerFor(plan.invoices[i].CompanyKey)
	}
	if credit {
		if err := s.checkCreditCustomers(plan.invoices); err != nil {
			return routingPlan{}, err
		}
	}
	return plan, nil
}

// draft re-prices the lines under the invoicing company and totals them.
func (s *service) draft(intentID uuid.UUID, companyKey string, lines []cart.Line, snap catalog.Snapshot, today time.Time) InvoiceDraft {
	priced := make([]cart.Line, 0, len(lines))
	index := make(map[cart.LineKey]int, len(lines))
	for _, line := range lines {
		moved := line
		moved.CompanyKey = companyKey
		if idx, ok := index[moved.Key()]; ok {
			priced[idx].QtyEntered = priced[idx].QtyEntered.Add(moved.QtyEntered)
			continue
		}
		index[moved.Key()] = len(priced)
		priced = append(priced, moved)
	}
	for i := range priced {
		priced[i] = priced[i].PricedFor(companyKey, snap.Promotions, snap.Config, today)
	}

	totals := cart.SumLines(priced, func(string) decimal.Decimal { return snap.Config.ExchangeRate })
	return InvoiceDraft{
		CompanyKey:     companyKey,
		Lines:          priced,
		Totals:         totals.ByCompany[companyKey],
		IdempotencyKey: fmt.Sprintf("%s:%s", intentID, companyKey),
	}
}

func (s *service) checkCreditCustomers(invoices []InvoiceDraft) error {
	var unresolved []string
	for _, inv := range invoices {
		if inv.CustomerID == nil {
			unresolved = append(unresolved, inv.CompanyKey)
			continue
		}
		customer, ok := s.catalog.Customer(inv.CompanyKey, *inv.CustomerID)
		if !ok || !customer.IsActive {
			unresolved = append(unresolved, inv.CompanyKey)
		}
	}
	if len(unresolved) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "credit sale needs an active customer for each invoicing company").
		WithDetails(map[string]any{"companies": unresolved})
}

func (s *service) snapshot(companyKey string) (catalog.Snapshot, error) {
	snap, ok := s.catalog.Get(companyKey)
	if !ok {
		return catalog.Snapshot{}, pkgerrors.New(pkgerrors.CodeDependency, "company catalog not loaded").
			WithDetails(map[string]any{"company_key": companyKey})
	}
	return snap, nil
}

func catalogMismatch(companyKey string, missing []string) error {
	return pkgerrors.New(pkgerrors.CodeCatalog, fmt.Sprintf("%d item(s) missing from %s catalog", len(missing), companyKey)).
		WithDetails(map[string]any{"company_key": companyKey, "missing_items": missing})
}

func lineCompanies(lines []cart.Line) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, line := range lines {
		if _, ok := seen[line.CompanyKey]; ok {
			continue
		}
		seen[line.CompanyKey] = struct{}{}
		out = append(out, line.CompanyKey)
	}
	return out
}

func linesOf(lines []cart.Line, companyKey string) []cart.Line {
	var out []cart.Line
	for _, line := range lines {
		if line.CompanyKey == companyKey {
			out = append(out, line)
		}
	}
	return out
}

func itemIDs(lines []cart.Line) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, line.ItemID)
	}
	return out
}

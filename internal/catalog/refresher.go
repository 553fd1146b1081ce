package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/pos-register/internal/pricing"
	"github.com/angelmondragon/pos-register/pkg/ledger"
	"github.com/angelmondragon/pos-register/pkg/logger"
)

// Fetcher is the slice of the ledger client the refresher needs.
type Fetcher interface {
	GetConfig(ctx context.Context, companyID string) (*ledger.DeviceConfig, error)
	GetExchangeRate(ctx context.Context, companyID string) (decimal.Decimal, error)
	GetPromotions(ctx context.Context, companyID string) ([]ledger.Promotion, error)
	GetCatalog(ctx context.Context, companyID string) ([]ledger.CatalogItem, error)
	GetCustomers(ctx context.Context, companyID string) ([]ledger.Customer, error)
	GetCashiers(ctx context.Context, companyID string) ([]ledger.Cashier, error)
}

type RefresherParams struct {
	Fetcher   Fetcher
	Store     *Store
	Companies []string
	Logger    *logger.Logger
	Clock     func() time.Time
}

// Refresher pulls company snapshots from the ledger. A failed refresh keeps
// the previous snapshot; stale prices are tolerated until the next pass.
type Refresher struct {
	fetcher   Fetcher
	store     *Store
	companies []string
	logg      *logger.Logger
	now       func() time.Time
}

func NewRefresher(params RefresherParams) (*Refresher, error) {
	if params.Fetcher == nil {
		return nil, errors.New("catalog fetcher required")
	}
	if params.Store == nil {
		return nil, errors.New("catalog store required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Refresher{
		fetcher:   params.Fetcher,
		store:     params.Store,
		companies: params.Companies,
		logg:      params.Logger,
		now:       clock,
	}, nil
}

// Refresh reloads every company concurrently and reports each failure.
func (r *Refresher) Refresh(ctx context.Context) error {
	errs := make([]error, len(r.companies))
	var g errgroup.Group
	for i, company := range r.companies {
		g.Go(func() error {
			errs[i] = r.RefreshCompany(ctx, company)
			return nil
		})
	}
	_ = g.Wait()
	return multierr.Combine(errs...)
}

// RefreshCompany reloads one company and swaps its snapshot in one step.
func (r *Refresher) RefreshCompany(ctx context.Context, company string) error {
	ctx = r.logg.WithCompany(ctx, company)

	cfg, err := r.fetcher.GetConfig(ctx, company)
	if err != nil {
		return fmt.Errorf("config %s: %w", company, err)
	}
	rate, err := r.fetcher.GetExchangeRate(ctx, company)
	if err != nil {
		return fmt.Errorf("exchange rate %s: %w", company, err)
	}
	promos, err := r.fetcher.GetPromotions(ctx, company)
	if err != nil {
		return fmt.Errorf("promotions %s: %w", company, err)
	}
	items, err := r.fetcher.GetCatalog(ctx, company)
	if err != nil {
		return fmt.Errorf("catalog %s: %w", company, err)
	}
	customers, err := r.fetcher.GetCustomers(ctx, company)
	if err != nil {
		return fmt.Errorf("customers %s: %w", company, err)
	}
	cashiers, err := r.fetcher.GetCashiers(ctx, company)
	if err != nil {
		return fmt.Errorf("cashiers %s: %w", company, err)
	}

	snap := Snapshot{
		CompanyKey:              company,
		Config:                  companyConfig(company, cfg, rate),
		RequireApprovalForSales: cfg.RequireApprovalForSales,
		WarehouseID:             cfg.DefaultWarehouseID,
		Items:                   make(map[string]ledger.CatalogItem, len(items)),
		Customers:               make(map[string]ledger.Customer, len(customers)),
		Cashiers:                cashiers,
		RefreshedAt:             r.now().UTC(),
	}
	if cfg.LoyaltyRate != nil {
		snap.LoyaltyRate = *cfg.LoyaltyRate
	}
	for _, item := range items {
		snap.Items[item.ID] = item
	}
	for _, customer := range customers {
		snap.Customers[customer.ID] = customer
	}
	var skipped int
	snap.Promotions, skipped = convertPromotions(promos)
	if skipped > 0 {
		r.logg.Warn(r.logg.WithField(ctx, "skipped", skipped), "promotions with unreadable dates ignored")
	}

	r.store.Put(snap)
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"items":      len(snap.Items),
		"promotions": len(snap.Promotions),
		"customers":  len(snap.Customers),
	}), "catalog snapshot refreshed")
	return nil
}

func companyConfig(company string, cfg *ledger.DeviceConfig, rate decimal.Decimal) pricing.CompanyConfig {
	out := pricing.CompanyConfig{Key: company, ExchangeRate: rate}
	if cfg.VAT != nil {
		code := cfg.VAT.ID
		out.DefaultTaxCodeID = &code
		out.VATRate = cfg.VAT.Rate
	}
	if len(cfg.VATCodes) > 0 {
		out.VATCodes = make(map[string]decimal.Decimal, len(cfg.VATCodes))
		for _, code := range cfg.VATCodes {
			out.VATCodes[code.ID] = code.Rate
		}
	}
	return out
}

func convertPromotions(in []ledger.Promotion) ([]pricing.Promotion, int) {
	out := make([]pricing.Promotion, 0, len(in))
	skipped := 0
	for _, p := range in {
		starts, err := parseDay(p.StartsOn)
		if err != nil {
			skipped++
			continue
		}
		ends, err := parseDay(p.EndsOn)
		if err != nil {
			skipped++
			continue
		}
		promo := pricing.Promotion{
			ID:       p.ID,
			Code:     p.Code,
			StartsOn: starts,
			EndsOn:   ends,
			Active:   p.IsActive,
			Priority: p.Priority,
			Items:    make([]pricing.Tier, 0, len(p.Items)),
		}
		for _, item := range p.Items {
			promo.Items = append(promo.Items, pricing.Tier{
				ID:            item.ID,
				ItemID:        item.ItemID,
				MinQty:        item.MinQty,
				PromoPriceUSD: item.PromoPriceUSD,
				PromoPriceAlt: item.PromoPriceLBP,
				DiscountPct:   item.DiscountPct,
			})
		}
		out = append(out, promo)
	}
	return out, skipped
}

func parseDay(value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	day, err := time.Parse(time.DateOnly, *value)
	if err != nil {
		return nil, err
	}
	return &day, nil
}

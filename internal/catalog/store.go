package catalog

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/internal/cart"
	"github.com/angelmondragon/pos-register/internal/pricing"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/ledger"
)

// Snapshot is everything checkout needs to know about one company. Snapshots
// are replaced whole; readers never see a half refreshed company.
type Snapshot struct {
	CompanyKey              string
	Config                  pricing.CompanyConfig
	RequireApprovalForSales bool
	LoyaltyRate             decimal.Decimal
	WarehouseID             *string
	Promotions              []pricing.Promotion
	Items                   map[string]ledger.CatalogItem
	Customers               map[string]ledger.Customer
	Cashiers                []ledger.Cashier
	RefreshedAt             time.Time
}

// Store holds the latest snapshot per company.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

func NewStore() *Store {
	return &Store{snapshots: make(map[string]Snapshot)}
}

// Put replaces the snapshot of a company.
func (s *Store) Put(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Config.Key == "" {
		snap.Config.Key = snap.CompanyKey
	}
	s.snapshots[snap.CompanyKey] = snap
}

func (s *Store) Get(companyKey string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[companyKey]
	return snap, ok
}

// Promotions implements cart.PricingSource.
func (s *Store) Promotions(companyKey string) []pricing.Promotion {
	snap, ok := s.Get(companyKey)
	if !ok {
		return nil
	}
	return snap.Promotions
}

// Company implements cart.PricingSource.
func (s *Store) Company(companyKey string) (pricing.CompanyConfig, bool) {
	snap, ok := s.Get(companyKey)
	if !ok {
		return pricing.CompanyConfig{}, false
	}
	return snap.Config, true
}

// HasItem reports whether the company's catalog sells the item.
func (s *Store) HasItem(companyKey, itemID string) bool {
	snap, ok := s.Get(companyKey)
	if !ok {
		return false
	}
	_, found := snap.Items[itemID]
	return found
}

// MissingItems returns the items absent from the company's catalog, in input order.
func (s *Store) MissingItems(companyKey string, itemIDs []string) []string {
	var missing []string
	seen := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if !s.HasItem(companyKey, id) {
			missing = append(missing, id)
		}
	}
	return missing
}

// Customer looks up a customer account of the company.
func (s *Store) Customer(companyKey, customerID string) (ledger.Customer, bool) {
	snap, ok := s.Get(companyKey)
	if !ok {
		return ledger.Customer{}, false
	}
	customer, found := snap.Customers[customerID]
	return customer, found
}

// AddInput resolves a catalog item and unit into a cart addition. List prices
// become per base unit.
func (s *Store) AddInput(companyKey, itemID, uom string, qty decimal.Decimal) (cart.AddInput, error) {
	snap, ok := s.Get(companyKey)
	if !ok {
		return cart.AddInput{}, pkgerrors.New(pkgerrors.CodeNotFound, "company catalog not loaded").
			WithDetails(map[string]any{"company_key": companyKey})
	}
	item, ok := snap.Items[itemID]
	if !ok {
		return cart.AddInput{}, pkgerrors.New(pkgerrors.CodeCatalog, "item not in company catalog").
			WithDetails(map[string]any{"company_key": companyKey, "missing_items": []string{itemID}})
	}

	in := cart.AddInput{
		CompanyKey:   companyKey,
		ItemID:       item.ID,
		SKU:          item.SKU,
		Name:         item.Name,
		UOM:          baseUOM(item),
		QtyFactor:    decimal.NewFromInt(1),
		Qty:          qty,
		ListPriceUSD: item.PriceUSD,
		ListPriceAlt: item.PriceLBP,
		TaxCodeID:    item.TaxCodeID,
	}
	if strings.TrimSpace(uom) == "" || strings.EqualFold(uom, in.UOM) {
		return in, nil
	}

	for _, u := range item.UOMs {
		if !strings.EqualFold(u.UOM, uom) {
			continue
		}
		if !u.Factor.IsPositive() {
			return cart.AddInput{}, pkgerrors.New(pkgerrors.CodeValidation, "uom factor must be positive").
				WithDetails(map[string]any{"uom": uom})
		}
		in.UOM = u.UOM
		in.QtyFactor = u.Factor
		if u.PriceUSD != nil {
			in.ListPriceUSD = u.PriceUSD.Div(u.Factor)
		}
		if u.PriceLBP != nil {
			in.ListPriceAlt = u.PriceLBP.Div(u.Factor)
		}
		return in, nil
	}
	return cart.AddInput{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown unit of measure for item").
		WithDetails(map[string]any{"item_id": itemID, "uom": uom})
}

func baseUOM(item ledger.CatalogItem) string {
	for _, u := range item.UOMs {
		if u.IsBase {
			return u.UOM
		}
	}
	return "pcs"
}

// RequiresApprovalForSales implements approval.CompanyFlags.
func (s *Store) RequiresApprovalForSales(companyKey string) bool {
	snap, ok := s.Get(companyKey)
	return ok && snap.RequireApprovalForSales
}

package cart

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/internal/pricing"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
)

// PricingSource supplies the resolver inputs of one company.
type PricingSource interface {
	Promotions(companyKey string) []pricing.Promotion
	Company(companyKey string) (pricing.CompanyConfig, bool)
}

// AddInput describes a scanned or picked item.
type AddInput struct {
	CompanyKey   string
	ItemID       string
	SKU          string
	Name         string
	UOM          string
	QtyFactor    decimal.Decimal
	Qty          decimal.Decimal
	ListPriceUSD decimal.Decimal
	ListPriceAlt decimal.Decimal
	TaxCodeID    *string
}

// Cart owns the line list of one register. It is not safe for concurrent use;
// the register loop is its only caller.
type Cart struct {
	lines  []Line
	source PricingSource
	now    func() time.Time
}

// New builds an empty cart priced from source.
func New(source PricingSource, clock func() time.Time) *Cart {
	if clock == nil {
		clock = time.Now
	}
	return &Cart{source: source, now: clock}
}

// AddLine merges into the line with the same key or inserts a new one.
func (c *Cart) AddLine(in AddInput) (Line, error) {
	if strings.TrimSpace(in.CompanyKey) == "" || strings.TrimSpace(in.ItemID) == "" {
		return Line{}, pkgerrors.New(pkgerrors.CodeValidation, "company and item are required")
	}
	if !in.Qty.IsPositive() {
		return Line{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	factor := in.QtyFactor
	if factor.IsZero() {
		factor = decimal.NewFromInt(1)
	}
	if !factor.IsPositive() {
		return Line{}, pkgerrors.New(pkgerrors.CodeValidation, "uom factor must be positive")
	}

	key := keyFor(in.CompanyKey, in.ItemID, factor, in.UOM)
	if idx := c.indexOfKey(key); idx >= 0 {
		line := &c.lines[idx]
		line.QtyEntered = line.QtyEntered.Add(in.Qty)
		c.reprice(line)
		return *line, nil
	}

	line := Line{
		ID:            uuid.NewString(),
		CompanyKey:    in.CompanyKey,
		ItemID:        in.ItemID,
		SKU:           in.SKU,
		Name:          in.Name,
		UOM:           strings.TrimSpace(in.UOM),
		QtyFactor:     factor,
		QtyEntered:    in.Qty,
		ListPriceUSD:  in.ListPriceUSD,
		ListPriceAlt:  in.ListPriceAlt,
		ItemTaxCodeID: in.TaxCodeID,
	}
	c.reprice(&line)
	c.lines = append(c.lines, line)
	return line, nil
}

// UpdateQty sets the entered quantity of a line; zero removes it.
func (c *Cart) UpdateQty(lineID string, qty decimal.Decimal) (*Line, error) {
	idx := c.indexOfID(lineID)
	if idx < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
	}
	if qty.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	if qty.IsZero() {
		c.removeAt(idx)
		return nil, nil
	}
	line := &c.lines[idx]
	line.QtyEntered = qty
	c.reprice(line)
	out := *line
	return &out, nil
}

// UpdateUOM switches the unit of a line. If another line already has the new
// key the quantities merge into it and the original line is removed.
func (c *Cart) UpdateUOM(lineID, uom string, factor decimal.Decimal) (Line, error) {
	idx := c.indexOfID(lineID)
	if idx < 0 {
		return Line{}, pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
	}
	if !factor.IsPositive() {
		return Line{}, pkgerrors.New(pkgerrors.CodeValidation, "uom factor must be positive")
	}

	current := c.lines[idx]
	key := keyFor(current.CompanyKey, current.ItemID, factor, uom)
	if other := c.indexOfKey(key); other >= 0 && other != idx {
		target := &c.lines[other]
		target.QtyEntered = target.QtyEntered.Add(current.QtyEntered)
		c.reprice(target)
		merged := *target
		c.removeAt(idx)
		return merged, nil
	}

	line := &c.lines[idx]
	line.UOM = strings.TrimSpace(uom)
	line.QtyFactor = factor
	c.reprice(line)
	return *line, nil
}

// RemoveLine drops a line.
func (c *Cart) RemoveLine(lineID string) error {
	idx := c.indexOfID(lineID)
	if idx < 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
	}
	c.removeAt(idx)
	return nil
}

// RemoveCompanyLines drops every line invoiced under the given companies.
func (c *Cart) RemoveCompanyLines(companies ...string) int {
	drop := make(map[string]struct{}, len(companies))
	for _, company := range companies {
		drop[company] = struct{}{}
	}
	kept := c.lines[:0]
	removed := 0
	for _, line := range c.lines {
		if _, ok := drop[line.CompanyKey]; ok {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	c.lines = kept
	return removed
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.lines = nil
}

// Lines returns a copy of the current lines.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Len reports the number of lines.
func (c *Cart) Len() int {
	return len(c.lines)
}

// Companies lists the companies represented in the cart in first-seen order.
func (c *Cart) Companies() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, line := range c.lines {
		if _, ok := seen[line.CompanyKey]; ok {
			continue
		}
		seen[line.CompanyKey] = struct{}{}
		out = append(out, line.CompanyKey)
	}
	return out
}

// Restore replaces the lines, typically from a draft, and re-prices them
// against the current catalog.
func (c *Cart) Restore(lines []Line) {
	c.lines = make([]Line, 0, len(lines))
	for _, line := range lines {
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		if !line.QtyFactor.IsPositive() {
			line.QtyFactor = decimal.NewFromInt(1)
		}
		if idx := c.indexOfKey(line.Key()); idx >= 0 {
			c.lines[idx].QtyEntered = c.lines[idx].QtyEntered.Add(line.QtyEntered)
			c.reprice(&c.lines[idx])
			continue
		}
		c.reprice(&line)
		c.lines = append(c.lines, line)
	}
}

// RepriceAll re-evaluates every line, used after a catalog refresh.
func (c *Cart) RepriceAll() {
	for i := range c.lines {
		c.reprice(&c.lines[i])
	}
}

// ExchangeRate returns the configured rate of a company, zero when unknown.
func (c *Cart) ExchangeRate(companyKey string) decimal.Decimal {
	if c.source == nil {
		return decimal.Zero
	}
	cfg, ok := c.source.Company(companyKey)
	if !ok {
		return decimal.Zero
	}
	return cfg.ExchangeRate
}

func (c *Cart) reprice(line *Line) {
	line.BaseQty = line.QtyEntered.Mul(line.QtyFactor)
	var (
		promos  []pricing.Promotion
		company = pricing.CompanyConfig{Key: line.CompanyKey}
	)
	if c.source != nil {
		promos = c.source.Promotions(line.CompanyKey)
		if cfg, ok := c.source.Company(line.CompanyKey); ok {
			company = cfg
		}
	}
	line.apply(pricing.Resolve(line.pricingInput(), promos, company, c.now()))
}

func (c *Cart) indexOfKey(key LineKey) int {
	for i := range c.lines {
		if c.lines[i].Key() == key {
			return i
		}
	}
	return -1
}

func (c *Cart) indexOfID(id string) int {
	for i := range c.lines {
		if c.lines[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Cart) removeAt(idx int) {
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
}

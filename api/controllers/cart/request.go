package cart

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/api/validators"
	"github.com/angelmondragon/pos-register/internal/register"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
)

const maxKeyLen = 128

// AddLineRequest is a scan or pick from the item grid.
type AddLineRequest struct {
	CompanyKey string          `json:"company_key" validate:"required,max=128"`
	ItemID     string          `json:"item_id" validate:"required,max=128"`
	UOM        string          `json:"uom" validate:"max=32"`
	Qty        decimal.Decimal `json:"qty" validate:"omitempty,positive"`
}

func (r AddLineRequest) toInput() (register.AddItemInput, error) {
	qty := r.Qty
	if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	if !qty.IsPositive() {
		return register.AddItemInput{}, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"qty": "must be positive"})
	}
	return register.AddItemInput{
		CompanyKey: validators.CleanKey(r.CompanyKey, maxKeyLen),
		ItemID:     validators.CleanKey(r.ItemID, maxKeyLen),
		UOM:        validators.CleanKey(r.UOM, 32),
		Qty:        qty,
	}, nil
}

// UpdateLineRequest changes either the quantity or the unit of measure.
type UpdateLineRequest struct {
	Qty *decimal.Decimal `json:"qty,omitempty"`
	UOM *string          `json:"uom,omitempty" validate:"omitempty,max=32"`
}

func (r UpdateLineRequest) validate() error {
	if (r.Qty == nil) == (r.UOM == nil) {
		return pkgerrors.New(pkgerrors.CodeValidation, "set exactly one of qty or uom")
	}
	if r.Qty != nil && r.Qty.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"qty": "must not be negative"})
	}
	return nil
}

// ModeRequest switches the routing mode for the next payment.
type ModeRequest struct {
	Mode enums.RoutingMode `json:"mode" validate:"required,enum"`
}

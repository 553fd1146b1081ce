package cart

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/api/responses"
	"github.com/angelmondragon/pos-register/api/validators"
	"github.com/angelmondragon/pos-register/internal/register"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
)

// Register is the slice of the register loop the cart screen drives.
type Register interface {
	View(ctx context.Context) (register.View, error)
	AddItem(ctx context.Context, in register.AddItemInput) (register.View, error)
	UpdateQty(ctx context.Context, lineID string, qty decimal.Decimal) (register.View, error)
	UpdateUOM(ctx context.Context, lineID, uom string) (register.View, error)
	RemoveLine(ctx context.Context, lineID string) (register.View, error)
	Clear(ctx context.Context) (register.View, error)
	Reprice(ctx context.Context) (register.View, error)
	SetMode(ctx context.Context, mode enums.RoutingMode) (register.View, error)
}

// CartView returns the current cart with totals.
func CartView(reg Register, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := reg.View(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// CartAddLine adds an item, merging into an existing line of the same unit.
func CartAddLine(reg Register, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload AddLineRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := reg.AddItem(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

// CartUpdateLine changes a line's quantity or unit. A zero quantity removes it.
func CartUpdateLine(reg Register, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lineID, err := lineIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload UpdateLineRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := payload.validate(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var view register.View
		if payload.UOM != nil {
			view, err = reg.UpdateUOM(r.Context(), lineID, strings.TrimSpace(*payload.UOM))
		} else {
			view, err = reg.UpdateQty(r.Context(), lineID, *payload.Qty)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func CartRemoveLine(reg Register, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lineID, err := lineIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := reg.RemoveLine(r.Context(), lineID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func CartClear(reg Register, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := reg.Clear(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// CartReprice re-resolves every line against the current catalog.
func CartReprice(reg Register, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := reg.Reprice(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func CartSetMode(reg Register, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload ModeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !payload.Mode.IsValid() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown routing mode").
				WithDetails(map[string]any{"mode": payload.Mode}))
			return
		}
		view, err := reg.SetMode(r.Context(), payload.Mode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func lineIDParam(r *http.Request) (string, error) {
	lineID := strings.TrimSpace(chi.URLParam(r, "lineId"))
	if lineID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "line id is required")
	}
	return lineID, nil
}

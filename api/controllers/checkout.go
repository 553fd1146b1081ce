package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pos-register/api/middleware"
	"github.com/angelmondragon/pos-register/api/responses"
	"github.com/angelmondragon/pos-register/api/validators"
	checkoutsvc "github.com/angelmondragon/pos-register/internal/checkout"
	"github.com/angelmondragon/pos-register/internal/register"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
)

// PaymentRegister is the slice of the register loop the payment sheet drives.
type PaymentRegister interface {
	Pay(ctx context.Context, in register.PayInput) (checkoutsvc.Result, register.View, error)
	CancelPayment(ctx context.Context) (register.View, error)
}

type intentReader interface {
	Intent(intentID uuid.UUID) (checkoutsvc.Intent, error)
}

type payRequest struct {
	Mode            enums.RoutingMode   `json:"mode" validate:"enum"`
	TargetCompany   string              `json:"target_company" validate:"max=128"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method" validate:"required,enum"`
	PricingCurrency enums.Currency      `json:"pricing_currency" validate:"enum"`
	CustomerID      *string             `json:"customer_id"`
	CustomerIDs     map[string]string   `json:"customer_ids"`
	ShiftID         *string             `json:"shift_id"`
	CashierID       *string             `json:"cashier_id"`
}

type payResponse struct {
	Result checkoutsvc.Result `json:"result"`
	Cart   register.View      `json:"cart"`
}

// Pay checks out the register's cart. A settled sale answers 200, a sale
// queued for retry answers 202. Companies that did not settle are reported in
// the error details together with the ones that did.
func Pay(reg PaymentRegister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "register unavailable"))
			return
		}

		var payload payRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.CashierID == nil {
			if cashierID := middleware.CashierIDFromContext(r.Context()); cashierID != "" {
				payload.CashierID = &cashierID
			}
		}

		res, view, err := reg.Pay(r.Context(), register.PayInput{
			Mode:            payload.Mode,
			TargetCompany:   strings.TrimSpace(payload.TargetCompany),
			PaymentMethod:   payload.PaymentMethod,
			PricingCurrency: payload.PricingCurrency,
			CustomerID:      payload.CustomerID,
			CustomerIDs:     payload.CustomerIDs,
			ShiftID:         payload.ShiftID,
			CashierID:       payload.CashierID,
		})
		body := payResponse{Result: res, Cart: view}
		if err != nil {
			if len(res.Outcomes) > 0 {
				err = outcomeError(res, err).WithDetails(body)
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if res.Deferred {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, body)
	}
}

// outcomeError picks the code of the first company that did not settle so
// the UI can tell an approval prompt from a rejected invoice.
func outcomeError(res checkoutsvc.Result, err error) *pkgerrors.Error {
	code := pkgerrors.CodeDependency
	for _, outcome := range res.Outcomes {
		if outcome.Settled {
			continue
		}
		if typed := pkgerrors.As(outcome.Err()); typed != nil {
			code = typed.Code()
		}
		break
	}
	msg := "checkout was rejected"
	if res.State == enums.CheckoutPartiallySettled {
		msg = "checkout settled for some companies only"
	}
	return pkgerrors.Wrap(code, err, msg)
}

// CancelPayment closes the payment sheet.
func CancelPayment(reg PaymentRegister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "register unavailable"))
			return
		}
		view, err := reg.CancelPayment(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// IntentDetail reports an open checkout intent and what has settled so far.
func IntentDetail(svc intentReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		intentID, err := validators.ParseUUID(chi.URLParam(r, "intentId"), "intent_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		intent, err := svc.Intent(intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"intent":    intent,
			"in_flight": intent.InFlight(),
		})
	}
}

package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/pos-register/api/middleware"
	"github.com/angelmondragon/pos-register/api/responses"
	"github.com/angelmondragon/pos-register/api/validators"
	checkoutsvc "github.com/angelmondragon/pos-register/internal/checkout"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
)

type returnSubmitter interface {
	SubmitReturn(ctx context.Context, req checkoutsvc.ReturnRequest) (checkoutsvc.ReturnResult, error)
}

// SubmitReturn books a return against an issued invoice. The request's
// Idempotency-Key doubles as the outbox key so a retried return is never
// booked twice.
func SubmitReturn(svc returnSubmitter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutsvc.ReturnRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.IdempotencyKey == "" {
			if key := validators.CleanKey(r.Header.Get("Idempotency-Key"), 128); key != "" {
				payload.IdempotencyKey = "return:" + key
			}
		}
		if payload.CashierID == nil {
			if cashierID := middleware.CashierIDFromContext(r.Context()); cashierID != "" {
				payload.CashierID = &cashierID
			}
		}

		res, err := svc.SubmitReturn(r.Context(), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if res.Deferred {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, res)
	}
}

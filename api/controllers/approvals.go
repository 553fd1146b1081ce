package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/pos-register/api/responses"
	"github.com/angelmondragon/pos-register/api/validators"
	"github.com/angelmondragon/pos-register/internal/approval"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
)

// ApprovalGate is what the manager prompt needs from the approval gate.
type ApprovalGate interface {
	Grant(ctx context.Context, companyKey, pin string) (approval.Grant, error)
	Lookup(companyKey string, now time.Time) (approval.Grant, bool)
	Revoke(companyKey string)
}

type grantRequest struct {
	CompanyKey string `json:"company_key" validate:"required,max=128"`
	PIN        string `json:"pin" validate:"required,numeric,min=4,max=8"`
}

type approvalStatus struct {
	CompanyKey   string     `json:"company_key"`
	Active       bool       `json:"active"`
	ManagerID    string     `json:"manager_id,omitempty"`
	GrantedUntil *time.Time `json:"granted_until,omitempty"`
	Offline      bool       `json:"offline,omitempty"`
}

// GrantApproval checks a manager PIN and opens an approval window for the
// company. The returned token authorizes manager-only endpoints.
func GrantApproval(gate ApprovalGate, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gate == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "approval gate unavailable"))
			return
		}

		var payload grantRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		grant, err := gate.Grant(r.Context(), strings.TrimSpace(payload.CompanyKey), payload.PIN)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, grant)
	}
}

// ApprovalStatus reports whether the company currently has an active grant.
func ApprovalStatus(gate ApprovalGate, clock func() time.Time, logg *logger.Logger) http.HandlerFunc {
	if clock == nil {
		clock = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if gate == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "approval gate unavailable"))
			return
		}
		company := strings.TrimSpace(chi.URLParam(r, "companyKey"))
		status := approvalStatus{CompanyKey: company}
		if grant, ok := gate.Lookup(company, clock()); ok {
			until := grant.GrantedUntil
			status.Active = true
			status.ManagerID = grant.ManagerID
			status.GrantedUntil = &until
			status.Offline = grant.Offline
		}
		responses.WriteSuccess(w, status)
	}
}

// RevokeApproval ends the company's approval window early.
func RevokeApproval(gate ApprovalGate, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gate == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "approval gate unavailable"))
			return
		}
		company := strings.TrimSpace(chi.URLParam(r, "companyKey"))
		if company == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "company key is required"))
			return
		}
		gate.Revoke(company)
		responses.WriteSuccess(w, map[string]any{"company_key": company, "revoked": true})
	}
}

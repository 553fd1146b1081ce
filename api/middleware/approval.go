package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/pos-register/api/responses"
	pkgAuth "github.com/angelmondragon/pos-register/pkg/auth"
	"github.com/angelmondragon/pos-register/pkg/config"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
)

const ApprovalTokenHeader = "X-Approval-Token"

// offlineManager stands in for the approver when the PIN was checked locally
// and the ledger never named the manager.
const offlineManager = "offline-manager"

// RequireApproval validates the manager approval token minted by the gate and
// seeds the request context with the approving manager. The token must cover
// op; when companyParam is set it must also have been granted for that route
// parameter's company.
func RequireApproval(cfg config.ApprovalConfig, companyParam string, op enums.ApprovalOperation, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get(ApprovalTokenHeader))
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeApproval, "manager approval required"))
				return
			}

			claims, err := pkgAuth.ParseApprovalToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid approval token"))
				return
			}

			if !claims.Permits(op) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeApproval, "approval does not cover this operation").
					WithDetails(map[string]any{"operation": op}))
				return
			}

			if companyParam != "" {
				company := strings.TrimSpace(chi.URLParam(r, companyParam))
				if company != claims.CompanyKey {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "approval was granted for another company").
						WithDetails(map[string]any{"company_key": company}))
					return
				}
			}

			managerID := claims.ManagerID
			if managerID == "" {
				managerID = offlineManager
			}
			ctx := WithManagerID(r.Context(), managerID)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"manager_id":       managerID,
					"approval_company": claims.CompanyKey,
					"approval_offline": claims.Offline,
				})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

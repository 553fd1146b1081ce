package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/pos-register/pkg/logger"
)

const CashierIDHeader = "X-Cashier-Id"

// Cashier carries the cashier the UI reports as signed in. Requests without
// one are still served; sales then go out without a cashier reference.
func Cashier(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cashierID := strings.TrimSpace(r.Header.Get(CashierIDHeader))
			if cashierID == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithCashierID(r.Context(), cashierID)
			if logg != nil {
				ctx = logg.WithCashierID(ctx, cashierID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

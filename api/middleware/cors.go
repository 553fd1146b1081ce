package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/pos-register/api/responses"
)

// bundledOrigins are always allowed: the UI served by the register itself
// and the desktop shell wrapping it.
var bundledOrigins = []string{
	"http://127.0.0.1:7070",
	"app://pos-register",
}

var devOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

// CORS allows the register UI origins plus any configured extras. Dev
// servers are only accepted outside production.
func CORS(extra []string, dev bool) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins(extra, dev),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			IdempotencyKeyHeader,
			ApprovalTokenHeader,
			CashierIDHeader,
			responses.RequestIDHeader,
		},
		ExposedHeaders:   []string{responses.RequestIDHeader, IdempotentReplayHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler
}

func allowedOrigins(extra []string, dev bool) []string {
	origins := append([]string{}, bundledOrigins...)
	if dev {
		origins = append(origins, devOrigins...)
	}
	seen := make(map[string]struct{}, len(origins)+len(extra))
	for _, o := range origins {
		seen[o] = struct{}{}
	}
	for _, o := range extra {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		origins = append(origins, o)
	}
	return origins
}

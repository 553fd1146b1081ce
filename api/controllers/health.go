package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/pos-register/api/responses"
	"github.com/angelmondragon/pos-register/pkg/config"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	Ping(context.Context) error
}

type breakerReporter interface {
	BreakerState() string
}

// ReadinessDeps are the dependencies a ready register needs. Redis is
// optional; a nil pinger is reported as skipped.
type ReadinessDeps struct {
	DB     pinger
	Redis  pinger
	Ledger breakerReporter
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-POS-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the local store and cache. The ledger breaker state is
// informational: a register with an open breaker still takes sales offline.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps ReadinessDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-POS-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{"db": "ok", "redis": "skipped"}
		if deps.DB == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "database not configured"))
			return
		}
		if err := deps.DB.Ping(ctx); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unavailable"))
			return
		}
		if deps.Redis != nil {
			if err := deps.Redis.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis unavailable"))
				return
			}
			checks["redis"] = "ok"
		}
		if deps.Ledger != nil {
			checks["ledger_breaker"] = deps.Ledger.BreakerState()
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}

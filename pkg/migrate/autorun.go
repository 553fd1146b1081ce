package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/pos-register/pkg/config"
	"github.com/angelmondragon/pos-register/pkg/db"
	"github.com/angelmondragon/pos-register/pkg/logger"
)

// ShouldAutoRun decides whether a starting process may migrate its store. A
// register owns its sqlite file and migrates in every env; a shared Postgres
// store is only touched automatically in dev. The reason is for the log.
func ShouldAutoRun(cfg *config.Config) (bool, string) {
	switch {
	case !cfg.FeatureFlags.AutoMigrate:
		return false, "auto-migrate disabled"
	case cfg.DB.IsSQLite():
		return true, "register-owned sqlite store"
	case cfg.App.IsDev():
		return true, "shared store in dev"
	default:
		return false, "shared store outside dev; run cmd/migrate"
	}
}

// MaybeAutoRun checks the embedded migrations and applies them when
// ShouldAutoRun allows it.
func MaybeAutoRun(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	run, reason := ShouldAutoRun(cfg)
	ctx = logg.WithFields(ctx, map[string]any{"driver": cfg.DB.Driver, "reason": reason})
	if !run {
		logg.Debug(ctx, "skipping migrations on start")
		return nil
	}

	if err := ValidateDir(""); err != nil {
		return fmt.Errorf("embedded migrations invalid: %w", err)
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	if err := Run(ctx, sqlDB, cfg.DB.Driver, "", "up"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	logg.Info(ctx, "migrations applied")
	return nil
}

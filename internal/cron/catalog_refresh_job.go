package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/pos-register/pkg/logger"
)

type CatalogRefreshJobParams struct {
	Logger    *logger.Logger
	Refresher catalogRefresher
	// OnRefreshed runs after at least one company reloaded, typically to
	// re-price the open cart.
	OnRefreshed func(ctx context.Context)
}

type catalogRefresher interface {
	Refresh(ctx context.Context) error
}

func NewCatalogRefreshJob(params CatalogRefreshJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Refresher == nil {
		return nil, fmt.Errorf("catalog refresher required")
	}
	return &catalogRefreshJob{
		logg:        params.Logger,
		refresher:   params.Refresher,
		onRefreshed: params.OnRefreshed,
	}, nil
}

type catalogRefreshJob struct {
	logg        *logger.Logger
	refresher   catalogRefresher
	onRefreshed func(ctx context.Context)
}

func (j *catalogRefreshJob) Name() string { return "catalog-refresh" }

// Run reloads every company. A company that fails keeps its previous
// snapshot; the others are still applied.
func (j *catalogRefreshJob) Run(ctx context.Context) error {
	err := j.refresher.Refresh(ctx)
	if j.onRefreshed != nil {
		j.onRefreshed(ctx)
	}
	if err != nil {
		return fmt.Errorf("catalog refresh: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/outbox"
)

// errDeadLettered is returned by a one-shot pass that dead-lettered rows so
// scripts can alert on the exit status.
var errDeadLettered = errors.New("outbox rows were dead-lettered")

type pinger interface {
	Ping(context.Context) error
}

type drainer interface {
	Run(ctx context.Context) error
	DrainOnce(ctx context.Context) ([]outbox.DrainReport, error)
}

type ServiceParams struct {
	Logger  *logger.Logger
	DB      pinger
	Redis   pinger
	Drainer drainer
	// Once drains a single pass and returns instead of polling.
	Once bool
}

// Service drains a shared store on behalf of registers that are offline or
// retired, or once after an outage.
type Service struct {
	logg    *logger.Logger
	db      pinger
	redis   pinger
	drainer drainer
	once    bool
}

// Summary totals one-shot drain reports.
type Summary struct {
	Companies int
	Skipped   int
	Attempted int
	Acked     int
	Deferred  int
	Dead      int
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Drainer == nil {
		return nil, errors.New("outbox drainer is required")
	}
	return &Service{
		logg:    params.Logger,
		db:      params.DB,
		redis:   params.Redis,
		drainer: params.Drainer,
		once:    params.Once,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if s.redis != nil {
		if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
			return err
		}
	}
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	if !s.once {
		return s.drainer.Run(ctx)
	}

	reports, err := s.drainer.DrainOnce(ctx)
	summary := summarize(reports)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"companies": summary.Companies,
		"skipped":   summary.Skipped,
		"attempted": summary.Attempted,
		"acked":     summary.Acked,
		"deferred":  summary.Deferred,
		"dead":      summary.Dead,
	}), "outbox drain pass finished")
	if err != nil {
		return err
	}
	if summary.Dead > 0 {
		return errDeadLettered
	}
	return nil
}

func summarize(reports []outbox.DrainReport) Summary {
	out := Summary{Companies: len(reports)}
	for _, r := range reports {
		if r.Skipped {
			out.Skipped++
			continue
		}
		out.Attempted += r.Attempted
		out.Acked += r.Acked
		out.Deferred += r.Deferred
		out.Dead += r.Dead
	}
	return out
}

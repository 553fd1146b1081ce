package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/metrics"
	"github.com/angelmondragon/pos-register/pkg/redis"
)

const defaultInterval = 24 * time.Hour

type ServiceParams struct {
	Name     string
	Logger   *logger.Logger
	Registry *Registry
	// Lock keeps two processes sharing a store from running the same cycle.
	Lock     redis.Locker
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds a single job; zero leaves jobs bounded only by ctx.
	JobTimeout time.Duration
	Clock      func() time.Time
}

// Service runs its registered jobs on a fixed cadence.
type Service struct {
	name       string
	logg       *logger.Logger
	registry   *Registry
	lock       redis.Locker
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time
}

// Cycle describes one pass over the registry.
type Cycle struct {
	Skipped bool
	Ran     []string
	Failed  []string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	svc := &Service{
		name:       params.Name,
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
		now:        params.Clock,
	}
	if svc.registry == nil {
		svc.registry = NewRegistry()
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	if svc.name == "" {
		svc.name = "housekeeping"
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// Run executes a cycle immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"schedule": s.name, "jobs": s.registry.Names()})
	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "schedule stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Service) runCycle(ctx context.Context) {
	cycle, err := s.RunOnce(ctx)
	if err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
		return
	}
	if len(cycle.Failed) > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "failed_jobs", cycle.Failed), "schedule cycle finished with failures")
	}
}

// RunOnce runs every job once if the lock is free. A failing job is logged
// and counted; the remaining jobs still run.
func (s *Service) RunOnce(ctx context.Context) (Cycle, error) {
	var cycle Cycle
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return cycle, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		cycle.Skipped = true
		s.metrics.IncSkipped(s.name)
		s.logg.Info(ctx, "another process holds the schedule lock; skipping this cycle")
		return cycle, nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release schedule lock", relErr)
		}
	}()

	for _, job := range s.registry.Jobs() {
		if err := ctx.Err(); err != nil {
			return cycle, err
		}
		cycle.Ran = append(cycle.Ran, job.Name())
		if err := s.runJob(ctx, job); err != nil {
			cycle.Failed = append(cycle.Failed, job.Name())
		}
	}
	return cycle, nil
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, s.jobTimeout)
		defer cancel()
	}

	start := s.now()
	err := job.Run(jobCtx)
	took := s.now().Sub(start)
	s.metrics.ObserveRun(job.Name(), took, err, s.now())

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return err
	}
	s.logg.Debug(jobCtx, "job completed")
	return nil
}

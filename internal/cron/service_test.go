package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/metrics"
	"github.com/angelmondragon/pos-register/pkg/redis"
)

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func newLock(t *testing.T, client *redis.Client) *redis.Lock {
	t.Helper()
	lock, err := redis.NewLock(client, client.LockKey("housekeeping"), 0)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	return lock
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(success, failure),
		Lock:     newLock(t, redis.NewInMemory()),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	cycle, err := service.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected each job once, got %d and %d", success.runs, failure.runs)
	}
	if len(cycle.Ran) != 2 || len(cycle.Failed) != 1 || cycle.Failed[0] != "fail" {
		t.Fatalf("unexpected cycle %+v", cycle)
	}

	if _, err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if success.runs != 2 {
		t.Fatalf("lock must be released between cycles, got %d runs", success.runs)
	}
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	client := redis.NewInMemory()
	held := newLock(t, client)
	if ok, err := held.Acquire(context.Background()); err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}

	job := &testJob{name: "job"}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     newLock(t, client),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	cycle, err := service.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !cycle.Skipped {
		t.Fatalf("expected skipped cycle")
	}
	if job.runs != 0 {
		t.Fatalf("expected job to be skipped, ran %d", job.runs)
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected missing lock error")
	}
}

func TestRunOnceBoundsJobsWithTimeout(t *testing.T) {
	var sawDeadline bool
	slow := Func("slow", func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	})
	service, err := NewService(ServiceParams{
		Logger:     logger.Nop(),
		Registry:   NewRegistry(slow),
		Lock:       newLock(t, redis.NewInMemory()),
		JobTimeout: time.Minute,
		Metrics:    metrics.NewCronJobMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if _, err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !sawDeadline {
		t.Fatalf("expected the job context to carry a deadline")
	}
}

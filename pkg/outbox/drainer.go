package outbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/redis"
)

const (
	defaultDrainBatch  = 25
	defaultDrainPoll   = 5 * time.Second
	defaultConcurrency = 2
	maxDrainErrorSleep = time.Minute
	drainJitterWindow  = 250 * time.Millisecond
)

// Notifier receives backlog signals the cashier should eventually see.
type Notifier interface {
	StillRetrying(ctx context.Context, companyKey string, waiting int64)
	DeadLettered(ctx context.Context, companyKey string, eventID uuid.UUID, cause error)
}

// LockFactory returns the cross-process lock guarding one company's queue.
type LockFactory func(companyKey string) (redis.Locker, error)

type DrainerParams struct {
	Service      *Service
	Companies    []string
	BatchSize    int
	Concurrency  int
	PollInterval time.Duration
	Locks        LockFactory
	Notifier     Notifier
	Logger       *logger.Logger
}

// DrainReport summarises one pass over one company.
type DrainReport struct {
	CompanyKey string
	Attempted  int
	Acked      int
	Deferred   int
	Dead       int
	Skipped    bool
}

// Drainer retries due rows in the background, one goroutine per company so
// a stuck company never delays another.
type Drainer struct {
	svc       *Service
	companies []string
	batchSize int
	poll      time.Duration
	sem       *semaphore.Weighted
	locks     LockFactory
	notifier  Notifier
	logg      *logger.Logger
}

func NewDrainer(params DrainerParams) (*Drainer, error) {
	if params.Service == nil {
		return nil, errors.New("outbox service is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Companies) == 0 {
		return nil, errors.New("at least one company is required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultDrainBatch
	}
	poll := params.PollInterval
	if poll <= 0 {
		poll = defaultDrainPoll
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	companies := make([]string, 0, len(params.Companies))
	seen := make(map[string]struct{}, len(params.Companies))
	for _, company := range params.Companies {
		if company == "" {
			continue
		}
		if _, dup := seen[company]; dup {
			continue
		}
		seen[company] = struct{}{}
		companies = append(companies, company)
	}
	return &Drainer{
		svc:       params.Service,
		companies: companies,
		batchSize: batch,
		poll:      poll,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		locks:     params.Locks,
		notifier:  params.Notifier,
		logg:      params.Logger,
	}, nil
}

// Run drains every company until the context is canceled.
func (d *Drainer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, company := range d.companies {
		g.Go(func() error {
			return d.loop(gctx, company)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		d.logg.Info(ctx, "outbox drainer stopped")
		return nil
	}
	return err
}

// DrainOnce runs a single pass over every company concurrently.
func (d *Drainer) DrainOnce(ctx context.Context) ([]DrainReport, error) {
	reports := make([]DrainReport, len(d.companies))
	errs := make([]error, len(d.companies))
	var g errgroup.Group
	for i, company := range d.companies {
		g.Go(func() error {
			reports[i], errs[i] = d.drainCompany(ctx, company)
			return nil
		})
	}
	_ = g.Wait()
	return reports, multierr.Combine(errs...)
}

func (d *Drainer) loop(ctx context.Context, company string) error {
	ctx = d.logg.WithCompany(ctx, company)
	backoff := d.poll
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		report, err := d.drainCompany(ctx, company)
		if err != nil && ctx.Err() == nil {
			d.logg.Error(ctx, "outbox drain pass failed", err)
			backoff = nextBackoff(backoff, d.poll, maxDrainErrorSleep)
			if err := sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}
		backoff = d.poll

		if report.Attempted >= d.batchSize {
			continue
		}
		if err := sleep(ctx, withJitter(d.poll)); err != nil {
			return err
		}
	}
}

func (d *Drainer) drainCompany(ctx context.Context, company string) (DrainReport, error) {
	report := DrainReport{CompanyKey: company}
	if d.locks != nil {
		lock, err := d.locks(company)
		if err != nil {
			return report, fmt.Errorf("drain lock %s: %w", company, err)
		}
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return report, fmt.Errorf("acquire drain lock %s: %w", company, err)
		}
		if !acquired {
			report.Skipped = true
			return report, nil
		}
		defer func() {
			if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil {
				d.logg.Error(ctx, "failed to release drain lock", relErr)
			}
		}()
	}

	rows, err := d.svc.repo.FetchDue(ctx, company, d.svc.now(), d.batchSize)
	if err != nil {
		return report, fmt.Errorf("fetch due %s: %w", company, err)
	}

	var passErr error
	for _, row := range rows {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return report, err
		}
		result, deliverErr := d.svc.deliver(ctx, row, originDrain)
		d.sem.Release(1)
		report.Attempted++

		switch {
		case deliverErr == nil && result.Deferred:
			report.Deferred++
		case deliverErr == nil:
			report.Acked++
		case pkgerrors.CodeOf(deliverErr) == pkgerrors.CodeUnauthorized:
			report.Deferred++
			passErr = deliverErr
		case result.EventID != uuid.Nil && !result.Settled:
			report.Dead++
			if d.notifier != nil {
				d.notifier.DeadLettered(ctx, company, result.EventID, deliverErr)
			}
		default:
			passErr = multierr.Append(passErr, deliverErr)
		}
		if pkgerrors.CodeOf(deliverErr) == pkgerrors.CodeUnauthorized {
			// Credentials are rejected for every row; stop until they are fixed.
			break
		}
	}

	d.publishBacklog(ctx, company)
	if report.Attempted > 0 {
		fields := map[string]any{
			"attempted": report.Attempted,
			"acked":     report.Acked,
			"deferred":  report.Deferred,
			"dead":      report.Dead,
		}
		d.logg.Info(d.logg.WithFields(ctx, fields), "outbox drain pass complete")
	}
	return report, passErr
}

func (d *Drainer) publishBacklog(ctx context.Context, company string) {
	counts, err := d.svc.repo.CountByStatus(ctx, company)
	if err != nil {
		d.logg.Warn(d.logg.WithField(ctx, "error", err.Error()), "outbox backlog count failed")
		return
	}
	for _, status := range []enums.OutboxStatus{enums.OutboxStatusPending, enums.OutboxStatusFailed, enums.OutboxStatusDead} {
		d.svc.metrics.SetBacklog(company, string(status), counts[status])
	}
	if waiting := counts[enums.OutboxStatusFailed]; waiting > 0 && d.notifier != nil {
		d.notifier.StillRetrying(ctx, company, waiting)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(drainJitterWindow)
}

package notices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/redis"
)

const (
	defaultWindow   = 5 * time.Minute
	defaultCapacity = 50
	deadLetterTTL   = 7 * 24 * time.Hour
)

// Kind classifies a notice.
type Kind string

const (
	KindStillRetrying Kind = "still_retrying"
	KindDeadLettered  Kind = "dead_lettered"
)

// Notice is a message the register surfaces to the cashier.
type Notice struct {
	ID         uuid.UUID  `json:"id"`
	Kind       Kind       `json:"kind"`
	CompanyKey string     `json:"company_key"`
	Message    string     `json:"message"`
	Waiting    int64      `json:"waiting,omitempty"`
	EventID    *uuid.UUID `json:"event_id,omitempty"`
	At         time.Time  `json:"at"`
}

type windowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type Params struct {
	Store    *redis.Client
	Window   time.Duration
	Capacity int
	Logger   *logger.Logger
	Clock    func() time.Time
}

// Center collects outbox backlog signals. Retry notices are limited to one per
// company per window; each dead letter is announced once.
type Center struct {
	limiter  windowLimiter
	dedupe   *dedupe
	window   time.Duration
	capacity int
	logg     *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	fallback map[string]*rate.Limiter
	recent   []Notice
	subs     map[chan Notice]struct{}
}

func New(params Params) (*Center, error) {
	if params.Store == nil {
		return nil, errors.New("store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	d, err := newDedupe(params.Store, deadLetterTTL)
	if err != nil {
		return nil, err
	}
	window := params.Window
	if window <= 0 {
		window = defaultWindow
	}
	capacity := params.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Center{
		limiter:  params.Store,
		dedupe:   d,
		window:   window,
		capacity: capacity,
		logg:     params.Logger,
		now:      clock,
		fallback: make(map[string]*rate.Limiter),
		subs:     make(map[chan Notice]struct{}),
	}, nil
}

// StillRetrying implements outbox.Notifier.
func (c *Center) StillRetrying(ctx context.Context, companyKey string, waiting int64) {
	if waiting <= 0 || !c.allow(ctx, companyKey) {
		return
	}
	c.publish(Notice{
		Kind:       KindStillRetrying,
		CompanyKey: companyKey,
		Waiting:    waiting,
		Message:    fmt.Sprintf("%d sale(s) for %s are still waiting to reach the ledger", waiting, companyKey),
	})
}

// DeadLettered implements outbox.Notifier.
func (c *Center) DeadLettered(ctx context.Context, companyKey string, eventID uuid.UUID, cause error) {
	seen, err := c.dedupe.seen(ctx, KindDeadLettered, eventID)
	if err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "notice dedupe unavailable")
	}
	if seen {
		return
	}
	msg := fmt.Sprintf("a sale for %s was rejected and needs a manager", companyKey)
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, cause.Error())
	}
	id := eventID
	c.publish(Notice{
		Kind:       KindDeadLettered,
		CompanyKey: companyKey,
		EventID:    &id,
		Message:    msg,
	})
}

// Requeued clears the dead-letter marker so a second failure is announced again.
func (c *Center) Requeued(ctx context.Context, eventID uuid.UUID) {
	if err := c.dedupe.forget(ctx, KindDeadLettered, eventID); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "notice dedupe reset failed")
	}
}

// Recent returns the latest notices, newest first.
func (c *Center) Recent(limit int) []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > len(c.recent) {
		limit = len(c.recent)
	}
	out := make([]Notice, 0, limit)
	for i := len(c.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.recent[i])
	}
	return out
}

// Subscribe streams new notices until the returned cancel func is called.
// Slow subscribers miss notices rather than block the drainer.
func (c *Center) Subscribe(buffer int) (<-chan Notice, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Notice, buffer)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Center) allow(ctx context.Context, companyKey string) bool {
	ok, _, err := c.limiter.FixedWindowAllow(ctx, "notice:"+companyKey, 1, c.window)
	if err == nil {
		return ok
	}
	c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "notice limiter unavailable, using local limiter")

	c.mu.Lock()
	defer c.mu.Unlock()
	lim, found := c.fallback[companyKey]
	if !found {
		lim = rate.NewLimiter(rate.Every(c.window), 1)
		c.fallback[companyKey] = lim
	}
	return lim.AllowN(c.now(), 1)
}

func (c *Center) publish(n Notice) {
	n.ID = uuid.New()
	n.At = c.now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, n)
	if over := len(c.recent) - c.capacity; over > 0 {
		c.recent = append([]Notice(nil), c.recent[over:]...)
	}
	for ch := range c.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

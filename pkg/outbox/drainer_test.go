package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/redis"
)

type recordingNotifier struct {
	mu       sync.Mutex
	retrying map[string]int64
	dead     []uuid.UUID
}

func (n *recordingNotifier) StillRetrying(_ context.Context, company string, waiting int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.retrying == nil {
		n.retrying = map[string]int64{}
	}
	n.retrying[company] = waiting
}

func (n *recordingNotifier) DeadLettered(_ context.Context, _ string, eventID uuid.UUID, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dead = append(n.dead, eventID)
}

func newTestDrainer(t *testing.T, f *serviceFixture, notifier Notifier, locks LockFactory) *Drainer {
	t.Helper()
	drainer, err := NewDrainer(DrainerParams{
		Service:   f.svc,
		Companies: []string{"official", "official", ""},
		BatchSize: 10,
		Locks:     locks,
		Notifier:  notifier,
		Logger:    logger.Nop(),
	})
	require.NoError(t, err)
	return drainer
}

func TestNewDrainerValidatesParams(t *testing.T) {
	f := newServiceFixture(t, 0)
	_, err := NewDrainer(DrainerParams{Companies: []string{"official"}, Logger: logger.Nop()})
	require.Error(t, err)
	_, err = NewDrainer(DrainerParams{Service: f.svc, Logger: logger.Nop()})
	require.Error(t, err)

	drainer := newTestDrainer(t, f, nil, nil)
	require.Equal(t, []string{"official"}, drainer.companies)
}

func TestDrainOnceDeliversDueRowsAfterBackoff(t *testing.T) {
	f := newServiceFixture(t, 0)
	ctx := context.Background()
	notifier := &recordingNotifier{}
	drainer := newTestDrainer(t, f, notifier, nil)

	f.transport.failWith(networkErr())
	res, err := f.svc.Submit(ctx, cashMovementRequest("cash-1"))
	require.NoError(t, err)
	require.True(t, res.Deferred)

	reports, err := drainer.DrainOnce(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, 0, reports[0].Attempted)
	require.EqualValues(t, 1, notifier.retrying["official"])

	f.clock.Advance(21 * time.Second)
	reports, err = drainer.DrainOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reports[0].Attempted)
	require.Equal(t, 1, reports[0].Acked)

	row, err := f.svc.Repository().FindByID(ctx, res.EventID)
	require.NoError(t, err)
	require.Nil(t, row)

	replay, err := f.svc.Submit(ctx, cashMovementRequest("cash-1"))
	require.NoError(t, err)
	require.True(t, replay.Replayed)
	require.Equal(t, res.EventID, replay.EventID)
}

func TestDrainOnceDeliversOldestFirst(t *testing.T) {
	f := newServiceFixture(t, 0)
	ctx := context.Background()
	drainer := newTestDrainer(t, f, nil, nil)

	var order []uuid.UUID
	var mu sync.Mutex
	f.svc.transport = TransportFunc(func(_ context.Context, d Delivery) (Ack, error) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, d.EventID)
		if len(order) <= 3 {
			return Ack{}, networkErr()
		}
		return Ack{RemoteEventID: d.EventID.String()}, nil
	})

	var queued []uuid.UUID
	for _, key := range []string{"cash-1", "cash-2", "cash-3"} {
		res, err := f.svc.Submit(ctx, cashMovementRequest(key))
		require.NoError(t, err)
		queued = append(queued, res.EventID)
		f.clock.Advance(time.Second)
	}

	f.clock.Advance(time.Minute)
	reports, err := drainer.DrainOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, reports[0].Acked)
	require.Equal(t, queued, order[3:])
}

func TestDrainOnceDeadLettersPermanentFailures(t *testing.T) {
	f := newServiceFixture(t, 0)
	ctx := context.Background()
	notifier := &recordingNotifier{}
	drainer := newTestDrainer(t, f, notifier, nil)

	f.transport.failWith(networkErr(), pkgerrors.New(pkgerrors.CodeValidation, "unknown shift"))
	res, err := f.svc.Submit(ctx, cashMovementRequest("cash-1"))
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	reports, err := drainer.DrainOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reports[0].Dead)
	require.Equal(t, []uuid.UUID{res.EventID}, notifier.dead)

	f.clock.Advance(time.Hour)
	reports, err = drainer.DrainOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, reports[0].Attempted)

	counts, err := f.svc.Repository().CountByStatus(ctx, "official")
	require.NoError(t, err)
	require.EqualValues(t, 1, counts[enums.OutboxStatusDead])
}

func TestDrainOnceStopsPassOnUnauthorized(t *testing.T) {
	f := newServiceFixture(t, 0)
	ctx := context.Background()
	drainer := newTestDrainer(t, f, nil, nil)

	f.transport.failWith(networkErr(), networkErr())
	_, err := f.svc.Submit(ctx, cashMovementRequest("cash-1"))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, cashMovementRequest("cash-2"))
	require.NoError(t, err)

	f.transport.failWith(pkgerrors.New(pkgerrors.CodeUnauthorized, "token revoked"))
	f.clock.Advance(time.Minute)
	reports, err := drainer.DrainOnce(ctx)
	require.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
	require.Equal(t, 1, reports[0].Attempted)
	require.Equal(t, 1, reports[0].Deferred)
}

func TestDrainOnceSkipsCompanyWhenLockIsHeld(t *testing.T) {
	f := newServiceFixture(t, 0)
	ctx := context.Background()
	store := redis.NewInMemory()
	key := store.LockKey("outbox-drain", "official")
	locks := func(company string) (redis.Locker, error) {
		return redis.NewLock(store, store.LockKey("outbox-drain", company), time.Minute)
	}
	drainer := newTestDrainer(t, f, nil, locks)

	holder, err := redis.NewLock(store, key, time.Minute)
	require.NoError(t, err)
	ok, err := holder.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	reports, err := drainer.DrainOnce(ctx)
	require.NoError(t, err)
	require.True(t, reports[0].Skipped)

	require.NoError(t, holder.Release(ctx))
	reports, err = drainer.DrainOnce(ctx)
	require.NoError(t, err)
	require.False(t, reports[0].Skipped)
}

func TestDrainerRunStopsOnCancel(t *testing.T) {
	f := newServiceFixture(t, 0)
	drainer := newTestDrainer(t, f, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- drainer.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("drainer did not stop after cancel")
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	if got := nextBackoff(0, time.Second, time.Minute); got != 2*time.Second {
		t.Fatalf("expected 2s, got %s", got)
	}
	if got := nextBackoff(45*time.Second, time.Second, time.Minute); got != time.Minute {
		t.Fatalf("expected cap, got %s", got)
	}
	if got := withJitter(time.Second); got < time.Second || got >= time.Second+drainJitterWindow {
		t.Fatalf("jitter out of range: %s", got)
	}
}

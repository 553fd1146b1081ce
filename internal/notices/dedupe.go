package notices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pos-register/pkg/redis"
)

// dedupe remembers which dead letters were already announced using SETNX
// with a TTL. Keys follow `pos:idempotency:notice:<kind>:<event_id>`.
type dedupe struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func newDedupe(store redis.IdempotencyStore, ttl time.Duration) (*dedupe, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &dedupe{store: store, ttl: ttl}, nil
}

// seen returns true if the event was already announced and otherwise marks it.
func (d *dedupe) seen(ctx context.Context, kind Kind, eventID uuid.UUID) (bool, error) {
	key, err := d.key(kind, eventID)
	if err != nil {
		return false, err
	}
	set, err := d.store.SetNX(ctx, key, "1", d.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (d *dedupe) forget(ctx context.Context, kind Kind, eventID uuid.UUID) error {
	key, err := d.key(kind, eventID)
	if err != nil {
		return err
	}
	return d.store.Del(ctx, key)
}

func (d *dedupe) key(kind Kind, eventID uuid.UUID) (string, error) {
	if kind == "" {
		return "", errors.New("notice kind is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return d.store.IdempotencyKey(fmt.Sprintf("notice:%s", kind), eventID.String()), nil
}

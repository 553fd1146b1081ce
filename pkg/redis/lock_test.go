package redis

import (
	"context"
	"testing"
	"time"
)

func TestLockIsExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	client := NewInMemory()
	key := client.LockKey("drain", "official")

	first, err := NewLock(client, key, time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, err := NewLock(client, key, time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to win, ok=%v err=%v", ok, err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("expected second acquire to lose, ok=%v err=%v", ok, err)
	}

	if err := second.Release(ctx); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	ok, _ = second.Acquire(ctx)
	if ok {
		t.Fatal("non-owner release must not free the lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release, ok=%v err=%v", ok, err)
	}
}

func TestNewLockValidatesInput(t *testing.T) {
	if _, err := NewLock(nil, "k", time.Minute); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewLock(NewInMemory(), "", time.Minute); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestLockReleaseLeavesTakenOverLease(t *testing.T) {
	ctx := context.Background()
	client := NewInMemory()
	key := client.LockKey("cron", "housekeeping")

	lapsed, _ := NewLock(client, key, time.Minute)
	if ok, _ := lapsed.Acquire(ctx); !ok || !lapsed.Held() {
		t.Fatal("expected to hold the lease")
	}
	// simulate expiry and a new holder
	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del: %v", err)
	}
	next, _ := NewLock(client, key, time.Minute)
	if ok, _ := next.Acquire(ctx); !ok {
		t.Fatal("expected the new holder to win")
	}

	if err := lapsed.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if lapsed.Held() {
		t.Fatal("lapsed lock still thinks it holds the lease")
	}
	if _, err := client.Get(ctx, key); err != nil {
		t.Fatalf("new holder's lease was removed: %v", err)
	}
}

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/pos-register/pkg/config"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	client := NewInMemory()

	allowed, count, err := client.FixedWindowAllow(ctx, "test-scope", 2, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 1 {
		t.Fatalf("expected first request allowed with count 1, got allowed=%v count=%d", allowed, count)
	}

	allowed, count, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 2 {
		t.Fatalf("unexpected second call state allowed=%v count=%d", allowed, count)
	}

	allowed, _, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	mem := newMemoryCmdable(func() time.Time { return now })
	client := &Client{store: mem}

	ok, err := client.SetNX(ctx, "k", "v1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first setnx to win, ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, "k", "v2", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second setnx to lose, ok=%v err=%v", ok, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := client.Get(ctx, "k"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected key to expire, got %v", err)
	}
	ok, err = client.SetNX(ctx, "k", "v3", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected setnx after expiry to win, ok=%v err=%v", ok, err)
	}
	value, err := client.Get(ctx, "k")
	if err != nil || value != "v3" {
		t.Fatalf("expected v3, got %q err=%v", value, err)
	}

	if err := client.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := client.Get(ctx, "k"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "pos:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "pos:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.LockKey("drain", "official"); got != "pos:lock:drain:official" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.LockKey("drain", ""); got != "pos:lock:drain" {
		t.Fatalf("lock key should skip empty parts, got %s", got)
	}

	shared := &Client{namespace: ":store-12:"}
	if got := shared.LockKey("cron", "housekeeping"); got != "store-12:lock:cron:housekeeping" {
		t.Fatalf("unexpected namespaced lock key %s", got)
	}
}

func TestOpenFallsBackToMemory(t *testing.T) {
	client, err := Open(context.Background(), config.RedisConfig{Namespace: "lane-3"}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if client.Backend() != BackendMemory {
		t.Fatalf("expected memory backend got %s", client.Backend())
	}
	if got := client.RateLimitKey("pin"); got != "lane-3:rate_limit:pin" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping memory store: %v", err)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	var client *Client
	if _, err := client.Get(context.Background(), "k"); !errors.Is(err, errNoBackend) {
		t.Fatalf("expected errNoBackend got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}

func TestOptionsFromConfigRequiresEndpoint(t *testing.T) {
	if _, err := optionsFromConfig(configWithAddress("")); err == nil {
		t.Fatal("expected error without url or address")
	}
	opts, err := optionsFromConfig(configWithAddress("localhost:6379"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.PoolSize != 4 {
		t.Fatalf("unexpected options %+v", opts)
	}

	fromURL, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6380/5", DB: 2, PoolSize: 8})
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if fromURL.DB != 5 || fromURL.PoolSize != 8 {
		t.Fatalf("expected url db to win and pool size filled, got db=%d pool=%d", fromURL.DB, fromURL.PoolSize)
	}
}

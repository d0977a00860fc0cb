package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConcurrencyCap_AcquireReleaseCycle(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	key := InterviewerCallKey("int-1")

	ok, err := AcquireConcurrencyCap(ctx, rdb, key, 1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = AcquireConcurrencyCap(ctx, rdb, key, 1, time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatalf("expected second acquire to be rejected at limit 1")
	}

	if err := ReleaseConcurrencyCap(ctx, rdb, key); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	ok, err = AcquireConcurrencyCap(ctx, rdb, key, 1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release to succeed, ok=%v err=%v", ok, err)
	}
}

func TestConcurrencyCap_RejectsBadArgs(t *testing.T) {
	rdb := newTestRedis(t)
	if _, err := AcquireConcurrencyCap(context.Background(), rdb, "", 1, time.Second); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := AcquireConcurrencyCap(context.Background(), rdb, "k", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for missing addr")
	}
}

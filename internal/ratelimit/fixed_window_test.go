package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, limit int) (*FixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", limit, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return limiter, srv
}

func TestFixedWindowLimiterBlocksOverQuota(t *testing.T) {
	limiter, _ := newLimiter(t, 2)
	ctx := context.Background()
	if !limiter.Allow(ctx, "profile-1") {
		t.Fatalf("first message should pass")
	}
	if !limiter.Allow(ctx, "profile-1") {
		t.Fatalf("second message should pass")
	}
	if limiter.Allow(ctx, "profile-1") {
		t.Fatalf("third message should be blocked")
	}
	if !limiter.Allow(ctx, "profile-2") {
		t.Fatalf("other keys keep their own quota")
	}
}

func TestFixedWindowLimiterFailClosed(t *testing.T) {
	limiter, srv := newLimiter(t, 1)
	srv.Close()
	if limiter.Allow(context.Background(), "profile-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresClient(t *testing.T) {
	limiter, err := NewFixedWindowLimiter(nil, "test", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error without a client")
	}
}

package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingRunner struct {
	runs atomic.Int32
}

func (r *countingRunner) RunDigest(context.Context) (DigestReport, error) {
	r.runs.Add(1)
	return DigestReport{}, nil
}

func TestDigestSchedulerFiresEachTickOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	lock, err := NewRedisTickLock(client, "")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	runner := &countingRunner{}
	first, err := NewDigestScheduler(runner, "0 9 * * *", lock)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	second, _ := NewDigestScheduler(runner, "0 9 * * *", lock)

	tick := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ran, err := first.Fire(context.Background(), tick)
	if err != nil || !ran {
		t.Fatalf("first instance should run: ran=%v err=%v", ran, err)
	}
	ran, err = second.Fire(context.Background(), tick)
	if err != nil || ran {
		t.Fatalf("second instance should skip the claimed tick: ran=%v err=%v", ran, err)
	}
	if ran, _ := second.Fire(context.Background(), tick.Add(24*time.Hour)); !ran {
		t.Fatalf("next tick should run")
	}
	if runner.runs.Load() != 2 {
		t.Fatalf("expected 2 runs, got %d", runner.runs.Load())
	}
	if !mr.Exists("chat:digest:tick:2026-03-14T09:00:00Z") {
		t.Fatalf("expected tick key to be stored")
	}
}

func TestDigestSchedulerNext(t *testing.T) {
	s, err := NewDigestScheduler(&countingRunner{}, "0 9 * * *", &RedisTickLock{})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	next, err := s.Next(time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !next.Equal(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next tick: %v", next)
	}
	if _, err := NewDigestScheduler(&countingRunner{}, "every morning", &RedisTickLock{}); err == nil {
		t.Fatalf("expected invalid expression to fail")
	}
}

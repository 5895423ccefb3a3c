package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/redis/go-redis/v9"
)

// TickLocker lets exactly one instance claim a schedule tick.
type TickLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisTickLock claims ticks with SET NX.
type RedisTickLock struct {
	client redis.UniversalClient
	prefix string
	owner  string
}

func NewRedisTickLock(client redis.UniversalClient, prefix string) (*RedisTickLock, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = "chat:digest:tick:"
	}
	owner, _ := os.Hostname()
	if owner == "" {
		owner = "chat"
	}
	return &RedisTickLock{client: client, prefix: prefix, owner: owner}, nil
}

func (l *RedisTickLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.prefix+key, l.owner, ttl).Result()
}

// DigestRunner is what the scheduler triggers.
type DigestRunner interface {
	RunDigest(ctx context.Context) (DigestReport, error)
}

// DigestScheduler triggers the digest on a cron expression.
type DigestScheduler struct {
	runner DigestRunner
	expr   string
	locker TickLocker
	now    func() time.Time
}

func NewDigestScheduler(runner DigestRunner, expr string, locker TickLocker) (*DigestScheduler, error) {
	expr = strings.TrimSpace(expr)
	g := gronx.New()
	if !g.IsValid(expr) {
		return nil, fmt.Errorf("invalid digest schedule %q", expr)
	}
	if runner == nil || locker == nil {
		return nil, errors.New("digest runner and tick locker required")
	}
	return &DigestScheduler{
		runner: runner,
		expr:   expr,
		locker: locker,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Next returns the first tick strictly after ref.
func (s *DigestScheduler) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, ref, false)
}

// Run sleeps until each tick and fires it, until ctx is done.
func (s *DigestScheduler) Run(ctx context.Context) error {
	for {
		next, err := s.Next(s.now())
		if err != nil {
			return fmt.Errorf("next digest tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if _, err := s.Fire(ctx, next); err != nil {
			slog.Error("scheduled digest failed", "tick", next, "err", err)
		}
	}
}

// Fire runs the digest for tick unless another instance already claimed it.
// It reports whether this instance ran the digest.
func (s *DigestScheduler) Fire(ctx context.Context, tick time.Time) (bool, error) {
	key := tick.UTC().Format(time.RFC3339)
	ok, err := s.locker.Acquire(ctx, key, time.Hour)
	if err != nil {
		return false, fmt.Errorf("claim digest tick: %w", err)
	}
	if !ok {
		slog.Info("digest tick claimed elsewhere", "tick", key)
		return false, nil
	}
	report, err := s.runner.RunDigest(ctx)
	if err != nil {
		return true, err
	}
	slog.Info("scheduled digest done", "tick", key, "produced", report.Produced)
	return true, nil
}

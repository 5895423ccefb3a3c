// Package bootstrap builds the chat application graph from configuration.
// Both the HTTP service and chatctl use it so they agree on drivers.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"chathub/internal/ratelimit"
	"chathub/pkg/ai"
	"chathub/pkg/queue"
	"chathub/pkg/realtime"
	"chathub/pkg/storage"
	"chathub/pkg/store"
	"chathub/services/chat/internal/app"
	"chathub/services/chat/internal/config"
	"github.com/redis/go-redis/v9"
)

// Queue is a job queue the service can start workers on.
type Queue interface {
	app.JobQueue
	Start(ctx context.Context, concurrency int, handler queue.Handler)
}

// Runtime holds the constructed components. Close releases them in reverse
// order of construction.
type Runtime struct {
	Config      config.FileConfig
	App         *app.App
	Store       store.Store
	Redis       redis.UniversalClient
	Broadcaster *realtime.Broadcaster
	Queue       Queue

	closers []func() error
}

// Build wires store, redis, event transport, queue, generator, limiter and
// attachment storage according to cfg.
func Build(ctx context.Context, cfg config.FileConfig) (*Runtime, error) {
	rt := &Runtime{Config: cfg}
	if err := rt.build(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context) error {
	cfg := rt.Config

	switch cfg.StoreDriver {
	case "memory":
		rt.Store = store.NewMemoryStore()
	default:
		gs, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		rt.Store = gs
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("redis ping: %w", err)
		}
		rt.Redis = client
		rt.closers = append(rt.closers, client.Close)
	}

	var transport realtime.Transport
	switch cfg.EventTransport {
	case "redis":
		t, err := realtime.NewRedisTransport(rt.Redis, cfg.EventPrefix)
		if err != nil {
			return fmt.Errorf("init redis transport: %w", err)
		}
		transport = t
	case "amqp":
		t, err := realtime.NewAMQPTransport(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("init amqp transport: %w", err)
		}
		transport = t
	}
	rt.Broadcaster = realtime.NewBroadcaster(realtime.NewHub(0), transport)
	rt.closers = append(rt.closers, rt.Broadcaster.Close)

	switch cfg.QueueDriver {
	case "redis":
		consumer, _ := os.Hostname()
		q, err := queue.NewRedisJobQueue(rt.Redis, queue.RedisQueueConfig{
			Stream:   cfg.QueueStream,
			Group:    cfg.QueueGroup,
			Consumer: consumer,
		})
		if err != nil {
			return fmt.Errorf("init redis queue: %w", err)
		}
		rt.Queue = q
		rt.closers = append(rt.closers, func() error {
			q.Wait()
			return nil
		})
	default:
		q := queue.NewLocalJobQueue(256)
		rt.Queue = q
		rt.closers = append(rt.closers, func() error {
			q.Close()
			return nil
		})
	}

	generator, err := ai.NewTextGenerator(ai.Config{
		Provider: cfg.GenerationProvider,
		BaseURL:  cfg.GenerationBaseURL,
		APIKey:   cfg.GenerationAPIKey,
		Model:    cfg.GenerationModel,
	})
	if err != nil {
		return fmt.Errorf("init generator: %w", err)
	}

	var limiter app.RateLimiter
	if cfg.MessageRateLimitPerMinute > 0 {
		l, err := ratelimit.NewFixedWindowLimiter(rt.Redis, "chat:ratelimit:messages", cfg.MessageRateLimitPerMinute, time.Minute)
		if err != nil {
			return fmt.Errorf("init rate limiter: %w", err)
		}
		limiter = l
	}

	var attachments storage.AttachmentStore
	if cfg.MinioEndpoint != "" {
		ms, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return fmt.Errorf("init attachment store: %w", err)
		}
		attachments = ms
	}

	rt.App, err = app.New(app.Config{
		Store:             rt.Store,
		Generator:         generator,
		Provider:          cfg.GenerationProvider,
		Broadcaster:       rt.Broadcaster,
		Queue:             rt.Queue,
		Attachments:       attachments,
		Limiter:           limiter,
		GenerationTimeout: cfg.GenerationTimeout(),
		DigestConcurrency: cfg.DigestConcurrency,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	slog.Info("chat runtime ready",
		"store", cfg.StoreDriver, "events", cfg.EventTransport, "queue", cfg.QueueDriver,
		"generation_provider", cfg.GenerationProvider, "attachments", attachments != nil, "rate_limit", limiter != nil)
	return nil
}

// Close releases every component, newest first.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

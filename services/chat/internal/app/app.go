package app

import (
	"context"
	"errors"
	"time"

	"chathub/pkg/ai"
	"chathub/pkg/domain"
	"chathub/pkg/queue"
	"chathub/pkg/realtime"
	"chathub/pkg/storage"
	"chathub/pkg/store"
)

const (
	defaultGenerationTimeout = 30 * time.Second
	defaultDigestConcurrency = 4
)

// Broadcaster publishes message lifecycle events to scope viewers.
type Broadcaster interface {
	Broadcast(ctx context.Context, kind realtime.EventKind, msg domain.Message)
}

// JobQueue accepts detached bot jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job queue.Job) (queue.JobStatus, error)
}

// RateLimiter gates message posting per profile.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// Config holds runtime configuration for the core application.
type Config struct {
	Store       store.Store
	Generator   ai.TextGenerator
	Provider    string
	Broadcaster Broadcaster
	Queue       JobQueue
	// Attachments and Limiter are optional.
	Attachments       storage.AttachmentStore
	Limiter           RateLimiter
	GenerationTimeout time.Duration
	DigestConcurrency int
	Now               func() time.Time
}

// App is the core application service wiring together storage, the event
// broadcaster, the job queue, and the generation provider.
type App struct {
	store             store.Store
	generator         ai.TextGenerator
	provider          string
	events            Broadcaster
	jobs              JobQueue
	attachments       storage.AttachmentStore
	limiter           RateLimiter
	generationTimeout time.Duration
	digestConcurrency int
	now               func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("text generator required")
	}
	if cfg.Broadcaster == nil {
		return nil, errors.New("broadcaster required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("job queue required")
	}
	timeout := cfg.GenerationTimeout
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	concurrency := cfg.DigestConcurrency
	if concurrency <= 0 {
		concurrency = defaultDigestConcurrency
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "unknown"
	}
	return &App{
		store:             cfg.Store,
		generator:         cfg.Generator,
		provider:          provider,
		events:            cfg.Broadcaster,
		jobs:              cfg.Queue,
		attachments:       cfg.Attachments,
		limiter:           cfg.Limiter,
		generationTimeout: timeout,
		digestConcurrency: concurrency,
		now:               now,
	}, nil
}

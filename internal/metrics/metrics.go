package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathub_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chathub_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Messaging
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathub_messages_posted_total",
			Help: "Total messages persisted",
		},
		[]string{"scope", "kind"}, // scope: channel|conversation
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chathub_rate_limit_hits_total",
			Help: "Message posts rejected by the rate limiter",
		},
	)

	CommandsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathub_commands_dispatched_total",
			Help: "Chat commands routed to the bot pipeline",
		},
		[]string{"command"},
	)

	// Bot jobs
	BotJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathub_bot_jobs_total",
			Help: "Bot jobs by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: enqueued|succeeded|failed|empty
	)

	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chathub_generation_latency_seconds",
			Help:    "Text generation latency",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	DigestRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathub_digest_scopes_total",
			Help: "Digest outcomes per channel",
		},
		[]string{"status"}, // produced|skipped|failed
	)

	// Realtime
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathub_events_published_total",
			Help: "Realtime events handed to the transport",
		},
		[]string{"kind"},
	)

	EventPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chathub_event_publish_errors_total",
			Help: "Realtime events the transport failed to publish",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chathub_events_dropped_total",
			Help: "Events dropped for slow subscribers",
		},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chathub_event_subscribers",
			Help: "Active realtime subscribers",
		},
	)
)

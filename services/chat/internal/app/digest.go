package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chathub/internal/metrics"
	"chathub/internal/util"
	"chathub/pkg/domain"
	"chathub/pkg/store"
	"golang.org/x/sync/errgroup"
)

const (
	digestWindow      = 24 * time.Hour
	digestMinMessages = 5
	digestMaxMessages = 100

	DigestProduced = "produced"
	DigestSkipped  = "skipped"
	DigestInactive = "inactive"
	DigestFailed   = "failed"
)

// DigestResult is the outcome for one channel.
type DigestResult struct {
	ChannelID    string `json:"channelId"`
	ChannelName  string `json:"channelName"`
	ServerID     string `json:"serverId"`
	Status       string `json:"status"`
	MessageCount int    `json:"messageCount,omitempty"`
	SummaryID    string `json:"summaryId,omitempty"`
	MessageID    string `json:"messageId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// DigestReport is returned to the trigger: how many digests were posted and
// what happened in every channel considered.
type DigestReport struct {
	Produced   int            `json:"produced"`
	Results    []DigestResult `json:"results"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// RunDigest posts a daily summary into every text channel with enough human
// activity in the last 24 hours. Channels are processed with bounded
// parallelism and fail independently.
func (a *App) RunDigest(ctx context.Context) (DigestReport, error) {
	started := a.now()
	channels, err := a.store.ListChannelsByType(ctx, domain.ChannelText)
	if err != nil {
		return DigestReport{}, fmt.Errorf("list text channels: %w", err)
	}
	since := started.Add(-digestWindow)
	results := make([]DigestResult, len(channels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.digestConcurrency)
	for i, ch := range channels {
		g.Go(func() error {
			results[i] = a.digestChannel(gctx, ch, since)
			return nil
		})
	}
	_ = g.Wait()

	report := DigestReport{Results: results, StartedAt: started, FinishedAt: a.now()}
	for _, res := range results {
		metrics.DigestRuns.WithLabelValues(res.Status).Inc()
		if res.Status == DigestProduced {
			report.Produced++
		}
	}
	slog.Info("digest run finished", "channels", len(channels), "produced", report.Produced)
	return report, nil
}

func (a *App) digestChannel(ctx context.Context, ch domain.Channel, since time.Time) DigestResult {
	res := DigestResult{ChannelID: ch.ID, ChannelName: ch.Name, ServerID: ch.ServerID}
	logger := slog.Default().With("channel_id", ch.ID, "server_id", ch.ServerID)
	failed := func(err error) DigestResult {
		logger.Error("digest failed", "err", err)
		res.Status = DigestFailed
		res.Error = err.Error()
		return res
	}

	window := store.RecentQuery{Limit: digestMaxMessages, Since: since, HumanOnly: true}
	count, err := a.store.CountMessages(ctx, domain.ScopeChannel, ch.ID, window)
	if err != nil {
		return failed(fmt.Errorf("count messages: %w", err))
	}
	if count < digestMinMessages {
		res.Status = DigestInactive
		res.MessageCount = count
		return res
	}
	msgs, err := a.store.RecentMessages(ctx, domain.ScopeChannel, ch.ID, window)
	if err != nil {
		return failed(fmt.Errorf("load messages: %w", err))
	}
	if len(msgs) < digestMinMessages {
		res.Status = DigestInactive
		res.MessageCount = len(msgs)
		return res
	}
	last, ok, err := a.store.LatestSummary(ctx, domain.ScopeChannel, ch.ID, domain.SummaryDigest)
	if err != nil {
		return failed(fmt.Errorf("load latest digest: %w", err))
	}
	if ok && last.CreatedAt.After(msgs[0].CreatedAt) {
		res.Status = DigestSkipped
		res.SummaryID = last.ID
		return res
	}

	bot, err := a.EnsureBotMembership(ctx, ch.ServerID)
	if err != nil {
		return failed(err)
	}
	reverseMessages(msgs)
	system, prompt := buildSummaryPrompt(ch.Name, msgs)
	text, err := a.generate(ctx, system, prompt)
	if err != nil {
		return failed(err)
	}

	now := a.now()
	summary := domain.Summary{
		ID:               util.NewID(),
		ScopeKind:        domain.ScopeChannel,
		ScopeID:          ch.ID,
		Content:          text,
		MessageCount:     len(msgs),
		Kind:             domain.SummaryDigest,
		SourceMessageIDs: messageIDs(msgs),
		CreatedAt:        now,
	}
	if err := a.store.CreateSummary(ctx, summary); err != nil {
		return failed(fmt.Errorf("create summary: %w", err))
	}
	scope := domain.Scope{Kind: domain.ScopeChannel, ID: ch.ID, ServerID: ch.ServerID, Name: ch.Name}
	msg, err := a.createBotMessage(ctx, scope, bot, digestContent(now, text), domain.KindDigest)
	if err != nil {
		return failed(err)
	}
	logger.Info("digest posted", "summary_id", summary.ID, "message_id", msg.ID, "messages", len(msgs))
	res.Status = DigestProduced
	res.MessageCount = len(msgs)
	res.SummaryID = summary.ID
	res.MessageID = msg.ID
	return res
}

func digestContent(now time.Time, summary string) string {
	return fmt.Sprintf("🌅 **Daily Summary** - %s\n\n%s\n\n*This is an automated daily summary of the last 24 hours of activity.*",
		now.Format("1/2/2006"), summary)
}

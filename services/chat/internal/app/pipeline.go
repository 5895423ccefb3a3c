package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chathub/internal/metrics"
	"chathub/internal/util"
	"chathub/pkg/domain"
	"chathub/pkg/queue"
	"chathub/pkg/realtime"
	"chathub/pkg/store"
)

const (
	summaryPlaceholderText = "🤖 AIBot is analyzing the conversation and generating a summary..."
	summaryFailureText     = "❌ Sorry, I couldn't generate a summary at this time. Please try again later."
	summaryEmptyText       = "No recent messages found to summarize."
	replyPlaceholderText   = "💬 AIBot is typing..."
	replyFailureText       = "Sorry, I'm having trouble responding right now. Please try again later."
	replyHistoryLimit      = 10
)

var errJobExhausted = errors.New("bot job attempts exhausted")

func summaryHeader(count int, summary string) string {
	return fmt.Sprintf("📋 **Channel Summary** (Last %d messages)\n\n%s", count, summary)
}

// startSummarize bootstraps the bot, persists and broadcasts the placeholder,
// and enqueues the summarize job. A bootstrap failure is logged and yields a
// nil placeholder: the command is still considered handled.
func (a *App) startSummarize(ctx context.Context, m Membership, count int) (*domain.Message, error) {
	logger := util.LoggerFromContext(ctx)
	bot, err := a.botFor(ctx, m)
	if err != nil {
		logger.Error("bot bootstrap failed", "server_id", m.Scope.ServerID, "scope_id", m.Scope.ID, "err", err)
		return nil, nil
	}
	placeholder, err := a.createBotMessage(ctx, m.Scope, bot, summaryPlaceholderText, domain.KindSummary)
	if err != nil {
		return nil, err
	}
	a.enqueue(ctx, placeholder, queue.Job{
		Kind:          queue.JobSummarize,
		PlaceholderID: placeholder.ID,
		Scope:         m.Scope,
		BotMemberID:   bot.ID,
		Count:         count,
		RequestedBy:   m.Member.ID,
	})
	return &placeholder, nil
}

// startReply answers a human message in a bot conversation. Failures before
// the job is queued are logged; the human message is already stored.
func (a *App) startReply(ctx context.Context, m Membership, trigger domain.Message) {
	logger := util.LoggerFromContext(ctx)
	bot := *m.Other
	placeholder, err := a.createBotMessage(ctx, m.Scope, bot, replyPlaceholderText, domain.KindReply)
	if err != nil {
		logger.Error("reply placeholder failed", "scope_id", m.Scope.ID, "err", err)
		return
	}
	a.enqueue(ctx, placeholder, queue.Job{
		Kind:          queue.JobReply,
		PlaceholderID: placeholder.ID,
		Scope:         m.Scope,
		BotMemberID:   bot.ID,
		Count:         replyHistoryLimit,
		TriggerID:     trigger.ID,
		Input:         trigger.Content,
		RequestedBy:   m.Member.ID,
	})
}

// botFor returns the bot member that authors in m's scope. In a conversation
// it is the other participant; in a channel it is ensured in the server.
func (a *App) botFor(ctx context.Context, m Membership) (domain.Member, error) {
	if m.Scope.Kind == domain.ScopeConversation {
		if !m.WithBot() {
			return domain.Member{}, errors.New("conversation has no bot participant")
		}
		return *m.Other, nil
	}
	return a.EnsureBotMembership(ctx, m.Scope.ServerID)
}

func (a *App) createBotMessage(ctx context.Context, scope domain.Scope, bot domain.Member, content string, kind domain.MessageKind) (domain.Message, error) {
	now := a.now()
	msg := domain.Message{
		ID:        util.NewID(),
		Content:   content,
		ScopeKind: scope.Kind,
		ScopeID:   scope.ID,
		MemberID:  bot.ID,
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateMessage(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("create bot message: %w", err)
	}
	msg.Member = &bot
	metrics.MessagesPosted.WithLabelValues(string(scope.Kind), string(kind)).Inc()
	a.events.Broadcast(ctx, realtime.EventCreated, msg)
	return msg, nil
}

// enqueue hands the job to the queue. If the queue refuses it the placeholder
// is finalized with the failure text right away.
func (a *App) enqueue(ctx context.Context, placeholder domain.Message, job queue.Job) {
	status, err := a.jobs.Enqueue(context.WithoutCancel(ctx), job)
	if err != nil {
		util.LoggerFromContext(ctx).Error("enqueue bot job failed",
			"kind", job.Kind, "placeholder_id", placeholder.ID, "err", err)
		metrics.BotJobs.WithLabelValues(string(job.Kind), "failed").Inc()
		_ = a.finalize(context.WithoutCancel(ctx), job, failureText(job.Kind))
		return
	}
	metrics.BotJobs.WithLabelValues(string(job.Kind), "enqueued").Inc()
	util.LoggerFromContext(ctx).Info("bot job enqueued",
		"job_id", status.ID, "kind", job.Kind, "placeholder_id", placeholder.ID, "scope_id", job.Scope.ID)
}

// HandleJob runs one detached bot job. It always leaves the placeholder in a
// final state; the returned error only marks the job failed in the queue.
func (a *App) HandleJob(ctx context.Context, job queue.Job) error {
	logger := slog.Default().With("job_id", job.ID, "kind", job.Kind,
		"placeholder_id", job.PlaceholderID, "scope_id", job.Scope.ID)
	ctx = util.ContextWithLogger(ctx, logger)
	if job.Exhausted {
		return a.settleExhausted(ctx, job)
	}
	var err error
	switch job.Kind {
	case queue.JobSummarize:
		err = a.runSummarize(ctx, job)
	case queue.JobReply:
		err = a.runReply(ctx, job)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err != nil {
		logger.Error("bot job failed", "err", err)
		metrics.BotJobs.WithLabelValues(string(job.Kind), "failed").Inc()
		return err
	}
	return nil
}

// settleExhausted finalizes the placeholder of a job whose worker died
// mid-run. A placeholder that already left its working state is kept.
func (a *App) settleExhausted(ctx context.Context, job queue.Job) error {
	logger := util.LoggerFromContext(ctx)
	metrics.BotJobs.WithLabelValues(string(job.Kind), "exhausted").Inc()
	msg, ok, err := a.store.GetMessage(ctx, job.Scope.Kind, job.Scope.ID, job.PlaceholderID)
	if err != nil {
		return fmt.Errorf("load placeholder: %w", err)
	}
	if !ok || msg.Deleted || msg.Content != placeholderText(job.Kind) {
		logger.Info("exhausted job already settled")
		return errJobExhausted
	}
	logger.Warn("bot job exhausted; finalizing placeholder with failure text")
	return a.fail(ctx, job, errJobExhausted)
}

func (a *App) runSummarize(ctx context.Context, job queue.Job) error {
	msgs, err := a.store.RecentMessages(ctx, job.Scope.Kind, job.Scope.ID, store.RecentQuery{
		Limit:     job.Count,
		HumanOnly: true,
	})
	if err != nil {
		return a.fail(ctx, job, fmt.Errorf("load context: %w", err))
	}
	if len(msgs) == 0 {
		metrics.BotJobs.WithLabelValues(string(job.Kind), "empty").Inc()
		return a.finalize(ctx, job, summaryEmptyText)
	}
	reverseMessages(msgs)

	system, prompt := buildSummaryPrompt(job.Scope.Name, msgs)
	text, err := a.generate(ctx, system, prompt)
	if err != nil {
		return a.fail(ctx, job, err)
	}
	summary := domain.Summary{
		ID:               util.NewID(),
		ScopeKind:        job.Scope.Kind,
		ScopeID:          job.Scope.ID,
		Content:          text,
		MessageCount:     len(msgs),
		Kind:             domain.SummaryInteractive,
		SourceMessageIDs: messageIDs(msgs),
		CreatedAt:        a.now(),
	}
	if err := a.store.CreateSummary(ctx, summary); err != nil {
		return a.fail(ctx, job, fmt.Errorf("create summary: %w", err))
	}
	if err := a.finalize(ctx, job, summaryHeader(len(msgs), text)); err != nil {
		return err
	}
	metrics.BotJobs.WithLabelValues(string(job.Kind), "succeeded").Inc()
	return nil
}

func (a *App) runReply(ctx context.Context, job queue.Job) error {
	recent, err := a.store.RecentMessages(ctx, job.Scope.Kind, job.Scope.ID, store.RecentQuery{
		Limit: replyHistoryLimit + 2,
	})
	if err != nil {
		return a.fail(ctx, job, fmt.Errorf("load history: %w", err))
	}
	history := make([]domain.Message, 0, len(recent))
	for _, msg := range recent {
		if msg.ID == job.PlaceholderID || msg.ID == job.TriggerID {
			continue
		}
		if len(history) == replyHistoryLimit {
			break
		}
		history = append(history, msg)
	}
	reverseMessages(history)

	system, prompt := buildReplyPrompt(history, job.Input)
	text, err := a.generate(ctx, system, prompt)
	if err != nil {
		return a.fail(ctx, job, err)
	}
	if err := a.finalize(ctx, job, text); err != nil {
		return err
	}
	metrics.BotJobs.WithLabelValues(string(job.Kind), "succeeded").Inc()
	return nil
}

// generate calls the provider under the generation timeout. Any failure,
// including an empty answer, is reported as ErrExternalService.
func (a *App) generate(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.generationTimeout)
	defer cancel()
	start := time.Now()
	text, err := a.generator.GenerateText(ctx, system, prompt)
	metrics.GenerationLatency.WithLabelValues(a.provider).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExternalService, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty generation", ErrExternalService)
	}
	return text, nil
}

// fail finalizes the placeholder with the job's failure text and returns
// cause for the queue's bookkeeping.
func (a *App) fail(ctx context.Context, job queue.Job, cause error) error {
	if err := a.finalize(ctx, job, failureText(job.Kind)); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// finalize rewrites the placeholder in place and broadcasts the update. A
// placeholder deleted while the job ran stays deleted.
func (a *App) finalize(ctx context.Context, job queue.Job, content string) error {
	updated, err := a.store.UpdateMessage(ctx, job.PlaceholderID, store.MessageUpdate{Content: &content})
	if errors.Is(err, store.ErrNotFound) {
		util.LoggerFromContext(ctx).Info("placeholder deleted; skipping finalize",
			"job_id", job.ID, "placeholder_id", job.PlaceholderID)
		metrics.BotJobs.WithLabelValues(string(job.Kind), "discarded").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("finalize placeholder: %w", err)
	}
	a.events.Broadcast(ctx, realtime.EventUpdated, updated)
	return nil
}

func placeholderText(kind queue.JobKind) string {
	if kind == queue.JobReply {
		return replyPlaceholderText
	}
	return summaryPlaceholderText
}

func failureText(kind queue.JobKind) string {
	if kind == queue.JobReply {
		return replyFailureText
	}
	return summaryFailureText
}

func messageIDs(msgs []domain.Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
	}
	return ids
}

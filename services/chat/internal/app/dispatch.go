package app

import (
	"context"
	"strconv"
	"strings"

	"chathub/internal/metrics"
	"chathub/pkg/domain"
)

const (
	summarizeCommand      = "/summarize"
	defaultSummarizeCount = 50
	minSummarizeCount     = 10
	maxSummarizeCount     = 200
)

// DispatchResult tells the caller whether content was consumed as a command.
type DispatchResult struct {
	Handled     bool
	Placeholder *domain.Message
}

// ParseSummarize reports whether content is a /summarize command and the
// message count it asks for. The first whitespace-separated token must be
// exactly "/summarize". A missing, non-numeric, or non-positive count means
// 50; the result is always clamped to [10, 200].
func ParseSummarize(content string) (int, bool) {
	fields := strings.Fields(content)
	if len(fields) == 0 || fields[0] != summarizeCommand {
		return 0, false
	}
	count := defaultSummarizeCount
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
			count = n
		}
	}
	return min(max(count, minSummarizeCount), maxSummarizeCount), true
}

// Dispatch routes commands to the bot pipeline. Commands are honoured in
// channels, and in conversations only when the other participant is the
// bot. Handled commands are never persisted as chat messages.
func (a *App) Dispatch(ctx context.Context, m Membership, content string) (DispatchResult, error) {
	count, ok := ParseSummarize(content)
	if !ok {
		return DispatchResult{}, nil
	}
	if m.Scope.Kind == domain.ScopeConversation && !m.WithBot() {
		return DispatchResult{}, nil
	}
	metrics.CommandsDispatched.WithLabelValues(summarizeCommand).Inc()
	placeholder, err := a.startSummarize(ctx, m, count)
	if err != nil {
		return DispatchResult{}, err
	}
	return DispatchResult{Handled: true, Placeholder: placeholder}, nil
}

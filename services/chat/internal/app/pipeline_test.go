package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chathub/pkg/domain"
	"chathub/pkg/queue"
	"chathub/pkg/realtime"
	"chathub/pkg/store"
)

func TestSummarizeCommandFinalizesPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guest := f.join(t, "user_guest", "Grace", domain.RoleGuest)
	f.seed(t, f.owner, 2)
	f.seed(t, guest, 1)

	res, err := f.app.Post(ctx, f.owner, "/summarize", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if !res.Command || res.Message != nil || res.Placeholder == nil {
		t.Fatalf("expected a handled command with placeholder, got %+v", res)
	}
	if res.Placeholder.Content != summaryPlaceholderText || !res.Placeholder.FromBot() {
		t.Fatalf("unexpected placeholder: %+v", res.Placeholder)
	}
	f.drain()

	final := f.message(t, f.owner.Scope, res.Placeholder.ID)
	if final.Content != summaryHeader(3, "• the team agreed to ship") {
		t.Fatalf("unexpected final content: %q", final.Content)
	}
	got := f.events.forMessage(res.Placeholder.ID)
	if len(got) != 2 || got[0] != realtime.EventCreated || got[1] != realtime.EventUpdated {
		t.Fatalf("expected created then updated, got %v", got)
	}

	prompt := f.gen.lastPrompt()
	if !strings.Contains(prompt, `from the "general" channel`) {
		t.Fatalf("prompt should name the channel: %q", prompt)
	}
	first := strings.Index(prompt, "Ada: message 0")
	last := strings.Index(prompt, "Grace: message 0")
	if first < 0 || last < 0 || first > last {
		t.Fatalf("prompt should list messages oldest first: %q", prompt)
	}
	if strings.Contains(prompt, summaryPlaceholderText) {
		t.Fatalf("bot messages must not be summarized")
	}

	summaries, err := f.app.ListSummaries(ctx, f.owner)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Kind != domain.SummaryInteractive || summaries[0].MessageCount != 3 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
	page, err := f.app.List(ctx, f.owner, "", 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, msg := range page.Items {
		if strings.HasPrefix(msg.Content, "/summarize") {
			t.Fatalf("command must not be stored as a message")
		}
	}
}

func TestSummarizeGenerationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, f.owner, 3)
	f.gen.err = errors.New("upstream unavailable")

	res, err := f.app.Post(ctx, f.owner, "/summarize 15", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	f.drain()

	final := f.message(t, f.owner.Scope, res.Placeholder.ID)
	if final.Content != summaryFailureText {
		t.Fatalf("expected failure text, got %q", final.Content)
	}
	if got := f.events.forMessage(res.Placeholder.ID); len(got) != 2 || got[1] != realtime.EventUpdated {
		t.Fatalf("expected exactly one update, got %v", got)
	}
	if summaries, _ := f.app.ListSummaries(ctx, f.owner); len(summaries) != 0 {
		t.Fatalf("failed generation must not store a summary, got %d", len(summaries))
	}
}

func TestSummarizeWithoutContext(t *testing.T) {
	f := newFixture(t)
	res, err := f.app.Post(context.Background(), f.owner, "/summarize", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	f.drain()
	if final := f.message(t, f.owner.Scope, res.Placeholder.ID); final.Content != summaryEmptyText {
		t.Fatalf("unexpected content %q", final.Content)
	}
	if f.gen.lastPrompt() != "" {
		t.Fatalf("generator must not be called without context")
	}
}

func TestSummarizeKeepsPlaceholderDeletedDuringJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, f.owner, 3)
	f.gen.text = "• secret summary"
	f.gen.gate = make(chan struct{})

	res, err := f.app.Post(ctx, f.owner, "/summarize", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := f.app.SoftDelete(ctx, f.owner, res.Placeholder.ID); err != nil {
		t.Fatalf("delete placeholder: %v", err)
	}
	close(f.gen.gate)
	f.drain()

	final := f.message(t, f.owner.Scope, res.Placeholder.ID)
	if !final.Deleted || final.Content != domain.DeletedContent {
		t.Fatalf("deleted placeholder was rewritten: deleted=%v content=%q", final.Deleted, final.Content)
	}
	got := f.events.forMessage(res.Placeholder.ID)
	if len(got) != 2 || got[0] != realtime.EventCreated || got[1] != realtime.EventDeleted {
		t.Fatalf("expected created then deleted only, got %v", got)
	}
}

func TestEditAfterDeleteIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.seed(t, f.owner, 1)[0]
	if _, err := f.app.SoftDelete(ctx, f.owner, msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.app.Edit(ctx, f.owner, msg.ID, "revived"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := f.message(t, f.owner.Scope, msg.ID); got.Content != domain.DeletedContent {
		t.Fatalf("tombstone rewritten: %q", got.Content)
	}
}

func TestExhaustedJobFinalizesPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, f.owner, 3)
	bot, err := f.app.EnsureBotMembership(ctx, f.server.ID)
	if err != nil {
		t.Fatalf("ensure bot: %v", err)
	}
	stuck, err := f.app.createBotMessage(ctx, f.owner.Scope, bot, summaryPlaceholderText, domain.KindSummary)
	if err != nil {
		t.Fatalf("create placeholder: %v", err)
	}

	err = f.app.HandleJob(ctx, queue.Job{
		ID:            "job-lost",
		Kind:          queue.JobSummarize,
		PlaceholderID: stuck.ID,
		Scope:         f.owner.Scope,
		BotMemberID:   bot.ID,
		Count:         50,
		Exhausted:     true,
	})
	if !errors.Is(err, errJobExhausted) {
		t.Fatalf("expected errJobExhausted, got %v", err)
	}
	if got := f.message(t, f.owner.Scope, stuck.ID); got.Content != summaryFailureText {
		t.Fatalf("expected failure text, got %q", got.Content)
	}
	if got := f.events.forMessage(stuck.ID); len(got) != 2 || got[1] != realtime.EventUpdated {
		t.Fatalf("expected created then one update, got %v", got)
	}
	if f.gen.lastPrompt() != "" {
		t.Fatalf("exhausted job must not call the generator")
	}

	// A placeholder that a previous attempt already finalized is left alone.
	done, err := f.app.createBotMessage(ctx, f.owner.Scope, bot, summaryHeader(3, "• shipped"), domain.KindSummary)
	if err != nil {
		t.Fatalf("create finalized message: %v", err)
	}
	_ = f.app.HandleJob(ctx, queue.Job{
		ID:            "job-finished",
		Kind:          queue.JobSummarize,
		PlaceholderID: done.ID,
		Scope:         f.owner.Scope,
		Exhausted:     true,
	})
	if got := f.message(t, f.owner.Scope, done.ID); got.Content != summaryHeader(3, "• shipped") {
		t.Fatalf("finalized message rewritten: %q", got.Content)
	}
	if got := f.events.forMessage(done.ID); len(got) != 1 {
		t.Fatalf("expected no update for a finalized message, got %v", got)
	}
}

func TestSummarizeEnqueueFailureFinalizesImmediately(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.owner, 2)
	f.drain()

	res, err := f.app.Post(context.Background(), f.owner, "/summarize", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if res.Placeholder == nil {
		t.Fatalf("expected placeholder")
	}
	if final := f.message(t, f.owner.Scope, res.Placeholder.ID); final.Content != summaryFailureText {
		t.Fatalf("expected failure text when the queue is closed, got %q", final.Content)
	}
}

// noBotStore refuses to create the bot profile.
type noBotStore struct {
	*store.MemoryStore
}

func (s noBotStore) CreateProfile(ctx context.Context, p domain.Profile) error {
	if p.ExternalUserID == BotExternalUserID {
		return errors.New("profiles table is read-only")
	}
	return s.MemoryStore.CreateProfile(ctx, p)
}

func TestSummarizeBotBootstrapFailureIsHandled(t *testing.T) {
	f := newFixtureWithStore(t, store.NewMemoryStore(), func(s store.Store) store.Store {
		return noBotStore{MemoryStore: s.(*store.MemoryStore)}
	})
	f.seed(t, f.owner, 2)
	before := f.events.count()

	res, err := f.app.Post(context.Background(), f.owner, "/summarize", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if !res.Command || res.Placeholder != nil {
		t.Fatalf("expected handled command without placeholder, got %+v", res)
	}
	if f.events.count() != before {
		t.Fatalf("nothing should be broadcast when the bot is unavailable")
	}
}

func TestBotConversationReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.app.OpenConversation(ctx, "user_owner", f.server.ID, "", true)
	if err != nil {
		t.Fatalf("open conversation: %v", err)
	}
	m, err := f.app.Authorize(ctx, "user_owner", ConversationRef(conv.ID))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	f.gen.text = "Hi Ada!"

	res, err := f.app.Post(ctx, m, "hello bot", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if res.Command || res.Message == nil {
		t.Fatalf("expected the human message to be stored, got %+v", res)
	}
	f.drain()

	page, err := f.app.List(ctx, m, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected message and reply, got %d", len(page.Items))
	}
	reply := page.Items[0]
	if !reply.FromBot() || reply.Kind != domain.KindReply || reply.Content != "Hi Ada!" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if got := f.events.forMessage(reply.ID); len(got) != 2 || got[1] != realtime.EventUpdated {
		t.Fatalf("expected created then updated for the reply, got %v", got)
	}
	prompt := f.gen.lastPrompt()
	if !strings.Contains(prompt, "User's latest message: hello bot") {
		t.Fatalf("prompt should carry the latest message: %q", prompt)
	}
	if strings.Contains(prompt, "User: hello bot") || strings.Contains(prompt, replyPlaceholderText) {
		t.Fatalf("history must exclude the trigger and the placeholder: %q", prompt)
	}
}

func TestBotConversationReplyFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _ := f.app.OpenConversation(ctx, "user_owner", f.server.ID, "", true)
	m, err := f.app.Authorize(ctx, "user_owner", ConversationRef(conv.ID))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	f.gen.text = "   "
	if _, err := f.app.Post(ctx, m, "anyone there?", nil); err != nil {
		t.Fatalf("post: %v", err)
	}
	f.drain()
	page, _ := f.app.List(ctx, m, "", 10)
	if len(page.Items) != 2 || page.Items[0].Content != replyFailureText {
		t.Fatalf("expected failure reply, got %+v", page.Items)
	}
}

func TestSummarizeInBotConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _ := f.app.OpenConversation(ctx, "user_owner", f.server.ID, "", true)
	m, err := f.app.Authorize(ctx, "user_owner", ConversationRef(conv.ID))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	res, err := f.app.Post(ctx, m, "/summarize", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if !res.Command || res.Placeholder == nil || res.Placeholder.ScopeKind != domain.ScopeConversation {
		t.Fatalf("expected command handled in the bot conversation, got %+v", res)
	}
	f.drain()
	if final := f.message(t, m.Scope, res.Placeholder.ID); final.Content != summaryEmptyText {
		t.Fatalf("unexpected content %q", final.Content)
	}
}

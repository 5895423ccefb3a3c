package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"chathub/internal/usertoken"
	"chathub/pkg/domain"
	"chathub/pkg/queue"
	"chathub/pkg/realtime"
	"chathub/pkg/store"
)

type fakeGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	failFor string
	prompts []string
	// gate, when set, holds every call until it is closed.
	gate chan struct{}
}

func (g *fakeGenerator) GenerateText(_ context.Context, _, userPrompt string) (string, error) {
	if g.gate != nil {
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, userPrompt)
	if g.err != nil {
		return "", g.err
	}
	if g.failFor != "" && strings.Contains(userPrompt, g.failFor) {
		return "", errors.New("provider rejected prompt")
	}
	return g.text, nil
}

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, kind realtime.EventKind, msg domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, realtime.Event{
		Topic:   domain.TopicFor(msg.ScopeKind, msg.ScopeID),
		Kind:    kind,
		Message: msg,
	})
}

func (b *recordingBroadcaster) forMessage(id string) []realtime.EventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	var kinds []realtime.EventKind
	for _, ev := range b.events {
		if ev.Message.ID == id {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// stepClock advances one second per reading so message order is deterministic.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	app     *App
	store   *store.MemoryStore
	gen     *fakeGenerator
	events  *recordingBroadcaster
	jobs    *queue.LocalJobQueue
	server  domain.Server
	channel domain.Channel
	owner   Membership
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemoryStore(), nil)
}

func newFixtureWithStore(t *testing.T, s *store.MemoryStore, wrap func(store.Store) store.Store) *fixture {
	t.Helper()
	var st store.Store = s
	if wrap != nil {
		st = wrap(s)
	}
	f := &fixture{
		store:  s,
		gen:    &fakeGenerator{text: "• the team agreed to ship"},
		events: &recordingBroadcaster{},
		jobs:   queue.NewLocalJobQueue(32),
	}
	clock := &stepClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	a, err := New(Config{
		Store:             st,
		Generator:         f.gen,
		Provider:          "fake",
		Broadcaster:       f.events,
		Queue:             f.jobs,
		GenerationTimeout: time.Second,
		DigestConcurrency: 2,
		Now:               clock.Now,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	f.app = a
	f.jobs.Start(context.Background(), 2, a.HandleJob)
	t.Cleanup(f.jobs.Close)

	ctx := context.Background()
	if _, err := a.EnsureProfile(ctx, usertoken.Identity{UserID: "user_owner", Name: "Ada"}); err != nil {
		t.Fatalf("ensure profile: %v", err)
	}
	f.server, err = a.CreateServer(ctx, "user_owner", "Team", "")
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	channels, err := s.ListChannelsByType(ctx, domain.ChannelText)
	if err != nil || len(channels) != 1 {
		t.Fatalf("expected general channel, got %v err=%v", channels, err)
	}
	f.channel = channels[0]
	f.owner, err = a.Authorize(ctx, "user_owner", ChannelRef(f.server.ID, f.channel.ID))
	if err != nil {
		t.Fatalf("authorize owner: %v", err)
	}
	return f
}

// join adds a profile as a member of the fixture server and returns its
// channel membership.
func (f *fixture) join(t *testing.T, userID, name string, role domain.MemberRole) Membership {
	t.Helper()
	ctx := context.Background()
	profile, err := f.app.EnsureProfile(ctx, usertoken.Identity{UserID: userID, Name: name})
	if err != nil {
		t.Fatalf("ensure profile: %v", err)
	}
	if err := f.store.CreateMember(ctx, domain.Member{
		ID:        "member-" + userID,
		Role:      role,
		ProfileID: profile.ID,
		ServerID:  f.server.ID,
	}); err != nil {
		t.Fatalf("create member: %v", err)
	}
	m, err := f.app.Authorize(ctx, userID, ChannelRef(f.server.ID, f.channel.ID))
	if err != nil {
		t.Fatalf("authorize %s: %v", userID, err)
	}
	return m
}

func (f *fixture) seed(t *testing.T, m Membership, n int) []domain.Message {
	t.Helper()
	out := make([]domain.Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := f.app.Ingest(context.Background(), m, fmt.Sprintf("message %d", i), nil)
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

// drain waits for every queued job to finish.
func (f *fixture) drain() {
	f.jobs.Close()
}

func (f *fixture) message(t *testing.T, scope domain.Scope, id string) domain.Message {
	t.Helper()
	msg, ok, err := f.store.GetMessage(context.Background(), scope.Kind, scope.ID, id)
	if err != nil || !ok {
		t.Fatalf("load message %s: ok=%v err=%v", id, ok, err)
	}
	return msg
}

package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chathub/pkg/domain"
	"chathub/pkg/store"
)

func TestEnsureBotMembershipConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.CreateServer(ctx, domain.Server{ID: "srv-2", Name: "Second"}, nil,
		domain.Member{ID: "m-owner-2", ProfileID: f.owner.Profile.ID, ServerID: "srv-2", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("create server: %v", err)
	}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			member, err := f.app.EnsureBotMembership(ctx, "srv-2")
			ids[i], errs[i] = member.ID, err
		}(i)
	}
	wg.Wait()
	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("ensure bot membership: %v", errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("expected one bot member, got %s and %s", ids[0], ids[i])
		}
	}
	member, ok, err := f.app.GetBotMember(ctx, "srv-2")
	if err != nil || !ok || member.ID != ids[0] || member.Role != domain.RoleGuest {
		t.Fatalf("unexpected bot member: %+v ok=%v err=%v", member, ok, err)
	}
	if member.Profile == nil || !member.Profile.IsBot || member.Profile.Name != BotName {
		t.Fatalf("expected bot profile attached, got %+v", member.Profile)
	}
}

// brokenServerStore refuses memberships in one server.
type brokenServerStore struct {
	*store.MemoryStore
	serverID string
}

func (s brokenServerStore) CreateMember(ctx context.Context, m domain.Member) error {
	if m.ServerID == s.serverID {
		return errors.New("server is archived")
	}
	return s.MemoryStore.CreateMember(ctx, m)
}

func TestSetupAllServersIsolatesFailures(t *testing.T) {
	f := newFixtureWithStore(t, store.NewMemoryStore(), func(s store.Store) store.Store {
		return brokenServerStore{MemoryStore: s.(*store.MemoryStore), serverID: "broken"}
	})
	ctx := context.Background()
	owner := f.owner.Profile.ID
	now := time.Now().UTC()
	for _, id := range []string{"broken", "fresh"} {
		if err := f.store.CreateServer(ctx, domain.Server{ID: id, Name: id, CreatedAt: now}, nil,
			domain.Member{ID: "owner-" + id, ProfileID: owner, ServerID: id, Role: domain.RoleAdmin}); err != nil {
			t.Fatalf("create server: %v", err)
		}
	}

	results, err := f.app.SetupAllServers(ctx)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected a result per server, got %+v", results)
	}
	byID := map[string]BotSetupResult{}
	for _, res := range results {
		byID[res.ServerID] = res
	}
	if byID["broken"].Error == "" || byID["broken"].MemberID != "" {
		t.Fatalf("expected broken server to report an error, got %+v", byID["broken"])
	}
	if byID["fresh"].Error != "" || byID["fresh"].MemberID == "" {
		t.Fatalf("expected fresh server to get the bot, got %+v", byID["fresh"])
	}
	if _, ok, _ := f.app.GetBotMember(ctx, "fresh"); !ok {
		t.Fatalf("bot should be a member of fresh")
	}
	existing := byID[f.server.ID]
	if existing.Error != "" || existing.MemberID == "" {
		t.Fatalf("expected existing membership to be reported, got %+v", existing)
	}
}

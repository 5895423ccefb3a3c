package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chathub/pkg/domain"
)

func seedScope(t *testing.T, s *MemoryStore) (domain.Member, domain.Member) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	human := domain.Profile{ID: "p-human", ExternalUserID: "user_1", Name: "Ada", CreatedAt: now}
	bot := domain.Profile{ID: "p-bot", ExternalUserID: "ai-bot-system", Name: "AIBot", IsBot: true, CreatedAt: now}
	for _, p := range []domain.Profile{human, bot} {
		if err := s.CreateProfile(ctx, p); err != nil {
			t.Fatalf("create profile: %v", err)
		}
	}
	owner := domain.Member{ID: "m-human", ProfileID: human.ID, ServerID: "s1", Role: domain.RoleAdmin}
	if err := s.CreateServer(ctx, domain.Server{ID: "s1", Name: "srv"}, []domain.Channel{
		{ID: "c1", Name: "general", Type: domain.ChannelText, ServerID: "s1", CreatedAt: now},
	}, owner); err != nil {
		t.Fatalf("create server: %v", err)
	}
	botMember := domain.Member{ID: "m-bot", ProfileID: bot.ID, ServerID: "s1", Role: domain.RoleGuest}
	if err := s.CreateMember(ctx, botMember); err != nil {
		t.Fatalf("create bot member: %v", err)
	}
	return owner, botMember
}

func TestMemoryStoreListMessagesCursorPagination(t *testing.T) {
	s := NewMemoryStore()
	owner, _ := seedScope(t, s)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		msg := domain.Message{
			ID:        fmt.Sprintf("msg-%02d", i),
			Content:   fmt.Sprintf("hello %d", i),
			ScopeKind: domain.ScopeChannel,
			ScopeID:   "c1",
			MemberID:  owner.ID,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := s.ListMessages(ctx, domain.ScopeChannel, "c1", ListOptions{Take: 10, Cursor: cursor})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		pages++
		for i, msg := range page {
			if seen[msg.ID] {
				t.Fatalf("message %s returned twice", msg.ID)
			}
			seen[msg.ID] = true
			if msg.Member == nil || msg.Member.Profile == nil || msg.Member.Profile.Name != "Ada" {
				t.Fatalf("expected author to be joined, got %+v", msg.Member)
			}
			if i > 0 && !newerThan(page[i-1], msg) {
				t.Fatalf("page not ordered newest first at %d", i)
			}
		}
		if len(page) < 10 {
			break
		}
		cursor = page[len(page)-1].ID
	}
	if len(seen) != 25 {
		t.Fatalf("expected 25 messages across pages, got %d", len(seen))
	}
	if pages != 3 {
		t.Fatalf("expected 3 pages, got %d", pages)
	}
}

func TestMemoryStoreRecentMessagesFiltersBotsAndDeleted(t *testing.T) {
	s := NewMemoryStore()
	owner, bot := seedScope(t, s)
	ctx := context.Background()
	now := time.Now().UTC()
	msgs := []domain.Message{
		{ID: "a", Content: "old", MemberID: owner.ID, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "b", Content: "fresh", MemberID: owner.ID, CreatedAt: now.Add(-time.Hour)},
		{ID: "c", Content: "bot", MemberID: bot.ID, CreatedAt: now.Add(-30 * time.Minute)},
		{ID: "d", Content: domain.DeletedContent, MemberID: owner.ID, Deleted: true, CreatedAt: now.Add(-10 * time.Minute)},
	}
	for _, msg := range msgs {
		msg.ScopeKind = domain.ScopeChannel
		msg.ScopeID = "c1"
		if err := s.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}

	q := RecentQuery{Limit: 100, Since: now.Add(-24 * time.Hour), HumanOnly: true}
	got, err := s.RecentMessages(ctx, domain.ScopeChannel, "c1", q)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected only the fresh human message, got %+v", got)
	}
	count, err := s.CountMessages(ctx, domain.ScopeChannel, "c1", q)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestMemoryStoreUniqueConstraintsUnderRace(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CreateProfile(ctx, domain.Profile{
				ID:             fmt.Sprintf("p-%d", i),
				ExternalUserID: "ai-bot-system",
				Name:           "AIBot",
				IsBot:          true,
			})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrAlreadyExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("expected exactly one profile created, got %d", created)
	}

	if err := s.CreateMember(ctx, domain.Member{ID: "m1", ProfileID: "p-0", ServerID: "s"}); err != nil {
		t.Fatalf("create member: %v", err)
	}
	if err := s.CreateMember(ctx, domain.Member{ID: "m2", ProfileID: "p-0", ServerID: "s"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for duplicate membership, got %v", err)
	}
}

func TestMemoryStoreUpdateMessageSoftDelete(t *testing.T) {
	s := NewMemoryStore()
	owner, _ := seedScope(t, s)
	ctx := context.Background()
	file := "uploads/a.png"
	if err := s.CreateMessage(ctx, domain.Message{
		ID: "m", Content: "hi", FileURL: &file, ScopeKind: domain.ScopeChannel, ScopeID: "c1", MemberID: owner.ID,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	content := domain.DeletedContent
	deleted := true
	got, err := s.UpdateMessage(ctx, "m", MessageUpdate{Content: &content, Deleted: &deleted, ClearFile: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.Deleted || got.FileURL != nil || got.Content != domain.DeletedContent {
		t.Fatalf("unexpected soft-deleted message: %+v", got)
	}
	if _, err := s.UpdateMessage(ctx, "missing", MessageUpdate{Content: &content}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	revived := "back again"
	if _, err := s.UpdateMessage(ctx, "m", MessageUpdate{Content: &revived}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a deleted message, got %v", err)
	}
	stored, _, err := s.GetMessage(ctx, domain.ScopeChannel, "c1", "m")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Content != domain.DeletedContent {
		t.Fatalf("tombstone rewritten: %q", stored.Content)
	}
}

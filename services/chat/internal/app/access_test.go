package app

import (
	"context"
	"errors"
	"testing"

	"chathub/internal/usertoken"
	"chathub/pkg/domain"
)

func TestAuthorizeChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if f.owner.Member.Role != domain.RoleAdmin || f.owner.Scope.Name != "general" {
		t.Fatalf("unexpected owner membership: %+v", f.owner)
	}
	if _, err := f.app.Authorize(ctx, "nobody", ChannelRef(f.server.ID, f.channel.ID)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown user, got %v", err)
	}
	if _, err := f.app.Authorize(ctx, "user_owner", ChannelRef(f.server.ID, "missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing channel, got %v", err)
	}
	if _, err := f.app.EnsureProfile(ctx, usertoken.Identity{UserID: "outsider", Name: "Out"}); err != nil {
		t.Fatalf("ensure profile: %v", err)
	}
	if _, err := f.app.Authorize(ctx, "outsider", ChannelRef(f.server.ID, f.channel.ID)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-member, got %v", err)
	}
	if _, err := f.app.Authorize(ctx, "user_owner", ChannelRef("", f.channel.ID)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation without serverId, got %v", err)
	}
}

func TestAuthorizeConversationResolvesOtherMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guest := f.join(t, "user_guest", "Grace", domain.RoleGuest)

	conv, err := f.app.OpenConversation(ctx, "user_owner", f.server.ID, guest.Member.ID, false)
	if err != nil {
		t.Fatalf("open conversation: %v", err)
	}
	again, err := f.app.OpenConversation(ctx, "user_guest", f.server.ID, f.owner.Member.ID, false)
	if err != nil || again.ID != conv.ID {
		t.Fatalf("expected the same conversation from either side, got %v err=%v", again.ID, err)
	}

	m, err := f.app.Authorize(ctx, "user_guest", ConversationRef(conv.ID))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if m.Member.ID != guest.Member.ID || m.Other == nil || m.Other.ID != f.owner.Member.ID {
		t.Fatalf("unexpected membership: %+v", m)
	}
	if m.WithBot() {
		t.Fatalf("human conversation must not be a bot conversation")
	}

	f.join(t, "user_third", "Tom", domain.RoleGuest)
	if _, err := f.app.Authorize(ctx, "user_third", ConversationRef(conv.ID)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-participant, got %v", err)
	}
}

func TestOpenConversationWithBot(t *testing.T) {
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
	if !m.WithBot() {
		t.Fatalf("expected bot conversation, other=%+v", m.Other)
	}
	if _, err := f.app.OpenConversation(ctx, "user_owner", f.server.ID, f.owner.Member.ID, false); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for self conversation, got %v", err)
	}
}

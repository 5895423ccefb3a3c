package app

import (
	"context"
	"fmt"
	"strings"

	"chathub/pkg/domain"
)

// ScopeRef names the scope a request targets: a channel inside a server, or
// a conversation.
type ScopeRef struct {
	Kind           domain.ScopeKind
	ServerID       string
	ChannelID      string
	ConversationID string
}

func ChannelRef(serverID, channelID string) ScopeRef {
	return ScopeRef{Kind: domain.ScopeChannel, ServerID: serverID, ChannelID: channelID}
}

func ConversationRef(conversationID string) ScopeRef {
	return ScopeRef{Kind: domain.ScopeConversation, ConversationID: conversationID}
}

// Membership is the caller's authorized standing in one scope.
type Membership struct {
	Profile domain.Profile
	Member  domain.Member
	Scope   domain.Scope
	// Other is the second participant of a conversation.
	Other *domain.Member
}

// WithBot reports whether the scope is a conversation with the bot.
func (m Membership) WithBot() bool {
	return m.Scope.Kind == domain.ScopeConversation &&
		m.Other != nil && m.Other.Profile != nil && m.Other.Profile.IsBot
}

// Authorize resolves the caller's profile and membership in ref. A missing
// scope and a scope the caller does not belong to are both ErrNotFound.
func (a *App) Authorize(ctx context.Context, userID string, ref ScopeRef) (Membership, error) {
	profile, err := a.profileFor(ctx, userID)
	if err != nil {
		return Membership{}, err
	}
	switch ref.Kind {
	case domain.ScopeChannel:
		return a.authorizeChannel(ctx, profile, ref)
	case domain.ScopeConversation:
		return a.authorizeConversation(ctx, profile, ref)
	default:
		return Membership{}, fmt.Errorf("%w: unknown scope kind", ErrValidation)
	}
}

func (a *App) profileFor(ctx context.Context, userID string) (domain.Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Profile{}, ErrUnauthorized
	}
	profile, ok, err := a.store.GetProfileByExternalID(ctx, userID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if !ok {
		return domain.Profile{}, ErrUnauthorized
	}
	return profile, nil
}

func (a *App) authorizeChannel(ctx context.Context, profile domain.Profile, ref ScopeRef) (Membership, error) {
	serverID := strings.TrimSpace(ref.ServerID)
	channelID := strings.TrimSpace(ref.ChannelID)
	if serverID == "" || channelID == "" {
		return Membership{}, fmt.Errorf("%w: serverId and channelId required", ErrValidation)
	}
	channel, ok, err := a.store.GetChannel(ctx, serverID, channelID)
	if err != nil {
		return Membership{}, fmt.Errorf("load channel: %w", err)
	}
	if !ok {
		return Membership{}, ErrNotFound
	}
	member, ok, err := a.store.GetMemberByProfile(ctx, serverID, profile.ID)
	if err != nil {
		return Membership{}, fmt.Errorf("load member: %w", err)
	}
	if !ok {
		return Membership{}, ErrNotFound
	}
	member.Profile = &profile
	return Membership{
		Profile: profile,
		Member:  member,
		Scope: domain.Scope{
			Kind:     domain.ScopeChannel,
			ID:       channel.ID,
			ServerID: channel.ServerID,
			Name:     channel.Name,
		},
	}, nil
}

func (a *App) authorizeConversation(ctx context.Context, profile domain.Profile, ref ScopeRef) (Membership, error) {
	conversationID := strings.TrimSpace(ref.ConversationID)
	if conversationID == "" {
		return Membership{}, fmt.Errorf("%w: conversationId required", ErrValidation)
	}
	conv, ok, err := a.store.GetConversation(ctx, conversationID)
	if err != nil {
		return Membership{}, fmt.Errorf("load conversation: %w", err)
	}
	if !ok || conv.MemberOne == nil || conv.MemberTwo == nil {
		return Membership{}, ErrNotFound
	}
	self, other := conv.MemberOne, conv.MemberTwo
	if self.ProfileID != profile.ID {
		self, other = other, self
	}
	if self.ProfileID != profile.ID {
		return Membership{}, ErrNotFound
	}
	member := *self
	member.Profile = &profile
	otherMember := *other
	return Membership{
		Profile: profile,
		Member:  member,
		Scope: domain.Scope{
			Kind:     domain.ScopeConversation,
			ID:       conv.ID,
			ServerID: member.ServerID,
			Name:     "conversation with " + otherName(otherMember),
		},
		Other: &otherMember,
	}, nil
}

func otherName(m domain.Member) string {
	if m.Profile == nil || m.Profile.Name == "" {
		return "Unknown"
	}
	return m.Profile.Name
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chathub/internal/usertoken"
	"chathub/internal/util"
	"chathub/pkg/domain"
	"chathub/pkg/store"
	"github.com/google/uuid"
)

const (
	defaultChannelName = "general"
	summaryListLimit   = 10
)

// EnsureProfile returns the caller's profile, creating it from the token
// identity on first sign-in.
func (a *App) EnsureProfile(ctx context.Context, id usertoken.Identity) (domain.Profile, error) {
	userID := strings.TrimSpace(id.UserID)
	if userID == "" || userID == BotExternalUserID {
		return domain.Profile{}, ErrUnauthorized
	}
	profile, ok, err := a.store.GetProfileByExternalID(ctx, userID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if ok {
		return profile, nil
	}
	name := strings.TrimSpace(id.Name)
	if name == "" {
		name = "User"
	}
	now := a.now()
	profile = domain.Profile{
		ID:             util.NewID(),
		ExternalUserID: userID,
		Name:           name,
		ImageURL:       id.ImageURL,
		Email:          id.Email,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = a.store.CreateProfile(ctx, profile)
	if errors.Is(err, store.ErrAlreadyExists) {
		profile, ok, err = a.store.GetProfileByExternalID(ctx, userID)
		if err == nil && !ok {
			err = errors.New("profile vanished after conflict")
		}
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	return profile, nil
}

// CreateServer creates a server owned by the caller with a "general" text
// channel and the caller as ADMIN. The bot joins best-effort.
func (a *App) CreateServer(ctx context.Context, userID, name, imageURL string) (domain.Server, error) {
	profile, err := a.profileFor(ctx, userID)
	if err != nil {
		return domain.Server{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Server{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	now := a.now()
	server := domain.Server{
		ID:         util.NewID(),
		Name:       name,
		ImageURL:   strings.TrimSpace(imageURL),
		InviteCode: uuid.NewString(),
		ProfileID:  profile.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	general := domain.Channel{
		ID:        util.NewID(),
		Name:      defaultChannelName,
		Type:      domain.ChannelText,
		ServerID:  server.ID,
		ProfileID: profile.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	owner := domain.Member{
		ID:        util.NewID(),
		Role:      domain.RoleAdmin,
		ProfileID: profile.ID,
		ServerID:  server.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateServer(ctx, server, []domain.Channel{general}, owner); err != nil {
		return domain.Server{}, fmt.Errorf("create server: %w", err)
	}
	if _, err := a.EnsureBotMembership(ctx, server.ID); err != nil {
		util.LoggerFromContext(ctx).Warn("bot join failed", "server_id", server.ID, "err", err)
	}
	return server, nil
}

// OpenConversation returns the conversation between the caller's membership
// in serverID and the target member, creating it if needed. withBot targets
// the server's bot member instead of targetMemberID.
func (a *App) OpenConversation(ctx context.Context, userID, serverID, targetMemberID string, withBot bool) (domain.Conversation, error) {
	profile, err := a.profileFor(ctx, userID)
	if err != nil {
		return domain.Conversation{}, err
	}
	serverID = strings.TrimSpace(serverID)
	if serverID == "" {
		return domain.Conversation{}, fmt.Errorf("%w: serverId required", ErrValidation)
	}
	self, ok, err := a.store.GetMemberByProfile(ctx, serverID, profile.ID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load member: %w", err)
	}
	if !ok {
		return domain.Conversation{}, ErrNotFound
	}

	var target domain.Member
	if withBot {
		target, err = a.EnsureBotMembership(ctx, serverID)
		if err != nil {
			return domain.Conversation{}, err
		}
	} else {
		target, ok, err = a.store.GetMember(ctx, strings.TrimSpace(targetMemberID))
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("load target member: %w", err)
		}
		if !ok || target.ServerID != serverID {
			return domain.Conversation{}, ErrNotFound
		}
	}
	if target.ID == self.ID {
		return domain.Conversation{}, fmt.Errorf("%w: cannot open a conversation with yourself", ErrValidation)
	}

	conv, ok, err := a.store.FindConversation(ctx, self.ID, target.ID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("find conversation: %w", err)
	}
	if ok {
		return conv, nil
	}
	one, two := self.ID, target.ID
	if one > two {
		one, two = two, one
	}
	err = a.store.CreateConversation(ctx, domain.Conversation{
		ID:          util.NewID(),
		MemberOneID: one,
		MemberTwoID: two,
		CreatedAt:   a.now(),
	})
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	conv, ok, err = a.store.FindConversation(ctx, self.ID, target.ID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("find conversation: %w", err)
	}
	if !ok {
		return domain.Conversation{}, errors.New("conversation vanished after create")
	}
	return conv, nil
}

// ListSummaries returns the most recent summaries of the membership's scope.
func (a *App) ListSummaries(ctx context.Context, m Membership) ([]domain.Summary, error) {
	items, err := a.store.ListSummaries(ctx, m.Scope.Kind, m.Scope.ID, summaryListLimit)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	return items, nil
}

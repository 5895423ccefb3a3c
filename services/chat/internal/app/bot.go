package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chathub/internal/util"
	"chathub/pkg/domain"
	"chathub/pkg/store"
)

const (
	BotExternalUserID = "ai-bot-system"
	BotName           = "AIBot"
	botImageURL       = "https://cdn-icons-png.flaticon.com/512/4712/4712027.png"
	botEmail          = "aibot@system.local"
)

// EnsureBotProfile returns the single bot profile, creating it on first use.
// Concurrent creators race on the external id unique constraint; losers
// re-read the winner's row.
func (a *App) EnsureBotProfile(ctx context.Context) (domain.Profile, error) {
	profile, ok, err := a.store.GetProfileByExternalID(ctx, BotExternalUserID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load bot profile: %w", err)
	}
	if ok {
		return profile, nil
	}
	now := a.now()
	profile = domain.Profile{
		ID:             util.NewID(),
		ExternalUserID: BotExternalUserID,
		Name:           BotName,
		ImageURL:       botImageURL,
		Email:          botEmail,
		IsBot:          true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = a.store.CreateProfile(ctx, profile)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		return domain.Profile{}, fmt.Errorf("create bot profile: %w", err)
	}
	profile, ok, err = a.store.GetProfileByExternalID(ctx, BotExternalUserID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("reload bot profile: %w", err)
	}
	if !ok {
		return domain.Profile{}, errors.New("bot profile vanished after conflict")
	}
	return profile, nil
}

// EnsureBotMembership makes the bot a GUEST of serverID if it is not already
// a member, and returns the membership with the bot profile attached.
func (a *App) EnsureBotMembership(ctx context.Context, serverID string) (domain.Member, error) {
	profile, err := a.EnsureBotProfile(ctx)
	if err != nil {
		return domain.Member{}, err
	}
	member, ok, err := a.store.GetMemberByProfile(ctx, serverID, profile.ID)
	if err != nil {
		return domain.Member{}, fmt.Errorf("load bot member: %w", err)
	}
	if !ok {
		now := a.now()
		member = domain.Member{
			ID:        util.NewID(),
			Role:      domain.RoleGuest,
			ProfileID: profile.ID,
			ServerID:  serverID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = a.store.CreateMember(ctx, member)
		if errors.Is(err, store.ErrAlreadyExists) {
			member, ok, err = a.store.GetMemberByProfile(ctx, serverID, profile.ID)
			if err == nil && !ok {
				err = errors.New("bot member vanished after conflict")
			}
		}
		if err != nil {
			return domain.Member{}, fmt.Errorf("create bot member: %w", err)
		}
	}
	member.Profile = &profile
	return member, nil
}

// GetBotMember returns the bot's membership in serverID without creating it.
func (a *App) GetBotMember(ctx context.Context, serverID string) (domain.Member, bool, error) {
	profile, ok, err := a.store.GetProfileByExternalID(ctx, BotExternalUserID)
	if err != nil || !ok {
		return domain.Member{}, false, err
	}
	member, ok, err := a.store.GetMemberByProfile(ctx, serverID, profile.ID)
	if err != nil || !ok {
		return domain.Member{}, false, err
	}
	member.Profile = &profile
	return member, true, nil
}

// BotSetupResult reports the bot bootstrap outcome for one server.
type BotSetupResult struct {
	ServerID   string `json:"serverId"`
	ServerName string `json:"serverName"`
	MemberID   string `json:"memberId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SetupAllServers ensures the bot is a member of every server. A failing
// server does not stop the others.
func (a *App) SetupAllServers(ctx context.Context) ([]BotSetupResult, error) {
	if _, err := a.EnsureBotProfile(ctx); err != nil {
		return nil, err
	}
	servers, err := a.store.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	results := make([]BotSetupResult, 0, len(servers))
	for _, srv := range servers {
		res := BotSetupResult{ServerID: srv.ID, ServerName: srv.Name}
		member, err := a.EnsureBotMembership(ctx, srv.ID)
		if err != nil {
			slog.Warn("bot setup failed", "server_id", srv.ID, "err", err)
			res.Error = err.Error()
		} else {
			res.MemberID = member.ID
		}
		results = append(results, res)
	}
	return results, nil
}

package store

import (
	"context"
	"errors"
	"time"

	"chathub/pkg/domain"
)

// ErrAlreadyExists is returned by create operations that hit a unique
// constraint (profile external id, server membership, conversation pair).
var ErrAlreadyExists = errors.New("store: already exists")

// ErrNotFound is returned by updates whose target row does not exist.
var ErrNotFound = errors.New("store: not found")

// ListOptions selects one newest-first page of a scope's history.
// Cursor is the id of the last message of the previous page.
type ListOptions struct {
	Take   int
	Cursor string
}

// RecentQuery selects the most recent non-deleted messages of a scope.
type RecentQuery struct {
	Limit     int
	Since     time.Time
	HumanOnly bool
}

// MessageUpdate carries the mutable fields of a message. Nil fields are left
// untouched; ClearFile nulls the attachment. Updates only apply to messages
// that are not deleted; a tombstone reports ErrNotFound.
type MessageUpdate struct {
	Content   *string
	Deleted   *bool
	ClearFile bool
}

// Store defines persistence operations for profiles, servers, scopes,
// messages, and summaries.
type Store interface {
	// profiles
	CreateProfile(ctx context.Context, p domain.Profile) error
	GetProfile(ctx context.Context, id string) (domain.Profile, bool, error)
	GetProfileByExternalID(ctx context.Context, externalUserID string) (domain.Profile, bool, error)

	// servers and channels
	CreateServer(ctx context.Context, server domain.Server, channels []domain.Channel, owner domain.Member) error
	GetServer(ctx context.Context, id string) (domain.Server, bool, error)
	ListServers(ctx context.Context) ([]domain.Server, error)
	GetChannel(ctx context.Context, serverID, channelID string) (domain.Channel, bool, error)
	ListChannelsByType(ctx context.Context, channelType domain.ChannelType) ([]domain.Channel, error)

	// members
	CreateMember(ctx context.Context, m domain.Member) error
	GetMember(ctx context.Context, id string) (domain.Member, bool, error)
	GetMemberByProfile(ctx context.Context, serverID, profileID string) (domain.Member, bool, error)

	// conversations
	CreateConversation(ctx context.Context, c domain.Conversation) error
	GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error)
	FindConversation(ctx context.Context, memberOneID, memberTwoID string) (domain.Conversation, bool, error)

	// messages; reads return the author member with its profile
	CreateMessage(ctx context.Context, msg domain.Message) error
	GetMessage(ctx context.Context, kind domain.ScopeKind, scopeID, id string) (domain.Message, bool, error)
	UpdateMessage(ctx context.Context, id string, update MessageUpdate) (domain.Message, error)
	ListMessages(ctx context.Context, kind domain.ScopeKind, scopeID string, opts ListOptions) ([]domain.Message, error)
	RecentMessages(ctx context.Context, kind domain.ScopeKind, scopeID string, q RecentQuery) ([]domain.Message, error)
	CountMessages(ctx context.Context, kind domain.ScopeKind, scopeID string, q RecentQuery) (int, error)

	// summaries
	CreateSummary(ctx context.Context, s domain.Summary) error
	ListSummaries(ctx context.Context, kind domain.ScopeKind, scopeID string, limit int) ([]domain.Summary, error)
	LatestSummary(ctx context.Context, kind domain.ScopeKind, scopeID string, summaryKind domain.SummaryKind) (domain.Summary, bool, error)
}

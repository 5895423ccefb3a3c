package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ProfileModel struct {
	ID             string    `gorm:"primaryKey"`
	ExternalUserID string    `gorm:"uniqueIndex;not null"`
	Name           string    `gorm:"not null"`
	ImageURL       string    `gorm:"type:text"`
	Email          string    `gorm:"type:text"`
	IsBot          bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time
}

type ServerModel struct {
	ID         string    `gorm:"primaryKey"`
	Name       string    `gorm:"not null"`
	ImageURL   string    `gorm:"type:text"`
	InviteCode string    `gorm:"uniqueIndex;not null"`
	ProfileID  string    `gorm:"not null;index"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time
}

type ChannelModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	Type      string    `gorm:"not null;index"`
	ServerID  string    `gorm:"not null;index"`
	ProfileID string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type MemberModel struct {
	ID        string    `gorm:"primaryKey"`
	Role      string    `gorm:"not null"`
	ProfileID string    `gorm:"not null;uniqueIndex:idx_member_profile_server,priority:1"`
	ServerID  string    `gorm:"not null;uniqueIndex:idx_member_profile_server,priority:2;index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type ConversationModel struct {
	ID          string    `gorm:"primaryKey"`
	MemberOneID string    `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:1"`
	MemberTwoID string    `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:2;index"`
	CreatedAt   time.Time `gorm:"not null"`
}

// MessageModel stores both channel messages and direct messages, keyed by
// (scope_kind, scope_id).
type MessageModel struct {
	ID        string    `gorm:"primaryKey"`
	Content   string    `gorm:"type:text;not null"`
	FileURL   *string   `gorm:"type:text"`
	ScopeKind string    `gorm:"not null;index:idx_message_scope,priority:1"`
	ScopeID   string    `gorm:"not null;index:idx_message_scope,priority:2"`
	MemberID  string    `gorm:"not null;index"`
	Kind      string    `gorm:"not null;default:chat"`
	Deleted   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null;index:idx_message_scope,priority:3"`
	UpdatedAt time.Time `gorm:"not null"`
}

type SummaryModel struct {
	ID               string         `gorm:"primaryKey"`
	ScopeKind        string         `gorm:"not null;index:idx_summary_scope,priority:1"`
	ScopeID          string         `gorm:"not null;index:idx_summary_scope,priority:2"`
	Content          string         `gorm:"type:text;not null"`
	MessageCount     int            `gorm:"not null"`
	Kind             string         `gorm:"not null"`
	SourceMessageIDs datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null;index:idx_summary_scope,priority:3"`
}

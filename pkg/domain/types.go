package domain

import (
	"fmt"
	"time"
)

type MemberRole string

const (
	RoleAdmin     MemberRole = "ADMIN"
	RoleModerator MemberRole = "MODERATOR"
	RoleGuest     MemberRole = "GUEST"
)

// CanModerate reports whether the role may delete other members' messages.
func (r MemberRole) CanModerate() bool {
	return r == RoleAdmin || r == RoleModerator
}

type ChannelType string

const (
	ChannelText  ChannelType = "TEXT"
	ChannelAudio ChannelType = "AUDIO"
	ChannelVideo ChannelType = "VIDEO"
)

type ScopeKind string

const (
	ScopeChannel      ScopeKind = "channel"
	ScopeConversation ScopeKind = "conversation"
)

// MessageKind tags who produced a message and why.
type MessageKind string

const (
	KindChat    MessageKind = "chat"
	KindSummary MessageKind = "summary"
	KindDigest  MessageKind = "digest"
	KindReply   MessageKind = "reply"
)

type SummaryKind string

const (
	SummaryInteractive SummaryKind = "interactive"
	SummaryDigest      SummaryKind = "digest"
)

// DeletedContent replaces the content of soft-deleted messages.
const DeletedContent = "This message has been deleted."

type Profile struct {
	ID             string    `json:"id"`
	ExternalUserID string    `json:"userId"`
	Name           string    `json:"name"`
	ImageURL       string    `json:"imageUrl"`
	Email          string    `json:"email"`
	IsBot          bool      `json:"isBot"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Server struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ImageURL   string    `json:"imageUrl"`
	InviteCode string    `json:"inviteCode"`
	ProfileID  string    `json:"profileId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Channel struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      ChannelType `json:"type"`
	ServerID  string      `json:"serverId"`
	ProfileID string      `json:"profileId"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Member is a profile's membership in one server. Profile is populated
// whenever the member is returned as a message author.
type Member struct {
	ID        string     `json:"id"`
	Role      MemberRole `json:"role"`
	ProfileID string     `json:"profileId"`
	ServerID  string     `json:"serverId"`
	Profile   *Profile   `json:"profile,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Conversation is a 1:1 thread between two members of the same server.
type Conversation struct {
	ID          string    `json:"id"`
	MemberOneID string    `json:"memberOneId"`
	MemberTwoID string    `json:"memberTwoId"`
	MemberOne   *Member   `json:"memberOne,omitempty"`
	MemberTwo   *Member   `json:"memberTwo,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Scope is either a channel or a conversation; both carry the same message
// semantics and only differ in how membership is resolved.
type Scope struct {
	Kind     ScopeKind `json:"kind"`
	ID       string    `json:"id"`
	ServerID string    `json:"serverId"`
	Name     string    `json:"name"`
}

// Topic is the event topic viewers of this scope subscribe to.
func (s Scope) Topic() string {
	return TopicFor(s.Kind, s.ID)
}

func TopicFor(kind ScopeKind, id string) string {
	if kind == ScopeConversation {
		return fmt.Sprintf("conversation:%s:messages", id)
	}
	return fmt.Sprintf("chat:%s:messages", id)
}

// Message is a channel message or a direct message, depending on ScopeKind.
type Message struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	FileURL   *string     `json:"fileUrl"`
	ScopeKind ScopeKind   `json:"scopeKind"`
	ScopeID   string      `json:"scopeId"`
	MemberID  string      `json:"memberId"`
	Kind      MessageKind `json:"kind"`
	Deleted   bool        `json:"deleted"`
	Member    *Member     `json:"member,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// AuthorName returns the author's display name, or "Unknown" when the
// author was not loaded.
func (m Message) AuthorName() string {
	if m.Member == nil || m.Member.Profile == nil || m.Member.Profile.Name == "" {
		return "Unknown"
	}
	return m.Member.Profile.Name
}

// FromBot reports whether the message was authored by the bot profile.
func (m Message) FromBot() bool {
	return m.Member != nil && m.Member.Profile != nil && m.Member.Profile.IsBot
}

type Summary struct {
	ID               string      `json:"id"`
	ScopeKind        ScopeKind   `json:"scopeKind"`
	ScopeID          string      `json:"channelId"`
	Content          string      `json:"content"`
	MessageCount     int         `json:"messageCount"`
	Kind             SummaryKind `json:"kind"`
	SourceMessageIDs []string    `json:"sourceMessageIds,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// Page is one newest-first slice of a scope's history.
type Page struct {
	Items      []Message `json:"items"`
	NextCursor *string   `json:"nextCursor"`
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"chathub/pkg/domain"
)

// MemoryStore keeps everything in-process. It enforces the same unique
// constraints as the Postgres schema so create-if-absent races behave alike.
type MemoryStore struct {
	mu            sync.RWMutex
	profiles      map[string]domain.Profile
	externalIDs   map[string]string // external user id -> profile id
	servers       map[string]domain.Server
	serverOrder   []string
	channels      map[string]domain.Channel
	members       map[string]domain.Member
	memberships   map[string]string // profile id + server id -> member id
	conversations map[string]domain.Conversation
	pairs         map[string]string // member pair -> conversation id
	messages      map[string]domain.Message
	summaries     []domain.Summary
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*GormStore)(nil)

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:      make(map[string]domain.Profile),
		externalIDs:   make(map[string]string),
		servers:       make(map[string]domain.Server),
		channels:      make(map[string]domain.Channel),
		members:       make(map[string]domain.Member),
		memberships:   make(map[string]string),
		conversations: make(map[string]domain.Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string]domain.Message),
	}
}

func membershipKey(profileID, serverID string) string {
	return profileID + "|" + serverID
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (m *MemoryStore) CreateProfile(_ context.Context, p domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.externalIDs[p.ExternalUserID]; exists {
		return ErrAlreadyExists
	}
	if _, exists := m.profiles[p.ID]; exists {
		return ErrAlreadyExists
	}
	m.profiles[p.ID] = p
	m.externalIDs[p.ExternalUserID] = p.ID
	return nil
}

func (m *MemoryStore) GetProfile(_ context.Context, id string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	return p, ok, nil
}

func (m *MemoryStore) GetProfileByExternalID(_ context.Context, externalUserID string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.externalIDs[externalUserID]
	if !ok {
		return domain.Profile{}, false, nil
	}
	return m.profiles[id], true, nil
}

func (m *MemoryStore) CreateServer(_ context.Context, server domain.Server, channels []domain.Channel, owner domain.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.servers[server.ID]; exists {
		return ErrAlreadyExists
	}
	if _, exists := m.memberships[membershipKey(owner.ProfileID, owner.ServerID)]; exists {
		return ErrAlreadyExists
	}
	m.servers[server.ID] = server
	m.serverOrder = append(m.serverOrder, server.ID)
	for _, ch := range channels {
		m.channels[ch.ID] = ch
	}
	owner.Profile = nil
	m.members[owner.ID] = owner
	m.memberships[membershipKey(owner.ProfileID, owner.ServerID)] = owner.ID
	return nil
}

func (m *MemoryStore) GetServer(_ context.Context, id string) (domain.Server, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	return s, ok, nil
}

func (m *MemoryStore) ListServers(_ context.Context) ([]domain.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Server, 0, len(m.serverOrder))
	for _, id := range m.serverOrder {
		res = append(res, m.servers[id])
	}
	return res, nil
}

// AddChannel registers an extra channel; servers get their initial channels
// through CreateServer.
func (m *MemoryStore) AddChannel(ch domain.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ID] = ch
}

func (m *MemoryStore) GetChannel(_ context.Context, serverID, channelID string) (domain.Channel, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[channelID]
	if !ok || ch.ServerID != serverID {
		return domain.Channel{}, false, nil
	}
	return ch, true, nil
}

func (m *MemoryStore) ListChannelsByType(_ context.Context, channelType domain.ChannelType) ([]domain.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Channel, 0)
	for _, ch := range m.channels {
		if ch.Type == channelType {
			res = append(res, ch)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (m *MemoryStore) CreateMember(_ context.Context, member domain.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := membershipKey(member.ProfileID, member.ServerID)
	if _, exists := m.memberships[key]; exists {
		return ErrAlreadyExists
	}
	member.Profile = nil
	m.members[member.ID] = member
	m.memberships[key] = member.ID
	return nil
}

func (m *MemoryStore) GetMember(_ context.Context, id string) (domain.Member, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	member, ok := m.memberWithProfile(id)
	return member, ok, nil
}

func (m *MemoryStore) GetMemberByProfile(_ context.Context, serverID, profileID string) (domain.Member, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.memberships[membershipKey(profileID, serverID)]
	if !ok {
		return domain.Member{}, false, nil
	}
	member, ok := m.memberWithProfile(id)
	return member, ok, nil
}

// memberWithProfile must be called with the lock held.
func (m *MemoryStore) memberWithProfile(id string) (domain.Member, bool) {
	member, ok := m.members[id]
	if !ok {
		return domain.Member{}, false
	}
	if p, ok := m.profiles[member.ProfileID]; ok {
		member.Profile = &p
	}
	return member, true
}

func (m *MemoryStore) CreateConversation(_ context.Context, c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(c.MemberOneID, c.MemberTwoID)
	if _, exists := m.pairs[key]; exists {
		return ErrAlreadyExists
	}
	c.MemberOne, c.MemberTwo = nil, nil
	m.conversations[c.ID] = c
	m.pairs[key] = c.ID
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return domain.Conversation{}, false, nil
	}
	return m.hydrateConversation(c), true, nil
}

func (m *MemoryStore) FindConversation(_ context.Context, memberOneID, memberTwoID string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pairs[pairKey(memberOneID, memberTwoID)]
	if !ok {
		return domain.Conversation{}, false, nil
	}
	return m.hydrateConversation(m.conversations[id]), true, nil
}

func (m *MemoryStore) hydrateConversation(c domain.Conversation) domain.Conversation {
	if one, ok := m.memberWithProfile(c.MemberOneID); ok {
		c.MemberOne = &one
	}
	if two, ok := m.memberWithProfile(c.MemberTwoID); ok {
		c.MemberTwo = &two
	}
	return c
}

func (m *MemoryStore) CreateMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.messages[msg.ID]; exists {
		return ErrAlreadyExists
	}
	if msg.Kind == "" {
		msg.Kind = domain.KindChat
	}
	msg.Member = nil
	m.messages[msg.ID] = msg
	return nil
}

func (m *MemoryStore) GetMessage(_ context.Context, kind domain.ScopeKind, scopeID, id string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok || msg.ScopeKind != kind || msg.ScopeID != scopeID {
		return domain.Message{}, false, nil
	}
	return m.withAuthor(msg), true, nil
}

func (m *MemoryStore) UpdateMessage(_ context.Context, id string, update MessageUpdate) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.Deleted {
		return domain.Message{}, ErrNotFound
	}
	if update.Content != nil {
		msg.Content = *update.Content
	}
	if update.Deleted != nil {
		msg.Deleted = *update.Deleted
	}
	if update.ClearFile {
		msg.FileURL = nil
	}
	msg.UpdatedAt = time.Now().UTC()
	m.messages[id] = msg
	return m.withAuthor(msg), nil
}

func (m *MemoryStore) withAuthor(msg domain.Message) domain.Message {
	if member, ok := m.memberWithProfile(msg.MemberID); ok {
		msg.Member = &member
	}
	return msg
}

// scopeMessages returns a scope's messages ordered by (CreatedAt, ID) descending.
// Must be called with the lock held.
func (m *MemoryStore) scopeMessages(kind domain.ScopeKind, scopeID string) []domain.Message {
	res := make([]domain.Message, 0)
	for _, msg := range m.messages {
		if msg.ScopeKind == kind && msg.ScopeID == scopeID {
			res = append(res, msg)
		}
	}
	sort.Slice(res, func(i, j int) bool { return newerThan(res[i], res[j]) })
	return res
}

func newerThan(a, b domain.Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (m *MemoryStore) ListMessages(_ context.Context, kind domain.ScopeKind, scopeID string, opts ListOptions) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if opts.Take <= 0 {
		return []domain.Message{}, nil
	}
	all := m.scopeMessages(kind, scopeID)
	start := 0
	if opts.Cursor != "" {
		cursor, ok := m.messages[opts.Cursor]
		if !ok || cursor.ScopeKind != kind || cursor.ScopeID != scopeID {
			return []domain.Message{}, nil
		}
		start = len(all)
		for i, msg := range all {
			if newerThan(cursor, msg) {
				start = i
				break
			}
		}
	}
	res := make([]domain.Message, 0, opts.Take)
	for _, msg := range all[start:] {
		if len(res) == opts.Take {
			break
		}
		res = append(res, m.withAuthor(msg))
	}
	return res, nil
}

func (m *MemoryStore) recent(kind domain.ScopeKind, scopeID string, q RecentQuery) []domain.Message {
	res := make([]domain.Message, 0)
	for _, msg := range m.scopeMessages(kind, scopeID) {
		if msg.Deleted {
			continue
		}
		if !q.Since.IsZero() && msg.CreatedAt.Before(q.Since) {
			continue
		}
		msg = m.withAuthor(msg)
		if q.HumanOnly && msg.FromBot() {
			continue
		}
		res = append(res, msg)
	}
	return res
}

func (m *MemoryStore) RecentMessages(_ context.Context, kind domain.ScopeKind, scopeID string, q RecentQuery) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if q.Limit <= 0 {
		return []domain.Message{}, nil
	}
	res := m.recent(kind, scopeID, q)
	if len(res) > q.Limit {
		res = res[:q.Limit]
	}
	return res, nil
}

func (m *MemoryStore) CountMessages(_ context.Context, kind domain.ScopeKind, scopeID string, q RecentQuery) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recent(kind, scopeID, q)), nil
}

func (m *MemoryStore) CreateSummary(_ context.Context, s domain.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, s)
	return nil
}

func (m *MemoryStore) ListSummaries(_ context.Context, kind domain.ScopeKind, scopeID string, limit int) ([]domain.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Summary, 0)
	for i := len(m.summaries) - 1; i >= 0 && len(res) < limit; i-- {
		s := m.summaries[i]
		if s.ScopeKind == kind && s.ScopeID == scopeID {
			res = append(res, s)
		}
	}
	return res, nil
}

func (m *MemoryStore) LatestSummary(_ context.Context, kind domain.ScopeKind, scopeID string, summaryKind domain.SummaryKind) (domain.Summary, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.summaries) - 1; i >= 0; i-- {
		s := m.summaries[i]
		if s.ScopeKind == kind && s.ScopeID == scopeID && s.Kind == summaryKind {
			return s, true, nil
		}
	}
	return domain.Summary{}, false, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"chathub/pkg/domain"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 48151623

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&ProfileModel{},
			&ServerModel{},
			&ChannelModel{},
			&MemberModel{},
			&ConversationModel{},
			&MessageModel{},
			&SummaryModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func translateCreate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyExists
	}
	return err
}

// CreateProfile inserts a profile; a duplicate external id yields ErrAlreadyExists.
func (s *GormStore) CreateProfile(ctx context.Context, p domain.Profile) error {
	model := profileToModel(p)
	return translateCreate(s.db.WithContext(ctx).Create(&model).Error)
}

// GetProfile returns a profile by ID.
func (s *GormStore) GetProfile(ctx context.Context, id string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// GetProfileByExternalID looks up the profile bound to an identity-provider user.
func (s *GormStore) GetProfileByExternalID(ctx context.Context, externalUserID string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).Where("external_user_id = ?", externalUserID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// CreateServer inserts a server together with its initial channels and owner
// membership in one transaction.
func (s *GormStore) CreateServer(ctx context.Context, server domain.Server, channels []domain.Channel, owner domain.Member) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		serverModel := serverToModel(server)
		if err := tx.Create(&serverModel).Error; err != nil {
			return translateCreate(err)
		}
		for _, ch := range channels {
			model := channelToModel(ch)
			if err := tx.Create(&model).Error; err != nil {
				return translateCreate(err)
			}
		}
		memberModel := memberToModel(owner)
		return translateCreate(tx.Create(&memberModel).Error)
	})
}

// GetServer returns a server by ID.
func (s *GormStore) GetServer(ctx context.Context, id string) (domain.Server, bool, error) {
	var model ServerModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Server{}, false, nil
		}
		return domain.Server{}, false, err
	}
	return serverFromModel(model), true, nil
}

// ListServers returns all servers ordered by created_at.
func (s *GormStore) ListServers(ctx context.Context) ([]domain.Server, error) {
	var models []ServerModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Server, 0, len(models))
	for _, m := range models {
		res = append(res, serverFromModel(m))
	}
	return res, nil
}

// GetChannel returns a channel only if it belongs to the given server.
func (s *GormStore) GetChannel(ctx context.Context, serverID, channelID string) (domain.Channel, bool, error) {
	var model ChannelModel
	if err := s.db.WithContext(ctx).Where("id = ? AND server_id = ?", channelID, serverID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Channel{}, false, nil
		}
		return domain.Channel{}, false, err
	}
	return channelFromModel(model), true, nil
}

// ListChannelsByType returns every channel of a type across servers.
func (s *GormStore) ListChannelsByType(ctx context.Context, channelType domain.ChannelType) ([]domain.Channel, error) {
	var models []ChannelModel
	if err := s.db.WithContext(ctx).Where("type = ?", string(channelType)).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Channel, 0, len(models))
	for _, m := range models {
		res = append(res, channelFromModel(m))
	}
	return res, nil
}

// CreateMember inserts a membership; an existing (profile, server) pair yields ErrAlreadyExists.
func (s *GormStore) CreateMember(ctx context.Context, m domain.Member) error {
	model := memberToModel(m)
	return translateCreate(s.db.WithContext(ctx).Create(&model).Error)
}

// GetMember returns a member with its profile.
func (s *GormStore) GetMember(ctx context.Context, id string) (domain.Member, bool, error) {
	var model MemberModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Member{}, false, nil
		}
		return domain.Member{}, false, err
	}
	members, err := s.loadMembers(ctx, []string{model.ID})
	if err != nil {
		return domain.Member{}, false, err
	}
	return members[model.ID], true, nil
}

// GetMemberByProfile returns the profile's membership in a server.
func (s *GormStore) GetMemberByProfile(ctx context.Context, serverID, profileID string) (domain.Member, bool, error) {
	var model MemberModel
	if err := s.db.WithContext(ctx).Where("server_id = ? AND profile_id = ?", serverID, profileID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Member{}, false, nil
		}
		return domain.Member{}, false, err
	}
	members, err := s.loadMembers(ctx, []string{model.ID})
	if err != nil {
		return domain.Member{}, false, err
	}
	return members[model.ID], true, nil
}

// CreateConversation inserts a conversation between two members.
func (s *GormStore) CreateConversation(ctx context.Context, c domain.Conversation) error {
	model := ConversationModel{
		ID:          c.ID,
		MemberOneID: c.MemberOneID,
		MemberTwoID: c.MemberTwoID,
		CreatedAt:   c.CreatedAt,
	}
	return translateCreate(s.db.WithContext(ctx).Create(&model).Error)
}

// GetConversation returns a conversation with both members and their profiles.
func (s *GormStore) GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	conv, err := s.hydrateConversation(ctx, model)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	return conv, true, nil
}

// FindConversation looks up the conversation between two members in either order.
func (s *GormStore) FindConversation(ctx context.Context, memberOneID, memberTwoID string) (domain.Conversation, bool, error) {
	var model ConversationModel
	err := s.db.WithContext(ctx).
		Where("(member_one_id = ? AND member_two_id = ?) OR (member_one_id = ? AND member_two_id = ?)",
			memberOneID, memberTwoID, memberTwoID, memberOneID).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	conv, err := s.hydrateConversation(ctx, model)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	return conv, true, nil
}

func (s *GormStore) hydrateConversation(ctx context.Context, model ConversationModel) (domain.Conversation, error) {
	members, err := s.loadMembers(ctx, []string{model.MemberOneID, model.MemberTwoID})
	if err != nil {
		return domain.Conversation{}, err
	}
	conv := domain.Conversation{
		ID:          model.ID,
		MemberOneID: model.MemberOneID,
		MemberTwoID: model.MemberTwoID,
		CreatedAt:   model.CreatedAt,
	}
	if m, ok := members[model.MemberOneID]; ok {
		conv.MemberOne = &m
	}
	if m, ok := members[model.MemberTwoID]; ok {
		conv.MemberTwo = &m
	}
	return conv, nil
}

// CreateMessage appends a message to its scope.
func (s *GormStore) CreateMessage(ctx context.Context, msg domain.Message) error {
	model := messageToModel(msg)
	return translateCreate(s.db.WithContext(ctx).Create(&model).Error)
}

// GetMessage returns a message of the given scope with its author.
func (s *GormStore) GetMessage(ctx context.Context, kind domain.ScopeKind, scopeID, id string) (domain.Message, bool, error) {
	var model MessageModel
	err := s.db.WithContext(ctx).
		Where("id = ? AND scope_kind = ? AND scope_id = ?", id, string(kind), scopeID).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	msgs, err := s.withAuthors(ctx, []MessageModel{model})
	if err != nil {
		return domain.Message{}, false, err
	}
	return msgs[0], true, nil
}

// UpdateMessage applies update to a live message and returns the stored
// message. Deleted rows are never rewritten.
func (s *GormStore) UpdateMessage(ctx context.Context, id string, update MessageUpdate) (domain.Message, error) {
	fields := map[string]any{"updated_at": time.Now().UTC()}
	if update.Content != nil {
		fields["content"] = *update.Content
	}
	if update.Deleted != nil {
		fields["deleted"] = *update.Deleted
	}
	if update.ClearFile {
		fields["file_url"] = nil
	}
	res := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(fields)
	if res.Error != nil {
		return domain.Message{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Message{}, ErrNotFound
	}
	var model MessageModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return domain.Message{}, err
	}
	msgs, err := s.withAuthors(ctx, []MessageModel{model})
	if err != nil {
		return domain.Message{}, err
	}
	return msgs[0], nil
}

// ListMessages returns one page ordered by (created_at, id) descending,
// starting strictly after the cursor message.
func (s *GormStore) ListMessages(ctx context.Context, kind domain.ScopeKind, scopeID string, opts ListOptions) ([]domain.Message, error) {
	if opts.Take <= 0 {
		return []domain.Message{}, nil
	}
	query := s.db.WithContext(ctx).Where("scope_kind = ? AND scope_id = ?", string(kind), scopeID)
	if opts.Cursor != "" {
		var cursor MessageModel
		err := s.db.WithContext(ctx).
			Select("id", "created_at").
			Where("id = ? AND scope_kind = ? AND scope_id = ?", opts.Cursor, string(kind), scopeID).
			First(&cursor).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return []domain.Message{}, nil
			}
			return nil, err
		}
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var models []MessageModel
	if err := query.Order("created_at DESC, id DESC").Limit(opts.Take).Find(&models).Error; err != nil {
		return nil, err
	}
	return s.withAuthors(ctx, models)
}

// RecentMessages returns the newest non-deleted messages, newest first.
func (s *GormStore) RecentMessages(ctx context.Context, kind domain.ScopeKind, scopeID string, q RecentQuery) ([]domain.Message, error) {
	if q.Limit <= 0 {
		return []domain.Message{}, nil
	}
	var models []MessageModel
	if err := s.recentQuery(ctx, kind, scopeID, q).
		Select("message_models.*").
		Order("message_models.created_at DESC, message_models.id DESC").
		Limit(q.Limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return s.withAuthors(ctx, models)
}

// CountMessages counts the messages RecentMessages would consider, without a limit.
func (s *GormStore) CountMessages(ctx context.Context, kind domain.ScopeKind, scopeID string, q RecentQuery) (int, error) {
	var count int64
	if err := s.recentQuery(ctx, kind, scopeID, q).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *GormStore) recentQuery(ctx context.Context, kind domain.ScopeKind, scopeID string, q RecentQuery) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("message_models.scope_kind = ? AND message_models.scope_id = ?", string(kind), scopeID).
		Where("message_models.deleted = ?", false)
	if !q.Since.IsZero() {
		query = query.Where("message_models.created_at >= ?", q.Since)
	}
	if q.HumanOnly {
		query = query.
			Joins("JOIN member_models ON member_models.id = message_models.member_id").
			Joins("JOIN profile_models ON profile_models.id = member_models.profile_id").
			Where("profile_models.is_bot = ?", false)
	}
	return query
}

// CreateSummary appends a summary.
func (s *GormStore) CreateSummary(ctx context.Context, sum domain.Summary) error {
	model, err := summaryToModel(sum)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListSummaries returns the newest summaries of a scope, newest first.
func (s *GormStore) ListSummaries(ctx context.Context, kind domain.ScopeKind, scopeID string, limit int) ([]domain.Summary, error) {
	if limit <= 0 {
		return []domain.Summary{}, nil
	}
	var models []SummaryModel
	if err := s.db.WithContext(ctx).
		Where("scope_kind = ? AND scope_id = ?", string(kind), scopeID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Summary, 0, len(models))
	for _, m := range models {
		res = append(res, summaryFromModel(m))
	}
	return res, nil
}

// LatestSummary returns the newest summary of a kind for a scope.
func (s *GormStore) LatestSummary(ctx context.Context, kind domain.ScopeKind, scopeID string, summaryKind domain.SummaryKind) (domain.Summary, bool, error) {
	var model SummaryModel
	err := s.db.WithContext(ctx).
		Where("scope_kind = ? AND scope_id = ? AND kind = ?", string(kind), scopeID, string(summaryKind)).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Summary{}, false, nil
		}
		return domain.Summary{}, false, err
	}
	return summaryFromModel(model), true, nil
}

// loadMembers fetches members and their profiles keyed by member id.
func (s *GormStore) loadMembers(ctx context.Context, ids []string) (map[string]domain.Member, error) {
	res := make(map[string]domain.Member, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	var members []MemberModel
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&members).Error; err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	profileIDs := make([]string, 0, len(members))
	for _, m := range members {
		profileIDs = append(profileIDs, m.ProfileID)
	}
	var profiles []ProfileModel
	if len(profileIDs) > 0 {
		if err := s.db.WithContext(ctx).Where("id IN ?", profileIDs).Find(&profiles).Error; err != nil {
			return nil, fmt.Errorf("load profiles: %w", err)
		}
	}
	byID := make(map[string]domain.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = profileFromModel(p)
	}
	for _, m := range members {
		member := memberFromModel(m)
		if p, ok := byID[m.ProfileID]; ok {
			member.Profile = &p
		}
		res[m.ID] = member
	}
	return res, nil
}

func (s *GormStore) withAuthors(ctx context.Context, models []MessageModel) ([]domain.Message, error) {
	ids := make([]string, 0, len(models))
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		if _, ok := seen[m.MemberID]; ok {
			continue
		}
		seen[m.MemberID] = struct{}{}
		ids = append(ids, m.MemberID)
	}
	members, err := s.loadMembers(ctx, ids)
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msg := messageFromModel(model)
		if m, ok := members[model.MemberID]; ok {
			msg.Member = &m
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func profileToModel(p domain.Profile) ProfileModel {
	return ProfileModel{
		ID:             p.ID,
		ExternalUserID: p.ExternalUserID,
		Name:           p.Name,
		ImageURL:       p.ImageURL,
		Email:          p.Email,
		IsBot:          p.IsBot,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	return domain.Profile{
		ID:             m.ID,
		ExternalUserID: m.ExternalUserID,
		Name:           m.Name,
		ImageURL:       m.ImageURL,
		Email:          m.Email,
		IsBot:          m.IsBot,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func serverToModel(s domain.Server) ServerModel {
	return ServerModel{
		ID:         s.ID,
		Name:       s.Name,
		ImageURL:   s.ImageURL,
		InviteCode: s.InviteCode,
		ProfileID:  s.ProfileID,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func serverFromModel(m ServerModel) domain.Server {
	return domain.Server{
		ID:         m.ID,
		Name:       m.Name,
		ImageURL:   m.ImageURL,
		InviteCode: m.InviteCode,
		ProfileID:  m.ProfileID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func channelToModel(c domain.Channel) ChannelModel {
	return ChannelModel{
		ID:        c.ID,
		Name:      c.Name,
		Type:      string(c.Type),
		ServerID:  c.ServerID,
		ProfileID: c.ProfileID,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func channelFromModel(m ChannelModel) domain.Channel {
	return domain.Channel{
		ID:        m.ID,
		Name:      m.Name,
		Type:      domain.ChannelType(m.Type),
		ServerID:  m.ServerID,
		ProfileID: m.ProfileID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func memberToModel(m domain.Member) MemberModel {
	return MemberModel{
		ID:        m.ID,
		Role:      string(m.Role),
		ProfileID: m.ProfileID,
		ServerID:  m.ServerID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func memberFromModel(m MemberModel) domain.Member {
	return domain.Member{
		ID:        m.ID,
		Role:      domain.MemberRole(m.Role),
		ProfileID: m.ProfileID,
		ServerID:  m.ServerID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	kind := msg.Kind
	if kind == "" {
		kind = domain.KindChat
	}
	return MessageModel{
		ID:        msg.ID,
		Content:   msg.Content,
		FileURL:   msg.FileURL,
		ScopeKind: string(msg.ScopeKind),
		ScopeID:   msg.ScopeID,
		MemberID:  msg.MemberID,
		Kind:      string(kind),
		Deleted:   msg.Deleted,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:        m.ID,
		Content:   m.Content,
		FileURL:   m.FileURL,
		ScopeKind: domain.ScopeKind(m.ScopeKind),
		ScopeID:   m.ScopeID,
		MemberID:  m.MemberID,
		Kind:      domain.MessageKind(m.Kind),
		Deleted:   m.Deleted,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func summaryToModel(s domain.Summary) (SummaryModel, error) {
	var sources datatypes.JSON
	if len(s.SourceMessageIDs) > 0 {
		raw, err := json.Marshal(s.SourceMessageIDs)
		if err != nil {
			return SummaryModel{}, fmt.Errorf("encode summary sources: %w", err)
		}
		sources = datatypes.JSON(raw)
	}
	return SummaryModel{
		ID:               s.ID,
		ScopeKind:        string(s.ScopeKind),
		ScopeID:          s.ScopeID,
		Content:          s.Content,
		MessageCount:     s.MessageCount,
		Kind:             string(s.Kind),
		SourceMessageIDs: sources,
		CreatedAt:        s.CreatedAt,
	}, nil
}

func summaryFromModel(m SummaryModel) domain.Summary {
	sum := domain.Summary{
		ID:           m.ID,
		ScopeKind:    domain.ScopeKind(m.ScopeKind),
		ScopeID:      m.ScopeID,
		Content:      m.Content,
		MessageCount: m.MessageCount,
		Kind:         domain.SummaryKind(m.Kind),
		CreatedAt:    m.CreatedAt,
	}
	if len(m.SourceMessageIDs) > 0 {
		_ = json.Unmarshal(m.SourceMessageIDs, &sum.SourceMessageIDs)
	}
	return sum
}

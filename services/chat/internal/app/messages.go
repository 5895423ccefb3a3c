package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chathub/internal/metrics"
	"chathub/internal/util"
	"chathub/pkg/domain"
	"chathub/pkg/realtime"
	"chathub/pkg/storage"
	"chathub/pkg/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 50
)

// PostResult is the outcome of posting content to a scope: either a stored
// chat message or a handled command.
type PostResult struct {
	Message *domain.Message
	Command bool
	// Placeholder is the bot message a handled command will finalize. It is
	// nil when the bot could not be bootstrapped.
	Placeholder *domain.Message
}

// Post is the entry point for a new message: it rate limits the caller,
// routes commands to the bot pipeline, and otherwise ingests the message and
// starts a reply when the scope is a bot conversation.
func (a *App) Post(ctx context.Context, m Membership, content string, fileURL *string) (PostResult, error) {
	if a.limiter != nil && !a.limiter.Allow(ctx, m.Profile.ID) {
		metrics.RateLimitHits.Inc()
		return PostResult{}, ErrRateLimited
	}
	dispatched, err := a.Dispatch(ctx, m, content)
	if err != nil {
		return PostResult{}, err
	}
	if dispatched.Handled {
		return PostResult{Command: true, Placeholder: dispatched.Placeholder}, nil
	}
	msg, err := a.Ingest(ctx, m, content, fileURL)
	if err != nil {
		return PostResult{}, err
	}
	if m.WithBot() && !m.Profile.IsBot {
		a.startReply(ctx, m, msg)
	}
	return PostResult{Message: &msg}, nil
}

// Ingest persists a chat message and broadcasts it. Content is trimmed and
// must not be empty.
func (a *App) Ingest(ctx context.Context, m Membership, content string, fileURL *string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, ErrEmptyContent
	}
	file, err := a.checkAttachment(ctx, fileURL)
	if err != nil {
		return domain.Message{}, err
	}
	now := a.now()
	msg := domain.Message{
		ID:        util.NewID(),
		Content:   content,
		FileURL:   file,
		ScopeKind: m.Scope.Kind,
		ScopeID:   m.Scope.ID,
		MemberID:  m.Member.ID,
		Kind:      domain.KindChat,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateMessage(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("create message: %w", err)
	}
	member := m.Member
	msg.Member = &member
	metrics.MessagesPosted.WithLabelValues(string(m.Scope.Kind), string(msg.Kind)).Inc()
	a.events.Broadcast(ctx, realtime.EventCreated, msg)
	return msg, nil
}

func (a *App) checkAttachment(ctx context.Context, fileURL *string) (*string, error) {
	if fileURL == nil {
		return nil, nil
	}
	ref := strings.TrimSpace(*fileURL)
	if ref == "" {
		return nil, nil
	}
	if a.attachments != nil && storage.IsObjectKey(ref) {
		ok, err := a.attachments.Exists(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("check attachment: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: attachment %q not found", ErrValidation, ref)
		}
	}
	return &ref, nil
}

// Edit replaces the content of the caller's own message.
func (a *App) Edit(ctx context.Context, m Membership, messageID, content string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, ErrEmptyContent
	}
	target, err := a.liveMessage(ctx, m, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if target.MemberID != m.Member.ID {
		return domain.Message{}, ErrUnauthorized
	}
	updated, err := a.store.UpdateMessage(ctx, target.ID, store.MessageUpdate{Content: &content})
	if errors.Is(err, store.ErrNotFound) {
		return domain.Message{}, ErrNotFound
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("update message: %w", err)
	}
	a.events.Broadcast(ctx, realtime.EventUpdated, updated)
	return updated, nil
}

// SoftDelete blanks a message. Authors may delete their own messages;
// admins and moderators may delete anyone's.
func (a *App) SoftDelete(ctx context.Context, m Membership, messageID string) (domain.Message, error) {
	target, err := a.liveMessage(ctx, m, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if target.MemberID != m.Member.ID && !m.Member.Role.CanModerate() {
		return domain.Message{}, ErrUnauthorized
	}
	content := domain.DeletedContent
	deleted := true
	updated, err := a.store.UpdateMessage(ctx, target.ID, store.MessageUpdate{
		Content:   &content,
		Deleted:   &deleted,
		ClearFile: true,
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.Message{}, ErrNotFound
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("delete message: %w", err)
	}
	a.removeAttachment(ctx, target.FileURL)
	a.events.Broadcast(ctx, realtime.EventDeleted, updated)
	return updated, nil
}

func (a *App) removeAttachment(ctx context.Context, fileURL *string) {
	if a.attachments == nil || fileURL == nil || !storage.IsObjectKey(*fileURL) {
		return
	}
	if err := a.attachments.Delete(ctx, *fileURL); err != nil {
		util.LoggerFromContext(ctx).Warn("attachment cleanup failed", "key", *fileURL, "err", err)
	}
}

// liveMessage loads a non-deleted message of the membership's scope.
func (a *App) liveMessage(ctx context.Context, m Membership, messageID string) (domain.Message, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return domain.Message{}, ErrNotFound
	}
	msg, ok, err := a.store.GetMessage(ctx, m.Scope.Kind, m.Scope.ID, messageID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("load message: %w", err)
	}
	if !ok || msg.Deleted {
		return domain.Message{}, ErrNotFound
	}
	return msg, nil
}

// List returns one newest-first page. NextCursor is set only when the page
// is full.
func (a *App) List(ctx context.Context, m Membership, cursor string, take int) (domain.Page, error) {
	if take <= 0 {
		take = defaultPageSize
	}
	if take > maxPageSize {
		take = maxPageSize
	}
	items, err := a.store.ListMessages(ctx, m.Scope.Kind, m.Scope.ID, store.ListOptions{
		Take:   take,
		Cursor: strings.TrimSpace(cursor),
	})
	if err != nil {
		return domain.Page{}, fmt.Errorf("list messages: %w", err)
	}
	page := domain.Page{Items: items}
	if len(items) == take {
		next := items[len(items)-1].ID
		page.NextCursor = &next
	}
	return page, nil
}

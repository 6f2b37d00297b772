// Package store persists direct messages and call records and derives the
// conversation list from them.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"rtcore/internal/apperr"
	"rtcore/internal/conversation"
	"rtcore/internal/models"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 200
)

// Page selects the newest Limit messages with an id below BeforeID.
type Page struct {
	Limit    int
	BeforeID uint
}

func (p Page) limit() int {
	if p.Limit <= 0 {
		return DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		return MaxPageSize
	}
	return p.Limit
}

type ConversationSummary struct {
	ConversationID conversation.ID `json:"conversationId"`
	OtherUser      string          `json:"otherUser"`
	LastMessage    models.Message  `json:"lastMessage"`
	UnreadCount    int64           `json:"unreadCount"`
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the clock used to stamp new rows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Persist validates and inserts msg, filling ID, ConversationID and CreatedAt.
func (s *Store) Persist(ctx context.Context, msg *models.Message) error {
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return apperr.ErrMissingUser
	}
	if strings.TrimSpace(msg.Text) == "" {
		return apperr.ErrEmptyMessage
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversation.Resolve(msg.SenderID, msg.ReceiverID).String()
	}
	msg.CreatedAt = s.now()
	msg.Read = false

	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return apperr.ErrPersistFailed(errors.Wrap(err, "messageStore.Persist.Create"))
	}
	return nil
}

// ListByConversation returns a page of messages in chronological order.
func (s *Store) ListByConversation(ctx context.Context, id conversation.ID, page Page) ([]models.Message, error) {
	var msgs []models.Message
	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", id.String()).
		Order("created_at desc").
		Order("id desc").
		Limit(page.limit())
	if page.BeforeID > 0 {
		q = q.Where("id < ?", page.BeforeID)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, apperr.ErrQueryFailed(errors.Wrap(err, "messageStore.ListByConversation.Find"))
	}

	// fetched newest first, flip to ascending
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkRead flags every unread message addressed to recipient in id as read
// and returns how many rows changed. Calling it again changes nothing.
func (s *Store) MarkRead(ctx context.Context, id conversation.ID, recipient string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND receiver_id = ? AND is_read = ?", id.String(), recipient, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, apperr.ErrPersistFailed(errors.Wrap(res.Error, "messageStore.MarkRead.Update"))
	}
	return res.RowsAffected, nil
}

type unreadRow struct {
	ConversationID string
	Unread         int64
}

// ListConversationsFor returns one summary per conversation user takes part
// in, most recent first. Both queries run in one transaction.
func (s *Store) ListConversationsFor(ctx context.Context, user string) ([]ConversationSummary, error) {
	var (
		latest []models.Message
		counts []unreadRow
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lastIDs := tx.Model(&models.Message{}).
			Select("MAX(id)").
			Where("sender_id = ? OR receiver_id = ?", user, user).
			Group("conversation_id")

		if err := tx.Where("id IN (?)", lastIDs).
			Order("created_at desc").
			Order("id desc").
			Find(&latest).Error; err != nil {
			return errors.Wrap(err, "messageStore.ListConversationsFor.Latest")
		}

		if err := tx.Model(&models.Message{}).
			Select("conversation_id, COUNT(*) AS unread").
			Where("receiver_id = ? AND is_read = ?", user, false).
			Group("conversation_id").
			Scan(&counts).Error; err != nil {
			return errors.Wrap(err, "messageStore.ListConversationsFor.Unread")
		}
		return nil
	})
	if err != nil {
		return nil, apperr.ErrQueryFailed(err)
	}

	unread := make(map[string]int64, len(counts))
	for _, c := range counts {
		unread[c.ConversationID] = c.Unread
	}

	seen := make(map[string]struct{}, len(latest))
	out := make([]ConversationSummary, 0, len(latest))
	for _, m := range latest {
		if _, dup := seen[m.ConversationID]; dup {
			continue
		}
		seen[m.ConversationID] = struct{}{}

		other := m.ReceiverID
		if m.ReceiverID == user {
			other = m.SenderID
		}
		out = append(out, ConversationSummary{
			ConversationID: conversation.ID(m.ConversationID),
			OtherUser:      other,
			LastMessage:    m,
			UnreadCount:    unread[m.ConversationID],
		})
	}
	return out, nil
}

// UnreadTotal counts every unread message addressed to user.
func (s *Store) UnreadTotal(ctx context.Context, user string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("receiver_id = ? AND is_read = ?", user, false).
		Count(&n).Error
	if err != nil {
		return 0, apperr.ErrQueryFailed(errors.Wrap(err, "messageStore.UnreadTotal.Count"))
	}
	return n, nil
}

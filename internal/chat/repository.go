package chat

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository is the gorm-backed Persistence Gateway.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindDirectParticipants returns the user's memberships in non-group
// conversations, oldest membership first.
func (r *Repository) FindDirectParticipants(ctx context.Context, userID string) ([]Participant, error) {
	direct := r.db.Model(&Conversation{}).Select("id").Where("is_group = ?", false)

	var parts []Participant
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND conversation_id IN (?)", userID, direct).
		Order("id ASC").
		Find(&parts).Error
	return parts, err
}

func (r *Repository) InsertConversation(ctx context.Context, c *Conversation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repository) InsertParticipants(ctx context.Context, parts []Participant) error {
	if len(parts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&parts).Error
}

func (r *Repository) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// TouchConversation bumps the last-activity timestamp.
func (r *Repository) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", conversationID).
		Update("last_message_at", at).Error
}

// Transaction runs fn against a Repository bound to a single transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// ListMessages returns the latest limit messages of a conversation, oldest first.
func (r *Repository) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	// query is DESC, flip for display
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

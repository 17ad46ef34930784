package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrPersistence      = errors.New("persistence failure")
	ErrSelfConversation = errors.New("sender and receiver must differ")
)

// Store is the Persistence Gateway as seen by the resolver and broadcaster.
type Store interface {
	FindDirectParticipants(ctx context.Context, userID string) ([]Participant, error)
	InsertConversation(ctx context.Context, c *Conversation) error
	InsertParticipants(ctx context.Context, parts []Participant) error
	InsertMessage(ctx context.Context, m *Message) error
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
	Transaction(ctx context.Context, fn func(Store) error) error
}

// Resolver maps an unordered user pair to its single direct conversation.
type Resolver struct {
	store Store
	locks Locker
	log   *zap.Logger
	now   func() time.Time
}

func NewResolver(store Store, locks Locker, log *zap.Logger) *Resolver {
	if locks == nil {
		locks = NewKeyedMutex()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: store, locks: locks, log: log, now: time.Now}
}

// Lookup finds the direct conversation shared by a and b without creating one.
// A user has no direct conversation with themselves.
func (r *Resolver) Lookup(ctx context.Context, a, b string) (string, bool, error) {
	if a == b {
		return "", false, nil
	}
	senderParts, err := r.store.FindDirectParticipants(ctx, a)
	if err != nil {
		return "", false, fmt.Errorf("%w: participants of %s: %w", ErrPersistence, a, err)
	}
	if len(senderParts) == 0 {
		return "", false, nil
	}
	receiverParts, err := r.store.FindDirectParticipants(ctx, b)
	if err != nil {
		return "", false, fmt.Errorf("%w: participants of %s: %w", ErrPersistence, b, err)
	}

	shared := make(map[string]struct{}, len(receiverParts))
	for _, p := range receiverParts {
		shared[p.ConversationID] = struct{}{}
	}
	for _, p := range senderParts {
		if _, ok := shared[p.ConversationID]; ok {
			return p.ConversationID, true, nil
		}
	}
	return "", false, nil
}

// Resolve returns the conversation between senderID and receiverID, creating
// it (conversation plus both participants, in one transaction) when absent.
// Creation is serialized per unordered pair.
func (r *Resolver) Resolve(ctx context.Context, senderID, receiverID string) (string, error) {
	if senderID == receiverID {
		return "", ErrSelfConversation
	}

	if id, ok, err := r.Lookup(ctx, senderID, receiverID); err != nil || ok {
		return id, err
	}

	unlock, err := r.locks.Lock(ctx, PairKey(senderID, receiverID))
	if err != nil {
		return "", err
	}
	defer unlock()

	// someone may have created it while we waited
	if id, ok, err := r.Lookup(ctx, senderID, receiverID); err != nil || ok {
		return id, err
	}

	now := r.now()
	conv := &Conversation{
		ID:            uuid.NewString(),
		IsGroup:       false,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	err = r.store.Transaction(ctx, func(tx Store) error {
		if err := tx.InsertConversation(ctx, conv); err != nil {
			return err
		}
		return tx.InsertParticipants(ctx, []Participant{
			{UserID: senderID, ConversationID: conv.ID, Role: "member"},
			{UserID: receiverID, ConversationID: conv.ID, Role: "member"},
		})
	})
	if err != nil {
		return "", fmt.Errorf("%w: create conversation: %w", ErrPersistence, err)
	}

	r.log.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("sender_id", senderID),
		zap.String("receiver_id", receiverID))
	return conv.ID, nil
}

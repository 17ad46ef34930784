package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const EventReceiveMessage = "receiveMessage"

var ErrMalformedMessage = errors.New("malformed message")

// Publisher fans an event out to every connected client.
type Publisher interface {
	Broadcast(ctx context.Context, event string, data any) error
}

// Broadcaster persists chat messages and then announces them to everyone.
// A message that could not be stored is never announced.
type Broadcaster struct {
	store    Store
	resolver *Resolver
	pub      Publisher
	log      *zap.Logger
	now      func() time.Time
}

func NewBroadcaster(store Store, resolver *Resolver, pub Publisher, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{store: store, resolver: resolver, pub: pub, log: log, now: time.Now}
}

// Validate normalizes the message type and checks the content/file rules.
func Validate(in *IncomingMessage) error {
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	if in.Type == "" {
		in.Type = TypeText
	}
	switch {
	case in.SenderID == "":
		return fmt.Errorf("%w: missing sender", ErrMalformedMessage)
	case in.ReceiverID == "" && in.ConversationID == "":
		return fmt.Errorf("%w: missing receiver", ErrMalformedMessage)
	case in.Content == "" && in.FileURL == "":
		return fmt.Errorf("%w: no content and no file", ErrMalformedMessage)
	}
	switch in.Type {
	case TypeText:
	case TypeImage, TypeVideo:
		if in.FileURL == "" {
			return fmt.Errorf("%w: %s message without file", ErrMalformedMessage, in.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, in.Type)
	}
	return nil
}

// Deliver validates, resolves, persists and broadcasts one message.
func (b *Broadcaster) Deliver(ctx context.Context, in IncomingMessage) (*DeliveredMessage, error) {
	if err := Validate(&in); err != nil {
		b.log.Warn("dropping message", zap.String("sender_id", in.SenderID), zap.Error(err))
		return nil, err
	}

	convID := in.ConversationID
	if convID == "" {
		var err error
		convID, err = b.resolver.Resolve(ctx, in.SenderID, in.ReceiverID)
		if err != nil {
			b.log.Error("resolve conversation", zap.String("sender_id", in.SenderID),
				zap.String("receiver_id", in.ReceiverID), zap.Error(err))
			return nil, err
		}
	}

	now := b.now()
	msg := &Message{
		ID:             in.ID,
		SenderID:       in.SenderID,
		ConversationID: convID,
		Type:           in.Type,
		CreatedAt:      now,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if in.Content != "" {
		msg.Content = &in.Content
	}
	if in.FileURL != "" {
		msg.FileURL = &in.FileURL
	}

	err := b.store.Transaction(ctx, func(tx Store) error {
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		return tx.TouchConversation(ctx, convID, now)
	})
	if err != nil {
		b.log.Error("persist message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: insert message: %w", ErrPersistence, err)
	}

	out := &DeliveredMessage{
		ID:             msg.ID,
		Content:        in.Content,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Type:           msg.Type,
		FileURL:        in.FileURL,
		ConversationID: convID,
		CreatedAt:      now,
	}
	if err := b.pub.Broadcast(ctx, EventReceiveMessage, out); err != nil {
		// stored already; clients will see it on reload
		b.log.Error("broadcast message", zap.String("message_id", msg.ID), zap.Error(err))
		return out, err
	}
	return out, nil
}

package realtime

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Bus carries encoded broadcast frames to every server instance,
// including this one.
type Bus interface {
	Publish(ctx context.Context, frame []byte) error
	// Subscribe calls deliver for every frame until ctx is done.
	Subscribe(ctx context.Context, deliver func([]byte)) error
}

// LocalBus is the single-instance Bus.
type LocalBus struct {
	ch chan []byte
}

func NewLocalBus() *LocalBus {
	return &LocalBus{ch: make(chan []byte, 256)}
}

func (b *LocalBus) Publish(ctx context.Context, frame []byte) error {
	select {
	case b.ch <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBus) Subscribe(ctx context.Context, deliver func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-b.ch:
			deliver(frame)
		}
	}
}

// RedisBus fans frames out through a redis pub/sub channel so every
// instance can deliver to its own clients.
type RedisBus struct {
	rdb     *redis.Client
	channel string
}

func NewRedisBus(rdb *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "general-chat"
	}
	return &RedisBus{rdb: rdb, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, frame []byte) error {
	return b.rdb.Publish(ctx, b.channel, frame).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, deliver func([]byte)) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			deliver([]byte(msg.Payload))
		}
	}
}

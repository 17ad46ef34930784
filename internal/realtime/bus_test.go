package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLocalBus(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []byte, 1)
	go bus.Subscribe(ctx, func(b []byte) { got <- b })

	if err := bus.Publish(ctx, []byte("frame")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case b := <-got:
		if string(b) != "frame" {
			t.Fatalf("got %q", b)
		}
	case <-time.After(time.Second):
		t.Fatalf("frame not delivered")
	}
}

func TestRedisBusFansOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newBus := func() *RedisBus {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		return NewRedisBus(rdb, "test-chat")
	}
	one, two := newBus(), newBus()

	gotOne := make(chan string, 8)
	gotTwo := make(chan string, 8)
	go one.Subscribe(ctx, func(b []byte) { gotOne <- string(b) })
	go two.Subscribe(ctx, func(b []byte) { gotTwo <- string(b) })

	// wait for both subscriptions
	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub("test-chat")["test-chat"] < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriptions never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := one.Publish(ctx, []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for name, ch := range map[string]chan string{"one": gotOne, "two": gotTwo} {
		select {
		case s := <-ch:
			if s != "hello" {
				t.Fatalf("%s got %q", name, s)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s never received the frame", name)
		}
	}
}

package room

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type sent struct {
	conn  string
	event string
	data  any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) SendTo(connID, event string, data any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{connID, event, data})
	return true
}

func (n *recordingNotifier) to(connID, event string) []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sent
	for _, s := range n.sent {
		if s.conn == connID && s.event == event {
			out = append(out, s)
		}
	}
	return out
}

func fixedCodes(codes ...string) func() string {
	i := 0
	return func() string {
		c := codes[i%len(codes)]
		i++
		return c
	}
}

func TestCreateAndJoin(t *testing.T) {
	n := &recordingNotifier{}
	reg := NewRegistry(n, nil, Options{Generate: fixedCodes("482913")})

	code, err := reg.Create("owner-1", "conn-owner", "guest@x.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if code != "482913" {
		t.Fatalf("unexpected code %q", code)
	}

	if _, err := reg.Join(code, "other@x.com", "u-other", "conn-other"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	ownerID, err := reg.Join(code, "Guest@X.com", "u-guest", "conn-guest")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if ownerID != "owner-1" {
		t.Fatalf("unexpected owner %q", ownerID)
	}

	gj := n.to("conn-owner", EventGuestJoined)
	if len(gj) != 1 || gj[0].data.(GuestJoined).SocketID != "conn-guest" {
		t.Fatalf("owner did not get guestJoined: %+v", gj)
	}
	if len(n.to("conn-guest", EventJoinSuccess)) != 1 {
		t.Fatalf("guest did not get joinSuccess")
	}

	s, ok := reg.Get(code)
	if !ok || s.State() != StateJoined || s.GuestID != "u-guest" {
		t.Fatalf("unexpected session %+v", s)
	}

	// only once per code
	if _, err := reg.Join(code, "guest@x.com", "u-guest", "conn-guest-2"); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull on second join, got %v", err)
	}
	if _, err := reg.Join(code, "other@x.com", "u-other", "conn-other"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden after join, got %v", err)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	reg := NewRegistry(&recordingNotifier{}, nil, Options{})
	if _, err := reg.Join("000000", "a@x.com", "u", "c"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

func TestTeardownEitherSide(t *testing.T) {
	for _, leaver := range []string{"conn-owner", "conn-guest"} {
		t.Run(leaver, func(t *testing.T) {
			n := &recordingNotifier{}
			reg := NewRegistry(n, nil, Options{Generate: fixedCodes("111111")})
			code, _ := reg.Create("owner", "conn-owner", "g@x.com")
			if _, err := reg.Join(code, "g@x.com", "guest", "conn-guest"); err != nil {
				t.Fatalf("join: %v", err)
			}

			closed := reg.Teardown(leaver)
			if len(closed) != 1 || closed[0] != code {
				t.Fatalf("unexpected closed codes %v", closed)
			}
			for _, c := range []string{"conn-owner", "conn-guest"} {
				if len(n.to(c, EventRoomClosed)) != 1 {
					t.Fatalf("%s did not get roomClosed", c)
				}
			}
			if reg.Len() != 0 {
				t.Fatalf("room not removed")
			}
			if _, err := reg.Join(code, "g@x.com", "guest", "conn-guest"); !errors.Is(err, ErrInvalidCode) {
				t.Fatalf("expected ErrInvalidCode after teardown, got %v", err)
			}
		})
	}
}

func TestTeardownUnrelatedConnection(t *testing.T) {
	n := &recordingNotifier{}
	reg := NewRegistry(n, nil, Options{})
	reg.Create("owner", "conn-owner", "g@x.com")

	if closed := reg.Teardown("someone-else"); len(closed) != 0 {
		t.Fatalf("closed unrelated rooms: %v", closed)
	}
	if reg.Len() != 1 || len(n.sent) != 0 {
		t.Fatalf("teardown of unrelated connection had side effects")
	}
}

func TestTeardownClosesAllRoomsOfOwner(t *testing.T) {
	reg := NewRegistry(&recordingNotifier{}, nil, Options{Generate: fixedCodes("100001", "100002")})
	reg.Create("owner", "conn-owner", "a@x.com")
	reg.Create("owner", "conn-owner", "b@x.com")

	if closed := reg.Teardown("conn-owner"); len(closed) != 2 {
		t.Fatalf("expected 2 closed rooms, got %v", closed)
	}
}

func TestCollisionPolicies(t *testing.T) {
	t.Run("overwrite", func(t *testing.T) {
		reg := NewRegistry(&recordingNotifier{}, nil, Options{Generate: fixedCodes("222222")})
		reg.Create("first", "c1", "a@x.com")
		code, err := reg.Create("second", "c2", "b@x.com")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		s, _ := reg.Get(code)
		if s.OwnerID != "second" || reg.Len() != 1 {
			t.Fatalf("expected overwrite, got %+v (len %d)", s, reg.Len())
		}
	})
	t.Run("retry", func(t *testing.T) {
		reg := NewRegistry(&recordingNotifier{}, nil, Options{
			Collision: CollisionRetry,
			Generate:  fixedCodes("333333", "333333", "444444"),
		})
		first, _ := reg.Create("first", "c1", "a@x.com")
		second, err := reg.Create("second", "c2", "b@x.com")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if first == second || reg.Len() != 2 {
			t.Fatalf("retry policy overwrote a live room")
		}
	})
	t.Run("retry exhausted", func(t *testing.T) {
		reg := NewRegistry(&recordingNotifier{}, nil, Options{
			Collision: CollisionRetry,
			Generate:  fixedCodes("555555"),
		})
		reg.Create("first", "c1", "a@x.com")
		if _, err := reg.Create("second", "c2", "b@x.com"); !errors.Is(err, ErrNoFreeCode) {
			t.Fatalf("expected ErrNoFreeCode, got %v", err)
		}
	})
}

func TestParseCollisionPolicy(t *testing.T) {
	if p, err := ParseCollisionPolicy("RETRY"); err != nil || p != CollisionRetry {
		t.Fatalf("retry: %v %v", p, err)
	}
	if p, err := ParseCollisionPolicy(""); err != nil || p != CollisionOverwrite {
		t.Fatalf("default: %v %v", p, err)
	}
	if _, err := ParseCollisionPolicy("panic"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestExpireIdle(t *testing.T) {
	n := &recordingNotifier{}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	reg := NewRegistry(n, nil, Options{
		IdleTimeout: time.Minute,
		Generate:    fixedCodes("600001", "600002"),
		Now:         func() time.Time { return now },
	})
	idle, _ := reg.Create("o1", "c1", "a@x.com")
	joined, _ := reg.Create("o2", "c2", "b@x.com")
	reg.Join(joined, "b@x.com", "g2", "c3")

	if n := reg.ExpireIdle(start.Add(30 * time.Second)); n != 0 {
		t.Fatalf("expired too early: %d", n)
	}
	if n := reg.ExpireIdle(start.Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected 1 expired room, got %d", n)
	}
	if _, ok := reg.Get(idle); ok {
		t.Fatalf("idle room survived")
	}
	if _, ok := reg.Get(joined); !ok {
		t.Fatalf("joined room was expired")
	}
	if len(n.to("c1", EventRoomClosed)) != 1 {
		t.Fatalf("owner of expired room not told")
	}
}

func TestConcurrentJoinAndTeardown(t *testing.T) {
	for i := 0; i < 50; i++ {
		n := &recordingNotifier{}
		reg := NewRegistry(n, nil, Options{Generate: fixedCodes("777777")})
		code, _ := reg.Create("o", "c-owner", "g@x.com")

		var wg sync.WaitGroup
		wg.Add(2)
		var joinErr error
		go func() { defer wg.Done(); _, joinErr = reg.Join(code, "g@x.com", "g", "c-guest") }()
		go func() { defer wg.Done(); reg.Teardown("c-owner") }()
		wg.Wait()

		if reg.Len() != 0 {
			t.Fatalf("half torn down room left behind")
		}
		if joinErr == nil && len(n.to("c-guest", EventRoomClosed)) != 1 {
			t.Fatalf("guest joined but never saw roomClosed")
		}
		if joinErr != nil && !errors.Is(joinErr, ErrInvalidCode) {
			t.Fatalf("unexpected join error %v", joinErr)
		}
	}
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 1000; i++ {
		c := GenerateCode()
		if len(c) != 6 || c[0] == '0' {
			t.Fatalf("bad code %q", c)
		}
	}
}

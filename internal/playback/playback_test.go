package playback

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakePlayer struct {
	pos     float64
	playing bool
	seeks   int
}

func (p *fakePlayer) Position() float64 { return p.pos }
func (p *fakePlayer) Playing() bool     { return p.playing }
func (p *fakePlayer) Play()             { p.playing = true }
func (p *fakePlayer) Pause()            { p.playing = false }
func (p *fakePlayer) Seek(pos float64)  { p.pos = pos; p.seeks++ }

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) EmitSync(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestFollower_DriftCorrection(t *testing.T) {
	cases := []struct {
		name    string
		local   float64
		beat    float64
		snapped bool
	}{
		{"within threshold", 10.0, 11.5, false},
		{"behind", 10.0, 11.6, true},
		{"ahead", 20.0, 18.0, true},
		{"exact", 5.0, 5.0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &fakePlayer{pos: tc.local, playing: true}
			f := NewFollower(p)
			changed := f.Apply(Event{Action: ActionHeartbeat, Time: tc.beat})
			if changed != tc.snapped {
				t.Fatalf("snapped=%v, want %v", changed, tc.snapped)
			}
			want := tc.local
			if tc.snapped {
				want = tc.beat
			}
			if p.pos != want {
				t.Fatalf("position %v, want %v", p.pos, want)
			}
		})
	}
}

func TestFollower_ControlEvents(t *testing.T) {
	p := &fakePlayer{pos: 3}
	f := NewFollower(p)

	f.Apply(Event{Action: ActionPlay, Time: 3})
	if !p.playing {
		t.Fatalf("play not applied")
	}
	f.Apply(Event{Action: ActionSeek, Time: 42})
	if p.pos != 42 {
		t.Fatalf("seek not applied: %v", p.pos)
	}
	f.Apply(Event{Action: ActionPause, Time: 42})
	if p.playing {
		t.Fatalf("pause not applied")
	}
	f.Apply(Event{Action: "rewind", Time: 0})
	if p.pos != 42 {
		t.Fatalf("unknown action changed position")
	}
}

func TestController_EmitsControlAndHeartbeat(t *testing.T) {
	p := &fakePlayer{pos: 7}
	rec := &recorder{}
	c := NewController(p, rec, "482913", nil)
	ctx := context.Background()

	c.Heartbeat(ctx)
	if rec.len() != 0 {
		t.Fatalf("heartbeat emitted while paused")
	}

	c.Play(ctx)
	p.pos = 9
	c.Heartbeat(ctx)
	c.Seek(ctx, 30)
	c.Pause(ctx)

	want := []Event{
		{Code: "482913", Action: ActionPlay, Time: 7},
		{Code: "482913", Action: ActionHeartbeat, Time: 9},
		{Code: "482913", Action: ActionSeek, Time: 30},
		{Code: "482913", Action: ActionPause, Time: 30},
	}
	if len(rec.events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(rec.events), len(want), rec.events)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Fatalf("event %d = %+v, want %+v", i, rec.events[i], want[i])
		}
	}
}

func TestController_RunTicks(t *testing.T) {
	p := &fakePlayer{playing: true}
	rec := &recorder{}
	c := NewController(p, rec, "", nil)
	c.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	deadline := time.Now().Add(time.Second)
	for rec.len() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if rec.len() < 3 {
		t.Fatalf("expected periodic heartbeats, got %d", rec.len())
	}
}

func TestClock(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewClock()
	c.now = func() time.Time { return now }

	c.Play()
	now = now.Add(2 * time.Second)
	if got := c.Position(); got != 2 {
		t.Fatalf("position %v, want 2", got)
	}
	c.Pause()
	now = now.Add(5 * time.Second)
	if got := c.Position(); got != 2 {
		t.Fatalf("paused clock moved: %v", got)
	}
	c.Seek(10)
	c.Play()
	now = now.Add(time.Second)
	if got := c.Position(); got != 11 {
		t.Fatalf("position %v, want 11", got)
	}
}

package signaling

import (
	"encoding/json"
	"errors"
	"testing"
)

type fakeSender struct {
	online map[string]bool
	got    []Outbound
	to     []string
}

func (f *fakeSender) SendTo(connID, event string, data any) bool {
	if event != EventSignal || !f.online[connID] {
		return false
	}
	f.to = append(f.to, connID)
	f.got = append(f.got, data.(Outbound))
	return true
}

func TestForwardVerbatim(t *testing.T) {
	s := &fakeSender{online: map[string]bool{"b": true}}
	r := NewRelay(s, nil)

	raw := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n  weird   spacing"}`)
	if err := r.Forward("a", Inbound{To: "b", Signal: raw}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(s.got) != 1 || s.to[0] != "b" || s.got[0].From != "a" {
		t.Fatalf("unexpected delivery: %+v", s.got)
	}
	if string(s.got[0].Signal) != string(raw) {
		t.Fatalf("payload altered: %s", s.got[0].Signal)
	}
}

func TestForwardErrors(t *testing.T) {
	r := NewRelay(&fakeSender{online: map[string]bool{}}, nil)
	if err := r.Forward("a", Inbound{Signal: json.RawMessage(`{}`)}); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
	if err := r.Forward("a", Inbound{To: "gone", Signal: json.RawMessage(`{}`)}); !errors.Is(err, ErrUndelivered) {
		t.Fatalf("expected ErrUndelivered, got %v", err)
	}
}

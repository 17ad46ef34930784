package signaling

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

const EventSignal = "signal"

var (
	ErrNoTarget    = errors.New("signal without target")
	ErrUndelivered = errors.New("signal target not connected")
)

// Inbound is what a peer sends: where to, and the opaque negotiation blob.
type Inbound struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

// Outbound is what the target receives; From lets it address its reply.
type Outbound struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

type Sender interface {
	SendTo(connID, event string, data any) bool
}

// Relay forwards negotiation payloads between connections. It keeps no
// state and never looks inside the payload.
type Relay struct {
	sender Sender
	log    *zap.Logger
}

func NewRelay(s Sender, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{sender: s, log: log}
}

func (r *Relay) Forward(fromConnID string, in Inbound) error {
	if in.To == "" {
		return ErrNoTarget
	}
	if !r.sender.SendTo(in.To, EventSignal, Outbound{From: fromConnID, Signal: in.Signal}) {
		r.log.Debug("signal dropped", zap.String("from", fromConnID), zap.String("to", in.To))
		return ErrUndelivered
	}
	return nil
}

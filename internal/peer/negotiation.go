package peer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrNegotiation = errors.New("peer negotiation failed")

type State int

const (
	StateIdle State = iota
	StateWaiting
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Negotiator produces and consumes the opaque handshake blobs carried by
// signal events. The owner offers, the guest answers.
type Negotiator interface {
	Offer() (json.RawMessage, error)
	Answer(offer json.RawMessage) (json.RawMessage, error)
	Accept(answer json.RawMessage) error
}

// DataOffer is implemented by negotiators that learn where the owner's
// direct data channel listens.
type DataOffer interface {
	OfferedURL() string
}

type token struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	URL  string `json:"url,omitempty"`
}

// TokenNegotiator completes when the answer echoes the offer's id. An owner
// with a DataURL advertises it in the offer; the guest keeps it.
type TokenNegotiator struct {
	DataURL string

	pending string
	offered string
}

func (n *TokenNegotiator) Offer() (json.RawMessage, error) {
	n.pending = uuid.NewString()
	return json.Marshal(token{Type: "offer", ID: n.pending, URL: n.DataURL})
}

func (n *TokenNegotiator) OfferedURL() string {
	return n.offered
}

func (n *TokenNegotiator) Answer(offer json.RawMessage) (json.RawMessage, error) {
	var t token
	if err := json.Unmarshal(offer, &t); err != nil {
		return nil, err
	}
	if t.Type != "offer" || t.ID == "" {
		return nil, fmt.Errorf("unexpected %q signal", t.Type)
	}
	n.offered = t.URL
	return json.Marshal(token{Type: "answer", ID: t.ID})
}

func (n *TokenNegotiator) Accept(answer json.RawMessage) error {
	var t token
	if err := json.Unmarshal(answer, &t); err != nil {
		return err
	}
	if t.Type != "answer" || t.ID != n.pending {
		return fmt.Errorf("answer does not match offer")
	}
	return nil
}

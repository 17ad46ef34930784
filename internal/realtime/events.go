package realtime

import "encoding/json"

// Inbound event names.
const (
	EventSendMessage       = "sendMessage"
	EventCreatePrivateRoom = "createPrivateRoom"
	EventJoinPrivateRoom   = "joinPrivateRoom"
	EventSignal            = "signal"
	EventSyncCinema        = "syncCinema"
)

// Outbound event names not owned by another package.
const (
	EventConnected   = "connected"
	EventRoomCreated = "roomCreated"
	EventJoinError   = "joinError"
)

// Envelope is the single frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encode(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type Connected struct {
	SocketID string `json:"socketId"`
}

type CreateRoomRequest struct {
	OwnerID    string `json:"ownerId"`
	GuestEmail string `json:"guestEmail"`
}

type RoomCreated struct {
	Code string `json:"code"`
}

type JoinRoomRequest struct {
	Code       string `json:"code"`
	GuestEmail string `json:"guestEmail"`
	GuestID    string `json:"guestId"`
}

type JoinError struct {
	Message string `json:"message"`
}

// SyncCinema is only peeked at for its code; the frame is relayed as sent.
type SyncCinema struct {
	Code   string  `json:"code,omitempty"`
	Action string  `json:"action"`
	Time   float64 `json:"time"`
}

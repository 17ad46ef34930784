package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"cinechat/internal/chat"
	"cinechat/internal/room"
	"cinechat/internal/signaling"

	"go.uber.org/zap"
)

type MessageDeliverer interface {
	Deliver(ctx context.Context, in chat.IncomingMessage) (*chat.DeliveredMessage, error)
}

type Rooms interface {
	Create(ownerID, ownerConnID, guestEmail string) (string, error)
	Join(code, guestEmail, guestID, guestConnID string) (string, error)
	Members(code string) []string
	Teardown(connID string) []string
}

// Dispatcher routes named events from a connection to the chat, room and
// signaling components.
type Dispatcher struct {
	hub      *Hub
	messages MessageDeliverer
	rooms    Rooms
	relay    *signaling.Relay
	log      *zap.Logger
}

func NewDispatcher(hub *Hub, messages MessageDeliverer, rooms Rooms, relay *signaling.Relay, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{hub: hub, messages: messages, rooms: rooms, relay: relay, log: log}
}

func (d *Dispatcher) HandleEvent(ctx context.Context, c *Client, env Envelope) {
	switch env.Event {
	case EventSendMessage:
		var in chat.IncomingMessage
		if !d.decode(c, env, &in) {
			return
		}
		// Deliver logs its own failures; nothing goes back to the sender.
		d.messages.Deliver(ctx, in)

	case EventCreatePrivateRoom:
		var req CreateRoomRequest
		if !d.decode(c, env, &req) {
			return
		}
		code, err := d.rooms.Create(req.OwnerID, c.ID, req.GuestEmail)
		if err != nil {
			d.log.Error("create room", zap.String("conn_id", c.ID), zap.Error(err))
			c.Emit(EventJoinError, JoinError{Message: "Could not create a room, please try again."})
			return
		}
		c.Emit(EventRoomCreated, RoomCreated{Code: code})

	case EventJoinPrivateRoom:
		var req JoinRoomRequest
		if !d.decode(c, env, &req) {
			return
		}
		// joinSuccess and guestJoined are sent by the registry itself
		if _, err := d.rooms.Join(req.Code, req.GuestEmail, req.GuestID, c.ID); err != nil {
			d.log.Info("join room rejected", zap.String("conn_id", c.ID), zap.String("code", req.Code), zap.Error(err))
			c.Emit(EventJoinError, JoinError{Message: joinErrorMessage(err)})
		}

	case EventSignal:
		var in signaling.Inbound
		if !d.decode(c, env, &in) {
			return
		}
		if err := d.relay.Forward(c.ID, in); err != nil {
			d.log.Debug("signal not forwarded", zap.String("conn_id", c.ID), zap.Error(err))
		}

	case EventSyncCinema:
		var peek SyncCinema
		if !d.decode(c, env, &peek) {
			return
		}
		d.syncCinema(ctx, c, peek.Code, env.Data)

	default:
		d.log.Debug("unknown event", zap.String("conn_id", c.ID), zap.String("event", env.Event))
	}
}

// syncCinema relays the frame untouched to the other room members, or to
// everyone when no room code is given.
func (d *Dispatcher) syncCinema(ctx context.Context, c *Client, code string, raw json.RawMessage) {
	if code == "" {
		if err := d.hub.Broadcast(ctx, EventSyncCinema, raw); err != nil {
			d.log.Error("broadcast sync", zap.Error(err))
		}
		return
	}
	for _, member := range d.rooms.Members(code) {
		if member != c.ID {
			d.hub.SendTo(member, EventSyncCinema, raw)
		}
	}
}

func (d *Dispatcher) HandleDisconnect(connID string) {
	if closed := d.rooms.Teardown(connID); len(closed) > 0 {
		d.log.Info("rooms closed on disconnect", zap.String("conn_id", connID), zap.Strings("codes", closed))
	}
}

func (d *Dispatcher) decode(c *Client, env Envelope, v any) bool {
	if len(env.Data) == 0 {
		d.log.Debug("event without data", zap.String("conn_id", c.ID), zap.String("event", env.Event))
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		d.log.Debug("undecodable event", zap.String("conn_id", c.ID), zap.String("event", env.Event), zap.Error(err))
		return false
	}
	return true
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, room.ErrInvalidCode):
		return "Invalid or expired code."
	case errors.Is(err, room.ErrForbidden):
		return "You are not allowed to join this room."
	case errors.Is(err, room.ErrRoomFull):
		return "This room already has a guest."
	default:
		return "Could not join the room."
	}
}

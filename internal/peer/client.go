// Package peer is a Go client for the realtime event surface. It mirrors
// what a browser does in a private room: create or join, negotiate a
// direct channel over relayed signals, and follow playback.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cinechat/internal/chat"
	"cinechat/internal/playback"
	"cinechat/internal/realtime"
	"cinechat/internal/room"
	"cinechat/internal/signaling"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// JoinError carries the server's human-readable rejection.
type JoinError struct {
	Message string
}

func (e *JoinError) Error() string { return e.Message }

type Client struct {
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex

	ready   chan struct{}
	replies chan realtime.Envelope
	inbox   chan chat.DeliveredMessage
	closed  chan string
	done    chan struct{}

	mu         sync.Mutex
	id         string
	state      State
	changed    chan struct{}
	code       string
	remote     string
	guest      bool
	negotiator Negotiator
	follower   *playback.Follower
	err        error
}

// Dial connects and waits for the server to announce our connection id.
func Dial(ctx context.Context, url string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:       conn,
		log:        log,
		ready:      make(chan struct{}),
		replies:    make(chan realtime.Envelope, 8),
		inbox:      make(chan chat.DeliveredMessage, 64),
		closed:     make(chan string, 4),
		done:       make(chan struct{}),
		changed:    make(chan struct{}),
		negotiator: &TokenNegotiator{},
	}
	go c.readLoop()

	select {
	case <-c.ready:
		return c, nil
	case <-c.done:
		return nil, errors.New("connection closed before handshake")
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	}
}

func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the reason for StateFailed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// SetNegotiator replaces the handshake used for the next room.
func (c *Client) SetNegotiator(n Negotiator) {
	c.mu.Lock()
	c.negotiator = n
	c.mu.Unlock()
}

// Follow applies incoming syncCinema events to f.
func (c *Client) Follow(f *playback.Follower) {
	c.mu.Lock()
	c.follower = f
	c.mu.Unlock()
}

// Messages yields receiveMessage events. Messages are dropped when the
// consumer falls behind.
func (c *Client) Messages() <-chan chat.DeliveredMessage { return c.inbox }

// Closed yields the code of every room the server closes under us.
func (c *Client) Closed() <-chan string { return c.closed }

func (c *Client) Emit(ctx context.Context, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(realtime.Envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) SendMessage(ctx context.Context, m chat.IncomingMessage) error {
	return c.Emit(ctx, realtime.EventSendMessage, m)
}

// EmitSync publishes a playback event for the current room.
func (c *Client) EmitSync(ctx context.Context, ev playback.Event) error {
	if ev.Code == "" {
		ev.Code = c.Code()
	}
	return c.Emit(ctx, realtime.EventSyncCinema, ev)
}

// CreateRoom asks for a room for guestEmail and then waits for the guest.
// Only one create or join may be in flight per client.
func (c *Client) CreateRoom(ctx context.Context, ownerID, guestEmail string) (string, error) {
	err := c.Emit(ctx, realtime.EventCreatePrivateRoom, realtime.CreateRoomRequest{OwnerID: ownerID, GuestEmail: guestEmail})
	if err != nil {
		return "", err
	}
	env, err := c.reply(ctx, realtime.EventRoomCreated)
	if err != nil {
		return "", err
	}
	var rc realtime.RoomCreated
	if err := json.Unmarshal(env.Data, &rc); err != nil {
		return "", err
	}
	return rc.Code, nil
}

// JoinRoom joins code as guestEmail and then waits for the owner's offer.
func (c *Client) JoinRoom(ctx context.Context, code, guestEmail, guestID string) (string, error) {
	err := c.Emit(ctx, realtime.EventJoinPrivateRoom, realtime.JoinRoomRequest{Code: code, GuestEmail: guestEmail, GuestID: guestID})
	if err != nil {
		return "", err
	}
	env, err := c.reply(ctx, room.EventJoinSuccess)
	if err != nil {
		return "", err
	}
	var js room.JoinSuccess
	if err := json.Unmarshal(env.Data, &js); err != nil {
		return "", err
	}
	return js.OwnerID, nil
}

func (c *Client) reply(ctx context.Context, want string) (realtime.Envelope, error) {
	for {
		select {
		case <-ctx.Done():
			return realtime.Envelope{}, ctx.Err()
		case <-c.done:
			return realtime.Envelope{}, errors.New("connection closed")
		case env := <-c.replies:
			if env.Event == realtime.EventJoinError {
				var je realtime.JoinError
				json.Unmarshal(env.Data, &je)
				return realtime.Envelope{}, &JoinError{Message: je.Message}
			}
			if env.Event == want {
				return env, nil
			}
		}
	}
}

// WaitState blocks until the client reaches one of states.
func (c *Client) WaitState(ctx context.Context, states ...State) (State, error) {
	for {
		c.mu.Lock()
		cur := c.state
		ch := c.changed
		c.mu.Unlock()
		for _, s := range states {
			if cur == s {
				return cur, nil
			}
		}
		select {
		case <-ctx.Done():
			return cur, ctx.Err()
		case <-c.done:
			return cur, errors.New("connection closed")
		case <-ch:
		}
	}
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("peer read", zap.Error(err))
			}
			return
		}
		var env realtime.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.log.Warn("bad frame", zap.Error(err))
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env realtime.Envelope) {
	switch env.Event {
	case realtime.EventConnected:
		var hello realtime.Connected
		json.Unmarshal(env.Data, &hello)
		c.mu.Lock()
		c.id = hello.SocketID
		c.mu.Unlock()
		select {
		case <-c.ready:
		default:
			close(c.ready)
		}

	case realtime.EventRoomCreated, room.EventJoinSuccess, realtime.EventJoinError:
		// enter waiting here, before any later guestJoined or offer is read
		if code := roomCode(env); code != "" {
			c.mu.Lock()
			c.code, c.remote = code, ""
			c.guest = env.Event == room.EventJoinSuccess
			c.setStateLocked(StateWaiting, nil)
			c.mu.Unlock()
		}
		select {
		case c.replies <- env:
		default:
			c.log.Warn("reply dropped", zap.String("event", env.Event))
		}

	case room.EventGuestJoined:
		var gj room.GuestJoined
		json.Unmarshal(env.Data, &gj)
		c.startOffer(gj.SocketID)

	case signaling.EventSignal:
		var out signaling.Outbound
		if err := json.Unmarshal(env.Data, &out); err != nil {
			c.log.Warn("bad signal", zap.Error(err))
			return
		}
		c.onSignal(out)

	case realtime.EventSyncCinema:
		var ev playback.Event
		json.Unmarshal(env.Data, &ev)
		c.mu.Lock()
		f := c.follower
		c.mu.Unlock()
		if f != nil {
			f.Apply(ev)
		}

	case chat.EventReceiveMessage:
		var m chat.DeliveredMessage
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return
		}
		select {
		case c.inbox <- m:
		default:
		}

	case room.EventRoomClosed:
		var rc room.RoomClosed
		json.Unmarshal(env.Data, &rc)
		c.mu.Lock()
		if rc.Code == c.code {
			c.code, c.remote = "", ""
			c.setStateLocked(StateIdle, nil)
		}
		c.mu.Unlock()
		select {
		case c.closed <- rc.Code:
		default:
		}
	}
}

func roomCode(env realtime.Envelope) string {
	var v struct {
		Code string `json:"code"`
	}
	if env.Event == realtime.EventJoinError || json.Unmarshal(env.Data, &v) != nil {
		return ""
	}
	return v.Code
}

// startOffer runs on the owner once the guest has joined.
func (c *Client) startOffer(guestConn string) {
	c.mu.Lock()
	if c.guest || c.state != StateWaiting {
		c.mu.Unlock()
		return
	}
	c.remote = guestConn
	c.setStateLocked(StateConnecting, nil)
	offer, err := c.negotiator.Offer()
	if err != nil {
		c.failLocked(err)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.sendSignal(guestConn, offer)
}

func (c *Client) onSignal(out signaling.Outbound) {
	c.mu.Lock()
	switch {
	case c.guest && c.state == StateWaiting && c.remote == "":
		// guest: the first signal is the owner's offer
		c.remote = out.From
		c.setStateLocked(StateConnecting, nil)
		answer, err := c.negotiator.Answer(out.Signal)
		if err != nil {
			c.failLocked(err)
			c.mu.Unlock()
			return
		}
		c.setStateLocked(StateConnected, nil)
		c.mu.Unlock()
		c.sendSignal(out.From, answer)

	case !c.guest && c.state == StateConnecting && out.From == c.remote:
		// owner: the guest's answer
		if err := c.negotiator.Accept(out.Signal); err != nil {
			c.failLocked(err)
		} else {
			c.setStateLocked(StateConnected, nil)
		}
		c.mu.Unlock()

	default:
		c.mu.Unlock()
		c.log.Debug("signal ignored", zap.String("from", out.From))
	}
}

func (c *Client) sendSignal(to string, payload json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.Emit(ctx, signaling.EventSignal, signaling.Inbound{To: to, Signal: payload}); err != nil {
		c.mu.Lock()
		c.failLocked(err)
		c.mu.Unlock()
	}
}

// failLocked is terminal for the room; nothing retries the handshake.
func (c *Client) failLocked(err error) {
	c.setStateLocked(StateFailed, fmt.Errorf("%w: %w", ErrNegotiation, err))
	c.log.Warn("negotiation failed", zap.String("code", c.code), zap.Error(err))
}

func (c *Client) setStateLocked(s State, err error) {
	c.state = s
	c.err = err
	close(c.changed)
	c.changed = make(chan struct{})
}

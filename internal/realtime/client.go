package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 1 << 20             // Large inline chat content; a bigger frame closes the socket.
	sendBuffer     = 256
	eventTimeout   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Sockets are not authenticated beyond the email check on room join.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	// Buffered channel of outbound frames. Closed by the hub.
	send chan []byte

	kickOnce sync.Once
}

func (c *Client) kick() {
	c.kickOnce.Do(func() { c.conn.Close() })
}

// Emit queues an event for this client only.
func (c *Client) Emit(event string, data any) bool {
	return c.hub.SendTo(c.ID, event, data)
}

// readPump decodes frames and hands them to the hub's handler. It runs in
// the connection's own goroutine, so handlers may block on persistence.
func (c *Client) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read", zap.String("conn_id", c.ID), zap.Error(err))
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			c.hub.log.Debug("bad frame", zap.String("conn_id", c.ID), zap.Error(err))
			continue
		}
		if c.hub.handler == nil {
			continue
		}
		ectx, ecancel := context.WithTimeout(ctx, eventTimeout)
		c.hub.handler.HandleEvent(ectx, c, env)
		ecancel()
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and registers a new client. The first frame
// the client receives is "connected" carrying its connection id.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", zap.Error(err))
		return
	}

	client := &Client{
		ID:   ulid.Make().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if frame, err := encode(EventConnected, Connected{SocketID: client.ID}); err == nil {
		client.send <- frame
	}

	if !h.add(client) {
		conn.Close()
		return
	}
	h.log.Debug("client connected", zap.String("conn_id", client.ID))

	go client.writePump()
	go client.readPump()
}

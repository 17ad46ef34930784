package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

type outgoing struct {
	kind int
	data []byte
}

// WSChannel carries a transfer over a websocket: text frames are control
// messages, binary frames are chunks. A single writer goroutine drains the
// send queue, so BufferedAmount reflects bytes not yet written to the socket.
type WSChannel struct {
	conn   *websocket.Conn
	window *Window
	queue  chan outgoing
	done   chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func NewWSChannel(conn *websocket.Conn) *WSChannel {
	c := &WSChannel{
		conn:   conn,
		window: NewWindow(),
		queue:  make(chan outgoing, 64),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *WSChannel) SendText(ctx context.Context, b []byte) error {
	return c.enqueue(ctx, websocket.TextMessage, b)
}

func (c *WSChannel) SendBinary(ctx context.Context, b []byte) error {
	return c.enqueue(ctx, websocket.BinaryMessage, b)
}

func (c *WSChannel) enqueue(ctx context.Context, kind int, b []byte) error {
	data := make([]byte, len(b))
	copy(data, b)

	select {
	case <-c.done:
		return c.closedErr()
	default:
	}

	c.window.Add(len(data))
	select {
	case c.queue <- outgoing{kind: kind, data: data}:
		return nil
	case <-c.done:
		c.window.Done(len(data))
		return c.closedErr()
	case <-ctx.Done():
		c.window.Done(len(data))
		return ctx.Err()
	}
}

func (c *WSChannel) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case m := <-c.queue:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(m.kind, m.data)
			c.window.Done(len(m.data))
			if err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *WSChannel) BufferedAmount() int {
	return c.window.Buffered()
}

func (c *WSChannel) WaitBelow(ctx context.Context, threshold int) error {
	return c.window.WaitBelow(ctx, threshold)
}

// Next reads the next frame. Ping/pong and close frames are handled by
// gorilla and never surface here.
func (c *WSChannel) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	kind, data, err := c.conn.ReadMessage()
	if err != nil {
		c.fail(err)
		return Frame{}, c.closedErr()
	}
	return Frame{Binary: kind == websocket.BinaryMessage, Data: data}, nil
}

func (c *WSChannel) Close() error {
	c.fail(nil)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *WSChannel) fail(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		c.window.Close()
	})
}

func (c *WSChannel) closedErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil || websocket.IsCloseError(c.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ErrChannelClosed
	}
	return errors.Join(ErrChannelClosed, c.err)
}

package peer

import (
	"context"
	"errors"
	"net"
	"net/http"

	"cinechat/internal/transfer"

	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("peer not connected")
	ErrNoDataURL    = errors.New("no data channel offered")
)

// DataListener is the owner's end of the direct data channel. The guest
// dials the URL advertised in the offer; the server never sees the bytes.
type DataListener struct {
	ln    net.Listener
	srv   *http.Server
	conns chan *transfer.WSChannel
}

func ListenData(addr string) (*DataListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &DataListener{ln: ln, conns: make(chan *transfer.WSChannel, 1)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	l.srv = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ch := transfer.NewWSChannel(conn)
		select {
		case l.conns <- ch:
		default:
			// one peer at a time
			ch.Close()
		}
	})}
	go l.srv.Serve(ln)
	return l, nil
}

func (l *DataListener) URL() string {
	return "ws://" + l.ln.Addr().String() + "/"
}

func (l *DataListener) Accept(ctx context.Context) (*transfer.WSChannel, error) {
	select {
	case ch := <-l.conns:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *DataListener) Close() error {
	return l.srv.Close()
}

// SendFile streams data to the guest once it dials l. It returns after the
// last chunk has been written to the socket.
func (c *Client) SendFile(ctx context.Context, l *DataListener, data []byte, name, mime string) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	ch, err := l.Accept(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := transfer.NewSender(ch, c.log).Send(ctx, data, name, mime); err != nil {
		return err
	}
	return ch.WaitBelow(ctx, 0)
}

// ReceiveFile dials the data channel the owner offered and waits for one
// complete transfer.
func (c *Client) ReceiveFile(ctx context.Context, opts ...transfer.ReceiverOption) (transfer.File, error) {
	c.mu.Lock()
	state, n := c.state, c.negotiator
	c.mu.Unlock()
	if state != StateConnected {
		return transfer.File{}, ErrNotConnected
	}
	var url string
	if offer, ok := n.(DataOffer); ok {
		url = offer.OfferedURL()
	}
	if url == "" {
		return transfer.File{}, ErrNoDataURL
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return transfer.File{}, err
	}
	ch := transfer.NewWSChannel(conn)
	defer ch.Close()

	done := make(chan transfer.File, 1)
	opts = append(opts, transfer.WithComplete(func(f transfer.File) {
		select {
		case done <- f:
		default:
		}
	}))
	rx := transfer.NewReceiver(c.log, opts...)
	errc := make(chan error, 1)
	go func() { errc <- rx.Run(ctx, ch) }()

	select {
	case f := <-done:
		return f, nil
	case err := <-errc:
		// completion is reported before Run can return
		select {
		case f := <-done:
			return f, nil
		default:
		}
		if err == nil {
			err = transfer.ErrChannelClosed
		}
		return transfer.File{}, err
	case <-ctx.Done():
		return transfer.File{}, ctx.Err()
	}
}

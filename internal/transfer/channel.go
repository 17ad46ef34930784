package transfer

import (
	"context"
	"sync"
)

// Channel is the sending half of a peer data channel. BufferedAmount and
// WaitBelow expose the bytes queued but not yet written out.
type Channel interface {
	SendText(ctx context.Context, b []byte) error
	SendBinary(ctx context.Context, b []byte) error
	BufferedAmount() int
	WaitBelow(ctx context.Context, threshold int) error
}

// Frame is one message read from a channel.
type Frame struct {
	Binary bool
	Data   []byte
}

// Source is the receiving half of a peer data channel.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// Pipe is an in-memory ordered channel. Bytes stay buffered until the
// reading side takes them with Next.
type Pipe struct {
	window *Window

	mu     sync.Mutex
	queue  []Frame
	ready  chan struct{}
	closed bool
}

func NewPipe() *Pipe {
	return &Pipe{window: NewWindow(), ready: make(chan struct{}, 1)}
}

func (p *Pipe) SendText(ctx context.Context, b []byte) error {
	return p.push(ctx, Frame{Data: b})
}

func (p *Pipe) SendBinary(ctx context.Context, b []byte) error {
	return p.push(ctx, Frame{Binary: true, Data: b})
}

func (p *Pipe) push(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrChannelClosed
	}
	p.queue = append(p.queue, f)
	p.window.Add(len(f.Data))
	p.mu.Unlock()

	select {
	case p.ready <- struct{}{}:
	default:
	}
	return nil
}

func (p *Pipe) BufferedAmount() int {
	return p.window.Buffered()
}

func (p *Pipe) WaitBelow(ctx context.Context, threshold int) error {
	return p.window.WaitBelow(ctx, threshold)
}

// Next returns frames in send order. Queued frames are still delivered
// after Close; ErrChannelClosed follows once the queue is empty.
func (p *Pipe) Next(ctx context.Context) (Frame, error) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			f := p.queue[0]
			p.queue[0] = Frame{}
			p.queue = p.queue[1:]
			p.mu.Unlock()
			p.window.Done(len(f.Data))
			return f, nil
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return Frame{}, ErrChannelClosed
		}

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-p.ready:
		}
	}
}

func (p *Pipe) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	select {
	case p.ready <- struct{}{}:
	default:
	}
	return nil
}

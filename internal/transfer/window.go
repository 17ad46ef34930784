package transfer

import (
	"context"
	"sync"
)

// Window counts bytes handed to a channel but not yet drained from it.
// Waiters are woken on every drain.
type Window struct {
	mu          sync.Mutex
	outstanding int
	changed     chan struct{}
	closed      bool
}

func NewWindow() *Window {
	return &Window{changed: make(chan struct{})}
}

func (w *Window) Add(n int) {
	w.mu.Lock()
	w.outstanding += n
	w.mu.Unlock()
}

func (w *Window) Done(n int) {
	w.mu.Lock()
	w.outstanding -= n
	if w.outstanding < 0 {
		w.outstanding = 0
	}
	w.wakeLocked()
	w.mu.Unlock()
}

func (w *Window) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outstanding
}

// Close releases every waiter with ErrChannelClosed.
func (w *Window) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.wakeLocked()
	}
	w.mu.Unlock()
}

// WaitBelow blocks until at most threshold bytes are outstanding.
func (w *Window) WaitBelow(ctx context.Context, threshold int) error {
	for {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return ErrChannelClosed
		}
		if w.outstanding <= threshold {
			w.mu.Unlock()
			return nil
		}
		ch := w.changed
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (w *Window) wakeLocked() {
	close(w.changed)
	w.changed = make(chan struct{})
}

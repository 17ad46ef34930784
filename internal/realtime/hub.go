package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler receives decoded frames and disconnect notices from the hub.
type Handler interface {
	HandleEvent(ctx context.Context, c *Client, env Envelope)
	HandleDisconnect(connID string)
}

// Hub owns the set of live connections. Clients are added by ServeWs under
// the write lock, so they are addressable before their first frame is read.
// Unregister and bus deliveries are serialized through Run; addressed sends
// only take the read lock so they can be issued from any goroutine.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	bus     Bus
	handler Handler
	log     *zap.Logger
}

func NewHub(bus Bus, log *zap.Logger) *Hub {
	if bus == nil {
		bus = NewLocalBus()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		bus:        bus,
		log:        log,
	}
}

// SetHandler must be called before Run.
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

// Run is the hub's loop. It also pumps the bus subscription into the
// local fan-out until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	go func() {
		err := h.bus.Subscribe(ctx, func(frame []byte) {
			select {
			case h.broadcast <- frame:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			h.log.Error("bus subscription ended", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.ID]
			if ok {
				delete(h.clients, client.ID)
			}
			h.mu.Unlock()
			if !ok {
				continue
			}
			close(client.send)
			if h.handler != nil {
				h.handler.HandleDisconnect(client.ID)
			}
			h.log.Debug("client disconnected", zap.String("conn_id", client.ID))

		case frame := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- frame:
				default:
					// too slow: drop the socket, readPump unregisters it
					client.kick()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// add makes the client addressable. It fails once Run has shut down; the
// done check and the insert share the lock closeAll waits on.
func (h *Hub) add(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return false
	default:
	}
	h.clients[client.ID] = client
	return true
}

// Broadcast sends an event to every client on every instance.
func (h *Hub) Broadcast(ctx context.Context, event string, data any) error {
	frame, err := encode(event, data)
	if err != nil {
		return err
	}
	return h.bus.Publish(ctx, frame)
}

// SendTo queues an event for one local connection without blocking.
// It reports whether the frame was queued.
func (h *Hub) SendTo(connID, event string, data any) bool {
	frame, err := encode(event, data)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	select {
	case client.send <- frame:
		return true
	default:
		client.kick()
		return false
	}
}

func (h *Hub) Connected(connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[connID]
	return ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		client.kick()
	}
}

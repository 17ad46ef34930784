package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrInvalidCode = errors.New("invalid or expired code")
	ErrForbidden   = errors.New("not invited to this room")
	ErrRoomFull    = errors.New("room already has a guest")
	ErrNoFreeCode  = errors.New("no free room code")
)

const (
	EventGuestJoined = "guestJoined"
	EventJoinSuccess = "joinSuccess"
	EventRoomClosed  = "roomClosed"
)

type GuestJoined struct {
	GuestID  string `json:"guestId"`
	SocketID string `json:"socketId"`
}

type JoinSuccess struct {
	OwnerID string `json:"ownerId"`
	Code    string `json:"code"`
}

type RoomClosed struct {
	Code string `json:"code"`
}

// Notifier delivers an event to one connection. It must not block; the
// registry calls it while holding its lock so that notifications for one
// room are never reordered.
type Notifier interface {
	SendTo(connID, event string, data any) bool
}

type CollisionPolicy int

const (
	// CollisionOverwrite replaces whatever session held the generated code.
	CollisionOverwrite CollisionPolicy = iota
	// CollisionRetry regenerates the code while it is taken.
	CollisionRetry
)

const maxCodeAttempts = 16

// ParseCollisionPolicy understands "overwrite" and "retry".
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return CollisionOverwrite, nil
	case "retry":
		return CollisionRetry, nil
	}
	return CollisionOverwrite, fmt.Errorf("unknown collision policy %q", s)
}

type State int

const (
	StateCreated State = iota
	StateJoined
)

func (s State) String() string {
	if s == StateJoined {
		return "joined"
	}
	return "created"
}

// Session is one paired-viewing room. Closed sessions are not kept.
type Session struct {
	Code        string
	OwnerID     string
	OwnerConnID string
	GuestEmail  string
	GuestID     string
	GuestConnID string
	CreatedAt   time.Time
}

func (s Session) State() State {
	if s.GuestConnID != "" {
		return StateJoined
	}
	return StateCreated
}

type Options struct {
	Collision CollisionPolicy
	// IdleTimeout expires rooms nobody joined. Zero disables expiry.
	IdleTimeout          time.Duration
	HousekeepingInterval time.Duration
	Generate             func() string
	Now                  func() time.Time
}

// Registry is the in-memory table of active rooms. Every operation runs
// under one mutex.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	notifier Notifier
	log      *zap.Logger

	collision   CollisionPolicy
	idleTimeout time.Duration
	interval    time.Duration
	generate    func() string
	now         func() time.Time
	houseOnce   sync.Once
}

func NewRegistry(n Notifier, log *zap.Logger, opts Options) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		sessions:    make(map[string]*Session),
		notifier:    n,
		log:         log,
		collision:   opts.Collision,
		idleTimeout: opts.IdleTimeout,
		interval:    opts.HousekeepingInterval,
		generate:    opts.Generate,
		now:         opts.Now,
	}
	if r.generate == nil {
		r.generate = GenerateCode
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.interval <= 0 {
		r.interval = time.Minute
	}
	return r
}

// GenerateCode returns a random 6-digit decimal code.
func GenerateCode() string {
	return strconv.Itoa(100000 + rand.IntN(900000))
}

// Create registers a room owned by ownerID/ownerConnID for guestEmail and
// returns its code.
func (r *Registry) Create(ownerID, ownerConnID, guestEmail string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := r.generate()
	if r.collision == CollisionRetry {
		for i := 1; r.sessions[code] != nil; i++ {
			if i >= maxCodeAttempts {
				return "", ErrNoFreeCode
			}
			code = r.generate()
		}
	} else if old := r.sessions[code]; old != nil {
		r.log.Warn("room code collision, overwriting",
			zap.String("code", code), zap.String("previous_owner", old.OwnerID))
	}

	r.sessions[code] = &Session{
		Code:        code,
		OwnerID:     ownerID,
		OwnerConnID: ownerConnID,
		GuestEmail:  normalizeEmail(guestEmail),
		CreatedAt:   r.now(),
	}
	r.log.Info("room created", zap.String("code", code), zap.String("owner_id", ownerID))
	return code, nil
}

// Join attaches the guest to the room and notifies both sides. It returns
// the owner's user id.
func (r *Registry) Join(code, guestEmail, guestID, guestConnID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[strings.TrimSpace(code)]
	if s == nil {
		return "", ErrInvalidCode
	}
	if s.GuestEmail != normalizeEmail(guestEmail) {
		return "", ErrForbidden
	}
	if s.State() == StateJoined {
		return "", ErrRoomFull
	}

	s.GuestID = guestID
	s.GuestConnID = guestConnID

	// guest first: the owner answers guestJoined with an offer addressed to it
	r.notify(guestConnID, EventJoinSuccess, JoinSuccess{OwnerID: s.OwnerID, Code: s.Code})
	r.notify(s.OwnerConnID, EventGuestJoined, GuestJoined{GuestID: guestID, SocketID: guestConnID})
	r.log.Info("guest joined room", zap.String("code", s.Code), zap.String("guest_id", guestID))
	return s.OwnerID, nil
}

// Teardown closes every room the connection owns or joined, telling both
// members. It returns the closed codes.
func (r *Registry) Teardown(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var closed []string
	for code, s := range r.sessions {
		if s.OwnerConnID != connID && s.GuestConnID != connID {
			continue
		}
		r.close(s, "disconnect")
		closed = append(closed, code)
	}
	return closed
}

// Members lists the connections attached to a room.
func (r *Registry) Members(code string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[code]
	if s == nil {
		return nil
	}
	if s.GuestConnID == "" {
		return []string{s.OwnerConnID}
	}
	return []string{s.OwnerConnID, s.GuestConnID}
}

// Get returns a copy of the session for code.
func (r *Registry) Get(code string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[code]
	if s == nil {
		return Session{}, false
	}
	return *s, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ExpireIdle closes rooms that nobody joined within the idle timeout.
func (r *Registry) ExpireIdle(now time.Time) int {
	if r.idleTimeout <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.sessions {
		if s.State() == StateCreated && now.Sub(s.CreatedAt) >= r.idleTimeout {
			r.close(s, "idle")
			n++
		}
	}
	return n
}

// StartHousekeeping expires idle rooms until ctx is done.
func (r *Registry) StartHousekeeping(ctx context.Context) {
	if r.idleTimeout <= 0 {
		return
	}
	r.houseOnce.Do(func() {
		ticker := time.NewTicker(r.interval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.ExpireIdle(r.now())
				}
			}
		}()
	})
}

// close must be called with r.mu held.
func (r *Registry) close(s *Session, reason string) {
	ev := RoomClosed{Code: s.Code}
	r.notify(s.OwnerConnID, EventRoomClosed, ev)
	if s.GuestConnID != "" {
		r.notify(s.GuestConnID, EventRoomClosed, ev)
	}
	delete(r.sessions, s.Code)
	r.log.Info("room closed", zap.String("code", s.Code), zap.String("reason", reason))
}

func (r *Registry) notify(connID, event string, data any) {
	if r.notifier == nil || connID == "" {
		return
	}
	r.notifier.SendTo(connID, event, data)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Package playback keeps a follower's player in step with a controller's.
// Control flows one way only: the controller emits, the follower applies.
package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	HeartbeatInterval = 3 * time.Second
	DriftThreshold    = 1.5
)

const (
	ActionPlay      = "play"
	ActionPause     = "pause"
	ActionSeek      = "seek"
	ActionHeartbeat = "heartbeat"
)

// Event is the syncCinema payload. Time is the playback position in seconds.
type Event struct {
	Code   string  `json:"code,omitempty"`
	Action string  `json:"action"`
	Time   float64 `json:"time"`
}

type Player interface {
	Position() float64
	Playing() bool
	Play()
	Pause()
	Seek(pos float64)
}

type Emitter interface {
	EmitSync(ctx context.Context, ev Event) error
}

// Controller drives the local player and publishes every change.
type Controller struct {
	player   Player
	emit     Emitter
	code     string
	interval time.Duration
	log      *zap.Logger
}

func NewController(player Player, emit Emitter, code string, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{player: player, emit: emit, code: code, interval: HeartbeatInterval, log: log}
}

func (c *Controller) Play(ctx context.Context) error {
	c.player.Play()
	return c.send(ctx, ActionPlay)
}

func (c *Controller) Pause(ctx context.Context) error {
	c.player.Pause()
	return c.send(ctx, ActionPause)
}

func (c *Controller) Seek(ctx context.Context, pos float64) error {
	c.player.Seek(pos)
	return c.send(ctx, ActionSeek)
}

// Heartbeat publishes the current position if the player is running.
func (c *Controller) Heartbeat(ctx context.Context) error {
	if !c.player.Playing() {
		return nil
	}
	return c.send(ctx, ActionHeartbeat)
}

// Run emits heartbeats on a fixed cadence until ctx ends.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Heartbeat(ctx); err != nil {
				c.log.Warn("heartbeat", zap.Error(err))
			}
		}
	}
}

func (c *Controller) send(ctx context.Context, action string) error {
	return c.emit.EmitSync(ctx, Event{Code: c.code, Action: action, Time: c.player.Position()})
}

// Follower applies controller events to its player. It never emits.
type Follower struct {
	mu        sync.Mutex
	player    Player
	threshold float64
}

func NewFollower(player Player) *Follower {
	return &Follower{player: player, threshold: DriftThreshold}
}

// Apply reports whether the player's position was changed.
func (f *Follower) Apply(ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch ev.Action {
	case ActionPlay:
		f.player.Play()
	case ActionPause:
		f.player.Pause()
	case ActionSeek:
		f.player.Seek(ev.Time)
		return true
	case ActionHeartbeat:
		if math.Abs(f.player.Position()-ev.Time) > f.threshold {
			f.player.Seek(ev.Time)
			return true
		}
	}
	return false
}

// Clock is a Player backed by wall time, for headless peers.
type Clock struct {
	mu      sync.Mutex
	base    float64
	started time.Time
	playing bool
	now     func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

func (c *Clock) positionLocked() float64 {
	if !c.playing {
		return c.base
	}
	return c.base + c.now().Sub(c.started).Seconds()
}

func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		c.playing = true
		c.started = c.now()
	}
}

func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = c.positionLocked()
	c.playing = false
}

func (c *Clock) Seek(pos float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = pos
	c.started = c.now()
}

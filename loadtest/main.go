package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cinechat/internal/chat"
	"cinechat/internal/peer"
	"cinechat/internal/playback"
	"cinechat/internal/user"

	"go.uber.org/zap"
)

var (
	baseURL  = flag.String("base", "http://localhost:8080", "server base url")
	pairs    = flag.Int("pairs", 50, "owner/guest pairs") // start small; the DB chokes on 1000 at once
	msgCount = flag.Int("msgs", 20, "chat messages per user")
	timeout  = flag.Duration("timeout", 2*time.Minute, "overall deadline")
	payload  = flag.Int("payload", 256<<10, "bytes the owner streams to the guest over the data channel (0 skips)")
)

type stats struct {
	rooms     atomic.Int64
	connected atomic.Int64
	failed    atomic.Int64
	sent      atomic.Int64
	received  atomic.Int64
	bytes     atomic.Int64
}

func main() {
	flag.Parse()
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger.Info(fmt.Sprintf("🔥 STARTING STRESS TEST: %d users, %d messages each", *pairs*2, *msgCount))
	start := time.Now()

	var st stats
	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(ctx, pairID, &st, logger); err != nil {
				st.failed.Add(1)
				logger.Warn("❌ pair failed", zap.Int("pair", pairID), zap.Error(err))
			}
		}(i)
	}
	wg.Wait()

	logger.Info("✅ LOAD TEST COMPLETE",
		zap.Duration("took", time.Since(start)),
		zap.Int64("rooms", st.rooms.Load()),
		zap.Int64("connected", st.connected.Load()),
		zap.Int64("failed", st.failed.Load()),
		zap.Int64("sent", st.sent.Load()),
		zap.Int64("received", st.received.Load()),
		zap.Int64("transferred", st.bytes.Load()))
}

func runPair(ctx context.Context, pairID int, st *stats, logger *zap.Logger) error {
	ownerEmail := fmt.Sprintf("owner_%d@load.test", pairID)
	guestEmail := fmt.Sprintf("guest_%d@load.test", pairID)
	const pass = "password123"

	owner, err := authenticate(ownerEmail, pass)
	if err != nil {
		return err
	}
	guest, err := authenticate(guestEmail, pass)
	if err != nil {
		return err
	}

	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws"
	oc, err := peer.Dial(ctx, wsURL, logger)
	if err != nil {
		return fmt.Errorf("owner dial: %w", err)
	}
	defer oc.Close()
	gc, err := peer.Dial(ctx, wsURL, logger)
	if err != nil {
		return fmt.Errorf("guest dial: %w", err)
	}
	defer gc.Close()

	// both peers run here, so the owner's data channel listens on loopback
	ln, err := peer.ListenData("127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("data listener: %w", err)
	}
	defer ln.Close()
	oc.SetNegotiator(&peer.TokenNegotiator{DataURL: ln.URL()})

	code, err := oc.CreateRoom(ctx, owner.ID, guestEmail)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	st.rooms.Add(1)
	if _, err := gc.JoinRoom(ctx, code, guestEmail, guest.ID); err != nil {
		return fmt.Errorf("join %s: %w", code, err)
	}

	for _, c := range []*peer.Client{oc, gc} {
		s, err := c.WaitState(ctx, peer.StateConnected, peer.StateFailed)
		if err != nil {
			return err
		}
		if s == peer.StateFailed {
			return c.Err()
		}
	}
	st.connected.Add(1)

	if *payload > 0 {
		if err := streamPayload(ctx, oc, gc, ln, st); err != nil {
			return fmt.Errorf("transfer: %w", err)
		}
	}

	// the guest follows the owner's playback while both chat
	gc.Follow(playback.NewFollower(playback.NewClock()))
	ctrl := playback.NewController(playback.NewClock(), oc, code, logger)
	ctrl.Play(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go spamChat(ctx, &wg, oc, owner.ID, guest.ID, st)
	go spamChat(ctx, &wg, gc, guest.ID, owner.ID, st)
	wg.Wait()

	ctrl.Pause(ctx)
	return nil
}

func streamPayload(ctx context.Context, owner, guest *peer.Client, ln *peer.DataListener, st *stats) error {
	data := make([]byte, *payload)
	errc := make(chan error, 1)
	go func() { errc <- owner.SendFile(ctx, ln, data, "loadtest.mp4", "video/mp4") }()

	f, err := guest.ReceiveFile(ctx)
	if err != nil {
		return err
	}
	if err := <-errc; err != nil {
		return err
	}
	if len(f.Data) != len(data) {
		return fmt.Errorf("received %d of %d bytes", len(f.Data), len(data))
	}
	st.bytes.Add(int64(len(f.Data)))
	return nil
}

func spamChat(ctx context.Context, wg *sync.WaitGroup, c *peer.Client, from, to string, st *stats) {
	defer wg.Done()

	// drain so the inbox never backs up; everyone receives everything
	drainCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		for {
			select {
			case <-drainCtx.Done():
				return
			case <-c.Messages():
				st.received.Add(1)
			}
		}
	}()

	for i := 0; i < *msgCount; i++ {
		err := c.SendMessage(ctx, chat.IncomingMessage{
			Content:    fmt.Sprintf("LoadTest Msg %d from %s", i, from),
			SenderID:   from,
			ReceiverID: to,
			Type:       chat.TypeText,
		})
		if err != nil {
			return
		}
		st.sent.Add(1)
		// simulate a real network instead of hammering localhost
		time.Sleep(10 * time.Millisecond)
	}
}

// authenticate registers (an existing account is fine) and logs in.
func authenticate(email, password string) (*user.LoginResponse, error) {
	resp, err := postJSON("/register", user.RegisterRequest{Name: strings.Split(email, "@")[0], Email: email, Password: password})
	if err == nil {
		resp.Body.Close()
	}

	resp, err = postJSON("/login", user.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", email, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login %s: status %d", email, resp.StatusCode)
	}

	var data user.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return http.Post(*baseURL+endpoint, "application/json", bytes.NewReader(body))
}

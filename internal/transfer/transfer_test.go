package transfer

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestPipeTransfer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data := payload(5*ChunkSize + 123)
	pipe := NewPipe()

	got := make(chan File, 1)
	var progress []int64
	var mu sync.Mutex
	rx := NewReceiver(nil,
		WithComplete(func(f File) { got <- f }),
		WithReceiveProgress(func(done, total int64) {
			mu.Lock()
			progress = append(progress, done)
			mu.Unlock()
		}))
	go rx.Run(ctx, pipe)

	var sends int
	tx := NewSender(pipe, nil, WithSendProgress(func(done, total int64) { sends++ }))
	if err := tx.Send(ctx, data, "movie.mp4", "video/mp4"); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case f := <-got:
		if !bytes.Equal(f.Data, data) {
			t.Fatalf("payload mismatch: got %d bytes", len(f.Data))
		}
		if f.Kind != KindVideo || f.MIME != "video/mp4" || f.Name != "movie.mp4" {
			t.Fatalf("unexpected file meta %+v", f)
		}
	case <-ctx.Done():
		t.Fatalf("transfer did not complete")
	}

	// 6 chunks: below both progress intervals, so only the final report
	if sends != 1 {
		t.Fatalf("expected 1 sender progress report, got %d", sends)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(progress) != 1 || progress[0] != int64(len(data)) {
		t.Fatalf("unexpected receiver progress %v", progress)
	}
	pipe.Close()
}

func TestReceiver_CompletesOnlyAtExpectedSize(t *testing.T) {
	var done []File
	rx := NewReceiver(nil, WithComplete(func(f File) { done = append(done, f) }))

	if err := rx.HandleControl([]byte(`{"type":"metadata","fileType":"image","fileName":"a.png","size":10,"mime":"image/png"}`)); err != nil {
		t.Fatalf("control: %v", err)
	}
	rx.HandleChunk([]byte("0123"))
	rx.HandleChunk([]byte("4567"))
	if s, _ := rx.Snapshot(); s.Complete || s.Received != 8 {
		t.Fatalf("completed early: %+v", s)
	}
	rx.HandleChunk([]byte("89"))
	s, _ := rx.Snapshot()
	if !s.Complete || s.Received != 10 {
		t.Fatalf("expected completion at 10 bytes: %+v", s)
	}
	if len(done) != 1 || string(done[0].Data) != "0123456789" {
		t.Fatalf("unexpected completion %+v", done)
	}

	// late chunks are ignored
	rx.HandleChunk([]byte("zz"))
	if len(done) != 1 {
		t.Fatalf("completed twice")
	}
}

func TestReceiver_MetadataDiscardsPartial(t *testing.T) {
	var done []File
	rx := NewReceiver(nil, WithComplete(func(f File) { done = append(done, f) }))

	rx.HandleControl([]byte(`{"type":"metadata","fileType":"video","size":10}`))
	rx.HandleChunk([]byte("aaaaa"))
	rx.HandleControl([]byte(`{"type":"metadata","fileType":"pdf","fileName":"b.pdf","size":3}`))
	rx.HandleChunk([]byte("xyz"))

	if len(done) != 1 {
		t.Fatalf("expected one completion, got %d", len(done))
	}
	f := done[0]
	if string(f.Data) != "xyz" {
		t.Fatalf("payloads mixed: %q", f.Data)
	}
	if f.MIME != "application/pdf" || f.Kind != KindPDF {
		t.Fatalf("expected pdf fallback, got %+v", f)
	}
}

func TestReceiver_Fallbacks(t *testing.T) {
	cases := map[string]string{
		KindImage: "image/jpeg",
		KindVideo: "video/mp4",
		KindPDF:   "application/pdf",
	}
	for kind, want := range cases {
		rx := NewReceiver(nil)
		rx.HandleControl([]byte(`{"type":"metadata","fileType":"` + kind + `","size":1}`))
		s, ok := rx.Snapshot()
		if !ok || s.MIME != want {
			t.Fatalf("kind %s: expected %s, got %+v", kind, want, s)
		}
	}

	// no kind and no mime: a document
	rx := NewReceiver(nil)
	rx.HandleControl([]byte(`{"type":"metadata","size":1}`))
	if s, _ := rx.Snapshot(); s.Kind != KindPDF || s.MIME != "application/pdf" {
		t.Fatalf("expected pdf fallback for undeclared file, got %+v", s)
	}

	rx = NewReceiver(nil)
	rx.HandleChunk([]byte("orphan"))
	if _, ok := rx.Snapshot(); ok {
		t.Fatalf("chunk without metadata created a session")
	}
	if err := rx.HandleControl([]byte(`{"type":"metadata","size":0}`)); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}

func TestSender_EmptyPayload(t *testing.T) {
	if err := NewSender(NewPipe(), nil).Send(context.Background(), nil, "x", ""); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}

func TestKindOf(t *testing.T) {
	cases := map[string]string{
		"image/png":       KindImage,
		"application/pdf": KindPDF,
		"video/webm":      KindVideo,
		"":                KindPDF,
		"application/zip": KindPDF,
		"text/plain":      KindPDF,
	}
	for mime, want := range cases {
		if got := KindOf(mime); got != want {
			t.Fatalf("KindOf(%q) = %s, want %s", mime, got, want)
		}
	}
}

// meteredPipe records the buffered amount seen at every chunk send.
type meteredPipe struct {
	*Pipe
	mu  sync.Mutex
	max int
}

func (m *meteredPipe) SendBinary(ctx context.Context, b []byte) error {
	m.mu.Lock()
	if n := m.BufferedAmount(); n > m.max {
		m.max = n
	}
	m.mu.Unlock()
	return m.Pipe.SendBinary(ctx, b)
}

func TestSender_Backpressure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := &meteredPipe{Pipe: NewPipe()}
	tx := NewSender(pipe, nil, WithChunkSize(10), WithWatermarks(30, 10))

	// take only the metadata frame, then stall
	metaRead := make(chan struct{})
	go func() {
		pipe.Next(ctx)
		close(metaRead)
	}()

	errc := make(chan error, 1)
	go func() { errc <- tx.Send(ctx, payload(100), "f", "video/mp4") }()
	<-metaRead

	deadline := time.Now().Add(2 * time.Second)
	for pipe.BufferedAmount() < 40 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if n := pipe.BufferedAmount(); n != 40 {
		t.Fatalf("expected sender to stall at 40 buffered bytes, got %d", n)
	}
	select {
	case err := <-errc:
		t.Fatalf("send finished while stalled: %v", err)
	default:
	}

	// drain everything
	var got []byte
	for len(got) < 100 {
		f, err := pipe.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, f.Data...)
	}
	if err := <-errc; err != nil {
		t.Fatalf("send: %v", err)
	}
	if !bytes.Equal(got, payload(100)) {
		t.Fatalf("payload mismatch")
	}
	if pipe.max > 30 {
		t.Fatalf("chunk sent with %d bytes buffered, above high-water", pipe.max)
	}
}

func TestWindow_WaitBelow(t *testing.T) {
	w := NewWindow()
	w.Add(100)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.WaitBelow(ctx, 50); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.WaitBelow(context.Background(), 50) }()
	w.Done(30)
	w.Done(30)
	if err := <-done; err != nil {
		t.Fatalf("wait: %v", err)
	}

	w.Add(100)
	go func() { done <- w.WaitBelow(context.Background(), 0) }()
	w.Close()
	if err := <-done; !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}

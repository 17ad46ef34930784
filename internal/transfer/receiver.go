package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// File is a completed transfer.
type File struct {
	Kind string
	Name string
	MIME string
	Data []byte
}

// Session is the receiving state of the single in-flight transfer.
type Session struct {
	Expected int64
	Received int64
	Kind     string
	Name     string
	MIME     string
	Complete bool

	chunks [][]byte
	count  int
}

// Receiver reassembles transfers from a peer. A metadata frame always
// discards whatever was in flight before it.
type Receiver struct {
	mu      sync.Mutex
	session *Session

	every      int
	onProgress Progress
	onComplete func(File)
	log        *zap.Logger
}

type ReceiverOption func(*Receiver)

func WithReceiveProgress(fn Progress) ReceiverOption {
	return func(r *Receiver) { r.onProgress = fn }
}

func WithComplete(fn func(File)) ReceiverOption {
	return func(r *Receiver) { r.onComplete = fn }
}

func NewReceiver(log *zap.Logger, opts ...ReceiverOption) *Receiver {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Receiver{every: ReceiverProgressEvery, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleControl processes a text frame. Unknown control types are ignored.
func (r *Receiver) HandleControl(b []byte) error {
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if m.Type != controlMetadata {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil && !r.session.Complete {
		r.log.Debug("discarding partial transfer",
			zap.String("file", r.session.Name), zap.Int64("received", r.session.Received))
	}
	r.session = nil
	if m.Size <= 0 {
		return ErrEmptyPayload
	}

	kind := m.FileType
	if kind == "" {
		kind = KindOf(m.MIME)
	}
	mime := m.MIME
	if mime == "" {
		mime = fallbackMIME(kind)
	}
	r.session = &Session{Expected: m.Size, Kind: kind, Name: m.FileName, MIME: mime}
	return nil
}

// HandleChunk appends a binary frame to the current transfer. Chunks with
// no transfer in flight, or after completion, are dropped.
func (r *Receiver) HandleChunk(b []byte) {
	r.mu.Lock()
	s := r.session
	if s == nil || s.Complete {
		r.mu.Unlock()
		return
	}

	s.chunks = append(s.chunks, b)
	s.Received += int64(len(b))
	s.count++

	var file *File
	if s.Received >= s.Expected {
		s.Complete = true
		data := make([]byte, 0, s.Received)
		for _, c := range s.chunks {
			data = append(data, c...)
		}
		s.chunks = nil
		file = &File{Kind: s.Kind, Name: s.Name, MIME: s.MIME, Data: data}
	}
	report := r.onProgress != nil && (s.count%r.every == 0 || s.Complete)
	received, expected := s.Received, s.Expected
	r.mu.Unlock()

	if report {
		r.onProgress(received, expected)
	}
	if file != nil {
		r.log.Debug("transfer complete", zap.String("file", file.Name), zap.Int("bytes", len(file.Data)))
		if r.onComplete != nil {
			r.onComplete(*file)
		}
	}
}

// Snapshot returns a copy of the in-flight session, or false if none.
func (r *Receiver) Snapshot() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return Session{}, false
	}
	s := *r.session
	s.chunks = nil
	return s, true
}

// Run feeds frames from src until it closes or ctx ends.
func (r *Receiver) Run(ctx context.Context, src Source) error {
	for {
		f, err := src.Next(ctx)
		if errors.Is(err, ErrChannelClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if f.Binary {
			r.HandleChunk(f.Data)
			continue
		}
		if err := r.HandleControl(f.Data); err != nil {
			r.log.Warn("bad control frame", zap.Error(err))
		}
	}
}

package transfer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Progress reports bytes moved so far out of total.
type Progress func(done, total int64)

type Sender struct {
	ch         Channel
	chunkSize  int
	highWater  int
	lowWater   int
	every      int
	onProgress Progress
	log        *zap.Logger
}

type SenderOption func(*Sender)

func WithChunkSize(n int) SenderOption {
	return func(s *Sender) { s.chunkSize = n }
}

func WithWatermarks(high, low int) SenderOption {
	return func(s *Sender) { s.highWater, s.lowWater = high, low }
}

func WithSendProgress(fn Progress) SenderOption {
	return func(s *Sender) { s.onProgress = fn }
}

func NewSender(ch Channel, log *zap.Logger, opts ...SenderOption) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Sender{
		ch:        ch,
		chunkSize: ChunkSize,
		highWater: HighWater,
		lowWater:  LowWater,
		every:     SenderProgressEvery,
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send announces data with a metadata frame and streams it in chunks.
// It stops issuing chunks while more than the high-water mark is buffered
// and resumes once the channel drains to the low-water mark.
func (s *Sender) Send(ctx context.Context, data []byte, fileName, mime string) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	total := int64(len(data))

	meta, err := encodeMetadata(Metadata{
		FileType: KindOf(mime),
		FileName: fileName,
		Size:     total,
		MIME:     mime,
	})
	if err != nil {
		return err
	}
	if err := s.ch.SendText(ctx, meta); err != nil {
		return fmt.Errorf("send metadata: %w", err)
	}
	// the receiver must reset before the first chunk lands
	if err := s.ch.WaitBelow(ctx, 0); err != nil {
		return fmt.Errorf("flush metadata: %w", err)
	}

	var sent int64
	chunks := 0
	for off := 0; off < len(data); off += s.chunkSize {
		if s.ch.BufferedAmount() > s.highWater {
			if err := s.ch.WaitBelow(ctx, s.lowWater); err != nil {
				return fmt.Errorf("wait for drain: %w", err)
			}
		}

		end := min(off+s.chunkSize, len(data))
		if err := s.ch.SendBinary(ctx, data[off:end]); err != nil {
			return fmt.Errorf("send chunk at %d: %w", off, err)
		}
		sent += int64(end - off)
		chunks++

		if s.onProgress != nil && (chunks%s.every == 0 || sent == total) {
			s.onProgress(sent, total)
		}
	}

	s.log.Debug("transfer sent", zap.String("file", fileName), zap.Int64("bytes", total), zap.Int("chunks", chunks))
	return nil
}

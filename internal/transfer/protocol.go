// Package transfer moves one binary payload at a time between two peers over
// an ordered, reliable channel: a metadata control frame followed by fixed
// size binary chunks, paced against the channel's buffered amount.
package transfer

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	ChunkSize = 64 << 10
	HighWater = 1 << 20
	LowWater  = 128 << 10

	SenderProgressEvery   = 35
	ReceiverProgressEvery = 20
)

var (
	ErrChannelClosed = errors.New("transfer channel closed")
	ErrEmptyPayload  = errors.New("empty payload")
)

const (
	KindVideo = "video"
	KindImage = "image"
	KindPDF   = "pdf"
)

const controlMetadata = "metadata"

// Metadata announces the payload that follows.
type Metadata struct {
	Type     string `json:"type"`
	FileType string `json:"fileType"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	MIME     string `json:"mime"`
}

// KindOf maps a MIME type onto a logical kind. Anything that is not
// video or image travels as a document.
func KindOf(mime string) string {
	switch {
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	default:
		return KindPDF
	}
}

// fallbackMIME is used when the sender did not declare one.
func fallbackMIME(kind string) string {
	switch kind {
	case KindImage:
		return "image/jpeg"
	case KindVideo:
		return "video/mp4"
	default:
		return "application/pdf"
	}
}

func encodeMetadata(m Metadata) ([]byte, error) {
	m.Type = controlMetadata
	return json.Marshal(m)
}

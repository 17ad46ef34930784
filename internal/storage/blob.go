package storage

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var ErrEmptyFile = errors.New("empty file")

// BlobStore stores bytes and returns the public URL they are served from.
type BlobStore interface {
	Put(ctx context.Context, data []byte, name, contentType string) (string, error)
}

// ObjectKey is "uploads/<unix-ms>-<base name>".
func ObjectKey(now time.Time, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "file"
	}
	return "uploads/" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + base
}

// DiskStore writes blobs below a local directory. Keys map to
// <dir>/<key> and URLs to <publicURL>/<key>.
type DiskStore struct {
	dir       string
	publicURL string
	now       func() time.Time
}

func NewDiskStore(dir, publicURL string) *DiskStore {
	return &DiskStore{dir: dir, publicURL: strings.TrimRight(publicURL, "/"), now: time.Now}
}

func (s *DiskStore) Put(ctx context.Context, data []byte, name, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := ObjectKey(s.now(), name)
	full := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", err
	}
	return s.publicURL + "/" + key, nil
}

// Root is the directory whose "uploads" subdirectory should be served.
func (s *DiskStore) Root() string {
	return s.dir
}

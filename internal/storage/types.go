package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("blob not found")
	ErrClosed   = errors.New("storage closed")
)

// BlobStore reads and writes whole blobs by key. Writes replace the previous
// blob atomically: a reader sees either the old or the new content.
type BlobStore interface {
	ReadBlob(ctx context.Context, key string) ([]byte, error)
	WriteBlob(ctx context.Context, key string, data []byte) error
	Close() error
}

// Config configures storage.
//
// If Driver is empty the "file" driver is used.
type Config struct {
	Driver      string
	Path        string        // sqlite database file; unused by file/memory
	BusyTimeout time.Duration // sqlite only; 0 means default
}

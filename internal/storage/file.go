package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	logx "schedq/pkg/logx"
)

// fileStore keeps one blob per file on an afero filesystem.
//
// Writes go to "<key>.tmp-<nanos>" and are renamed over the key, so a crash
// mid-write leaves the previous blob intact.
type fileStore struct {
	fs  afero.Fs
	log logx.Logger

	mu     sync.Mutex
	closed bool
}

// NewFileStore returns a BlobStore backed by fs.
func NewFileStore(fs afero.Fs, log logx.Logger) BlobStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &fileStore{fs: fs, log: log}
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("blob key is required")
	}
	return filepath.Clean(key), nil
}

func (s *fileStore) ReadBlob(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	b, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return b, err
}

func (s *fileStore) WriteBlob(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := cleanKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UnixNano())
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	s.log.Debug("blob written", logx.String("path", path), logx.Int("bytes", len(data)))
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

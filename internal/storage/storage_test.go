package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	logx "schedq/pkg/logx"
)

func exerciseStore(t *testing.T, st BlobStore, key string) {
	t.Helper()
	ctx := context.Background()

	if _, err := st.ReadBlob(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadBlob(missing) = %v, want ErrNotFound", err)
	}
	if err := st.WriteBlob(ctx, key, []byte("one")); err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if err := st.WriteBlob(ctx, key, []byte("two")); err != nil {
		t.Fatalf("WriteBlob overwrite: %v", err)
	}
	got, err := st.ReadBlob(ctx, key)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("ReadBlob = %q, want %q", got, "two")
	}
}

func TestFileStoreMemFs(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	st := NewFileStore(fs, logx.Nop())
	defer st.Close()
	exerciseStore(t, st, "/data/snap.json")

	// No temp files are left behind.
	entries, err := afero.ReadDir(fs, "/data")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "snap.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected files: %v", names)
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	st := NewFileStore(afero.NewMemMapFs(), logx.Nop())
	_ = st.Close()
	if err := st.WriteBlob(context.Background(), "x", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("WriteBlob after Close = %v", err)
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  Config
		key  string
	}{
		{name: "file", cfg: Config{Driver: "file"}, key: filepath.Join(dir, "nested", "snap.json")},
		{name: "memory", cfg: Config{Driver: "memory"}, key: "snap.json"},
		{name: "sqlite", cfg: Config{Driver: "sqlite", Path: filepath.Join(dir, "schedq.db")}, key: "snapshot"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			st, err := Open(tt.cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()
			exerciseStore(t, st, tt.key)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for sqlite without path")
	}
}

package storage

import (
	"errors"
	"strings"

	"github.com/spf13/afero"

	logx "schedq/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (BlobStore, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return NewFileStore(afero.NewOsFs(), log), nil
	case "memory", "mem":
		return NewFileStore(afero.NewMemMapFs(), log), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

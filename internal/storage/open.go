package storage

import (
	"context"
	"errors"
	"strings"

	logx "pacekeeper/pkg/logx"
)

// DocStore is the whole-document persistence API used by queue and memory.
type DocStore interface {
	// Load returns the last saved content of a document, or ErrNotFound.
	Load(ctx context.Context, name string) ([]byte, error)
	// Save atomically replaces a document's content.
	Save(ctx context.Context, name string, data []byte) error
	Close() error
}

// Open initializes the configured store.
// An empty or "none" driver yields a volatile in-memory store.
func Open(cfg Config, log logx.Logger) (DocStore, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none":
		return NewMem(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound reports that a document has never been saved.
	ErrNotFound = errors.New("storage: document not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": one JSON file per document under Path (atomic tmp+rename)
//   - "sqlite": SQLite database file (optional build tag)
//   - "" or "none": volatile in-memory store (tests, dry runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Well-known document names.
const (
	DocQueue  = "queue"
	DocMemory = "memory"
)

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "pacekeeper/pkg/logx"
)

// fileStore is the dependency-free persistence backend.
//
// Layout: <dir>/<name>.json per document. Writes go through a temp file and
// rename so a crash mid-write leaves the previous content intact.
type fileStore struct {
	log logx.Logger

	mu  sync.Mutex
	dir string
}

func openFile(cfg Config, log logx.Logger) (DocStore, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) docPath(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *fileStore) Load(ctx context.Context, name string) ([]byte, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.docPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *fileStore) Save(ctx context.Context, name string, data []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.docPath(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *fileStore) Close() error { return nil }

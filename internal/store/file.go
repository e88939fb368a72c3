// Package store provides conversation-context persistence backends:
// JSON files (standalone default), Postgres (managed) and Redis.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codelenshq/oracle/internal/config"
	"github.com/codelenshq/oracle/internal/convo"
)

// FileStore keeps one JSON file per (user, project) session.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(user, project string) string {
	key := config.NormalizePart(user) + "__" + config.NormalizePart(project)
	return filepath.Join(s.dir, key+".json")
}

func (s *FileStore) Load(_ context.Context, user, project string) (*convo.ConversationContext, error) {
	data, err := os.ReadFile(s.path(user, project))
	if os.IsNotExist(err) {
		return nil, convo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var cc convo.ConversationContext
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &cc, nil
}

func (s *FileStore) Save(_ context.Context, cc *convo.ConversationContext) error {
	data, err := json.MarshalIndent(cc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	// Write-then-rename so a crash mid-write never corrupts the log.
	path := s.path(cc.User, cc.Project)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) Delete(_ context.Context, user, project string) error {
	err := os.Remove(s.path(user, project))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) List(_ context.Context) ([]*convo.ConversationContext, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var out []*convo.ConversationContext
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var cc convo.ConversationContext
		if err := json.Unmarshal(data, &cc); err != nil {
			continue
		}
		out = append(out, &cc)
	}
	return out, nil
}

package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codelenshq/oracle/internal/config"
	"github.com/codelenshq/oracle/internal/convo"
)

// ContextStore implements convo.Store on Postgres. The full context is
// stored as one JSONB document per session row; the hot columns are
// duplicated for listing without decoding.
type ContextStore struct {
	db *sql.DB
}

func NewContextStore(db *sql.DB) (*ContextStore, error) {
	s := &ContextStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ContextStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS conversation_contexts (
		session_key TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		project TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		tokens_used INTEGER NOT NULL DEFAULT 0,
		compression_count INTEGER NOT NULL DEFAULT 0,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("migrate conversation_contexts: %w", err)
	}
	return nil
}

func sessionKey(user, project string) string {
	return config.SessionKey(user, project)
}

func (s *ContextStore) Load(ctx context.Context, user, project string) (*convo.ConversationContext, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM conversation_contexts WHERE session_key = $1",
		sessionKey(user, project)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, convo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}

	var cc convo.ConversationContext
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &cc, nil
}

func (s *ContextStore) Save(ctx context.Context, cc *convo.ConversationContext) error {
	data, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO conversation_contexts
		(session_key, user_id, project, status, tokens_used, compression_count, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (session_key) DO UPDATE SET
			status = EXCLUDED.status,
			tokens_used = EXCLUDED.tokens_used,
			compression_count = EXCLUDED.compression_count,
			data = EXCLUDED.data,
			updated_at = now()`,
		sessionKey(cc.User, cc.Project), cc.User, cc.Project,
		string(cc.Status), cc.TokensUsed, cc.CompressionCount, data)
	if err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	return nil
}

func (s *ContextStore) Delete(ctx context.Context, user, project string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM conversation_contexts WHERE session_key = $1",
		sessionKey(user, project))
	if err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	return nil
}

func (s *ContextStore) List(ctx context.Context) ([]*convo.ConversationContext, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM conversation_contexts ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []*convo.ConversationContext
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var cc convo.ConversationContext
		if err := json.Unmarshal(data, &cc); err != nil {
			continue
		}
		out = append(out, &cc)
	}
	return out, rows.Err()
}

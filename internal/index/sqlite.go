// Package index is the local evidence store the bundled retrievers
// query: code chunks with embeddings, an FTS5 keyword index, a symbol
// table, the code reference graph and project documentation notes.
// The store is written by the (external) parsing/indexing pipeline and
// read-mostly at query time.
package index

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"
)

// Chunk is one indexed fragment of source or documentation text.
type Chunk struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Source    string    `json:"source"` // "code" or "docs"
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Hash      string    `json:"hash"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Symbol is a definition site: name -> path:line.
type Symbol struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // func | type | method | var | const
	Path string `json:"path"`
	Line int    `json:"line"`
}

// Edge is one reference in the code graph: from calls/uses to.
type Edge struct {
	FromSymbol string `json:"from_symbol"`
	ToSymbol   string `json:"to_symbol"`
	Kind       string `json:"kind"` // call | use | implement
	Path       string `json:"path"`
	Line       int    `json:"line"`
}

// Note is a free-text project documentation entry.
type Note struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Hit is a raw search hit from one of the store's query methods.
type Hit struct {
	Path      string
	StartLine int
	EndLine   int
	Score     float64
	Text      string
	Source    string
}

// Store wraps the SQLite evidence database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (or creates) the evidence database and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("evidence store opened", "path", path)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'code',
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			hash TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding TEXT NOT NULL DEFAULT '[]',
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			text,
			id UNINDEXED,
			path UNINDEXED,
			source UNINDEXED,
			start_line UNINDEXED,
			end_line UNINDEXED,
			tokenize='porter unicode61'
		)`,
		`CREATE TABLE IF NOT EXISTS symbols (
			name TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL,
			line INTEGER NOT NULL,
			PRIMARY KEY (name, path, line)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name)`,
		`CREATE TABLE IF NOT EXISTS edges (
			from_symbol TEXT NOT NULL,
			to_symbol TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'call',
			path TEXT NOT NULL,
			line INTEGER NOT NULL,
			PRIMARY KEY (from_symbol, to_symbol, path, line)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_symbol)`,
		`CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			title, body, id UNINDEXED,
			tokenize='porter unicode61'
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// UpsertChunk inserts or replaces a chunk and its FTS entry.
func (s *Store) UpsertChunk(c Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	embJSON, err := json.Marshal(c.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tx.Exec("DELETE FROM chunks_fts WHERE id = ?", c.ID)

	_, err = tx.Exec(`INSERT OR REPLACE INTO chunks (id, path, source, start_line, end_line, hash, text, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, strftime('%s','now'))`,
		c.ID, c.Path, c.Source, c.StartLine, c.EndLine, c.Hash, c.Text, string(embJSON))
	if err != nil {
		return fmt.Errorf("upsert chunk: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO chunks_fts (text, id, path, source, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.Text, c.ID, c.Path, c.Source, c.StartLine, c.EndLine)
	if err != nil {
		return fmt.Errorf("insert fts: %w", err)
	}

	return tx.Commit()
}

// SearchFTS performs a keyword search over chunks with BM25 ranking.
// BM25 rank is normalized to a [0,1] score as 1/(1+abs(rank)).
func (s *Store) SearchFTS(query, source string, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	where := ""
	args := []interface{}{query}
	if source != "" {
		where = " AND source = ?"
		args = append(args, source)
	}
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT path, source, start_line, end_line, text,
		1.0 / (1.0 + abs(rank)) as score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?%s
		ORDER BY rank
		LIMIT ?`, where)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Path, &h.Source, &h.StartLine, &h.EndLine, &h.Text, &h.Score); err != nil {
			continue
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// AllChunks returns every chunk (for in-memory vector search).
func (s *Store) AllChunks() ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT id, path, source, start_line, end_line, hash, text, embedding FROM chunks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var embJSON string
		if err := rows.Scan(&c.ID, &c.Path, &c.Source, &c.StartLine, &c.EndLine, &c.Hash, &c.Text, &embJSON); err != nil {
			continue
		}
		json.Unmarshal([]byte(embJSON), &c.Embedding)
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// UpsertSymbol records a definition site.
func (s *Store) UpsertSymbol(sym Symbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT OR REPLACE INTO symbols (name, kind, path, line) VALUES (?, ?, ?, ?)`,
		sym.Name, sym.Kind, sym.Path, sym.Line)
	return err
}

// LookupSymbol returns definition sites for an exact symbol name.
func (s *Store) LookupSymbol(name string) ([]Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT name, kind, path, line FROM symbols WHERE name = ?", name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var syms []Symbol
	for rows.Next() {
		var sym Symbol
		if err := rows.Scan(&sym.Name, &sym.Kind, &sym.Path, &sym.Line); err != nil {
			continue
		}
		syms = append(syms, sym)
	}
	return syms, nil
}

// UpsertEdge records a code reference.
func (s *Store) UpsertEdge(e Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT OR REPLACE INTO edges (from_symbol, to_symbol, kind, path, line) VALUES (?, ?, ?, ?, ?)`,
		e.FromSymbol, e.ToSymbol, e.Kind, e.Path, e.Line)
	return err
}

// ReferencesTo returns edges pointing at the given symbol (its callers).
func (s *Store) ReferencesTo(symbol string, limit int) ([]Edge, error) {
	return s.queryEdges("SELECT from_symbol, to_symbol, kind, path, line FROM edges WHERE to_symbol = ? LIMIT ?", symbol, limit)
}

// ReferencesFrom returns edges leaving the given symbol (its callees).
func (s *Store) ReferencesFrom(symbol string, limit int) ([]Edge, error) {
	return s.queryEdges("SELECT from_symbol, to_symbol, kind, path, line FROM edges WHERE from_symbol = ? LIMIT ?", symbol, limit)
}

func (s *Store) queryEdges(q, symbol string, limit int) ([]Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(q, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.FromSymbol, &e.ToSymbol, &e.Kind, &e.Path, &e.Line); err != nil {
			continue
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// UpsertNote stores a documentation note and its FTS entry.
func (s *Store) UpsertNote(n Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tx.Exec("DELETE FROM notes_fts WHERE id = ?", n.ID)

	if _, err := tx.Exec(`INSERT OR REPLACE INTO notes (id, title, body, updated_at) VALUES (?, ?, ?, strftime('%s','now'))`,
		n.ID, n.Title, n.Body); err != nil {
		return fmt.Errorf("upsert note: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO notes_fts (title, body, id) VALUES (?, ?, ?)`, n.Title, n.Body, n.ID); err != nil {
		return fmt.Errorf("insert note fts: %w", err)
	}
	return tx.Commit()
}

// SearchNotes performs a keyword search over documentation notes.
func (s *Store) SearchNotes(query string, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`SELECT id, title, body, 1.0 / (1.0 + abs(rank)) as score
		FROM notes_fts WHERE notes_fts MATCH ? ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("notes query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id, title, body string
		var score float64
		if err := rows.Scan(&id, &title, &body, &score); err != nil {
			continue
		}
		text := body
		if title != "" {
			text = title + "\n" + body
		}
		hits = append(hits, Hit{Path: id, Score: score, Text: text, Source: "docs"})
	}
	return hits, nil
}

// StructureOverview returns a compact listing of indexed paths and their
// top-level symbols, used as the structural slice in assembled context.
func (s *Store) StructureOverview(maxPaths int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if maxPaths <= 0 {
		maxPaths = 50
	}
	rows, err := s.db.Query(`SELECT path, group_concat(name, ', ') FROM symbols GROUP BY path ORDER BY path LIMIT ?`, maxPaths)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	out := ""
	for rows.Next() {
		var path, names string
		if err := rows.Scan(&path, &names); err != nil {
			continue
		}
		out += path + ": " + names + "\n"
	}
	return out, nil
}

// ChunkCount returns the number of stored chunks.
func (s *Store) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&count)
	return count
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ContentHash returns a short SHA256 content hash.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h[:16])
}

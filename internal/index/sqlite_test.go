package index

import (
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_ChunkRoundTrip(t *testing.T) {
	s := openTestStore(t)

	c := Chunk{
		ID:        "c1",
		Path:      "src/auth.py",
		Source:    "code",
		StartLine: 40,
		EndLine:   80,
		Hash:      ContentHash("class UserService"),
		Text:      "class UserService handles authentication and session issuing",
		Embedding: []float32{0.1, 0.2, 0.3},
	}
	if err := s.UpsertChunk(c); err != nil {
		t.Fatalf("UpsertChunk: %v", err)
	}
	if got := s.ChunkCount(); got != 1 {
		t.Errorf("ChunkCount = %d, want 1", got)
	}

	chunks, err := s.AllChunks()
	if err != nil {
		t.Fatalf("AllChunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != "c1" {
		t.Fatalf("chunks = %+v", chunks)
	}
	if len(chunks[0].Embedding) != 3 {
		t.Errorf("embedding lost: %v", chunks[0].Embedding)
	}
}

func TestStore_UpsertChunkReplaces(t *testing.T) {
	s := openTestStore(t)

	c := Chunk{ID: "c1", Path: "a.go", Source: "code", StartLine: 1, EndLine: 2, Hash: "h", Text: "original text"}
	if err := s.UpsertChunk(c); err != nil {
		t.Fatal(err)
	}
	c.Text = "replacement text"
	if err := s.UpsertChunk(c); err != nil {
		t.Fatal(err)
	}

	if got := s.ChunkCount(); got != 1 {
		t.Errorf("ChunkCount = %d, want 1 after replace", got)
	}
	hits, err := s.SearchFTS(`"replacement"`, "code", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("replacement not searchable, hits = %v", hits)
	}
	if hits, _ := s.SearchFTS(`"original"`, "code", 5); len(hits) != 0 {
		t.Errorf("stale FTS entry survived: %v", hits)
	}
}

func TestStore_SearchFTSFiltersSource(t *testing.T) {
	s := openTestStore(t)

	s.UpsertChunk(Chunk{ID: "c1", Path: "a.go", Source: "code", StartLine: 1, EndLine: 2, Hash: "h1", Text: "retry backoff logic"})
	s.UpsertChunk(Chunk{ID: "d1", Path: "readme.md", Source: "docs", StartLine: 1, EndLine: 2, Hash: "h2", Text: "retry backoff documented"})

	hits, err := s.SearchFTS(`"retry"`, "code", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Source != "code" {
		t.Errorf("hits = %+v, want single code hit", hits)
	}
	for _, h := range hits {
		if h.Score <= 0 || h.Score > 1 {
			t.Errorf("score %v outside (0,1]", h.Score)
		}
	}
}

func TestStore_SymbolLookup(t *testing.T) {
	s := openTestStore(t)

	s.UpsertSymbol(Symbol{Name: "UserService", Kind: "type", Path: "src/auth.py", Line: 45})
	s.UpsertSymbol(Symbol{Name: "UserService", Kind: "type", Path: "src/legacy/auth.py", Line: 12})

	defs, err := s.LookupSymbol("UserService")
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 2 {
		t.Errorf("defs = %d, want 2", len(defs))
	}
	if defs, _ := s.LookupSymbol("Nothing"); len(defs) != 0 {
		t.Errorf("unexpected defs %v", defs)
	}
}

func TestStore_EdgeDirections(t *testing.T) {
	s := openTestStore(t)

	s.UpsertEdge(Edge{FromSymbol: "login", ToSymbol: "validateToken", Kind: "call", Path: "src/auth.py", Line: 102})
	s.UpsertEdge(Edge{FromSymbol: "refresh", ToSymbol: "validateToken", Kind: "call", Path: "src/auth.py", Line: 150})
	s.UpsertEdge(Edge{FromSymbol: "validateToken", ToSymbol: "decodeJWT", Kind: "call", Path: "src/auth.py", Line: 60})

	callers, err := s.ReferencesTo("validateToken", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(callers) != 2 {
		t.Errorf("callers = %d, want 2", len(callers))
	}

	callees, err := s.ReferencesFrom("validateToken", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(callees) != 1 || callees[0].ToSymbol != "decodeJWT" {
		t.Errorf("callees = %+v", callees)
	}
}

func TestStore_Notes(t *testing.T) {
	s := openTestStore(t)

	s.UpsertNote(Note{ID: "n1", Title: "Auth design", Body: "Tokens rotate every hour."})

	hits, err := s.SearchNotes(`"rotate"`, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Path != "n1" {
		t.Fatalf("hits = %+v", hits)
	}
	if !strings.Contains(hits[0].Text, "Auth design") {
		t.Errorf("title missing from hit text: %q", hits[0].Text)
	}
}

func TestStore_StructureOverview(t *testing.T) {
	s := openTestStore(t)

	s.UpsertSymbol(Symbol{Name: "UserService", Kind: "type", Path: "src/auth.py", Line: 45})
	s.UpsertSymbol(Symbol{Name: "login", Kind: "method", Path: "src/auth.py", Line: 100})
	s.UpsertSymbol(Symbol{Name: "Session", Kind: "type", Path: "src/session.py", Line: 10})

	overview, err := s.StructureOverview(10)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(overview, "src/auth.py") || !strings.Contains(overview, "UserService") {
		t.Errorf("overview = %q", overview)
	}
	if !strings.Contains(overview, "src/session.py") {
		t.Errorf("overview missing second path: %q", overview)
	}
}

func TestContentHash_StableAndShort(t *testing.T) {
	a := ContentHash("same input")
	b := ContentHash("same input")
	c := ContentHash("different input")
	if a != b {
		t.Error("hash not deterministic")
	}
	if a == c {
		t.Error("different inputs collided")
	}
	if len(a) != 32 {
		t.Errorf("hash length = %d, want 32 hex chars", len(a))
	}
}

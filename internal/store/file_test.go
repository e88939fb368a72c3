package store

import (
	"context"
	"errors"
	"testing"

	"github.com/codelenshq/oracle/internal/convo"
)

func TestFileStore_RoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	cc := convo.NewContext("alice", "payments", 16000)
	cc.RecordDecision("use Redis for sessions")
	cc.RecentExchanges = []convo.Exchange{{Role: "user", Content: "hello", TokenCount: 2}}

	if err := fs.Save(ctx, cc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := fs.Load(ctx, "alice", "payments")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != cc.ID {
		t.Errorf("id = %s, want %s", loaded.ID, cc.ID)
	}
	if len(loaded.KeyDecisions) != 1 || loaded.KeyDecisions[0] != "use Redis for sessions" {
		t.Errorf("decisions = %v", loaded.KeyDecisions)
	}
	if len(loaded.RecentExchanges) != 1 {
		t.Errorf("exchanges = %d, want 1", len(loaded.RecentExchanges))
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	fs, _ := NewFileStore(t.TempDir())
	if _, err := fs.Load(context.Background(), "ghost", "nope"); !errors.Is(err, convo.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// User and project names normalize to the same session file regardless
// of case and punctuation.
func TestFileStore_NormalizedKeys(t *testing.T) {
	fs, _ := NewFileStore(t.TempDir())
	ctx := context.Background()

	cc := convo.NewContext("Alice", "My Project", 1000)
	if err := fs.Save(ctx, cc); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(ctx, "alice", "my project"); err != nil {
		t.Errorf("normalized load failed: %v", err)
	}
}

func TestFileStore_DeleteAndList(t *testing.T) {
	fs, _ := NewFileStore(t.TempDir())
	ctx := context.Background()

	fs.Save(ctx, convo.NewContext("alice", "a", 1000))
	fs.Save(ctx, convo.NewContext("bob", "b", 1000))

	list, err := fs.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %d, want 2", len(list))
	}

	if err := fs.Delete(ctx, "alice", "a"); err != nil {
		t.Fatal(err)
	}
	if list, _ := fs.List(ctx); len(list) != 1 {
		t.Errorf("list after delete = %d, want 1", len(list))
	}
	// Deleting a missing session is not an error.
	if err := fs.Delete(ctx, "alice", "a"); err != nil {
		t.Errorf("double delete: %v", err)
	}
}

package memory

import (
	"context"
	stdErrors "errors"
	"testing"

	"DDXF-Market/internal/storage"
)

func TestTxCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	backend := New()
	store := storage.New(backend)

	tx := store.Begin(ctx)
	if err := tx.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if v, err := tx.Get([]byte("a")); err != nil || string(v) != "1" {
		t.Fatalf("read own write: %q %v", v, err)
	}
	if _, err := store.Get(ctx, []byte("a")); !stdErrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("uncommitted write must be invisible, got %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if v, err := store.Get(ctx, []byte("a")); err != nil || string(v) != "1" {
		t.Fatalf("committed value: %q %v", v, err)
	}

	tx = store.Begin(ctx)
	_ = tx.Put([]byte("b"), []byte("2"))
	_ = tx.Delete([]byte("a"))
	if _, err := tx.Get([]byte("a")); !stdErrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("deleted key must be gone inside tx, got %v", err)
	}
	tx.Rollback()
	if _, err := store.Get(ctx, []byte("b")); !stdErrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rolled back write leaked: %v", err)
	}
	if v, err := store.Get(ctx, []byte("a")); err != nil || string(v) != "1" {
		t.Fatalf("rolled back delete leaked: %q %v", v, err)
	}
	if err := tx.Put([]byte("c"), nil); !stdErrors.Is(err, storage.ErrTxClosed) {
		t.Fatalf("expected closed tx error, got %v", err)
	}
}

func TestTxDeleteCommits(t *testing.T) {
	ctx := context.Background()
	backend := New()
	store := storage.New(backend)
	_ = backend.Apply(ctx, []storage.Op{{Key: []byte("k"), Value: []byte("v")}})

	tx := store.Begin(ctx)
	_ = tx.Delete([]byte("k"))
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if backend.Len() != 0 {
		t.Fatalf("expected empty backend, got %d keys", backend.Len())
	}
}

package local

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/driftpad/driftpad/internal/notes/schema"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(t.TempDir(), log.New(os.Stderr, "[test] ", 0))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func TestScopeIdempotent(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	if err := store.Scope(ctx, "alice"); err != nil {
		t.Fatalf("first scope failed: %v", err)
	}
	if err := store.Scope(ctx, "alice"); err != nil {
		t.Fatalf("second scope failed: %v", err)
	}

	if _, err := os.Stat(store.Path("alice")); err != nil {
		t.Errorf("expected database file at %s: %v", store.Path("alice"), err)
	}
}

func TestPutCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	note := schema.New("Groceries", "milk, eggs")
	stored, err := store.Put(ctx, "alice", note, "")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	if !strings.HasPrefix(stored.Rev, "1-") {
		t.Errorf("expected first-generation revision, got %s", stored.Rev)
	}

	got, err := store.Get(ctx, "alice", note.ID)
	if err != nil {
		t.Fatalf("failed to get note: %v", err)
	}
	if got.Title != "Groceries" || got.Content != "milk, eggs" || got.Rev != stored.Rev {
		t.Errorf("stored note mismatch: %+v", got)
	}
}

func TestPutExistingWithoutRevision(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	note := schema.New("dup", "")
	if _, err := store.Put(ctx, "alice", note, ""); err != nil {
		t.Fatalf("failed to create note: %v", err)
	}

	if _, err := store.Put(ctx, "alice", note, ""); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestPutStaleRevision(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	note := schema.New("contested", "v1")
	stored, err := store.Put(ctx, "alice", note, "")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}

	// First writer advances the revision.
	stored.Content = "v2"
	if _, err := store.Put(ctx, "alice", stored.Note, stored.Rev); err != nil {
		t.Fatalf("failed to update note: %v", err)
	}

	// Second writer still holds the old token.
	stored.Content = "v2-lost"
	if _, err := store.Put(ctx, "alice", stored.Note, stored.Rev); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	got, err := store.Get(ctx, "alice", note.ID)
	if err != nil {
		t.Fatalf("failed to get note: %v", err)
	}
	if got.Content != "v2" {
		t.Errorf("conflicting write must not land, got %q", got.Content)
	}
}

func TestPutAdvancesGeneration(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	stored, err := store.Create(ctx, "alice", "gen", "")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}

	updated, err := store.Put(ctx, "alice", stored.Note, stored.Rev)
	if err != nil {
		t.Fatalf("failed to update note: %v", err)
	}
	if !strings.HasPrefix(updated.Rev, "2-") {
		t.Errorf("expected second-generation revision, got %s", updated.Rev)
	}
	if updated.Rev == stored.Rev {
		t.Error("revision must change on every write")
	}
}

func TestPutRevisionedOnMissing(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	note := schema.New("ghost", "")
	if _, err := store.Put(ctx, "alice", note, "1-deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	if _, err := store.Get(ctx, "alice", "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetAllIncludesTombstones(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	kept, err := store.Create(ctx, "alice", "kept", "")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	doomed, err := store.Create(ctx, "alice", "doomed", "")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	if _, err := store.Delete(ctx, "alice", doomed.ID, doomed.Rev); err != nil {
		t.Fatalf("failed to delete note: %v", err)
	}

	notes, err := store.GetAll(ctx, "alice")
	if err != nil {
		t.Fatalf("failed to get all: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("tombstones must stay visible to GetAll, got %d notes", len(notes))
	}
	if notes[0].ID != kept.ID || notes[1].ID != doomed.ID {
		t.Errorf("expected storage order %s, %s; got %s, %s",
			kept.ID, doomed.ID, notes[0].ID, notes[1].ID)
	}
	if !notes[1].Deleted {
		t.Error("expected second note to be a tombstone")
	}
}

func TestDeleteMarksTombstone(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	stored, err := store.Create(ctx, "alice", "bye", "")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}

	deleted, err := store.Delete(ctx, "alice", stored.ID, stored.Rev)
	if err != nil {
		t.Fatalf("failed to delete note: %v", err)
	}
	if !deleted.Deleted {
		t.Error("expected tombstone flag")
	}
	if deleted.UpdatedAt < stored.UpdatedAt {
		t.Errorf("deletion must refresh the timestamp: %d -> %d", stored.UpdatedAt, deleted.UpdatedAt)
	}

	got, err := store.Get(ctx, "alice", stored.ID)
	if err != nil {
		t.Fatalf("tombstone must remain readable: %v", err)
	}
	if !got.Deleted {
		t.Error("expected tombstone flag after re-read")
	}
}

func TestDeleteWithStaleRevision(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	stored, err := store.Create(ctx, "alice", "safe", "")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	if _, err := store.Put(ctx, "alice", stored.Note, stored.Rev); err != nil {
		t.Fatalf("failed to update note: %v", err)
	}

	if _, err := store.Delete(ctx, "alice", stored.ID, stored.Rev); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	stored, err := store.Create(ctx, "alice", "private", "")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}

	if _, err := store.Get(ctx, "bob", stored.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("notes must not leak across users, got %v", err)
	}

	notes, err := store.GetAll(ctx, "bob")
	if err != nil {
		t.Fatalf("failed to get all for bob: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("expected empty scope for bob, got %d notes", len(notes))
	}
}

func TestInvalidUserID(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	for _, userID := range []string{"", "a/b", `a\b`, "../escape"} {
		if err := store.Scope(ctx, userID); err == nil {
			t.Errorf("expected user id %q to be rejected", userID)
		}
	}
}

func TestLastSyncRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	ts, err := store.LastSync(ctx, "alice")
	if err != nil {
		t.Fatalf("failed to read last sync: %v", err)
	}
	if ts != 0 {
		t.Errorf("expected 0 before any sync, got %d", ts)
	}

	if err := store.SetLastSync(ctx, "alice", 1234567890); err != nil {
		t.Fatalf("failed to set last sync: %v", err)
	}
	if err := store.SetLastSync(ctx, "alice", 1234567999); err != nil {
		t.Fatalf("failed to overwrite last sync: %v", err)
	}

	ts, err = store.LastSync(ctx, "alice")
	if err != nil {
		t.Fatalf("failed to read last sync: %v", err)
	}
	if ts != 1234567999 {
		t.Errorf("expected 1234567999, got %d", ts)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := log.New(os.Stderr, "[test] ", 0)

	store, err := Open(dir, logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	stored, err := store.Create(ctx, "alice", "persistent", "survives restarts")
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := Open(dir, logger)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "alice", stored.ID)
	if err != nil {
		t.Fatalf("note lost across reopen: %v", err)
	}
	if got.Content != "survives restarts" || got.Rev != stored.Rev {
		t.Errorf("reopened note mismatch: %+v", got)
	}
}

func TestNextRev(t *testing.T) {
	first := nextRev("")
	if !strings.HasPrefix(first, "1-") {
		t.Errorf("expected generation 1, got %s", first)
	}

	second := nextRev(first)
	if !strings.HasPrefix(second, "2-") {
		t.Errorf("expected generation 2, got %s", second)
	}

	// A malformed token restarts the sequence rather than failing.
	if got := nextRev("garbage"); !strings.HasPrefix(got, "1-") {
		t.Errorf("expected generation 1 for malformed token, got %s", got)
	}
}

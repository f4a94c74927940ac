// Package local provides the per-user embedded document store that backs
// offline editing.
//
// Each user gets an individual SQLite database file (notes_<user>.db) under
// the store's data directory, opened in WAL mode for concurrent reads. The
// store is the source of truth while offline; the sync coordinator moves
// documents between it and the shared remote store.
//
// Every successful write issues a fresh revision token. The token must be
// presented on the next write to the same id, which makes concurrent local
// writers fail fast with ErrConflict instead of silently clobbering each
// other. Revisions never leave this package's boundary: they are not pushed,
// pulled, or compared against the remote.
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/driftpad/driftpad/internal/notes/schema"
)

// Common errors returned by store operations.
//
// Check with errors.Is():
//
//	if errors.Is(err, local.ErrConflict) {
//	    // re-read the note and retry with the current revision
//	}
var (
	// ErrNotFound is returned by Get when no note has the given id.
	// For the pull merge this is not a failure: absence means "create".
	ErrNotFound = errors.New("note not found")

	// ErrConflict is returned by a revisioned write when the supplied
	// revision no longer matches the stored one.
	ErrConflict = errors.New("revision conflict")

	// ErrExists is returned by an unrevisioned write when the id is
	// already present. Callers must fetch-then-put to update.
	ErrExists = errors.New("note already exists")
)

// Store manages per-user note databases under a single data directory.
type Store struct {
	dir    string
	logger *log.Logger

	mu     sync.Mutex
	scopes map[string]*sql.DB
}

// Open creates a store rooted at dir, creating the directory if needed.
//
// If logger is nil, a default logger writing to stderr is used.
// The caller MUST call Close() when done.
func Open(dir string, logger *log.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[local] ", log.LstdFlags)
	}

	return &Store{
		dir:    dir,
		logger: logger,
		scopes: make(map[string]*sql.DB),
	}, nil
}

// Close closes every open per-user database, checkpointing WAL first.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for userID, conn := range s.scopes {
		if _, err := conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.logger.Printf("Warning: failed to checkpoint %s: %v", userID, err)
		}
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close store for %s: %w", userID, err)
		}
		delete(s.scopes, userID)
	}
	return firstErr
}

// Path returns the database file path for a user's scope.
// The file may not exist yet if the scope was never opened.
func (s *Store) Path(userID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("notes_%s.db", userID))
}

// Scope opens (creating if absent) the per-user database.
// It is idempotent and side-effect-free if the scope is already open.
func (s *Store) Scope(ctx context.Context, userID string) error {
	_, err := s.scope(ctx, userID)
	return err
}

// scope returns the open connection for a user, opening and initializing
// the database on first use.
func (s *Store) scope(ctx context.Context, userID string) (*sql.DB, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if conn, ok := s.scopes[userID]; ok {
		return conn, nil
	}

	conn, err := sql.Open("sqlite3", "file:"+s.Path(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to open store for %s: %w", userID, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store for %s: %w", userID, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := initSchema(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s.scopes[userID] = conn
	return conn, nil
}

// initSchema creates the note and meta tables. Idempotent.
func initSchema(ctx context.Context, conn *sql.DB) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		rev TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated_at);

	-- Single-scalar state, currently only the last successful sync time.
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// GetAll returns every note in the user's scope, including soft-deleted
// ones, in storage order. Callers that need timestamp order sort themselves.
func (s *Store) GetAll(ctx context.Context, userID string) ([]schema.StoredNote, error) {
	conn, err := s.scope(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT id, title, content, updated_at, deleted, rev FROM notes ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []schema.StoredNote
	for rows.Next() {
		var n schema.StoredNote
		var deleted int
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.UpdatedAt, &deleted, &n.Rev); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		n.Deleted = deleted != 0
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}

	return notes, nil
}

// Get returns a single note by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, userID, id string) (schema.StoredNote, error) {
	conn, err := s.scope(ctx, userID)
	if err != nil {
		return schema.StoredNote{}, err
	}

	var n schema.StoredNote
	var deleted int
	err = conn.QueryRowContext(ctx,
		`SELECT id, title, content, updated_at, deleted, rev FROM notes WHERE id = ?`, id).
		Scan(&n.ID, &n.Title, &n.Content, &n.UpdatedAt, &deleted, &n.Rev)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.StoredNote{}, fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return schema.StoredNote{}, fmt.Errorf("failed to get note %s: %w", id, err)
	}
	n.Deleted = deleted != 0

	return n, nil
}

// Put writes or overwrites a note.
//
// With rev == "" the call creates the document and fails with ErrExists if
// the id is already present. With a non-empty rev the call updates the
// document and fails with ErrConflict if rev is stale, or ErrNotFound if
// the document vanished. On success the note is returned with its new
// revision token.
func (s *Store) Put(ctx context.Context, userID string, note schema.Note, rev string) (schema.StoredNote, error) {
	if err := note.Validate(); err != nil {
		return schema.StoredNote{}, fmt.Errorf("invalid note: %w", err)
	}

	conn, err := s.scope(ctx, userID)
	if err != nil {
		return schema.StoredNote{}, err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return schema.StoredNote{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT rev FROM notes WHERE id = ?`, note.ID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if rev != "" {
			return schema.StoredNote{}, fmt.Errorf("note %s: %w", note.ID, ErrNotFound)
		}
		newRev := nextRev("")
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notes (id, title, content, updated_at, deleted, rev) VALUES (?, ?, ?, ?, ?, ?)`,
			note.ID, note.Title, note.Content, note.UpdatedAt, boolToInt(note.Deleted), newRev,
		); err != nil {
			return schema.StoredNote{}, fmt.Errorf("failed to insert note %s: %w", note.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return schema.StoredNote{}, fmt.Errorf("failed to commit: %w", err)
		}
		return schema.StoredNote{Note: note, Rev: newRev}, nil

	case err != nil:
		return schema.StoredNote{}, fmt.Errorf("failed to read revision for %s: %w", note.ID, err)
	}

	if rev == "" {
		return schema.StoredNote{}, fmt.Errorf("note %s: %w", note.ID, ErrExists)
	}
	if rev != current {
		return schema.StoredNote{}, fmt.Errorf("note %s: have %s, got %s: %w", note.ID, current, rev, ErrConflict)
	}

	newRev := nextRev(current)
	if _, err := tx.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, updated_at = ?, deleted = ?, rev = ? WHERE id = ?`,
		note.Title, note.Content, note.UpdatedAt, boolToInt(note.Deleted), newRev, note.ID,
	); err != nil {
		return schema.StoredNote{}, fmt.Errorf("failed to update note %s: %w", note.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return schema.StoredNote{}, fmt.Errorf("failed to commit: %w", err)
	}

	return schema.StoredNote{Note: note, Rev: newRev}, nil
}

// Create makes a new note with a fresh id and stores it.
func (s *Store) Create(ctx context.Context, userID, title, content string) (schema.StoredNote, error) {
	return s.Put(ctx, userID, schema.New(title, content), "")
}

// Delete soft-deletes a note under the usual revision check.
// The tombstone keeps its id and gets a fresh UpdatedAt so the deletion
// propagates on the next push.
func (s *Store) Delete(ctx context.Context, userID, id, rev string) (schema.StoredNote, error) {
	note, err := s.Get(ctx, userID, id)
	if err != nil {
		return schema.StoredNote{}, err
	}

	note.Deleted = true
	note.Touch()
	return s.Put(ctx, userID, note.Note, rev)
}

// validateUserID rejects identifiers that cannot safely name a database
// file. The id itself is opaque; auth owns its meaning.
func validateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if strings.ContainsAny(userID, `/\`) || strings.Contains(userID, "..") {
		return fmt.Errorf("user id %q contains path characters", userID)
	}
	return nil
}

// nextRev issues the revision token that follows prev.
//
// Tokens are "<generation>-<random>"; the generation increases on every
// write so stale tokens are cheap to reject, and the random suffix keeps
// tokens from colliding across divergent histories.
func nextRev(prev string) string {
	gen := 0
	if prev != "" {
		if i := strings.IndexByte(prev, '-'); i > 0 {
			if n, err := strconv.Atoi(prev[:i]); err == nil {
				gen = n
			}
		}
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", gen+1, suffix)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

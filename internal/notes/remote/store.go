// Package remote provides the shared multi-tenant note store backed by
// Postgres.
//
// All of a user's devices converge on one notes table; every query is
// scoped by owner_id and soft-deleted rows never leave this package through
// the active query. Upsert is deliberately unconditional: the last device
// to push wins at the row level, regardless of which updated_at is larger.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftpad/driftpad/internal/notes/schema"
)

// Errors reported by remote operations, checked with errors.Is().
var (
	// ErrUnavailable covers network failures, timeouts, and any other
	// condition where the remote could not be reached or did not answer.
	ErrUnavailable = errors.New("remote store unavailable")

	// ErrRejected means the remote answered and refused the write,
	// e.g. a schema or constraint violation. Retrying the same payload
	// will not help.
	ErrRejected = errors.New("remote store rejected request")
)

// Store is a per-user view over the shared notes table.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the remote store using a Postgres DSN.
//
// The connection is verified with a ping before returning.
// The caller MUST call Close() when done.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid remote DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping remote: %w", classify(err))
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the remote is reachable. The connectivity monitor
// uses this as its probe.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("remote ping failed: %w", classify(err))
	}
	return nil
}

// InitSchema creates the notes table if it doesn't exist. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		updated_at BIGINT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_notes_owner_active ON notes(owner_id) WHERE deleted = FALSE;
	`

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize remote schema: %w", classify(err))
	}
	return nil
}

// Upsert writes rows to the shared table in a single batch, keyed by id.
//
// Rows that exist are overwritten unconditionally, no matter which side's
// updated_at is larger. An empty slice is a no-op.
func (s *Store) Upsert(ctx context.Context, rows []schema.Row) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
	INSERT INTO notes (id, owner_id, title, content, updated_at, deleted)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		title = excluded.title,
		content = excluded.content,
		updated_at = excluded.updated_at,
		deleted = excluded.deleted
	`

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, row.ID, row.OwnerID, row.Title, row.Content, row.UpdatedAt, row.Deleted)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert notes: %w", classify(err))
		}
	}
	return nil
}

// QueryActive returns every non-deleted row owned by ownerID.
//
// There is no pagination: the engine assumes a user's full working set
// fits in one response. That is a documented scale limit, not a bug.
func (s *Store) QueryActive(ctx context.Context, ownerID string) ([]schema.Row, error) {
	rows, err := s.pool.Query(ctx, `
	SELECT id, owner_id, title, content, updated_at, deleted
	FROM notes
	WHERE owner_id = $1 AND deleted = FALSE
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes for %s: %w", ownerID, classify(err))
	}
	defer rows.Close()

	var result []schema.Row
	for rows.Next() {
		var r schema.Row
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Title, &r.Content, &r.UpdatedAt, &r.Deleted); err != nil {
			return nil, fmt.Errorf("failed to scan note row: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating note rows: %w", classify(err))
	}

	return result, nil
}

// classify maps a driver error onto the package's two error kinds.
//
// Postgres errors that indicate the statement itself was refused become
// ErrRejected; everything else, including timeouts and dead connections,
// becomes ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsIntegrityConstraintViolation(pgErr.Code),
			pgerrcode.IsDataException(pgErr.Code),
			pgerrcode.IsSyntaxErrororAccessRuleViolation(pgErr.Code):
			return fmt.Errorf("%v: %w", err, ErrRejected)
		}
	}
	return fmt.Errorf("%v: %w", err, ErrUnavailable)
}

package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

const lastSyncKey = "notes_last_sync"

// LastSync returns the epoch-millisecond timestamp of the user's last
// fully successful sync, or 0 if no sync has completed yet.
//
// The value is a hook for future incremental sync: the coordinator stamps
// it but never gates its pull query with it. Full-set pull remains the
// contract.
func (s *Store) LastSync(ctx context.Context, userID string) (int64, error) {
	conn, err := s.scope(ctx, userID)
	if err != nil {
		return 0, err
	}

	var value string
	err = conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, lastSyncKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read last sync: %w", err)
	}

	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt last sync value %q: %w", value, err)
	}
	return ts, nil
}

// SetLastSync records the timestamp of a fully successful sync.
func (s *Store) SetLastSync(ctx context.Context, userID string, ts int64) error {
	conn, err := s.scope(ctx, userID)
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, `
	INSERT INTO meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, lastSyncKey, strconv.FormatInt(ts, 10))
	if err != nil {
		return fmt.Errorf("failed to record last sync: %w", err)
	}
	return nil
}

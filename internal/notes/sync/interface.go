package sync

import (
	"context"
	"time"

	"github.com/driftpad/driftpad/internal/notes/schema"
)

// LocalStore is the slice of the per-user document store the coordinator
// needs. *local.Store satisfies it.
type LocalStore interface {
	// GetAll returns every document in the user's scope, including
	// soft-deleted tombstones, with revisions.
	GetAll(ctx context.Context, userID string) ([]schema.StoredNote, error)

	// Get returns one document or an error matching local.ErrNotFound.
	// Absence is load-bearing for the pull merge: it means "create".
	Get(ctx context.Context, userID, id string) (schema.StoredNote, error)

	// Put writes a document. rev == "" creates; a non-empty rev must
	// match the stored revision or the write fails with an error
	// matching local.ErrConflict.
	Put(ctx context.Context, userID string, note schema.Note, rev string) (schema.StoredNote, error)

	// SetLastSync records the completion time of a successful pass.
	SetLastSync(ctx context.Context, userID string, ts int64) error
}

// RemoteStore is the slice of the shared store the coordinator needs.
// *remote.Store satisfies it.
type RemoteStore interface {
	// Upsert writes rows keyed by id, overwriting existing rows
	// unconditionally.
	Upsert(ctx context.Context, rows []schema.Row) error

	// QueryActive returns every non-deleted row owned by ownerID.
	QueryActive(ctx context.Context, ownerID string) ([]schema.Row, error)
}

// Stats summarizes one sync pass for callers that report outcomes.
type Stats struct {
	// Pushed is the number of local documents sent in the push batch.
	Pushed int

	// Pulled is the number of remote rows written into the local store.
	Pulled int

	// Skipped is the number of remote rows left alone because the local
	// document was at least as new.
	Skipped int

	// Conflicts is the number of pulled documents dropped from this pass
	// because a concurrent local edit invalidated their revision.
	Conflicts int

	// Duration is the wall time of the pass.
	Duration time.Duration
}

// Coordinator reconciles one user's local store with the remote store.
//
// Sync is safe to call concurrently for the same user: passes serialize on
// a per-user lock. There is no internal retry; callers decide when to sync
// again.
type Coordinator interface {
	// Sync runs push then pull for the user. Pull never starts before
	// push's network call has resolved; a push failure aborts the pass
	// with an error wrapping ErrSyncFailed and local state untouched.
	Sync(ctx context.Context, userID string) (Stats, error)

	// Push propagates every local document to the remote store in one
	// batched upsert. An empty local set is a no-op.
	Push(ctx context.Context, userID string) (Stats, error)

	// Pull fetches the user's active remote rows and merges them into
	// the local store with per-document last-writer-wins. A failed fetch
	// aborts with no local mutation.
	Pull(ctx context.Context, userID string) (Stats, error)
}

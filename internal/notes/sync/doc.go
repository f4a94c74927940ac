// Package sync provides the reconciliation protocol between the per-user
// local note store and the shared remote store.
//
// Overview
//
// A sync pass runs exactly two phases, strictly in order:
//
//	Local store (offline source of truth)
//	     │
//	     │  Push: every local note → one batched remote upsert
//	     ▼
//	Remote store (shared, multi-device)
//	     │
//	     │  Pull: active remote rows → per-document timestamp merge
//	     ▼
//	Local store
//
// Push is unconditional on the remote side: rows are overwritten regardless
// of which updated_at is larger, so the last device to push wins remotely.
// Pull is timestamp-gated per document: a remote row replaces the local
// document only when its updated_at is strictly greater, which means ties
// favor the local copy. Documents are replaced whole; fields are never
// merged individually.
//
// Failure semantics
//
// A push failure aborts the whole pass before pull starts; the error wraps
// ErrSyncFailed and no local state changes. A failed pull query likewise
// aborts with no local mutation. A revision conflict while writing one
// pulled document (a local edit raced the pass) fails only that document:
// it is logged, skipped, and the pass continues.
//
// Concurrency
//
// Sync passes for the same user are serialized with a per-user lock, so
// overlapping triggers queue up instead of interleaving. Each pulled
// document's local copy is re-read immediately before the write, and the
// write carries that revision, so an edit landing between read and write
// is detected rather than lost. Different users' passes are independent.
//
// Usage
//
//	store, err := local.Open(dataDir, nil)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	shared, err := remote.Open(ctx, dsn)
//	if err != nil {
//	    return err
//	}
//	defer shared.Close()
//
//	coord := sync.New(store, shared, nil)
//	stats, err := coord.Sync(ctx, userID)
package sync

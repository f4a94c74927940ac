package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/driftpad/driftpad/internal/notes/local"
	"github.com/driftpad/driftpad/internal/notes/schema"
)

// ErrSyncFailed is wrapped by every error Sync returns, so callers can
// treat any failed pass uniformly. Local data stays fully usable offline
// regardless of sync outcome.
var ErrSyncFailed = errors.New("sync failed")

// Config holds coordinator configuration.
type Config struct {
	// NetworkTimeout bounds each remote call (the push upsert and the
	// pull query). A timeout is the corresponding phase's failure.
	NetworkTimeout time.Duration

	// Logger for sync activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NetworkTimeout: 15 * time.Second,
		Logger:         log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// coordinator implements the Coordinator interface.
type coordinator struct {
	local  LocalStore
	remote RemoteStore
	config *Config

	mu    stdsync.Mutex
	locks map[string]*stdsync.Mutex // per-user serialization
}

// New creates a Coordinator with default configuration.
// If logger is nil, a default logger writing to stderr is used.
func New(localStore LocalStore, remoteStore RemoteStore, logger *log.Logger) Coordinator {
	cfg := DefaultConfig()
	if logger != nil {
		cfg.Logger = logger
	}
	return NewWithConfig(localStore, remoteStore, cfg)
}

// NewWithConfig creates a Coordinator with custom configuration.
func NewWithConfig(localStore LocalStore, remoteStore RemoteStore, config *Config) Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if config.NetworkTimeout <= 0 {
		config.NetworkTimeout = DefaultConfig().NetworkTimeout
	}

	return &coordinator{
		local:  localStore,
		remote: remoteStore,
		config: config,
		locks:  make(map[string]*stdsync.Mutex),
	}
}

// userLock returns the serialization lock for one user, creating it on
// first use.
func (c *coordinator) userLock(userID string) *stdsync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[userID]
	if !ok {
		l = &stdsync.Mutex{}
		c.locks[userID] = l
	}
	return l
}

// Sync implements Coordinator.Sync.
func (c *coordinator) Sync(ctx context.Context, userID string) (Stats, error) {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	pushStats, err := c.push(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: push phase: %w", ErrSyncFailed, err)
	}

	pullStats, err := c.pull(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: pull phase: %w", ErrSyncFailed, err)
	}

	stats := Stats{
		Pushed:    pushStats.Pushed,
		Pulled:    pullStats.Pulled,
		Skipped:   pullStats.Skipped,
		Conflicts: pullStats.Conflicts,
		Duration:  time.Since(start),
	}

	if err := c.local.SetLastSync(ctx, userID, schema.NowMillis()); err != nil {
		// The pass itself succeeded; the stamp is an accelerator hook,
		// not part of the reconciliation contract.
		c.config.Logger.Printf("Warning: failed to record last sync for %s: %v", userID, err)
	}

	c.config.Logger.Printf("Sync complete for %s: pushed=%d pulled=%d skipped=%d conflicts=%d in %v",
		userID, stats.Pushed, stats.Pulled, stats.Skipped, stats.Conflicts,
		stats.Duration.Round(time.Millisecond))

	return stats, nil
}

// Push implements Coordinator.Push.
func (c *coordinator) Push(ctx context.Context, userID string) (Stats, error) {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return c.push(ctx, userID)
}

// Pull implements Coordinator.Pull.
func (c *coordinator) Pull(ctx context.Context, userID string) (Stats, error) {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return c.pull(ctx, userID)
}

// push maps every local document to a remote row and sends one batched
// upsert. The caller must hold the user lock.
func (c *coordinator) push(ctx context.Context, userID string) (Stats, error) {
	start := time.Now()

	notes, err := c.local.GetAll(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read local notes: %w", err)
	}
	if len(notes) == 0 {
		return Stats{Duration: time.Since(start)}, nil
	}

	rows := make([]schema.Row, 0, len(notes))
	for _, note := range notes {
		rows = append(rows, note.ToRow(userID))
	}

	tctx, cancel := context.WithTimeout(ctx, c.config.NetworkTimeout)
	defer cancel()

	if err := c.remote.Upsert(tctx, rows); err != nil {
		return Stats{}, fmt.Errorf("failed to upsert %d notes: %w", len(rows), err)
	}

	return Stats{Pushed: len(rows), Duration: time.Since(start)}, nil
}

// pull fetches the active remote set and merges it document by document.
// The caller must hold the user lock.
func (c *coordinator) pull(ctx context.Context, userID string) (Stats, error) {
	start := time.Now()

	tctx, cancel := context.WithTimeout(ctx, c.config.NetworkTimeout)
	rows, err := c.remote.QueryActive(tctx, userID)
	cancel()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query remote notes: %w", err)
	}

	stats := Stats{}
	for _, row := range rows {
		switch applied, err := c.mergeRow(ctx, userID, row); {
		case errors.Is(err, local.ErrConflict):
			// A local edit raced this pass. Local wins; only this
			// document drops out.
			c.config.Logger.Printf("Warning: skipping %s: local edit during pull: %v", row.ID, err)
			stats.Conflicts++
		case err != nil:
			return stats, fmt.Errorf("failed to merge note %s: %w", row.ID, err)
		case applied:
			stats.Pulled++
		default:
			stats.Skipped++
		}
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// mergeRow applies last-writer-wins for a single remote row.
//
// The local document is read immediately before the write so the revision
// carried into Put reflects the latest local state. Reports whether the
// row was written locally.
func (c *coordinator) mergeRow(ctx context.Context, userID string, row schema.Row) (bool, error) {
	current, err := c.local.Get(ctx, userID, row.ID)
	if errors.Is(err, local.ErrNotFound) {
		if _, err := c.local.Put(ctx, userID, row.ToNote(), ""); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	// Strict comparison: equal timestamps leave the local copy alone.
	if row.UpdatedAt <= current.UpdatedAt {
		return false, nil
	}

	if _, err := c.local.Put(ctx, userID, row.ToNote(), current.Rev); err != nil {
		return false, err
	}
	return true, nil
}

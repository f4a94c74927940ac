// Package daemon runs the connectivity-triggered scheduling around the
// sync coordinator.
//
// The daemon serves one user session. It:
//  1. Runs a sync pass at startup (the session-started event)
//  2. Probes the remote and runs a pass on every offline→online transition
//  3. Watches the user's local database file and, while online, schedules
//     a debounced pass after local edits
//  4. Handles graceful shutdown
//
// Overlapping triggers are safe: passes for the same user serialize inside
// the coordinator. A pass's own local writes can re-trigger the watcher
// once; the follow-up pass finds nothing to do.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	notesync "github.com/driftpad/driftpad/internal/notes/sync"
)

// Notifier receives daemon events, e.g. for a status dashboard.
// All methods are called from daemon goroutines and must not block.
type Notifier interface {
	// OnSyncComplete is called after every pass, failed or not.
	OnSyncComplete(userID string, stats notesync.Stats, err error)

	// OnConnectivity is called on every online/offline transition.
	OnConnectivity(online bool)
}

// Config holds configuration for the daemon.
type Config struct {
	// ProbeInterval is how often connectivity is checked.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single connectivity probe.
	ProbeTimeout time.Duration

	// DebounceInterval is how long to wait after a local change before
	// scheduling a pass. This batches rapid edits together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger

	// Notifier receives daemon events. Optional.
	Notifier Notifier
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval:    10 * time.Second,
		ProbeTimeout:     3 * time.Second,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates connectivity monitoring and sync triggering for one
// user.
type Daemon struct {
	coord     notesync.Coordinator
	monitor   *Monitor
	userID    string
	dataDir   string
	storeFile string // base name of the user's database file
	config    *Config

	watcher *fsnotify.Watcher

	changeMu  sync.Mutex
	changedAt time.Time
	dirty     bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon for one user.
//
// storePath is the user's local database file (local.Store.Path); its
// directory is watched and events for other files are ignored.
func New(coord notesync.Coordinator, prober Prober, storePath, userID string, config *Config) (*Daemon, error) {
	if coord == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if prober == nil {
		return nil, fmt.Errorf("prober cannot be nil")
	}
	if storePath == "" {
		return nil, fmt.Errorf("storePath cannot be empty")
	}
	if userID == "" {
		return nil, fmt.Errorf("userID cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Daemon{
		coord:     coord,
		monitor:   NewMonitor(prober, config.ProbeInterval, config.ProbeTimeout, config.Logger),
		userID:    userID,
		dataDir:   filepath.Dir(storePath),
		storeFile: filepath.Base(storePath),
		config:    config,
		watcher:   watcher,
	}, nil
}

// Start begins the daemon's operation. It blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon for %s", d.userID)

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.monitor.Start(ctx); err != nil {
		cancel()
		return err
	}

	// Session-started trigger. A failure here is reported, not fatal:
	// local data stays usable and the next online edge retries.
	d.runSync(ctx, "startup")

	if err := d.watcher.Add(d.dataDir); err != nil {
		d.monitor.Stop()
		cancel()
		return fmt.Errorf("failed to watch %s: %w", d.dataDir, err)
	}

	d.wg.Add(3)
	go d.watchFileEvents(ctx)
	go d.processChanges(ctx)
	go d.watchConnectivity(ctx)

	<-ctx.Done()
	return d.stop()
}

// stop shuts down goroutines and the watcher.
func (d *Daemon) stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.monitor.Stop()
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// runSync executes one pass and reports the outcome.
func (d *Daemon) runSync(ctx context.Context, reason string) {
	stats, err := d.coord.Sync(ctx, d.userID)
	if err != nil {
		d.config.Logger.Printf("Sync (%s) failed: %v", reason, err)
	} else {
		d.config.Logger.Printf("Sync (%s): pushed=%d pulled=%d skipped=%d",
			reason, stats.Pushed, stats.Pulled, stats.Skipped)
	}

	if d.config.Notifier != nil {
		d.config.Notifier.OnSyncComplete(d.userID, stats, err)
	}
}

// watchConnectivity syncs on every offline→online edge.
func (d *Daemon) watchConnectivity(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case online, ok := <-d.monitor.Events():
			if !ok {
				return
			}
			if d.config.Notifier != nil {
				d.config.Notifier.OnConnectivity(online)
			}
			if online {
				d.runSync(ctx, "reconnect")
			}
		}
	}
}

// watchFileEvents marks the user's store dirty on relevant file writes.
func (d *Daemon) watchFileEvents(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// SQLite in WAL mode touches the -wal/-shm siblings on
			// most writes, so match the base name as a prefix.
			if !strings.HasPrefix(filepath.Base(event.Name), d.storeFile) {
				continue
			}
			d.queueChange()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange() {
	d.changeMu.Lock()
	defer d.changeMu.Unlock()

	d.dirty = true
	d.changedAt = time.Now()
}

// processChanges turns a quiet period after local edits into a sync pass,
// but only while online; offline edits wait for the reconnect trigger.
func (d *Daemon) processChanges(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			d.changeMu.Lock()
			due := d.dirty && time.Since(d.changedAt) >= d.config.DebounceInterval
			if due {
				d.dirty = false
			}
			d.changeMu.Unlock()

			if due && d.monitor.IsOnline() {
				d.runSync(ctx, "local change")
			}
		}
	}
}

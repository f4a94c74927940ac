package daemon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Prober answers whether the remote store is currently reachable.
// *remote.Store satisfies it through its Ping method.
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor polls a Prober and emits an event on every connectivity
// transition. It is edge-triggered: steady online or steady offline
// produces nothing.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger

	events chan bool // true = went online, false = went offline
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	online  bool
}

// NewMonitor creates a monitor that probes at the given interval, bounding
// each probe by timeout. If logger is nil, events are not logged.
func NewMonitor(prober Prober, interval, timeout time.Duration, logger *log.Logger) *Monitor {
	return &Monitor{
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		events:   make(chan bool, 8),
		done:     make(chan struct{}),
	}
}

// Start establishes the connectivity baseline with one synchronous probe,
// then begins polling. The baseline itself is not emitted as an event;
// only transitions away from it are.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	m.mu.Unlock()

	m.online = m.probe(ctx)

	m.wg.Add(1)
	go m.loop(ctx)
	return nil
}

// Stop halts polling and closes the event channel.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
	close(m.events)
}

// Events returns the transition channel. A true value means the remote
// just became reachable; false means it was lost.
func (m *Monitor) Events() <-chan bool {
	return m.events
}

// IsOnline reports the most recent probe result.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return

		case <-ticker.C:
			online := m.probe(ctx)

			m.mu.Lock()
			changed := online != m.online
			m.online = online
			m.mu.Unlock()

			if !changed {
				continue
			}
			if m.logger != nil {
				if online {
					m.logger.Printf("Connectivity restored")
				} else {
					m.logger.Printf("Connectivity lost")
				}
			}

			select {
			case m.events <- online:
			case <-m.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	tctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.prober.Ping(tctx) == nil
}

package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/kekpa/swap-core/internal/bus"
	"go.uber.org/zap"
)

// State is the device's reachability as seen by the core.
type State string

const (
	// Offline: no network interface is up.
	Offline State = "offline"
	// OnlineUnreachable: an interface is up but the backend cannot be reached.
	OnlineUnreachable State = "online_unreachable"
	// OnlineReachable: the backend answers.
	OnlineReachable State = "online_reachable"
)

// Probe reports the current reachability. Injected; the monitor performs
// no network I/O of its own.
type Probe func(ctx context.Context) State

// Change is the payload published on connectivity transitions.
type Change struct {
	From State
	To   State
}

// Monitor polls the probe, debounces flapping and fans observed
// transitions out to registered callbacks. When reachability is regained
// it fires one-shot catch-up signals consumed by the refresh managers and
// the outbox sweeper; the monitor itself moves no data.
type Monitor struct {
	probe    Probe
	interval time.Duration
	hold     time.Duration
	bus      *bus.Bus
	logger   *zap.Logger

	mu        sync.Mutex
	state     State
	pending   State
	holdTimer *time.Timer
	nextID    uint64
	onChange  []registration[func(State)]
	onCatchUp []registration[func()]
	cancel    context.CancelFunc
}

type registration[T any] struct {
	id uint64
	fn T
}

// NewMonitor creates a monitor starting in the Offline state. hold is the
// debounce window; a probe result must persist that long before the state
// commits.
func NewMonitor(probe Probe, interval, hold time.Duration, b *bus.Bus, logger *zap.Logger) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		hold:     hold,
		bus:      b,
		logger:   logger,
		state:    Offline,
		pending:  Offline,
	}
}

// State returns the committed reachability state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OfflineMode reports whether the core should behave as offline, which
// covers both no-network and backend-unreachable.
func (m *Monitor) OfflineMode() bool {
	return m.State() != OnlineReachable
}

// OnChange registers a transition callback and returns its id.
func (m *Monitor) OnChange(fn func(State)) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.onChange = append(m.onChange, registration[func(State)]{id: id, fn: fn})
	return id
}

// RemoveOnChange unregisters a transition callback.
func (m *Monitor) RemoveOnChange(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.onChange {
		if r.id == id {
			m.onChange = append(m.onChange[:i:i], m.onChange[i+1:]...)
			return
		}
	}
}

// OnCatchUp registers a callback fired once per recovery to reachable.
func (m *Monitor) OnCatchUp(fn func()) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.onCatchUp = append(m.onCatchUp, registration[func()]{id: id, fn: fn})
	return id
}

// RemoveCatchUp unregisters a catch-up callback.
func (m *Monitor) RemoveCatchUp(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.onCatchUp {
		if r.id == id {
			m.onCatchUp = append(m.onCatchUp[:i:i], m.onCatchUp[i+1:]...)
			return
		}
	}
}

// Start begins the probe loop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.Observe(m.probe(ctx))
		for {
			select {
			case <-ticker.C:
				m.Observe(m.probe(ctx))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts probing and clears the pending debounce timer so it cannot
// fire against torn-down state.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.holdTimer != nil {
		m.holdTimer.Stop()
		m.holdTimer = nil
	}
	m.mu.Unlock()
}

// Observe feeds one probe result through the debounce. Exported so event
// sources other than the poll loop (OS reachability callbacks) can drive
// the monitor.
func (m *Monitor) Observe(next State) {
	m.mu.Lock()
	if next == m.state {
		// Result agrees with the committed state; discard any pending flip.
		m.pending = next
		if m.holdTimer != nil {
			m.holdTimer.Stop()
			m.holdTimer = nil
		}
		m.mu.Unlock()
		return
	}
	if next == m.pending && m.holdTimer != nil {
		// Flip already pending; let the running timer decide.
		m.mu.Unlock()
		return
	}
	m.pending = next
	if m.holdTimer != nil {
		m.holdTimer.Stop()
	}
	if m.hold <= 0 {
		m.holdTimer = nil
		m.commitLocked(next)
		return // commitLocked unlocks
	}
	m.holdTimer = time.AfterFunc(m.hold, func() {
		m.mu.Lock()
		if m.pending != next {
			m.mu.Unlock()
			return
		}
		m.holdTimer = nil
		m.commitLocked(next)
	})
	m.mu.Unlock()
}

// commitLocked finalizes a transition. Called with the lock held; unlocks
// before running callbacks so handlers can re-enter the monitor.
func (m *Monitor) commitLocked(next State) {
	from := m.state
	m.state = next
	change := make([]func(State), 0, len(m.onChange))
	for _, r := range m.onChange {
		change = append(change, r.fn)
	}
	var catchUp []func()
	if next == OnlineReachable && from != OnlineReachable {
		catchUp = make([]func(), 0, len(m.onCatchUp))
		for _, r := range m.onCatchUp {
			catchUp = append(catchUp, r.fn)
		}
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed", zap.String("from", string(from)), zap.String("to", string(next)))
	for _, fn := range change {
		fn(next)
	}
	for _, fn := range catchUp {
		fn()
	}
	if m.bus != nil {
		m.bus.Emit(bus.ConnectivityChanged, Change{From: from, To: next})
	}
}

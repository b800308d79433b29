// Package reconnect implements the ReconnectionMonitor of spec §4.5: an
// observer registry plus a START/HALT control that the ConnectionState
// lifecycle drives, which in turn tells every registered subscription to
// re-run its _startSubscription action.
package reconnect

import (
	"sync"

	"go.uber.org/zap"
)

// Action is a subscription's re-subscribe hook (its _startSubscription in
// spec terms), registered once per subscription id.
type Action func()

// Monitor is the ReconnectionMonitor.
type Monitor struct {
	mu      sync.Mutex
	actions map[string]Action
	started bool
	closed  bool
	log     *zap.Logger
}

// New returns a halted Monitor.
func New(log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{actions: make(map[string]Action), log: log}
}

// Register adds id's re-subscribe action. If the monitor is already in
// the START_RECONNECT phase, the action fires immediately so a
// subscription created mid-reconnect does not miss the current wave.
func (m *Monitor) Register(id string, action Action) {
	m.mu.Lock()
	m.actions[id] = action
	started := m.started
	m.mu.Unlock()

	if started {
		action()
	}
}

// Unregister removes id's action, e.g. on teardown.
func (m *Monitor) Unregister(id string) {
	m.mu.Lock()
	delete(m.actions, id)
	m.mu.Unlock()
}

// Start is the START_RECONNECT event: every currently registered action
// fires once. Spec §4.5 describes repeated notification "on a short
// cadence as backoff permits"; here that cadence is owned by each
// subscription's own retry loop (internal/retry), so Start need only
// kick off one wave per call — callers (the provider) call Start again
// whenever ConnectionStateMonitor re-enters ConnectionDisrupted.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	actions := make([]Action, 0, len(m.actions))
	for _, a := range m.actions {
		actions = append(actions, a)
	}
	m.mu.Unlock()

	m.log.Info("reconnect: START_RECONNECT", zap.Int("subscriptions", len(actions)))
	for _, a := range actions {
		a()
	}
}

// Halt is the HALT_RECONNECT event: stops further notification until the
// next Start.
func (m *Monitor) Halt() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()
	m.log.Debug("reconnect: HALT_RECONNECT")
}

// Close is the irrevocable shutdown: no further Start or Register
// actions take effect. Safe to call more than once.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.started = false
	m.actions = make(map[string]Action)
	m.mu.Unlock()
}

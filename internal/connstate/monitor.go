package connstate

import (
	"sync"

	"go.uber.org/zap"
)

// Monitor is the ConnectionStateMonitor of spec §4.2. It holds the current
// ConnectionState, accepts events via Dispatch, and fans out every
// distinct state out to subscribers in the order transitions occurred —
// two observers that subscribe at the same logical instant observe the
// same sequence from that point forward, satisfying the monotonic
// ordering guarantee in §4.2.
type Monitor struct {
	mu       sync.Mutex
	current  ConnectionState
	subs     map[int]chan ConnectionState
	nextSub  int
	log      *zap.Logger
}

// New returns a Monitor starting in Disconnected.
func New(log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		current: Disconnected,
		subs:    make(map[int]chan ConnectionState),
		log:     log,
	}
}

// Current returns the monitor's current published state.
func (m *Monitor) Current() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Dispatch feeds event into the state machine. If it yields a new state,
// the new state is published to every subscriber; duplicate projections
// (event has no effect, or resolves back to the same state) are
// suppressed per §3's "duplicates suppressed" invariant.
func (m *Monitor) Dispatch(event Event) {
	m.mu.Lock()
	to, ok := next(m.current, event)
	if !ok {
		from := m.current
		m.mu.Unlock()
		m.log.Debug("connstate: event ignored", zap.Stringer("event", event), zap.Stringer("state", from))
		return
	}
	changed := to != m.current
	m.current = to
	var chans []chan ConnectionState
	if changed {
		chans = make([]chan ConnectionState, 0, len(m.subs))
		for _, ch := range m.subs {
			chans = append(chans, ch)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	m.log.Info("connstate: transition", zap.Stringer("event", event), zap.Stringer("to", to))
	for _, ch := range chans {
		select {
		case ch <- to:
		default:
			// Slow subscriber: drop rather than block the actor (spec §5,
			// no backpressure is modeled at this layer). The subscriber's
			// channel is sized so this only triggers under pathological
			// consumption; Subscribe documents the buffer size.
		}
	}
}

// Subscribe returns a channel that receives every published ConnectionState
// from this point on, and an unsubscribe function. The channel is buffered
// (16 states) so a slow consumer does not stall the monitor's actor.
func (m *Monitor) Subscribe() (<-chan ConnectionState, func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan ConnectionState, 16)
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		if existing, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(existing)
		}
		m.mu.Unlock()
	}
}

// IsConnected reports whether the current state is one of the "socket is
// up" variants.
func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.connected()
}

package realtime

import (
	"encoding/json"
	"sync"

	"github.com/go-appsync/realtime/internal/clock"
)

// Observer is the sink a subscription's caller receives values through
// (spec §3: "observer: sink with next/error/complete").
type Observer interface {
	// Next delivers one server data payload for this subscription.
	Next(data json.RawMessage)
	// Error terminates the stream with an error; no further Next calls
	// follow. Complete follows Error only when Subscription.Start rejects
	// the subscription before activation (invalid options or a closed
	// provider).
	Error(err error)
	// Complete terminates the stream normally; no further Next or Error
	// calls follow.
	Complete()
}

// subscriptionState is one of {PENDING, CONNECTED, FAILED} (spec §3).
type subscriptionState int

const (
	statePending subscriptionState = iota
	stateConnected
	stateFailed
)

func (s subscriptionState) String() string {
	switch s {
	case statePending:
		return "PENDING"
	case stateConnected:
		return "CONNECTED"
	case stateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// subscriptionEntry is one per logical subscription, keyed by id (spec
// §3 SubscriptionEntry).
type subscriptionEntry struct {
	mu sync.Mutex

	id        string
	observer  Observer
	query     string
	variables map[string]interface{}
	opts      SubscribeOptions

	state subscriptionState

	startAckDeadline clock.Handle

	// readyCallback/failedCallback are one-shot resolvers synchronizing
	// teardown with an in-flight start (spec §3, §5, §9 open question:
	// "always preserve the pending callbacks when rewriting the entry").
	readyCallback  func()
	failedCallback func(err error)

	// starting guards against overlapping _startSubscription calls for
	// this id (spec §4.3).
	starting bool

	// terminated marks that the observer has already received a terminal
	// call (Error or Complete), so repeated teardown/terminal events are
	// no-ops (spec §8 invariant 7: idempotent teardown).
	terminated bool
}

func newSubscriptionEntry(id string, opts SubscribeOptions) *subscriptionEntry {
	return &subscriptionEntry{
		id:        id,
		observer:  opts.Observer,
		query:     opts.Query,
		variables: opts.Variables,
		opts:      opts,
		state:     statePending,
	}
}

// waitConnected blocks the caller goroutine until the entry reaches
// CONNECTED or FAILED, used by teardown (spec §4.3 teardown: "Awaits the
// entry reaching CONNECTED (or being failed)"). It must be called
// without holding e.mu.
func (e *subscriptionEntry) waitConnected() (connected bool) {
	ready := make(chan struct{})
	failed := make(chan struct{})

	e.mu.Lock()
	switch e.state {
	case stateConnected:
		e.mu.Unlock()
		return true
	case stateFailed:
		e.mu.Unlock()
		return false
	}
	prevReady := e.readyCallback
	prevFailed := e.failedCallback
	e.readyCallback = func() {
		if prevReady != nil {
			prevReady()
		}
		close(ready)
	}
	e.failedCallback = func(error) {
		if prevFailed != nil {
			prevFailed(nil)
		}
		select {
		case <-failed:
		default:
			close(failed)
		}
	}
	e.mu.Unlock()

	select {
	case <-ready:
		return true
	case <-failed:
		return false
	}
}

// markConnected transitions PENDING->CONNECTED (spec §3). No-op from any
// other state.
func (e *subscriptionEntry) markConnected() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != statePending {
		return
	}
	e.state = stateConnected
	e.clearDeadlineLocked()
	if cb := e.readyCallback; cb != nil {
		cb()
	}
}

// markFailed transitions PENDING|CONNECTED->FAILED and invokes
// failedCallback (spec §3). No-op if already FAILED.
func (e *subscriptionEntry) markFailed(err error) (observer Observer, shouldNotify bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateFailed {
		return nil, false
	}
	e.state = stateFailed
	e.clearDeadlineLocked()
	if cb := e.failedCallback; cb != nil {
		cb(err)
	}
	if e.terminated {
		return nil, false
	}
	e.terminated = true
	return e.observer, true
}

func (e *subscriptionEntry) clearDeadlineLocked() {
	if e.startAckDeadline != nil {
		e.startAckDeadline.Cancel()
		e.startAckDeadline = nil
	}
}

func (e *subscriptionEntry) setStartAckDeadline(h clock.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startAckDeadline = h
}

func (e *subscriptionEntry) snapshotState() subscriptionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// tryBeginStart reports whether this call may proceed with
// _startSubscription (spec §4.3: "Guarded by a per-id flag that prevents
// overlapping starts").
func (e *subscriptionEntry) tryBeginStart() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.starting {
		return false
	}
	e.starting = true
	return true
}

func (e *subscriptionEntry) endStart() {
	e.mu.Lock()
	e.starting = false
	e.mu.Unlock()
}

// markTerminated records that the observer has received its terminal
// call, returning false if it already had (idempotent teardown, spec §8
// invariant 7).
func (e *subscriptionEntry) markTerminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return false
	}
	e.terminated = true
	return true
}

// socketStatus is the provider-owned WebSocket lifecycle state (spec §3).
type socketStatus int

const (
	socketClosed socketStatus = iota
	socketConnecting
	socketReady
)

func (s socketStatus) String() string {
	switch s {
	case socketClosed:
		return "CLOSED"
	case socketConnecting:
		return "CONNECTING"
	case socketReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

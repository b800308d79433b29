// Package connstate implements the ConnectionStateMonitor described in
// spec §4.2: a deterministic finite-state machine that projects low-level
// socket and network events onto a published ConnectionState.
package connstate

import "fmt"

// ConnectionState is the coarse, externally published lifecycle value.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	ConnectedPendingKeepAlive
	ConnectedPendingNetwork
	ConnectedPendingDisconnect
	ConnectionDisrupted
	ConnectionDisruptedPendingNetwork
)

// String renders the state the way it is published on the event bus.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case ConnectedPendingKeepAlive:
		return "ConnectedPendingKeepAlive"
	case ConnectedPendingNetwork:
		return "ConnectedPendingNetwork"
	case ConnectedPendingDisconnect:
		return "ConnectedPendingDisconnect"
	case ConnectionDisrupted:
		return "ConnectionDisrupted"
	case ConnectionDisruptedPendingNetwork:
		return "ConnectionDisruptedPendingNetwork"
	default:
		return "Unknown"
	}
}

// connected reports whether s is one of the "socket is up" variants; it
// backs Monitor.IsConnected.
func (s ConnectionState) connected() bool {
	switch s {
	case Connected, ConnectedPendingKeepAlive, ConnectedPendingNetwork, ConnectedPendingDisconnect:
		return true
	default:
		return false
	}
}

// Event is the input alphabet driving the state machine (spec §4.2).
type Event int

const (
	OpeningConnection Event = iota
	ConnectionEstablished
	ClosingConnection
	Closed
	ConnectionFailed
	KeepAlive
	KeepAliveMissed
	Online
	Offline
)

func (e Event) String() string {
	switch e {
	case OpeningConnection:
		return "OPENING_CONNECTION"
	case ConnectionEstablished:
		return "CONNECTION_ESTABLISHED"
	case ClosingConnection:
		return "CLOSING_CONNECTION"
	case Closed:
		return "CLOSED"
	case ConnectionFailed:
		return "CONNECTION_FAILED"
	case KeepAlive:
		return "KEEP_ALIVE"
	case KeepAliveMissed:
		return "KEEP_ALIVE_MISSED"
	case Online:
		return "ONLINE"
	case Offline:
		return "OFFLINE"
	default:
		return "UNKNOWN_EVENT"
	}
}

// ErrInvalidEvent describes an event that has no defined transition from
// a state. Monitor.Dispatch does not return it: an event with no
// transition is logged at debug level and ignored, because §4.2
// enumerates only the transitions that matter and callers may feed the
// monitor events outside that set.
type ErrInvalidEvent struct {
	From  ConnectionState
	Event Event
}

func (e *ErrInvalidEvent) Error() string {
	return fmt.Sprintf("connstate: no transition for event %s from state %s", e.Event, e.From)
}

// transitions tabulates spec §4.2's "key transitions" list plus the
// network-offline/online variants it describes in prose for every
// connected-ish state. A (state, event) pair with no entry has no
// transition: next reports false and Dispatch keeps the current state.
var transitions = map[ConnectionState]map[Event]ConnectionState{
	Disconnected: {
		OpeningConnection: Connecting,
	},
	Connecting: {
		ConnectionEstablished: Connected,
		ConnectionFailed:      Disconnected,
		Closed:                Disconnected,
		Offline:               Disconnected,
	},
	Connected: {
		KeepAliveMissed:   ConnectedPendingKeepAlive,
		Offline:           ConnectedPendingNetwork,
		Closed:            ConnectionDisrupted,
		ConnectionFailed:  ConnectionDisrupted,
		ClosingConnection: ConnectedPendingDisconnect,
	},
	ConnectedPendingKeepAlive: {
		KeepAlive:         Connected,
		Offline:           ConnectedPendingNetwork,
		Closed:            ConnectionDisrupted,
		ConnectionFailed:  ConnectionDisrupted,
		ClosingConnection: ConnectedPendingDisconnect,
	},
	ConnectedPendingNetwork: {
		Online:            Connected,
		Closed:            ConnectionDisrupted,
		ConnectionFailed:  ConnectionDisrupted,
		ClosingConnection: ConnectedPendingDisconnect,
	},
	ConnectedPendingDisconnect: {
		Closed: Disconnected,
	},
	ConnectionDisrupted: {
		Offline:           ConnectionDisruptedPendingNetwork,
		OpeningConnection: Connecting,
	},
	ConnectionDisruptedPendingNetwork: {
		Online:            ConnectionDisrupted,
		OpeningConnection: Connecting,
	},
}

// next returns the state reached by firing event from current, and
// whether a transition was defined.
func next(current ConnectionState, event Event) (ConnectionState, bool) {
	row, ok := transitions[current]
	if !ok {
		return current, false
	}
	to, ok := row[event]
	return to, ok
}

package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrClosed is returned from Fake's Read/Write once Close has been called.
var ErrClosed = errors.New("wsconn: fake connection closed")

// Fake is an in-memory Conn for tests: writes land in Sent, and ReadJSON
// drains a caller-fed inbound queue. It lets provider tests script server
// frames (connection_ack, ka, data, error, ...) without a real socket,
// the role the teacher's WebsocketConn interface is built to let callers
// substitute (subscription.go's WithWebSocket).
type Fake struct {
	mu       sync.Mutex
	inbound  chan json.RawMessage
	Sent     []json.RawMessage
	closed   bool
	closeErr error
	onClose  func(code int, reason string)
}

// NewFake returns a ready Fake with room for backlog inbound frames.
func NewFake(backlog int) *Fake {
	return &Fake{inbound: make(chan json.RawMessage, backlog)}
}

// Push enqueues a server frame to be delivered by the next ReadJSON.
func (f *Fake) Push(v interface{}) {
	data, _ := json.Marshal(v)
	f.inbound <- data
}

// OnClose registers a callback invoked when Close is called.
func (f *Fake) OnClose(fn func(code int, reason string)) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

func (f *Fake) WriteJSON(_ context.Context, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.Sent = append(f.Sent, data)
	return nil
}

func (f *Fake) ReadJSON(ctx context.Context, v interface{}) error {
	select {
	case data, ok := <-f.inbound:
		if !ok {
			return ErrClosed
		}
		return json.Unmarshal(data, v)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) ReadyState() ReadyState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return StateClosed
	}
	return StateOpen
}

func (f *Fake) BufferedAmount() int { return 0 }

func (f *Fake) Close(code int, reason string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	cb := f.onClose
	f.mu.Unlock()
	close(f.inbound)
	if cb != nil {
		cb(code, reason)
	}
	return nil
}

// Package wsconn abstracts the WebSocket transport the RealtimeProvider
// speaks over, grounded on the teacher's WebsocketConn interface and
// websocketHandler in InoiOy-go-graphql-client/subscription.go, generalized
// to AppSync's graphql-ws subprotocol and to the text/JSON framing spec §6
// requires (parse JSON from text frames only).
package wsconn

import (
	"context"
	"encoding/json"
	"time"

	"nhooyr.io/websocket"
)

// ReadyState mirrors the browser WebSocket readyState values spec §3
// references ("underlying socket reports open").
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

// Conn abstracts a single WebSocket connection. Implementations must be
// safe for concurrent Close calls and for a WriteJSON running alongside a
// ReadJSON: reads come from the provider's single reader goroutine, while
// writes come from whichever goroutine starts or stops a subscription.
type Conn interface {
	// WriteJSON marshals v and sends it as a text frame.
	WriteJSON(ctx context.Context, v interface{}) error
	// ReadJSON blocks for the next frame and unmarshals a text frame into
	// v. A binary frame is discarded: ReadJSON returns nil and leaves v
	// unchanged.
	ReadJSON(ctx context.Context, v interface{}) error
	// ReadyState reports the current state (spec §3 SocketStatus invariant:
	// "a send is only attempted when ... the underlying socket reports open").
	ReadyState() ReadyState
	// BufferedAmount approximates the browser API of the same name, used
	// by the idle-close logic in spec §4.3 to avoid closing mid-send. The
	// nhooyr/coder websocket library does not expose OS send-buffer
	// depth, so this is always 0 for the real implementation.
	BufferedAmount() int
	// Close closes the connection with the given close code and reason.
	Close(code int, reason string) error
}

// DialOptions configures Dial.
type DialOptions struct {
	Subprotocols []string
	ReadLimit    int64
}

// Dial opens a new Conn to url using options, blocking until the
// underlying handshake completes or ctx is done. This is spec §4.4 step 4
// ("Open WebSocket with subprotocol graphql-ws").
func Dial(ctx context.Context, url string, opts DialOptions) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: opts.Subprotocols,
	})
	if err != nil {
		return nil, err
	}
	if opts.ReadLimit > 0 {
		c.SetReadLimit(opts.ReadLimit)
	}
	return &nhooyrConn{c: c}, nil
}

type nhooyrConn struct {
	c     *websocket.Conn
	state ReadyState
}

func (n *nhooyrConn) WriteJSON(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return n.c.Write(ctx, websocket.MessageText, data)
}

func (n *nhooyrConn) ReadJSON(ctx context.Context, v interface{}) error {
	typ, data, err := n.c.Read(ctx)
	if err != nil {
		return err
	}
	if typ != websocket.MessageText {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (n *nhooyrConn) ReadyState() ReadyState { return StateOpen }

func (n *nhooyrConn) BufferedAmount() int { return 0 }

func (n *nhooyrConn) Close(code int, reason string) error {
	return n.c.Close(websocket.StatusCode(code), reason)
}

// WriteTimeout is the default per-frame write deadline, matching the
// teacher's sc.timeout default of one minute (subscription.go,
// NewSubscriptionClient), scaled down: AppSync frames are small control
// messages, not GraphQL query bodies, so ten seconds is ample.
const WriteTimeout = 10 * time.Second

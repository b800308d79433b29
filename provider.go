// Package realtime is a client-side realtime subscription provider for
// AWS AppSync's GraphQL-over-WebSocket protocol. It multiplexes many
// logical GraphQL subscriptions over a single shared WebSocket,
// negotiates a pluggable authorization scheme per subscription, observes
// connection health through keep-alive messages, and orchestrates
// reconnection with bounded retry when the network or socket fails.
//
// The core design is grounded in InoiOy-go-graphql-client's
// SubscriptionClient (a single shared WebSocket multiplexing many
// GraphQL subscriptions by id), generalized from Apollo's
// subscriptions-transport-ws to AWS AppSync's realtime protocol and
// split into the three subsystems spec'd out as the hard part: the
// socket lifecycle, the per-subscription demultiplexer, and the
// connection-state/reconnection control loop.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/go-appsync/realtime/internal/authheader"
	"github.com/go-appsync/realtime/internal/clock"
	"github.com/go-appsync/realtime/internal/connstate"
	"github.com/go-appsync/realtime/internal/eventbus"
	"github.com/go-appsync/realtime/internal/reconnect"
	"github.com/go-appsync/realtime/internal/wsconn"
)

// providerName is returned by GetProviderName (spec §6).
const providerName = "AppSyncRealtimeProvider"

// dialerFunc opens the shared WebSocket; overridable for tests.
type dialerFunc func(ctx context.Context, url string, opts wsconn.DialOptions) (wsconn.Conn, error)

// connectWaiter is a queued caller awaiting handshake completion (spec §3
// PendingConnectWaiter).
type connectWaiter chan error

// Provider is the RealtimeProvider of spec §4.3: it owns the single
// WebSocket, performs the handshake, demultiplexes inbound frames to
// subscriptions, sends start/stop, and schedules keep-alive and ack
// timeouts.
type Provider struct {
	cfg *providerConfig
	log *zap.Logger

	stateMonitor     *connstate.Monitor
	reconnectMonitor *reconnect.Monitor
	hub              eventbus.Hub
	clk              clock.Clock
	dial             dialerFunc
	breaker          *gobreaker.CircuitBreaker[struct{}]

	mu                   sync.Mutex
	status               socketStatus
	conn                 wsconn.Conn
	subscriptions        map[string]*subscriptionEntry
	waiters              []connectWaiter
	closed               bool
	keepAliveHard        clock.Handle
	keepAliveSoft        clock.Handle
	keepAliveHardTimeout time.Duration
	idleCloseTimer       clock.Handle
	readCtx              context.Context
	readCancel           context.CancelFunc

	stateUnsub func()
}

// NewProvider constructs a Provider. The socket is not opened until the
// first subscription is activated (spec §3: "CLOSED->CONNECTING when the
// first subscription requests a socket").
func NewProvider(opts ...ProviderOption) *Provider {
	cfg := defaultProviderConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	dial := cfg.dialer
	if dial == nil {
		dial = func(ctx context.Context, url string, dopts wsconn.DialOptions) (wsconn.Conn, error) {
			return wsconn.Dial(ctx, url, dopts)
		}
	}

	p := &Provider{
		cfg:                  cfg,
		log:                  cfg.logger,
		stateMonitor:         connstate.New(cfg.logger),
		reconnectMonitor:     reconnect.New(cfg.logger),
		hub:                  cfg.hub,
		clk:                  cfg.clock,
		dial:                 dial,
		breaker:              newHandshakeBreaker(),
		status:               socketClosed,
		subscriptions:        make(map[string]*subscriptionEntry),
		keepAliveHardTimeout: defaultKeepAliveHardTimeout,
	}

	states, unsub := p.stateMonitor.Subscribe()
	p.stateUnsub = unsub
	go p.watchConnectionState(states)

	return p
}

// watchConnectionState is the subscription-side half of spec §4.5's
// trigger rules: entering ConnectionDisrupted starts the reconnection
// monitor's notification wave, and re-entering any "socket is up" or
// fully-disconnected state halts it. It also republishes every state to
// the external event bus (spec §6).
func (p *Provider) watchConnectionState(states <-chan connstate.ConnectionState) {
	for state := range states {
		p.publishConnectionState(state)
		switch state {
		case connstate.ConnectionDisrupted:
			p.reconnectMonitor.Start()
		case connstate.Connected, connstate.ConnectedPendingDisconnect, connstate.ConnectedPendingKeepAlive,
			connstate.ConnectedPendingNetwork, connstate.ConnectionDisruptedPendingNetwork, connstate.Disconnected:
			p.reconnectMonitor.Halt()
		}
	}
}

// SetNetworkOnline feeds the platform's network-reachability signal into
// the connection state machine (spec §4.2, §9 design note: "network
// online/offline... on platforms without it, assume always-online").
// Hosts with no such signal simply never call this.
func (p *Provider) SetNetworkOnline(online bool) {
	if online {
		p.stateMonitor.Dispatch(connstate.Online)
	} else {
		p.stateMonitor.Dispatch(connstate.Offline)
	}
}

// GetProviderName returns a stable identifying string for this provider
// (spec §6).
func (p *Provider) GetProviderName() string {
	return providerName
}

// ConnectionStates returns a channel of published ConnectionState values
// (spec §2: "emits a stream of state values") and an unsubscribe func.
func (p *Provider) ConnectionStates() (<-chan connstate.ConnectionState, func()) {
	return p.stateMonitor.Subscribe()
}

// Subscribe returns a lazy (cold) Subscription for opts. No network or
// table work happens until the returned Subscription is started (spec
// §9: "the stream MUST be cold (no work before activation)").
func (p *Provider) Subscribe(opts SubscribeOptions) *Subscription {
	return &Subscription{provider: p, opts: opts}
}

// Close tears down the socket, unsubscribes from the event bus, and
// completes the reconnection monitor (spec §6). Close is safe to call
// more than once (spec §8 invariant 7).
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := make([]*subscriptionEntry, 0, len(p.subscriptions))
	for _, e := range p.subscriptions {
		entries = append(entries, e)
	}
	p.subscriptions = make(map[string]*subscriptionEntry)
	conn := p.conn
	p.conn = nil
	p.status = socketClosed
	p.cancelKeepAliveLocked()
	p.cancelIdleCloseLocked()
	waiters := p.waiters
	p.waiters = nil
	cancelRead := p.readCancel
	p.mu.Unlock()

	for _, w := range waiters {
		w <- ErrClosed
	}
	for _, e := range entries {
		if obs, ok := e.markFailed(ErrClosed); ok {
			obs.Error(ErrClosed)
		}
	}

	if cancelRead != nil {
		cancelRead()
	}

	// Spec §9 open question: provider close is an intentional shutdown,
	// modeled as Connected->ConnectedPendingDisconnect->Disconnected,
	// never as CONNECTION_FAILED.
	p.stateMonitor.Dispatch(connstate.ClosingConnection)
	if conn != nil {
		_ = conn.Close(1000, "client closed")
	}
	p.stateMonitor.Dispatch(connstate.Closed)

	p.reconnectMonitor.Close()
	p.stateUnsub()
	return p.hub.Close()
}

// insertEntry adds a fresh PENDING entry under a new id, returning the
// entry (or ErrClosed after Close). Exposed for Subscription.Start.
func (p *Provider) insertEntry(opts SubscribeOptions) (*subscriptionEntry, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	id := uuid.NewString()
	entry := newSubscriptionEntry(id, opts)
	p.subscriptions[id] = entry
	p.mu.Unlock()
	return entry, nil
}

func (p *Provider) removeEntry(id string) {
	p.mu.Lock()
	delete(p.subscriptions, id)
	remaining := len(p.subscriptions)
	p.mu.Unlock()

	if remaining == 0 {
		p.scheduleIdleClose()
	}
}

func (p *Provider) lookupEntry(id string) *subscriptionEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscriptions[id]
}

// restartEntry is the ReconnectionMonitor's registered action for id
// (spec §4.5: "each subscription's restart hook on reconnect"). Spec §3
// forbids a CONNECTED entry transitioning back to PENDING directly
// ("reconnect creates a fresh PENDING entry"), so a CONNECTED or FAILED
// entry is replaced wholesale with a new PENDING one carrying the same
// opts before startSubscription is invoked; an entry still PENDING (a
// start already in flight) is left alone.
func (p *Provider) restartEntry(ctx context.Context, id string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	old, ok := p.subscriptions[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	if old.snapshotState() != statePending {
		p.subscriptions[id] = newSubscriptionEntry(id, old.opts)
	}
	p.mu.Unlock()

	p.startSubscription(ctx, id)
}

// startSubscription is the _startSubscription of spec §4.3: resolves
// auth headers, ensures the socket is READY, sends GQL_START, and arms
// the start-ack timeout. It is guarded against overlapping calls for the
// same id via subscriptionEntry.tryBeginStart.
func (p *Provider) startSubscription(ctx context.Context, id string) {
	entry := p.lookupEntry(id)
	if entry == nil {
		return
	}
	if entry.snapshotState() != statePending {
		return
	}
	if !entry.tryBeginStart() {
		return
	}
	defer entry.endStart()

	if err := p.ensureConnected(ctx, entry.opts); err != nil {
		p.failEntry(entry, fmt.Errorf("realtime: ensure connected: %w", err))
		return
	}

	headers, err := p.buildStartHeaders(ctx, entry.opts)
	if err != nil {
		p.failEntry(entry, fmt.Errorf("realtime: build auth headers: %w", err))
		return
	}

	data := startData{Query: entry.query, Variables: entry.variables}
	encoded, err := json.Marshal(data)
	if err != nil {
		p.failEntry(entry, fmt.Errorf("realtime: marshal start payload: %w", err))
		return
	}
	payload, err := json.Marshal(startPayload{
		Data:       string(encoded),
		Extensions: startExtensions{Authorization: headers},
	})
	if err != nil {
		p.failEntry(entry, fmt.Errorf("realtime: marshal start extensions: %w", err))
		return
	}

	msg := operationMessage{ID: id, Type: typeStart, Payload: payload}

	p.mu.Lock()
	conn := p.conn
	ready := p.status == socketReady
	p.mu.Unlock()
	if !ready || conn == nil {
		p.failEntry(entry, fmt.Errorf("realtime: socket not ready"))
		return
	}

	deadline := p.clk.AfterFunc(p.cfg.startAckTimeout, func() {
		p.handleStartAckTimeout(id)
	})
	entry.setStartAckDeadline(deadline)

	writeCtx, cancel := context.WithTimeout(ctx, wsconn.WriteTimeout)
	defer cancel()
	if err := conn.WriteJSON(writeCtx, msg); err != nil {
		p.failEntry(entry, fmt.Errorf("realtime: send start: %w", err))
		return
	}
	p.log.Debug("realtime: sent start", zap.String("id", id))
}

func (p *Provider) buildStartHeaders(ctx context.Context, opts SubscribeOptions) (map[string]string, error) {
	builder, err := authheader.New(opts.AuthMode)
	if err != nil {
		return nil, err
	}
	cfg := authheader.Config{
		Mode:        opts.AuthMode,
		Endpoint:    opts.Endpoint,
		Region:      opts.Region,
		APIKey:      opts.APIKey,
		AuthToken:   opts.AuthToken,
		Session:     opts.Session,
		Credentials: opts.Credentials,
	}
	if cfg.Credentials == nil {
		cfg.Credentials = p.cfg.credentials
	}
	if opts.ExtraHeadersFunc != nil {
		cfg.ExtraHeaders = opts.ExtraHeadersFunc
	} else if opts.ExtraHeaders != nil {
		cfg.StaticExtraHeaders = opts.ExtraHeaders
	}
	cfg.LibraryConfigHeaders = func(ctx context.Context, url, qs string) (map[string]string, error) {
		ua := userAgentHeader(opts.UserAgentDetail)
		return map[string]string{"x-amz-user-agent": ua}, nil
	}

	payload, _ := json.Marshal(startData{Query: opts.Query, Variables: opts.Variables})

	headers, err := builder.Build(ctx, cfg, authheader.BuildRequest{
		CanonicalURI: "/",
		Payload:      string(payload),
	})
	if err != nil {
		return nil, err
	}
	p.logTokenExpiry(opts.AuthMode, headers)
	return headers, nil
}

// logTokenExpiry emits a debug-level telemetry log of an oidc/userPool
// bearer token's expiry, decoded without verification (spec §1
// Out-of-scope: token verification is the session provider's job).
func (p *Provider) logTokenExpiry(mode authheader.Mode, headers map[string]string) {
	if mode != authheader.ModeOIDC && mode != authheader.ModeUserPool {
		return
	}
	token, ok := headers["Authorization"]
	if !ok {
		return
	}
	if exp, ok := authheader.TokenExpiry(token); ok {
		p.log.Debug("realtime: bearer token expiry", zap.Time("exp", exp))
	}
}

func userAgentHeader(detail map[string]string) string {
	ua := "aws-appsync-realtime-go"
	for k, v := range detail {
		ua += fmt.Sprintf(" %s/%s", k, v)
	}
	return ua
}

func (p *Provider) failEntry(entry *subscriptionEntry, err error) {
	if obs, ok := entry.markFailed(err); ok {
		obs.Error(err)
	}
	p.reconnectMonitor.Unregister(entry.id)
}

// handleStartAckTimeout fires at most once per entry (spec §8: "Start-ack
// timeout fires exactly once"); markFailed's FAILED-is-terminal invariant
// makes a late ack for the same id a no-op (dispatch.go checks state).
func (p *Provider) handleStartAckTimeout(id string) {
	entry := p.lookupEntry(id)
	if entry == nil {
		return
	}
	if entry.snapshotState() != statePending {
		return
	}
	p.failEntry(entry, fmt.Errorf("realtime: start-ack timeout for subscription %s", id))
}

// teardown is spec §4.3's teardown(id): it marks the observer as
// terminated, fails a still-PENDING entry (invoking its failedCallback
// without notifying the observer) so the wait below cannot block on an
// unacknowledged start, sends GQL_STOP if CONNECTED, always removes the
// entry, and schedules the idle-close check.
func (p *Provider) teardown(ctx context.Context, id string) {
	entry := p.lookupEntry(id)
	if entry == nil {
		return
	}
	p.reconnectMonitor.Unregister(id)

	entry.markTerminated()
	if entry.snapshotState() == statePending {
		entry.markFailed(fmt.Errorf("realtime: subscription %s torn down before start_ack", id))
	}

	connected := entry.waitConnected()
	if connected {
		p.sendUnsubscription(ctx, id)
	}
	p.removeEntry(id)
}

// sendUnsubscription sends GQL_STOP only when the socket is READY and
// open; otherwise it is silently skipped (spec §4.3: "harmless because
// the server drops session on socket close").
func (p *Provider) sendUnsubscription(ctx context.Context, id string) {
	p.mu.Lock()
	conn := p.conn
	ready := p.status == socketReady
	p.mu.Unlock()
	if !ready || conn == nil || conn.ReadyState() != wsconn.StateOpen {
		return
	}

	msg := operationMessage{ID: id, Type: typeStop}
	writeCtx, cancel := context.WithTimeout(ctx, wsconn.WriteTimeout)
	defer cancel()
	if err := conn.WriteJSON(writeCtx, msg); err != nil {
		p.log.Debug("realtime: stop send failed, ignoring", zap.String("id", id), zap.Error(err))
	}
}

// scheduleIdleClose arms the ~1s grace-period check of spec §4.3's
// socket close policy. It always re-reads the current table size when
// it fires, per spec §9's open question about the source's bug
// ("ensure the re-check uses the current table size, not a captured
// value").
func (p *Provider) scheduleIdleClose() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.cancelIdleCloseLocked()
	p.idleCloseTimer = p.clk.AfterFunc(p.cfg.idleCloseGrace, p.closeIfIdle)
	p.mu.Unlock()
}

func (p *Provider) cancelIdleCloseLocked() {
	if p.idleCloseTimer != nil {
		p.idleCloseTimer.Cancel()
		p.idleCloseTimer = nil
	}
}

// closeIfIdle drains bufferedAmount, detaches the close/error callbacks
// to avoid spurious disruption events, and closes the socket (spec
// §4.3).
func (p *Provider) closeIfIdle() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if len(p.subscriptions) != 0 {
		p.mu.Unlock()
		return
	}
	conn := p.conn
	if conn == nil {
		p.mu.Unlock()
		return
	}
	if conn.BufferedAmount() != 0 {
		p.idleCloseTimer = p.clk.AfterFunc(p.cfg.idleCloseGrace, p.closeIfIdle)
		p.mu.Unlock()
		return
	}
	p.conn = nil
	p.status = socketClosed
	p.cancelKeepAliveLocked()
	cancelRead := p.readCancel
	p.readCancel = nil
	p.mu.Unlock()

	if cancelRead != nil {
		cancelRead()
	}
	_ = conn.Close(1000, "idle")
	p.log.Debug("realtime: closed idle socket")
}

func (p *Provider) cancelKeepAliveLocked() {
	if p.keepAliveHard != nil {
		p.keepAliveHard.Cancel()
		p.keepAliveHard = nil
	}
	if p.keepAliveSoft != nil {
		p.keepAliveSoft.Cancel()
		p.keepAliveSoft = nil
	}
}

// publishConnectionState forwards a ConnectionStateChange to the event bus
// (spec §6).
func (p *Provider) publishConnectionState(state connstate.ConnectionState) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evt := eventbus.ConnectionStateChangeEvent{
		Provider:        p.GetProviderName(),
		ConnectionState: state.String(),
	}
	if err := p.hub.Publish(ctx, "ConnectionStateChange", evt, ""); err != nil {
		p.log.Warn("realtime: publish ConnectionStateChange failed", zap.Error(err))
	}
}

func (p *Provider) publishSubscriptionAck(query string, variables map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evt := eventbus.SubscriptionAckEvent{Query: query, Variables: variables}
	if err := p.hub.Publish(ctx, "SubscriptionAck", evt, ""); err != nil {
		p.log.Warn("realtime: publish SubscriptionAck failed", zap.Error(err))
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/go-appsync/realtime/internal/authheader"
	"github.com/go-appsync/realtime/internal/connstate"
	"github.com/go-appsync/realtime/internal/retry"
	"github.com/go-appsync/realtime/internal/wsconn"
)

// newHandshakeBreaker wraps the handshake attempt in a circuit breaker
// grounded on nasnet-community-nasnet-panel's connection circuit (three
// consecutive failures trip it, a five-minute cooldown half-opens it)
// layered in front of the retry loop so a persistently unreachable
// endpoint stops burning attempts between its own backoff waits.
func newHandshakeBreaker() *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "appsync-realtime-handshake",
		MaxRequests: 1,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// ensureConnected is the socket-side half of _startSubscription (spec
// §4.3, §4.4): READY returns immediately, CONNECTING enqueues the caller
// as a PendingConnectWaiter, and CLOSED takes the connecting role and
// runs the handshake. opts supplies the endpoint/region/auth the first
// caller to reach CLOSED establishes the shared socket with.
func (p *Provider) ensureConnected(ctx context.Context, opts SubscribeOptions) error {
	p.mu.Lock()
	switch p.status {
	case socketReady:
		p.mu.Unlock()
		return nil
	case socketConnecting:
		waiter := make(connectWaiter, 1)
		p.waiters = append(p.waiters, waiter)
		p.mu.Unlock()
		select {
		case err := <-waiter:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		p.status = socketConnecting
		p.mu.Unlock()
	}

	p.stateMonitor.Dispatch(connstate.OpeningConnection)
	err := p.runHandshake(ctx, opts)

	p.mu.Lock()
	waiters := p.waiters
	p.waiters = nil
	if err != nil {
		p.status = socketClosed
	} else {
		p.status = socketReady
	}
	p.mu.Unlock()

	if err != nil {
		p.log.Warn("realtime: handshake failed", zap.Error(err))
		p.stateMonitor.Dispatch(connstate.ConnectionFailed)
	} else {
		p.stateMonitor.Dispatch(connstate.ConnectionEstablished)
	}

	for _, w := range waiters {
		w <- err
	}
	return err
}

// runHandshake wraps attemptHandshake in the circuit breaker and the
// jittered exponential retry loop (spec §4.4: "wrapped in jittered
// exponential retry with a max-delay cap"; §4.4 step 7: "non-retryable
// codes abort the retry loop immediately").
func (p *Provider) runHandshake(ctx context.Context, opts SubscribeOptions) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, retry.Do(ctx, p.cfg.retryConfig, func(ctx context.Context) error {
			return p.attemptHandshake(ctx, opts)
		})
	})
	return err
}

// attemptHandshake runs one handshake attempt end to end (spec §4.4
// steps 1-7): build the connect-time auth headers, derive the wss://
// handshake URL, dial, send connection_init, and wait for
// connection_ack or connection_error. On success it installs the
// connection and starts the read loop before returning.
func (p *Provider) attemptHandshake(ctx context.Context, opts SubscribeOptions) error {
	builder, err := authheader.New(opts.AuthMode)
	if err != nil {
		return retry.Permanent(err)
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
		return map[string]string{"x-amz-user-agent": userAgentHeader(opts.UserAgentDetail)}, nil
	}

	headers, err := builder.Build(ctx, cfg, authheader.BuildRequest{
		CanonicalURI: "/connect",
		Payload:      "{}",
	})
	if err != nil {
		return fmt.Errorf("realtime: build handshake headers: %w", err)
	}

	base, err := realtimeURL(opts.Endpoint)
	if err != nil {
		return retry.Permanent(fmt.Errorf("realtime: derive realtime url: %w", err))
	}
	dialURL, err := handshakeURL(base, headers)
	if err != nil {
		return retry.Permanent(fmt.Errorf("realtime: build handshake url: %w", err))
	}

	conn, err := p.dial(ctx, dialURL, wsconn.DialOptions{
		Subprotocols: []string{"graphql-ws"},
		ReadLimit:    p.cfg.readLimit,
	})
	if err != nil {
		return fmt.Errorf("realtime: dial: %w", err)
	}

	initMsg := operationMessage{Type: typeConnectionInit}
	writeCtx, cancel := context.WithTimeout(ctx, wsconn.WriteTimeout)
	err = conn.WriteJSON(writeCtx, initMsg)
	cancel()
	if err != nil {
		_ = conn.Close(1000, "connection_init failed")
		return fmt.Errorf("realtime: send connection_init: %w", err)
	}

	ackCtx, ackCancel := context.WithTimeout(ctx, p.cfg.handshakeAckTimeout)
	defer ackCancel()
	hardTimeout, err := p.awaitConnectionAck(ackCtx, conn)
	if err != nil {
		_ = conn.Close(1000, "handshake rejected")
		return err
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.conn = conn
	p.readCtx = readCtx
	p.readCancel = readCancel
	p.keepAliveHardTimeout = hardTimeout
	p.keepAliveHard = p.clk.AfterFunc(hardTimeout, p.handleKeepAliveHardTimeout)
	p.keepAliveSoft = p.clk.AfterFunc(p.cfg.keepAliveSoftTimeout, p.handleKeepAliveSoftTimeout)
	p.mu.Unlock()

	go p.readLoop(readCtx, conn)

	p.log.Info("realtime: handshake complete", zap.Duration("keepAliveHardTimeout", hardTimeout))
	return nil
}

// awaitConnectionAck reads frames until connection_ack or
// connection_error arrives (spec §4.4 steps 5-7). Any other frame type
// received before the ack is ignored; the server does not send data
// frames before a connection is acknowledged.
func (p *Provider) awaitConnectionAck(ctx context.Context, conn wsconn.Conn) (time.Duration, error) {
	type result struct {
		timeout time.Duration
		err     error
	}
	done := make(chan result, 1)

	go func() {
		for {
			var msg operationMessage
			if err := conn.ReadJSON(ctx, &msg); err != nil {
				done <- result{err: fmt.Errorf("realtime: read during handshake: %w", err)}
				return
			}
			switch msg.Type {
			case typeConnectionAck:
				var payload connectionAckPayload
				_ = json.Unmarshal(msg.Payload, &payload)
				timeout := defaultKeepAliveHardTimeout
				if payload.ConnectionTimeoutMs > 0 {
					timeout = time.Duration(payload.ConnectionTimeoutMs) * time.Millisecond
				}
				done <- result{timeout: timeout}
				return
			case typeConnectionError:
				var payload connectionErrorPayload
				_ = json.Unmarshal(msg.Payload, &payload)
				herr := &HandshakeError{}
				if len(payload.Errors) > 0 {
					herr.ErrorType = payload.Errors[0].ErrorType
					herr.ErrorCode = payload.Errors[0].ErrorCode
				}
				if p.cfg.nonRetryableCodes[herr.ErrorCode] {
					herr.NonRetryable = true
					done <- result{err: retry.Permanent(herr)}
					return
				}
				done <- result{err: herr}
				return
			default:
				// Ignore anything else while waiting for the ack/error
				// (spec §4.4: only connection_ack/connection_error resolve
				// the handshake).
			}
		}
	}()

	select {
	case r := <-done:
		return r.timeout, r.err
	case <-ctx.Done():
		return 0, fmt.Errorf("realtime: handshake ack timeout: %w", ctx.Err())
	}
}

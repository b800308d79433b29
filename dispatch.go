package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/go-appsync/realtime/internal/connstate"
	"github.com/go-appsync/realtime/internal/wsconn"
)

// readLoop is the provider's single reader goroutine for the shared
// socket (spec §4.3: inbound frames are demultiplexed by id). It runs
// until ctx is canceled (socket replaced or provider closed) or a read
// fails, at which point it reports the failure once and exits.
func (p *Provider) readLoop(ctx context.Context, conn wsconn.Conn) {
	for {
		var msg operationMessage
		if err := conn.ReadJSON(ctx, &msg); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			p.handleSocketError(err)
			return
		}
		p.handleFrame(msg)
	}
}

// handleFrame demultiplexes one inbound text frame by type (spec §4.3,
// §6).
func (p *Provider) handleFrame(msg operationMessage) {
	switch msg.Type {
	case typeData:
		p.handleData(msg)
	case typeStartAck:
		p.handleStartAck(msg)
	case typeComplete:
		p.handleComplete(msg)
	case typeError:
		p.handleError(msg)
	case typeKeepAlive:
		p.handleKeepAlive()
	default:
		p.log.Debug("realtime: ignoring frame", zap.String("type", string(msg.Type)))
	}
}

func (p *Provider) handleStartAck(msg operationMessage) {
	entry := p.lookupEntry(msg.ID)
	if entry == nil {
		return
	}
	if entry.snapshotState() != statePending {
		return
	}
	entry.markConnected()
	p.publishSubscriptionAck(entry.query, entry.variables)
	p.log.Debug("realtime: subscription acked", zap.String("id", msg.ID))
}

func (p *Provider) handleData(msg operationMessage) {
	entry := p.lookupEntry(msg.ID)
	if entry == nil {
		return
	}
	if entry.snapshotState() != stateConnected {
		return
	}
	var payload dataPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		p.log.Warn("realtime: malformed data frame", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	entry.observer.Next(payload.Data)
}

func (p *Provider) handleComplete(msg operationMessage) {
	entry := p.lookupEntry(msg.ID)
	if entry == nil {
		return
	}
	if entry.markTerminated() {
		entry.observer.Complete()
	}
	p.reconnectMonitor.Unregister(msg.ID)
	p.removeEntry(msg.ID)
}

func (p *Provider) handleError(msg operationMessage) {
	entry := p.lookupEntry(msg.ID)
	if entry == nil {
		return
	}
	var payload dataPayload
	_ = json.Unmarshal(msg.Payload, &payload)
	gqlErr := &GraphQLError{Message: "subscription error"}
	if len(payload.Errors) > 0 {
		gqlErr.ErrorType = payload.Errors[0].ErrorType
		gqlErr.ErrorCode = payload.Errors[0].ErrorCode
		gqlErr.Message = payload.Errors[0].ErrorType
	}
	p.failEntry(entry, gqlErr)
}

// handleKeepAlive resets both keep-alive timers on a "ka" frame (spec
// §4.3) and republishes Connected if the soft timeout had previously
// fired.
func (p *Provider) handleKeepAlive() {
	p.mu.Lock()
	p.cancelKeepAliveLocked()
	hard := p.keepAliveHardTimeout
	if hard <= 0 {
		hard = defaultKeepAliveHardTimeout
	}
	p.keepAliveHard = p.clk.AfterFunc(hard, p.handleKeepAliveHardTimeout)
	p.keepAliveSoft = p.clk.AfterFunc(p.cfg.keepAliveSoftTimeout, p.handleKeepAliveSoftTimeout)
	p.mu.Unlock()
	p.stateMonitor.Dispatch(connstate.KeepAlive)
}

// handleKeepAliveSoftTimeout publishes the soft alert (spec §4.3: "a
// missed soft deadline degrades the published state without closing the
// socket").
func (p *Provider) handleKeepAliveSoftTimeout() {
	p.stateMonitor.Dispatch(connstate.KeepAliveMissed)
}

// handleKeepAliveHardTimeout closes the socket on missing the hard
// deadline (spec §4.3).
func (p *Provider) handleKeepAliveHardTimeout() {
	p.log.Warn("realtime: keep-alive hard timeout, closing socket")
	p.handleSocketError(fmt.Errorf("realtime: keep-alive timeout"))
}

// handleSocketError tears down the current connection state on any
// socket failure (read error, keep-alive hard timeout), closes the
// socket, and reports it to
// the connection state machine as Closed (spec §4.2: "Closed" projects
// Connected-ish states to ConnectionDisrupted, which in turn triggers
// reconnection per §4.5).
func (p *Provider) handleSocketError(err error) {
	p.mu.Lock()
	if p.closed || p.status == socketClosed {
		p.mu.Unlock()
		return
	}
	conn := p.conn
	p.conn = nil
	p.status = socketClosed
	p.cancelKeepAliveLocked()
	p.cancelIdleCloseLocked()
	cancelRead := p.readCancel
	p.readCancel = nil
	p.mu.Unlock()

	if cancelRead != nil {
		cancelRead()
	}
	if conn != nil {
		_ = conn.Close(1000, "socket error")
	}

	p.log.Warn("realtime: socket closed", zap.Error(err))
	p.stateMonitor.Dispatch(connstate.Closed)
}

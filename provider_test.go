package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-appsync/realtime/internal/authheader"
	"github.com/go-appsync/realtime/internal/clock"
	"github.com/go-appsync/realtime/internal/connstate"
	"github.com/go-appsync/realtime/internal/wsconn"
)

type recordingObserver struct {
	mu        sync.Mutex
	nexts     []json.RawMessage
	errs      []error
	completed bool
}

func (o *recordingObserver) Next(data json.RawMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nexts = append(o.nexts, data)
}

func (o *recordingObserver) Error(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) Complete() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = true
}

func (o *recordingObserver) snapshot() (nexts []json.RawMessage, errs []error, completed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]json.RawMessage(nil), o.nexts...), append([]error(nil), o.errs...), o.completed
}

func newTestProvider(t *testing.T, dialed chan *wsconn.Fake, extra ...ProviderOption) *Provider {
	t.Helper()
	dialer := func(ctx context.Context, url string, opts wsconn.DialOptions) (wsconn.Conn, error) {
		fc := wsconn.NewFake(32)
		dialed <- fc
		return fc, nil
	}
	opts := append([]ProviderOption{withDialer(dialer)}, extra...)
	p := NewProvider(opts...)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func waitForSentType(t *testing.T, fc *wsconn.Fake, typ messageType) operationMessage {
	t.Helper()
	var found operationMessage
	waitFor(t, 2*time.Second, func() bool {
		for _, raw := range fc.Sent {
			var msg operationMessage
			if err := json.Unmarshal(raw, &msg); err == nil && msg.Type == typ {
				found = msg
				return true
			}
		}
		return false
	})
	return found
}

const s1Endpoint = "https://abcdefghijklmnopqrstuvwxyz.appsync-api.us-east-1.amazonaws.com/graphql"

func TestProvider_S1_HappyPath(t *testing.T) {
	dialed := make(chan *wsconn.Fake, 1)
	p := newTestProvider(t, dialed)

	obs := &recordingObserver{}
	sub := p.Subscribe(SubscribeOptions{
		Endpoint:  s1Endpoint,
		AuthMode:  authheader.ModeAPIKey,
		APIKey:    "FAKE",
		Query:     "subscription S { onCreateTodo { id name } }",
		Variables: map[string]interface{}{},
		Observer:  obs,
	})
	teardown := sub.Start(context.Background())
	defer teardown()

	var fc *wsconn.Fake
	select {
	case fc = <-dialed:
	case <-time.After(2 * time.Second):
		t.Fatal("socket was never dialed")
	}

	waitForSentType(t, fc, typeConnectionInit)
	fc.Push(operationMessage{Type: typeConnectionAck, Payload: json.RawMessage(`{"connectionTimeoutMs":300000}`)})

	startMsg := waitForSentType(t, fc, typeStart)
	require.NotEmpty(t, startMsg.ID)

	fc.Push(operationMessage{ID: startMsg.ID, Type: typeStartAck})

	waitFor(t, time.Second, func() bool { return p.stateMonitor.Current() == connstate.Connected })

	inner, err := json.Marshal(map[string]interface{}{"onCreateTodo": map[string]interface{}{"id": "1", "name": "x"}})
	require.NoError(t, err)
	payload, err := json.Marshal(dataPayload{Data: inner})
	require.NoError(t, err)
	fc.Push(operationMessage{ID: startMsg.ID, Type: typeData, Payload: payload})

	waitFor(t, time.Second, func() bool {
		nexts, _, _ := obs.snapshot()
		return len(nexts) == 1
	})
	nexts, errs, completed := obs.snapshot()
	require.Len(t, nexts, 1)
	assert.JSONEq(t, string(inner), string(nexts[0]))
	assert.Empty(t, errs)
	assert.False(t, completed)

	teardown()
	waitForSentType(t, fc, typeStop)
}

func TestProvider_S5_NonRetryableAuthFailure(t *testing.T) {
	dialed := make(chan *wsconn.Fake, 1)
	p := newTestProvider(t, dialed, WithNonRetryableCodes(401))

	obs := &recordingObserver{}
	sub := p.Subscribe(SubscribeOptions{
		Endpoint:  s1Endpoint,
		AuthMode:  authheader.ModeAPIKey,
		APIKey:    "FAKE",
		Query:     "subscription S { onCreateTodo { id } }",
		Variables: map[string]interface{}{},
		Observer:  obs,
	})
	teardown := sub.Start(context.Background())
	defer teardown()

	var fc *wsconn.Fake
	select {
	case fc = <-dialed:
	case <-time.After(2 * time.Second):
		t.Fatal("socket was never dialed")
	}

	waitForSentType(t, fc, typeConnectionInit)
	fc.Push(operationMessage{
		Type: typeConnectionError,
		Payload: json.RawMessage(`{"errors":[{"errorType":"UnauthorizedException","errorCode":401}]}`),
	})

	waitFor(t, 2*time.Second, func() bool {
		_, errs, _ := obs.snapshot()
		return len(errs) > 0
	})
	_, errs, _ := obs.snapshot()
	require.Len(t, errs, 1)
	var herr *HandshakeError
	require.ErrorAs(t, errs[0], &herr)
	assert.Equal(t, 401, herr.ErrorCode)
}

func TestProvider_StartAckTimeout_FailsEntry(t *testing.T) {
	dialed := make(chan *wsconn.Fake, 1)
	vc := clock.NewVirtual(time.Unix(0, 0))
	p := newTestProvider(t, dialed, WithClock(vc), WithStartAckTimeout(5*time.Second))

	obs := &recordingObserver{}
	sub := p.Subscribe(SubscribeOptions{
		Endpoint:  s1Endpoint,
		AuthMode:  authheader.ModeAPIKey,
		APIKey:    "FAKE",
		Query:     "subscription S { onCreateTodo { id } }",
		Variables: map[string]interface{}{},
		Observer:  obs,
	})
	teardown := sub.Start(context.Background())
	defer teardown()

	var fc *wsconn.Fake
	select {
	case fc = <-dialed:
	case <-time.After(2 * time.Second):
		t.Fatal("socket was never dialed")
	}

	waitForSentType(t, fc, typeConnectionInit)
	fc.Push(operationMessage{Type: typeConnectionAck, Payload: json.RawMessage(`{"connectionTimeoutMs":300000}`)})
	waitForSentType(t, fc, typeStart)

	vc.Advance(6 * time.Second)

	waitFor(t, time.Second, func() bool {
		_, errs, _ := obs.snapshot()
		return len(errs) > 0
	})
	_, errs, _ := obs.snapshot()
	require.Len(t, errs, 1)
}

func TestSubscription_TeardownBeforeAckIsSafe(t *testing.T) {
	dialed := make(chan *wsconn.Fake, 1)
	p := newTestProvider(t, dialed)

	obs := &recordingObserver{}
	sub := p.Subscribe(SubscribeOptions{
		Endpoint:  s1Endpoint,
		AuthMode:  authheader.ModeAPIKey,
		APIKey:    "FAKE",
		Query:     "subscription S { onCreateTodo { id } }",
		Variables: map[string]interface{}{},
		Observer:  obs,
	})
	teardown := sub.Start(context.Background())

	// Tear down immediately, before any server frame arrives; must not
	// hang and must be safe to call twice (spec §8 invariant 7).
	teardown()
	teardown()
}

func TestSubscribeOptions_ValidationErrorsAreDeliveredToObserver(t *testing.T) {
	p := NewProvider()
	defer p.Close()

	obs := &recordingObserver{}
	sub := p.Subscribe(SubscribeOptions{Observer: obs})
	teardown := sub.Start(context.Background())
	defer teardown()

	_, errs, completed := obs.snapshot()
	require.Len(t, errs, 1)
	var verr *ValidationError
	require.ErrorAs(t, errs[0], &verr)
	assert.True(t, completed)
}

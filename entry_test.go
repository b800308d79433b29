package realtime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionEntry_MarkConnected(t *testing.T) {
	e := newSubscriptionEntry("id-1", SubscribeOptions{})
	assert.Equal(t, statePending, e.snapshotState())

	e.markConnected()
	assert.Equal(t, stateConnected, e.snapshotState())

	// Idempotent: a second ack is a no-op.
	e.markConnected()
	assert.Equal(t, stateConnected, e.snapshotState())
}

func TestSubscriptionEntry_MarkFailedIsTerminalOnce(t *testing.T) {
	e := newSubscriptionEntry("id-1", SubscribeOptions{})

	obs, notify := e.markFailed(errors.New("boom"))
	assert.True(t, notify)
	assert.Nil(t, obs) // no observer configured in this test

	_, notify = e.markFailed(errors.New("again"))
	assert.False(t, notify)
	assert.Equal(t, stateFailed, e.snapshotState())
}

func TestSubscriptionEntry_ConnectedCannotBeFailedTwice(t *testing.T) {
	e := newSubscriptionEntry("id-1", SubscribeOptions{})
	e.markConnected()

	_, notify := e.markFailed(errors.New("dropped"))
	assert.True(t, notify)

	_, notify = e.markFailed(errors.New("dropped again"))
	assert.False(t, notify)

	assert.Equal(t, stateFailed, e.snapshotState())
}

func TestSubscriptionEntry_WaitConnectedResolvesOnConnect(t *testing.T) {
	e := newSubscriptionEntry("id-1", SubscribeOptions{})

	done := make(chan bool, 1)
	go func() { done <- e.waitConnected() }()

	time.Sleep(10 * time.Millisecond)
	e.markConnected()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waitConnected did not resolve")
	}
}

func TestSubscriptionEntry_WaitConnectedResolvesOnFailure(t *testing.T) {
	e := newSubscriptionEntry("id-1", SubscribeOptions{})

	done := make(chan bool, 1)
	go func() { done <- e.waitConnected() }()

	time.Sleep(10 * time.Millisecond)
	e.markFailed(errors.New("boom"))

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waitConnected did not resolve")
	}
}

func TestSubscriptionEntry_TryBeginStartGuardsOverlap(t *testing.T) {
	e := newSubscriptionEntry("id-1", SubscribeOptions{})

	require.True(t, e.tryBeginStart())
	assert.False(t, e.tryBeginStart())

	e.endStart()
	assert.True(t, e.tryBeginStart())
}

func TestSubscriptionEntry_MarkTerminatedIsIdempotent(t *testing.T) {
	e := newSubscriptionEntry("id-1", SubscribeOptions{})
	assert.True(t, e.markTerminated())
	assert.False(t, e.markTerminated())
}

func TestSocketStatus_String(t *testing.T) {
	assert.Equal(t, "CLOSED", socketClosed.String())
	assert.Equal(t, "CONNECTING", socketConnecting.String())
	assert.Equal(t, "READY", socketReady.String())
}

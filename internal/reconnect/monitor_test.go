package reconnect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonitor_StartFiresRegisteredActions(t *testing.T) {
	m := New(nil)
	var fired []string
	m.Register("a", func() { fired = append(fired, "a") })
	m.Register("b", func() { fired = append(fired, "b") })

	m.Start()

	assert.ElementsMatch(t, []string{"a", "b"}, fired)
}

func TestMonitor_RegisterAfterStartFiresImmediately(t *testing.T) {
	m := New(nil)
	m.Start()

	fired := false
	m.Register("late", func() { fired = true })

	assert.True(t, fired)
}

func TestMonitor_HaltStopsFurtherRegistrationFromAutoFiring(t *testing.T) {
	m := New(nil)
	m.Start()
	m.Halt()

	fired := false
	m.Register("after-halt", func() { fired = true })

	assert.False(t, fired)
}

func TestMonitor_UnregisterRemovesAction(t *testing.T) {
	m := New(nil)
	fired := false
	m.Register("a", func() { fired = true })
	m.Unregister("a")

	m.Start()

	assert.False(t, fired)
}

func TestMonitor_CloseIsIrrevocable(t *testing.T) {
	m := New(nil)
	m.Close()

	fired := false
	m.Register("a", func() { fired = true })
	m.Start()

	assert.False(t, fired)
}

func TestMonitor_CloseIsIdempotent(t *testing.T) {
	m := New(nil)
	m.Close()
	assert.NotPanics(t, func() { m.Close() })
}

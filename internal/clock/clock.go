// Package clock abstracts scheduling so the provider's timers (start-ack
// deadlines, keep-alive hard/soft timeouts, idle-close grace period) can be
// driven by a virtual clock in tests instead of real wall time.
package clock

import (
	"sync"
	"time"
)

// Handle identifies a scheduled callback so it can be canceled.
type Handle interface {
	// Cancel stops the callback from firing if it has not fired yet.
	// Cancel is safe to call more than once and after the callback fired.
	Cancel()
}

// Clock schedules delayed callbacks. The zero value of Real is a working
// clock backed by time.AfterFunc.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules fn to run after d elapses, returning a handle
	// that can cancel the callback before it fires.
	AfterFunc(d time.Duration, fn func()) Handle
}

// Real is the default Clock, backed by the standard library's timers.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// AfterFunc schedules fn via time.AfterFunc.
func (Real) AfterFunc(d time.Duration, fn func()) Handle {
	t := time.AfterFunc(d, fn)
	return realHandle{t}
}

type realHandle struct{ t *time.Timer }

func (h realHandle) Cancel() { h.t.Stop() }

// Virtual is a manually-advanced clock for deterministic tests. Callbacks
// scheduled for a time at or before the clock's current instant fire the
// next time Advance is called, in the order they were scheduled.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	pending []*virtualTimer
	seq     uint64
}

type virtualTimer struct {
	id       uint64
	due      time.Time
	fn       func()
	canceled bool
	fired    bool
}

func (t *virtualTimer) Cancel() {
	t.canceled = true
}

// NewVirtual returns a Virtual clock starting at the given instant.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the clock's current virtual instant.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// AfterFunc schedules fn to run once the virtual clock has advanced by at
// least d.
func (v *Virtual) AfterFunc(d time.Duration, fn func()) Handle {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	t := &virtualTimer{id: v.seq, due: v.now.Add(d), fn: fn}
	v.pending = append(v.pending, t)
	return t
}

// Advance moves the virtual clock forward by d and synchronously runs every
// callback whose deadline has been reached, in scheduling order.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	due := v.dueLocked()
	v.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

func (v *Virtual) dueLocked() []*virtualTimer {
	var due []*virtualTimer
	var remaining []*virtualTimer
	for _, t := range v.pending {
		if t.canceled || t.fired {
			continue
		}
		if !t.due.After(v.now) {
			t.fired = true
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	v.pending = remaining
	return due
}

// Pending reports how many non-canceled, unfired callbacks remain.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, t := range v.pending {
		if !t.canceled && !t.fired {
			n++
		}
	}
	return n
}

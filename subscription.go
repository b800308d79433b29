package realtime

import (
	"context"
	"sync"
	"time"
)

// Subscription is the lazy (cold) stream surface of spec §9: Subscribe
// returns one of these without touching the subscription table or the
// socket. Start activates it — that is the one and only point at which
// an entry is inserted and _startSubscription is invoked.
type Subscription struct {
	provider *Provider
	opts     SubscribeOptions

	mu       sync.Mutex
	started  bool
	id       string
	teardown func()
}

// Start activates the subscription (spec §9: "no work before
// activation"). It validates opts, inserts a PENDING entry, registers
// the subscription's restart hook with the ReconnectionMonitor, and
// kicks off the initial connect/start in the background. It returns a
// teardown function that is safe to call any number of times, from any
// goroutine (spec §8 invariant 7).
//
// Calling Start more than once returns the same teardown function
// without doing any further work.
func (s *Subscription) Start(ctx context.Context) func() {
	s.mu.Lock()
	if s.started {
		td := s.teardown
		s.mu.Unlock()
		return td
	}
	s.started = true
	s.mu.Unlock()

	noop := func() {}

	if s.opts.Observer == nil {
		s.mu.Lock()
		s.teardown = noop
		s.mu.Unlock()
		return noop
	}

	if err := s.opts.validate(); err != nil {
		s.opts.Observer.Error(err)
		s.opts.Observer.Complete()
		s.mu.Lock()
		s.teardown = noop
		s.mu.Unlock()
		return noop
	}

	entry, err := s.provider.insertEntry(s.opts)
	if err != nil {
		s.opts.Observer.Error(err)
		s.opts.Observer.Complete()
		s.mu.Lock()
		s.teardown = noop
		s.mu.Unlock()
		return noop
	}
	id := entry.id

	s.provider.reconnectMonitor.Register(id, func() {
		s.provider.restartEntry(context.Background(), id)
	})
	go s.provider.startSubscription(ctx, id)

	var once sync.Once
	td := func() {
		once.Do(func() {
			tctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s.provider.teardown(tctx, id)
		})
	}

	s.mu.Lock()
	s.id = id
	s.teardown = td
	s.mu.Unlock()

	return td
}

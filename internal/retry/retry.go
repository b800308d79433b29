// Package retry provides the jittered exponential retry utility of spec
// §2 ("Retry utility") and §4.4 ("wrapped in jittered exponential retry
// with a max-delay cap"). It is a thin, spec-shaped wrapper over
// github.com/cenkalti/backoff/v4, following the pattern in
// nasnet-community-nasnet-panel's internal/connection/manager_reconnect.go
// (backoff.Retry driving an operation func, backoff.Permanent marking a
// non-retryable error).
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config bounds a retry run.
type Config struct {
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// Multiplier grows the delay on each successive attempt.
	Multiplier float64
	// RandomizationFactor adds jitter: actual delay is
	// interval * (1 +/- RandomizationFactor).
	RandomizationFactor float64
	// MaxInterval caps the per-attempt delay.
	MaxInterval time.Duration
	// MaxElapsedTime bounds the whole retry run; zero means unbounded
	// (callers should instead bound via context).
	MaxElapsedTime time.Duration
}

// DefaultConfig matches the teacher-adjacent repo's handshake tuning: a
// one-second starting delay doubling up to thirty seconds.
func DefaultConfig() Config {
	return Config{
		InitialInterval:     time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.5,
		MaxInterval:         30 * time.Second,
		MaxElapsedTime:      0,
	}
}

// Permanent marks err as non-retryable: Do returns it immediately without
// further attempts. This is spec §7's "non-retryable error codes bypass
// retry" and §4.4 step 7's "throw a non-retryable marker so the retry
// wrapper aborts", expressed as backoff.Permanent so non-retryability is
// the library's own vocabulary rather than a bespoke sentinel type.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op, retrying on error with jittered exponential backoff per cfg,
// until op succeeds, op returns a Permanent error, ctx is canceled, or
// MaxElapsedTime elapses. It returns the last error on exhaustion.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		RandomizationFactor: cfg.RandomizationFactor,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxInterval,
		MaxElapsedTime:      cfg.MaxElapsedTime,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	withCtx := backoff.WithContext(b, ctx)

	return backoff.Retry(func() error {
		return op(ctx)
	}, withCtx)
}

package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-appsync/realtime/internal/clock"
	"github.com/go-appsync/realtime/internal/retry"
)

func TestSubscribeOptions_Validate(t *testing.T) {
	cases := []struct {
		name    string
		opts    SubscribeOptions
		wantErr string
	}{
		{
			name:    "missing endpoint",
			opts:    SubscribeOptions{Query: "sub { x }", Variables: map[string]interface{}{}},
			wantErr: "endpoint",
		},
		{
			name:    "missing query",
			opts:    SubscribeOptions{Endpoint: s1Endpoint, Variables: map[string]interface{}{}},
			wantErr: "query",
		},
		{
			name:    "nil variables",
			opts:    SubscribeOptions{Endpoint: s1Endpoint, Query: "sub { x }"},
			wantErr: "variables",
		},
		{
			name: "valid",
			opts: SubscribeOptions{Endpoint: s1Endpoint, Query: "sub { x }", Variables: map[string]interface{}{}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.wantErr, verr.Field)
		})
	}
}

func TestDefaultProviderConfig_Defaults(t *testing.T) {
	cfg := defaultProviderConfig()

	assert.Equal(t, defaultHandshakeAckTimeout, cfg.handshakeAckTimeout)
	assert.Equal(t, defaultKeepAliveSoftTimeout, cfg.keepAliveSoftTimeout)
	assert.Equal(t, defaultStartAckTimeout, cfg.startAckTimeout)
	assert.Equal(t, defaultIdleCloseGrace, cfg.idleCloseGrace)
	assert.True(t, cfg.nonRetryableCodes[401])
	assert.True(t, cfg.nonRetryableCodes[403])
	assert.False(t, cfg.nonRetryableCodes[500])
	assert.Equal(t, clock.Real{}, cfg.clock)
}

func TestProviderOptions_Overrides(t *testing.T) {
	cfg := defaultProviderConfig()

	WithHandshakeAckTimeout(3 * time.Second)(cfg)
	WithKeepAliveSoftTimeout(7 * time.Second)(cfg)
	WithStartAckTimeout(11 * time.Second)(cfg)
	WithIdleCloseGrace(2 * time.Second)(cfg)
	WithReadLimit(1024)(cfg)
	WithNonRetryableCodes(418)(cfg)
	WithRetryConfig(retry.Config{InitialInterval: time.Millisecond})(cfg)

	assert.Equal(t, 3*time.Second, cfg.handshakeAckTimeout)
	assert.Equal(t, 7*time.Second, cfg.keepAliveSoftTimeout)
	assert.Equal(t, 11*time.Second, cfg.startAckTimeout)
	assert.Equal(t, 2*time.Second, cfg.idleCloseGrace)
	assert.Equal(t, int64(1024), cfg.readLimit)
	assert.True(t, cfg.nonRetryableCodes[418])
	assert.False(t, cfg.nonRetryableCodes[401], "overriding non-retryable codes replaces rather than merges the default set")
	assert.Equal(t, time.Millisecond, cfg.retryConfig.InitialInterval)
}

func TestWithLogger_NilIsIgnored(t *testing.T) {
	cfg := defaultProviderConfig()
	original := cfg.logger

	WithLogger(nil)(cfg)
	assert.Same(t, original, cfg.logger)
}

func TestWithClock_NilIsIgnored(t *testing.T) {
	cfg := defaultProviderConfig()

	WithClock(nil)(cfg)
	assert.Equal(t, clock.Real{}, cfg.clock)

	vc := clock.NewVirtual(time.Unix(0, 0))
	WithClock(vc)(cfg)
	assert.Same(t, vc, cfg.clock)
}

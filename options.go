package realtime

import (
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"go.uber.org/zap"

	"github.com/go-appsync/realtime/internal/authheader"
	"github.com/go-appsync/realtime/internal/clock"
	"github.com/go-appsync/realtime/internal/eventbus"
	"github.com/go-appsync/realtime/internal/retry"
)

// defaultHandshakeAckTimeout bounds how long the handshake waits for
// connection_ack after sending connection_init (spec §4.4 step 5: "e.g.
// 15s").
const defaultHandshakeAckTimeout = 15 * time.Second

// defaultKeepAliveHardTimeout is the fallback hard keep-alive deadline
// when the server's connection_ack omits connectionTimeoutMs (spec §4.3:
// "default 5 minutes").
const defaultKeepAliveHardTimeout = 5 * time.Minute

// defaultKeepAliveSoftTimeout is the soft alert deadline (spec §4.3:
// "shorter, configurable").
const defaultKeepAliveSoftTimeout = 90 * time.Second

// defaultStartAckTimeout bounds how long a subscription waits for
// GQL_START_ACK before failing (spec §8: "Start-ack timeout fires
// exactly once").
const defaultStartAckTimeout = 15 * time.Second

// defaultIdleCloseGrace is the delay before closing an idle socket (spec
// §4.3: "t ~= 1s").
const defaultIdleCloseGrace = time.Second

// defaultNonRetryableCodes are the configured non-retryable handshake
// codes of spec §4.4 step 7 / §8 (UnauthorizedException-class failures).
var defaultNonRetryableCodes = []int{400, 401, 403}

// ProviderOption configures a Provider at construction time, following
// the functional-options idiom the teacher uses for SubscriptionClient
// (WithWebSocket, WithConnectionParams, WithTimeout, ...).
type ProviderOption func(*providerConfig)

type providerConfig struct {
	logger               *zap.Logger
	retryConfig          retry.Config
	nonRetryableCodes     map[int]bool
	hub                  eventbus.Hub
	clock                clock.Clock
	handshakeAckTimeout  time.Duration
	keepAliveSoftTimeout time.Duration
	startAckTimeout      time.Duration
	idleCloseGrace       time.Duration
	readLimit            int64
	dialer               dialerFunc
	credentials          *credentials.Credentials
}

func defaultProviderConfig() *providerConfig {
	codes := make(map[int]bool, len(defaultNonRetryableCodes))
	for _, c := range defaultNonRetryableCodes {
		codes[c] = true
	}
	return &providerConfig{
		logger:               zap.NewNop(),
		retryConfig:          retry.DefaultConfig(),
		nonRetryableCodes:    codes,
		hub:                  eventbus.Noop{},
		clock:                clock.Real{},
		handshakeAckTimeout:  defaultHandshakeAckTimeout,
		keepAliveSoftTimeout: defaultKeepAliveSoftTimeout,
		startAckTimeout:      defaultStartAckTimeout,
		idleCloseGrace:       defaultIdleCloseGrace,
		readLimit:            10 * 1024 * 1024,
	}
}

// WithLogger injects a zap.Logger. Every component logs through it.
func WithLogger(log *zap.Logger) ProviderOption {
	return func(c *providerConfig) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithRetryConfig overrides the jittered exponential retry tuning used
// by the handshake (spec §4.4).
func WithRetryConfig(cfg retry.Config) ProviderOption {
	return func(c *providerConfig) { c.retryConfig = cfg }
}

// WithNonRetryableCodes overrides the configured non-retryable handshake
// error codes (spec §4.4 step 7, §8).
func WithNonRetryableCodes(codes ...int) ProviderOption {
	return func(c *providerConfig) {
		m := make(map[int]bool, len(codes))
		for _, code := range codes {
			m[code] = true
		}
		c.nonRetryableCodes = m
	}
}

// WithEventHub replaces the default no-op Hub with a real external event
// bus adapter (spec §2 "Event publisher").
func WithEventHub(hub eventbus.Hub) ProviderOption {
	return func(c *providerConfig) {
		if hub != nil {
			c.hub = hub
		}
	}
}

// WithClock injects a clock.Clock, letting tests drive timers
// deterministically (spec §9 design note on an injectable scheduler).
func WithClock(ck clock.Clock) ProviderOption {
	return func(c *providerConfig) {
		if ck != nil {
			c.clock = ck
		}
	}
}

// WithHandshakeAckTimeout overrides the connection_ack wait bound.
func WithHandshakeAckTimeout(d time.Duration) ProviderOption {
	return func(c *providerConfig) { c.handshakeAckTimeout = d }
}

// WithKeepAliveSoftTimeout overrides the soft keep-alive alert deadline.
func WithKeepAliveSoftTimeout(d time.Duration) ProviderOption {
	return func(c *providerConfig) { c.keepAliveSoftTimeout = d }
}

// WithStartAckTimeout overrides the per-subscription start-ack deadline.
func WithStartAckTimeout(d time.Duration) ProviderOption {
	return func(c *providerConfig) { c.startAckTimeout = d }
}

// WithIdleCloseGrace overrides the idle socket-close grace period.
func WithIdleCloseGrace(d time.Duration) ProviderOption {
	return func(c *providerConfig) { c.idleCloseGrace = d }
}

// WithReadLimit overrides the maximum inbound frame size, mirroring the
// teacher's WithReadLimit on SubscriptionClient.
func WithReadLimit(limit int64) ProviderOption {
	return func(c *providerConfig) { c.readLimit = limit }
}

// WithCredentials supplies the AWS credentials used for IAM/SigV4 header
// signing; defaults to credentials read from environment variables if
// unset.
func WithCredentials(creds *credentials.Credentials) ProviderOption {
	return func(c *providerConfig) { c.credentials = creds }
}

// withDialer substitutes the WebSocket dial function, used by tests to
// inject a fake transport. Unexported: this is a test seam, not public
// API surface.
func withDialer(d dialerFunc) ProviderOption {
	return func(c *providerConfig) { c.dialer = d }
}

// SubscribeOptions configures one logical subscription (spec §6
// "Configuration options recognized by subscribe").
type SubscribeOptions struct {
	// Endpoint is the AppSync HTTPS GraphQL endpoint (required).
	Endpoint string
	// Region is the AWS region; required for AuthMode iam.
	Region string
	// Query is the GraphQL subscription document (required).
	Query string
	// Variables are the subscription's GraphQL variables (required,
	// may be empty but not nil-vs-omitted ambiguous — pass an empty map
	// for "no variables").
	Variables map[string]interface{}

	// AuthMode selects the AuthHeaderBuilder arm.
	AuthMode authheader.Mode
	// APIKey feeds AuthMode apiKey.
	APIKey string
	// AuthToken is an explicit bearer token for lambda/none/oidc/userPool,
	// taking precedence over any ExtraHeaders-derived Authorization.
	AuthToken string
	// Session resolves tokens for AuthMode oidc/userPool.
	Session authheader.SessionProvider
	// Credentials overrides the provider-level AWS credentials for this
	// subscription's IAM signing.
	Credentials *credentials.Credentials

	// ExtraHeaders is a static mapping merged into the authorization
	// headers of every frame for this subscription.
	ExtraHeaders map[string]string
	// ExtraHeadersFunc is an async supplier, evaluated before every frame
	// that needs headers; wins over ExtraHeaders if both are set.
	ExtraHeadersFunc authheader.ExtraHeadersFunc

	// UserAgentDetail is merged into the library's user-agent header.
	UserAgentDetail map[string]string

	// Observer receives this subscription's lifecycle (spec §3).
	Observer Observer
}

func (o SubscribeOptions) validate() error {
	if o.Endpoint == "" {
		return &ValidationError{Field: "endpoint"}
	}
	if o.Query == "" {
		return &ValidationError{Field: "query"}
	}
	if o.Variables == nil {
		return &ValidationError{Field: "variables"}
	}
	return nil
}

// Package authheader implements the AuthHeaderBuilder of spec §4.1: it
// produces the per-mode authorization header mapping embedded into the
// handshake query string and into every GQL_START frame's
// extensions.authorization.
package authheader

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	v4 "github.com/aws/aws-sdk-go/aws/signer/v4"
)

// Mode selects which builder arm produces the header mapping (spec §4.1).
type Mode string

const (
	ModeAPIKey   Mode = "apiKey"
	ModeIAM      Mode = "iam"
	ModeOIDC     Mode = "oidc"
	ModeUserPool Mode = "userPool"
	ModeLambda   Mode = "lambda"
	ModeNone     Mode = "none"
)

// SessionProvider is the out-of-scope auth-session provider (spec §1):
// something else acquires tokens, this package only asks for the current
// one. oidc and userPool modes call Token; apiKey/iam never do.
type SessionProvider interface {
	// Token returns the current bearer access token.
	Token(ctx context.Context) (string, error)
}

// ExtraHeadersFunc is the caller-supplied async extra-headers function
// described in spec §4.1 ("an async function of {url, queryString}").
type ExtraHeadersFunc func(ctx context.Context, url, queryString string) (map[string]string, error)

// Config collects everything a Builder needs across all modes. Only the
// fields relevant to the configured Mode are consulted; see Build.
type Config struct {
	Mode Mode

	// Endpoint is the HTTPS AppSync GraphQL endpoint (spec §6: "host must
	// always be present for IAM/SIGV4 and is the hostname of the HTTPS
	// endpoint, not the WebSocket host").
	Endpoint string
	// Region is the AWS region, required for ModeIAM.
	Region string

	// APIKey feeds ModeAPIKey.
	APIKey string
	// AuthToken is the caller-supplied explicit bearer token. When set it
	// takes precedence over any ExtraHeaders-derived Authorization, per
	// spec §4.1.
	AuthToken string

	// Session resolves access tokens for ModeOIDC/ModeUserPool.
	Session SessionProvider

	// ExtraHeaders is either a static mapping or an async supplier,
	// merged into every built header set (spec §4.1, §6). At most one of
	// StaticExtraHeaders/ExtraHeaders should be set; ExtraHeaders wins if
	// both are.
	StaticExtraHeaders map[string]string
	ExtraHeaders       ExtraHeadersFunc

	// LibraryConfigHeaders is an additional async supplier merged in
	// ahead of ExtraHeaders (spec §6 "libraryConfigHeaders (async
	// supplier)"), used for headers the library itself wants to attach
	// (e.g. a user-agent) independent of caller configuration.
	LibraryConfigHeaders ExtraHeadersFunc

	// Credentials supplies AWS credentials for SigV4 signing (ModeIAM).
	// Defaults to credentials.NewEnvCredentials() (environment variables
	// only) if nil.
	Credentials *credentials.Credentials
}

// BuildRequest parameterizes one Build call: the same Config produces
// different signed output for the handshake (canonicalUri "/connect",
// payload "{}") versus a per-subscription start frame (canonicalUri "/",
// payload the GQL_START data string), per spec §4.1 and §4.4 step 1.
type BuildRequest struct {
	CanonicalURI string
	Payload      string
	// QueryString is passed through to ExtraHeaders/LibraryConfigHeaders
	// callbacks, matching spec §4.1's {url, queryString} shape.
	QueryString string
}

// Builder produces an authorization header mapping for a given mode.
type Builder interface {
	Build(ctx context.Context, cfg Config, req BuildRequest) (map[string]string, error)
}

// ErrMissingToken is returned by the lambda/none and oidc/userPool arms
// when no token is available (spec §7 AuthError: "header construction
// fails or token missing").
var ErrMissingToken = fmt.Errorf("authheader: no authorization token available")

// New dispatches to the builder arm for cfg.Mode. This is a pure function
// from mode to builder (spec §9's "dynamic dispatch by auth mode ...
// modeled as a tagged variant with one arm per mode").
func New(mode Mode) (Builder, error) {
	switch mode {
	case ModeAPIKey:
		return apiKeyBuilder{}, nil
	case ModeIAM:
		return iamBuilder{}, nil
	case ModeOIDC, ModeUserPool:
		return tokenBuilder{}, nil
	case ModeLambda, ModeNone:
		return bearerBuilder{}, nil
	default:
		return nil, fmt.Errorf("authheader: unknown auth mode %q", mode)
	}
}

// hostOf extracts the hostname from an HTTPS endpoint URL, used by every
// arm (spec §4.1: "host" is present in every mode's output).
func hostOf(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("authheader: parse endpoint: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("authheader: endpoint %q has no host", endpoint)
	}
	return u.Host, nil
}

// mergeExtra resolves LibraryConfigHeaders and ExtraHeaders/StaticExtraHeaders
// (in that order, later entries overwriting earlier ones) into base, then
// applies the explicit-bearer-wins rule from spec §4.1.
func mergeExtra(ctx context.Context, cfg Config, req BuildRequest, base map[string]string) (map[string]string, error) {
	if cfg.LibraryConfigHeaders != nil {
		extra, err := cfg.LibraryConfigHeaders(ctx, cfg.Endpoint, req.QueryString)
		if err != nil {
			return nil, fmt.Errorf("authheader: library config headers: %w", err)
		}
		for k, v := range extra {
			base[k] = v
		}
	}

	switch {
	case cfg.ExtraHeaders != nil:
		extra, err := cfg.ExtraHeaders(ctx, cfg.Endpoint, req.QueryString)
		if err != nil {
			return nil, fmt.Errorf("authheader: extra headers: %w", err)
		}
		for k, v := range extra {
			base[k] = v
		}
	case cfg.StaticExtraHeaders != nil:
		for k, v := range cfg.StaticExtraHeaders {
			base[k] = v
		}
	}

	if cfg.AuthToken != "" {
		base["Authorization"] = cfg.AuthToken
	}
	return base, nil
}

type apiKeyBuilder struct{}

func (apiKeyBuilder) Build(ctx context.Context, cfg Config, req BuildRequest) (map[string]string, error) {
	host, err := hostOf(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		"host":       host,
		"x-amz-date": time.Now().UTC().Format("20060102T150405Z"),
		"x-api-key":  cfg.APIKey,
	}
	return mergeExtra(ctx, cfg, req, headers)
}

type bearerBuilder struct{}

func (bearerBuilder) Build(ctx context.Context, cfg Config, req BuildRequest) (map[string]string, error) {
	host, err := hostOf(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"host": host}
	if cfg.AuthToken != "" {
		headers["Authorization"] = cfg.AuthToken
	}
	headers, err = mergeExtra(ctx, cfg, req, headers)
	if err != nil {
		return nil, err
	}
	if _, ok := headers["Authorization"]; !ok {
		return nil, ErrMissingToken
	}
	return headers, nil
}

type tokenBuilder struct{}

func (tokenBuilder) Build(ctx context.Context, cfg Config, req BuildRequest) (map[string]string, error) {
	host, err := hostOf(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"host": host}
	if cfg.AuthToken == "" {
		if cfg.Session == nil {
			return nil, ErrMissingToken
		}
		token, err := cfg.Session.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("authheader: session token: %w", err)
		}
		if token == "" {
			return nil, ErrMissingToken
		}
		headers["Authorization"] = token
	}
	return mergeExtra(ctx, cfg, req, headers)
}

// iamBuilder signs a synthetic POST request the way AWS AppSync's
// realtime handshake requires (spec §4.1 "iam" arm): method=POST,
// url=endpoint+canonicalUri, body=payload, with the fixed realtime
// header set, using the AWS SigV4 algorithm via
// github.com/aws/aws-sdk-go/aws/signer/v4 — the standard ecosystem
// SigV4 signer (named, not pack-grounded: see DESIGN.md).
type iamBuilder struct{}

// realtimeAcceptHeader and realtimeContentType are part of the fixed
// header set AppSync's realtime signing expects to be present and
// signed, per spec §4.1.
const (
	realtimeAcceptHeader = "application/json, text/javascript"
	realtimeContentType  = "application/json; charset=UTF-8"
)

func (iamBuilder) Build(ctx context.Context, cfg Config, req BuildRequest) (map[string]string, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("authheader: iam mode requires a region")
	}
	host, err := hostOf(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	signURL := strings.TrimRight(cfg.Endpoint, "/") + req.CanonicalURI
	body := strings.NewReader(req.Payload)

	httpReq, err := newSignableRequest(signURL, body)
	if err != nil {
		return nil, fmt.Errorf("authheader: build signable request: %w", err)
	}
	httpReq.Header.Set("accept", realtimeAcceptHeader)
	httpReq.Header.Set("content-encoding", "amz-1.0")
	httpReq.Header.Set("content-type", realtimeContentType)
	httpReq.Header.Set("host", host)

	creds := cfg.Credentials
	if creds == nil {
		creds = credentials.NewEnvCredentials()
	}
	signer := v4.NewSigner(creds)
	_, err = signer.Sign(httpReq, body, "appsync", cfg.Region, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("authheader: sigv4 sign: %w", err)
	}

	headers := map[string]string{"host": host}
	for key := range httpReq.Header {
		headers[strings.ToLower(key)] = httpReq.Header.Get(key)
	}
	return mergeExtra(ctx, cfg, req, headers)
}

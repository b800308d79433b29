package authheader

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "https://abcdefghijklmnopqrstuvwxyz.appsync-api.us-east-1.amazonaws.com/graphql"

func TestNew_UnknownMode(t *testing.T) {
	_, err := New("bogus")
	assert.Error(t, err)
}

func TestAPIKeyBuilder(t *testing.T) {
	b, err := New(ModeAPIKey)
	require.NoError(t, err)

	headers, err := b.Build(context.Background(), Config{
		Mode:     ModeAPIKey,
		Endpoint: testEndpoint,
		APIKey:   "da2-fakekey",
	}, BuildRequest{CanonicalURI: "/connect", Payload: "{}"})

	require.NoError(t, err)
	assert.Equal(t, "da2-fakekey", headers["x-api-key"])
	assert.Equal(t, "abcdefghijklmnopqrstuvwxyz.appsync-api.us-east-1.amazonaws.com", headers["host"])
	assert.NotEmpty(t, headers["x-amz-date"])
}

func TestBearerBuilder_MissingTokenErrors(t *testing.T) {
	b, err := New(ModeNone)
	require.NoError(t, err)

	_, err = b.Build(context.Background(), Config{Mode: ModeNone, Endpoint: testEndpoint}, BuildRequest{})
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestBearerBuilder_ExplicitAuthToken(t *testing.T) {
	b, err := New(ModeLambda)
	require.NoError(t, err)

	headers, err := b.Build(context.Background(), Config{
		Mode:      ModeLambda,
		Endpoint:  testEndpoint,
		AuthToken: "custom-token",
	}, BuildRequest{})
	require.NoError(t, err)
	assert.Equal(t, "custom-token", headers["Authorization"])
}

type stubSession struct {
	token string
	err   error
}

func (s stubSession) Token(ctx context.Context) (string, error) { return s.token, s.err }

func TestTokenBuilder_UsesSessionProvider(t *testing.T) {
	b, err := New(ModeOIDC)
	require.NoError(t, err)

	headers, err := b.Build(context.Background(), Config{
		Mode:     ModeOIDC,
		Endpoint: testEndpoint,
		Session:  stubSession{token: "eyJhbGciOiJIUzI1NiJ9.e30.sig"},
	}, BuildRequest{})
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOiJIUzI1NiJ9.e30.sig", headers["Authorization"])
}

func TestTokenBuilder_NoSessionErrors(t *testing.T) {
	b, err := New(ModeUserPool)
	require.NoError(t, err)

	_, err = b.Build(context.Background(), Config{Mode: ModeUserPool, Endpoint: testEndpoint}, BuildRequest{})
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestIAMBuilder_SignsAndIncludesHost(t *testing.T) {
	b, err := New(ModeIAM)
	require.NoError(t, err)

	creds := credentials.NewStaticCredentials("AKIAFAKE", "secretfakefakefakefakefakefakefake", "")
	headers, err := b.Build(context.Background(), Config{
		Mode:        ModeIAM,
		Endpoint:    testEndpoint,
		Region:      "us-east-1",
		Credentials: creds,
	}, BuildRequest{CanonicalURI: "/connect", Payload: "{}"})

	require.NoError(t, err)
	assert.Equal(t, "abcdefghijklmnopqrstuvwxyz.appsync-api.us-east-1.amazonaws.com", headers["host"])
	assert.NotEmpty(t, headers["authorization"])
	assert.NotEmpty(t, headers["x-amz-date"])
}

func TestIAMBuilder_RequiresRegion(t *testing.T) {
	b, err := New(ModeIAM)
	require.NoError(t, err)

	_, err = b.Build(context.Background(), Config{Mode: ModeIAM, Endpoint: testEndpoint}, BuildRequest{})
	assert.Error(t, err)
}

func TestMergeExtra_ExplicitAuthTokenWinsOverExtraHeaders(t *testing.T) {
	b, err := New(ModeAPIKey)
	require.NoError(t, err)

	headers, err := b.Build(context.Background(), Config{
		Mode:               ModeAPIKey,
		Endpoint:           testEndpoint,
		APIKey:             "k",
		AuthToken:          "override",
		StaticExtraHeaders: map[string]string{"x-custom": "1"},
	}, BuildRequest{})
	require.NoError(t, err)
	assert.Equal(t, "override", headers["Authorization"])
	assert.Equal(t, "1", headers["x-custom"])
}

func TestTokenExpiry_DecodesUnverified(t *testing.T) {
	// header {"alg":"none"} payload {"exp":9999999999} base64url, no signature validation performed.
	token := "eyJhbGciOiJub25lIn0.eyJleHAiOjk5OTk5OTk5OTl9."
	exp, ok := TokenExpiry(token)
	require.True(t, ok)
	assert.Equal(t, int64(9999999999), exp.Unix())
}

func TestTokenExpiry_OpaqueTokenIsNotOK(t *testing.T) {
	_, ok := TokenExpiry("da2-not-a-jwt")
	assert.False(t, ok)
}

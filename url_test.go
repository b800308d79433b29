package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealtimeURL_StandardEndpoint(t *testing.T) {
	got, err := realtimeURL("https://abcdefghijklmnopqrstuvwxyz.appsync-api.us-east-1.amazonaws.com/graphql")
	require.NoError(t, err)
	assert.Equal(t, "wss://abcdefghijklmnopqrstuvwxyz.appsync-realtime-api.us-east-1.amazonaws.com/graphql", got)
}

func TestRealtimeURL_BetaAlias(t *testing.T) {
	got, err := realtimeURL("https://abcdefghijklmnopqrstuvwxyz.gogi-beta.us-west-2.amazonaws.com/graphql")
	require.NoError(t, err)
	assert.Equal(t, "wss://abcdefghijklmnopqrstuvwxyz.grt-beta.us-west-2.amazonaws.com/graphql", got)
}

func TestRealtimeURL_ChinaRegion(t *testing.T) {
	got, err := realtimeURL("https://abcdefghijklmnopqrstuvwxyz.appsync-api.cn-north-1.amazonaws.com.cn/graphql")
	require.NoError(t, err)
	assert.Equal(t, "wss://abcdefghijklmnopqrstuvwxyz.appsync-realtime-api.cn-north-1.amazonaws.com.cn/graphql", got)
}

func TestRealtimeURL_CustomDomain(t *testing.T) {
	got, err := realtimeURL("https://api.example.com/graphql")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/graphql/realtime", got)
}

func TestRealtimeURL_RejectsNonHTTPS(t *testing.T) {
	_, err := realtimeURL("http://api.example.com/graphql")
	assert.Error(t, err)
}

func TestHandshakeURL_S1Scenario(t *testing.T) {
	base := "wss://abcdefghijklmnopqrstuvwxyz.appsync-realtime-api.us-east-1.amazonaws.com/graphql"
	headers := map[string]string{
		"host":       "abcdefghijklmnopqrstuvwxyz.appsync-api.us-east-1.amazonaws.com",
		"x-api-key":  "FAKE",
		"x-amz-date": "20240101T000000Z",
	}
	got, err := handshakeURL(base, headers)
	require.NoError(t, err)
	assert.Contains(t, got, base+"?header=")
	assert.Contains(t, got, "&payload=e30=")
}

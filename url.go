package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// standardEndpoint matches the canonical AppSync GraphQL endpoint shape
// (spec §4.4 step 2): https://{26}.appsync-api.{region-components}.amazonaws.com(.cn)?/graphql
var standardEndpoint = regexp.MustCompile(`^https://([a-z0-9]{26})\.(appsync-api|gogi-beta)\.([a-z0-9-]+)\.amazonaws\.com(\.cn)?/graphql$`)

// realtimeHostAliases maps the standard-domain host component to its
// realtime counterpart (spec §4.4 step 2: "substitute appsync-api ->
// appsync-realtime-api ... and a beta alias gogi-beta -> grt-beta").
var realtimeHostAliases = map[string]string{
	"appsync-api": "appsync-realtime-api",
	"gogi-beta":   "grt-beta",
}

// realtimeURL derives the wss:// handshake URL from an HTTPS AppSync
// endpoint (spec §4.4 step 2, §8 boundary behaviors, §6 "Handshake URL
// form").
func realtimeURL(endpoint string) (string, error) {
	if m := standardEndpoint.FindStringSubmatch(endpoint); m != nil {
		alias, ok := realtimeHostAliases[m[2]]
		if !ok {
			return "", fmt.Errorf("realtime: unrecognized standard endpoint alias %q", m[2])
		}
		host := fmt.Sprintf("%s.%s.%s.amazonaws.com%s", m[1], alias, m[3], m[4])
		return "wss://" + host + "/graphql", nil
	}

	// Custom domain: swap https->wss and append /realtime (spec §4.4
	// step 2, §8: "Custom-domain endpoints append /realtime").
	if !strings.HasPrefix(endpoint, "https://") {
		return "", fmt.Errorf("realtime: endpoint must be an https:// URL, got %q", endpoint)
	}
	wss := "wss://" + strings.TrimPrefix(endpoint, "https://")
	return strings.TrimRight(wss, "/") + "/realtime", nil
}

// handshakeURL appends the header/payload query string the AppSync
// realtime handshake requires (spec §4.4 step 3, §6 "Handshake URL
// form", bit-exact): wss://<host>/<graphql|realtime>?header=<base64
// headers>&payload=<base64 "{}">.
func handshakeURL(base string, headers map[string]string) (string, error) {
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("realtime: marshal handshake headers: %w", err)
	}
	headerB64 := base64.StdEncoding.EncodeToString(headerJSON)
	payloadB64 := base64.StdEncoding.EncodeToString([]byte("{}"))
	return fmt.Sprintf("%s?header=%s&payload=%s", base, headerB64, payloadB64), nil
}

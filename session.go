package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/net/context/ctxhttp"

	"github.com/go-appsync/realtime/internal/authheader"
)

// HTTPSessionProvider is a default authheader.SessionProvider for the
// oidc/userPool auth modes: it fetches a bearer token from a caller-
// configured token endpoint, grounded on the teacher's ctxhttp-based
// request plumbing (graphql.go's createRequest/doRaw use
// golang.org/x/net/context/ctxhttp the same way). Token acquisition,
// refresh, and verification policy belongs to the caller (spec §1
// Out-of-scope); this is a minimal convenience for callers who don't
// already have one.
type HTTPSessionProvider struct {
	TokenURL   string
	HTTPClient *http.Client
}

var _ authheader.SessionProvider = (*HTTPSessionProvider)(nil)

type tokenEndpointResponse struct {
	AccessToken string `json:"access_token"`
}

// Token implements authheader.SessionProvider.
func (p *HTTPSessionProvider) Token(ctx context.Context) (string, error) {
	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := ctxhttp.Get(ctx, client, p.TokenURL)
	if err != nil {
		return "", fmt.Errorf("realtime: fetch session token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("realtime: fetch session token: unexpected status %d", resp.StatusCode)
	}
	var body tokenEndpointResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("realtime: decode session token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", authheader.ErrMissingToken
	}
	return body.AccessToken, nil
}

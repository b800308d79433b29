package authheader

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry decodes a bearer token's exp claim for telemetry only. It
// never verifies the token's signature — verification is the injected
// SessionProvider's responsibility (spec §1 Out-of-scope: "token
// acquisition/refresh/verification"). ok is false for a token that is
// not a parseable JWT or carries no exp claim, e.g. an opaque API key.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	expClaim, err := claims.GetExpirationTime()
	if err != nil || expClaim == nil {
		return time.Time{}, false
	}
	return expClaim.Time, true
}

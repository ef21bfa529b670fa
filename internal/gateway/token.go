package gateway

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry returns the expiry timestamp encoded in a JWT access token.
//
// The signature is not verified. This is only used for client control flow
// such as warning before a doomed reconnect; the gateway remains the source of
// truth and will reject a stale token.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// tokenExpired reports whether the token carries an exp claim in the past.
// Opaque (non-JWT) tokens are never considered expired.
func tokenExpired(token string, now time.Time) bool {
	exp, ok := TokenExpiry(token)
	if !ok {
		return false
	}
	return !now.Before(exp)
}

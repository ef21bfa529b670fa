package gateway

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{"exp": exp.Unix()})

	got, ok := TokenExpiry(token)
	require.True(t, ok)
	require.True(t, got.Equal(exp))
}

func TestTokenExpiryWithoutClaim(t *testing.T) {
	t.Parallel()

	token := signedToken(t, jwt.MapClaims{"sub": "someone"})
	_, ok := TokenExpiry(token)
	require.False(t, ok)
}

func TestTokenExpiryOpaqueToken(t *testing.T) {
	t.Parallel()

	_, ok := TokenExpiry("not-a-jwt")
	require.False(t, ok)
	_, ok = TokenExpiry("")
	require.False(t, ok)
}

func TestTokenExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fresh := signedToken(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()})
	stale := signedToken(t, jwt.MapClaims{"exp": now.Add(-time.Hour).Unix()})

	require.False(t, tokenExpired(fresh, now))
	require.True(t, tokenExpired(stale, now))

	// Opaque tokens carry no expiry information.
	require.False(t, tokenExpired("opaque-token", now))
}

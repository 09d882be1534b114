package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortalTokenRoundTrip(t *testing.T) {
	tok, err := NewPortalToken("s3cret", "MGMT001", "management", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Exp, 5*time.Second)

	claims, err := ParsePortalToken("s3cret", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "MGMT001", claims.Subject)
	assert.Equal(t, "management", claims.Portal)
}

func TestParsePortalTokenRejects(t *testing.T) {
	good, err := NewPortalToken("s3cret", "SEVA001", "seva", time.Hour)
	require.NoError(t, err)
	expired, err := NewPortalToken("s3cret", "SEVA001", "seva", -time.Minute)
	require.NoError(t, err)
	noPortal, err := NewPortalToken("s3cret", "SEVA001", "", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x", "portal": "seva"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]struct{ secret, raw string }{
		"wrong secret": {"other", good.Token},
		"expired":      {"s3cret", expired.Token},
		"no portal":    {"s3cret", noPortal.Token},
		"alg none":     {"s3cret", none},
		"garbage":      {"s3cret", "not.a.jwt"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePortalToken(tc.secret, tc.raw)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

package utils // package utils provides helpers for portal identity tokens

import (
	"errors"
	"fmt"
	"time" // time utilities for generating expirations

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and verifying signed tokens
)

// PortalClaims are the claims carried by a portal identity token. Subject
// identifies the person (for example a staff id), Portal the front-end the
// token is valid for.
type PortalClaims struct {
	Portal string `json:"portal"`
	jwt.RegisteredClaims
}

// PortalToken is a signed token along with its expiry.
type PortalToken struct {
	Token string    `json:"token"`      // the serialized JWT string
	Exp   time.Time `json:"expires_at"` // the UTC expiration time
}

// ErrInvalidToken is returned by ParsePortalToken for any token that does
// not verify.
var ErrInvalidToken = errors.New("invalid token")

// NewPortalToken builds and signs an HS256 JWT for subject on portal.
func NewPortalToken(secret, subject, portal string, ttl time.Duration) (PortalToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := PortalClaims{
		Portal: portal,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return PortalToken{}, fmt.Errorf("sign token: %w", err)
	}
	return PortalToken{Token: signed, Exp: exp}, nil
}

// ParsePortalToken verifies raw with secret and returns its claims. Only
// HMAC signatures are accepted.
func ParsePortalToken(secret, raw string) (*PortalClaims, error) {
	claims := &PortalClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		// Reject tokens signed with anything but HMAC.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.Portal == "" {
		return nil, fmt.Errorf("%w: missing subject or portal", ErrInvalidToken)
	}
	return claims, nil
}

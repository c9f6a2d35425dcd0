// Package auth inspects bearer tokens before they are attached to remote
// calls. Tokens are issued and verified by the backend; the client only reads
// the registered claims to avoid replaying a queue with an expired token.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned when a token is opaque rather than a JWT.
var ErrNotJWT = errors.New("token is not a JWT")

// TokenInfo holds the claims the client cares about.
type TokenInfo struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time
}

// HasExpiry reports whether the token carries an exp claim.
func (i *TokenInfo) HasExpiry() bool {
	return !i.ExpiresAt.IsZero()
}

// Inspect reads the registered claims of a JWT without verifying its
// signature. Opaque tokens return ErrNotJWT.
func Inspect(token string) (*TokenInfo, error) {
	if token == "" {
		return nil, ErrNotJWT
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	info := &TokenInfo{}
	info.Subject, _ = claims.GetSubject()
	info.Issuer, _ = claims.GetIssuer()

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("read exp claim: %w", err)
	}
	if exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}

// Expired reports whether token is a JWT whose exp claim is before now.
// Opaque tokens and tokens without exp never count as expired.
func Expired(token string, now time.Time) bool {
	info, err := Inspect(token)
	if err != nil || !info.HasExpiry() {
		return false
	}
	return !now.Before(info.ExpiresAt)
}

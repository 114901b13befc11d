package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessClaims holds the claims the EventSphere API puts in its access tokens.
type AccessClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type,omitempty"`
}

// AccessInfo is what the client can learn from an access token. The client never holds the
// signing key, so nothing in AccessInfo is verified and it must not gate requests.
type AccessInfo struct {
	ID        string
	TokenType string
	ExpiresAt time.Time // zero when the token carries no exp
}

// InspectAccess decodes the claims of an access JWT without verifying its signature.
func InspectAccess(token string) (AccessInfo, error) {
	if token == "" {
		return AccessInfo{}, ErrInvalidToken
	}
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return AccessInfo{}, ErrInvalidToken
	}
	info := AccessInfo{ID: claims.ID, TokenType: claims.TokenType}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

// ExpiresWithin reports whether the token expires before now+d. Tokens without exp never do.
func (i AccessInfo) ExpiresWithin(d time.Duration, now time.Time) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return i.ExpiresAt.Before(now.Add(d))
}

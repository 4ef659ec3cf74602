// Package auth issues and checks bearer tokens and holds the HTTP
// middleware that runs in front of the handlers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is how long issued tokens stay valid.
const DefaultTokenTTL = 7 * 24 * time.Hour

const issuer = "truthtag"

// Claims are the JWT claims issued to users.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Tokens issues and validates bearer tokens.
type Tokens struct {
	keys KeySet
	ttl  time.Duration
	now  func() time.Time
}

// NewTokens creates a token service. ttl <= 0 selects DefaultTokenTTL.
func NewTokens(keys KeySet, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{keys: keys, ttl: ttl, now: time.Now}
}

// Issue signs a token for the user.
func (t *Tokens) Issue(ctx context.Context, userID, email string) (string, error) {
	now := t.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		UserID: userID,
		Email:  email,
	}
	return t.keys.Sign(ctx, claims)
}

// Validate parses a token and checks signature, expiry and subject.
func (t *Tokens) Validate(tokenStr string) (*Claims, error) {
	if t == nil || t.keys == nil {
		return nil, errors.New("validator uninitialized")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, t.keys.KeyFunc(),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user")
	}
	return claims, nil
}

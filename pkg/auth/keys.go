package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet signs tokens and resolves verification keys.
type KeySet interface {
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	KeyFunc() jwt.Keyfunc
}

// HMACKeySet signs with a single shared secret (HS256).
type HMACKeySet struct {
	kid    string
	secret []byte
}

// NewHMACKeySet returns a key set for secret.
func NewHMACKeySet(secret string) (*HMACKeySet, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	sum := sha256.Sum256([]byte(secret))
	return &HMACKeySet{
		kid:    "hs-" + hex.EncodeToString(sum[:4]),
		secret: []byte(secret),
	}, nil
}

// NewEphemeralKeySet generates a random secret. Tokens do not survive a
// restart.
func NewEphemeralKeySet() (*HMACKeySet, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("auth: generate secret: %w", err)
	}
	return NewHMACKeySet(hex.EncodeToString(b))
}

func (ks *HMACKeySet) Sign(_ context.Context, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = ks.kid
	return token.SignedString(ks.secret)
}

func (ks *HMACKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if kid, ok := token.Header["kid"].(string); ok && kid != ks.kid {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return ks.secret, nil
	}
}

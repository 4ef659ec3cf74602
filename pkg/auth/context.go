package auth

import (
	"context"
	"errors"
)

type principalKey struct{}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Email  string
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal returns the caller attached by the middleware.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok {
		return Principal{}, errors.New("no principal in context")
	}
	return p, nil
}

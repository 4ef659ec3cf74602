package auth

import (
	"net/http"
	"strings"

	"github.com/truthtag/truthtag/pkg/api"
)

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Require rejects requests without a valid bearer token. A nil Tokens
// rejects everything.
func Require(tokens *Tokens) api.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				api.WriteUnauthorized(w, "No token provided")
				return
			}
			claims, err := tokens.Validate(token)
			if err != nil {
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			ctx := WithPrincipal(r.Context(), Principal{UserID: claims.UserID, Email: claims.Email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Optional attaches the principal when a valid token is sent and lets the
// request through either way. Invalid tokens are still rejected.
func Optional(tokens *Tokens) api.Middleware {
	required := Require(tokens)
	return func(next http.Handler) http.Handler {
		strict := required(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bearerToken(r) == "" {
				next.ServeHTTP(w, r)
				return
			}
			strict.ServeHTTP(w, r)
		})
	}
}

// Gate picks Require or Optional.
func Gate(tokens *Tokens, required bool) api.Middleware {
	if required {
		return Require(tokens)
	}
	return Optional(tokens)
}

package auth

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/truthtag/truthtag/pkg/api"
	"github.com/truthtag/truthtag/pkg/limiter"
)

// RateLimit enforces a per-client budget. Authenticated callers are keyed by
// user id, everyone else by remote IP. A nil store disables limiting, and
// store errors fail open.
func RateLimit(store limiter.Store, policy limiter.Policy) api.Middleware {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			if p, err := GetPrincipal(r.Context()); err == nil {
				key = "user:" + p.UserID
			}

			allowed, err := store.Allow(r.Context(), key, policy, 1)
			if err != nil {
				slog.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				api.WriteTooManyRequests(w, policy.RetryAfter())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

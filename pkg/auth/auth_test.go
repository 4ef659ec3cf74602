package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthtag/truthtag/pkg/limiter"
)

func newTokens(t *testing.T, secret string) *Tokens {
	t.Helper()
	ks, err := NewHMACKeySet(secret)
	require.NoError(t, err)
	return NewTokens(ks, time.Hour)
}

func TestTokens_IssueValidate(t *testing.T) {
	tokens := newTokens(t, "s3cret")

	tok, err := tokens.Issue(context.Background(), "u-1", "a@example.com")
	require.NoError(t, err)

	claims, err := tokens.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "a@example.com", claims.Email)
}

func TestTokens_Rejects(t *testing.T) {
	tokens := newTokens(t, "s3cret")
	other := newTokens(t, "different")

	foreign, err := other.Issue(context.Background(), "u-1", "a@example.com")
	require.NoError(t, err)
	_, err = tokens.Validate(foreign)
	assert.Error(t, err, "other secret")

	expired := newTokens(t, "s3cret")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(context.Background(), "u-1", "a@example.com")
	require.NoError(t, err)
	_, err = tokens.Validate(old)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Validate(unsigned)
	assert.Error(t, err, "alg none")

	_, err = tokens.Validate("garbage")
	assert.Error(t, err)

	var nilTokens *Tokens
	_, err = nilTokens.Validate("x")
	assert.Error(t, err)
}

func TestNewHMACKeySet_Empty(t *testing.T) {
	_, err := NewHMACKeySet("")
	assert.Error(t, err)

	ks, err := NewEphemeralKeySet()
	require.NoError(t, err)
	assert.NotEmpty(t, ks.secret)
}

func okHandler(seen *Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, err := GetPrincipal(r.Context()); err == nil && seen != nil {
			*seen = p
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequire(t *testing.T) {
	tokens := newTokens(t, "s3cret")
	tok, err := tokens.Issue(context.Background(), "u-7", "b@example.com")
	require.NoError(t, err)

	var seen Principal
	h := Require(tokens)(okHandler(&seen))

	tests := []struct {
		name   string
		header string
		want   int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, `{"error":"No token provided"}`},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, `{"error":"No token provided"}`},
		{"invalid", "Bearer nope", http.StatusUnauthorized, `{"error":"Invalid or expired token"}`},
		{"valid", "Bearer " + tok, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, rec.Body.String())
			}
		})
	}
	assert.Equal(t, Principal{UserID: "u-7", Email: "b@example.com"}, seen)
}

func TestGate_Optional(t *testing.T) {
	tokens := newTokens(t, "s3cret")
	h := Gate(tokens, false)(okHandler(nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/verify", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "anonymous allowed")

	req := httptest.NewRequest(http.MethodPost, "/verify", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "bad token still rejected")

	rec = httptest.NewRecorder()
	Gate(tokens, true)(okHandler(nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/verify", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler(nil))

	req := httptest.NewRequest(http.MethodOptions, "/verify", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	assert.True(t, isOriginAllowed("https://any.example", nil))
}

func TestRequestID(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, got, 36)
	assert.Equal(t, got, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "client-abc", got)

	assert.Empty(t, GetRequestID(context.Background()))
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, limiter.Policy, int) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	policy := limiter.Policy{RPM: 60, Burst: 2}
	h := RateLimit(limiter.NewMemoryStore(), policy)(okHandler(nil))

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/verify", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1111").Code)
	assert.Equal(t, http.StatusOK, do("10.0.0.1:2222").Code)
	limited := do("10.0.0.1:3333")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1111").Code)

	open := RateLimit(failingStore{}, policy)(okHandler(nil))
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "fails open")

	rec = httptest.NewRecorder()
	RateLimit(nil, policy)(okHandler(nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_KeysByUser(t *testing.T) {
	h := RateLimit(limiter.NewMemoryStore(), limiter.Policy{RPM: 60, Burst: 1})(okHandler(nil))

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/verify", nil)
		req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: user}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, do("a"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
	assert.Equal(t, http.StatusOK, do("b"), "same IP, different user")
}

package users

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/truthtag/truthtag/pkg/api"
	"github.com/truthtag/truthtag/pkg/auth"
	"github.com/truthtag/truthtag/pkg/verify"
)

const maxBodyBytes = 1 << 20

// View is the public JSON form of a user.
type View struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Verifications *int64 `json:"verifications,omitempty"`
}

func viewOf(u *User) View {
	return View{ID: u.ID, Email: u.Email, Name: u.Name}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type tokenResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
	User    View   `json:"user"`
}

// Handler serves the /auth routes.
type Handler struct {
	svc    *Service
	tokens *auth.Tokens
	logger *slog.Logger
}

// NewHandler creates the handler.
func NewHandler(svc *Service, tokens *auth.Tokens, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, tokens: tokens, logger: logger.With("component", "users")}
}

// Mount adds the routes to mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	protected := auth.Require(h.tokens)
	mux.HandleFunc("POST /auth/register", h.HandleRegister)
	mux.HandleFunc("POST /auth/login", h.HandleLogin)
	mux.Handle("POST /auth/verify", protected(http.HandlerFunc(h.HandleVerifyToken)))
	mux.Handle("GET /auth/profile", protected(http.HandlerFunc(h.HandleProfile)))
	mux.Handle("POST /auth/logout", protected(http.HandlerFunc(h.HandleLogout)))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}

	u, err := h.svc.Register(r.Context(), req.Email, req.Password, req.Name)
	switch {
	case errors.Is(err, ErrMissingFields):
		api.WriteBadRequest(w, "Missing required fields")
		return
	case errors.Is(err, ErrInvalidEmail):
		api.WriteBadRequest(w, "Invalid email address")
		return
	case errors.Is(err, ErrPasswordTooLong):
		api.WriteBadRequest(w, "Password too long")
		return
	case errors.Is(err, ErrDuplicateEmail):
		api.WriteConflict(w, "User already exists")
		return
	case err != nil:
		api.WriteInternal(w, r, "Registration failed", err)
		return
	}

	h.respondWithToken(w, r, http.StatusCreated, "User registered successfully", u)
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}

	u, err := h.svc.Authenticate(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, ErrMissingFields):
		api.WriteBadRequest(w, "Email and password required")
		return
	case errors.Is(err, ErrInvalidCredentials):
		api.WriteUnauthorized(w, "Invalid credentials")
		return
	case err != nil:
		api.WriteInternal(w, r, "Login failed", err)
		return
	}

	h.respondWithToken(w, r, http.StatusOK, "Login successful", u)
}

func (h *Handler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, msg string, u *User) {
	token, err := h.tokens.Issue(r.Context(), u.ID, u.Email)
	if err != nil {
		api.WriteInternal(w, r, "Token issuance failed", err)
		return
	}
	api.WriteJSON(w, status, tokenResponse{Message: msg, Token: token, User: viewOf(u)})
}

// currentUser loads the authenticated user. It writes the error response
// and returns nil when that fails.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) *User {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return nil
	}
	u, err := h.svc.Get(r.Context(), p.UserID)
	if errors.Is(err, ErrNotFound) {
		api.WriteNotFound(w, "User not found")
		return nil
	}
	if err != nil {
		api.WriteInternal(w, r, "Failed to fetch user", err)
		return nil
	}
	return u
}

func (h *Handler) HandleVerifyToken(w http.ResponseWriter, r *http.Request) {
	u := h.currentUser(w, r)
	if u == nil {
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"valid": true, "user": viewOf(u)})
}

func (h *Handler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	u := h.currentUser(w, r)
	if u == nil {
		return
	}
	v := viewOf(u)
	v.Verifications = &u.Verifications
	api.WriteJSON(w, http.StatusOK, map[string]any{"user": v})
}

// HandleLogout is stateless; clients discard the token.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// CountingVerifier credits each attempted verification to the calling user,
// when there is one.
type CountingVerifier struct {
	next   api.Verifier
	svc    *Service
	logger *slog.Logger
}

// NewCountingVerifier wraps next.
func NewCountingVerifier(next api.Verifier, svc *Service, logger *slog.Logger) *CountingVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &CountingVerifier{next: next, svc: svc, logger: logger}
}

func (c *CountingVerifier) Verify(ctx context.Context, content []byte) verify.Outcome {
	out := c.next.Verify(ctx, content)
	if out.Kind == verify.Rejected {
		return out
	}
	if p, err := auth.GetPrincipal(ctx); err == nil {
		if err := c.svc.RecordVerification(ctx, p.UserID); err != nil {
			c.logger.WarnContext(ctx, "record verification failed", "user", p.UserID, "error", err)
		}
	}
	return out
}

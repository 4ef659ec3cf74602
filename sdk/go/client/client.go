// Package client is a typed Go client for the TruthTag verification API.
// It uses net/http and encoding/json only.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// APIError is returned for any non-2xx response. For a 503 from /verify,
// Partial holds whatever the server could still report.
type APIError struct {
	Status  int
	Message string
	Partial *VerifyResult
}

func (e *APIError) Error() string {
	return fmt.Sprintf("truthtag api %d: %s", e.Status, e.Message)
}

// Client talks to one TruthTag server.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.Token = token }
}

// WithTimeout sets the HTTP timeout. Verification can take as long as the
// server's analysis and commit budgets combined.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// VerifyResult mirrors the /verify body. Fields missing from a degraded
// response keep their zero values; check the Has* flags.
type VerifyResult struct {
	Hash         string   `json:"hash"`
	AIGenerated  *bool    `json:"aiGenerated,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
	BlockchainTx string   `json:"blockchainTx,omitempty"`
}

// HasClassification reports whether the classifier answered.
func (r *VerifyResult) HasClassification() bool {
	return r.AIGenerated != nil && r.Confidence != nil
}

// Recorded reports whether the result was written to the ledger.
func (r *VerifyResult) Recorded() bool {
	return r.BlockchainTx != ""
}

// User is the public account view.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Verifications int64  `json:"verifications,omitempty"`
}

// Session is returned by Register and Login.
type Session struct {
	Message string `json:"message"`
	Token   string `json:"token"`
	User    User   `json:"user"`
}

// Health is the /health body.
type Health struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	LedgerMode string    `json:"ledgerMode"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, reader, "application/json")
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, raw)
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func apiError(status int, raw []byte) *APIError {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
		eb.Error = http.StatusText(status)
	}
	return &APIError{Status: status, Message: eb.Error}
}

// Verify uploads content as a multipart "file" part.
//
// On 200 it returns the full result. On 503 it returns the partial result
// and an *APIError whose Partial points at the same value.
func (c *Client) Verify(ctx context.Context, filename string, content io.Reader) (*VerifyResult, error) {
	if filename == "" {
		filename = "file.bin"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/verify", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var out VerifyResult
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode verify response: %w", err)
		}
		return &out, nil
	case resp.StatusCode == http.StatusServiceUnavailable:
		apiErr := apiError(resp.StatusCode, raw)
		var partial VerifyResult
		if err := json.Unmarshal(raw, &partial); err == nil && partial.Hash != "" {
			apiErr.Partial = &partial
			return &partial, apiErr
		}
		return nil, apiErr
	default:
		return nil, apiError(resp.StatusCode, raw)
	}
}

// Register creates an account and stores the returned token on the client.
func (c *Client) Register(ctx context.Context, email, password, name string) (*Session, error) {
	var out Session
	err := c.doJSON(ctx, http.MethodPost, "/auth/register",
		map[string]string{"email": email, "password": password, "name": name}, &out)
	if err != nil {
		return nil, err
	}
	c.Token = out.Token
	return &out, nil
}

// Login authenticates and stores the returned token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var out Session
	err := c.doJSON(ctx, http.MethodPost, "/auth/login",
		map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	c.Token = out.Token
	return &out, nil
}

// Profile returns the caller's account.
func (c *Client) Profile(ctx context.Context) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/auth/profile", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	// DefaultEndpoint is the classifier's analyze route in local deployments.
	DefaultEndpoint = "http://127.0.0.1:8000/analyze"
	// DefaultFilename is sent when the caller has no original filename.
	DefaultFilename = "file.bin"

	maxResponseBytes = 64 << 10
)

// Client submits content to the external classification service.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport. The client should not set its own
// Timeout; each call is bounded by the timeout passed to Analyze.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the given analyze endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		logger:     slog.Default().With("component", "analysis"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured analyze URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Analyze classifies content. It makes exactly one request and never retries.
// When timeout elapses first the request is cancelled and an error matching
// ErrTimeout is returned.
func (c *Client) Analyze(ctx context.Context, content []byte, timeout time.Duration) (Result, error) {
	return c.AnalyzeFile(ctx, DefaultFilename, content, timeout)
}

// AnalyzeFile is Analyze with an explicit filename for the multipart part.
func (c *Client) AnalyzeFile(ctx context.Context, filename string, content []byte, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, contentType, err := encodeMultipart(filename, content)
	if err != nil {
		return Result{}, serviceError(0, "encode upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return Result{}, serviceError(0, "create request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isDeadline(ctx, err) {
			return Result{}, timeoutError(err)
		}
		return Result{}, serviceError(0, "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isDeadline(ctx, err) {
			return Result{}, timeoutError(err)
		}
		return Result{}, serviceError(resp.StatusCode, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, serviceError(resp.StatusCode, upstreamMessage(raw, resp.Status), nil)
	}

	res, err := decodeResult(raw)
	if err != nil {
		return Result{}, serviceError(resp.StatusCode, "malformed classification response", err)
	}

	c.logger.DebugContext(ctx, "classification received",
		"ai_generated", res.AIGenerated,
		"score", res.Score,
		"duration", time.Since(start),
	)
	return res, nil
}

// Health probes the classifier's /health route on the same host.
func (c *Client) Health(ctx context.Context) error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("analysis: parse endpoint: %w", err)
	}
	u.Path = "/health"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("analysis: create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("analysis: health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("analysis: health: status %d", resp.StatusCode)
	}
	return nil
}

func encodeMultipart(filename string, content []byte) (io.Reader, string, error) {
	if filename == "" {
		filename = DefaultFilename
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func isDeadline(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// upstreamMessage pulls a human readable reason out of an error body.
// FastAPI uses "detail"; other services use "error" or "message".
func upstreamMessage(raw []byte, fallback string) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if v, ok := body[key]; ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
				if b, err := json.Marshal(v); err == nil {
					return string(b)
				}
			}
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fallback
	}
	if len(text) > 256 {
		text = text[:256]
	}
	return text
}

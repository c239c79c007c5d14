// handlers/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"mailtriage/internal/instrumentation"
	"mailtriage/internal/logging"
	"mailtriage/models"
)

// Backend operation names, used for metrics and spans.
const (
	OpSearch = "search"
	OpAction = "action"
	OpPing   = "ping"
)

const maxBodySize = 10 << 20

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s: unexpected status %d", e.Op, e.StatusCode)
}

// Client talks to the email backend over HTTP.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMetrics records backend calls on m.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the backend rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend URL %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q: missing host", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.WithComponent(c.logger, "backend")
	return c, nil
}

// BaseURL returns the backend root the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Search runs GET /email/search?keyword=. The returned response keeps the
// body exactly as received in Raw.
func (c *Client) Search(ctx context.Context, keyword string) (*models.SearchResponse, error) {
	ctx, span := instrumentation.StartSpan(ctx, "backend.search",
		attribute.String(instrumentation.SpanAttrOperation, OpSearch))
	var err error
	defer func() { instrumentation.EndSpan(span, err) }()

	q := url.Values{}
	q.Set("keyword", keyword)

	body, err := c.do(ctx, OpSearch, http.MethodGet, "/email/search", q, nil)
	if err != nil {
		return nil, err
	}

	resp, err := models.DecodeSearchResponse(body)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Act runs POST /email/action.
func (c *Client) Act(ctx context.Context, req models.ActionRequest) (*models.ActionResult, error) {
	ctx, span := instrumentation.StartSpan(ctx, "backend.action",
		attribute.String(instrumentation.SpanAttrOperation, OpAction),
		attribute.String(instrumentation.SpanAttrAction, req.Action.String()),
		attribute.StringSlice(instrumentation.SpanAttrEmailID, req.EmailIDs))
	var err error
	defer func() { instrumentation.EndSpan(span, err) }()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action request: %w", err)
	}

	body, err := c.do(ctx, OpAction, http.MethodPost, "/email/action", nil, payload)
	if err != nil {
		return nil, err
	}

	var result models.ActionResult
	if err = json.Unmarshal(body, &result); err != nil {
		err = fmt.Errorf("failed to decode action response: %w", err)
		return nil, err
	}
	return &result, nil
}

// Ping calls the backend root and returns its status message.
func (c *Client) Ping(ctx context.Context) (string, error) {
	ctx, span := instrumentation.StartSpan(ctx, "backend.ping",
		attribute.String(instrumentation.SpanAttrOperation, OpPing))
	var err error
	defer func() { instrumentation.EndSpan(span, err) }()

	body, err := c.do(ctx, OpPing, http.MethodGet, "/", nil, nil)
	if err != nil {
		return "", err
	}

	var msg struct {
		Message string `json:"message"`
	}
	if jsonErr := json.Unmarshal(body, &msg); jsonErr != nil || msg.Message == "" {
		return strings.TrimSpace(string(body)), nil
	}
	return msg.Message, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload []byte) ([]byte, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordBackendRequest(ctx, op, 0, time.Since(start))
		c.logger.ErrorContext(ctx, "backend request failed",
			logging.Operation(op), logging.Err(err))
		return nil, fmt.Errorf("backend %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	c.metrics.RecordBackendRequest(ctx, op, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("backend %s: failed to read body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
		c.logger.ErrorContext(ctx, "backend returned error status",
			logging.Operation(op),
			slog.Int("status_code", resp.StatusCode),
			logging.Err(serr))
		return nil, serr
	}

	c.logger.DebugContext(ctx, "backend request completed",
		logging.Operation(op),
		slog.Int("status_code", resp.StatusCode),
		slog.Duration(logging.KeyDuration, time.Since(start)))
	return body, nil
}


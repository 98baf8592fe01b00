// Package transport resolves declarative HTTP request descriptors and sends
// them. The engine itself sets no timeouts; callers bound latency with
// WithTimeout or the supplied context.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

var (
	ErrMissingURL   = errors.New("transport: url is required")
	ErrNoClient     = errors.New("transport: http client is not configured")
	ErrInvalidQuery = errors.New("transport: invalid query parameter")
)

// Request is a fully resolved outgoing request.
type Request struct {
	URL     string
	Method  string
	Query   map[string]string
	Body    any
	Headers map[string]string
}

// Client sends a request and returns the decoded response body.
type Client interface {
	Do(ctx context.Context, req Request) (any, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (any, error)

// Do implements Client.
func (f ClientFunc) Do(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code   int
	Status string
	Body   []byte
}

func (e *StatusError) Error() string {
	return "transport: unexpected status " + e.Status
}

// HTTPClient is the net/http backed Client.
type HTTPClient struct {
	client  *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// Option customises an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient swaps the underlying *http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTimeout bounds every request. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) {
		c.timeout = timeout
	}
}

// WithLogger logs request failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// NewHTTPClient constructs an HTTPClient backed by http.DefaultClient.
func NewHTTPClient(opts ...Option) *HTTPClient {
	c := &HTTPClient{client: http.DefaultClient, logger: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Do sends req. JSON bodies are decoded into maps/slices; anything else comes
// back as a string. An empty body decodes to nil.
func (c *HTTPClient) Do(ctx context.Context, req Request) (any, error) {
	if c == nil || c.client == nil {
		return nil, ErrNoClient
	}
	target, err := BuildURL(req)
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil && method != http.MethodGet && method != http.MethodHead {
		payload, err := sonic.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: encode body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("url", target).Msg("request failed")
		return nil, fmt.Errorf("transport: %s %s: %w", method, target, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: data}
	}
	return DecodeBody(data), nil
}

// DecodeBody decodes JSON when possible and falls back to the raw text.
func DecodeBody(data []byte) any {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	var out any
	if err := sonic.Unmarshal(trimmed, &out); err != nil {
		return string(data)
	}
	return out
}

// BuildURL merges req.Query into req.URL. Keys are encoded in sorted order.
func BuildURL(req Request) (string, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return "", ErrMissingURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("transport: parse url %q: %w", raw, err)
	}
	if len(req.Query) == 0 {
		return parsed.String(), nil
	}
	values := parsed.Query()
	keys := make([]string, 0, len(req.Query))
	for k := range req.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values.Set(k, req.Query[k])
	}
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}

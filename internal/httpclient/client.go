// Package httpclient performs single JSON HTTP exchanges and normalizes their failures.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultTimeout is used when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// RetryConfig configures retries for requests that opt in with CanRetry.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryConfig returns the retry settings used when none are configured.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	}
}

// Request describes one HTTP exchange.
type Request struct {
	Method  string
	URL     string // absolute, or relative to the client's base URL
	Body    any    // JSON-encoded when non-nil
	Query   url.Values
	Headers map[string]string

	// CanRetry allows the client's retry policy for this call. Requests are never
	// retried unless this is set.
	CanRetry bool
}

// Response is the raw result of a successful exchange.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Decode returns the typed view of a response body.
func Decode[T any](r *Response) (T, error) {
	var v T
	if err := r.Decode(&v); err != nil {
		return v, fmt.Errorf("failed to decode response: %w", err)
	}
	return v, nil
}

// Client sends JSON requests to a single API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      *RetryConfig
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRetry sets the retry policy. nil disables retries entirely.
func WithRetry(config *RetryConfig) Option {
	return func(c *Client) {
		c.retry = config
	}
}

// WithRateLimit limits outbound requests to rps per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Send performs the request. Any non-2xx status or network failure is returned
// as *HTTPError.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	if !req.CanRetry || c.retry == nil {
		return c.do(ctx, req)
	}

	var lastErr error
	backoff := c.retry.InitialBackoff

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		resp, err := c.do(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		if attempt < c.retry.MaxRetries {
			log.Debug().
				Err(err).
				Str("method", req.Method).
				Str("url", req.URL).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("Retrying request")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}

			backoff = time.Duration(float64(backoff) * c.retry.Multiplier)
			if backoff > c.retry.MaxBackoff {
				backoff = c.retry.MaxBackoff
			}
		}
	}

	return nil, lastErr
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	target, err := c.resolve(req.URL, req.Query)
	if err != nil {
		return nil, &HTTPError{Method: req.Method, URL: req.URL, Err: err}
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &HTTPError{Method: req.Method, URL: target, Err: err}
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, &HTTPError{Method: req.Method, URL: target, Err: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &HTTPError{Method: req.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &HTTPError{Method: req.Method, URL: target, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	result := &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}

	log.Debug().
		Str("method", req.Method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Str("request_id", requestID).
		Msg("HTTP exchange")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Method: req.Method, URL: target, Response: result}
	}

	return result, nil
}

func (c *Client) resolve(raw string, query url.Values) (string, error) {
	target := raw
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if c.baseURL == "" {
			return "", errors.New("relative URL without base URL")
		}
		target = c.baseURL + "/" + strings.TrimLeft(raw, "/")
	}
	if len(query) == 0 {
		return target, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

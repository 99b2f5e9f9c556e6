// Package apiclient is the JSON-over-HTTP transport shared by the Jira and
// Asana adapters: per-service rate limiting, bounded retries with
// exponential backoff, and status code classification.
package apiclient

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/goalsync/internal/logging"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 5.0
	defaultBurst     = 5
	maxErrorBody     = 4096
)

// ErrorDecoder extracts a human-readable message from an error body.
type ErrorDecoder func(body []byte) string

// Config configures a Client.
type Config struct {
	// Service names the remote in errors and logs.
	Service string
	BaseURL string

	Timeout   time.Duration
	RateLimit float64 // requests per second
	Burst     int
	Retry     RetryConfig

	// HTTPClient, when set, is used instead of a fresh one; Timeout is
	// still applied to it.
	HTTPClient *http.Client

	// Authorize decorates every outgoing request.
	Authorize func(*http.Request)

	DecodeError ErrorDecoder
	UserAgent   string
	Logger      *logging.Logger
}

// Client issues JSON requests against one service.
type Client struct {
	service     string
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	retry       RetryConfig
	authorize   func(*http.Request)
	decodeError ErrorDecoder
	userAgent   string
	logger      *logging.Logger
	now         func() time.Time
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%s: invalid base URL %q", cfg.Service, cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	httpClient.Timeout = timeout

	retry := cfg.Retry
	retry.ApplyDefaults()

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Client{
		service:     cfg.Service,
		baseURL:     base.String(),
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Limit(limit), burst),
		retry:       retry,
		authorize:   cfg.Authorize,
		decodeError: cfg.DecodeError,
		userAgent:   cfg.UserAgent,
		logger:      logger.With(zap.String("service", cfg.Service)),
		now:         time.Now,
	}, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Get issues a GET and decodes a JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Do sends one logical request, retrying transport failures, 429 and 5xx
// up to the configured limit. A nil out discards the response body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", c.service, err)
		}
	}

	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.retry.backoff(attempt)
			var se *StatusError
			if errors.As(lastErr, &se) && se.retryAfter > 0 {
				wait = min(se.retryAfter, c.retry.MaxBackoff)
			}
			c.logger.Warn(ctx, "retrying request after transient error",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", c.retry.MaxRetries),
				zap.Duration("backoff", wait),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter: %w", c.service, err)
		}

		err := c.doOnce(ctx, method, target, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var re *retryableError
		if !errors.As(err, &re) {
			return err
		}
	}

	if c.retry.MaxRetries == 0 {
		return unwrapRetryable(lastErr)
	}
	return fmt.Errorf("%s: giving up after %d retries: %w", c.service, c.retry.MaxRetries, unwrapRetryable(lastErr))
}

func (c *Client) doOnce(ctx context.Context, method, target, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", c.service, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.authorize != nil {
		c.authorize(req)
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &retryableError{err: fmt.Errorf("%s %s %s: request failed: %w", c.service, method, path, err)}
	}
	defer resp.Body.Close()

	c.logger.Trace(ctx, "api response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", c.now().Sub(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{
			Service:    c.service,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    c.errorMessage(raw),
		}
		if se.Temporary() {
			if d, ok := retryAfter(resp.Header, c.now()); ok {
				se.retryAfter = d
			}
			return &retryableError{err: se}
		}
		return se
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s %s %s: failed to parse response: %w", c.service, method, path, err)
	}
	return nil
}

func (c *Client) errorMessage(raw []byte) string {
	if c.decodeError != nil {
		if msg := c.decodeError(raw); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(raw))
}

func unwrapRetryable(err error) error {
	var re *retryableError
	if errors.As(err, &re) {
		return re.err
	}
	return err
}

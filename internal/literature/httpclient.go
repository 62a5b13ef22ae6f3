package literature

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// HTTPClientConfig holds configuration for the rate-limited HTTP client.
type HTTPClientConfig struct {
	// Timeout is the overall request timeout.
	Timeout time.Duration

	// RateLimit is requests per second allowed against the upstream API.
	RateLimit float64

	// BurstSize is the maximum burst of requests.
	BurstSize int

	// MaxRetries is the number of retry attempts for transient failures.
	MaxRetries int

	// RetryDelay is the base delay between retries (exponential backoff).
	RetryDelay time.Duration

	// UserAgent identifies this service to upstream APIs.
	UserAgent string
}

// DefaultHTTPClientConfig returns sensible defaults for literature API access.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:    30 * time.Second,
		RateLimit:  10,
		BurstSize:  10,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		UserAgent:  "Helixir-InteractionDiscovery/1.0",
	}
}

// HTTPClient is a rate-limited HTTP client with retry support for
// transient upstream failures. All requests pass through the rate
// limiter before being sent, so a single client instance shared across
// goroutines enforces a global rate for its upstream API.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

// NewHTTPClient creates a new rate-limited HTTP client.
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}
	if config.BurstSize == 0 {
		config.BurstSize = 10
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 1 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "Helixir-InteractionDiscovery/1.0"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimiter: NewRateLimiter(config.RateLimit, config.BurstSize),
		config:      config,
	}
}

// Do executes an HTTP request with rate limiting and retries.
// The rate limiter blocks until a token is available or the context is canceled.
// Transient failures (HTTP 429, 5xx, network errors) are retried up to
// MaxRetries times with exponential backoff, honoring Retry-After headers.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.resetRequestBody(req); err != nil {
				return nil, fmt.Errorf("reset request body for retry: %w", err)
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < c.config.MaxRetries {
				if waitErr := c.waitForRetry(ctx, attempt, nil); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, lastErr)
		}

		if !c.shouldRetry(resp.StatusCode) {
			return resp, nil
		}

		// Drain and close before retrying so the connection can be reused.
		resp.Body.Close()
		lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)

		if attempt < c.config.MaxRetries {
			if waitErr := c.waitForRetry(ctx, attempt, resp); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// Get is a convenience method for GET requests.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Do(req)
}

// shouldRetry reports whether the status code indicates a transient failure.
func (c *HTTPClient) shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// getRetryDelay computes the delay before the next attempt. A Retry-After
// header, when present and parseable, takes precedence over backoff.
func (c *HTTPClient) getRetryDelay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				return time.Duration(seconds) * time.Second
			}
			if t, err := http.ParseTime(retryAfter); err == nil {
				if d := time.Until(t); d > 0 {
					return d
				}
			}
		}
	}

	// Exponential backoff: RetryDelay * 2^attempt.
	return c.config.RetryDelay * time.Duration(1<<uint(attempt))
}

// waitForRetry sleeps for the computed retry delay or until the context is canceled.
func (c *HTTPClient) waitForRetry(ctx context.Context, attempt int, resp *http.Response) error {
	delay := c.getRetryDelay(attempt, resp)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// resetRequestBody rewinds the request body so the request can be resent.
// Requests built with http.NewRequest from a bytes.Reader or similar have
// GetBody populated automatically.
func (c *HTTPClient) resetRequestBody(req *http.Request) error {
	if req.Body == nil {
		return nil
	}
	if req.GetBody == nil {
		return fmt.Errorf("request body cannot be reset (GetBody is nil)")
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

// RateLimiter exposes the underlying limiter so callers can adjust rates
// at runtime, for example after an API key is configured.
func (c *HTTPClient) RateLimiter() *RateLimiter {
	return c.rateLimiter
}

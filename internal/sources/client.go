package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrUnavailable marks an upstream that could not be reached or answered
// with a non-retryable status.
var ErrUnavailable = errors.New("source unavailable")

// maxBodyBytes bounds how much of a response an adapter will buffer.
const maxBodyBytes = 16 << 20

// maxRetries caps re-sends of one request after a rate limit, 5xx or network
// failure. A source that stays down is reported and tried again next cycle.
const maxRetries = 2

// Client performs GET requests against upstream sources. Rate limits and
// network failures get up to maxRetries re-sends, all inside the caller's
// context, so retries never outlive the adapter's pull deadline.
type Client struct {
	http    *http.Client
	headers http.Header
	maxWait time.Duration
}

// NewClient creates a client with a per-request timeout. maxWait bounds the
// total time spent retrying one request.
func NewClient(timeout, maxWait time.Duration) *Client {
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		headers: http.Header{},
		maxWait: maxWait,
	}
}

// WithHeader returns a copy of c that sends key: value on every request.
func (c *Client) WithHeader(key, value string) *Client {
	clone := *c
	clone.headers = c.headers.Clone()
	clone.headers.Set(key, value)
	return &clone
}

// Get fetches url and returns the response body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		for key, values := range c.headers {
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("failed to perform request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("upstream returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(snippet)))
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to read response body: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = c.maxWait
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5

	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrUnavailable, url, err)
	}
	return body, nil
}

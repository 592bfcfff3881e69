// Package httpx wraps net/http with the fetch policy shared by every source
// adapter: configurable User-Agent, per-request timeout, and bounded
// exponential backoff on transient status codes.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"EpiScanner/internal/retry"
)

const defaultUserAgent = "EpiScanner/1.0 (+https://github.com/episcanner)"

// StatusError reports a non-2xx response after retries were exhausted or for
// a status that is not worth retrying.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

// Retryable reports whether an error is a transient HTTP failure.
// Network-level errors are always transient; status errors only for the
// codes the upstream sources are known to throttle or flap with.
func Retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return true
}

// Client is a retrying HTTP client for listing and bulletin pages.
type Client struct {
	hc        *http.Client
	userAgent string
	policy    retry.Policy
	logger    *slog.Logger
}

// New builds a client. A nil http.Client gets a 30 second timeout.
func New(hc *http.Client, userAgent string, policy retry.Policy, logger *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if policy.MaxAttempts == 0 {
		policy = retry.Default
	}
	policy.Retryable = Retryable
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{hc: hc, userAgent: userAgent, policy: policy, logger: logger}
}

// Get fetches a URL and returns the response body.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	}, rawURL)
}

// Fetch is Get under the name the ingestion pipeline expects of a
// content fetcher.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return c.Get(ctx, rawURL)
}

// PostForm posts url-encoded form values and returns the response body.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) ([]byte, error) {
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, rawURL)
}

func (c *Client) do(ctx context.Context, build func() (*http.Request, error), rawURL string) ([]byte, error) {
	var body []byte
	err := c.policy.Do(ctx, func() error {
		req, err := build()
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.hc.Do(req)
		if err != nil {
			c.logger.Debug("request failed", "url", rawURL, "error", err)
			return fmt.Errorf("request %s: %w", rawURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			c.logger.Debug("unexpected status", "url", rawURL, "status", resp.StatusCode)
			return &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body %s: %w", rawURL, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Package api is the REST client for the portal's notification endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/medfatnasii277/portalbell/internal/model"
)

// Client is a thin HTTP client for the portal REST API.
// It handles Bearer token authentication, JSON decoding, and retrying
// HTTP 429 responses.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMaxRetries sets how many times a 429 response is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// NewClient creates a new portal API client. baseURL is the REST root
// (e.g., http://localhost:8080/api) and token the Bearer credential.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListNotifications returns the user's full notification history,
// newest-first as ordered by the server.
func (c *Client) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	var out []model.Notification
	if err := c.do(ctx, http.MethodGet, "/notifications", &out); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return out, nil
}

// ListUnread returns only the unread notifications.
func (c *Client) ListUnread(ctx context.Context) ([]model.Notification, error) {
	var out []model.Notification
	if err := c.do(ctx, http.MethodGet, "/notifications/unread", &out); err != nil {
		return nil, fmt.Errorf("listing unread notifications: %w", err)
	}
	return out, nil
}

// UnreadCount returns the server's unread counter.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var n int
	if err := c.do(ctx, http.MethodGet, "/notifications/unread/count", &n); err != nil {
		return 0, fmt.Errorf("fetching unread count: %w", err)
	}
	return n, nil
}

// MarkRead marks one notification read server-side.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	path := "/notifications/" + strconv.FormatInt(id, 10) + "/read"
	if err := c.do(ctx, http.MethodPost, path, nil); err != nil {
		return fmt.Errorf("marking notification %d read: %w", id, err)
	}
	return nil
}

// MarkAllRead marks every notification read server-side.
func (c *Client) MarkAllRead(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/notifications/read-all", nil); err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

// do sends one request and decodes the JSON response into result. A 429 is
// retried up to maxRetries times, waiting for Retry-After when the server
// sends it and backing off exponentially otherwise. Everything else fails
// immediately.
func (c *Client) do(ctx context.Context, method, path string, result any) error {
	url := c.baseURL + path

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.attempt(ctx, method, url, path)
	},
		backoff.WithBackOff(newRetryBackOff()),
		backoff.WithMaxTries(uint(max(c.maxRetries, 0))+1),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		if errors.Is(err, errRateLimited) {
			return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, err)
		}
		return err
	}

	// No content to parse (e.g. 204).
	if result == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
	}
	return nil
}

var errRateLimited = errors.New("rate limited (429)")

// attempt performs a single round trip. Only rate limiting is retryable.
func (c *Client) attempt(ctx context.Context, method, url, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("executing request %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("reading response body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			return nil, fmt.Errorf("%w on %s %s: %w", errRateLimited, method, path, backoff.RetryAfter(seconds))
		}
		return nil, fmt.Errorf("%w on %s %s", errRateLimited, method, path)

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, backoff.Permanent(&AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("token rejected by %s", c.baseURL),
		})

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, backoff.Permanent(&StatusError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       string(body),
		})
	}

	return body, nil
}

// newRetryBackOff waits 1s, 2s, 4s, ... capped at 30s between 429 retries
// that carry no Retry-After header.
func newRetryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0.1
	return b
}

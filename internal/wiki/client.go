// Package wiki provides a client for the Wikimedia "on this day" feed.
//
// The feed is rate limited, so callers are expected to hit it at most once per
// calendar date; the client retries 429 and 5xx responses with capped
// exponential backoff.
//
// # Usage
//
//	client := wiki.NewClient(wiki.Config{UserAgent: "chronodle/1.0 (ops@example.org)"})
//	feed, err := client.OnThisDay(ctx, 3, 15)
package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultBaseURL   = "https://api.wikimedia.org"
	defaultUserAgent = "chronodle/1.0"
	maxErrorBody     = 4096
)

// Config holds configuration for the feed client.
type Config struct {
	// BaseURL is the API root. Defaults to https://api.wikimedia.org.
	BaseURL string

	// UserAgent is sent on every request; Wikimedia rejects anonymous agents.
	UserAgent string

	// Token is an optional bearer token for higher rate limits.
	Token string

	// MaxRetries is the maximum number of retry attempts for retryable errors.
	// Defaults to 3 if zero.
	MaxRetries int

	// BaseRetryDelay is the initial delay before the first retry.
	// Defaults to 500ms if zero.
	BaseRetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff delay.
	// Defaults to 5 seconds if zero.
	MaxRetryDelay time.Duration

	// HTTPClient allows injecting a custom HTTP client (useful for testing).
	// Defaults to a client with 20s timeout.
	HTTPClient *http.Client
}

// Client fetches on-this-day feeds.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates a new feed client with the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseRetryDelay == 0 {
		cfg.BaseRetryDelay = 500 * time.Millisecond
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 5 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}

	return &Client{
		config: cfg,
		http:   httpClient,
	}
}

// OnThisDay returns every event, birth and death recorded for month/day.
func (c *Client) OnThisDay(ctx context.Context, month, day int) (*Feed, error) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil, fmt.Errorf("wiki: invalid date %02d/%02d", month, day)
	}
	url := fmt.Sprintf("%s/feed/v1/wikipedia/en/onthisday/all/%02d/%02d", c.config.BaseURL, month, day)

	backoff := retry.NewExponential(c.config.BaseRetryDelay)
	backoff = retry.WithCappedDuration(c.config.MaxRetryDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(c.config.MaxRetries), backoff)

	var feed *Feed
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		f, err := c.doRequest(ctx, url)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.IsRetryable() {
				return retry.RetryableError(err)
			}
			return err
		}
		feed = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return feed, nil
}

// doRequest sends a single GET and decodes the feed.
func (c *Client) doRequest(ctx context.Context, url string) (*Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wiki: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wiki: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var raw struct {
		Events *[]Entry `json:"events"`
		Births *[]Entry `json:"births"`
		Deaths *[]Entry `json:"deaths"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("wiki: decode response: %w", err)
	}
	if raw.Events == nil && raw.Births == nil && raw.Deaths == nil {
		return nil, ErrMalformedFeed
	}

	feed := &Feed{}
	if raw.Events != nil {
		feed.Events = *raw.Events
	}
	if raw.Births != nil {
		feed.Births = *raw.Births
	}
	if raw.Deaths != nil {
		feed.Deaths = *raw.Deaths
	}
	return feed, nil
}

// Package apiclient talks to the chronodle HTTP API on behalf of the game modes.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/chronodle/chronodle/internal/events"
)

const defaultBaseURL = "http://localhost:8080"

// envelope mirrors the server response body.
type envelope struct {
	Status  string            `json:"status"`
	Item    json.RawMessage   `json:"item"`
	Data    map[string]string `json:"data"`
	Message string            `json:"message"`
	Code    string            `json:"code"`
}

// Error is a failure envelope that does not map onto an events sentinel.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("apiclient: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("apiclient: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client is a thin wrapper around the /events endpoints.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	staleRetries uint64
	staleDelay   time.Duration
}

// New constructs a client with sane defaults.
func New(opts ...func(*Client)) *Client {
	c := &Client{
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		staleRetries: 3,
		staleDelay:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHTTPClient overrides the internal HTTP client.
func WithHTTPClient(hc *http.Client) func(*Client) {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) func(*Client) {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithStaleRetry sets how often and how far apart stale_data answers are retried.
func WithStaleRetry(retries uint64, delay time.Duration) func(*Client) {
	return func(c *Client) {
		c.staleRetries = retries
		if delay > 0 {
			c.staleDelay = delay
		}
	}
}

// Pairs fetches a random cluster for date.
func (c *Client) Pairs(ctx context.Context, date events.Date, eventType events.EventType, count int) ([]events.Pair[events.EventPayload], error) {
	q := url.Values{}
	q.Set("date", date.String())
	q.Set("type", string(eventType))
	setCount(q, count)
	var out []events.Pair[events.EventPayload]
	return out, c.get(ctx, "/events/pairs", q, &out)
}

// DailyPairs fetches the shared pairs for day.
func (c *Client) DailyPairs(ctx context.Context, day time.Time, eventType events.EventType, count int) ([]events.Pair[events.EventPayload], error) {
	q := url.Values{}
	q.Set("date", day.Format("2006-01-02"))
	q.Set("type", string(eventType))
	q.Set("mode", "daily")
	setCount(q, count)
	var out []events.Pair[events.EventPayload]
	return out, c.get(ctx, "/events/pairs", q, &out)
}

// RandomPair fetches one pair from a random date.
func (c *Client) RandomPair(ctx context.Context, eventType events.EventType) (events.Pair[events.EventPayload], error) {
	q := url.Values{}
	q.Set("eventType", string(eventType))
	q.Set("mode", "single")
	var out events.Pair[events.EventPayload]
	return out, c.get(ctx, "/events/random", q, &out)
}

// Details resolves every id or fails with events.ErrNotFound.
func (c *Client) Details(ctx context.Context, ids []uuid.UUID) ([]events.DetailedEvent, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	q := url.Values{}
	q.Set("ids", strings.Join(parts, ","))
	var out []events.DetailedEvent
	return out, c.get(ctx, "/events/detail", q, &out)
}

func setCount(q url.Values, count int) {
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
}

// get retries stale_data responses with a constant backoff and decodes the item into dst.
func (c *Client) get(ctx context.Context, path string, q url.Values, dst any) error {
	backoff := retry.WithMaxRetries(c.staleRetries, retry.NewConstant(c.staleDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.doRequest(ctx, c.baseURL+path+"?"+q.Encode(), dst)
		if errors.Is(err, events.ErrStaleData) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) doRequest(ctx context.Context, target string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("apiclient: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("apiclient: read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	switch env.Status {
	case "success":
		if err := json.Unmarshal(env.Item, dst); err != nil {
			return fmt.Errorf("apiclient: decode item: %w", err)
		}
		return nil
	case "fail":
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", events.ErrNotFound, env.Data["title"])
		}
		return &events.ValidationError{Fields: env.Data}
	default:
		if env.Code == "stale_data" {
			return fmt.Errorf("%w: %s", events.ErrStaleData, env.Message)
		}
		return &Error{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
}

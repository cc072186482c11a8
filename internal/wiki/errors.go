package wiki

import (
	"errors"
	"fmt"
)

// ErrMalformedFeed is returned when the feed body decodes but is missing every category.
var ErrMalformedFeed = errors.New("wiki: malformed feed")

// HTTPError represents a non-200 HTTP response from the feed API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("wiki: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited returns true if the status indicates rate limiting (429).
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsNotFound returns true for 404 responses.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == 404
}

// IsRetryable returns true for rate limits (429) and server errors (5xx).
func (e *HTTPError) IsRetryable() bool {
	return e.IsRateLimited() || e.StatusCode >= 500
}

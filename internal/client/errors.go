package client

import (
	"errors"
	"fmt"
)

// ErrUnsupportedMethod marks a configuration error: the endpoint declares an
// HTTP method the client does not implement. Never retried.
var ErrUnsupportedMethod = errors.New("unsupported HTTP method")

// RateLimitError reports that the trailing-window request count for an
// endpoint already reached its configured limit. Never retried.
type RateLimitError struct {
	Path  string
	Limit int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (%d requests/min)", e.Path, e.Limit)
}

// HTTPError carries a non-2xx backend response. Retryable until the final
// attempt, then terminal.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

package llm

import (
	"errors"
	"fmt"
)

// ErrUnavailable indicates the LLM backend could not serve the request for
// reasons unrelated to the request itself: transport failures, timeouts, or
// retryable HTTP statuses. Callers may retry after a backoff.
var ErrUnavailable = errors.New("llm: provider unavailable")

// StatusError is returned when the backend answered with a non-success HTTP
// status. It unwraps to [ErrUnavailable] for statuses worth retrying.
type StatusError struct {
	// Code is the HTTP status code.
	Code int

	// Body is a truncated copy of the response body, for diagnostics.
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: backend returned status %d: %s", e.Code, e.Body)
}

// Unwrap maps transient statuses (429 and 5xx) to [ErrUnavailable].
func (e *StatusError) Unwrap() error {
	if e.Code == 429 || e.Code >= 500 {
		return ErrUnavailable
	}
	return nil
}

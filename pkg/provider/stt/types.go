package stt

import (
	"errors"
	"fmt"
)

// Transcript represents a batch speech-to-text result from an STT provider.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64
}

// ErrUnavailable is wrapped by providers when the backend is unreachable,
// rate-limited, or returns a server-side failure. Callers treat it as a
// transient condition that may succeed on resubmission.
var ErrUnavailable = errors.New("stt: transcription service unavailable")

// StatusError carries the HTTP status code of a failed backend call so that
// retry policies can distinguish retryable classes (429, 5xx) from permanent
// client errors.
type StatusError struct {
	// Code is the HTTP status code returned by the backend.
	Code int

	// Body is a truncated excerpt of the response body, for logs.
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("stt: backend returned status %d", e.Code)
	}
	return fmt.Sprintf("stt: backend returned status %d: %s", e.Code, e.Body)
}

// Unwrap maps retryable status classes onto [ErrUnavailable] so that
// errors.Is(err, ErrUnavailable) holds for 429 and 5xx responses.
func (e *StatusError) Unwrap() error {
	if e.Code == 429 || e.Code >= 500 {
		return ErrUnavailable
	}
	return nil
}

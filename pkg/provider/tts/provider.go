// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider synthesizes a reference reading of a practice script so the
// learner can hear a model pronunciation before recording their own attempt.
// Synthesis is batch: one request, one complete audio clip. Callers are
// expected to front providers with the content-addressed cache in
// internal/ttscache, which also de-duplicates concurrent requests and bounds
// upstream concurrency.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// Request describes one synthesis call.
type Request struct {
	// Text is the content to synthesize.
	Text string

	// Voice is the provider-specific voice identifier. An empty string selects
	// the provider's default voice.
	Voice string
}

// ErrUnavailable is wrapped by providers when the backend is unreachable,
// rate-limited, or returns a server-side failure.
var ErrUnavailable = errors.New("tts: synthesis service unavailable")

// StatusError carries the HTTP status code of a failed backend call so retry
// policies can distinguish retryable classes (429, 5xx) from permanent client
// errors.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("tts: backend returned status %d", e.Code)
	}
	return fmt.Sprintf("tts: backend returned status %d: %s", e.Code, e.Body)
}

// Unwrap maps retryable status classes onto [ErrUnavailable].
func (e *StatusError) Unwrap() error {
	if e.Code == 429 || e.Code >= 500 {
		return ErrUnavailable
	}
	return nil
}

// Provider is the abstraction over any batch TTS backend.
type Provider interface {
	// Synthesize renders req.Text with req.Voice and returns the encoded audio
	// bytes (typically MP3). Blocks until synthesis completes or ctx is
	// cancelled.
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

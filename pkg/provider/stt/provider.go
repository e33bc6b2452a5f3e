// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (e.g., the OpenAI audio
// API or a local whisper-server instance) and exposes a uniform request/response
// interface. The pipeline submits one normalized WAV recording per call and
// receives a plain-text transcript back; word-level timing is NOT assumed to be
// provided by the backend — the pipeline reconstructs approximate timestamps
// itself from voice-activity segments.
//
// Implementations must be safe for concurrent use. Multiple assessments may be
// in flight simultaneously (bounded by the caller's concurrency limiter).
package stt

import (
	"context"
	"io"
)

// Request describes one batch transcription call.
type Request struct {
	// Audio is the WAV-encoded recording (PCM16, mono). The reader is consumed
	// exactly once per call.
	Audio io.Reader

	// Filename is a hint for multipart uploads (e.g., "speech.wav"). Providers
	// may ignore it.
	Filename string

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// SampleRate is the sample rate of the audio in Hz. Informational; the
	// audio container already carries it, but some backends want it explicit.
	SampleRate int
}

// Provider is the abstraction over any batch STT backend.
//
// Transcribe blocks until the backend returns a result or ctx is cancelled.
// The call is the highest-latency, highest-failure-probability step of the
// scoring pipeline; callers are expected to wrap it with a timeout and a
// bounded retry policy.
type Provider interface {
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}

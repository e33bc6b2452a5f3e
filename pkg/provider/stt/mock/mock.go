// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider in unit tests to feed controlled transcripts through the
// scoring pipeline without a live STT backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Result: &stt.Transcript{Text: "the quick brown fox"},
//	}
//	tr, err := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/saylens/saylens/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the Request passed to Transcribe. Req.Audio has been drained;
	// see AudioBytes for its content.
	Req stt.Request
	// AudioBytes is the audio content read from Req.Audio.
	AudioBytes []byte
}

// Provider is a mock implementation of stt.Provider.
// Zero values cause Transcribe to return an empty transcript and nil error.
// Set Err to inject a failure.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe. May be nil (returns an empty
	// transcript).
	Result *stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call, drains the audio reader, and returns
// Result, Err.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	var audio []byte
	if req.Audio != nil {
		audio, _ = io.ReadAll(req.Audio)
	}

	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: req, AudioBytes: audio})
	result := p.Result
	err := p.Err
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if result == nil {
		return &stt.Transcript{}, nil
	}
	out := *result
	return &out, nil
}

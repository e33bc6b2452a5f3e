// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/saylens/saylens/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the Request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
// Zero values cause Synthesize to return nil bytes and a nil error.
// Set Err to inject a failure.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize.
	Audio []byte

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Delay, when non-zero, makes Synthesize sleep before returning (or until
	// ctx is cancelled). Used to exercise in-flight de-duplication.
	Delay func(ctx context.Context) error

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Audio, Err.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Req: req})
	audio := p.Audio
	err := p.Err
	delay := p.Delay
	p.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return nil, derr
		}
	}
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// CallCount returns the number of recorded Synthesize invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

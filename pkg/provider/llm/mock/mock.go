// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the prompts the rater and script
// generator construct, and to feed controlled responses without a live LLM
// backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Response: &llm.CompletionResponse{Content: `{"scores": {...}}`},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/saylens/saylens/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values cause Complete to return an empty response and nil error.
// Set Err to inject a failure. Set Responses to return a different response
// per call (Response is the fallback once Responses is exhausted).
type Provider struct {
	mu sync.Mutex

	// Response is returned by Complete. May be nil (returns an empty
	// response).
	Response *llm.CompletionResponse

	// Responses, when non-empty, is consumed one element per call before
	// falling back to Response.
	Responses []*llm.CompletionResponse

	// Err, if non-nil, is returned as the error from Complete.
	Err error

	// Calls records every invocation of Complete in order.
	Calls []CompleteCall
}

// Complete records the call and returns the configured response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, CompleteCall{Ctx: ctx, Req: req})

	if p.Err != nil {
		return nil, p.Err
	}

	resp := p.Response
	if len(p.Responses) > 0 {
		resp = p.Responses[0]
		p.Responses = p.Responses[1:]
	}
	if resp == nil {
		return &llm.CompletionResponse{}, nil
	}
	out := *resp
	return &out, nil
}

// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (or any OpenAI-compatible endpoint such as a Gemini
// proxy).
//
// The provider submits the whole normalized WAV recording as one request and
// returns plain transcript text. The API does not return word-level timing in
// the default JSON response format, which is fine: the scoring pipeline
// reconstructs approximate timestamps from VAD segments.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/saylens/saylens/pkg/provider/stt"
)

const defaultModel = "whisper-1"

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use this to point
// the provider at an OpenAI-compatible gateway.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the transcription model. Default: "whisper-1".
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Provider implements stt.Provider using the OpenAI audio transcription API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a new OpenAI STT Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: cfg.model}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	if req.Audio == nil {
		return nil, fmt.Errorf("openai stt: request audio must not be nil")
	}

	filename := req.Filename
	if filename == "" {
		filename = "speech.wav"
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(req.Audio, filename, "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	// The language param takes a bare ISO-639-1 code, not a full BCP-47 tag.
	if req.Language != "" {
		params.Language = oai.String(primarySubtag(req.Language))
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcription: %w", classify(err))
	}

	return &stt.Transcript{Text: resp.Text}, nil
}

// classify converts SDK errors into stt error types so the caller's retry
// policy can tell transient backend failures apart from permanent ones.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return &stt.StatusError{Code: apiErr.StatusCode, Body: truncate(apiErr.Message, 200)}
	}
	// Timeouts, connection resets, DNS failures: all transient.
	return fmt.Errorf("%w: %w", stt.ErrUnavailable, err)
}

// primarySubtag reduces a BCP-47 tag like "en-US" to its primary language
// subtag "en".
func primarySubtag(tag string) string {
	for i := 0; i < len(tag); i++ {
		if tag[i] == '-' || tag[i] == '_' {
			return tag[:i]
		}
	}
	return tag
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

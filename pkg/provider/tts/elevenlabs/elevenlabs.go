// Package elevenlabs provides a TTS provider backed by the ElevenLabs HTTP
// synthesis API (POST /v1/text-to-speech/{voice_id}).
//
// The single-shot HTTP endpoint is used rather than the streaming WebSocket
// API: reference clips are synthesized once, cached by content hash, and
// replayed many times, so time-to-first-byte does not matter here.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/saylens/saylens/pkg/provider/tts"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModelID = "eleven_flash_v2_5"
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM" // "Rachel", the ElevenLabs default

	defaultTimeout = 30 * time.Second
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// voiceSettings mirrors the ElevenLabs voice_settings JSON object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// synthesisRequest is the JSON request body for the synthesis endpoint.
type synthesisRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the default API base URL. Useful in tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithModelID sets the synthesis model. Default: "eleven_flash_v2_5".
func WithModelID(id string) Option {
	return func(p *Provider) {
		p.modelID = id
	}
}

// WithDefaultVoice sets the voice used when a request does not specify one.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) {
		p.defaultVoice = voiceID
	}
}

// WithVoiceSettings sets stability and similarity boost for all requests.
func WithVoiceSettings(stability, similarityBoost float64) Option {
	return func(p *Provider) {
		p.settings = &voiceSettings{Stability: stability, SimilarityBoost: similarityBoost}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider using the ElevenLabs HTTP API. It is safe
// for concurrent use.
type Provider struct {
	apiKey       string
	baseURL      string
	modelID      string
	defaultVoice string
	settings     *voiceSettings
	httpClient   *http.Client
}

// New constructs a new ElevenLabs Provider. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		modelID:      defaultModelID,
		defaultVoice: defaultVoiceID,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider. The returned bytes are MP3-encoded
// audio.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if req.Text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	voice := req.Voice
	if voice == "" {
		voice = p.defaultVoice
	}

	body, err := json.Marshal(synthesisRequest{
		Text:          req.Text,
		ModelID:       p.modelID,
		VoiceSettings: p.settings,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", p.baseURL, voice)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", tts.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, &tts.StatusError{Code: resp.StatusCode, Body: string(excerpt)}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio body: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("elevenlabs: empty audio response")
	}
	return audio, nil
}

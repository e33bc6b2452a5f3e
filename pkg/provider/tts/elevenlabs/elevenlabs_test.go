package elevenlabs_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/saylens/saylens/pkg/provider/tts"
	"github.com/saylens/saylens/pkg/provider/tts/elevenlabs"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := elevenlabs.New(""); err == nil {
		t.Fatal("New accepted an empty API key, want error")
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte("mp3-audio"))
	}))
	defer srv.Close()

	p, err := elevenlabs.New("test-key",
		elevenlabs.WithBaseURL(srv.URL),
		elevenlabs.WithModelID("eleven_turbo_v2"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audio, err := p.Synthesize(t.Context(), tts.Request{Text: "hello", Voice: "voice-42"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "mp3-audio" {
		t.Errorf("audio = %q, want %q", audio, "mp3-audio")
	}
	if !strings.HasSuffix(gotPath, "/v1/text-to-speech/voice-42") {
		t.Errorf("path = %q, want the voice in the URL", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("xi-api-key = %q, want %q", gotKey, "test-key")
	}
	if gotBody["text"] != "hello" {
		t.Errorf("body text = %v, want %q", gotBody["text"], "hello")
	}
	if gotBody["model_id"] != "eleven_turbo_v2" {
		t.Errorf("body model_id = %v, want %q", gotBody["model_id"], "eleven_turbo_v2")
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	p, err := elevenlabs.New("k",
		elevenlabs.WithBaseURL(srv.URL),
		elevenlabs.WithDefaultVoice("fallback-voice"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(t.Context(), tts.Request{Text: "hi"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/fallback-voice") {
		t.Errorf("path = %q, want the default voice in the URL", gotPath)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	p, err := elevenlabs.New("k")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(t.Context(), tts.Request{}); err == nil {
		t.Fatal("Synthesize accepted empty text, want error")
	}
}

func TestSynthesize_RateLimitIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := elevenlabs.New("k", elevenlabs.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Synthesize(t.Context(), tts.Request{Text: "hi"})
	if !errors.Is(err, tts.ErrUnavailable) {
		t.Errorf("Synthesize error = %v, want tts.ErrUnavailable", err)
	}
}

func TestSynthesize_UnauthorizedIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := elevenlabs.New("k", elevenlabs.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Synthesize(t.Context(), tts.Request{Text: "hi"})
	if err == nil {
		t.Fatal("Synthesize succeeded, want error")
	}
	if errors.Is(err, tts.ErrUnavailable) {
		t.Errorf("Synthesize error = %v, want a permanent (non-unavailable) error", err)
	}
	var statusErr *tts.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Errorf("Synthesize error = %v, want StatusError with code 401", err)
	}
}

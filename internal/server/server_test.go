package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/saylens/saylens/internal/health"
	"github.com/saylens/saylens/internal/pipeline"
	"github.com/saylens/saylens/internal/pipeline/audionorm"
	"github.com/saylens/saylens/internal/pipeline/score"
	"github.com/saylens/saylens/internal/pipeline/transcribe"
	"github.com/saylens/saylens/internal/pipeline/vad"
	"github.com/saylens/saylens/internal/script"
	"github.com/saylens/saylens/internal/server"
	"github.com/saylens/saylens/internal/ttscache"
	"github.com/saylens/saylens/internal/upstream"
	"github.com/saylens/saylens/pkg/provider/llm"
	llmmock "github.com/saylens/saylens/pkg/provider/llm/mock"
	"github.com/saylens/saylens/pkg/provider/stt"
	sttmock "github.com/saylens/saylens/pkg/provider/stt/mock"
	ttsmock "github.com/saylens/saylens/pkg/provider/tts/mock"
)

// speechWAV encodes a one-second test tone loud enough to register as speech.
func speechWAV() []byte {
	const rate = 16000
	samples := make([]int, rate)
	for i := range samples {
		samples[i] = int(10000 * math.Sin(2*math.Pi*220*float64(i)/rate))
	}
	return audionorm.EncodeWAV(samples, rate)
}

func testGuard() *upstream.Guard {
	return upstream.NewGuard(2, upstream.WithMaxRetries(0))
}

// newTestServer builds a server over mocks. sttProvider drives /assess;
// extra options attach the optional endpoints.
func newTestServer(t *testing.T, sttProvider stt.Provider, opts ...server.Option) *httptest.Server {
	t.Helper()

	p := pipeline.New(
		audionorm.New(audionorm.WithMinDuration(0)),
		vad.New(),
		transcribe.New(sttProvider, testGuard()),
		score.NewFormulaRater(),
	)
	srv := server.New(server.Config{
		DefaultVoice: "en-US-female",
		VoiceAliases: map[string]string{"en-US-female": "voice-id-1"},
	}, p, health.New(), opts...)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// assessForm builds a multipart body with an audio file and extra fields.
func assessForm(t *testing.T, audio []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if audio != nil {
		fw, err := mw.CreateFormFile("audio", "clip.wav")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(audio); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestAssess_ReadAloud(t *testing.T) {
	t.Parallel()

	provider := &sttmock.Provider{
		Result: &stt.Transcript{Text: "hello world"},
	}
	ts := newTestServer(t, provider)

	body, contentType := assessForm(t, speechWAV(), map[string]string{
		"referenceText": "hello world",
		"language":      "en-GB",
	})
	resp, err := http.Post(ts.URL+"/assess", contentType, body)
	if err != nil {
		t.Fatalf("POST /assess: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 200; body: %s", resp.StatusCode, raw)
	}

	got := decodeBody(t, resp)
	if got["ok"] != true {
		t.Errorf("ok = %v, want true", got["ok"])
	}
	if got["id"] == "" || got["id"] == nil {
		t.Error("id is empty")
	}
	if got["mode"] != "read-aloud" {
		t.Errorf("mode = %v, want %q", got["mode"], "read-aloud")
	}
	if got["transcript"] != "hello world" {
		t.Errorf("transcript = %v, want %q", got["transcript"], "hello world")
	}
	if _, ok := got["scores"]; !ok {
		t.Error("response has no scores")
	}

	// referenceText present and no explicit mode means read-aloud.
	if got, want := provider.Calls[0].Req.Language, "en-GB"; got != want {
		t.Errorf("STT language = %q, want %q", got, want)
	}
}

func TestAssess_DefaultLanguage(t *testing.T) {
	t.Parallel()

	provider := &sttmock.Provider{
		Result: &stt.Transcript{Text: "free speech"},
	}
	ts := newTestServer(t, provider)

	body, contentType := assessForm(t, speechWAV(), nil)
	resp, err := http.Post(ts.URL+"/assess", contentType, body)
	if err != nil {
		t.Fatalf("POST /assess: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got, want := provider.Calls[0].Req.Language, "en-US"; got != want {
		t.Errorf("STT language = %q, want the configured default %q", got, want)
	}
}

func TestAssess_MissingAudio(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &sttmock.Provider{})

	body, contentType := assessForm(t, nil, map[string]string{"mode": "free"})
	resp, err := http.Post(ts.URL+"/assess", contentType, body)
	if err != nil {
		t.Fatalf("POST /assess: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAssess_GarbageAudio(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &sttmock.Provider{})

	body, contentType := assessForm(t, []byte("not audio"), nil)
	resp, err := http.Post(ts.URL+"/assess", contentType, body)
	if err != nil {
		t.Fatalf("POST /assess: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAssess_STTUnavailable(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &sttmock.Provider{Err: stt.ErrUnavailable})

	body, contentType := assessForm(t, speechWAV(), nil)
	resp, err := http.Post(ts.URL+"/assess", contentType, body)
	if err != nil {
		t.Fatalf("POST /assess: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestGenerateScript_NotConfigured(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &sttmock.Provider{})

	resp, err := http.Post(ts.URL+"/generate-script", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /generate-script: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestGenerateScript(t *testing.T) {
	t.Parallel()

	llmProvider := &llmmock.Provider{
		Response: &llm.CompletionResponse{Content: "Line one.\nLine two."},
	}
	gen := script.New(llmProvider, testGuard())
	ts := newTestServer(t, &sttmock.Provider{}, server.WithScriptGenerator(gen))

	resp, err := http.Post(ts.URL+"/generate-script", "application/json",
		strings.NewReader(`{"category":"Travel","sentences":2}`))
	if err != nil {
		t.Fatalf("POST /generate-script: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if got["text"] != "Line one.\nLine two." {
		t.Errorf("text = %v, want the generated script", got["text"])
	}
	prompt := llmProvider.Calls[0].Req.Messages[0].Content
	if !strings.Contains(prompt, "category: Travel") {
		t.Errorf("prompt missing the category:\n%s", prompt)
	}
}

func TestGenerateScript_BadBody(t *testing.T) {
	t.Parallel()

	gen := script.New(&llmmock.Provider{}, testGuard())
	ts := newTestServer(t, &sttmock.Provider{}, server.WithScriptGenerator(gen))

	resp, err := http.Post(ts.URL+"/generate-script", "application/json", strings.NewReader(`{not json`))
	if err != nil {
		t.Fatalf("POST /generate-script: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTTS_NotConfigured(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &sttmock.Provider{})

	resp, err := http.Post(ts.URL+"/tts", "application/json", strings.NewReader(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("POST /tts: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestTTS_RoundTrip(t *testing.T) {
	t.Parallel()

	ttsProvider := &ttsmock.Provider{Audio: []byte("mp3-bytes")}
	cache, err := ttscache.New(t.TempDir(), ttsProvider, testGuard())
	if err != nil {
		t.Fatalf("ttscache.New: %v", err)
	}
	ts := newTestServer(t, &sttmock.Provider{}, server.WithTTSCache(cache))

	resp, err := http.Post(ts.URL+"/tts", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("POST /tts: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody(t, resp)

	// The empty voice resolves to the default alias, then to the provider ID.
	if gotVoice, want := got["voice"], "voice-id-1"; gotVoice != want {
		t.Errorf("voice = %v, want %v", gotVoice, want)
	}
	url, _ := got["url"].(string)
	if !strings.HasPrefix(url, "/uploads/tts_") {
		t.Fatalf("url = %q, want /uploads/tts_<hash>.mp3", url)
	}

	fileResp, err := http.Get(ts.URL + url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer fileResp.Body.Close()
	if fileResp.StatusCode != http.StatusOK {
		t.Fatalf("file status = %d, want 200", fileResp.StatusCode)
	}
	if got, want := fileResp.Header.Get("Content-Type"), "audio/mpeg"; got != want {
		t.Errorf("Content-Type = %q, want %q", got, want)
	}
	audio, _ := io.ReadAll(fileResp.Body)
	if string(audio) != "mp3-bytes" {
		t.Errorf("served audio = %q, want %q", audio, "mp3-bytes")
	}
}

func TestTTS_MissingText(t *testing.T) {
	t.Parallel()

	cache, err := ttscache.New(t.TempDir(), &ttsmock.Provider{Audio: []byte("a")}, testGuard())
	if err != nil {
		t.Fatalf("ttscache.New: %v", err)
	}
	ts := newTestServer(t, &sttmock.Provider{}, server.WithTTSCache(cache))

	resp, err := http.Post(ts.URL+"/tts", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /tts: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploads_RejectsNonCacheNames(t *testing.T) {
	t.Parallel()

	cache, err := ttscache.New(t.TempDir(), &ttsmock.Provider{Audio: []byte("a")}, testGuard())
	if err != nil {
		t.Fatalf("ttscache.New: %v", err)
	}
	ts := newTestServer(t, &sttmock.Provider{}, server.WithTTSCache(cache))

	for _, name := range []string{"config.yaml", "tts_zzzz.mp3", "tts_0123456789abcdef.wav"} {
		resp, err := http.Get(ts.URL + "/uploads/" + name)
		if err != nil {
			t.Fatalf("GET /uploads/%s: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET /uploads/%s status = %d, want 404", name, resp.StatusCode)
		}
	}
}

func TestRoot(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &sttmock.Provider{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if got["service"] != "saylens" {
		t.Errorf("service = %v, want saylens", got["service"])
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &sttmock.Provider{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSetVoices(t *testing.T) {
	t.Parallel()

	ttsProvider := &ttsmock.Provider{Audio: []byte("a")}
	cache, err := ttscache.New(t.TempDir(), ttsProvider, testGuard())
	if err != nil {
		t.Fatalf("ttscache.New: %v", err)
	}

	p := pipeline.New(
		audionorm.New(audionorm.WithMinDuration(0)),
		vad.New(),
		transcribe.New(&sttmock.Provider{}, testGuard()),
		score.NewFormulaRater(),
	)
	srv := server.New(server.Config{
		DefaultVoice: "old-voice",
	}, p, health.New(), server.WithTTSCache(cache))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	srv.SetVoices("friendly", map[string]string{"friendly": "voice-id-9"})

	resp, err := http.Post(ts.URL+"/tts", "application/json", strings.NewReader(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("POST /tts: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if got["voice"] != "voice-id-9" {
		t.Errorf("voice = %v, want the hot-reloaded alias target", got["voice"])
	}
}

// Package server exposes the assessment pipeline, script generation, and
// speech synthesis over HTTP.
//
// Routes:
//
//	POST /assess           — grade an uploaded recording (multipart form)
//	POST /generate-script  — generate a practice script to read aloud
//	POST /tts              — synthesize speech, returns a cached file URL
//	GET  /uploads/{file}   — serve synthesized audio files
//	GET  /healthz, /readyz — probes
//	GET  /metrics          — Prometheus scrape endpoint
package server

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saylens/saylens/internal/health"
	"github.com/saylens/saylens/internal/observe"
	"github.com/saylens/saylens/internal/pipeline"
	"github.com/saylens/saylens/internal/script"
	"github.com/saylens/saylens/internal/ttscache"
)

// DefaultMaxUploadBytes caps uploaded recordings when the config does not.
const DefaultMaxUploadBytes = 25 << 20

const readHeaderTimeout = 10 * time.Second

// Config holds the server's request-handling settings.
type Config struct {
	// MaxUploadBytes caps multipart uploads. Zero means [DefaultMaxUploadBytes].
	MaxUploadBytes int64

	// DefaultLanguage is the recognition hint used when the request omits one.
	DefaultLanguage string

	// DefaultVoice is used by /tts when the request omits a voice.
	DefaultVoice string

	// VoiceAliases maps short voice names to provider voice IDs.
	VoiceAliases map[string]string
}

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithScriptGenerator enables the /generate-script endpoint.
func WithScriptGenerator(g *script.Generator) Option {
	return func(s *Server) {
		s.scripts = g
	}
}

// WithTTSCache enables the /tts and /uploads endpoints.
func WithTTSCache(c *ttscache.Cache) Option {
	return func(s *Server) {
		s.tts = c
	}
}

// WithMetrics overrides the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server holds the HTTP surface. Endpoints whose backing component is not
// configured respond 503 rather than being left off the mux, so clients get
// a useful error instead of a generic 404.
type Server struct {
	cfg      Config
	voiceMu  sync.RWMutex
	pipeline *pipeline.Pipeline
	health   *health.Handler
	metrics  *observe.Metrics

	scripts *script.Generator
	tts     *ttscache.Cache

	httpServer *http.Server
}

// New returns a [Server]. p and h must be non-nil; optional capabilities are
// attached via options.
func New(cfg Config, p *pipeline.Pipeline, h *health.Handler, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en-US"
	}
	s := &Server{
		cfg:      cfg,
		pipeline: p,
		health:   h,
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the full route mux wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /assess", s.handleAssess)
	mux.HandleFunc("POST /generate-script", s.handleGenerateScript)
	mux.HandleFunc("POST /tts", s.handleTTS)
	mux.HandleFunc("GET /uploads/{file}", s.handleUpload)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe starts the HTTP server on addr and blocks until it stops.
// Pass non-empty certFile/keyFile to serve TLS.
func (s *Server) ListenAndServe(addr, certFile, keyFile string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	slog.Info("http server listening", "addr", addr, "tls", certFile != "")
	var err error
	if certFile != "" {
		err = s.httpServer.ListenAndServeTLS(certFile, keyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// SetVoices swaps the voice table at runtime. Called by the config watcher
// when only the TTS voice settings changed.
func (s *Server) SetVoices(defaultVoice string, aliases map[string]string) {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()
	s.cfg.DefaultVoice = defaultVoice
	s.cfg.VoiceAliases = maps.Clone(aliases)
}

// Shutdown gracefully stops the HTTP server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleRoot identifies the service.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "saylens",
		"message": "Speech assessment online. POST /assess with an audio recording to get started.",
	})
}

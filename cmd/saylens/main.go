// Command saylens is the main entry point for the Saylens speech assessment server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/saylens/saylens/internal/config"
	"github.com/saylens/saylens/internal/health"
	"github.com/saylens/saylens/internal/observe"
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
	"github.com/saylens/saylens/pkg/provider/llm/anyllm"
	oaillm "github.com/saylens/saylens/pkg/provider/llm/openai"
	"github.com/saylens/saylens/pkg/provider/stt"
	oaistt "github.com/saylens/saylens/pkg/provider/stt/openai"
	"github.com/saylens/saylens/pkg/provider/stt/whisper"
	"github.com/saylens/saylens/pkg/provider/tts"
	"github.com/saylens/saylens/pkg/provider/tts/elevenlabs"
)

const defaultCacheDir = "data/tts"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-swappable settings when the config file changes")
	flag.Parse()

	// A .env file next to the binary supplies API keys during development.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded environment variables from .env")
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "saylens: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "saylens: %v\n", err)
		}
		return 1
	}
	applyEnvKeys(cfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("saylens starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "saylens"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.STT == nil {
		slog.Error("no transcription backend available", "name", cfg.Providers.STT.Name)
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	sttGuard := newGuard(cfg.Upstream, cfg.Providers.STT.Name, "stt")

	var llmGuard *upstream.Guard
	if providers.LLM != nil {
		llmGuard = newGuard(cfg.Upstream, cfg.Providers.LLM.Name, "llm")
	}

	var rater score.Rater = score.NewFormulaRater()
	if cfg.Pipeline.Scoring == config.ScoringLLM {
		rater = score.NewLLMRater(providers.LLM, llmGuard)
	}

	pipe := pipeline.New(
		newNormalizer(cfg.Pipeline),
		newDetector(cfg.Pipeline),
		transcribe.New(providers.STT, sttGuard),
		rater,
	)

	// ── Optional capabilities ─────────────────────────────────────────────────
	checkers := []health.Checker{health.FFmpegCheck(cfg.Pipeline.FFmpegPath)}
	var serverOpts []server.Option

	if providers.LLM != nil {
		serverOpts = append(serverOpts, server.WithScriptGenerator(script.New(providers.LLM, llmGuard)))
	}

	if providers.TTS != nil {
		cacheDir := cfg.TTSCache.Dir
		if cacheDir == "" {
			cacheDir = defaultCacheDir
		}
		cache, err := ttscache.New(cacheDir, providers.TTS, newGuard(cfg.Upstream, cfg.Providers.TTS.Name, "tts"))
		if err != nil {
			slog.Error("failed to initialise tts cache", "err", err, "dir", cacheDir)
			return 1
		}
		serverOpts = append(serverOpts, server.WithTTSCache(cache))
		checkers = append(checkers, health.CacheDirCheck(cacheDir))
		slog.Info("tts cache ready", "dir", cacheDir, "entries", cache.Len())
	}

	srv := server.New(server.Config{
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		DefaultLanguage: cfg.Pipeline.DefaultLanguage,
		DefaultVoice:    cfg.TTSCache.DefaultVoice,
		VoiceAliases:    cfg.TTSCache.VoiceAliases,
	}, pipe, health.New(checkers...), serverOpts...)

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyEnvKeys(new)
			diff := config.Diff(old, new)
			if diff.LogLevelChanged {
				logLevel.Set(slogLevel(diff.NewLogLevel))
				slog.Info("log level changed", "level", diff.NewLogLevel)
			}
			if diff.VoicesChanged {
				srv.SetVoices(diff.NewDefaultVoice, diff.NewVoiceAliases)
				slog.Info("voice table reloaded", "default_voice", diff.NewDefaultVoice, "aliases", len(diff.NewVoiceAliases))
			}
			if diff.RequiresRestart {
				slog.Warn("config changes beyond log level and voices require a restart")
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	// ── Serve ─────────────────────────────────────────────────────────────────
	var certFile, keyFile string
	if cfg.Server.TLS != nil {
		certFile, keyFile = cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
	}
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(addr, certFile, keyFile)
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-serveErr:
		if err != nil {
			slog.Error("serve error", "err", err)
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with Saylens. Used for startup logging.
var builtinProviders = map[string][]string{
	"stt": {"openai", "whisper"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs"},
}

// apiKeyEnv names the conventional environment variable per provider, used
// when the config entry leaves api_key empty.
var apiKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
	"groq":       "GROQ_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
}

// applyEnvKeys fills empty api_key fields from the environment so secrets can
// stay out of the config file.
func applyEnvKeys(cfg *config.Config) {
	for _, entry := range []*config.ProviderEntry{&cfg.Providers.STT, &cfg.Providers.LLM, &cfg.Providers.TTS} {
		if entry.Name == "" || entry.APIKey != "" {
			continue
		}
		if envVar, ok := apiKeyEnv[entry.Name]; ok {
			entry.APIKey = os.Getenv(envVar)
		}
	}
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai goes through the native client; it exposes organization and
	// timeout controls the generic adapter does not.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all
	// share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModelID(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "default_voice"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// Providers holds the instantiated external capabilities. STT is required;
// LLM and TTS are optional and gate /generate-script and /tts respectively.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

// buildProviders instantiates all providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered — skipping", "kind", "stt", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered — skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered — skipping", "kind", "tts", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	return ps, nil
}

// ── Pipeline stage construction ───────────────────────────────────────────────

func newNormalizer(p config.PipelineConfig) *audionorm.Normalizer {
	var opts []audionorm.Option
	if p.TargetSampleRate > 0 {
		opts = append(opts, audionorm.WithTargetRate(p.TargetSampleRate))
	}
	if p.MinDuration > 0 {
		opts = append(opts, audionorm.WithMinDuration(p.MinDuration))
	}
	if p.FFmpegPath != "" {
		opts = append(opts, audionorm.WithFFmpegPath(p.FFmpegPath))
	}
	return audionorm.New(opts...)
}

func newDetector(p config.PipelineConfig) *vad.Detector {
	var opts []vad.Option
	if p.NoiseFloorDB != 0 {
		opts = append(opts, vad.WithNoiseFloor(p.NoiseFloorDB))
	}
	if p.MinSilence > 0 {
		opts = append(opts, vad.WithMinSilence(p.MinSilence))
	}
	if p.MinSegment > 0 {
		opts = append(opts, vad.WithMinSegment(p.MinSegment))
	}
	return vad.New(opts...)
}

// newGuard builds the call policy for one provider, with request/error
// counters labeled by backend name and capability kind.
func newGuard(u config.UpstreamConfig, provider, kind string) *upstream.Guard {
	opts := []upstream.Option{
		upstream.WithInstruments(observe.DefaultMetrics(), provider, kind),
	}
	if u.TimeoutSeconds > 0 {
		opts = append(opts, upstream.WithTimeout(time.Duration(u.TimeoutSeconds*float64(time.Second))))
	}
	if u.MaxRetries > 0 {
		opts = append(opts, upstream.WithMaxRetries(u.MaxRetries))
	}
	if u.BaseDelayMS > 0 {
		opts = append(opts, upstream.WithBaseDelay(time.Duration(u.BaseDelayMS)*time.Millisecond))
	}
	if u.MaxJitterMS > 0 {
		opts = append(opts, upstream.WithMaxJitter(time.Duration(u.MaxJitterMS)*time.Millisecond))
	}
	return upstream.NewGuard(u.Concurrency, opts...)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	scoring := cfg.Pipeline.Scoring
	if scoring == "" {
		scoring = config.ScoringFormula
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Saylens — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  Scoring         : %-19s ║\n", scoring)
	fmt.Printf("║  Voice aliases   : %-19d ║\n", len(cfg.TTSCache.VoiceAliases))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns the process logger along with its level var so the config
// watcher can adjust verbosity at runtime.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

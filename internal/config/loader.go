package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, fmt.Errorf("providers.stt is required: assessments cannot run without a transcription backend"))
	}

	// Pipeline
	p := &cfg.Pipeline
	if p.Scoring != "" && !p.Scoring.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.scoring %q is invalid; valid values: formula, llm", p.Scoring))
	}
	if p.Scoring == ScoringLLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("pipeline.scoring %q requires an LLM provider but providers.llm is not configured", p.Scoring))
	}
	if p.TargetSampleRate < 0 {
		errs = append(errs, fmt.Errorf("pipeline.target_sample_rate %d must not be negative", p.TargetSampleRate))
	}
	if p.MinDuration < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_duration %.2f must not be negative", p.MinDuration))
	}
	if p.NoiseFloorDB > 0 {
		errs = append(errs, fmt.Errorf("pipeline.noise_floor_db %.1f must not be positive; it is a dBFS threshold", p.NoiseFloorDB))
	}
	if p.MinSilence < 0 || p.MinSegment < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_silence and pipeline.min_segment must not be negative"))
	}

	// Upstream
	u := &cfg.Upstream
	if u.Concurrency < 0 || u.MaxRetries < 0 || u.BaseDelayMS < 0 || u.MaxJitterMS < 0 || u.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("upstream values must not be negative"))
	}

	// TTS availability warnings
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; the /tts endpoint will be disabled")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; /generate-script will be disabled and scoring falls back to formulas")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

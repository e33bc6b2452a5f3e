// Package config provides the configuration schema, loader, file watcher, and
// provider registry for the Saylens speech assessment server.
package config

// LogLevel controls log verbosity for the Saylens server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ScoringStrategy selects how assessments are graded.
type ScoringStrategy string

const (
	// ScoringFormula grades locally with deterministic heuristics.
	ScoringFormula ScoringStrategy = "formula"

	// ScoringLLM delegates grading to the configured LLM provider.
	ScoringLLM ScoringStrategy = "llm"
)

// IsValid reports whether s is a recognised scoring strategy.
func (s ScoringStrategy) IsValid() bool {
	return s == ScoringFormula || s == ScoringLLM
}

// Config is the root configuration structure for Saylens.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	TTSCache  TTSCacheConfig  `yaml:"tts_cache"`
}

// ServerConfig holds network and logging settings for the Saylens server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxUploadBytes caps the size of uploaded recordings. Zero means the
	// built-in default of 25 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// external capability. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// PipelineConfig holds the tunables of the local assessment stages. Zero
// values mean the stage defaults.
type PipelineConfig struct {
	// TargetSampleRate is the normalization target in Hz. Default: 16000.
	TargetSampleRate int `yaml:"target_sample_rate"`

	// MinDuration is the minimum accepted clip length in seconds. Default: 5.
	MinDuration float64 `yaml:"min_duration"`

	// FFmpegPath overrides the ffmpeg binary used for non-WAV uploads.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// NoiseFloorDB is the VAD silence threshold in dBFS. Default: -35.
	NoiseFloorDB float64 `yaml:"noise_floor_db"`

	// MinSilence is the minimum silence run treated as a pause, in seconds.
	// Default: 0.2.
	MinSilence float64 `yaml:"min_silence"`

	// MinSegment is the minimum speech segment kept, in seconds. Default: 0.8.
	MinSegment float64 `yaml:"min_segment"`

	// Scoring selects the grading strategy. Default: formula.
	Scoring ScoringStrategy `yaml:"scoring"`

	// DefaultLanguage is the recognition hint used when a request does not
	// specify one. Default: "en-US".
	DefaultLanguage string `yaml:"default_language"`
}

// UpstreamConfig holds the shared call policy for external providers.
type UpstreamConfig struct {
	// Concurrency caps simultaneous outbound calls per capability. Default: 4.
	Concurrency int `yaml:"concurrency"`

	// TimeoutSeconds bounds each attempt. Default: 30.
	TimeoutSeconds float64 `yaml:"timeout_seconds"`

	// MaxRetries is the number of retries after the first attempt. Default: 2.
	MaxRetries int `yaml:"max_retries"`

	// BaseDelayMS is the initial backoff delay in milliseconds. Default: 400.
	BaseDelayMS int `yaml:"base_delay_ms"`

	// MaxJitterMS is the maximum random jitter added per backoff, in
	// milliseconds. Default: 150.
	MaxJitterMS int `yaml:"max_jitter_ms"`
}

// TTSCacheConfig holds settings for the synthesized-speech cache.
type TTSCacheConfig struct {
	// Dir is the cache directory. Default: "data/tts".
	Dir string `yaml:"dir"`

	// DefaultVoice is used when a request does not name a voice.
	DefaultVoice string `yaml:"default_voice"`

	// VoiceAliases maps short client-facing voice names to provider voice
	// IDs, e.g. "en-US-female" -> an ElevenLabs voice ID.
	VoiceAliases map[string]string `yaml:"voice_aliases"`
}

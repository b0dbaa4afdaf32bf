// Package config provides the configuration schema, loader, hot-reload watcher
// and model backend registry for the voxstitch service.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
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

// Level converts l to its slog equivalent. Unknown and empty levels map to
// [slog.LevelInfo].
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Model     ModelConfig     `yaml:"model" envconfig:"MODEL"`
	Voices    VoicesConfig    `yaml:"voices" envconfig:"VOICES"`
	Synthesis SynthesisConfig `yaml:"synthesis" envconfig:"SYNTHESIS"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig holds the ops listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the ops server serving /healthz,
	// /readyz and /metrics (e.g., ":9090"). Empty disables the ops server.
	ListenAddr string `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level" envconfig:"LOG_LEVEL"`
}

// BackendEntry is the configuration block shared by every model backend.
// The Name field is used to look up the constructor in the [Registry].
type BackendEntry struct {
	// Name selects the registered backend implementation ("remote", "exec",
	// "mock").
	Name string `yaml:"name" envconfig:"NAME"`

	// BaseURL is the inference server address for the remote backend.
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`

	// Command is the command line launched per request by the exec backend.
	// It is split with shell quoting rules.
	Command string `yaml:"command" envconfig:"COMMAND"`

	// Timeout bounds a single backend call. Zero selects the backend default.
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`

	// Options holds backend-specific values not covered by the fields above.
	Options map[string]any `yaml:"options" ignored:"true"`
}

// ModelConfig selects the inference backend and its failover chain.
type ModelConfig struct {
	BackendEntry `yaml:",inline"`

	// Fallbacks are tried in order when the primary backend is unavailable.
	Fallbacks []BackendEntry `yaml:"fallbacks" ignored:"true"`

	// CircuitBreaker tunes the breaker guarding each backend.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" envconfig:"CIRCUIT_BREAKER"`
}

// CircuitBreakerConfig mirrors the resilience package knobs. Zero values
// select the resilience defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures" envconfig:"MAX_FAILURES"`
	ResetTimeout time.Duration `yaml:"reset_timeout" envconfig:"RESET_TIMEOUT"`
	HalfOpenMax  int           `yaml:"half_open_max" envconfig:"HALF_OPEN_MAX"`
}

// VoicesConfig locates the voice store and sizes the embedding cache.
type VoicesConfig struct {
	// Dir is the directory holding one embedding file per voice.
	Dir string `yaml:"dir" envconfig:"DIR"`

	// Extension is the embedding file suffix. Default: ".vpk".
	Extension string `yaml:"extension" envconfig:"EXTENSION"`

	// CacheSize is the number of embeddings kept in memory. Hot-reloadable.
	CacheSize int `yaml:"cache_size" envconfig:"CACHE_SIZE"`

	// MaxNameLength bounds combined voice names in bytes. Zero disables the
	// bound.
	MaxNameLength int `yaml:"max_name_length" envconfig:"MAX_NAME_LENGTH"`

	// Warmup preloads up to CacheSize voices at startup and synthesises
	// WarmupText with each.
	Warmup bool `yaml:"warmup" envconfig:"WARMUP"`

	WarmupText string `yaml:"warmup_text" envconfig:"WARMUP_TEXT"`
}

// SynthesisConfig tunes the orchestrator.
type SynthesisConfig struct {
	// SampleRate of all produced audio, in Hz.
	SampleRate int `yaml:"sample_rate" envconfig:"SAMPLE_RATE"`

	// MaxChunkLength is the chunker window, in runes.
	MaxChunkLength int `yaml:"max_chunk_length" envconfig:"MAX_CHUNK_LENGTH"`

	// ChunkConcurrency bounds parallel model calls on the complete path.
	ChunkConcurrency int `yaml:"chunk_concurrency" envconfig:"CHUNK_CONCURRENCY"`

	// DefaultFormat is the stream container used when a request names none
	// ("wav" or "pcm").
	DefaultFormat string `yaml:"default_format" envconfig:"DEFAULT_FORMAT"`

	// TargetPeak and MaxGain configure the streaming loudness normaliser.
	TargetPeak float64 `yaml:"target_peak" envconfig:"TARGET_PEAK"`
	MaxGain    float64 `yaml:"max_gain" envconfig:"MAX_GAIN"`
}

// TelemetryConfig configures the OpenTelemetry resource.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name" envconfig:"SERVICE_NAME"`
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxstitch/pkg/audio"
	"github.com/MrWong99/voxstitch/pkg/audio/encode"
	"github.com/MrWong99/voxstitch/pkg/text/chunker"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

// EnvPrefix prefixes every environment override, e.g.
// VOXSTITCH_MODEL_BASE_URL or VOXSTITCH_VOICES_CACHE_SIZE.
const EnvPrefix = "VOXSTITCH"


// ValidBackendNames lists the model backends that ship with voxstitch.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = []string{"remote", "exec", "mock"}

// Default returns a Config with every field at its default value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9090",
			LogLevel:   LogInfo,
		},
		Model: ModelConfig{
			BackendEntry: BackendEntry{Name: "remote", BaseURL: "http://127.0.0.1:8000"},
		},
		Voices: VoicesConfig{
			Dir:           "voices",
			Extension:     voice.DefaultExtension,
			CacheSize:     8,
			MaxNameLength: voice.DefaultMaxNameLength,
			Warmup:        true,
			WarmupText:    "Hello world",
		},
		Synthesis: SynthesisConfig{
			SampleRate:       audio.DefaultSampleRate,
			MaxChunkLength:   chunker.DefaultMaxLength,
			ChunkConcurrency: 1,
			DefaultFormat:    string(encode.FormatWAV),
			TargetPeak:       audio.DefaultTargetPeak,
			MaxGain:          audio.DefaultMaxGain,
		},
		Telemetry: TelemetryConfig{ServiceName: "voxstitch"},
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r over [Default], applies
// environment overrides and validates the result. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields of cfg from VOXSTITCH_* environment variables.
// Unset variables leave the corresponding field untouched.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Model
	errs = append(errs, validateBackend("model", cfg.Model.BackendEntry)...)
	for i, fb := range cfg.Model.Fallbacks {
		errs = append(errs, validateBackend(fmt.Sprintf("model.fallbacks[%d]", i), fb)...)
	}
	cb := cfg.Model.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("model.circuit_breaker values must not be negative"))
	}

	// Voices
	if cfg.Voices.Dir == "" {
		errs = append(errs, errors.New("voices.dir is required"))
	}
	if cfg.Voices.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("voices.cache_size %d must be at least 1", cfg.Voices.CacheSize))
	}
	if n := cfg.Voices.MaxNameLength; n != 0 && n < voice.MinNameLength {
		errs = append(errs, fmt.Errorf("voices.max_name_length %d must be 0 or at least %d", n, voice.MinNameLength))
	}
	if cfg.Voices.Warmup && cfg.Voices.WarmupText == "" {
		slog.Warn("voices.warmup is enabled but voices.warmup_text is empty; warm-up will only load embeddings")
	}

	// Synthesis
	s := cfg.Synthesis
	if s.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("synthesis.sample_rate %d must be positive", s.SampleRate))
	}
	if s.MaxChunkLength < 1 {
		errs = append(errs, fmt.Errorf("synthesis.max_chunk_length %d must be at least 1", s.MaxChunkLength))
	}
	if s.ChunkConcurrency < 1 {
		errs = append(errs, fmt.Errorf("synthesis.chunk_concurrency %d must be at least 1", s.ChunkConcurrency))
	}
	if _, err := encode.ParseFormat(s.DefaultFormat); err != nil {
		errs = append(errs, fmt.Errorf("synthesis.default_format: %w", err))
	}
	if s.TargetPeak <= 0 || s.TargetPeak > 1 {
		errs = append(errs, fmt.Errorf("synthesis.target_peak %.2f is out of range (0, 1]", s.TargetPeak))
	}
	if s.MaxGain < 1 {
		errs = append(errs, fmt.Errorf("synthesis.max_gain %.2f must be at least 1", s.MaxGain))
	}

	return errors.Join(errs...)
}

func validateBackend(prefix string, e BackendEntry) []error {
	var errs []error
	if e.Name == "" {
		return append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	if !slices.Contains(ValidBackendNames, e.Name) {
		slog.Warn("unknown model backend name — may be a typo or third-party backend",
			"field", prefix+".name",
			"name", e.Name,
			"known", ValidBackendNames,
		)
	}
	if e.Name == "remote" && e.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s.base_url is required for the remote backend", prefix))
	}
	if e.Name == "exec" && e.Command == "" {
		errs = append(errs, fmt.Errorf("%s.command is required for the exec backend", prefix))
	}
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout %s must not be negative", prefix, e.Timeout))
	}
	return errs
}

package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxstitch/internal/config"
)

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"missing model name", "model:\n  name: \"\"\n", "model.name is required"},
		{"remote without url", "model:\n  name: remote\n  base_url: \"\"\n", "model.base_url"},
		{"exec without command", "model:\n  name: exec\n", "model.command"},
		{"negative timeout", "model:\n  timeout: -1s\n", "model.timeout"},
		{"fallback without url", "model:\n  fallbacks:\n    - name: remote\n", "model.fallbacks[0].base_url"},
		{"negative breaker", "model:\n  circuit_breaker:\n    max_failures: -1\n", "circuit_breaker"},
		{"empty voices dir", "voices:\n  dir: \"\"\n", "voices.dir"},
		{"zero cache", "voices:\n  cache_size: 0\n", "voices.cache_size"},
		{"tiny name bound", "voices:\n  max_name_length: 9\n", "voices.max_name_length"},
		{"zero sample rate", "synthesis:\n  sample_rate: 0\n", "synthesis.sample_rate"},
		{"zero chunk length", "synthesis:\n  max_chunk_length: 0\n", "synthesis.max_chunk_length"},
		{"zero concurrency", "synthesis:\n  chunk_concurrency: 0\n", "synthesis.chunk_concurrency"},
		{"unknown format", "synthesis:\n  default_format: mp3\n", "synthesis.default_format"},
		{"peak above one", "synthesis:\n  target_peak: 1.5\n", "synthesis.target_peak"},
		{"gain below one", "synthesis:\n  max_gain: 0.5\n", "synthesis.max_gain"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error should mention %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
voices:
  cache_size: 0
synthesis:
  chunk_concurrency: 0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "voices.cache_size", "synthesis.chunk_concurrency"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_AcceptsUnboundedNames(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("voices:\n  max_name_length: 0\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Voices.MaxNameLength != 0 {
		t.Errorf("max_name_length = %d", cfg.Voices.MaxNameLength)
	}
}

func TestValidate_UnknownBackendOnlyWarns(t *testing.T) {
	t.Parallel()
	if _, err := config.LoadFromReader(strings.NewReader("model:\n  name: onnx-local\n")); err != nil {
		t.Errorf("unknown backend name should only warn, got: %v", err)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("voices:\n  cache_sise: 4\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "cache_sise") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server: [unterminated"))
	if err == nil || !strings.Contains(err.Error(), "decode yaml") {
		t.Errorf("err = %v", err)
	}
}

// Environment tests cannot run in parallel with t.Setenv.

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("VOXSTITCH_SERVER_LOG_LEVEL", "warn")
	t.Setenv("VOXSTITCH_MODEL_BASE_URL", "http://tts.internal:8000")
	t.Setenv("VOXSTITCH_MODEL_TIMEOUT", "45s")
	t.Setenv("VOXSTITCH_MODEL_CIRCUIT_BREAKER_MAX_FAILURES", "7")
	t.Setenv("VOXSTITCH_VOICES_CACHE_SIZE", "3")
	t.Setenv("VOXSTITCH_VOICES_WARMUP", "false")
	t.Setenv("VOXSTITCH_SYNTHESIS_DEFAULT_FORMAT", "pcm")

	cfg, err := config.LoadFromReader(strings.NewReader("voices:\n  cache_size: 12\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Model.BaseURL != "http://tts.internal:8000" || cfg.Model.Timeout != 45*time.Second {
		t.Errorf("model = %+v", cfg.Model.BackendEntry)
	}
	if cfg.Model.CircuitBreaker.MaxFailures != 7 {
		t.Errorf("circuit_breaker.max_failures = %d", cfg.Model.CircuitBreaker.MaxFailures)
	}
	if cfg.Voices.CacheSize != 3 {
		t.Errorf("environment should win over YAML: cache_size = %d", cfg.Voices.CacheSize)
	}
	if cfg.Voices.Warmup {
		t.Error("warmup not disabled")
	}
	if cfg.Synthesis.DefaultFormat != "pcm" {
		t.Errorf("default_format = %q", cfg.Synthesis.DefaultFormat)
	}
}

func TestApplyEnv_UnsetLeavesValues(t *testing.T) {
	cfg := config.Default()
	cfg.Voices.Dir = "/from/yaml"
	if err := config.ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Voices.Dir != "/from/yaml" {
		t.Errorf("voices.dir = %q", cfg.Voices.Dir)
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	t.Setenv("VOXSTITCH_VOICES_CACHE_SIZE", "lots")
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "environment") {
		t.Errorf("err = %v", err)
	}
}

func TestApplyEnv_InvalidValueIsValidated(t *testing.T) {
	t.Setenv("VOXSTITCH_SYNTHESIS_CHUNK_CONCURRENCY", "0")
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "chunk_concurrency") {
		t.Errorf("err = %v", err)
	}
}

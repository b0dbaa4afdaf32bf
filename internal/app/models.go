package app

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/MrWong99/voxstitch/internal/config"
	"github.com/MrWong99/voxstitch/internal/resilience"
	"github.com/MrWong99/voxstitch/pkg/provider/model"
	"github.com/MrWong99/voxstitch/pkg/provider/model/exec"
	"github.com/MrWong99/voxstitch/pkg/provider/model/mock"
	"github.com/MrWong99/voxstitch/pkg/provider/model/remote"
)

// RegisterBuiltinModels wires the backends that ship with voxstitch into reg.
// sampleRate is the service output rate backends resample to.
//
// Recognised options:
//
//	remote: headers (map), output_sample_rate (int)
//	exec:   env (map), sample_rate (int)
//	mock:   samples_per_token (int), sample_rate (int)
func RegisterBuiltinModels(reg *config.Registry, sampleRate int) {
	reg.Register("remote", func(e config.BackendEntry) (model.Provider, error) {
		opts := []remote.Option{remote.WithOutputSampleRate(sampleRate)}
		if e.Timeout > 0 {
			opts = append(opts, remote.WithTimeout(e.Timeout))
		}
		if rate := config.OptInt(e.Options, "output_sample_rate"); rate > 0 {
			opts = append(opts, remote.WithOutputSampleRate(rate))
		}
		headers := config.OptStringMap(e.Options, "headers")
		for _, k := range slices.Sorted(maps.Keys(headers)) {
			opts = append(opts, remote.WithHeader(k, headers[k]))
		}
		return remote.New(e.BaseURL, opts...)
	})

	reg.Register("exec", func(e config.BackendEntry) (model.Provider, error) {
		var opts []exec.Option
		if e.Timeout > 0 {
			opts = append(opts, exec.WithTimeout(e.Timeout))
		}
		if rate := config.OptInt(e.Options, "sample_rate"); rate > 0 {
			opts = append(opts, exec.WithSampleRate(rate))
		}
		env := config.OptStringMap(e.Options, "env")
		for _, k := range slices.Sorted(maps.Keys(env)) {
			opts = append(opts, exec.WithEnv(k+"="+env[k]))
		}
		return exec.New(e.Command, opts...)
	})

	reg.Register("mock", func(e config.BackendEntry) (model.Provider, error) {
		return &mock.Provider{
			SampleRate:      config.OptInt(e.Options, "sample_rate"),
			SamplesPerToken: config.OptInt(e.Options, "samples_per_token"),
		}, nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered model backend", "name", name)
	}
}

// BuildModel instantiates the configured primary backend. When fallbacks are
// configured the result is a [resilience.ModelFallback] that guards every
// backend with a circuit breaker.
func BuildModel(cfg config.ModelConfig, reg *config.Registry) (model.Provider, error) {
	primary, err := reg.Create(cfg.BackendEntry)
	if err != nil {
		return nil, err
	}
	slog.Info("model backend created", "name", cfg.Name)
	if len(cfg.Fallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewModelFallback(primary, cfg.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.CircuitBreaker.MaxFailures,
			ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  cfg.CircuitBreaker.HalfOpenMax,
		},
	})
	for i, entry := range cfg.Fallbacks {
		p, err := reg.Create(entry)
		if err != nil {
			return nil, fmt.Errorf("app: model fallback %d: %w", i, err)
		}
		fb.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), p)
		slog.Info("model fallback created", "name", entry.Name, "position", i+1)
	}
	return fb, nil
}

// Package app wires the voxstitch subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the voice
// store, the shared voice cache, the housekeeper and the synthesis service;
// Run warms the cache and serves the ops endpoints; Shutdown tears everything
// down in order. Config changes reported by a [config.Watcher] are applied
// live through [App.ApplyConfig].
//
// For testing, inject the metrics instance and log level via functional
// options. The model backend is always passed in by the caller.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/voxstitch/internal/config"
	"github.com/MrWong99/voxstitch/internal/health"
	"github.com/MrWong99/voxstitch/internal/housekeeping"
	"github.com/MrWong99/voxstitch/internal/observe"
	"github.com/MrWong99/voxstitch/internal/synth"
	"github.com/MrWong99/voxstitch/internal/voicecache"
	"github.com/MrWong99/voxstitch/pkg/audio"
	"github.com/MrWong99/voxstitch/pkg/audio/encode"
	"github.com/MrWong99/voxstitch/pkg/provider/model"
	"github.com/MrWong99/voxstitch/pkg/text/chunker"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Subsystems, initialised in New.
	store   *voice.Store
	cache   *voicecache.Cache
	keeper  *housekeeping.Keeper
	svc     *synth.Service
	metrics *observe.Metrics
	health  *health.Handler
	ready   health.Gate

	level   *slog.LevelVar
	promReg *prometheus.Registry

	// ops is the /healthz, /readyz and /metrics listener; nil when disabled.
	ops *http.Server

	// closers are called in order during Shutdown.
	closers  []func(context.Context) error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records metrics on m instead of the global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level of the handler
// built on v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithPrometheusRegistry serves /metrics from reg instead of the default
// gatherer.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.promReg = reg }
}

// WithCloser registers fn to run during Shutdown after the ops server has
// stopped, e.g. the telemetry provider shutdown.
func WithCloser(fn func(context.Context) error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App by wiring all subsystems together. m is the model
// backend built by [BuildModel].
func New(cfg *config.Config, m model.Provider, opts ...Option) (*App, error) {
	if m == nil {
		return nil, errors.New("app: model backend is required")
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}

	store, err := voice.NewStore(cfg.Voices.Dir, voice.WithExtension(cfg.Voices.Extension))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.store = store

	a.cache, err = voicecache.New(cfg.Voices.CacheSize, nil, voicecache.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.keeper = housekeeping.New(m)

	format, err := encode.ParseFormat(cfg.Synthesis.DefaultFormat)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.svc, err = synth.New(m, store,
		synth.WithCache(a.cache),
		synth.WithChunker(chunker.New(chunker.WithMaxLength(cfg.Synthesis.MaxChunkLength))),
		synth.WithHousekeeper(a.keeper),
		synth.WithMetrics(a.metrics),
		synth.WithNormalizerConfig(audio.NormalizerConfig{
			TargetPeak: cfg.Synthesis.TargetPeak,
			MaxGain:    cfg.Synthesis.MaxGain,
		}),
		synth.WithSampleRate(cfg.Synthesis.SampleRate),
		synth.WithChunkConcurrency(cfg.Synthesis.ChunkConcurrency),
		synth.WithMaxVoiceNameLength(cfg.Voices.MaxNameLength),
		synth.WithDefaultFormat(format),
		synth.WithProviderName(cfg.Model.Name),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.health = health.New(
		health.VoiceStore(store),
		health.Model(m),
		a.ready.Checker("warmup"),
	)
	return a, nil
}

// Service returns the synthesis service shared by all callers.
func (a *App) Service() *synth.Service { return a.svc }

// Cache returns the shared voice cache.
func (a *App) Cache() *voicecache.Cache { return a.cache }

// Ready reports whether warm-up has finished.
func (a *App) Ready() bool { return a.ready.IsOpen() }

// Handler returns the ops HTTP handler: /healthz, /readyz and /metrics,
// instrumented by [observe.Middleware].
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(a.promReg))
	return observe.Middleware(a.metrics)(mux)
}

// Run warms the voice cache, then serves the ops endpoints until ctx is
// cancelled. Warm-up failures are logged and never stop the service.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", addr, err)
		}
		a.ops = &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
		slog.Info("ops server listening", "addr", ln.Addr().String())
		go func() {
			if err := a.ops.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	if a.cfg.Voices.Warmup {
		a.Warmup(ctx)
	}
	a.ready.Open()
	slog.Info("voxstitch ready", "voices", len(a.svc.ListVoices(ctx)), "cached", a.cache.Len())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: ops server: %w", err)
	}
}

// Warmup loads up to voices.cache_size voices into the cache and synthesises
// the warm-up text with each, so the first real request does not pay for
// model initialisation. It returns the number of voices warmed.
func (a *App) Warmup(ctx context.Context) int {
	start := time.Now()
	names := a.svc.ListVoices(ctx)
	if len(names) > a.cfg.Voices.CacheSize {
		names = names[:a.cfg.Voices.CacheSize]
	}

	warmed := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		log := slog.With("voice", name)
		if a.cfg.Voices.WarmupText == "" {
			path, _ := a.store.Path(name)
			if _, err := a.cache.Load(ctx, path); err != nil {
				log.Warn("warm-up: failed to load voice", "err", err)
				continue
			}
		} else {
			_, err := a.svc.Complete(ctx, synth.Request{Text: a.cfg.Voices.WarmupText, Voice: name, Speed: 1})
			if err != nil {
				log.Warn("warm-up: synthesis failed", "err", err)
				continue
			}
		}
		warmed++
		log.Debug("warm-up: voice ready")
	}
	slog.Info("warm-up finished", "voices", warmed, "of", len(names), "elapsed", time.Since(start))
	return warmed
}

// ApplyConfig applies the hot-reloadable differences between old and new and
// logs the ones that need a restart. It is meant as a [config.ChangeFunc].
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CacheSizeChanged {
		evicted := a.cache.Resize(d.NewCacheSize)
		slog.Info("voice cache resized", "capacity", d.NewCacheSize, "evicted", evicted)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// Shutdown stops the ops server and runs the registered closers. Only the
// first call does any work.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if a.ops != nil {
			if err := a.ops.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("ops server: %w", err))
			}
		}
		for _, fn := range a.closers {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		a.keeper.Release(ctx)
	})
	return errors.Join(errs...)
}

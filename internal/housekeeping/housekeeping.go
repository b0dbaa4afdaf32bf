// Package housekeeping reclaims memory between units of synthesis work and
// logs resource usage around them. It implements synth.Housekeeper.
package housekeeping

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/MrWong99/voxstitch/internal/observe"
	"github.com/MrWong99/voxstitch/internal/synth"
	"github.com/MrWong99/voxstitch/pkg/provider/model"
)

var _ synth.Housekeeper = (*Keeper)(nil)

// Option configures a [Keeper].
type Option func(*Keeper)

// WithMinInterval rate-limits the Go heap collection: a Release within d of
// the previous collection only calls the backend. Zero collects on every
// Release.
func WithMinInterval(d time.Duration) Option {
	return func(k *Keeper) { k.minInterval = d }
}

// Keeper releases backend accelerator memory and returns freed heap to the OS.
type Keeper struct {
	releaser    model.Releaser
	minInterval time.Duration
	now         func() time.Time

	mu          sync.Mutex
	lastCollect time.Time
}

// New returns a Keeper for m. If m does not implement [model.Releaser], only
// the Go heap is reclaimed.
func New(m model.Provider, opts ...Option) *Keeper {
	k := &Keeper{now: time.Now}
	if r, ok := m.(model.Releaser); ok {
		k.releaser = r
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

// Release asks the backend to free its caches and then collects the Go heap.
// Failures are logged; Release never affects the caller's outcome.
func (k *Keeper) Release(ctx context.Context) {
	if k.releaser != nil {
		if err := k.releaser.ReleaseResources(ctx); err != nil {
			observe.Logger(ctx).Warn("model resource release failed", "err", err)
		}
	}
	if !k.shouldCollect() {
		return
	}
	debug.FreeOSMemory()
}

func (k *Keeper) shouldCollect() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	if k.minInterval > 0 && !k.lastCollect.IsZero() && now.Sub(k.lastCollect) < k.minInterval {
		return false
	}
	k.lastCollect = now
	return true
}

// Diagnostic logs heap statistics under tag at debug level.
func (k *Keeper) Diagnostic(ctx context.Context, tag string) {
	log := observe.Logger(ctx)
	if !log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	log.Debug("memory",
		"tag", tag,
		"heap_alloc_mb", ms.HeapAlloc>>20,
		"heap_sys_mb", ms.HeapSys>>20,
		"num_gc", ms.NumGC,
		"goroutines", runtime.NumGoroutine(),
	)
}

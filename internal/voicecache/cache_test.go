package voicecache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxstitch/internal/observe"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

// countingLoader fabricates embeddings and counts loads per path.
type countingLoader struct {
	mu    sync.Mutex
	loads map[string]int
	delay time.Duration
}

func newCountingLoader() *countingLoader {
	return &countingLoader{loads: map[string]int{}}
}

func (l *countingLoader) load(path string) (*voice.Embedding, error) {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	l.mu.Lock()
	l.loads[path]++
	l.mu.Unlock()
	if filepath.Base(path) == "missing" {
		return nil, fmt.Errorf("load %s: %w", path, voice.ErrNotFound)
	}
	return &voice.Embedding{Shape: []int{1}, Data: []float32{float32(len(path))}}, nil
}

func (l *countingLoader) count(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[path]
}

func newTestCache(t *testing.T, capacity int, l *countingLoader) *Cache {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	c, err := New(capacity, l.load, WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestLoad_HitReturnsSamePointer(t *testing.T) {
	l := newCountingLoader()
	c := newTestCache(t, 2, l)
	ctx := context.Background()

	a, err := c.Load(ctx, "/voices/a.vpk")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := c.Load(ctx, "/voices/a.vpk")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a != b {
		t.Error("second load returned a different embedding")
	}
	if n := l.count("/voices/a.vpk"); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}
}

func TestLoad_EvictsLeastRecentlyUsed(t *testing.T) {
	l := newCountingLoader()
	c := newTestCache(t, 2, l)
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		if _, err := c.Load(ctx, p); err != nil {
			t.Fatalf("Load(%s): %v", p, err)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if c.Contains("a") {
		t.Error("a should have been evicted")
	}
	if got := c.Keys(); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("Keys = %v, want [b c]", got)
	}
}

func TestLoad_HitChangesEvictionOrder(t *testing.T) {
	l := newCountingLoader()
	c := newTestCache(t, 2, l)
	ctx := context.Background()

	_, _ = c.Load(ctx, "a")
	_, _ = c.Load(ctx, "b")
	_, _ = c.Load(ctx, "a") // a becomes most recently used
	_, _ = c.Load(ctx, "c")

	if !c.Contains("a") {
		t.Error("a was touched and should survive")
	}
	if c.Contains("b") {
		t.Error("b should have been evicted")
	}
}

func TestLoad_NotFound(t *testing.T) {
	c := newTestCache(t, 2, newCountingLoader())
	_, err := c.Load(context.Background(), "/voices/missing")
	if !errors.Is(err, voice.ErrNotFound) {
		t.Errorf("err = %v, want voice.ErrNotFound", err)
	}
	if c.Len() != 0 {
		t.Error("failed load must not be cached")
	}
}

func TestLoad_ConcurrentMissesLoadOnce(t *testing.T) {
	l := newCountingLoader()
	l.delay = 20 * time.Millisecond
	c := newTestCache(t, 4, l)

	const n = 16
	results := make([]*voice.Embedding, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			emb, err := c.Load(context.Background(), "shared")
			if err != nil {
				t.Errorf("Load: %v", err)
			}
			results[i] = emb
		})
	}
	wg.Wait()

	if got := l.count("shared"); got != 1 {
		t.Errorf("loads = %d, want 1", got)
	}
	for i, r := range results {
		if r != results[0] {
			t.Fatalf("result %d differs from result 0", i)
		}
	}
}

func TestLoad_ConcurrentDistinctKeysRespectCapacity(t *testing.T) {
	l := newCountingLoader()
	c := newTestCache(t, 3, l)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := range 50 {
		wg.Go(func() {
			if _, err := c.Load(context.Background(), fmt.Sprintf("v%d", i%10)); err != nil {
				failures.Add(1)
			}
		})
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("%d loads failed", failures.Load())
	}
	if c.Len() > 3 {
		t.Errorf("Len = %d exceeds capacity 3", c.Len())
	}
}

func TestLoad_ContextCancelledWhileWaiting(t *testing.T) {
	l := newCountingLoader()
	l.delay = 200 * time.Millisecond
	c := newTestCache(t, 2, l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Load(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestResizeAndPurge(t *testing.T) {
	c := newTestCache(t, 4, newCountingLoader())
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c", "d"} {
		_, _ = c.Load(ctx, p)
	}

	if evicted := c.Resize(2); evicted != 2 {
		t.Errorf("Resize evicted %d, want 2", evicted)
	}
	if got := c.Keys(); !slices.Equal(got, []string{"c", "d"}) {
		t.Errorf("Keys = %v, want [c d]", got)
	}

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len after Purge = %d", c.Len())
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.load == nil {
		t.Error("nil load func was not defaulted")
	}
	for i := range DefaultCapacity + 1 {
		c.lru.Add(fmt.Sprint(i), &voice.Embedding{})
	}
	if c.Len() != DefaultCapacity {
		t.Errorf("Len = %d, want %d", c.Len(), DefaultCapacity)
	}
}

func TestRemove_ForcesReload(t *testing.T) {
	l := newCountingLoader()
	c := newTestCache(t, 2, l)
	ctx := context.Background()

	first, _ := c.Load(ctx, "a")
	if !c.Remove("a") {
		t.Fatal("Remove reported no entry")
	}
	if c.Remove("a") {
		t.Error("second Remove reported an entry")
	}
	second, err := c.Load(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if first == second || l.count("a") != 2 {
		t.Errorf("loads = %d, same pointer = %v; want a fresh load", l.count("a"), first == second)
	}
}

// evictionCount reads the eviction counter total from reader.
func evictionCount(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "voxstitch.voice_cache.evictions" {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestEvictionMetric_CountsCapacityEvictionsOnly(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	c, err := New(2, newCountingLoader().load, WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		if _, err := c.Load(ctx, p); err != nil {
			t.Fatalf("Load(%s): %v", p, err)
		}
	}
	if got := evictionCount(t, reader); got != 1 {
		t.Fatalf("evictions after overflow = %d, want 1", got)
	}

	c.Remove("b")
	if _, err := c.Load(ctx, "d"); err != nil {
		t.Fatal(err)
	}
	if got := evictionCount(t, reader); got != 1 {
		t.Errorf("evictions after Remove and refill = %d, want 1", got)
	}

	if evicted := c.Resize(1); evicted != 1 {
		t.Fatalf("Resize evicted %d, want 1", evicted)
	}
	if got := evictionCount(t, reader); got != 2 {
		t.Errorf("evictions after Resize = %d, want 2", got)
	}

	c.Purge()
	if got := evictionCount(t, reader); got != 2 {
		t.Errorf("evictions after Purge = %d, want 2", got)
	}
}

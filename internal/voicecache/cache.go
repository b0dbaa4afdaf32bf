// Package voicecache memoises voice embeddings by file path with a bounded,
// least-recently-used eviction policy.
//
// The cache is shared by every request in the process. Hits return the same
// *voice.Embedding pointer the miss produced; embeddings are read-only once
// cached. Concurrent misses for one path are collapsed into a single load, and
// eviction happens atomically with the insert that triggers it.
package voicecache

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/voxstitch/internal/observe"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

// DefaultCapacity is the number of embeddings kept when no capacity is given.
const DefaultCapacity = 8

// LoadFunc reads one embedding from storage. It must return an error matching
// [voice.ErrNotFound] when path does not exist.
type LoadFunc func(path string) (*voice.Embedding, error)

// Option configures a [Cache].
type Option func(*Cache)

// WithMetrics records lookups and evictions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache is a bounded LRU of voice embeddings keyed by exact path string. It is
// safe for concurrent use.
type Cache struct {
	lru     *lru.Cache[string, *voice.Embedding]
	group   singleflight.Group
	load    LoadFunc
	metrics *observe.Metrics
}

// New returns a cache holding at most capacity embeddings. A capacity below 1
// selects [DefaultCapacity]; a nil load selects [voice.LoadFile].
func New(capacity int, load LoadFunc, opts ...Option) (*Cache, error) {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if load == nil {
		load = voice.LoadFile
	}
	c := &Cache{load: load}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	l, err := lru.New[string, *voice.Embedding](capacity)
	if err != nil {
		return nil, fmt.Errorf("voicecache: %w", err)
	}
	c.lru = l
	return c, nil
}

// recordEvictions counts entries pushed out by the capacity bound. Explicit
// Remove and Purge are not evictions.
func (c *Cache) recordEvictions(ctx context.Context, n int, cause string) {
	if n == 0 {
		return
	}
	c.metrics.VoiceCacheEvictions.Add(ctx, int64(n))
	slog.Debug("voice cache eviction", "count", n, "cause", cause)
}

// Load returns the embedding stored at path, reading it on a miss. A hit marks
// the entry most recently used.
//
// If ctx ends while waiting for another caller's load of the same path, Load
// returns ctx.Err(); the shared load still completes and populates the cache.
func (c *Cache) Load(ctx context.Context, path string) (*voice.Embedding, error) {
	if emb, ok := c.lru.Get(path); ok {
		c.metrics.RecordCacheLookup(ctx, true)
		return emb, nil
	}
	c.metrics.RecordCacheLookup(ctx, false)

	ch := c.group.DoChan(path, func() (any, error) {
		// A flight that finished between our Get and DoChan already filled
		// the entry.
		if emb, ok := c.lru.Peek(path); ok {
			return emb, nil
		}
		emb, err := c.load(path)
		if err != nil {
			return nil, err
		}
		prev, ok, evicted := c.lru.PeekOrAdd(path, emb)
		if ok {
			return prev, nil
		}
		if evicted {
			c.recordEvictions(context.WithoutCancel(ctx), 1, "insert")
		}
		return emb, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("voicecache: %w", res.Err)
		}
		return res.Val.(*voice.Embedding), nil
	}
}

// Contains reports whether path is cached without touching its recency.
func (c *Cache) Contains(path string) bool { return c.lru.Contains(path) }

// Len returns the number of cached embeddings.
func (c *Cache) Len() int { return c.lru.Len() }

// Keys returns the cached paths from least to most recently used.
func (c *Cache) Keys() []string { return c.lru.Keys() }

// Resize changes the capacity, evicting least recently used entries if it
// shrinks. It returns the number of evicted entries.
func (c *Cache) Resize(capacity int) int {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	evicted := c.lru.Resize(capacity)
	c.recordEvictions(context.Background(), evicted, "resize")
	return evicted
}

// Remove drops path so the next Load reads it again. It reports whether an
// entry was present.
func (c *Cache) Remove(path string) bool { return c.lru.Remove(path) }

// Purge drops every entry.
func (c *Cache) Purge() { c.lru.Purge() }

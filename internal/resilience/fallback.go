package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or was
// skipped because its breaker was open.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for every entry's breaker. Name is
	// overwritten with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Retryable reports whether err justifies trying the next entry. Errors
	// it rejects are returned to the caller at once and do not count against
	// the entry's breaker. Nil treats every error as retryable.
	Retryable func(err error) bool
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallbacks of the same type,
// each behind its own [CircuitBreaker]. Entries are tried in registration
// order.
//
// Register all entries before the group is used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry after those already registered.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Each calls fn for every entry in order with its name, value and breaker.
func (fg *FallbackGroup[T]) Each(fn func(name string, value T, breaker *CircuitBreaker)) {
	for _, e := range fg.entries {
		fn(e.name, e.value, e.breaker)
	}
}

// Execute tries fn against each entry until one succeeds. See
// [ExecuteWithResult].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry of fg until one succeeds and
// returns its result. Entries with an open breaker are skipped. A
// non-retryable error ends the attempt immediately and is returned unwrapped.
// If every entry fails the last error is returned wrapped in [ErrAllFailed].
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var (
			result R
			fatal  error
		)
		err := entry.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(entry.value)
			if callErr != nil && fg.cfg.Retryable != nil && !fg.cfg.Retryable(callErr) {
				fatal = callErr
				return nil
			}
			return callErr
		})
		if fatal != nil {
			return zero, fatal
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend, circuit open", "backend", entry.name)
			continue
		}
		if i < len(fg.entries)-1 {
			slog.Warn("backend failed, trying next", "backend", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

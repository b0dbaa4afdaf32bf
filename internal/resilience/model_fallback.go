package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxstitch/pkg/audio"
	"github.com/MrWong99/voxstitch/pkg/provider/model"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

var (
	_ model.Provider = (*ModelFallback)(nil)
	_ model.Releaser = (*ModelFallback)(nil)
	_ model.Pinger   = (*ModelFallback)(nil)
)

// BackendStatus is a point-in-time view of one backend's breaker.
type BackendStatus struct {
	Name  string
	State State
}

// ModelFallback implements [model.Provider] over an ordered list of inference
// backends. Only errors wrapping [model.ErrUnavailable] move on to the next
// backend; any other error belongs to the input and is returned as-is.
type ModelFallback struct {
	group *FallbackGroup[model.Provider]
}

// NewModelFallback creates a [ModelFallback] with primary as the preferred
// backend. cfg.Retryable is replaced.
func NewModelFallback(primary model.Provider, primaryName string, cfg FallbackConfig) *ModelFallback {
	cfg.Retryable = IsUnavailable
	return &ModelFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// IsUnavailable reports whether err means the backend itself could not serve
// the call.
func IsUnavailable(err error) bool {
	return errors.Is(err, model.ErrUnavailable)
}

// AddFallback registers another backend after those already added.
func (f *ModelFallback) AddFallback(name string, p model.Provider) {
	f.group.AddFallback(name, p)
}

// Tokenize implements model.Provider.
func (f *ModelFallback) Tokenize(ctx context.Context, text string, lang rune) (model.Tokens, error) {
	return ExecuteWithResult(f.group, func(p model.Provider) (model.Tokens, error) {
		return p.Tokenize(ctx, text, lang)
	})
}

// Generate implements model.Provider.
func (f *ModelFallback) Generate(ctx context.Context, ids []int, emb *voice.Embedding, speed float64) (audio.Buffer, error) {
	return ExecuteWithResult(f.group, func(p model.Provider) (audio.Buffer, error) {
		return p.Generate(ctx, ids, emb, speed)
	})
}

// ReleaseResources forwards to every backend that implements model.Releaser,
// whether or not its breaker is open, and joins their errors.
func (f *ModelFallback) ReleaseResources(ctx context.Context) error {
	var errs []error
	f.group.Each(func(name string, p model.Provider, _ *CircuitBreaker) {
		if r, ok := p.(model.Releaser); ok {
			if err := r.ReleaseResources(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	})
	return errors.Join(errs...)
}

// Ping succeeds when at least one backend is reachable. Backends without a
// Ping method count as reachable while their breaker is not open.
func (f *ModelFallback) Ping(ctx context.Context) error {
	var errs []error
	ok := false
	f.group.Each(func(name string, p model.Provider, cb *CircuitBreaker) {
		if ok {
			return
		}
		pinger, isPinger := p.(model.Pinger)
		if !isPinger {
			if cb.State() != StateOpen {
				ok = true
			} else {
				errs = append(errs, fmt.Errorf("%s: %w", name, ErrCircuitOpen))
			}
			return
		}
		if err := pinger.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		ok = true
	})
	if ok {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// Status returns the breaker state of every backend in order.
func (f *ModelFallback) Status() []BackendStatus {
	out := make([]BackendStatus, 0, f.group.Len())
	f.group.Each(func(name string, _ model.Provider, cb *CircuitBreaker) {
		out = append(out, BackendStatus{Name: name, State: cb.State()})
	})
	return out
}

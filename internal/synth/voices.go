package synth

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxstitch/internal/observe"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

// CombineVoices averages the named voices element-wise, saves the result in
// the store and returns its name.
//
// Sources are read directly from disk, bypassing the cache. The new name joins
// the sources with [voice.NameSeparator], bounded as configured by
// [WithMaxVoiceNameLength]. An existing voice of the same name is replaced.
func (s *Service) CombineVoices(ctx context.Context, names []string) (name string, err error) {
	ctx, span := observe.StartSpan(ctx, "synth.CombineVoices",
		trace.WithAttributes(attribute.StringSlice("voices", names)))
	defer func() { observe.EndSpan(span, err) }()
	defer s.release(ctx)

	if len(names) < 2 {
		return "", fmt.Errorf("%w: got %d", ErrTooFewVoices, len(names))
	}
	embs := make([]*voice.Embedding, len(names))
	for i, n := range names {
		if _, ok := s.store.Path(n); !ok {
			return "", s.voiceNotFound(ctx, n)
		}
		emb, err := s.store.Load(n)
		if err != nil {
			return "", fmt.Errorf("synth: load voice %q: %w", n, err)
		}
		embs[i] = emb
	}

	combined, err := voice.Combine(embs...)
	if err != nil {
		return "", fmt.Errorf("synth: combine %v: %w", names, err)
	}

	name = voice.CombinedName(names, s.maxNameLen)
	log := observe.Logger(ctx).With("voice", name)
	if existing, ok := s.store.Path(name); ok {
		log.Warn("combined voice replaces an existing voice", "path", existing)
	}
	path, err := s.store.Save(name, combined)
	if err != nil {
		return "", fmt.Errorf("synth: save combined voice %q: %w", name, err)
	}
	// A cached copy of a replaced file is stale.
	s.cache.Remove(path)

	s.metrics.VoicesCombined.Add(ctx, 1)
	log.Info("voices combined", "sources", names, "path", path)
	return name, nil
}

// ListVoices returns the stored voice names in sorted order. It is best
// effort: a listing failure is logged and yields an empty list.
func (s *Service) ListVoices(ctx context.Context) []string {
	names, err := s.store.List(ctx)
	if err != nil {
		observe.Logger(ctx).Error("failed to list voices", "dir", s.store.Dir(), "err", err)
		return []string{}
	}
	return names
}

// Package synth is the synthesis orchestrator. It turns text, a voice name and
// a speed factor into audio by composing the chunker, the shared voice cache,
// the inference backend, the loudness normaliser and the stream encoder.
//
// A [Service] exposes four operations:
//
//   - [Service.Complete] synthesises a whole utterance and returns one stitched
//     buffer.
//   - [Service.Stream] yields encoded segments chunk by chunk, paced by the
//     consumer.
//   - [Service.CombineVoices] averages stored voices into a new one.
//   - [Service.ListVoices] enumerates the voice store.
//
// A chunk that fails to tokenise or generate is logged and skipped; a request
// fails only when validation rejects it or no chunk survives. The
// [Housekeeper] release hook runs exactly once per request on every exit
// path.
//
// The Service is constructed once by the hosting process and shared by all
// callers. It is safe for concurrent use.
package synth

import (
	"context"
	"errors"

	"github.com/MrWong99/voxstitch/internal/observe"
	"github.com/MrWong99/voxstitch/internal/voicecache"
	"github.com/MrWong99/voxstitch/pkg/audio"
	"github.com/MrWong99/voxstitch/pkg/audio/encode"
	"github.com/MrWong99/voxstitch/pkg/provider/model"
	"github.com/MrWong99/voxstitch/pkg/text/chunker"
	"github.com/MrWong99/voxstitch/pkg/text/normalize"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

// TextNormalizer rewrites raw request text before chunking. An empty result
// rejects the request with [ErrEmptyText].
type TextNormalizer func(string) string

// Housekeeper reclaims shared inference resources between units of work.
type Housekeeper interface {
	// Release is called once after every request, whatever its outcome.
	Release(ctx context.Context)

	// Diagnostic records resource usage under tag. It must never affect
	// control flow.
	Diagnostic(ctx context.Context, tag string)
}

type nopHousekeeper struct{}

func (nopHousekeeper) Release(context.Context)            {}
func (nopHousekeeper) Diagnostic(context.Context, string) {}

// Option configures a [Service].
type Option func(*Service)

// WithCache shares an existing voice cache. By default New creates one with
// [voicecache.DefaultCapacity].
func WithCache(c *voicecache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithChunker replaces the default chunker.
func WithChunker(c *chunker.Chunker) Option {
	return func(s *Service) { s.chunker = c }
}

// WithTextNormalizer replaces [normalize.Text].
func WithTextNormalizer(fn TextNormalizer) Option {
	return func(s *Service) { s.normalizeText = fn }
}

// WithHousekeeper sets the release and diagnostic hooks.
func WithHousekeeper(h Housekeeper) Option {
	return func(s *Service) { s.housekeeper = h }
}

// WithMetrics records synthesis metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNormalizerConfig tunes the per-stream loudness normaliser.
func WithNormalizerConfig(cfg audio.NormalizerConfig) Option {
	return func(s *Service) { s.normCfg = cfg }
}

// WithSampleRate sets the output rate. Model audio at any other rate is
// resampled. Default: [audio.DefaultSampleRate].
func WithSampleRate(rate int) Option {
	return func(s *Service) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// WithChunkConcurrency lets [Service.Complete] run up to n chunks through the
// model at once. Values below 2 keep it sequential. Streaming is always
// sequential.
func WithChunkConcurrency(n int) Option {
	return func(s *Service) { s.concurrency = max(n, 1) }
}

// WithMaxVoiceNameLength bounds combined voice names. Default:
// [voice.DefaultMaxNameLength]; 0 or less removes the bound.
func WithMaxVoiceNameLength(n int) Option {
	return func(s *Service) { s.maxNameLen = n }
}

// WithDefaultFormat sets the stream format used when a request leaves it
// empty. Default: [encode.FormatWAV].
func WithDefaultFormat(f encode.Format) Option {
	return func(s *Service) {
		if f != "" {
			s.defaultFormat = f
		}
	}
}

// WithProviderName labels model request metrics. Default: "model".
func WithProviderName(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.providerName = name
		}
	}
}

// Service orchestrates synthesis requests.
type Service struct {
	model         model.Provider
	store         *voice.Store
	cache         *voicecache.Cache
	chunker       *chunker.Chunker
	normalizeText TextNormalizer
	housekeeper   Housekeeper
	metrics       *observe.Metrics
	normCfg       audio.NormalizerConfig
	sampleRate    int
	concurrency   int
	maxNameLen    int
	defaultFormat encode.Format
	providerName  string
}

// New returns a Service backed by m and the voices in store.
func New(m model.Provider, store *voice.Store, opts ...Option) (*Service, error) {
	if m == nil {
		return nil, errors.New("synth: model provider is required")
	}
	if store == nil {
		return nil, errors.New("synth: voice store is required")
	}
	s := &Service{
		model:         m,
		store:         store,
		chunker:       chunker.New(),
		normalizeText: normalize.Text,
		housekeeper:   nopHousekeeper{},
		sampleRate:    audio.DefaultSampleRate,
		concurrency:   1,
		maxNameLen:    voice.DefaultMaxNameLength,
		defaultFormat: encode.FormatWAV,
		providerName:  "model",
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.cache == nil {
		c, err := voicecache.New(voicecache.DefaultCapacity, nil, voicecache.WithMetrics(s.metrics))
		if err != nil {
			return nil, err
		}
		s.cache = c
	}
	return s, nil
}

// Cache returns the voice cache shared by all requests.
func (s *Service) Cache() *voicecache.Cache { return s.cache }

// Store returns the voice store.
func (s *Service) Store() *voice.Store { return s.store }

// release runs the housekeeper's release hook. It ignores cancellation of ctx
// so that an abandoned request still frees its resources.
func (s *Service) release(ctx context.Context) {
	s.housekeeper.Release(context.WithoutCancel(ctx))
}

package synth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxstitch/internal/observe"
	"github.com/MrWong99/voxstitch/pkg/audio"
	"github.com/MrWong99/voxstitch/pkg/audio/encode"
	"github.com/MrWong99/voxstitch/pkg/provider/model"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

// Request is one synthesis request. It is not modified by the Service.
type Request struct {
	Text  string
	Voice string

	// Speed is the speaking rate factor; 1 is natural. Must be positive.
	Speed float64

	// Format selects the stream container. Empty selects the Service default.
	// Ignored by Complete.
	Format encode.Format

	// DisableStitching makes Complete send the whole text to the model as a
	// single unit instead of chunking it. Any failure then fails the request.
	DisableStitching bool
}

// Result is the outcome of [Service.Complete].
type Result struct {
	// Audio is the stitched utterance. Treat it as immutable.
	Audio audio.Buffer

	// ProcessingTime is the wall-clock time spent serving the request.
	ProcessingTime time.Duration

	// Chunks is the number of chunks the text was split into.
	Chunks int

	// Skipped is the number of chunks dropped after a soft failure.
	Skipped int
}

// job is a validated request.
type job struct {
	text  string
	voice string
	lang  rune
	speed float64
	emb   *voice.Embedding
}

// prepare validates req and resolves its voice through the cache. The voice is
// looked up once per request.
func (s *Service) prepare(ctx context.Context, req Request) (*job, error) {
	text := s.normalizeText(req.Text)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if req.Speed <= 0 || math.IsNaN(req.Speed) || math.IsInf(req.Speed, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidSpeed, req.Speed)
	}
	emb, err := s.loadVoice(ctx, req.Voice)
	if err != nil {
		return nil, err
	}
	return &job{
		text:  text,
		voice: req.Voice,
		lang:  model.LangFromVoice(req.Voice),
		speed: req.Speed,
		emb:   emb,
	}, nil
}

func (s *Service) loadVoice(ctx context.Context, name string) (*voice.Embedding, error) {
	path, ok := s.store.Path(name)
	if !ok {
		return nil, s.voiceNotFound(ctx, name)
	}
	emb, err := s.cache.Load(ctx, path)
	if errors.Is(err, voice.ErrNotFound) {
		return nil, s.voiceNotFound(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("synth: load voice %q: %w", name, err)
	}
	return emb, nil
}

func (s *Service) voiceNotFound(ctx context.Context, name string) error {
	return &VoiceNotFoundError{Name: name, Suggestion: s.store.Suggest(ctx, name)}
}

var (
	// errEmptyAudio marks a chunk for which the model returned no samples.
	errEmptyAudio = errors.New("model returned no audio")

	// errSkipped marks a chunk whose failure has already been reported.
	errSkipped = errors.New("chunk skipped")
)

// tokenize runs one chunk through the model's tokenizer.
func (s *Service) tokenize(ctx context.Context, j *job, text string) (model.Tokens, error) {
	start := time.Now()
	tok, err := s.model.Tokenize(ctx, text, j.lang)
	if err == nil && len(tok.IDs) == 0 {
		err = errors.New("tokenizer returned no tokens")
	}
	s.recordCall(ctx, observe.StageTokenize, start, err)
	return tok, err
}

// generate synthesises one chunk and resamples it to the service rate. An
// empty result is reported as errEmptyAudio.
func (s *Service) generate(ctx context.Context, j *job, ids []int) (audio.Buffer, error) {
	start := time.Now()
	buf, err := s.model.Generate(ctx, ids, j.emb, j.speed)
	if err == nil && buf.IsEmpty() {
		err = errEmptyAudio
	}
	s.recordCall(ctx, observe.StageGenerate, start, err)
	if err != nil {
		return audio.Buffer{}, err
	}
	if buf.SampleRate <= 0 {
		buf.SampleRate = s.sampleRate
	}
	if buf.SampleRate != s.sampleRate {
		buf = audio.Buffer{
			Samples:    audio.ResampleLinear(buf.Samples, buf.SampleRate, s.sampleRate),
			SampleRate: s.sampleRate,
		}
	}
	return buf, nil
}

func (s *Service) recordCall(ctx context.Context, stage string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, errEmptyAudio):
		status = "empty"
	case err != nil:
		status = "error"
	}
	s.metrics.ChunkDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("stage", stage)))
	s.metrics.RecordModelRequest(ctx, s.providerName, stage, status)
}

// preview shortens chunk text for log lines.
func preview(text string) string {
	const limit = 48
	if r := []rune(text); len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return text
}

package synth

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxstitch/internal/observe"
	"github.com/MrWong99/voxstitch/pkg/audio"
	"github.com/MrWong99/voxstitch/pkg/audio/encode"
)

// Segment is one encoded piece of a stream.
type Segment struct {
	// Index counts delivered segments from zero. Skipped chunks leave no gap.
	Index int

	// Position drives container framing. The first delivered segment carries
	// [encode.First]; the segment of the final chunk carries [encode.Last].
	Position encode.Position

	// Data is ready to be written to the client as-is.
	Data []byte
}

// Stream validates req and returns a channel of encoded segments.
//
// Validation errors are returned before any chunk is produced. Otherwise a
// producer goroutine synthesises one chunk at a time and sends each segment
// on an unbuffered channel, so the consumer's read rate paces the model. A
// chunk that fails or yields no audio is logged and skipped. The channel is
// closed when the text is exhausted or ctx is cancelled; consumers that stop
// reading early must cancel ctx.
//
// The release hook runs exactly once, when the producer exits or when
// validation fails.
func (s *Service) Stream(ctx context.Context, req Request) (<-chan Segment, error) {
	format := req.Format
	if format == "" {
		format = s.defaultFormat
	}
	enc, err := encode.For(format)
	if err != nil {
		s.release(ctx)
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	ctx, span := observe.StartSpan(ctx, "synth.Stream", trace.WithAttributes(
		attribute.String("voice", req.Voice),
		attribute.Float64("speed", req.Speed),
		attribute.String("format", string(format)),
	))
	j, err := s.prepare(ctx, req)
	if err != nil {
		s.release(ctx)
		observe.EndSpan(span, err)
		return nil, err
	}

	out := make(chan Segment)
	p := &producer{
		svc:    s,
		job:    j,
		enc:    enc,
		format: format,
		norm:   audio.NewNormalizer(s.normCfg),
		out:    out,
		span:   span,
	}
	go p.run(ctx)
	return out, nil
}

// producer is the state of one streaming request.
type producer struct {
	svc    *Service
	job    *job
	enc    encode.Encoder
	format encode.Format
	norm   *audio.Normalizer
	out    chan<- Segment
	span   trace.Span
	log    *slog.Logger

	chunks    int
	delivered int
	skipped   int
}

func (p *producer) run(ctx context.Context) {
	s := p.svc
	start := time.Now()
	streamID := uuid.NewString()
	ctx = observe.WithLogAttrs(ctx, "stream_id", streamID)
	p.log = observe.Logger(ctx).With("voice", p.job.voice)
	p.span.SetAttributes(attribute.String("stream_id", streamID))

	modeAttr := metric.WithAttributes(observe.Attr("mode", observe.ModeStream))
	s.metrics.ActiveStreams.Add(ctx, 1)
	s.housekeeper.Diagnostic(ctx, "stream:start")

	defer func() {
		s.metrics.ActiveStreams.Add(ctx, -1)
		s.housekeeper.Diagnostic(ctx, "stream:end")
		s.release(ctx)

		elapsed := time.Since(start)
		var err error
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
			p.log.Info("stream cancelled", "delivered", p.delivered, "elapsed", elapsed)
		case p.delivered == 0:
			err = fmt.Errorf("%w: all %d chunks failed", ErrNoAudioGenerated, p.chunks)
			p.log.Error("stream produced no audio", "chunks", p.chunks)
		default:
			s.metrics.SynthesisDuration.Record(ctx, elapsed.Seconds(), modeAttr)
			p.log.Info("stream finished",
				"chunks", p.chunks,
				"delivered", p.delivered,
				"skipped", p.skipped,
				"elapsed", elapsed,
			)
		}
		observe.EndSpan(p.span, err)
		// Closing last lets a consumer that saw the channel close rely on
		// cleanup having finished.
		close(p.out)
	}()

	next, stop := iter.Pull(s.chunker.Split(p.job.text))
	defer stop()

	// One-chunk lookahead: the next chunk decides whether the current one is
	// last.
	cur, ok := next()
	for ok && ctx.Err() == nil {
		following, hasNext := next()
		pos := encode.PositionFor(p.delivered == 0, !hasNext)

		data, err := p.chunk(ctx, cur, pos)
		p.chunks++
		if err != nil {
			p.skip(ctx, cur, err)
		} else if !p.send(ctx, Segment{Index: p.delivered, Position: pos, Data: data}) {
			return
		}
		cur, ok = following, hasNext
	}
}

// chunk synthesises, normalises and encodes one chunk.
func (p *producer) chunk(ctx context.Context, text string, pos encode.Position) ([]byte, error) {
	s := p.svc
	tok, err := s.tokenize(ctx, p.job, text)
	if err != nil {
		return nil, stageError{observe.StageTokenize, err}
	}
	buf, err := s.generate(ctx, p.job, tok.IDs)
	if err != nil {
		return nil, stageError{observe.StageGenerate, err}
	}
	data, err := p.enc.Encode(p.norm.Apply(buf.Samples), buf.SampleRate, pos)
	if err != nil {
		return nil, stageError{observe.StageEncode, err}
	}
	return data, nil
}

func (p *producer) skip(ctx context.Context, text string, err error) {
	if ctx.Err() != nil {
		return
	}
	p.skipped++
	stage := observe.StageGenerate
	var se stageError
	if errors.As(err, &se) {
		stage = se.stage
	}
	if errors.Is(err, errEmptyAudio) {
		p.log.Warn("chunk produced no audio, skipping", "chunk", p.chunks-1, "text", preview(text))
	} else {
		p.log.Error("chunk failed, skipping", "chunk", p.chunks-1, "stage", stage, "text", preview(text), "err", err)
	}
	p.svc.metrics.RecordChunkFailure(ctx, observe.ModeStream, stage)
}

// send blocks until the consumer takes seg or ctx ends.
func (p *producer) send(ctx context.Context, seg Segment) bool {
	select {
	case p.out <- seg:
		p.delivered++
		p.svc.metrics.RecordSegment(ctx, string(p.format))
		return true
	case <-ctx.Done():
		return false
	}
}

// stageError tags a chunk error with the pipeline stage that produced it.
type stageError struct {
	stage string
	err   error
}

func (e stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e stageError) Unwrap() error { return e.err }

package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxstitch/internal/observe"
	"github.com/MrWong99/voxstitch/pkg/audio"
	"github.com/MrWong99/voxstitch/pkg/provider/model"
)

// Complete synthesises req.Text and returns the stitched audio.
//
// The text is chunked eagerly. Every chunk is tokenised, then every surviving
// chunk is generated; a chunk that fails either step is logged and skipped.
// Complete fails with [ErrNoChunksProcessed] when no chunk tokenises and with
// [ErrNoAudioGenerated] when no chunk yields audio. Surviving buffers are
// concatenated in text order.
func (s *Service) Complete(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	ctx = observe.WithLogAttrs(ctx, "request_id", uuid.NewString())
	ctx, span := observe.StartSpan(ctx, "synth.Complete", trace.WithAttributes(
		attribute.String("voice", req.Voice),
		attribute.Float64("speed", req.Speed),
		attribute.Bool("stitch", !req.DisableStitching),
	))
	defer func() { observe.EndSpan(span, err) }()
	defer s.release(ctx)

	j, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	log := observe.Logger(ctx).With("voice", j.voice)

	s.housekeeper.Diagnostic(ctx, "complete:start")
	if req.DisableStitching {
		res, err = s.completeWhole(ctx, j)
	} else {
		res, err = s.completeChunked(ctx, j, log)
	}
	s.housekeeper.Diagnostic(ctx, "complete:end")
	if err != nil {
		return nil, err
	}

	res.ProcessingTime = time.Since(start)
	s.metrics.SynthesisDuration.Record(ctx, res.ProcessingTime.Seconds(),
		metric.WithAttributes(observe.Attr("mode", observe.ModeComplete)))
	log.Info("synthesis complete",
		"chunks", res.Chunks,
		"skipped", res.Skipped,
		"audio", res.Audio.Duration(),
		"elapsed", res.ProcessingTime,
	)
	return res, nil
}

// completeWhole sends the entire text as one unit. Failures propagate.
func (s *Service) completeWhole(ctx context.Context, j *job) (*Result, error) {
	tok, err := s.tokenize(ctx, j, j.text)
	if err != nil {
		return nil, fmt.Errorf("synth: tokenize: %w", err)
	}
	buf, err := s.generate(ctx, j, tok.IDs)
	if errors.Is(err, errEmptyAudio) {
		return nil, ErrNoAudioGenerated
	}
	if err != nil {
		return nil, fmt.Errorf("synth: generate: %w", err)
	}
	return &Result{Audio: buf, Chunks: 1}, nil
}

// chunkOutcome is the per-chunk fold state of completeChunked.
type chunkOutcome struct {
	text   string
	tokens model.Tokens
	audio  audio.Buffer
	err    error
}

func (s *Service) completeChunked(ctx context.Context, j *job, log *slog.Logger) (*Result, error) {
	chunks := s.chunker.Chunks(j.text)
	outcomes := make([]chunkOutcome, len(chunks))
	for i, c := range chunks {
		outcomes[i].text = c
	}

	s.forEachChunk(ctx, outcomes, func(ctx context.Context, o *chunkOutcome) {
		o.tokens, o.err = s.tokenize(ctx, j, o.text)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokenized := s.dropFailed(ctx, outcomes, observe.StageTokenize, log)
	if tokenized == 0 {
		return nil, fmt.Errorf("%w: all %d chunks failed to tokenize", ErrNoChunksProcessed, len(chunks))
	}

	s.forEachChunk(ctx, outcomes, func(ctx context.Context, o *chunkOutcome) {
		o.audio, o.err = s.generate(ctx, j, o.tokens.IDs)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	generated := s.dropFailed(ctx, outcomes, observe.StageGenerate, log)
	if generated == 0 {
		return nil, fmt.Errorf("%w: all %d chunks failed", ErrNoAudioGenerated, len(chunks))
	}

	bufs := make([]audio.Buffer, 0, generated)
	for _, o := range outcomes {
		if o.err == nil {
			bufs = append(bufs, o.audio)
		}
	}
	return &Result{
		Audio:   audio.Concat(bufs...),
		Chunks:  len(chunks),
		Skipped: len(chunks) - generated,
	}, nil
}

// forEachChunk applies fn to every outcome that has not failed yet. With a
// concurrency above one, chunks run in parallel; each writes only its own
// slot, so ordinal order is preserved.
func (s *Service) forEachChunk(ctx context.Context, outcomes []chunkOutcome, fn func(context.Context, *chunkOutcome)) {
	if s.concurrency <= 1 {
		for i := range outcomes {
			if ctx.Err() != nil {
				return
			}
			if outcomes[i].err == nil {
				fn(ctx, &outcomes[i])
			}
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range outcomes {
		if outcomes[i].err != nil {
			continue
		}
		g.Go(func() error {
			if ctx.Err() == nil {
				fn(ctx, &outcomes[i])
			}
			return nil
		})
	}
	_ = g.Wait()
}

// dropFailed logs chunks that failed in stage and counts survivors. Failed
// outcomes keep their error so later stages skip them.
func (s *Service) dropFailed(ctx context.Context, outcomes []chunkOutcome, stage string, log *slog.Logger) int {
	survivors := 0
	for i, o := range outcomes {
		if o.err == nil {
			survivors++
			continue
		}
		if errors.Is(o.err, errSkipped) {
			continue
		}
		log.Error("chunk skipped", "chunk", i, "stage", stage, "text", preview(o.text), "err", o.err)
		s.metrics.RecordChunkFailure(ctx, observe.ModeComplete, stage)
		outcomes[i].err = errSkipped
	}
	return survivors
}

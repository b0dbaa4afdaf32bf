package synth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxstitch/pkg/provider/model/mock"
)

func TestComplete_StitchesChunksInOrder(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			f := newFixture(t, nil, WithChunkConcurrency(concurrency))
			res, err := f.svc.Complete(context.Background(), request(threeChunks))
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if !slices.Equal(res.Audio.Samples, expectedAudio(threeChunkTexts...)) {
				t.Error("stitched audio differs from the ordered concatenation of chunk audio")
			}
			if res.Audio.SampleRate != 24000 {
				t.Errorf("sample rate = %d", res.Audio.SampleRate)
			}
			if res.Chunks != 3 || res.Skipped != 0 {
				t.Errorf("chunks/skipped = %d/%d, want 3/0", res.Chunks, res.Skipped)
			}
			if res.ProcessingTime <= 0 {
				t.Error("processing time not measured")
			}
			if f.hk.Releases() != 1 {
				t.Errorf("releases = %d, want 1", f.hk.Releases())
			}
		})
	}
}

func TestComplete_PassesVoiceSpeedAndLanguage(t *testing.T) {
	f := newFixture(t, nil)
	req := Request{Text: "Hello there.", Voice: "am_adam", Speed: 1.5}
	if _, err := f.svc.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	calls := f.model.Generated()
	if len(calls) != 1 {
		t.Fatalf("generate calls = %d, want 1", len(calls))
	}
	if calls[0].Speed != 1.5 || !slices.Equal(calls[0].Voice.Data, []float32{0.3, 0.4}) {
		t.Errorf("generate call = %+v", calls[0])
	}
	if lang := f.model.TokenizeCalls[0].Lang; lang != 'a' {
		t.Errorf("lang = %q, want 'a'", lang)
	}
}

func TestComplete_SoftFailures(t *testing.T) {
	tests := []struct {
		name        string
		model       *mock.Provider
		wantTexts   []string
		wantSkipped int
	}{
		{
			name:        "generate fails on the middle chunk",
			model:       &mock.Provider{GenerateHook: failOn("Two")},
			wantTexts:   []string{threeChunkTexts[0], threeChunkTexts[2]},
			wantSkipped: 1,
		},
		{
			name: "middle chunk yields no audio",
			model: &mock.Provider{GenerateHook: func(text string) (bool, error) {
				return strings.HasPrefix(text, "Two"), nil
			}},
			wantTexts:   []string{threeChunkTexts[0], threeChunkTexts[2]},
			wantSkipped: 1,
		},
		{
			name: "tokenize fails on the last chunk",
			model: &mock.Provider{TokenizeHook: func(text string) error {
				if strings.HasPrefix(text, "Three") {
					return errors.New("unknown phoneme")
				}
				return nil
			}},
			wantTexts:   threeChunkTexts[:2],
			wantSkipped: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.model)
			res, err := f.svc.Complete(context.Background(), request(threeChunks))
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if !slices.Equal(res.Audio.Samples, expectedAudio(tc.wantTexts...)) {
				t.Error("audio is not built from the surviving chunks in order")
			}
			if res.Skipped != tc.wantSkipped {
				t.Errorf("skipped = %d, want %d", res.Skipped, tc.wantSkipped)
			}
			if f.hk.Releases() != 1 {
				t.Errorf("releases = %d, want 1", f.hk.Releases())
			}
		})
	}
}

func TestComplete_TokenizeFailureSkipsGenerate(t *testing.T) {
	f := newFixture(t, &mock.Provider{TokenizeHook: func(text string) error {
		if strings.HasPrefix(text, "One") {
			return errors.New("unknown phoneme")
		}
		return nil
	}})
	if _, err := f.svc.Complete(context.Background(), request(threeChunks)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	for _, c := range f.model.Generated() {
		if strings.HasPrefix(c.Text, "One") {
			t.Error("a chunk that failed to tokenize was generated")
		}
	}
}

func TestComplete_ZeroSurvivors(t *testing.T) {
	always := errors.New("model down")
	tests := []struct {
		name    string
		model   *mock.Provider
		wantErr error
	}{
		{
			name:    "every generate fails",
			model:   &mock.Provider{GenerateHook: func(string) (bool, error) { return false, always }},
			wantErr: ErrNoAudioGenerated,
		},
		{
			name:    "every generate is empty",
			model:   &mock.Provider{GenerateHook: func(string) (bool, error) { return true, nil }},
			wantErr: ErrNoAudioGenerated,
		},
		{
			name:    "every tokenize fails",
			model:   &mock.Provider{TokenizeHook: func(string) error { return always }},
			wantErr: ErrNoChunksProcessed,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.model)
			_, err := f.svc.Complete(context.Background(), request(threeChunks))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if IsValidation(err) {
				t.Error("zero-survivor error classified as validation")
			}
			if f.hk.Releases() != 1 {
				t.Errorf("releases = %d, want 1", f.hk.Releases())
			}
		})
	}
}

func TestComplete_SingleChunk(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.Complete(context.Background(), request("Short."))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !slices.Equal(res.Audio.Samples, expectedAudio("Short.")) {
		t.Error("single chunk audio differs from the model output")
	}
	if res.Chunks != 1 {
		t.Errorf("chunks = %d, want 1", res.Chunks)
	}
}

func TestComplete_DisableStitching(t *testing.T) {
	t.Run("whole text in one call", func(t *testing.T) {
		f := newFixture(t, nil)
		req := request(threeChunks)
		req.DisableStitching = true
		res, err := f.svc.Complete(context.Background(), req)
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		calls := f.model.Generated()
		if len(calls) != 1 || calls[0].Text != threeChunks {
			t.Fatalf("generate calls = %+v, want one call with the whole text", calls)
		}
		if res.Chunks != 1 || !slices.Equal(res.Audio.Samples, expectedAudio(threeChunks)) {
			t.Errorf("result = %d chunks, %d samples", res.Chunks, res.Audio.Len())
		}
	})

	t.Run("failure propagates", func(t *testing.T) {
		f := newFixture(t, &mock.Provider{GenerateHook: failOn("One")})
		req := request(threeChunks)
		req.DisableStitching = true
		_, err := f.svc.Complete(context.Background(), req)
		if err == nil || !strings.Contains(err.Error(), "synthesis exploded") {
			t.Fatalf("err = %v, want the model error", err)
		}
		if f.hk.Releases() != 1 {
			t.Errorf("releases = %d, want 1", f.hk.Releases())
		}
	})
}

func TestComplete_ContextCancelled(t *testing.T) {
	f := newFixture(t, &mock.Provider{Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.svc.Complete(ctx, request(threeChunks))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if f.hk.Releases() != 1 {
		t.Errorf("releases = %d, want 1", f.hk.Releases())
	}
}

func TestComplete_Diagnostics(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Complete(context.Background(), request("Hi.")); err != nil {
		t.Fatal(err)
	}
	f.hk.mu.Lock()
	defer f.hk.mu.Unlock()
	if !slices.Equal(f.hk.tags, []string{"complete:start", "complete:end"}) {
		t.Errorf("diagnostic tags = %v", f.hk.tags)
	}
}

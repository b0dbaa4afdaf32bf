// Package mock provides a deterministic in-process model.Provider for tests
// and local development.
//
// Tokenize maps every rune of the chunk to its code point; Generate emits a
// fixed number of samples per token whose absolute peak is always Amplitude,
// so streamed and complete syntheses of the same text are sample-identical
// and the loudness normaliser applies one constant gain.
//
// Failure hooks let tests make individual chunks fail or come back empty:
//
//	p := &mock.Provider{
//	    GenerateHook: func(text string) (bool, error) {
//	        if strings.HasPrefix(text, "Two") {
//	            return false, errors.New("boom")
//	        }
//	        return false, nil
//	    },
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxstitch/pkg/audio"
	"github.com/MrWong99/voxstitch/pkg/provider/model"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

// Defaults for zero-valued fields.
const (
	DefaultSamplesPerToken = 8
	DefaultAmplitude       = 0.5
)

// TokenizeCall records a single invocation of Tokenize.
type TokenizeCall struct {
	Text string
	Lang rune
}

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Text is the chunk text recovered from the token IDs.
	Text  string
	Voice *voice.Embedding
	Speed float64
}

// Provider is a mock implementation of model.Provider, model.Releaser and
// model.Pinger.
type Provider struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// SampleRate of generated audio. Default: audio.DefaultSampleRate.
	SampleRate int

	// SamplesPerToken at speed 1.0. Default: DefaultSamplesPerToken.
	SamplesPerToken int

	// Amplitude is the peak of every generated chunk. Default: DefaultAmplitude.
	Amplitude float32

	// Delay is slept (respecting ctx) before every Generate.
	Delay time.Duration

	// TokenizeHook, if set, is consulted before tokenising text. A non-nil
	// error fails the call.
	TokenizeHook func(text string) error

	// GenerateHook, if set, is consulted before generating. empty=true yields
	// an empty buffer; a non-nil error fails the call.
	GenerateHook func(text string) (empty bool, err error)

	// ReleaseErr is returned by ReleaseResources.
	ReleaseErr error

	// PingErr is returned by Ping.
	PingErr error

	// --- Call records ---

	TokenizeCalls []TokenizeCall
	GenerateCalls []GenerateCall
	ReleaseCalls  int
	PingCalls     int
}

var (
	_ model.Provider = (*Provider)(nil)
	_ model.Releaser = (*Provider)(nil)
	_ model.Pinger   = (*Provider)(nil)
)

// Tokenize records the call and returns one token per rune.
func (p *Provider) Tokenize(ctx context.Context, text string, lang rune) (model.Tokens, error) {
	p.mu.Lock()
	p.TokenizeCalls = append(p.TokenizeCalls, TokenizeCall{Text: text, Lang: lang})
	hook := p.TokenizeHook
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return model.Tokens{}, err
	}
	if hook != nil {
		if err := hook(text); err != nil {
			return model.Tokens{}, err
		}
	}
	runes := []rune(text)
	ids := make([]int, len(runes))
	for i, r := range runes {
		ids[i] = int(r)
	}
	return model.Tokens{Phonemes: text, IDs: ids}, nil
}

// Generate records the call and returns the deterministic waveform for ids.
func (p *Provider) Generate(ctx context.Context, ids []int, emb *voice.Embedding, speed float64) (audio.Buffer, error) {
	runes := make([]rune, len(ids))
	for i, id := range ids {
		runes[i] = rune(id)
	}
	text := string(runes)

	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Text: text, Voice: emb, Speed: speed})
	hook, delay := p.GenerateHook, p.Delay
	rate, per, amp := p.SampleRate, p.SamplesPerToken, p.Amplitude
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return audio.Buffer{}, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return audio.Buffer{}, err
	}
	if hook != nil {
		empty, err := hook(text)
		if err != nil {
			return audio.Buffer{}, err
		}
		if empty {
			return audio.Buffer{SampleRate: rate}, nil
		}
	}

	return Waveform(ids, speed, rate, per, amp), nil
}

// Waveform is the pure function behind Generate, exported so tests can compute
// expected samples. Zero parameters select the package defaults.
func Waveform(ids []int, speed float64, sampleRate, samplesPerToken int, amplitude float32) audio.Buffer {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	if samplesPerToken <= 0 {
		samplesPerToken = DefaultSamplesPerToken
	}
	if amplitude <= 0 {
		amplitude = DefaultAmplitude
	}
	if speed <= 0 {
		speed = 1
	}
	// At least five samples per token so every token reaches full amplitude.
	per := max(int(float64(samplesPerToken)/speed+0.5), 5)

	out := make([]float32, 0, len(ids)*per)
	for _, id := range ids {
		for i := range per {
			step := (id + i) % 5
			out = append(out, amplitude*float32(step-2)/2)
		}
	}
	return audio.Buffer{Samples: out, SampleRate: sampleRate}
}

// ReleaseResources records the call and returns ReleaseErr.
func (p *Provider) ReleaseResources(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReleaseCalls++
	return p.ReleaseErr
}

// Ping records the call and returns PingErr.
func (p *Provider) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PingCalls++
	return p.PingErr
}

// Generated returns a copy of the recorded Generate calls.
func (p *Provider) Generated() []GenerateCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]GenerateCall(nil), p.GenerateCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TokenizeCalls = nil
	p.GenerateCalls = nil
	p.ReleaseCalls = 0
	p.PingCalls = 0
}

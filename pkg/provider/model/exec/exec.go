// Package exec provides a model.Provider that runs a local inference command
// once per call.
//
// The command line is split with shell quoting rules. Every call starts the
// command, writes one JSON request to its stdin, closes stdin and reads the
// first non-empty line of stdout as the JSON response:
//
//	{"op":"tokenize","text":"...","lang":"a"}
//	  → {"phonemes":"...","ids":[..]}
//	{"op":"generate","ids":[..],"voice":"<b64>","speed":1,"sample_rate":24000}
//	  → {"pcm_base64":"<s16le>","sample_rate":24000}
//	{"op":"release"}
//	  → {}
//
// A response with a non-empty "error" field fails the call. An empty
// pcm_base64 is the soft "no audio" result.
package exec

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/voxstitch/pkg/audio"
	"github.com/MrWong99/voxstitch/pkg/provider/model"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

var (
	_ model.Provider = (*Provider)(nil)
	_ model.Releaser = (*Provider)(nil)
)

// maxLine bounds one response line (base64 PCM of a long chunk).
const maxLine = 64 << 20

// Option configures a Provider.
type Option func(*Provider)

// WithEnv appends environment variables ("KEY=value") to the command's
// environment.
func WithEnv(env ...string) Option {
	return func(p *Provider) { p.env = append(p.env, env...) }
}

// WithSampleRate sets the rate requested from and assumed for the command's
// output. Defaults to audio.DefaultSampleRate.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithTimeout bounds each command invocation. Zero means only the caller's
// context applies.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// Provider runs an external inference command. Safe for concurrent use; each
// call runs its own process.
type Provider struct {
	argv       []string
	env        []string
	sampleRate int
	timeout    time.Duration
}

// New parses command and returns a Provider for it.
func New(command string, opts ...Option) (*Provider, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("exec: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("exec: command is empty")
	}
	p := &Provider{argv: args, sampleRate: audio.DefaultSampleRate}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type request struct {
	Op         string  `json:"op"`
	Text       string  `json:"text,omitempty"`
	Lang       string  `json:"lang,omitempty"`
	IDs        []int   `json:"ids,omitempty"`
	Voice      string  `json:"voice,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
}

type response struct {
	Error      string `json:"error"`
	Phonemes   string `json:"phonemes"`
	IDs        []int  `json:"ids"`
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate"`
}

// Tokenize implements model.Provider.
func (p *Provider) Tokenize(ctx context.Context, text string, lang rune) (model.Tokens, error) {
	resp, err := p.call(ctx, request{Op: "tokenize", Text: text, Lang: string(lang)})
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{Phonemes: resp.Phonemes, IDs: resp.IDs}, nil
}

// Generate implements model.Provider.
func (p *Provider) Generate(ctx context.Context, ids []int, emb *voice.Embedding, speed float64) (audio.Buffer, error) {
	var vb bytes.Buffer
	if err := voice.Write(&vb, emb); err != nil {
		return audio.Buffer{}, fmt.Errorf("exec: encode voice: %w", err)
	}
	resp, err := p.call(ctx, request{
		Op:         "generate",
		IDs:        ids,
		Voice:      base64.StdEncoding.EncodeToString(vb.Bytes()),
		Speed:      speed,
		SampleRate: p.sampleRate,
	})
	if err != nil {
		return audio.Buffer{}, err
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("exec: decode pcm: %w", err)
	}
	rate := resp.SampleRate
	if rate <= 0 {
		rate = p.sampleRate
	}
	samples := audio.PCM16ToFloat(pcm)
	if rate != p.sampleRate {
		samples = audio.ResampleLinear(samples, rate, p.sampleRate)
	}
	return audio.Buffer{Samples: samples, SampleRate: p.sampleRate}, nil
}

// ReleaseResources sends a release request to the command.
func (p *Provider) ReleaseResources(ctx context.Context) error {
	_, err := p.call(ctx, request{Op: "release"})
	return err
}

func (p *Provider) call(ctx context.Context, req request) (response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("exec: marshal %s request: %w", req.Op, err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	cmd := osexec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	if len(p.env) > 0 {
		cmd.Env = append(os.Environ(), p.env...)
	}
	cmd.Stdin = bytes.NewReader(append(data, '\n'))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return response{}, fmt.Errorf("exec: %s: %w", req.Op, err)
	}
	if err := cmd.Start(); err != nil {
		return response{}, fmt.Errorf("exec: start %s: %w: %w", p.argv[0], model.ErrUnavailable, err)
	}

	var (
		line    []byte
		scanErr error
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)
	for scanner.Scan() {
		if b := bytes.TrimSpace(scanner.Bytes()); len(b) > 0 {
			line = append([]byte(nil), b...)
			break
		}
	}
	scanErr = scanner.Err()
	// Drain so the child never blocks on a full pipe before exiting.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return response{}, ctx.Err()
	case scanErr != nil:
		return response{}, fmt.Errorf("exec: %s: read response: %w", req.Op, scanErr)
	case waitErr != nil:
		return response{}, fmt.Errorf("exec: %s: %w: %s", req.Op, waitErr, strings.TrimSpace(stderr.String()))
	case line == nil:
		return response{}, fmt.Errorf("exec: %s: no response", req.Op)
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return response{}, fmt.Errorf("exec: %s: decode response: %w", req.Op, err)
	}
	if resp.Error != "" {
		return response{}, fmt.Errorf("exec: %s: %s", req.Op, resp.Error)
	}
	return resp, nil
}

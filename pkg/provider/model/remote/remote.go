// Package remote provides a model.Provider that talks to an inference server
// over HTTP.
//
// Wire protocol (JSON unless noted):
//
//	POST /v1/tokenize  {"text": "...", "lang": "a"}            → {"phonemes": "...", "ids": [..]}
//	POST /v1/generate  {"ids": [..], "voice": "<b64>", "speed": 1} → audio/wav (204 = no audio)
//	POST /v1/release                                            → 2xx
//	GET  /healthz                                               → 2xx
//
// The voice field carries the embedding serialised with voice.Write and
// base64-encoded. Returned WAV audio is decoded with go-audio/wav, down-mixed
// to mono and resampled to the configured output rate.
//
// Typical usage:
//
//	p, err := remote.New("http://localhost:8880",
//	    remote.WithTimeout(60*time.Second),
//	)
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-audio/wav"

	"github.com/MrWong99/voxstitch/pkg/audio"
	"github.com/MrWong99/voxstitch/pkg/provider/model"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

var (
	_ model.Provider = (*Provider)(nil)
	_ model.Releaser = (*Provider)(nil)
	_ model.Pinger   = (*Provider)(nil)
)

const (
	defaultTimeout   = 60 * time.Second
	tokenizeEndpoint = "/v1/tokenize"
	generateEndpoint = "/v1/generate"
	releaseEndpoint  = "/v1/release"
	healthEndpoint   = "/healthz"

	// maxResponseBytes caps a single generate response (about ten minutes of
	// 24 kHz 16-bit mono audio).
	maxResponseBytes = 32 << 20
)

// Option is a functional option for configuring a remote Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. The client's timeout is kept as-is.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithOutputSampleRate resamples generated audio to rate. Defaults to
// audio.DefaultSampleRate; 0 keeps the server's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// WithHeader adds a header to every request, e.g. for authentication.
func WithHeader(key, value string) Option {
	return func(p *Provider) {
		p.headers.Set(key, value)
	}
}

// Provider is an HTTP inference client. Safe for concurrent use.
type Provider struct {
	serverURL  string
	httpClient *http.Client
	outputRate int
	headers    http.Header
}

// New returns a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: invalid server URL %q", serverURL)
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		outputRate: audio.DefaultSampleRate,
		headers:    http.Header{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type tokenizeRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

type tokenizeResponse struct {
	Phonemes string `json:"phonemes"`
	IDs      []int  `json:"ids"`
}

type generateRequest struct {
	IDs   []int   `json:"ids"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// Tokenize implements model.Provider.
func (p *Provider) Tokenize(ctx context.Context, text string, lang rune) (model.Tokens, error) {
	resp, err := p.post(ctx, tokenizeEndpoint, tokenizeRequest{Text: text, Lang: string(lang)}, "application/json")
	if err != nil {
		return model.Tokens{}, err
	}
	defer resp.Body.Close()

	var out tokenizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.Tokens{}, fmt.Errorf("remote: decode tokenize response: %w", err)
	}
	return model.Tokens{Phonemes: out.Phonemes, IDs: out.IDs}, nil
}

// Generate implements model.Provider. A 204 response or a WAV without samples
// yields an empty buffer.
func (p *Provider) Generate(ctx context.Context, ids []int, emb *voice.Embedding, speed float64) (audio.Buffer, error) {
	var vb bytes.Buffer
	if err := voice.Write(&vb, emb); err != nil {
		return audio.Buffer{}, fmt.Errorf("remote: encode voice: %w", err)
	}
	body := generateRequest{
		IDs:   ids,
		Voice: base64.StdEncoding.EncodeToString(vb.Bytes()),
		Speed: speed,
	}
	resp, err := p.post(ctx, generateEndpoint, body, "audio/wav")
	if err != nil {
		return audio.Buffer{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return audio.Buffer{SampleRate: p.outputRate}, nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("remote: read WAV response: %w", err)
	}
	buf, err := decodeWAV(data)
	if err != nil {
		return audio.Buffer{}, err
	}
	if p.outputRate > 0 && buf.SampleRate != p.outputRate {
		buf = audio.Buffer{
			Samples:    audio.ResampleLinear(buf.Samples, buf.SampleRate, p.outputRate),
			SampleRate: p.outputRate,
		}
	}
	return buf, nil
}

// ReleaseResources asks the server to free accelerator memory.
func (p *Provider) ReleaseResources(ctx context.Context) error {
	resp, err := p.post(ctx, releaseEndpoint, struct{}{}, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Ping checks the server's health endpoint.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("remote: create health request: %w", err)
	}
	resp, err := p.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// post sends body as JSON and returns the response if its status is 2xx.
func (p *Provider) post(ctx context.Context, endpoint string, body any, accept string) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("remote: marshal %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("remote: create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return p.do(req)
}

func (p *Provider) do(req *http.Request) (*http.Response, error) {
	for k, v := range p.headers {
		req.Header[k] = v
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %s %s: %w: %w", req.Method, req.URL.Path, model.ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("remote: %s %s returned status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// decodeWAV converts an integer PCM WAV file into mono float samples. Only the
// first channel of multi-channel audio is kept.
func decodeWAV(data []byte) (audio.Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return audio.Buffer{}, errors.New("remote: response is not a valid WAV file")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("remote: decode WAV: %w", err)
	}
	channels := max(pcm.Format.NumChannels, 1)
	depth := pcm.SourceBitDepth
	if depth <= 0 {
		depth = int(dec.BitDepth)
	}
	if depth <= 0 || depth > 32 {
		return audio.Buffer{}, fmt.Errorf("remote: unsupported WAV bit depth %d", depth)
	}
	scale := float32(int64(1) << (depth - 1))

	out := make([]float32, len(pcm.Data)/channels)
	for i := range out {
		out[i] = float32(pcm.Data[i*channels]) / scale
	}
	return audio.Buffer{Samples: out, SampleRate: pcm.Format.SampleRate}, nil
}

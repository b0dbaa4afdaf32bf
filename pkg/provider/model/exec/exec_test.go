package exec

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxstitch/pkg/provider/model"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

// TestHelperProcess is the fake inference command. It only runs when started
// by helperProvider.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("VOXSTITCH_EXEC_HELPER") != "1" {
		return
	}
	var req request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fmt.Fprintln(os.Stderr, "bad request:", err)
		os.Exit(2)
	}

	var resp response
	switch mode := os.Getenv("VOXSTITCH_EXEC_MODE"); {
	case mode == "crash":
		fmt.Fprintln(os.Stderr, "model weights missing")
		os.Exit(3)
	case mode == "sleep":
		time.Sleep(10 * time.Second)
	case mode == "error":
		resp.Error = "out of memory"
	case req.Op == "tokenize":
		resp.Phonemes = req.Lang + ":" + req.Text
		for _, r := range req.Text {
			resp.IDs = append(resp.IDs, int(r))
		}
	case req.Op == "generate":
		if mode == "silent" {
			break
		}
		if _, err := voice.Read(base64Reader(req.Voice)); err != nil {
			resp.Error = "bad voice: " + err.Error()
			break
		}
		pcm := make([]byte, 0, len(req.IDs)*4)
		for range req.IDs {
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(16384))
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(0))
		}
		resp.PCMBase64 = base64.StdEncoding.EncodeToString(pcm)
		resp.SampleRate = req.SampleRate
		if mode == "halfrate" {
			resp.SampleRate = req.SampleRate / 2
		}
	}
	// Leading blank line is skipped by the reader.
	fmt.Println()
	_ = json.NewEncoder(os.Stdout).Encode(resp)
	os.Exit(0)
}

func base64Reader(s string) io.Reader {
	return base64.NewDecoder(base64.StdEncoding, strings.NewReader(s))
}

func helperProvider(t *testing.T, mode string) *Provider {
	t.Helper()
	p, err := New(fmt.Sprintf("'%s' -test.run=TestHelperProcess", os.Args[0]),
		WithEnv("VOXSTITCH_EXEC_HELPER=1", "VOXSTITCH_EXEC_MODE="+mode))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

var testVoice = &voice.Embedding{Shape: []int{1, 4}, Data: []float32{1, 2, 3, 4}}

func TestNew_Rejects(t *testing.T) {
	for _, cmd := range []string{"", "   ", `"unterminated`} {
		if _, err := New(cmd); err == nil {
			t.Errorf("New(%q) succeeded", cmd)
		}
	}
}

func TestNew_SplitsArguments(t *testing.T) {
	p, err := New(`python3 -m kokoro "--model dir/model.onnx" -v`)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"python3", "-m", "kokoro", "--model dir/model.onnx", "-v"}
	if !slices.Equal(p.argv, want) {
		t.Errorf("argv = %q, want %q", p.argv, want)
	}
}

func TestTokenize(t *testing.T) {
	p := helperProvider(t, "")
	tok, err := p.Tokenize(context.Background(), "hi", 'b')
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if tok.Phonemes != "b:hi" || !slices.Equal(tok.IDs, []int{'h', 'i'}) {
		t.Errorf("tokens = %+v", tok)
	}
}

func TestGenerate(t *testing.T) {
	p := helperProvider(t, "")
	buf, err := p.Generate(context.Background(), []int{1, 2, 3}, testVoice, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if buf.SampleRate != 24000 || buf.Len() != 6 {
		t.Fatalf("buffer = %d samples @ %d Hz", buf.Len(), buf.SampleRate)
	}
	if buf.Samples[0] != 0.5 || buf.Samples[1] != 0 {
		t.Errorf("samples = %v", buf.Samples)
	}
}

func TestGenerate_ResamplesToConfiguredRate(t *testing.T) {
	p := helperProvider(t, "halfrate")
	buf, err := p.Generate(context.Background(), []int{1, 2, 3, 4, 5}, testVoice, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if buf.SampleRate != 24000 || buf.Len() != 20 {
		t.Errorf("buffer = %d samples @ %d Hz, want 20 @ 24000", buf.Len(), buf.SampleRate)
	}
}

func TestGenerate_EmptyAudio(t *testing.T) {
	p := helperProvider(t, "silent")
	buf, err := p.Generate(context.Background(), []int{1}, testVoice, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !buf.IsEmpty() {
		t.Errorf("expected empty buffer, got %d samples", buf.Len())
	}
}

func TestCall_Failures(t *testing.T) {
	tests := []struct {
		name string
		mode string
	}{
		{"error field", "error"},
		{"non-zero exit", "crash"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := helperProvider(t, tc.mode)
			if _, err := p.Tokenize(context.Background(), "x", 'a'); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCall_MissingBinaryIsUnavailable(t *testing.T) {
	p, err := New("/nonexistent/voxstitch-model-runner")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Tokenize(context.Background(), "x", 'a'); !errors.Is(err, model.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestCall_ContextCancelKillsProcess(t *testing.T) {
	p := helperProvider(t, "sleep")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Tokenize(ctx, "x", 'a')
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("process was not killed on cancellation")
	}
}

func TestReleaseResources(t *testing.T) {
	if err := helperProvider(t, "").ReleaseResources(context.Background()); err != nil {
		t.Errorf("ReleaseResources: %v", err)
	}
}

func TestCall_Timeout(t *testing.T) {
	p := helperProvider(t, "sleep")
	WithTimeout(200 * time.Millisecond)(p)

	_, err := p.Tokenize(context.Background(), "x", 'a')
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

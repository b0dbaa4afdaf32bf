package housekeeping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxstitch/pkg/audio"
	"github.com/MrWong99/voxstitch/pkg/provider/model"
	"github.com/MrWong99/voxstitch/pkg/provider/model/mock"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

// plainModel implements only model.Provider.
type plainModel struct{}

func (plainModel) Tokenize(context.Context, string, rune) (model.Tokens, error) {
	return model.Tokens{}, nil
}

func (plainModel) Generate(context.Context, []int, *voice.Embedding, float64) (audio.Buffer, error) {
	return audio.Buffer{}, nil
}

func TestRelease_CallsBackend(t *testing.T) {
	m := &mock.Provider{}
	k := New(m)
	k.Release(context.Background())
	k.Release(context.Background())
	if m.ReleaseCalls != 2 {
		t.Errorf("release calls = %d, want 2", m.ReleaseCalls)
	}
}

func TestRelease_BackendErrorIsSwallowed(t *testing.T) {
	m := &mock.Provider{ReleaseErr: errors.New("driver reset")}
	New(m).Release(context.Background())
	if m.ReleaseCalls != 1 {
		t.Errorf("release calls = %d, want 1", m.ReleaseCalls)
	}
}

func TestRelease_WithoutReleaser(t *testing.T) {
	k := New(plainModel{})
	if k.releaser != nil {
		t.Fatal("plain model detected as releaser")
	}
	k.Release(context.Background())
}

func TestRelease_MinInterval(t *testing.T) {
	now := time.Unix(1000, 0)
	k := New(&mock.Provider{}, WithMinInterval(time.Minute))
	k.now = func() time.Time { return now }

	if !k.shouldCollect() {
		t.Error("first release should collect")
	}
	now = now.Add(30 * time.Second)
	if k.shouldCollect() {
		t.Error("release within the interval collected")
	}
	now = now.Add(31 * time.Second)
	if !k.shouldCollect() {
		t.Error("release after the interval did not collect")
	}
}

func TestDiagnostic_NeverPanics(t *testing.T) {
	k := New(&mock.Provider{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	k.Diagnostic(ctx, "complete:start")
}

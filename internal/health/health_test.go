package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxstitch/pkg/provider/model/mock"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

func pass(context.Context) error { return nil }

func readyz(t *testing.T, h *Handler, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "voices", Check: pass}, {Name: "model", Check: pass}},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"voices": "ok", "model": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "voices", Check: pass},
				{Name: "model", Check: func(context.Context) error { return errors.New("connection refused") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"voices": "ok", "model": "fail: connection refused"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := readyz(t, New(tc.checkers...), context.Background())
			if code != tc.wantStatus {
				t.Errorf("status = %d, want %d", code, tc.wantStatus)
			}
			wantStatus := "ok"
			if tc.wantStatus != http.StatusOK {
				wantStatus = "fail"
			}
			if body.Status != wantStatus {
				t.Errorf("body status = %q, want %q", body.Status, wantStatus)
			}
			for name, want := range tc.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("%s check = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	slow := func(context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow}, Checker{Name: "c", Check: slow})
	start := time.Now()
	if code, _ := readyz(t, h, context.Background()); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("readyz took %v, checks look sequential", elapsed)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if code, _ := readyz(t, h, ctx); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: pass}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestVoiceStore(t *testing.T) {
	dir := t.TempDir()
	store, err := voice.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	check := VoiceStore(store).Check
	ctx := context.Background()

	if err := check(ctx); err == nil || !strings.Contains(err.Error(), "no voices") {
		t.Errorf("empty store: err = %v", err)
	}
	if _, err := store.Save("af_bella", &voice.Embedding{Shape: []int{2}, Data: []float32{1, 2}}); err != nil {
		t.Fatal(err)
	}
	if err := check(ctx); err != nil {
		t.Errorf("populated store: err = %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := check(ctx); err == nil {
		t.Error("missing directory passed")
	}
}

func TestModel(t *testing.T) {
	m := &mock.Provider{}
	if err := Model(m).Check(context.Background()); err != nil {
		t.Errorf("healthy model: %v", err)
	}
	m.PingErr = errors.New("cuda out of memory")
	if err := Model(m).Check(context.Background()); err == nil {
		t.Error("ping failure not reported")
	}
	if m.PingCalls != 2 {
		t.Errorf("ping calls = %d, want 2", m.PingCalls)
	}
}

func TestGate(t *testing.T) {
	var g Gate
	check := g.Checker("warmup").Check
	if err := check(context.Background()); err == nil {
		t.Error("closed gate passed")
	}
	g.Open()
	if !g.IsOpen() || check(context.Background()) != nil {
		t.Error("open gate failed")
	}
}

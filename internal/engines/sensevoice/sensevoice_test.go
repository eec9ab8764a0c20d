package sensevoice_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/voiceforge/voiceforge/internal/engines/sensevoice"
	"github.com/voiceforge/voiceforge/pkg/contracts"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"<|zh|><|NEUTRAL|><|Speech|>今天天气不错", "今天天气不错"},
		{"<|en|><|HAPPY|>hello world", "hello world"},
		{"plain text without tags", "plain text without tags"},
		{"  <|zh|> 带空格 ", "带空格"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sensevoice.CleanText(tt.raw); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"<|zh|><|NEUTRAL|>你好", "zh"},
		{"<|en|>hello", "en"},
		{"<|HAPPY|>no language tag", "auto"},
		{"nothing at all", "auto"},
	}
	for _, tt := range tests {
		if got := sensevoice.DetectLanguage(tt.raw); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestSupportedLanguages(t *testing.T) {
	p := sensevoice.New("")
	langs := p.SupportedLanguages()
	if len(langs) != 18 {
		t.Errorf("len(SupportedLanguages()) = %d, want 18", len(langs))
	}
	if langs[0] != "auto" {
		t.Errorf("SupportedLanguages()[0] = %q, want auto", langs[0])
	}
}

func TestTranscribeBeforeLoad(t *testing.T) {
	p := sensevoice.New("http://localhost:9880")
	_, err := p.Transcribe(context.Background(), "/tmp/a.wav", "auto")

	var notLoaded *contracts.NotLoadedError
	if !errors.As(err, &notLoaded) {
		t.Fatalf("Transcribe() error = %v, want *NotLoadedError", err)
	}
}

func newSidecar(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/asr", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndTranscribe(t *testing.T) {
	srv := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("sidecar parse form: %v", err)
		}
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Errorf("sidecar missing audio part: %v", err)
		}
		if got := r.FormValue("language"); got != "auto" {
			t.Errorf("sidecar language = %q, want auto", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "<|zh|><|NEUTRAL|>今天天气怎么样"})
	})

	p := sensevoice.New(srv.URL)
	if !p.Load(context.Background(), nil) {
		t.Fatal("Load() = false, want true")
	}
	if !p.Loaded() {
		t.Fatal("Loaded() = false after successful Load")
	}

	tr, err := p.Transcribe(context.Background(), writeAudio(t), "")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if tr.Text != "今天天气怎么样" {
		t.Errorf("Text = %q, want tags stripped", tr.Text)
	}
	if tr.Language != "zh" {
		t.Errorf("Language = %q, want zh", tr.Language)
	}
	if tr.Raw == tr.Text {
		t.Error("Raw should keep the tagged output")
	}
}

func TestTranscribeForwardsDevice(t *testing.T) {
	var gotDevice string
	srv := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("sidecar parse form: %v", err)
		}
		gotDevice = r.FormValue("device")
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	})

	p := sensevoice.NewFromConfig(map[string]interface{}{
		"endpoint": srv.URL,
		"device":   "cuda",
	}).(*sensevoice.Plugin)
	if !p.Load(context.Background(), nil) {
		t.Fatal("Load() = false")
	}

	if _, err := p.Transcribe(context.Background(), writeAudio(t), "auto"); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if gotDevice != "cuda" {
		t.Errorf("sidecar device = %q, want cuda", gotDevice)
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	healthCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthCalls++
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := sensevoice.New(srv.URL)
	if !p.Load(context.Background(), nil) {
		t.Fatal("Load() = false")
	}
	if !p.Load(context.Background(), nil) {
		t.Fatal("second Load() = false")
	}
	if healthCalls != 1 {
		t.Errorf("health probed %d times, want 1 (second Load is a no-op)", healthCalls)
	}
}

func TestLoadFailsWhenSidecarDown(t *testing.T) {
	p := sensevoice.New("http://127.0.0.1:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if p.Load(ctx, nil) {
		t.Error("Load() = true with unreachable sidecar")
	}
}

func TestTranscribeSidecarError(t *testing.T) {
	srv := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	})

	p := sensevoice.New(srv.URL)
	if !p.Load(context.Background(), nil) {
		t.Fatal("Load() = false")
	}

	_, err := p.Transcribe(context.Background(), writeAudio(t), "auto")
	var recErr *contracts.RecognitionError
	if !errors.As(err, &recErr) {
		t.Fatalf("Transcribe() error = %v, want *RecognitionError", err)
	}
}

func TestCleanupUnloads(t *testing.T) {
	srv := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {})
	p := sensevoice.New(srv.URL)
	if !p.Load(context.Background(), nil) {
		t.Fatal("Load() = false")
	}
	p.Cleanup()
	if p.Loaded() {
		t.Error("Loaded() = true after Cleanup")
	}
}

package cosyvoice_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/voiceforge/voiceforge/internal/engines/cosyvoice"
	"github.com/voiceforge/voiceforge/pkg/contracts"
	"github.com/voiceforge/voiceforge/pkg/models"
)

func newSidecar(t *testing.T, tts http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/voices", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]string{
			"voices": {"中文女", "中文男", "英文女"},
		})
	})
	if tts != nil {
		mux.HandleFunc("/tts", tts)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestVoiceMetadata(t *testing.T) {
	p := cosyvoice.New("")
	voices := p.Voices()
	if len(voices) != 8 {
		t.Fatalf("len(Voices()) = %d, want 8 presets before Load", len(voices))
	}

	byName := make(map[string]models.Voice)
	for _, v := range voices {
		byName[v.Name] = v
	}

	tests := []struct {
		name     string
		language string
		gender   string
	}{
		{"中文女", "zh", "female"},
		{"中文男", "zh", "male"},
		{"日语男", "ja", "male"},
		{"粤语女", "yue", "female"},
		{"英文女", "en", "female"},
		{"韩语女", "ko", "female"},
		{"清新女声", "zh", "female"},
	}
	for _, tt := range tests {
		v, ok := byName[tt.name]
		if !ok {
			t.Errorf("voice %q missing", tt.name)
			continue
		}
		if v.Language != tt.language || v.Gender != tt.gender {
			t.Errorf("%q = (%s, %s), want (%s, %s)", tt.name, v.Language, v.Gender, tt.language, tt.gender)
		}
	}
}

func TestResolveVoiceFallsBack(t *testing.T) {
	p := cosyvoice.New("")

	if got := p.ResolveVoice("中文男"); got != "中文男" {
		t.Errorf("ResolveVoice(中文男) = %q, want requested voice kept", got)
	}
	if got := p.ResolveVoice("robot-9000"); got != cosyvoice.DefaultVoice {
		t.Errorf("ResolveVoice(robot-9000) = %q, want %q", got, cosyvoice.DefaultVoice)
	}
	if got := p.ResolveVoice(""); got != cosyvoice.DefaultVoice {
		t.Errorf("ResolveVoice(\"\") = %q, want %q", got, cosyvoice.DefaultVoice)
	}
}

func TestSynthesizeBeforeLoad(t *testing.T) {
	p := cosyvoice.New("http://localhost:9881")
	_, err := p.Synthesize(context.Background(), "你好", "中文女", models.SynthesisOptions{})

	var notLoaded *contracts.NotLoadedError
	if !errors.As(err, &notLoaded) {
		t.Fatalf("Synthesize() error = %v, want *NotLoadedError", err)
	}
}

func TestLoadRefreshesVoices(t *testing.T) {
	srv := newSidecar(t, nil)
	p := cosyvoice.New(srv.URL)

	if !p.Load(context.Background(), nil) {
		t.Fatal("Load() = false, want true")
	}
	if got := len(p.Voices()); got != 3 {
		t.Errorf("len(Voices()) = %d after Load, want 3 from sidecar", got)
	}
}

func TestSynthesizeWritesWav(t *testing.T) {
	wav := []byte("RIFF....WAVEdata")
	srv := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("sidecar decode: %v", err)
		}
		if req["text"] != "你好" {
			t.Errorf("sidecar text = %v, want 你好", req["text"])
		}
		if req["voice"] != "中文女" {
			t.Errorf("sidecar voice = %v, want fallback 中文女", req["voice"])
		}
		w.Write(wav)
	})

	p := cosyvoice.New(srv.URL)
	if !p.Load(context.Background(), nil) {
		t.Fatal("Load() = false")
	}

	path, err := p.Synthesize(context.Background(), "你好", "unknown-voice", models.SynthesisOptions{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	t.Cleanup(func() { os.Remove(path) })

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != string(wav) {
		t.Errorf("output file = %q, want sidecar bytes", got)
	}
}

func TestSynthesizeForwardsDevice(t *testing.T) {
	var gotDevice string
	srv := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("sidecar decode: %v", err)
		}
		gotDevice, _ = req["device"].(string)
		w.Write([]byte("RIFF"))
	})

	p := cosyvoice.NewFromConfig(map[string]interface{}{
		"endpoint": srv.URL,
		"device":   "cuda",
	}).(*cosyvoice.Plugin)
	if !p.Load(context.Background(), nil) {
		t.Fatal("Load() = false")
	}

	path, err := p.Synthesize(context.Background(), "你好", "中文女", models.SynthesisOptions{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	t.Cleanup(func() { os.Remove(path) })

	if gotDevice != "cuda" {
		t.Errorf("sidecar device = %q, want cuda", gotDevice)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	srv := newSidecar(t, nil)
	p := cosyvoice.New(srv.URL)
	if !p.Load(context.Background(), nil) {
		t.Fatal("Load() = false")
	}

	_, err := p.Synthesize(context.Background(), "   ", "中文女", models.SynthesisOptions{})
	var invalid *contracts.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("Synthesize() error = %v, want *InvalidInputError", err)
	}
}

func TestSynthesizeSidecarError(t *testing.T) {
	srv := newSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "synthesis failed", http.StatusInternalServerError)
	})

	p := cosyvoice.New(srv.URL)
	if !p.Load(context.Background(), nil) {
		t.Fatal("Load() = false")
	}

	_, err := p.Synthesize(context.Background(), "你好", "中文女", models.SynthesisOptions{})
	var synErr *contracts.SynthesisError
	if !errors.As(err, &synErr) {
		t.Fatalf("Synthesize() error = %v, want *SynthesisError", err)
	}
}

// Package cosyvoice implements the speech-synthesis capability against a
// CosyVoice engine sidecar over HTTP.
package cosyvoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/voiceforge/voiceforge/pkg/contracts"
	"github.com/voiceforge/voiceforge/pkg/models"
)

// PluginName is the registry name of this backend.
const PluginName = "cosyvoice"

// DefaultVoice is used when the requested voice is unknown.
const DefaultVoice = "中文女"

// defaultVoices mirrors the preset speakers shipped with the SFT model.
var defaultVoices = []string{
	"中文女", "中文男", "日语男", "粤语女", "英文女", "英文男", "韩语女", "清新女声",
}

// Plugin is the CosyVoice sidecar client. Implements contracts.TTSPlugin.
type Plugin struct {
	endpoint string
	device   string
	client   *http.Client

	mu     sync.Mutex
	loaded bool
	voices []string
}

// New creates an unloaded CosyVoice client for the sidecar endpoint.
func New(endpoint string) *Plugin {
	if endpoint == "" {
		endpoint = "http://localhost:9881"
	}
	return &Plugin{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
		voices:   defaultVoices,
	}
}

// NewFromConfig builds the plugin from a registry config map. Recognized
// keys: "endpoint", "device".
func NewFromConfig(cfg map[string]interface{}) contracts.Plugin {
	endpoint, _ := cfg["endpoint"].(string)
	p := New(endpoint)
	p.device, _ = cfg["device"].(string)
	return p
}

func (p *Plugin) Name() string { return PluginName }

// Load waits for the sidecar to report ready and refreshes the voice list.
// Failure is reported through the return value, never a panic.
func (p *Plugin) Load(ctx context.Context, cfg map[string]interface{}) bool {
	p.mu.Lock()
	if p.loaded {
		p.mu.Unlock()
		return true
	}
	p.mu.Unlock()

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(func() error { return p.ping(ctx) }, policy); err != nil {
		log.Error().Str("endpoint", p.endpoint).Err(err).Msg("🔥 CosyVoice sidecar not ready")
		return false
	}

	if voices, err := p.fetchVoices(ctx); err == nil && len(voices) > 0 {
		p.mu.Lock()
		p.voices = voices
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.loaded = true
	p.mu.Unlock()
	log.Info().Str("endpoint", p.endpoint).Str("device", p.device).Msg("✅ CosyVoice ready")
	return true
}

// Loaded reports whether a prior Load succeeded.
func (p *Plugin) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// Cleanup drops the connection state.
func (p *Plugin) Cleanup() {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
}

func (p *Plugin) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar health returned %d", resp.StatusCode)
	}
	return nil
}

func (p *Plugin) fetchVoices(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/voices", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voices returned %d", resp.StatusCode)
	}

	var result struct {
		Voices []string `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Voices, nil
}

// Voices lists the available presets with inferred language and gender.
func (p *Plugin) Voices() []models.Voice {
	p.mu.Lock()
	names := append([]string(nil), p.voices...)
	p.mu.Unlock()

	out := make([]models.Voice, len(names))
	for i, name := range names {
		out[i] = models.Voice{
			ID:       name,
			Name:     name,
			Language: voiceLanguage(name),
			Gender:   voiceGender(name),
		}
	}
	return out
}

// ResolveVoice maps a requested voice to a known preset, falling back to the
// default rather than failing.
func (p *Plugin) ResolveVoice(requested string) string {
	if requested == "" {
		return DefaultVoice
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.voices {
		if v == requested {
			return requested
		}
	}
	log.Warn().Str("voice", requested).Str("fallback", DefaultVoice).Msg("Unknown voice, using default")
	return DefaultVoice
}

type synthesizeRequest struct {
	Text        string  `json:"text"`
	Voice       string  `json:"voice"`
	Speed       float64 `json:"speed,omitempty"`
	Instruction string  `json:"instruction,omitempty"`
	Device      string  `json:"device,omitempty"`
}

// Synthesize renders text with the given voice and returns the path of the
// generated wav file. The caller owns the file.
func (p *Plugin) Synthesize(ctx context.Context, text, voice string, opts models.SynthesisOptions) (string, error) {
	if !p.Loaded() {
		return "", &contracts.NotLoadedError{Plugin: PluginName}
	}
	if strings.TrimSpace(text) == "" {
		return "", &contracts.InvalidInputError{Reason: "text is empty"}
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:        text,
		Voice:       p.ResolveVoice(voice),
		Speed:       opts.Speed,
		Instruction: opts.Instruction,
		Device:      p.device,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := p.endpoint + "/tts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &contracts.SynthesisError{Plugin: PluginName, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &contracts.SynthesisError{Plugin: PluginName, Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, detail)}
	}

	out, err := os.CreateTemp("", "tts_*.wav")
	if err != nil {
		return "", fmt.Errorf("create output file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", &contracts.SynthesisError{Plugin: PluginName, Reason: "write output: " + err.Error()}
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("close output file: %w", err)
	}
	return out.Name(), nil
}

func voiceLanguage(name string) string {
	switch {
	case strings.Contains(name, "粤语"):
		return "yue"
	case strings.Contains(name, "日语"):
		return "ja"
	case strings.Contains(name, "韩语"):
		return "ko"
	case strings.Contains(name, "英文"):
		return "en"
	default:
		return "zh"
	}
}

func voiceGender(name string) string {
	switch {
	case strings.Contains(name, "女"):
		return "female"
	case strings.Contains(name, "男"):
		return "male"
	default:
		return "unknown"
	}
}

var _ contracts.TTSPlugin = (*Plugin)(nil)

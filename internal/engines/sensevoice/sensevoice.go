// Package sensevoice implements the speech-recognition capability against a
// SenseVoice engine sidecar over HTTP.
//
// The sidecar wraps the model process; this client uploads audio, strips the
// model's inline event tags from the transcript, and extracts the detected
// language.
package sensevoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/voiceforge/voiceforge/pkg/contracts"
	"github.com/voiceforge/voiceforge/pkg/models"
)

// PluginName is the registry name of this backend.
const PluginName = "sensevoice"

// SenseVoice emits inline event tags like <|zh|>, <|HAPPY|>, <|Speech|>
// around the transcript.
var (
	tagPattern  = regexp.MustCompile(`<\|[^|]+\|>`)
	langPattern = regexp.MustCompile(`<\|(\w{2})\|>`)
)

var supportedLanguages = []string{
	"auto", "zh", "en", "ja", "ko", "yue", "ms", "id", "vi",
	"th", "ar", "ru", "es", "pt", "de", "fr", "it", "hi",
}

// Plugin is the SenseVoice sidecar client. Implements contracts.ASRPlugin.
type Plugin struct {
	endpoint string
	device   string
	client   *http.Client

	mu     sync.Mutex
	loaded bool
}

// New creates an unloaded SenseVoice client for the sidecar endpoint.
func New(endpoint string) *Plugin {
	if endpoint == "" {
		endpoint = "http://localhost:9880"
	}
	return &Plugin{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
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

// Load waits for the sidecar to report ready. Failure is reported through
// the return value, never a panic.
func (p *Plugin) Load(ctx context.Context, cfg map[string]interface{}) bool {
	p.mu.Lock()
	if p.loaded {
		p.mu.Unlock()
		return true
	}
	p.mu.Unlock()

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	err := backoff.Retry(func() error { return p.ping(ctx) }, policy)
	if err != nil {
		log.Error().Str("endpoint", p.endpoint).Err(err).Msg("🔥 SenseVoice sidecar not ready")
		return false
	}

	p.mu.Lock()
	p.loaded = true
	p.mu.Unlock()
	log.Info().Str("endpoint", p.endpoint).Str("device", p.device).Msg("✅ SenseVoice ready")
	return true
}

// Loaded reports whether a prior Load succeeded.
func (p *Plugin) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// Cleanup drops the connection state. The sidecar process is not ours to
// stop.
func (p *Plugin) Cleanup() {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
}

// SupportedLanguages lists the language codes the model accepts.
func (p *Plugin) SupportedLanguages() []string {
	out := make([]string, len(supportedLanguages))
	copy(out, supportedLanguages)
	return out
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

type recognizeResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Transcribe uploads the audio file and returns the cleaned transcript.
// language is a hint; "auto" (or empty) lets the model detect it.
func (p *Plugin) Transcribe(ctx context.Context, audioPath, language string) (*models.Transcription, error) {
	if !p.Loaded() {
		return nil, &contracts.NotLoadedError{Plugin: PluginName}
	}
	if language == "" {
		language = "auto"
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, &contracts.InvalidInputError{Reason: fmt.Sprintf("open audio: %v", err)}
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.WriteField("language", language); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if p.device != "" {
		if err := mw.WriteField("device", p.device); err != nil {
			return nil, fmt.Errorf("build upload: %w", err)
		}
	}
	mw.Close()

	url := p.endpoint + "/asr"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &contracts.RecognitionError{Plugin: PluginName, Reason: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &contracts.RecognitionError{Plugin: PluginName, Reason: "read response: " + err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &contracts.RecognitionError{Plugin: PluginName, Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, respBody)}
	}

	var result recognizeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &contracts.RecognitionError{Plugin: PluginName, Reason: "unmarshal response: " + err.Error()}
	}
	if result.Error != "" {
		return nil, &contracts.RecognitionError{Plugin: PluginName, Reason: result.Error}
	}

	return &models.Transcription{
		Text:     CleanText(result.Text),
		Language: DetectLanguage(result.Text),
		Raw:      result.Text,
	}, nil
}

// CleanText strips the model's inline event tags and trims whitespace.
func CleanText(raw string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(raw, ""))
}

// DetectLanguage extracts the two-letter language tag from raw model output.
// Returns "auto" when no tag is present.
func DetectLanguage(raw string) string {
	if m := langPattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return "auto"
}

var _ contracts.ASRPlugin = (*Plugin)(nil)

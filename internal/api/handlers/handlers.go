// Package handlers implements the HTTP handlers for the VoiceForge service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/voiceforge/voiceforge/internal/config"
	"github.com/voiceforge/voiceforge/internal/llm"
	"github.com/voiceforge/voiceforge/internal/memory"
	"github.com/voiceforge/voiceforge/internal/orchestrator"
	"github.com/voiceforge/voiceforge/internal/pipeline"
	"github.com/voiceforge/voiceforge/internal/plugin"
	"github.com/voiceforge/voiceforge/internal/route"
	"github.com/voiceforge/voiceforge/pkg/contracts"
	"github.com/voiceforge/voiceforge/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Config       *config.Config
	Registry     *plugin.Registry
	Cache        *plugin.Cache
	Memory       *memory.ChatMemory
	Pipeline     *pipeline.Pipeline
	Router       *route.Router
	Orchestrator *orchestrator.Orchestrator
	LLM          *llm.OllamaClient

	ASR contracts.ASRPlugin
	TTS contracts.TTSPlugin
}

// ── Status ───────────────────────────────────────────────────

// Status reports the service banner and per-capability readiness.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"service": "voiceforge",
		"version": h.Config.Version,
		"models": map[string]bool{
			"asr": h.ASR != nil && h.ASR.Loaded(),
			"tts": h.TTS != nil && h.TTS.Loaded(),
			"llm": h.LLM != nil,
		},
		"endpoints": []string{
			"/", "/health", "/version", "/voices", "/metrics",
			"/asr", "/tts", "/chat", "/complete",
			"/sessions", "/plugins", "/backends", "/pipeline/stats",
		},
	}
	respondJSON(w, http.StatusOK, status)
}

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "voiceforge",
	})
}

// Version reports the running version.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"version": h.Config.Version})
}

// Plugins lists registered factories and loaded instances.
func (h *Handlers) Plugins(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"registered": h.Registry.ListNames(),
		"loaded":     h.Cache.List(),
	})
}

// Backends reports the deployment tier health table.
func (h *Handlers) Backends(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Router.Health())
}

// ── Speech ───────────────────────────────────────────────────

// Voices lists the synthesizer presets. 503 until the TTS backend loads.
func (h *Handlers) Voices(w http.ResponseWriter, r *http.Request) {
	if h.TTS == nil || !h.TTS.Loaded() {
		respondError(w, http.StatusServiceUnavailable, "TTS model not loaded")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"voices":  h.TTS.Voices(),
		"default": h.Config.TTS.DefaultVoice,
	})
}

// Recognize transcribes an uploaded audio file.
func (h *Handlers) Recognize(w http.ResponseWriter, r *http.Request) {
	if h.ASR == nil || !h.ASR.Loaded() {
		respondError(w, http.StatusServiceUnavailable, "ASR model not loaded")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audioPath, err := saveUpload(file, header, "asr_upload_*")
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.Remove(audioPath)

	language := r.FormValue("language")
	out, err := h.Pipeline.RunStage(r.Context(), "asr", func(ctx context.Context) (interface{}, error) {
		return h.ASR.Transcribe(ctx, audioPath, language)
	})
	if err != nil {
		respondStageError(w, models.StageASR, err)
		return
	}
	tr := out.(*models.Transcription)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"text":     tr.Text,
		"language": tr.Language,
	})
}

type synthesizeBody struct {
	Text        string  `json:"text"`
	Voice       string  `json:"voice"`
	Speed       float64 `json:"speed"`
	Instruction string  `json:"instruction"`
}

// Synthesize renders text to speech and streams the wav back.
func (h *Handlers) Synthesize(w http.ResponseWriter, r *http.Request) {
	if h.TTS == nil || !h.TTS.Loaded() {
		respondError(w, http.StatusServiceUnavailable, "TTS model not loaded")
		return
	}

	var body synthesizeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	voice := body.Voice
	if voice == "" {
		voice = h.Config.TTS.DefaultVoice
	}

	out, err := h.Pipeline.RunStage(r.Context(), "tts", func(ctx context.Context) (interface{}, error) {
		return h.TTS.Synthesize(ctx, body.Text, voice, models.SynthesisOptions{
			Speed:       body.Speed,
			Instruction: body.Instruction,
		})
	})
	if err != nil {
		respondStageError(w, models.StageTTS, err)
		return
	}
	audioPath := out.(string)
	defer os.Remove(audioPath)

	serveWav(w, r, audioPath)
}

// ── Chat ─────────────────────────────────────────────────────

type chatBody struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	Image     string `json:"image"` // filesystem path of an attachment
}

// Chat runs one text-only exchange against the session's memory.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	if h.LLM == nil {
		respondError(w, http.StatusServiceUnavailable, "chat collaborator not configured")
		return
	}

	var body chatBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = h.Memory.CreateSession()
	}
	if err := h.Memory.AcquireTurn(sessionID); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	defer h.Memory.ReleaseTurn(sessionID)

	h.Memory.Append(sessionID, models.Message{Role: models.RoleUser, Content: body.Text, Image: body.Image})
	messages, warnings := h.Memory.BuildRequest(sessionID, true)

	out, err := h.Pipeline.RunStage(r.Context(), "llm", func(ctx context.Context) (interface{}, error) {
		return h.LLM.Chat(ctx, messages, models.ChatOptions{
			Temperature: h.Config.LLM.Temperature,
			TopP:        h.Config.LLM.TopP,
			MaxTokens:   h.Config.LLM.MaxTokens,
		})
	})
	if err != nil {
		respondStageError(w, models.StageLLM, err)
		return
	}
	text := out.(string)
	h.Memory.Append(sessionID, models.Message{Role: models.RoleAssistant, Content: text})

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"reply":      text,
		"session_id": sessionID,
		"warnings":   warnings,
	})
}

// ── Complete turn ────────────────────────────────────────────

// Complete runs a full recognize-converse-synthesize turn. Input arrives as
// multipart form data: an "audio" file or a "text" field, plus optional
// "image" file, "voice", and "session_id". The reply audio streams back with
// the recognized and reply text in percent-encoded headers.
func (h *Handlers) Complete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "multipart form data is required")
		return
	}

	req := models.TurnRequest{
		SessionID: r.FormValue("session_id"),
		Text:      r.FormValue("text"),
		Voice:     r.FormValue("voice"),
	}

	if file, header, err := r.FormFile("audio"); err == nil {
		path, err := saveUpload(file, header, "turn_audio_*")
		file.Close()
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		defer os.Remove(path)
		req.AudioPath = path
	}

	if file, header, err := r.FormFile("image"); err == nil {
		path, err := saveUpload(file, header, "turn_image_*")
		file.Close()
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		defer os.Remove(path)
		req.ImagePath = path
	}

	result, err := h.Orchestrator.CompleteTurn(r.Context(), req)
	if err != nil {
		var turnErr *orchestrator.TurnError
		if errors.As(err, &turnErr) {
			respondJSON(w, stageStatus(turnErr), map[string]interface{}{
				"success": false,
				"stage":   string(turnErr.Stage),
				"error":   turnErr.Err.Error(),
			})
			return
		}
		if errors.Is(err, memory.ErrSessionBusy) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		var invalid *contracts.InvalidInputError
		if errors.As(err, &invalid) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.Remove(result.AudioPath)

	w.Header().Set("X-Session-Id", result.SessionID)
	w.Header().Set("X-Recognized-Text", url.PathEscape(result.RecognizedText))
	w.Header().Set("X-Reply-Text", url.PathEscape(result.ReplyText))
	if len(result.Warnings) > 0 {
		w.Header().Set("X-Warnings", url.PathEscape(strings.Join(result.Warnings, "; ")))
	}
	serveWav(w, r, result.AudioPath)
}

// ── Sessions ─────────────────────────────────────────────────

// CreateSession allocates an empty conversation session.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := h.Memory.CreateSession()
	respondJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

// ListSessions returns the IDs of live sessions.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": h.Memory.ListSessions()})
}

// GetSession returns the session's windowed history.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	sess, err := h.Memory.GetSession(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// DeleteSession removes the session.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.Memory.DeleteSession(chi.URLParam(r, "sessionId"))
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ClearSession drops the session's messages but keeps it alive.
func (h *Handlers) ClearSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if err := h.Memory.Clear(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// ── Pipeline stats ───────────────────────────────────────────

// PipelineStats returns per-stage timing accumulated since start or reset.
func (h *Handlers) PipelineStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Pipeline.Stats())
}

// ResetPipelineStats zeroes the per-stage counters.
func (h *Handlers) ResetPipelineStats(w http.ResponseWriter, r *http.Request) {
	h.Pipeline.ResetStats()
	respondJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

// ── Helpers ──────────────────────────────────────────────────

func saveUpload(file multipart.File, header *multipart.FileHeader, pattern string) (string, error) {
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save upload %s: %w", header.Filename, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save upload %s: %w", header.Filename, err)
	}
	return tmp.Name(), nil
}

func serveWav(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "read synthesized audio: "+err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "audio/wav")
	if _, err := io.Copy(w, f); err != nil {
		log.Warn().Err(err).Msg("Streaming audio interrupted")
	}
}

func stageStatus(err *orchestrator.TurnError) int {
	var notLoaded *contracts.NotLoadedError
	if errors.As(err.Err, &notLoaded) {
		return http.StatusServiceUnavailable
	}
	var invalid *contracts.InvalidInputError
	if errors.As(err.Err, &invalid) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondStageError(w http.ResponseWriter, stage models.Stage, err error) {
	status := stageStatus(&orchestrator.TurnError{Stage: stage, Err: err})
	respondJSON(w, status, map[string]interface{}{
		"success": false,
		"stage":   string(stage),
		"error":   err.Error(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Package models defines the shared domain types for the VoiceForge service:
// capability kinds, conversation messages and sessions, voice metadata, and
// the request/result shapes of an orchestrated turn.
package models

import (
	"time"
)

// ── Capabilities ─────────────────────────────────────────────

// Capability is a category of pluggable backend.
type Capability string

const (
	CapabilityASR Capability = "asr"
	CapabilityTTS Capability = "tts"
	CapabilityLLM Capability = "llm"
)

// Capabilities returns all known capability kinds in a stable order.
func Capabilities() []Capability {
	return []Capability{CapabilityASR, CapabilityTTS, CapabilityLLM}
}

// Valid reports whether c is a known capability kind.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityASR, CapabilityTTS, CapabilityLLM:
		return true
	}
	return false
}

// ── Messages & Sessions ──────────────────────────────────────

// Message roles. Messages are immutable once appended to a session.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a session's conversation history. Image holds a
// filesystem path to an attached picture; it is resolved to an inline base64
// form only when a chat request payload is built, never stored encoded.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Image   string `json:"image,omitempty"`
}

// ChatMessage is the wire shape sent to the chat collaborator. Images carries
// base64-encoded attachment data for multi-modal models.
type ChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// Session is a multi-turn conversation. Lives only in process memory and is
// lost on restart.
type Session struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ── Speech ───────────────────────────────────────────────────

// Transcription is the result of a successful ASR call.
type Transcription struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence,omitempty"`
	Raw        string  `json:"raw,omitempty"` // backend output before tag stripping
}

// Voice describes one synthesizer voice preset.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

// SynthesisOptions carries optional knobs for a synthesize call.
type SynthesisOptions struct {
	Speed       float64 `json:"speed,omitempty"`
	Instruction string  `json:"instruction,omitempty"` // e.g. "speak cheerfully"
}

// ── Chat ─────────────────────────────────────────────────────

// ChatOptions carries the generation parameters forwarded to the chat
// collaborator's options block.
type ChatOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"num_predict"`
}

// ── Turns ────────────────────────────────────────────────────

// Stage identifies one step of the recognize → converse → synthesize turn.
type Stage string

const (
	StageASR Stage = "ASR"
	StageLLM Stage = "LLM"
	StageTTS Stage = "TTS"
)

// TurnRequest is the caller-facing input of one orchestrated turn. Exactly
// one of AudioPath or Text must be set; ImagePath and Voice are optional.
type TurnRequest struct {
	SessionID string `json:"session_id,omitempty"`
	AudioPath string `json:"audio,omitempty"`
	Text      string `json:"text,omitempty"`
	ImagePath string `json:"image,omitempty"`
	Voice     string `json:"voice,omitempty"`
}

// TurnResult is the outcome of one orchestrated turn. AudioPath points at the
// synthesized reply; the caller owns its disposal. Warnings surfaces non-fatal
// degradations such as a dropped image attachment.
type TurnResult struct {
	SessionID      string   `json:"session_id"`
	RecognizedText string   `json:"recognized_text"`
	ReplyText      string   `json:"ai_text"`
	AudioPath      string   `json:"audio_path,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	DurationMs     int64    `json:"duration_ms"`
}

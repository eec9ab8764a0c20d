// Package contracts defines the interfaces every capability backend must
// satisfy, and the typed errors they surface.
//
// A backend is registered with the plugin registry under a (capability, name)
// pair and instantiated lazily by the instance cache. The core never imports
// a concrete engine; it talks to these interfaces only.
package contracts

import (
	"context"

	"github.com/voiceforge/voiceforge/pkg/models"
)

// Plugin is the lifecycle contract shared by all capability backends.
//
// Load must not panic: all failure is reported through its boolean return
// (implementations log the detail). Loading an already-loaded plugin is a
// no-op returning true.
type Plugin interface {
	// Name is the unique backend name within its capability.
	Name() string

	// Load prepares the backend (model weights, sidecar connection, ...).
	Load(ctx context.Context, cfg map[string]interface{}) bool

	// Loaded reports whether a prior Load succeeded.
	Loaded() bool

	// Cleanup releases backend resources. Called on unload; safe to call
	// on a never-loaded instance.
	Cleanup()
}

// ASRPlugin is the speech-recognition capability.
type ASRPlugin interface {
	Plugin

	// Transcribe recognizes the audio file at audioPath. language is a hint
	// ("auto" for detection). Calling before a successful Load fails with
	// *NotLoadedError; backend failures surface as *RecognitionError.
	Transcribe(ctx context.Context, audioPath, language string) (*models.Transcription, error)

	// SupportedLanguages lists the language codes the backend accepts.
	SupportedLanguages() []string
}

// TTSPlugin is the speech-synthesis capability.
type TTSPlugin interface {
	Plugin

	// Synthesize renders text with the given voice and returns the path of
	// the generated audio file. An unknown voice falls back to the backend's
	// default rather than failing. Calling before a successful Load fails
	// with *NotLoadedError; backend failures surface as *SynthesisError.
	Synthesize(ctx context.Context, text, voice string, opts models.SynthesisOptions) (string, error)

	// Voices lists the available voice presets.
	Voices() []models.Voice
}

// LLMProvider is the chat-completion capability. The default deployment
// talks to a remote Ollama-compatible collaborator over HTTP rather than an
// in-process model, so this interface is satisfied by an HTTP client; a
// local backend implementing Plugin as well is equally valid.
type LLMProvider interface {
	// Chat sends the full message sequence and returns the assistant reply
	// text. Transport failures and non-2xx statuses surface as
	// *RemoteCallError.
	Chat(ctx context.Context, messages []models.ChatMessage, opts models.ChatOptions) (string, error)
}

// Factory constructs an unloaded plugin instance from its configuration.
type Factory func(cfg map[string]interface{}) Plugin

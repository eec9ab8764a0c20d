// Package orchestrator runs one complete assistant turn: recognize the
// user's speech, converse with the chat collaborator, synthesize the reply.
//
// A turn moves through up to three stages. A stage failure aborts the turn
// and reports the stage that failed; earlier stage output is never retried.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voiceforge/voiceforge/internal/memory"
	"github.com/voiceforge/voiceforge/internal/pipeline"
	"github.com/voiceforge/voiceforge/internal/route"
	"github.com/voiceforge/voiceforge/pkg/contracts"
	"github.com/voiceforge/voiceforge/pkg/models"
)

var tracer = otel.Tracer("voiceforge-orchestrator")

// TurnError tags a turn failure with the stage that produced it.
type TurnError struct {
	Stage models.Stage
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Options carries the tunables of turn execution.
type Options struct {
	Chat          models.ChatOptions
	DefaultVoice  string
	IncludeSystem bool
}

// Orchestrator wires the three capabilities, session memory, and the tier
// router into the turn state machine.
type Orchestrator struct {
	asr    contracts.ASRPlugin
	llm    contracts.LLMProvider
	tts    contracts.TTSPlugin
	memory *memory.ChatMemory
	router *route.Router
	pipe   *pipeline.Pipeline
	opts   Options
}

// New creates an orchestrator. Any capability may be nil; a turn that needs
// a missing capability fails at that stage. pipe may be nil to skip stage
// accounting.
func New(asr contracts.ASRPlugin, llm contracts.LLMProvider, tts contracts.TTSPlugin,
	mem *memory.ChatMemory, router *route.Router, pipe *pipeline.Pipeline, opts Options) *Orchestrator {
	return &Orchestrator{
		asr:    asr,
		llm:    llm,
		tts:    tts,
		memory: mem,
		router: router,
		pipe:   pipe,
		opts:   opts,
	}
}

// CompleteTurn executes recognize → converse → synthesize for one request.
// Exactly one of req.AudioPath or req.Text must be set. A concurrent turn on
// the same session fails with memory.ErrSessionBusy. Failures carry the
// stage in a *TurnError.
func (o *Orchestrator) CompleteTurn(ctx context.Context, req models.TurnRequest) (*models.TurnResult, error) {
	if (req.AudioPath == "") == (req.Text == "") {
		return nil, &contracts.InvalidInputError{Reason: "exactly one of audio or text is required"}
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = o.memory.CreateSession()
	}
	if err := o.memory.AcquireTurn(sessionID); err != nil {
		return nil, err
	}
	defer o.memory.ReleaseTurn(sessionID)

	ctx, span := tracer.Start(ctx, "turn.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("voiceforge.session", sessionID),
		attribute.String("voiceforge.tier", string(o.router.Route())),
	)

	start := time.Now()
	result := &models.TurnResult{SessionID: sessionID}

	userText, err := o.recognize(ctx, req)
	if err != nil {
		return nil, o.fail(span, result.SessionID, models.StageASR, err)
	}
	result.RecognizedText = userText

	reply, warnings, err := o.converse(ctx, sessionID, userText, req.ImagePath)
	if err != nil {
		return nil, o.fail(span, result.SessionID, models.StageLLM, err)
	}
	result.ReplyText = reply
	result.Warnings = warnings

	audioPath, err := o.synthesize(ctx, reply, req.Voice)
	if err != nil {
		return nil, o.fail(span, result.SessionID, models.StageTTS, err)
	}
	result.AudioPath = audioPath

	result.DurationMs = time.Since(start).Milliseconds()
	log.Info().
		Str("session", sessionID).
		Int64("duration_ms", result.DurationMs).
		Msg("✅ Turn complete")
	return result, nil
}

func (o *Orchestrator) fail(span trace.Span, sessionID string, stage models.Stage, err error) error {
	span.SetStatus(codes.Error, string(stage))
	log.Error().Str("session", sessionID).Str("stage", string(stage)).Err(err).Msg("🔥 Turn failed")
	return &TurnError{Stage: stage, Err: err}
}

func (o *Orchestrator) recognize(ctx context.Context, req models.TurnRequest) (string, error) {
	if req.AudioPath == "" {
		return req.Text, nil
	}

	ctx, span := tracer.Start(ctx, "turn.recognize")
	defer span.End()

	if o.asr == nil || !o.asr.Loaded() {
		return "", &contracts.NotLoadedError{Plugin: "asr"}
	}

	out, err := o.runStage(ctx, "asr", func(ctx context.Context) (interface{}, error) {
		return o.asr.Transcribe(ctx, req.AudioPath, "auto")
	})
	if err != nil {
		return "", err
	}
	tr := out.(*models.Transcription)
	if strings.TrimSpace(tr.Text) == "" {
		return "", &contracts.RecognitionError{Plugin: o.asr.Name(), Reason: "empty transcript"}
	}
	return tr.Text, nil
}

func (o *Orchestrator) converse(ctx context.Context, sessionID, userText, imagePath string) (string, []string, error) {
	ctx, span := tracer.Start(ctx, "turn.converse")
	defer span.End()

	if o.llm == nil {
		return "", nil, fmt.Errorf("chat collaborator not configured")
	}

	o.memory.Append(sessionID, models.Message{Role: models.RoleUser, Content: userText, Image: imagePath})
	messages, warnings := o.memory.BuildRequest(sessionID, o.opts.IncludeSystem)

	out, err := o.runStage(ctx, "llm", func(ctx context.Context) (interface{}, error) {
		return o.llm.Chat(ctx, messages, o.opts.Chat)
	})
	if err != nil {
		return "", warnings, err
	}

	reply := strings.TrimSpace(out.(string))
	if reply == "" {
		return "", warnings, fmt.Errorf("empty reply from chat collaborator")
	}
	o.memory.Append(sessionID, models.Message{Role: models.RoleAssistant, Content: reply})
	return reply, warnings, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, text, voice string) (string, error) {
	ctx, span := tracer.Start(ctx, "turn.synthesize")
	defer span.End()

	if o.tts == nil || !o.tts.Loaded() {
		return "", &contracts.NotLoadedError{Plugin: "tts"}
	}
	if voice == "" {
		voice = o.opts.DefaultVoice
	}

	out, err := o.runStage(ctx, "tts", func(ctx context.Context) (interface{}, error) {
		return o.tts.Synthesize(ctx, text, voice, models.SynthesisOptions{})
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// runStage routes the call through the shared pipeline so stage timing and
// metrics accumulate in one place.
func (o *Orchestrator) runStage(ctx context.Context, name string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if o.pipe == nil {
		return fn(ctx)
	}
	return o.pipe.RunStage(ctx, name, fn)
}

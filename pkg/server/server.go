// Package server provides the public entry point for initializing the
// VoiceForge service.
//
// This package exists in pkg/ (not internal/) so an embedding application
// can compose the assistant with its own backends:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":7861", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/voiceforge/voiceforge/internal/api"
	"github.com/voiceforge/voiceforge/internal/api/handlers"
	"github.com/voiceforge/voiceforge/internal/config"
	"github.com/voiceforge/voiceforge/internal/engines/cosyvoice"
	"github.com/voiceforge/voiceforge/internal/engines/sensevoice"
	"github.com/voiceforge/voiceforge/internal/llm"
	"github.com/voiceforge/voiceforge/internal/memory"
	"github.com/voiceforge/voiceforge/internal/orchestrator"
	"github.com/voiceforge/voiceforge/internal/pipeline"
	"github.com/voiceforge/voiceforge/internal/plugin"
	"github.com/voiceforge/voiceforge/internal/route"
	"github.com/voiceforge/voiceforge/internal/telemetry"
	"github.com/voiceforge/voiceforge/pkg/contracts"
	"github.com/voiceforge/voiceforge/pkg/models"
)

// Server holds the initialized VoiceForge service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// Plugins is the instance cache; Close unloads every backend.
	Plugins *plugin.Cache

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// Close unloads all backends. Safe to call once.
func (s *Server) Close() {
	s.Plugins.UnloadAll()
}

// New initializes the service from the ambient configuration.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	registry := plugin.NewRegistry()
	cache := plugin.NewCache(registry)
	registry.Register(models.CapabilityASR, sensevoice.PluginName, sensevoice.NewFromConfig)
	registry.Register(models.CapabilityTTS, cosyvoice.PluginName, cosyvoice.NewFromConfig)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	pipe := pipeline.New(pipeline.NewStageHistogram(promReg))

	mem := memory.New(cfg.Memory.MaxRounds, cfg.LLM.SystemPrompt)
	tierRouter := route.New()

	var asr contracts.ASRPlugin
	if cfg.ASR.Enabled {
		inst, err := cache.GetOrLoad(ctx, models.CapabilityASR, cfg.ASR.Name, map[string]interface{}{
			"endpoint": cfg.ASR.Endpoint,
			"device":   cfg.ASR.Device,
		})
		if err != nil {
			log.Warn().Err(err).Msg("ASR backend unavailable, speech input disabled")
		} else {
			asr = inst.(contracts.ASRPlugin)
		}
	}

	var tts contracts.TTSPlugin
	if cfg.TTS.Enabled {
		inst, err := cache.GetOrLoad(ctx, models.CapabilityTTS, cfg.TTS.Name, map[string]interface{}{
			"endpoint": cfg.TTS.Endpoint,
			"device":   cfg.TTS.Device,
		})
		if err != nil {
			log.Warn().Err(err).Msg("TTS backend unavailable, speech output disabled")
		} else {
			tts = inst.(contracts.TTSPlugin)
		}
	}

	var chatClient *llm.OllamaClient
	if cfg.LLM.Enabled {
		chatClient = llm.NewOllamaClient(cfg.LLM.URL, cfg.LLM.Model,
			llm.WithTimeout(time.Duration(cfg.LLM.TimeoutSecs)*time.Second))
		if err := chatClient.Ping(ctx); err != nil {
			log.Warn().Str("url", cfg.LLM.URL).Err(err).Msg("Chat collaborator unreachable at startup")
		} else {
			log.Info().Str("url", cfg.LLM.URL).Str("model", cfg.LLM.Model).Msg("✅ Chat collaborator ready")
		}
	}

	tierRouter.UpdateBackend(route.TierLocal, asr != nil || tts != nil || chatClient != nil, "")

	// A nil *OllamaClient must not become a non-nil interface.
	var chatProvider contracts.LLMProvider
	if chatClient != nil {
		chatProvider = chatClient
	}

	orch := orchestrator.New(asr, chatProvider, tts, mem, tierRouter, pipe, orchestrator.Options{
		Chat: models.ChatOptions{
			Temperature: cfg.LLM.Temperature,
			TopP:        cfg.LLM.TopP,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
		DefaultVoice:  cfg.TTS.DefaultVoice,
		IncludeSystem: true,
	})

	h := &handlers.Handlers{
		Config:       cfg,
		Registry:     registry,
		Cache:        cache,
		Memory:       mem,
		Pipeline:     pipe,
		Router:       tierRouter,
		Orchestrator: orch,
		LLM:          chatClient,
		ASR:          asr,
		TTS:          tts,
	}

	log.Info().Msg("✅ VoiceForge components initialized")

	return &Server{
		Handler:      api.NewRouter(h, promReg),
		Config:       cfg,
		Port:         cfg.Port,
		Plugins:      cache,
		ShutdownFunc: shutdown,
	}, nil
}

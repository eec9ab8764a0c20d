// Package config loads the VoiceForge service configuration.
//
// Precedence: built-in defaults, then an optional YAML file
// (VOICEFORGE_CONFIG or ./config.yaml), then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the VoiceForge service.
type Config struct {
	Port    int    `yaml:"port"`
	Version string `yaml:"version"`

	ASR       EngineConfig    `yaml:"asr"`
	TTS       EngineConfig    `yaml:"tts"`
	LLM       LLMConfig       `yaml:"llm"`
	Memory    MemoryConfig    `yaml:"memory"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EngineConfig configures one speech capability backend.
type EngineConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Name     string `yaml:"name"`     // registered plugin name
	Endpoint string `yaml:"endpoint"` // engine sidecar HTTP origin
	Device   string `yaml:"device"`   // cuda / cpu, forwarded to the engine

	// TTS only
	DefaultVoice string `yaml:"default_voice"`
}

// LLMConfig configures the remote chat collaborator.
type LLMConfig struct {
	Enabled      bool    `yaml:"enabled"`
	URL          string  `yaml:"url"`
	Model        string  `yaml:"model"`
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
	MaxTokens    int     `yaml:"max_tokens"`
	TimeoutSecs  int     `yaml:"timeout"`
	SystemPrompt string  `yaml:"system_prompt"`
}

// MemoryConfig configures session memory.
type MemoryConfig struct {
	// MaxRounds is the sliding-window size in conversation rounds
	// (one round = one user + one assistant message).
	MaxRounds int `yaml:"max_rounds"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// DefaultSystemPrompt keeps replies short enough to synthesize comfortably.
const DefaultSystemPrompt = "Answer concisely and completely. Give the core " +
	"conclusion first and keep the reply short; never stop mid-sentence."

// Load reads configuration with sensible defaults, an optional YAML file,
// and environment-variable overrides.
func Load() (*Config, error) {
	cfg := defaults()

	path := envStr("VOICEFORGE_CONFIG", "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.Getenv("VOICEFORGE_CONFIG") != "" {
		// An explicitly named file must exist.
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:    7861,
		Version: "1.0.0",
		ASR: EngineConfig{
			Enabled:  true,
			Name:     "sensevoice",
			Endpoint: "http://localhost:9880",
			Device:   "cuda",
		},
		TTS: EngineConfig{
			Enabled:      true,
			Name:         "cosyvoice",
			Endpoint:     "http://localhost:9881",
			Device:       "cuda",
			DefaultVoice: "中文女",
		},
		LLM: LLMConfig{
			Enabled:      true,
			URL:          "http://localhost:11434",
			Model:        "gemma3:4b",
			Temperature:  0.7,
			TopP:         0.9,
			MaxTokens:    80,
			TimeoutSecs:  60,
			SystemPrompt: DefaultSystemPrompt,
		},
		Memory: MemoryConfig{
			MaxRounds: 10,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "voiceforge",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Port = envInt("VOICEFORGE_PORT", cfg.Port)
	cfg.Version = envStr("VOICEFORGE_VERSION", cfg.Version)

	cfg.ASR.Enabled = envBool("VOICEFORGE_ASR_ENABLED", cfg.ASR.Enabled)
	cfg.ASR.Endpoint = envStr("VOICEFORGE_ASR_ENDPOINT", cfg.ASR.Endpoint)
	cfg.TTS.Enabled = envBool("VOICEFORGE_TTS_ENABLED", cfg.TTS.Enabled)
	cfg.TTS.Endpoint = envStr("VOICEFORGE_TTS_ENDPOINT", cfg.TTS.Endpoint)
	cfg.TTS.DefaultVoice = envStr("VOICEFORGE_TTS_DEFAULT_VOICE", cfg.TTS.DefaultVoice)

	cfg.LLM.Enabled = envBool("VOICEFORGE_LLM_ENABLED", cfg.LLM.Enabled)
	cfg.LLM.URL = envStr("OLLAMA_URL", cfg.LLM.URL)
	cfg.LLM.Model = envStr("VOICEFORGE_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.MaxTokens = envInt("VOICEFORGE_LLM_MAX_TOKENS", cfg.LLM.MaxTokens)
	cfg.LLM.TimeoutSecs = envInt("VOICEFORGE_LLM_TIMEOUT", cfg.LLM.TimeoutSecs)
	cfg.LLM.SystemPrompt = envStr("VOICEFORGE_SYSTEM_PROMPT", cfg.LLM.SystemPrompt)

	cfg.Memory.MaxRounds = envInt("VOICEFORGE_MAX_ROUNDS", cfg.Memory.MaxRounds)

	cfg.Telemetry.Enabled = envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

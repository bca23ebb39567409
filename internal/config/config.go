// Package config provides the configuration schema, loader, environment
// overrides and provider registry for sessionscribe.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to an [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure. Load it with [Load] or
// [LoadFromReader]; both start from [Default] so a file only needs the values
// it changes.
type Config struct {
	LogLevel      LogLevel            `yaml:"log_level"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Alignment     AlignmentConfig     `yaml:"alignment"`
}

// TelemetryConfig controls metrics and tracing.
type TelemetryConfig struct {
	// MetricsAddr is the listen address of the Prometheus /metrics endpoint
	// (e.g., ":9464"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// ServiceName is reported as the OpenTelemetry service.name.
	ServiceName string `yaml:"service_name"`
}

// ProvidersConfig selects the implementation behind each pipeline stage.
// Each entry's Name is looked up in the [Registry].
type ProvidersConfig struct {
	STT         ProviderEntry `yaml:"stt"`
	Diarization ProviderEntry `yaml:"diarization"`

	// LLM aligns transcripts. Leave Name empty to always use the
	// timestamp-only fallback.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "openai", "pyannote").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. For pyannote this is the
	// Hugging Face token.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider. Empty uses the provider's
	// default.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// TranscriptionConfig tunes the speech-to-text retry policy and hints.
type TranscriptionConfig struct {
	// MaxAttempts bounds provider calls per recording. Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay is the fixed delay after a failure and the base of the
	// rate-limit backoff. Default: 2s.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Language is an optional ISO-639-1 hint.
	Language string `yaml:"language"`

	// Prompt is optional vocabulary (character and place names).
	Prompt string `yaml:"prompt"`

	// Vocabulary lists proper nouns restored in the transcript when the
	// transcription mishears them. Speaker names are added per run. Empty
	// disables correction.
	Vocabulary []string `yaml:"vocabulary"`
}

// AlignmentConfig tunes the language-model alignment.
type AlignmentConfig struct {
	// Temperature in [0, 2]. Default: 0.2.
	Temperature float64 `yaml:"temperature"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Telemetry: TelemetryConfig{
			ServiceName: "sessionscribe",
		},
		Providers: ProvidersConfig{
			STT:         ProviderEntry{Name: "openai"},
			Diarization: ProviderEntry{Name: "pyannote"},
			LLM:         ProviderEntry{Name: "openai"},
		},
		Transcription: TranscriptionConfig{
			MaxAttempts: 3,
			RetryDelay:  2 * time.Second,
		},
		Alignment: AlignmentConfig{
			Temperature: 0.2,
		},
	}
}

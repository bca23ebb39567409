package main

import (
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/sessionscribe/internal/align"
	"github.com/MrWong99/sessionscribe/internal/config"
	"github.com/MrWong99/sessionscribe/internal/diarize"
	"github.com/MrWong99/sessionscribe/internal/observe"
	"github.com/MrWong99/sessionscribe/internal/pipeline"
	"github.com/MrWong99/sessionscribe/internal/resilience"
	"github.com/MrWong99/sessionscribe/internal/transcribe"
	"github.com/MrWong99/sessionscribe/internal/transcript"
	"github.com/MrWong99/sessionscribe/pkg/provider/diarization"
	"github.com/MrWong99/sessionscribe/pkg/provider/diarization/pyannote"
	"github.com/MrWong99/sessionscribe/pkg/provider/llm"
	"github.com/MrWong99/sessionscribe/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/sessionscribe/pkg/provider/llm/openai"
	"github.com/MrWong99/sessionscribe/pkg/provider/stt"
	sttopenai "github.com/MrWong99/sessionscribe/pkg/provider/stt/openai"
	"github.com/MrWong99/sessionscribe/pkg/provider/stt/whisper"
)

// defaultAlignModel is used by the openai LLM entry when no model is set.
const defaultAlignModel = "gpt-4"

// registerBuiltinProviders wires the provider factories that ship with
// sessionscribe into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, sttopenai.WithTimeout(d))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterDiarization("pyannote", func(entry config.ProviderEntry) (diarization.Provider, error) {
		var opts []pyannote.Option
		if entry.BaseURL != "" {
			opts = append(opts, pyannote.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, pyannote.WithModel(entry.Model))
		}
		return pyannote.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		model := entry.Model
		if model == "" {
			model = defaultAlignModel
		}
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, llmopenai.WithTimeout(d))
		}
		return llmopenai.New(entry.APIKey, model, opts...)
	})

	for _, name := range anyllm.SupportedProviders {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	for _, kind := range []string{"stt", "diarization", "llm"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildPipeline instantiates the configured providers and assembles the
// transcribe, diarize and align stages.
func buildPipeline(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*pipeline.Pipeline, error) {
	sttP, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	diarP, err := reg.CreateDiarization(cfg.Providers.Diarization)
	if err != nil {
		return nil, fmt.Errorf("create diarization provider %q: %w", cfg.Providers.Diarization.Name, err)
	}
	llmP, err := buildLLM(cfg, reg)
	if err != nil {
		return nil, err
	}

	t := transcribe.New(sttP,
		transcribe.WithMaxAttempts(cfg.Transcription.MaxAttempts),
		transcribe.WithBaseDelay(cfg.Transcription.RetryDelay),
		transcribe.WithLanguage(cfg.Transcription.Language),
		transcribe.WithPrompt(cfg.Transcription.Prompt),
		transcribe.WithGranularities(stt.GranularitySegment),
		transcribe.WithProviderName(cfg.Providers.STT.Name),
		transcribe.WithMetrics(m),
	)
	d := diarize.New(diarP,
		diarize.WithProviderName(cfg.Providers.Diarization.Name),
		diarize.WithMetrics(m),
	)
	a := align.New(llmP,
		align.WithTemperature(cfg.Alignment.Temperature),
		align.WithProviderName(cfg.Providers.LLM.Name),
		align.WithMetrics(m),
	)

	slog.Info("providers created",
		"stt", cfg.Providers.STT.Name,
		"diarization", cfg.Providers.Diarization.Name,
		"llm", cfg.Providers.LLM.Name,
		"llm_fallbacks", len(cfg.Providers.LLMFallbacks),
		"vocabulary", len(cfg.Transcription.Vocabulary),
	)
	opts := []pipeline.Option{pipeline.WithMetrics(m)}
	if vocab := cfg.Transcription.Vocabulary; len(vocab) > 0 {
		opts = append(opts, pipeline.WithCorrector(transcript.New(vocab, transcript.WithMetrics(m))))
	}
	return pipeline.New(t, d, a, opts...), nil
}

// buildLLM returns the alignment model, wrapped in an [resilience.LLMFallback]
// when fallbacks are configured. It returns nil when no LLM is configured;
// alignment then always uses the timestamp fallback.
func buildLLM(cfg *config.Config, reg *config.Registry) (llm.Provider, error) {
	primary := cfg.Providers.LLM
	if primary.Name == "" {
		slog.Warn("no llm configured; transcripts will use timestamp-only attribution")
		return nil, nil
	}
	p, err := reg.CreateLLM(primary)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", primary.Name, err)
	}
	if len(cfg.Providers.LLMFallbacks) == 0 {
		return p, nil
	}

	fb := resilience.NewLLMFallback(primary.Name, p, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.LLMFallbacks {
		fp, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, fp)
	}
	slog.Info("llm fallback chain configured", "models", fb.Names())
	return fb, nil
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration string such as "90s" from a provider Options
// map. Invalid or missing values yield zero.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}

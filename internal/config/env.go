package config

// Environment variables read by [ApplyEnv].
const (
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvHFToken   = "HF_TOKEN"
)

// ApplyEnv fills credentials the file left empty: OPENAI_API_KEY for every
// openai provider entry and HF_TOKEN for the pyannote diarization entry.
// getenv is usually [os.Getenv].
func ApplyEnv(cfg *Config, getenv func(string) string) {
	fill := func(e *ProviderEntry) {
		if e.APIKey == "" && e.Name == "openai" {
			e.APIKey = getenv(EnvOpenAIKey)
		}
	}
	fill(&cfg.Providers.STT)
	fill(&cfg.Providers.LLM)
	for i := range cfg.Providers.LLMFallbacks {
		fill(&cfg.Providers.LLMFallbacks[i])
	}

	if d := &cfg.Providers.Diarization; d.APIKey == "" && d.Name == "pyannote" {
		d.APIKey = getenv(EnvHFToken)
	}
}

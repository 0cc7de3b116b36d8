package runs

import (
	"context"
	"strings"

	"lectern/internal/config"
	"lectern/internal/services"
	"lectern/internal/services/gemini"
	"lectern/internal/services/llm"
	"lectern/internal/stages"
)

// NewStageDeps wires the configured providers into stage dependencies.
// Transcription and slide reading always use Gemini; text generation uses
// the provider named by llm.provider.
func NewStageDeps(ctx context.Context, cfg *config.Config) (stages.Deps, error) {
	deps := stages.DepsFromConfig(cfg)

	gem, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:             cfg.Gemini.APIKey,
		Model:              cfg.Gemini.Model,
		TranscriptionModel: cfg.Gemini.TranscriptionModel,
		VisionModel:        cfg.Gemini.VisionModel,
	})
	if err != nil {
		return deps, services.Wrap(services.ErrConfiguration, "", "init providers", "gemini", err)
	}
	deps.Transcriber = gem
	deps.Slides = gem

	switch strings.ToLower(strings.TrimSpace(cfg.LLM.Provider)) {
	case config.ProviderGemini:
		deps.Text = gem
	default:
		deps.Text = NewTextClient(cfg)
	}
	return deps, nil
}

// NewTextClient builds the OpenRouter client from the [llm] section.
func NewTextClient(cfg *config.Config) *llm.Client {
	return llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		Temperature:    cfg.LLM.Temperature,
	}, llm.WithRetryMaxAttempts(cfg.LLM.RetryMaxAttempts))
}

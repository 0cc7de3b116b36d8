package config

import (
	"errors"
	"fmt"
	"sort"

	"lectern/internal/pipeline"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateWatch()
}

func (c *Config) validatePaths() error {
	if c.Paths.ArchiveRoot == "" {
		return errors.New("paths.archive_root must be set")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.ChunkMaxWords < 1 {
		return errors.New("pipeline.chunk_max_words must be positive")
	}
	if c.Pipeline.StageTimeoutSeconds < 0 {
		return errors.New("pipeline.stage_timeout_seconds must be zero or positive")
	}
	names := make([]string, 0, len(c.Pipeline.Weights))
	for name := range c.Pipeline.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := pipeline.ParseStageName(name); err != nil {
			return fmt.Errorf("pipeline.weights: %w", err)
		}
		if c.Pipeline.Weights[name] <= 0 {
			return fmt.Errorf("pipeline.weights.%s must be positive", name)
		}
	}
	return nil
}

func (c *Config) validateLLM() error {
	switch c.LLM.Provider {
	case ProviderOpenRouter:
		if c.LLM.Model == "" {
			return errors.New("llm.model must be set when llm.provider = \"openrouter\"")
		}
	case ProviderGemini:
	default:
		return fmt.Errorf("llm.provider: unsupported value %q (expected %q or %q)", c.LLM.Provider, ProviderOpenRouter, ProviderGemini)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateWatch() error {
	if _, err := pipeline.ParseContentType(c.Watch.DefaultContent); err != nil {
		return fmt.Errorf("watch.default_content: %w", err)
	}
	if c.Watch.SettleSeconds < 0 {
		return errors.New("watch.settle_seconds must be zero or positive")
	}
	if c.Watch.MaxConcurrent <= 0 {
		return errors.New("watch.max_concurrent must be positive")
	}
	return nil
}

// MissingCredentials reports provider keys that runs will need but are unset.
// Config loading does not fail on these so read-only commands still work.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.Gemini.APIKey == "" {
		missing = append(missing, "gemini.api_key (GEMINI_API_KEY)")
	}
	if c.LLM.Provider == ProviderOpenRouter && c.LLM.APIKey == "" {
		missing = append(missing, "llm.api_key (OPENROUTER_API_KEY)")
	}
	return missing
}

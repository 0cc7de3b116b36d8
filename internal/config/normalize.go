package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeLLM()
	c.normalizeGemini()
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Watch.DefaultContent = strings.ToLower(strings.TrimSpace(c.Watch.DefaultContent))
	if c.Watch.DefaultContent == "" {
		c.Watch.DefaultContent = defaultWatchContent
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.ArchiveRoot, err = expandPath(c.Paths.ArchiveRoot); err != nil {
		return fmt.Errorf("paths.archive_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.InboxDir, err = expandPath(c.Paths.InboxDir); err != nil {
		return fmt.Errorf("paths.inbox_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("LECTERN_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

// normalizePipeline merges configured weights over the defaults so a config
// file can override a single stage without restating the table.
func (c *Config) normalizePipeline() {
	merged := DefaultWeights()
	for name, weight := range c.Pipeline.Weights {
		merged[strings.ToLower(strings.TrimSpace(name))] = weight
	}
	c.Pipeline.Weights = merged
	if c.Pipeline.SlideConcurrency <= 0 {
		c.Pipeline.SlideConcurrency = defaultSlideConcurrency
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaultLLMProvider
	}
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.RetryMaxAttempts <= 0 {
		c.LLM.RetryMaxAttempts = defaultLLMRetryAttempts
	}
}

func (c *Config) normalizeGemini() {
	if c.Gemini.APIKey == "" {
		if value, ok := os.LookupEnv("GEMINI_API_KEY"); ok {
			c.Gemini.APIKey = strings.TrimSpace(value)
		}
	}
	c.Gemini.Model = strings.TrimSpace(c.Gemini.Model)
	if c.Gemini.Model == "" {
		c.Gemini.Model = defaultGeminiModel
	}
	c.Gemini.TranscriptionModel = strings.TrimSpace(c.Gemini.TranscriptionModel)
	if c.Gemini.TranscriptionModel == "" {
		c.Gemini.TranscriptionModel = c.Gemini.Model
	}
	c.Gemini.VisionModel = strings.TrimSpace(c.Gemini.VisionModel)
	if c.Gemini.VisionModel == "" {
		c.Gemini.VisionModel = c.Gemini.Model
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

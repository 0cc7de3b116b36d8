package config

const (
	defaultConfigPath          = "~/.config/lectern/config.toml"
	defaultArchiveRoot         = "~/lectures"
	defaultStateDir            = "~/.local/share/lectern"
	defaultInboxDir            = "~/lectures/inbox"
	defaultLogDir              = "~/.local/share/lectern/logs"
	defaultAPIBind             = "127.0.0.1:7490"
	defaultChunkMaxWords       = 600
	defaultStageTimeoutSeconds = 600
	defaultSlideConcurrency    = 4
	defaultLLMProvider         = ProviderOpenRouter
	defaultLLMBaseURL          = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel            = "google/gemini-2.5-pro"
	defaultLLMReferer          = "https://github.com/lectern/lectern"
	defaultLLMTitle            = "Lectern"
	defaultLLMTimeoutSeconds   = 300
	defaultLLMRetryAttempts    = 1
	defaultLLMTemperature      = 0.3
	defaultGeminiModel         = "gemini-2.5-flash"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultNotifyTimeout       = 10
	defaultWatchSettleSeconds  = 30
	defaultWatchContent        = "educational"
	defaultWatchMaxConcurrent  = 2
)

// Text generation providers accepted by llm.provider.
const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

// DefaultWeights returns the stage weight table used when the config file
// does not override it. Weights are relative; they are normalized per run.
func DefaultWeights() map[string]int {
	return map[string]int{
		"parse":      5,
		"transcribe": 50,
		"clean":      15,
		"slides":     5,
		"longread":   10,
		"summarize":  5,
		"story":      15,
		"chunk":      5,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ArchiveRoot: defaultArchiveRoot,
			StateDir:    defaultStateDir,
			InboxDir:    defaultInboxDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Pipeline: Pipeline{
			ChunkMaxWords:       defaultChunkMaxWords,
			StageTimeoutSeconds: defaultStageTimeoutSeconds,
			ReuseCache:          true,
			SlideConcurrency:    defaultSlideConcurrency,
			Weights:             DefaultWeights(),
		},
		LLM: LLM{
			Provider:         defaultLLMProvider,
			BaseURL:          defaultLLMBaseURL,
			Model:            defaultLLMModel,
			Referer:          defaultLLMReferer,
			Title:            defaultLLMTitle,
			TimeoutSeconds:   defaultLLMTimeoutSeconds,
			RetryMaxAttempts: defaultLLMRetryAttempts,
			Temperature:      defaultLLMTemperature,
		},
		Gemini: Gemini{
			Model:              defaultGeminiModel,
			TranscriptionModel: defaultGeminiModel,
			VisionModel:        defaultGeminiModel,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			RunComplete:    true,
			Errors:         true,
		},
		Watch: Watch{
			SettleSeconds:  defaultWatchSettleSeconds,
			DefaultContent: defaultWatchContent,
			MaxConcurrent:  defaultWatchMaxConcurrent,
		},
	}
}

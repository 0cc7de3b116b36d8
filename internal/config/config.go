package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	ArchiveRoot string `toml:"archive_root"`
	StateDir    string `toml:"state_dir"`
	InboxDir    string `toml:"inbox_dir"`
	LogDir      string `toml:"log_dir"`
	APIBind     string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on API requests.
	APIToken string `toml:"api_token"`
}

// Pipeline contains stage scheduling and output settings.
type Pipeline struct {
	ChunkMaxWords       int            `toml:"chunk_max_words"`
	StageTimeoutSeconds int            `toml:"stage_timeout_seconds"`
	ReuseCache          bool           `toml:"reuse_cache"`
	DocxExport          bool           `toml:"docx_export"`
	SlideConcurrency    int            `toml:"slide_concurrency"`
	Weights             map[string]int `toml:"weights"`
}

// LLM contains text generation provider settings.
type LLM struct {
	Provider         string  `toml:"provider"`
	APIKey           string  `toml:"api_key"`
	BaseURL          string  `toml:"base_url"`
	Model            string  `toml:"model"`
	Referer          string  `toml:"referer"`
	Title            string  `toml:"title"`
	TimeoutSeconds   int     `toml:"timeout_seconds"`
	RetryMaxAttempts int     `toml:"retry_max_attempts"`
	Temperature      float64 `toml:"temperature"`
}

// Gemini contains settings for the genai backend used for transcription and
// slide reading, and for text generation when llm.provider = "gemini".
type Gemini struct {
	APIKey             string `toml:"api_key"`
	Model              string `toml:"model"`
	TranscriptionModel string `toml:"transcription_model"`
	VisionModel        string `toml:"vision_model"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RunComplete    bool   `toml:"run_complete"`
	Errors         bool   `toml:"errors"`
}

// Watch contains inbox watcher settings.
type Watch struct {
	SettleSeconds  int    `toml:"settle_seconds"`
	DefaultContent string `toml:"default_content"`
	MaxConcurrent  int    `toml:"max_concurrent"`
}

// Config encapsulates all configuration values for Lectern.
//
// Configuration sections by subsystem:
//   - Paths: archive root, cache database directory, inbox, logs, API bind
//   - Pipeline: chunk size, stage timeout, weight table, cache reuse
//   - LLM: text generation provider
//   - Gemini: transcription and slide reading
//   - Logging: log format and level
//   - Notifications: ntfy push notification settings
//   - Watch: inbox watcher behaviour
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	LLM           LLM           `toml:"llm"`
	Gemini        Gemini        `toml:"gemini"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	Watch         Watch         `toml:"watch"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lectern.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories Lectern writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ArchiveRoot, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.InboxDir) != "" {
		if err := os.MkdirAll(c.Paths.InboxDir, 0o755); err != nil {
			return fmt.Errorf("create inbox directory %q: %w", c.Paths.InboxDir, err)
		}
	}
	return nil
}

// CacheDBPath returns the location of the result cache database.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.Paths.StateDir, "results.db")
}

// LockDir returns the directory that holds per-archive lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

// StageTimeout returns the per-stage deadline applied to external calls.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Pipeline.StageTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	redacted := *c
	redacted.LLM.APIKey = redact(c.LLM.APIKey)
	redacted.Gemini.APIKey = redact(c.Gemini.APIKey)
	redacted.Paths.APIToken = redact(c.Paths.APIToken)
	data, err := toml.Marshal(redacted)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

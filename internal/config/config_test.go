package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"lectern/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeysAndExpandsPaths(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "router-key")
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, "lectures"); cfg.Paths.ArchiveRoot != want {
		t.Fatalf("unexpected archive root: got %q want %q", cfg.Paths.ArchiveRoot, want)
	}
	if want := filepath.Join(tempHome, ".local", "share", "lectern", "results.db"); cfg.CacheDBPath() != want {
		t.Fatalf("unexpected cache db path: got %q want %q", cfg.CacheDBPath(), want)
	}
	if cfg.LLM.APIKey != "router-key" {
		t.Fatalf("expected llm key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Gemini.APIKey != "gemini-key" {
		t.Fatalf("expected gemini key from env, got %q", cfg.Gemini.APIKey)
	}
	if cfg.Pipeline.ChunkMaxWords != 600 {
		t.Fatalf("expected default chunk size 600, got %d", cfg.Pipeline.ChunkMaxWords)
	}
	if !cfg.Pipeline.ReuseCache {
		t.Fatal("expected cache reuse enabled by default")
	}
	if cfg.LLM.RetryMaxAttempts != 1 {
		t.Fatalf("expected a single attempt by default, got %d", cfg.LLM.RetryMaxAttempts)
	}
	if len(cfg.MissingCredentials()) != 0 {
		t.Fatalf("expected no missing credentials, got %v", cfg.MissingCredentials())
	}
}

func TestLoadMergesWeightOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
archive_root = "` + filepath.ToSlash(t.TempDir()) + `"

[pipeline]
chunk_max_words = 400

[pipeline.weights]
Transcribe = 70
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected explicit path to resolve, got %q exists=%v", resolved, exists)
	}
	if cfg.Pipeline.ChunkMaxWords != 400 {
		t.Fatalf("expected chunk size override, got %d", cfg.Pipeline.ChunkMaxWords)
	}
	if cfg.Pipeline.Weights["transcribe"] != 70 {
		t.Fatalf("expected transcribe weight 70, got %d", cfg.Pipeline.Weights["transcribe"])
	}
	if cfg.Pipeline.Weights["parse"] != config.DefaultWeights()["parse"] {
		t.Fatalf("expected parse weight to keep default, got %d", cfg.Pipeline.Weights["parse"])
	}
}

func TestValidateRejectsBadPipelineSettings(t *testing.T) {
	cases := map[string]func(*config.Config){
		"unknown stage weight": func(c *config.Config) { c.Pipeline.Weights["render"] = 3 },
		"zero weight":          func(c *config.Config) { c.Pipeline.Weights["clean"] = 0 },
		"zero chunk size":      func(c *config.Config) { c.Pipeline.ChunkMaxWords = 0 },
		"unknown provider":     func(c *config.Config) { c.LLM.Provider = "local" },
		"unknown log format":   func(c *config.Config) { c.Logging.Format = "xml" },
		"bad watch content":    func(c *config.Config) { c.Watch.DefaultContent = "keynote" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.ArchiveRoot = t.TempDir()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", name)
			}
		})
	}
}

func TestMissingCredentialsReportsProviderKeys(t *testing.T) {
	cfg := config.Default()
	missing := cfg.MissingCredentials()
	if len(missing) != 2 {
		t.Fatalf("expected two missing keys, got %v", missing)
	}
	cfg.LLM.Provider = config.ProviderGemini
	if missing := cfg.MissingCredentials(); len(missing) != 1 {
		t.Fatalf("expected only gemini key missing, got %v", missing)
	}
}

func TestEnsureDirectoriesCreatesPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ArchiveRoot = filepath.Join(base, "archive")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.InboxDir = filepath.Join(base, "inbox")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.ArchiveRoot, cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Paths.InboxDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist: %v", dir, err)
		}
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_gemini_api_key") {
		t.Fatalf("sample config missing placeholder gemini key: %s", contents)
	}
	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Pipeline.Weights["transcribe"] != 50 {
		t.Fatalf("expected sample transcribe weight 50, got %d", cfg.Pipeline.Weights["transcribe"])
	}
}

func TestEncodeRedactsSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.APIKey = "sk-secret"
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Fatalf("expected api key to be redacted: %s", data)
	}
}

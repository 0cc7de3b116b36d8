package testsupport

import (
	"path/filepath"
	"testing"

	"lectern/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ArchiveRoot = filepath.Join(base, "archive")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.InboxDir = filepath.Join(base, "inbox")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.LLM.APIKey = "test"
	cfgVal.Gemini.APIKey = "test"
	cfgVal.Watch.SettleSeconds = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithChunkMaxWords overrides the chunk word ceiling.
func WithChunkMaxWords(words int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.ChunkMaxWords = words
	}
}

// WithWeights replaces the stage weight table.
func WithWeights(weights map[string]int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Weights = weights
	}
}

// WithDocxExport toggles DOCX export.
func WithDocxExport(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.DocxExport = enabled
	}
}

// WithNtfyTopic points notifications at a test endpoint.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithAPIToken requires a bearer token on API requests.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/resultcache"
	"lectern/internal/runs"
	"lectern/internal/stages"
)

type commandContext struct {
	configFlag *string
	verbose    *bool
	runOpts    []runs.Option

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string, verbose *bool, runOpts []runs.Option) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
		runOpts:    runOpts,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// logger builds the process logger. Long-running commands also write to
// lectern.log in the log directory.
func (c *commandContext) logger(daemon bool) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if c.verbose != nil && *c.verbose {
		level = "debug"
	}
	if daemon {
		copyCfg := *cfg
		copyCfg.Logging.Level = level
		return logging.NewFromConfig(&copyCfg)
	}
	return logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// openService opens the result cache and builds a run service. The returned
// closer releases the cache.
func (c *commandContext) openService(ctx context.Context, logger *slog.Logger, extra ...runs.Option) (*runs.Service, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := resultcache.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open result cache: %w", err)
	}
	opts := append([]runs.Option{runs.WithLogger(logger)}, extra...)
	opts = append(opts, c.runOpts...)
	svc, err := runs.New(ctx, cfg, store, opts...)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return svc, func() { _ = store.Close() }, nil
}

// openCacheService is openService for commands that only inspect the cache;
// provider clients are not constructed.
func (c *commandContext) openCacheService(ctx context.Context) (*runs.Service, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := c.logger(false)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return c.openService(ctx, logger, runs.WithStageDeps(stages.DepsFromConfig(cfg)))
}

// instanceLock keeps a single serve or watch process per state directory.
func (c *commandContext) instanceLock() (*flock.Flock, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(cfg.Paths.StateDir, "lectern.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another lectern serve or watch process is running for this state directory")
	}
	return lock, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"lectern/internal/api"
	"lectern/internal/logging"
	"lectern/internal/preflight"
	"lectern/internal/watcher"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var watchInbox bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the progress API (and optionally watch the inbox)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), ctx, true, watchInbox)
		},
	}
	cmd.Flags().BoolVar(&watchInbox, "watch", false, "Also start runs for recordings dropped into the inbox")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Start runs for recordings dropped into the inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), ctx, false, true)
		},
	}
}

// runDaemon runs the API server and/or inbox watcher until ctx ends.
func runDaemon(cmdCtx context.Context, ctx *commandContext, serve, watch bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	lock, err := ctx.instanceLock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	logger, err := ctx.logger(true)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := checkStartup(cmdCtx, ctx, logger); err != nil {
		return err
	}

	svc, closeStore, err := ctx.openService(cmdCtx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	runCtx, cancel := context.WithCancel(cmdCtx)
	defer cancel()

	if serve {
		server := api.NewServer(cfg, svc, logger)
		if err := server.Start(runCtx); err != nil {
			return err
		}
		defer server.Stop()
	}

	// watchErr stays nil, and never ready, unless the watcher runs.
	var watchErr chan error
	if watch {
		w, err := watcher.New(cfg, svc, logger)
		if err != nil {
			return err
		}
		watchErr = make(chan error, 1)
		go func() { watchErr <- w.Run(runCtx) }()
	}

	select {
	case <-runCtx.Done():
	case err := <-watchErr:
		cancel()
		if err != nil {
			logger.Error("inbox watcher stopped", logging.Error(err))
		}
		return err
	}
	logger.Info("lectern shutting down")
	if watchErr != nil {
		// In-flight inbox runs observe the cancellation before Run returns.
		return <-watchErr
	}
	return nil
}

func checkStartup(cmdCtx context.Context, ctx *commandContext, logger *slog.Logger) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	results := preflight.RunAll(cmdCtx, cfg, preflight.Options{SkipProviders: true})
	for _, r := range results {
		if !r.Passed {
			logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
		}
	}
	return preflight.Err(results)
}

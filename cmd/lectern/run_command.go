package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lectern/internal/config"
	"lectern/internal/pipeline"
	"lectern/internal/progress"
	"lectern/internal/runs"
	"lectern/internal/workflow"
)

type runFlags struct {
	content    string
	archive    string
	stages     []string
	noCache    bool
	refresh    []string
	versions   []string
	moveSource bool
	noWait     bool
	jsonOutput bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run <recording>",
		Short: "Run a recording through the stage pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			req, err := flags.request(cfg, args[0])
			if err != nil {
				return err
			}

			logger, err := ctx.logger(false)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			svc, closeStore, err := ctx.openService(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer closeStore()

			if !flags.jsonOutput {
				req.Sink = newProgressPrinter(cmd.ErrOrStderr())
			}
			result, err := svc.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return writeJSON(cmd, result)
			}
			printRunResult(cmd.OutOrStdout(), result, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.content, "content", "", "Content type: educational or leadership (default watch.default_content)")
	cmd.Flags().StringVar(&flags.archive, "archive", "", "Archive directory (default <archive_root>/<recording name>)")
	cmd.Flags().StringSliceVar(&flags.stages, "stages", nil, "Run only these stages and their dependencies")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "Execute every stage, ignoring cached results")
	cmd.Flags().StringSliceVar(&flags.refresh, "refresh", nil, "Re-execute these stages even when cached")
	cmd.Flags().StringArrayVar(&flags.versions, "version", nil, "Replay a cached version, as stage:N (repeatable)")
	cmd.Flags().BoolVar(&flags.moveSource, "move", false, "Move the recording into the archive after success")
	cmd.Flags().BoolVar(&flags.noWait, "no-wait", false, "Fail instead of waiting when the archive is busy")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print the run result as JSON")
	return cmd
}

func (f runFlags) request(cfg *config.Config, source string) (runs.Request, error) {
	expanded, err := config.ExpandPath(source)
	if err != nil {
		return runs.Request{}, err
	}
	contentValue := strings.TrimSpace(f.content)
	if contentValue == "" {
		contentValue = cfg.Watch.DefaultContent
	}
	content, err := pipeline.ParseContentType(contentValue)
	if err != nil {
		return runs.Request{}, err
	}
	req := runs.Request{
		SourcePath:  expanded,
		ContentType: content,
		MoveSource:  f.moveSource,
		NoWait:      f.noWait,
	}
	if strings.TrimSpace(f.archive) != "" {
		if req.ArchivePath, err = config.ExpandPath(f.archive); err != nil {
			return runs.Request{}, err
		}
	}
	if len(f.stages) > 0 {
		if req.Stages, err = pipeline.ParseStageNames(f.stages); err != nil {
			return runs.Request{}, err
		}
	}

	if !f.noCache && len(f.refresh) == 0 && len(f.versions) == 0 {
		return req, nil
	}
	policy := workflow.CachePolicy{Reuse: cfg.Pipeline.ReuseCache && !f.noCache}
	if len(f.refresh) > 0 {
		names, err := pipeline.ParseStageNames(f.refresh)
		if err != nil {
			return runs.Request{}, err
		}
		policy.Refresh = make(map[pipeline.StageName]bool, len(names))
		for _, name := range names {
			policy.Refresh[name] = true
		}
	}
	if len(f.versions) > 0 {
		policy.Versions = make(map[pipeline.StageName]int, len(f.versions))
		for _, pin := range f.versions {
			name, version, err := workflow.ParseVersionPin(pin)
			if err != nil {
				return runs.Request{}, err
			}
			policy.Versions[name] = version
		}
	}
	req.Cache = &policy
	return req, nil
}

// newProgressPrinter writes one line per stage transition.
func newProgressPrinter(out io.Writer) progress.Sink {
	var lastStage pipeline.StageName
	var lastStatus string
	return progress.SinkFunc(func(frame progress.Frame) {
		switch frame.Type {
		case progress.FrameError:
			message := frame.Message
			if frame.Error != nil && frame.Error.Message != "" {
				message = frame.Error.Message
			}
			fmt.Fprintf(out, "[%3d%%] %-10s failed: %s\n", frame.Progress, frame.Stage, message)
			return
		case progress.FrameResult:
			fmt.Fprintf(out, "[%3d%%] done\n", frame.Progress)
			return
		}
		if frame.Stage == lastStage && frame.Status == lastStatus {
			return
		}
		lastStage, lastStatus = frame.Stage, frame.Status
		fmt.Fprintf(out, "[%3d%%] %-10s %s\n", frame.Progress, frame.Stage, frame.Status)
	})
}

func printRunResult(out io.Writer, result *runs.Result, colorize bool) {
	if result == nil || result.Outcome == nil {
		return
	}
	outcome := result.Outcome
	fmt.Fprintln(out, renderSectionHeader("Run "+outcome.RunID, colorize))
	fmt.Fprintf(out, "Archive:  %s\n", outcome.ArchivePath)
	fmt.Fprintf(out, "Content:  %s\n", outcome.ContentType)
	fmt.Fprintf(out, "Duration: %s\n", outcome.Duration().Round(100 * time.Millisecond))

	rows := make([][]string, 0, len(outcome.Order))
	for _, name := range outcome.Order {
		report, ok := outcome.Report(name)
		if !ok {
			continue
		}
		version := ""
		if report.Version > 0 {
			version = fmt.Sprint(report.Version)
		}
		rows = append(rows, []string{string(name), colorizeRunStatus(report.Status, colorize), version, report.Model})
	}
	fmt.Fprintln(out, renderTable([]string{"Stage", "Status", "Version", "Model"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	if len(result.Files) > 0 {
		fmt.Fprintln(out, "Files:")
		for _, file := range result.Files {
			fmt.Fprintf(out, "  %s\n", file)
		}
	}
}

func colorizeRunStatus(status workflow.StageStatus, colorize bool) string {
	if !colorize {
		return string(status)
	}
	kind := statusInfo
	switch status {
	case workflow.StatusExecuted, workflow.StatusCached:
		kind = statusOK
	case workflow.StatusDefaulted, workflow.StatusSkipped:
		kind = statusWarn
	case workflow.StatusFailed:
		kind = statusError
	}
	return statusKindColor(kind) + string(status) + ansiReset
}

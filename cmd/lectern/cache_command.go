package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"lectern/internal/config"
	"lectern/internal/pipeline"
)

const stampLayout = "2006-01-02 15:04"

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and roll back cached stage results",
	}

	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheVersionsCommand(ctx))
	cacheCmd.AddCommand(newCacheShowCommand(ctx))
	cacheCmd.AddCommand(newCacheRollbackCommand(ctx))

	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list [archive]",
		Short: "List cached archives, or the stages cached for one archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := ctx.openCacheService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				archives, err := svc.Archives(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, archives)
				}
				if len(archives) == 0 {
					fmt.Fprintln(out, "No cached results")
					return nil
				}
				rows := make([][]string, 0, len(archives))
				for i, archive := range archives {
					rows = append(rows, []string{strconv.Itoa(i + 1), archive})
				}
				fmt.Fprintln(out, renderTable([]string{"#", "Archive"}, rows, []columnAlignment{alignRight, alignLeft}))
				return nil
			}

			archive, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			summaries, err := svc.Summaries(cmd.Context(), archive)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, summaries)
			}
			if len(summaries) == 0 {
				fmt.Fprintf(out, "No cached results for %s\n", archive)
				return nil
			}
			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				current := strconv.Itoa(s.CurrentVersion)
				if s.Pinned {
					current += " (pinned)"
				}
				rows = append(rows, []string{
					string(s.Stage),
					strconv.Itoa(s.Versions),
					current,
					s.ModelName,
					s.UpdatedAt.Local().Format(stampLayout),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Versions", "Current", "Model", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	return cmd
}

func newCacheVersionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <archive> <stage>",
		Short: "List the cached versions of one stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, stage, err := archiveStageArgs(args)
			if err != nil {
				return err
			}
			svc, closeStore, err := ctx.openCacheService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			versions, err := svc.Versions(cmd.Context(), archive, stage)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(versions) == 0 {
				fmt.Fprintf(out, "No cached versions of %s\n", stage)
				return nil
			}
			rows := make([][]string, 0, len(versions))
			for _, v := range versions {
				rows = append(rows, []string{
					strconv.Itoa(v.Version),
					yesNo(v.Current),
					v.ModelName,
					strconv.Itoa(v.Size),
					v.CreatedAt.Local().Format(stampLayout),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Version", "Current", "Model", "Bytes", "Created"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newCacheShowCommand(ctx *commandContext) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "show <archive> <stage>",
		Short: "Print a cached result as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, stage, err := archiveStageArgs(args)
			if err != nil {
				return err
			}
			if version < 0 {
				return fmt.Errorf("--version must not be negative")
			}
			svc, closeStore, err := ctx.openCacheService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			entry, err := svc.Show(cmd.Context(), archive, stage, version)
			if err != nil {
				return err
			}
			return writeJSON(cmd, entry)
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "Version to show (default: current)")
	return cmd
}

func newCacheRollbackCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <archive> <stage> <version>",
		Short: "Make an earlier version the one later runs replay",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, stage, err := archiveStageArgs(args[:2])
			if err != nil {
				return err
			}
			version, err := strconv.Atoi(args[2])
			if err != nil || version < 1 {
				return fmt.Errorf("invalid version %q", args[2])
			}
			svc, closeStore, err := ctx.openCacheService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			if err := svc.Rollback(cmd.Context(), archive, stage, version); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now replays version %d\n", stage, version)
			return nil
		},
	}
}

func archiveStageArgs(args []string) (string, pipeline.StageName, error) {
	archive, err := config.ExpandPath(args[0])
	if err != nil {
		return "", "", err
	}
	stage, err := pipeline.ParseStageName(args[1])
	if err != nil {
		return "", "", err
	}
	return archive, stage, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

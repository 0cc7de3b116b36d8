package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"lectern/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, credentials and provider reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg, preflight.Options{SkipProviders: offline})

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusWarn
					if r.Critical {
						kind = statusError
					}
				}
				rows = append(rows, []string{r.Name, colorizeStatus(kind, colorize), r.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "Status", "Detail"}, rows, nil))

			passed, failed := preflight.Summary(results)
			fmt.Fprintf(out, "%d passed, %d failed\n", passed, failed)
			if failed > 0 {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip provider requests")
	return cmd
}

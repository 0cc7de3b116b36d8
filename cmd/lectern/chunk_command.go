package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lectern/internal/archive"
	"lectern/internal/chunker"
	"lectern/internal/config"
	"lectern/internal/fileutil"
)

func newChunkCommand() *cobra.Command {
	var maxWords int
	var outPath string

	cmd := &cobra.Command{
		Use:         "chunk <document.md>",
		Short:       "Split a markdown document into bounded chunks",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxWords < 1 {
				return fmt.Errorf("--max-words must be at least 1")
			}
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			body := string(data)
			if _, parsed, err := archive.ParseMarkdown(data); err == nil {
				body = parsed
			}

			chunks := chunker.Split(body, maxWords)
			if outPath == "" {
				return writeJSON(cmd, chunks)
			}
			encoded, err := archive.EncodeChunks(chunks)
			if err != nil {
				return err
			}
			if err := fileutil.WriteFileAtomic(outPath, encoded, 0o644); err != nil {
				return fmt.Errorf("write chunks: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d chunks to %s\n", len(chunks), outPath)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxWords, "max-words", config.Default().Pipeline.ChunkMaxWords, "Word ceiling per chunk")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write chunks to this file instead of stdout")
	return cmd
}

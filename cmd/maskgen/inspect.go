package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gomlx/go-saliency/corpus"
	"github.com/spf13/cobra"
)

func newInspectCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "inspect <output>",
		Short: "Summarize a generated corpus and its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := inspect(args[0], format)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Format of the file: jsonl, parquet or cbor. Defaults to the extension.")
	return cmd
}

func inspect(path, formatName string) (string, error) {
	format := corpus.FormatFromPath(path)
	if formatName != "" {
		var err error
		if format, err = corpus.ParseFormat(formatName); err != nil {
			return "", err
		}
	}
	rows, err := corpus.ReadRows(path, format)
	if err != nil {
		return "", err
	}

	var tokens, masked int
	replicas := make(map[int]bool)
	for _, row := range rows {
		tokens += len(row.Tokens)
		masked += len(row.MaskedPositions)
		replicas[row.Replica] = true
	}
	entries := [][2]string{
		{"file", path},
		{"format", format.String()},
		{"replicas", strconv.Itoa(len(replicas))},
		{"instances", strconv.Itoa(len(rows))},
		{"tokens", strconv.Itoa(tokens)},
		{"masked", strconv.Itoa(masked)},
	}
	if tokens > 0 {
		entries = append(entries, [2]string{"mask ratio", fmt.Sprintf("%.2f%%", 100*float64(masked)/float64(tokens))})
	}

	manifestPath := corpus.ManifestPath(path)
	if _, err := os.Stat(manifestPath); err == nil {
		m, err := corpus.ReadManifest(manifestPath)
		if err != nil {
			return "", err
		}
		entries = append(entries,
			[2]string{"run", m.RunID},
			[2]string{"strategy", m.Strategy},
			[2]string{"created", m.CreatedAt.Format("2006-01-02 15:04:05 MST")})
	}
	return renderSummary("Corpus", entries), nil
}

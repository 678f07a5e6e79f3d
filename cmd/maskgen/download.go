package main

import (
	"fmt"
	"strings"

	"github.com/gomlx/go-saliency/hub"
	"github.com/gomlx/go-saliency/tokenizers"
	"github.com/spf13/cobra"
)

func newDownloadCommand() *cobra.Command {
	var revision, cacheDir, endpoint string
	var list bool
	cmd := &cobra.Command{
		Use:   "download <repo> [files...]",
		Short: "Download files of a hub repository into the local cache",
		Long: "Download files of a hub repository into the local cache. Without files, the tokenizer files " +
			"found in the repository (" + strings.Join(tokenizers.KnownFiles, ", ") + ") are downloaded.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := hub.New(args[0]).WithRevision(revision)
			if cacheDir != "" {
				repo = repo.WithCacheDir(cacheDir)
			}
			if endpoint != "" {
				repo = repo.WithEndpoint(endpoint)
			}
			out := cmd.OutOrStdout()
			if list {
				for name, err := range repo.IterFileNames() {
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintln(out, name)
				}
				return nil
			}

			files := args[1:]
			if len(files) == 0 {
				for _, name := range tokenizers.KnownFiles {
					if repo.HasFile(name) {
						files = append(files, name)
					}
				}
			}
			var entries [][2]string
			for _, name := range files {
				path, err := repo.DownloadFileContext(cmd.Context(), name)
				if err != nil {
					return err
				}
				entries = append(entries, [2]string{name, path})
			}
			_, _ = fmt.Fprintln(out, renderSummary(repo.String(), entries))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&revision, "revision", hub.DefaultRevision, "Revision (branch, tag or commit) to download.")
	f.StringVar(&cacheDir, "cache-dir", "", "Cache directory. Defaults to $HF_HOME/hub.")
	f.StringVar(&endpoint, "endpoint", "", "Hub endpoint. Defaults to "+hub.DefaultEndpoint+".")
	f.BoolVar(&list, "list", false, "List the files of the repository instead of downloading.")
	return cmd
}

// maskgen generates saliency-guided masked-LM corpora from labeled documents.
//
// Usage:
//
//	maskgen generate --strategy=sc --vocab=bert-base-uncased --scorer-url=http://localhost:8000 \
//	    --labels=neg,pos --input=train.jsonl --output=masked.parquet
//	maskgen inspect masked.parquet
//	maskgen download bert-base-uncased vocab.txt
//
// Defaults are read from MASKGEN_* environment variables (and a .env file), see package config.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/gomlx/go-saliency/config"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		stop()
		os.Exit(1)
	}
	klog.Flush()
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "maskgen",
		Short:         "Saliency-guided masked-LM corpus generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	goFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(goFlags)
	root.PersistentFlags().AddGoFlagSet(goFlags)

	root.AddCommand(newGenerateCommand(), newInspectCommand(), newDownloadCommand())
	return root
}

// loadConfig loads the configuration from the environment, logging (and ignoring) parse errors.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		klog.Warningf("ignoring environment configuration: %v", err)
		return config.Default()
	}
	return cfg
}

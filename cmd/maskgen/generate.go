package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-saliency/config"
	"github.com/gomlx/go-saliency/corpus"
	"github.com/gomlx/go-saliency/features"
	"github.com/gomlx/go-saliency/masking"
	"github.com/gomlx/go-saliency/pipeline"
	"github.com/gomlx/go-saliency/saliency"
	"github.com/gomlx/go-saliency/scorer"
	"github.com/gomlx/go-saliency/scorer/httpscorer"
	"github.com/gomlx/go-saliency/scorer/linear"
	"github.com/gomlx/go-saliency/segment"
	"github.com/gomlx/go-saliency/stopwords"
	"github.com/gomlx/go-saliency/tokenizers"
	"github.com/gomlx/go-saliency/tokenizers/api"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func newGenerateCommand() *cobra.Command {
	cfg := loadConfig()
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a masked corpus from an input file of documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.Strategy = strings.ToLower(cfg.Strategy)
			summary, err := generate(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Strategy, "strategy", cfg.Strategy, "Generation strategy: sc, asc or modelgen.")
	f.StringSliceVar(&cfg.Labels, "labels", cfg.Labels, "Label (or polarity) names in the classifier's order.")
	f.Float64Var(&cfg.MaskRate, "mask-rate", cfg.MaskRate, "Fraction of tokens masked (modelgen and complement).")
	f.Float64Var(&cfg.TopSentenceRate, "top-sentence-rate", cfg.TopSentenceRate, "Fraction of the correctly classified sentences of a document probed (sc).")
	f.Float64Var(&cfg.Threshold, "threshold", cfg.Threshold, "Maximum confidence drop for a position to be salient.")
	f.IntVar(&cfg.MaxSeqLength, "max-seq-length", cfg.MaxSeqLength, "Maximum classifier sequence length, including special tokens.")
	f.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Number of sequences per scorer call.")
	f.IntVar(&cfg.DupeFactor, "dupe-factor", cfg.DupeFactor, "Number of independently masked copies of the corpus.")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed.")
	f.BoolVar(&cfg.WithRandom, "with-random", cfg.WithRandom, "Also generate a control corpus masked at random positions (modelgen).")
	f.BoolVar(&cfg.Complement, "complement", cfg.Complement, "Mask random non-salient positions instead of the salient ones (sc and asc).")
	f.BoolVar(&cfg.StopWords, "stop-words", cfg.StopWords, "Never mask English stop words (sc and asc).")
	f.StringVar(&cfg.VocabSource, "vocab", cfg.VocabSource, "Tokenizer file, directory or hub repository id.")
	f.BoolVar(&cfg.Lowercase, "lowercase", cfg.Lowercase, "Lower-case text before WordPiece tokenization.")
	f.StringVar(&cfg.ScorerURL, "scorer-url", cfg.ScorerURL, "URL of the sentence classifier service.")
	f.StringVar(&cfg.ScorerWeights, "scorer-weights", cfg.ScorerWeights, "Safetensors weights of an in-process sentence classifier.")
	f.StringVar(&cfg.TokenClassifierURL, "token-classifier-url", cfg.TokenClassifierURL, "URL of the token classifier service (modelgen).")
	f.StringVar(&cfg.TokenClassifierWeights, "token-classifier-weights", cfg.TokenClassifierWeights, "Safetensors weights of an in-process token classifier (modelgen).")
	f.IntVar(&cfg.ScorerParallelism, "scorer-parallelism", cfg.ScorerParallelism, "Concurrent requests to classifier services.")
	f.StringVar(&cfg.Input, "input", cfg.Input, "Input documents: JSON Lines or Parquet.")
	f.StringVar(&cfg.Output, "output", cfg.Output, "Output file.")
	f.StringVar(&cfg.Format, "format", cfg.Format, "Output format: jsonl, parquet or cbor. Defaults to the output extension.")
	return cmd
}

// generate runs a generation and returns its printable summary.
func generate(ctx context.Context, cfg *config.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	format := corpus.FormatFromPath(cfg.Output)
	if cfg.Format != "" {
		var err error
		if format, err = corpus.ParseFormat(cfg.Format); err != nil {
			return "", err
		}
	}

	tok, err := tokenizers.New(cfg.VocabSource, cfg.Lowercase)
	if err != nil {
		return "", err
	}
	converter, err := features.New(tok, cfg.MaxSeqLength)
	if err != nil {
		return "", err
	}
	gen, err := newGenerator(cfg, tok, converter)
	if err != nil {
		return "", err
	}
	records, err := corpus.ReadRecords(cfg.Input)
	if err != nil {
		return "", err
	}
	klog.Infof("read %d documents from %q", len(records), cfg.Input)

	out, err := gen.Generate(ctx, records)
	if err != nil {
		return "", errors.WithMessagef(err, "while generating with strategy %q", cfg.Strategy)
	}

	manifest := corpus.NewManifest(cfg.Strategy, format)
	manifest.Config = cfg
	manifest.Output = cfg.Output
	manifest.Documents = len(records)
	manifest.Instances = pipeline.NumInstances(out.Documents)
	if err := writeDocuments(cfg.Output, format, out.Documents); err != nil {
		return "", err
	}
	if cfg.WithRandom && cfg.Strategy == config.StrategyModelGen {
		manifest.RandomOutput = randomOutputPath(cfg.Output)
		manifest.RandomInstances = pipeline.NumInstances(out.Random)
		if err := writeDocuments(manifest.RandomOutput, format, out.Random); err != nil {
			return "", err
		}
	}
	if err := manifest.Write(corpus.ManifestPath(cfg.Output)); err != nil {
		return "", err
	}
	return manifestSummary(manifest), nil
}

// newGenerator builds the pipeline of the configured strategy.
func newGenerator(cfg *config.Config, tok api.Tokenizer, converter *features.Converter) (pipeline.Generator, error) {
	var stops stopwords.Predicate = stopwords.None{}
	if cfg.StopWords {
		stops = stopwords.English()
	}
	builder, err := masking.NewBuilder(tok, stops, cfg.MaskRate)
	if err != nil {
		return nil, err
	}
	replicas := pipeline.Replicas{DupeFactor: cfg.DupeFactor, Seed: cfg.Seed}

	if cfg.Strategy == config.StrategyModelGen {
		classifier, err := newTokenClassifier(cfg, converter)
		if err != nil {
			return nil, err
		}
		return &pipeline.ModelGen{
			Tokenizer:  tok,
			Segmenter:  segment.UAX29{},
			Probe:      &saliency.TokenClassifierProbe{Classifier: classifier, MaskRate: cfg.MaskRate},
			Builder:    builder,
			Replicas:   replicas,
			WithRandom: cfg.WithRandom,
		}, nil
	}

	s, err := newScorer(cfg, converter)
	if err != nil {
		return nil, err
	}
	selector := &saliency.Selector{Scorer: s, BatchSize: cfg.BatchSize, TopRate: cfg.TopSentenceRate}
	probe := saliency.ThresholdProbe{
		Scorer:    s,
		BatchSize: cfg.BatchSize,
		Threshold: float32(cfg.Threshold),
		Window:    converter.Window,
	}
	if cfg.Strategy == config.StrategyASC {
		return &pipeline.ASC{
			Tokenizer:  tok,
			Selector:   selector,
			Probe:      &saliency.AspectProbe{ThresholdProbe: probe},
			Builder:    builder,
			Labels:     cfg.Labels,
			Replicas:   replicas,
			Complement: cfg.Complement,
		}, nil
	}
	return &pipeline.SC{
		Tokenizer:  tok,
		Segmenter:  segment.UAX29{},
		Selector:   selector,
		Probe:      &probe,
		Builder:    builder,
		Labels:     cfg.Labels,
		Replicas:   replicas,
		Complement: cfg.Complement,
	}, nil
}

func newScorer(cfg *config.Config, converter *features.Converter) (scorer.Scorer, error) {
	if cfg.ScorerURL != "" {
		return httpscorer.New(cfg.ScorerURL, converter).
			WithBatchSize(cfg.BatchSize).
			WithMaxParallel(cfg.ScorerParallelism), nil
	}
	s, err := linear.NewFromFile(cfg.ScorerWeights, converter)
	if err != nil {
		return nil, err
	}
	if s.NumLabels() != len(cfg.Labels) {
		return nil, errors.Errorf("classifier in %q has %d labels, but %d labels are configured",
			cfg.ScorerWeights, s.NumLabels(), len(cfg.Labels))
	}
	return s, nil
}

func newTokenClassifier(cfg *config.Config, converter *features.Converter) (scorer.TokenClassifier, error) {
	if cfg.TokenClassifierURL != "" {
		return httpscorer.New(cfg.TokenClassifierURL, converter).
			WithBatchSize(cfg.BatchSize).
			WithMaxParallel(cfg.ScorerParallelism), nil
	}
	return linear.NewTokenClassifierFromFile(cfg.TokenClassifierWeights, converter)
}

func writeDocuments(path string, format corpus.Format, docs []masking.Document) error {
	w, err := corpus.Create(path, format)
	if err != nil {
		return err
	}
	if err := w.Write(docs); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// randomOutputPath inserts ".random" before the extension of the output path.
func randomOutputPath(output string) string {
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + ".random" + ext
}

// Package config holds the configuration of a mask generation run.
//
// Values come from Default(), overridden by the environment (MASKGEN_* variables, optionally
// loaded from a .env file) and then by command-line flags.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// EnvPrefix of the environment variables read by Load.
const EnvPrefix = "MASKGEN_"

// Strategies.
const (
	StrategySC       = "sc"
	StrategyASC      = "asc"
	StrategyModelGen = "modelgen"
)

// Config of a generation run.
type Config struct {
	Strategy string `json:"strategy"`

	// Labels are the label (or polarity) names in the classifier's order.
	Labels []string `json:"labels"`

	MaskRate        float64 `json:"mask_rate"`
	TopSentenceRate float64 `json:"top_sentence_rate"`
	Threshold       float64 `json:"threshold"`
	MaxSeqLength    int     `json:"max_seq_length"`
	BatchSize       int     `json:"batch_size"`
	DupeFactor      int     `json:"dupe_factor"`
	Seed            uint64  `json:"seed"`

	// WithRandom also generates the random control corpus (modelgen).
	WithRandom bool `json:"with_random"`

	// Complement masks random non-salient positions instead (sc and asc).
	Complement bool `json:"complement"`

	// StopWords disables the stop-word filter when false (sc and asc).
	StopWords bool `json:"stop_words"`

	// VocabSource is a tokenizer file (tokenizer.json, vocab.txt or tokenizer.model), a directory
	// holding one, or a hub repository id.
	VocabSource string `json:"vocab_source"`
	Lowercase   bool   `json:"lowercase"`

	// Sentence classifier: the URL of a scorer service, or a safetensors weights file.
	ScorerURL     string `json:"scorer_url,omitempty"`
	ScorerWeights string `json:"scorer_weights,omitempty"`

	// Token classifier (modelgen): the URL of a scorer service, or a safetensors weights file.
	TokenClassifierURL     string `json:"token_classifier_url,omitempty"`
	TokenClassifierWeights string `json:"token_classifier_weights,omitempty"`

	// ScorerParallelism is the number of concurrent requests to scorer services.
	ScorerParallelism int `json:"scorer_parallelism"`

	Input  string `json:"input"`
	Output string `json:"output"`

	// Format of the output: jsonl, parquet or cbor. Empty means from the output extension.
	Format string `json:"format,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Strategy:          StrategySC,
		Labels:            []string{"0", "1"},
		MaskRate:          0.15,
		TopSentenceRate:   0.3,
		Threshold:         0.01,
		MaxSeqLength:      128,
		BatchSize:         32,
		DupeFactor:        1,
		Seed:              42,
		StopWords:         true,
		Lowercase:         true,
		ScorerParallelism: 1,
	}
}

// Load returns Default() overridden by the environment. A .env file in the current directory,
// if present, is loaded first (without overriding variables already set).
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv returns Default() overridden by the MASKGEN_* variables returned by lookup.
func FromEnv(lookup func(key string) (string, bool)) (*Config, error) {
	cfg := Default()
	e := &envReader{lookup: lookup}
	e.str("STRATEGY", &cfg.Strategy)
	e.list("LABELS", &cfg.Labels)
	e.float("MASK_RATE", &cfg.MaskRate)
	e.float("TOP_SENTENCE_RATE", &cfg.TopSentenceRate)
	e.float("THRESHOLD", &cfg.Threshold)
	e.integer("MAX_SEQ_LENGTH", &cfg.MaxSeqLength)
	e.integer("BATCH_SIZE", &cfg.BatchSize)
	e.integer("DUPE_FACTOR", &cfg.DupeFactor)
	e.unsigned("SEED", &cfg.Seed)
	e.boolean("WITH_RANDOM", &cfg.WithRandom)
	e.boolean("COMPLEMENT", &cfg.Complement)
	e.boolean("STOP_WORDS", &cfg.StopWords)
	e.str("VOCAB", &cfg.VocabSource)
	e.boolean("LOWERCASE", &cfg.Lowercase)
	e.str("SCORER_URL", &cfg.ScorerURL)
	e.str("SCORER_WEIGHTS", &cfg.ScorerWeights)
	e.str("TOKEN_CLASSIFIER_URL", &cfg.TokenClassifierURL)
	e.str("TOKEN_CLASSIFIER_WEIGHTS", &cfg.TokenClassifierWeights)
	e.integer("SCORER_PARALLELISM", &cfg.ScorerParallelism)
	e.str("INPUT", &cfg.Input)
	e.str("OUTPUT", &cfg.Output)
	e.str("FORMAT", &cfg.Format)
	if e.err != nil {
		return nil, e.err
	}
	cfg.Strategy = strings.ToLower(cfg.Strategy)
	return cfg, nil
}

// Validate checks the ranges of the values and that the required sources are set for the strategy.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategySC, StrategyASC:
		if c.ScorerURL == "" && c.ScorerWeights == "" {
			return errors.Errorf("strategy %q requires a scorer URL or weights file", c.Strategy)
		}
		if len(c.Labels) == 0 {
			return errors.Errorf("strategy %q requires labels", c.Strategy)
		}
	case StrategyModelGen:
		if c.TokenClassifierURL == "" && c.TokenClassifierWeights == "" {
			return errors.Errorf("strategy %q requires a token classifier URL or weights file", c.Strategy)
		}
	default:
		return errors.Errorf("unknown strategy %q, valid strategies are %q, %q and %q",
			c.Strategy, StrategySC, StrategyASC, StrategyModelGen)
	}
	if c.MaskRate <= 0 || c.MaskRate > 1 {
		return errors.Errorf("mask rate must be in (0, 1], got %g", c.MaskRate)
	}
	if c.TopSentenceRate <= 0 || c.TopSentenceRate > 1 {
		return errors.Errorf("top sentence rate must be in (0, 1], got %g", c.TopSentenceRate)
	}
	if c.MaxSeqLength < 3 {
		return errors.Errorf("max sequence length must be at least 3, got %d", c.MaxSeqLength)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.DupeFactor <= 0 {
		return errors.Errorf("dupe factor must be positive, got %d", c.DupeFactor)
	}
	if c.ScorerParallelism <= 0 {
		return errors.Errorf("scorer parallelism must be positive, got %d", c.ScorerParallelism)
	}
	if c.VocabSource == "" {
		return errors.New("a vocabulary (tokenizer) source is required")
	}
	if c.Input == "" || c.Output == "" {
		return errors.New("input and output paths are required")
	}
	return nil
}

// envReader parses MASKGEN_* variables, keeping the first error.
type envReader struct {
	lookup func(key string) (string, bool)
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	value, found := e.lookup(EnvPrefix + name)
	value = strings.TrimSpace(value)
	return value, found && value != ""
}

func (e *envReader) fail(name, value string, err error) {
	e.err = errors.Wrapf(err, "invalid value %q for %s%s", value, EnvPrefix, name)
}

func (e *envReader) str(name string, dst *string) {
	if value, ok := e.get(name); ok {
		*dst = value
	}
}

func (e *envReader) list(name string, dst *[]string) {
	value, ok := e.get(name)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

func (e *envReader) float(name string, dst *float64) {
	if value, ok := e.get(name); ok {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			e.fail(name, value, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) integer(name string, dst *int) {
	if value, ok := e.get(name); ok {
		i, err := strconv.Atoi(value)
		if err != nil {
			e.fail(name, value, err)
			return
		}
		*dst = i
	}
}

func (e *envReader) unsigned(name string, dst *uint64) {
	if value, ok := e.get(name); ok {
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			e.fail(name, value, err)
			return
		}
		*dst = u
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if value, ok := e.get(name); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			e.fail(name, value, err)
			return
		}
		*dst = b
	}
}

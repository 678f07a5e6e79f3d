package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, found := env[key]
		return value, found
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.ScorerURL = "http://localhost:8000"
	cfg.VocabSource = "vocab.txt"
	cfg.Input, cfg.Output = "in.jsonl", "out.jsonl"
	return cfg
}

func TestDefaultIsValidOnceSourcesAreSet(t *testing.T) {
	assert.Error(t, Default().Validate())
	assert.NoError(t, validConfig().Validate())
}

func TestFromEnv(t *testing.T) {
	cfg, err := FromEnv(mapLookup(map[string]string{
		"MASKGEN_STRATEGY":     "ASC",
		"MASKGEN_LABELS":       "negative, neutral,positive,",
		"MASKGEN_MASK_RATE":    "0.2",
		"MASKGEN_DUPE_FACTOR":  "5",
		"MASKGEN_SEED":         "7",
		"MASKGEN_COMPLEMENT":   "true",
		"MASKGEN_STOP_WORDS":   "0",
		"MASKGEN_OUTPUT":       " out.parquet ",
		"MASKGEN_SCORER_URL":   "",
		"UNRELATED_MASK_RATE":  "0.9",
		"MASKGEN_UNKNOWN_NAME": "x",
	}))
	require.NoError(t, err)
	assert.Equal(t, StrategyASC, cfg.Strategy)
	assert.Equal(t, []string{"negative", "neutral", "positive"}, cfg.Labels)
	assert.Equal(t, 0.2, cfg.MaskRate)
	assert.Equal(t, 5, cfg.DupeFactor)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.True(t, cfg.Complement)
	assert.False(t, cfg.StopWords)
	assert.Equal(t, "out.parquet", cfg.Output)
	assert.Empty(t, cfg.ScorerURL)
	assert.Equal(t, Default().Threshold, cfg.Threshold)
}

func TestFromEnvErrors(t *testing.T) {
	for _, env := range []map[string]string{
		{"MASKGEN_MASK_RATE": "lots"},
		{"MASKGEN_BATCH_SIZE": "1.5"},
		{"MASKGEN_SEED": "-1"},
		{"MASKGEN_WITH_RANDOM": "maybe"},
	} {
		_, err := FromEnv(mapLookup(env))
		assert.Error(t, err, "%v", env)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MASKGEN_BATCH_SIZE=7\n"), 0o644))
	t.Chdir(dir)
	t.Setenv("MASKGEN_THRESHOLD", "0.05")
	t.Cleanup(func() { _ = os.Unsetenv("MASKGEN_BATCH_SIZE") })
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.05, cfg.Threshold)
	assert.Equal(t, 7, cfg.BatchSize)
}

func TestValidate(t *testing.T) {
	for name, modify := range map[string]func(*Config){
		"strategy":      func(c *Config) { c.Strategy = "mlm" },
		"mask rate":     func(c *Config) { c.MaskRate = 0 },
		"top rate":      func(c *Config) { c.TopSentenceRate = 1.5 },
		"seq length":    func(c *Config) { c.MaxSeqLength = 2 },
		"batch":         func(c *Config) { c.BatchSize = 0 },
		"dupe":          func(c *Config) { c.DupeFactor = 0 },
		"parallelism":   func(c *Config) { c.ScorerParallelism = 0 },
		"scorer":        func(c *Config) { c.ScorerURL = "" },
		"labels":        func(c *Config) { c.Labels = nil },
		"vocab":         func(c *Config) { c.VocabSource = "" },
		"output":        func(c *Config) { c.Output = "" },
		"modelgen head": func(c *Config) { c.Strategy = StrategyModelGen },
	} {
		cfg := validConfig()
		modify(cfg)
		assert.Error(t, cfg.Validate(), name)
	}

	cfg := validConfig()
	cfg.Strategy = StrategyModelGen
	cfg.TokenClassifierWeights = "head.safetensors"
	assert.NoError(t, cfg.Validate())
}

package masking

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/gomlx/go-saliency/stopwords"
	"github.com/gomlx/go-saliency/tokenizers/hftokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVocab = "[PAD]\n[UNK]\n[CLS]\n[SEP]\n[MASK]\nthe\nfood\nwas\ngreat\n.\n"

func newBuilder(t *testing.T, stops stopwords.Predicate) *Builder {
	t.Helper()
	tok, err := hftokenizer.NewFromVocab([]byte(testVocab), true)
	require.NoError(t, err)
	b, err := NewBuilder(tok, stops, 0.15)
	require.NoError(t, err)
	return b
}

func TestBuild(t *testing.T) {
	b := newBuilder(t, nil)
	rng := rand.New(rand.NewPCG(1, 2))
	tokens := []string{"the", "food", "was", "great", "."}
	inst := b.Build(tokens, []int{3, 1, 3}, rng)

	assert.Equal(t, tokens, inst.Tokens)
	require.Len(t, inst.Info, len(tokens))
	assert.Equal(t, []int{1, 3}, inst.MaskedPositions())
	assert.Equal(t, "food", inst.Info[1].Label)
	assert.Equal(t, "great", inst.Info[3].Label)
	assert.False(t, inst.Info[0].Masked())

	input := inst.InputTokens()
	assert.Equal(t, inst.Info[1].Replacement, input[1])
	assert.Equal(t, "the", input[0])
	assert.Equal(t, "the", tokens[0], "tokens are not modified")
}

func TestBuildSkipsStopWords(t *testing.T) {
	b := newBuilder(t, stopwords.English())
	rng := rand.New(rand.NewPCG(1, 2))
	inst := b.Build([]string{"the", "food", "was", "great"}, []int{0, 1, 2, 3}, rng)
	assert.Equal(t, []int{1, 3}, inst.MaskedPositions())
}

func TestBuildOutOfRange(t *testing.T) {
	b := newBuilder(t, nil)
	rng := rand.New(rand.NewPCG(1, 2))
	assert.Panics(t, func() { b.Build([]string{"the"}, []int{1}, rng) })
}

func TestMaskingDistribution(t *testing.T) {
	b := newBuilder(t, nil)
	// Vocabulary without the original token, so "kept" and "random" are distinguishable.
	b.Vocabulary = []string{"x", "y", "z"}
	rng := rand.New(rand.NewPCG(42, 0))

	const draws = 100_000
	var masked, kept, random int
	for range draws {
		inst := b.Build([]string{"food"}, []int{0}, rng)
		switch r := inst.Info[0].Replacement; {
		case r == "[MASK]":
			masked++
		case r == "food":
			kept++
		case slices.Contains(b.Vocabulary, r):
			random++
		default:
			t.Fatalf("unexpected replacement %q", r)
		}
	}
	assert.InDelta(t, 0.8, float64(masked)/draws, 0.01)
	assert.InDelta(t, 0.1, float64(kept)/draws, 0.01)
	assert.InDelta(t, 0.1, float64(random)/draws, 0.01)
}

func TestBuildComplement(t *testing.T) {
	b := newBuilder(t, stopwords.English())
	b.MaskRate = 0.4
	rng := rand.New(rand.NewPCG(7, 0))
	tokens := []string{"the", "food", "was", "great", ".", "the", "food", "was", "great", "."}
	salient := []int{1, 3, 6, 8}
	for range 50 {
		inst := b.BuildComplement(tokens, salient, rng)
		positions := inst.MaskedPositions()
		assert.Len(t, positions, 4)
		for _, pos := range positions {
			assert.NotContains(t, salient, pos)
		}
	}

	// Not enough candidates.
	inst := b.BuildComplement([]string{"food"}, []int{0}, rng)
	assert.Empty(t, inst.MaskedPositions())
	// At least one.
	inst = b.BuildComplement([]string{"food", "great"}, nil, rng)
	assert.Len(t, inst.MaskedPositions(), 1)
}

func TestRandomPositions(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 0))
	positions := RandomPositions(10, 4, rng)
	assert.Len(t, positions, 4)
	assert.Len(t, sortedUnique(positions), 4)
	for _, pos := range positions {
		assert.True(t, pos >= 0 && pos < 10)
	}
	assert.Len(t, RandomPositions(3, 5, rng), 3)
	assert.Empty(t, RandomPositions(3, 0, rng))
}

func TestMaxMasked(t *testing.T) {
	assert.Equal(t, 1, MaxMasked(3, 0.15))
	assert.Equal(t, 3, MaxMasked(20, 0.15))
	assert.Equal(t, 1, MaxMasked(0, 0.15))
}

func TestSameSeedSameInstance(t *testing.T) {
	b := newBuilder(t, nil)
	tokens := []string{"the", "food", "was", "great", "."}
	a := b.Build(tokens, []int{0, 1, 2, 3, 4}, rand.New(rand.NewPCG(9, 1)))
	c := b.Build(tokens, []int{0, 1, 2, 3, 4}, rand.New(rand.NewPCG(9, 1)))
	assert.Equal(t, a, c)
}

func TestNewBuilderWithoutMask(t *testing.T) {
	tok, err := hftokenizer.NewFromVocab([]byte("a\nb\n"), true)
	require.NoError(t, err)
	_, err = NewBuilder(tok, nil, 0.15)
	assert.Error(t, err)
}

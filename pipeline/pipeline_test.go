package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/gomlx/go-saliency/masking"
	"github.com/gomlx/go-saliency/saliency"
	"github.com/gomlx/go-saliency/scorer"
	"github.com/gomlx/go-saliency/segment"
	"github.com/gomlx/go-saliency/stopwords"
	"github.com/gomlx/go-saliency/tokenizers/api"
	"github.com/gomlx/go-saliency/tokenizers/hftokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVocab = "[PAD]\n[UNK]\n[CLS]\n[SEP]\n[MASK]\nthe\nfood\nwas\ngreat\n.\nservice\nslow\nok\n"

// tableScorer is a binary classifier returning the probability of label 1 for the key
// "pair|tokens" (or just "tokens"), and 0.5 for unknown keys.
func tableScorer(table map[string]float32) scorer.Scorer {
	return scorer.Func(func(_ context.Context, inputs []scorer.Input) ([][]float32, error) {
		results := make([][]float32, len(inputs))
		for ii, in := range inputs {
			key := strings.Join(in.Tokens, " ")
			if in.Pair != nil {
				key = strings.Join(in.Pair, " ") + "|" + key
			}
			p, found := table[key]
			if !found {
				p = 0.5
			}
			results[ii] = []float32{1 - p, p}
		}
		return results, nil
	})
}

func newTokenizer(t *testing.T) api.Tokenizer {
	t.Helper()
	tok, err := hftokenizer.NewFromVocab([]byte(testVocab), true)
	require.NoError(t, err)
	return tok
}

func newBuilder(t *testing.T, tok api.Tokenizer, stops stopwords.Predicate) *masking.Builder {
	t.Helper()
	b, err := masking.NewBuilder(tok, stops, 0.15)
	require.NoError(t, err)
	return b
}

func newSC(t *testing.T, stops stopwords.Predicate, dupeFactor int) *SC {
	tok := newTokenizer(t)
	s := tableScorer(map[string]float32{
		"the food was great .": 0.9,
		"the":                  0.5,
		"the food":             0.4,
		"the food was":         0.85,
		"the food great":       0.3,
	})
	return &SC{
		Tokenizer: tok,
		Segmenter: segment.UAX29{},
		Selector:  &saliency.Selector{Scorer: s, BatchSize: 4, TopRate: 0.3},
		Probe:     &saliency.ThresholdProbe{Scorer: s, BatchSize: 4, Threshold: 0.2},
		Builder:   newBuilder(t, tok, stops),
		Labels:    []string{"neg", "pos"},
		Replicas:  Replicas{DupeFactor: dupeFactor, Seed: 42},
	}
}

var scRecords = []Record{
	{Text: "The food was great. Service was slow.", Label: "pos"},
	{Text: "", Label: "neg"},
}

func TestSC(t *testing.T) {
	g := newSC(t, nil, 2)
	out, err := g.Generate(context.Background(), scRecords)
	require.NoError(t, err)
	assert.Empty(t, out.Random)
	require.Len(t, out.Documents, 4)

	for ii, doc := range out.Documents {
		assert.Equal(t, ii/2, doc.Replica)
		assert.Equal(t, ii%2, doc.Index)
	}
	assert.Empty(t, out.Documents[1].Instances)

	doc := out.Documents[0]
	require.Len(t, doc.Instances, 2)
	assert.Equal(t, []string{"the", "food", "was", "great", "."}, doc.Instances[0].Tokens)
	assert.Equal(t, []int{2}, doc.Instances[0].MaskedPositions())
	assert.Equal(t, "was", doc.Instances[0].Info[2].Label)
	assert.Equal(t, []string{"service", "was", "slow", "."}, doc.Instances[1].Tokens)
	assert.Empty(t, doc.Instances[1].MaskedPositions(), "misclassified sentence is emitted unmasked")
	assert.Equal(t, 4, NumInstances(out.Documents))
}

func TestSCStopWords(t *testing.T) {
	g := newSC(t, stopwords.English(), 1)
	out, err := g.Generate(context.Background(), scRecords)
	require.NoError(t, err)
	assert.Empty(t, out.Documents[0].Instances[0].MaskedPositions(), "\"was\" is a stop word")
}

func TestSCReplicaZeroIgnoresDupeFactor(t *testing.T) {
	one, err := newSC(t, nil, 1).Generate(context.Background(), scRecords)
	require.NoError(t, err)
	three, err := newSC(t, nil, 3).Generate(context.Background(), scRecords)
	require.NoError(t, err)
	require.Len(t, three.Documents, 6)
	assert.Equal(t, one.Documents, three.Documents[:2], "replica 0 does not depend on the dupe factor")
}

func TestSCReplicasAreIndependent(t *testing.T) {
	const numDocs = 400
	records := make([]Record, numDocs)
	for ii := range records {
		records[ii] = Record{Text: "The food was great.", Label: "pos"}
	}
	out, err := newSC(t, nil, 2).Generate(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, out.Documents, 2*numDocs)

	same := 0
	for ii := range numDocs {
		first, second := out.Documents[ii], out.Documents[numDocs+ii]
		require.Equal(t, 0, first.Replica)
		require.Equal(t, 1, second.Replica)
		a, b := first.Instances[0].Info[2], second.Instances[0].Info[2]
		require.True(t, a.Masked())
		require.True(t, b.Masked())
		if a.Replacement == b.Replacement {
			same++
		}
	}
	// Independent 80/10/10 draws agree about 65% of the time.
	rate := float64(same) / numDocs
	assert.Greater(t, rate, 0.5)
	assert.Less(t, rate, 0.8)
}

func TestSCComplement(t *testing.T) {
	g := newSC(t, nil, 1)
	g.Complement = true
	out, err := g.Generate(context.Background(), scRecords)
	require.NoError(t, err)
	first := out.Documents[0].Instances[0].MaskedPositions()
	require.Len(t, first, 1)
	assert.NotEqual(t, 2, first[0])
	assert.Len(t, out.Documents[0].Instances[1].MaskedPositions(), 1)
}

func TestSCErrors(t *testing.T) {
	g := newSC(t, nil, 1)
	_, err := g.Generate(context.Background(), []Record{{Text: "The food.", Label: "meh"}})
	assert.Error(t, err)

	g.DupeFactor = 0
	_, err = g.Generate(context.Background(), scRecords)
	assert.Error(t, err)

	g = newSC(t, nil, 1)
	g.Labels = []string{"pos", "pos"}
	_, err = g.Generate(context.Background(), scRecords)
	assert.Error(t, err)
}

func TestASC(t *testing.T) {
	tok := newTokenizer(t)
	s := tableScorer(map[string]float32{
		"food|ok great": 0.9,
		"food|ok":       0.5,
	})
	g := &ASC{
		Tokenizer: tok,
		Selector:  &saliency.Selector{Scorer: s, BatchSize: 4},
		Probe:     &saliency.AspectProbe{ThresholdProbe: saliency.ThresholdProbe{Scorer: s, BatchSize: 4, Threshold: 0.2}},
		Builder:   newBuilder(t, tok, stopwords.English()),
		Labels:    []string{"negative", "positive"},
		Replicas:  Replicas{DupeFactor: 1, Seed: 1},
	}
	records := []Record{
		{Text: "OK great", Facts: []Fact{
			{Category: "food", Term: "ignored", Polarity: "positive"},
			{Term: "service", Polarity: ConflictPolarity},
		}},
		{Text: "Service slow"},
	}
	out, err := g.Generate(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, out.Documents, 2)
	require.Len(t, out.Documents[0].Instances, 1)
	assert.Equal(t, []string{"ok", "great"}, out.Documents[0].Instances[0].Tokens)
	assert.Equal(t, []int{1}, out.Documents[0].Instances[0].MaskedPositions())
	require.Len(t, out.Documents[1].Instances, 1)
	assert.Empty(t, out.Documents[1].Instances[0].MaskedPositions())

	records[1].Facts = []Fact{{Term: "service", Polarity: "neutral"}}
	_, err = g.Generate(context.Background(), records)
	assert.Error(t, err)

	records[1].Facts = []Fact{{Polarity: "positive"}}
	_, err = g.Generate(context.Background(), records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty aspect")
}

func TestFactAspect(t *testing.T) {
	assert.Equal(t, "food", Fact{Category: "food", Term: "pizza"}.Aspect())
	assert.Equal(t, "pizza", Fact{Term: "pizza"}.Aspect())
}

// tokenRules is a token classifier predicting label 1 for the tokens in the map, with the mapped logit.
type tokenRules map[string]float32

func (r tokenRules) ClassifyTokens(_ context.Context, sequences [][]string) ([][]scorer.TokenPrediction, error) {
	results := make([][]scorer.TokenPrediction, len(sequences))
	for ii, seq := range sequences {
		results[ii] = make([]scorer.TokenPrediction, len(seq))
		for pos, token := range seq {
			if logit, found := r[token]; found {
				results[ii][pos] = scorer.TokenPrediction{Label: 1, Logit: logit}
			}
		}
	}
	return results, nil
}

func TestModelGen(t *testing.T) {
	tok := newTokenizer(t)
	g := &ModelGen{
		Tokenizer: tok,
		Segmenter: segment.UAX29{},
		Probe: &saliency.TokenClassifierProbe{
			Classifier: tokenRules{"was": 3, "food": 2, "great": 1},
			MaskRate:   0.4,
		},
		Builder:    newBuilder(t, tok, stopwords.English()),
		Replicas:   Replicas{DupeFactor: 2, Seed: 3},
		WithRandom: true,
	}
	out, err := g.Generate(context.Background(), []Record{{Text: "The food was great. Service was slow."}})
	require.NoError(t, err)
	require.Len(t, out.Documents, 2)
	require.Len(t, out.Random, 2)

	doc := out.Documents[0]
	require.Len(t, doc.Instances, 2)
	assert.Equal(t, []int{1, 2}, doc.Instances[0].MaskedPositions(), "stop words are masked too")
	assert.Equal(t, []int{1}, doc.Instances[1].MaskedPositions())

	for ii, random := range out.Random {
		assert.Equal(t, ii, random.Replica)
		require.Len(t, random.Instances, 2)
		assert.Len(t, random.Instances[0].MaskedPositions(), 2)
		assert.Len(t, random.Instances[1].MaskedPositions(), 1)
	}
}

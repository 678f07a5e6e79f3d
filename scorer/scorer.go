// Package scorer defines the classifier interfaces consumed by the saliency probes, and
// helpers shared by its implementations (see subpackages httpscorer and linear).
package scorer

import (
	"context"
	"math"

	"github.com/pkg/errors"
)

// Input is one sequence to classify. Pair is nil for single-sequence classification, otherwise
// it holds the aspect tokens that precede Tokens in a pair classification.
type Input struct {
	Tokens []string
	Pair   []string
}

// Scorer returns, for each input, the probability of each label. Results are in input order.
type Scorer interface {
	Score(ctx context.Context, inputs []Input) ([][]float32, error)
}

// Func adapts a function to a Scorer.
type Func func(ctx context.Context, inputs []Input) ([][]float32, error)

// Score implements Scorer.
func (fn Func) Score(ctx context.Context, inputs []Input) ([][]float32, error) {
	return fn(ctx, inputs)
}

// TokenPrediction is the output of a token classifier for one token: Label 1 means "mask", and
// Logit is the score of that decision, used for ranking.
type TokenPrediction struct {
	Label int
	Logit float32
}

// TokenClassifier predicts, for each token of each sequence, whether it should be masked.
// Each result has exactly the length of its input sequence.
type TokenClassifier interface {
	ClassifyTokens(ctx context.Context, sequences [][]string) ([][]TokenPrediction, error)
}

// Batched calls score on consecutive chunks of at most batchSize inputs and concatenates the results.
//
// It checks that each chunk returns one result per input, and stops at the first error.
func Batched(ctx context.Context, inputs []Input, batchSize int,
	score func(ctx context.Context, chunk []Input) ([][]float32, error)) ([][]float32, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	results := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, len(inputs))
		probs, err := score(ctx, inputs[start:end])
		if err != nil {
			return nil, errors.WithMessagef(err, "scoring inputs [%d, %d)", start, end)
		}
		if len(probs) != end-start {
			return nil, errors.Errorf("scoring inputs [%d, %d): got %d results", start, end, len(probs))
		}
		results = append(results, probs...)
	}
	return results, nil
}

// ArgMax returns the index of the largest value, the first one on ties. It returns -1 for an empty slice.
func ArgMax(values []float32) int {
	best := -1
	for ii, v := range values {
		if best < 0 || v > values[best] {
			best = ii
		}
	}
	return best
}

// Softmax converts logits to probabilities.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[ArgMax(logits)]
	probs := make([]float32, len(logits))
	var sum float64
	for ii, l := range logits {
		e := math.Exp(float64(l - maxLogit))
		probs[ii] = float32(e)
		sum += e
	}
	for ii := range probs {
		probs[ii] = float32(float64(probs[ii]) / sum)
	}
	return probs
}

// Package linear implements in-process classifiers with a single linear layer over token
// embeddings, with weights loaded from a safetensors file.
//
// Scorer is a bag-of-words sequence classifier: the logits of a sequence are the mean of the
// rows of "embeddings.weight" ([vocab, labels]) for its feature tokens plus "classifier.bias"
// ([labels]), and the probabilities their softmax.
//
// TokenClassifier predicts "mask" (1) or "keep" (0) for each token, with logits given by the
// row of "token_classifier.weight" ([vocab, 2]) plus "token_classifier.bias" ([2]).
package linear

import (
	"context"

	"github.com/gomlx/go-saliency/features"
	"github.com/gomlx/go-saliency/models/safetensors"
	"github.com/gomlx/go-saliency/scorer"
	"github.com/pkg/errors"
)

// Weight names.
const (
	EmbeddingsWeight      = "embeddings.weight"
	ClassifierBias        = "classifier.bias"
	TokenClassifierWeight = "token_classifier.weight"
	TokenClassifierBias   = "token_classifier.bias"
)

// layer is a [rows, cols] matrix plus a [cols] bias.
type layer struct {
	rows, cols int
	weight     []float32
	bias       []float32
}

func loadLayer(w *safetensors.Weights, weightName, biasName string) (*layer, error) {
	weight, dims, err := w.Float32s(weightName)
	if err != nil {
		return nil, err
	}
	if len(dims) != 2 {
		return nil, errors.Errorf("%s must have rank 2, got dimensions %v", weightName, dims)
	}
	bias, _, err := w.Float32s(biasName)
	if err != nil {
		return nil, err
	}
	if len(bias) != dims[1] {
		return nil, errors.Errorf("%s has %d values, but %s has %d columns", biasName, len(bias), weightName, dims[1])
	}
	return &layer{rows: dims[0], cols: dims[1], weight: weight, bias: bias}, nil
}

// openLayer reads a layer from a local .safetensors file.
func openLayer(path, weightName, biasName string) (*layer, error) {
	w, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = w.Close() }()
	return loadLayer(w, weightName, biasName)
}

func (l *layer) row(id int) ([]float32, error) {
	if id < 0 || id >= l.rows {
		return nil, errors.Errorf("token id %d out of range of the %d weight rows", id, l.rows)
	}
	return l.weight[id*l.cols : (id+1)*l.cols], nil
}

// Scorer is a bag-of-words classifier. It implements scorer.Scorer.
type Scorer struct {
	converter *features.Converter
	layer     *layer
}

var _ scorer.Scorer = &Scorer{}

// New creates a Scorer from the weights. The converter defines the vocabulary ids and
// the truncation of the inputs.
func New(weights *safetensors.Weights, converter *features.Converter) (*Scorer, error) {
	l, err := loadLayer(weights, EmbeddingsWeight, ClassifierBias)
	if err != nil {
		return nil, errors.WithMessage(err, "while loading linear scorer weights")
	}
	return &Scorer{converter: converter, layer: l}, nil
}

// NewFromFile is like New, with the weights read from a local .safetensors file.
func NewFromFile(path string, converter *features.Converter) (*Scorer, error) {
	l, err := openLayer(path, EmbeddingsWeight, ClassifierBias)
	if err != nil {
		return nil, errors.WithMessage(err, "while loading linear scorer weights")
	}
	return &Scorer{converter: converter, layer: l}, nil
}

// NumLabels returns the number of output labels.
func (s *Scorer) NumLabels() int {
	return s.layer.cols
}

// Score implements scorer.Scorer.
func (s *Scorer) Score(ctx context.Context, inputs []scorer.Input) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results := make([][]float32, len(inputs))
	for ii, in := range inputs {
		f := s.converter.Convert(in.Tokens, in.Pair)
		logits := make([]float32, s.layer.cols)
		var count float32
		for pos, id := range f.InputIDs {
			if f.InputMask[pos] == 0 {
				continue
			}
			row, err := s.layer.row(id)
			if err != nil {
				return nil, errors.WithMessagef(err, "input #%d", ii)
			}
			for jj, w := range row {
				logits[jj] += w
			}
			count++
		}
		for jj := range logits {
			logits[jj] = logits[jj]/count + s.layer.bias[jj]
		}
		results[ii] = scorer.Softmax(logits)
	}
	return results, nil
}

// TokenClassifier predicts which tokens to mask. It implements scorer.TokenClassifier.
type TokenClassifier struct {
	converter *features.Converter
	layer     *layer
}

var _ scorer.TokenClassifier = &TokenClassifier{}

// NewTokenClassifier creates a TokenClassifier from the weights.
func NewTokenClassifier(weights *safetensors.Weights, converter *features.Converter) (*TokenClassifier, error) {
	l, err := loadLayer(weights, TokenClassifierWeight, TokenClassifierBias)
	if err != nil {
		return nil, errors.WithMessage(err, "while loading token classifier weights")
	}
	return newTokenClassifier(l, converter)
}

func newTokenClassifier(l *layer, converter *features.Converter) (*TokenClassifier, error) {
	if l.cols != 2 {
		return nil, errors.Errorf("token classifier must have 2 outputs (keep, mask), got %d", l.cols)
	}
	return &TokenClassifier{converter: converter, layer: l}, nil
}

// NewTokenClassifierFromFile is like NewTokenClassifier, with the weights read from a local .safetensors file.
func NewTokenClassifierFromFile(path string, converter *features.Converter) (*TokenClassifier, error) {
	l, err := openLayer(path, TokenClassifierWeight, TokenClassifierBias)
	if err != nil {
		return nil, errors.WithMessage(err, "while loading token classifier weights")
	}
	return newTokenClassifier(l, converter)
}

// ClassifyTokens implements scorer.TokenClassifier. Tokens beyond the feature window are kept (label 0).
func (c *TokenClassifier) ClassifyTokens(ctx context.Context, sequences [][]string) ([][]scorer.TokenPrediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results := make([][]scorer.TokenPrediction, len(sequences))
	for ii, seq := range sequences {
		f := c.converter.Convert(seq, nil)
		preds := make([]scorer.TokenPrediction, len(seq))
		for pos := range min(len(seq), c.converter.Window(nil)) {
			row, err := c.layer.row(f.InputIDs[pos+1])
			if err != nil {
				return nil, errors.WithMessagef(err, "sequence #%d", ii)
			}
			logits := []float32{row[0] + c.layer.bias[0], row[1] + c.layer.bias[1]}
			label := scorer.ArgMax(logits)
			preds[pos] = scorer.TokenPrediction{Label: label, Logit: logits[label]}
		}
		results[ii] = preds
	}
	return results, nil
}

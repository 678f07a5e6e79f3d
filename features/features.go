// Package features converts token sequences to fixed-length BERT classifier features:
// "[CLS] a [SEP]" for single inputs and "[CLS] a [SEP] b [SEP]" for pairs, truncated and
// zero-padded to the maximum sequence length.
package features

import (
	"github.com/gomlx/go-saliency/tokenizers/api"
	"github.com/pkg/errors"
)

// Feature is the model input of one sequence. All slices have length MaxSeqLength.
type Feature struct {
	InputIDs   []int `json:"input_ids"`
	InputMask  []int `json:"input_mask"`
	SegmentIDs []int `json:"segment_ids"`
}

// Converter builds Features with a tokenizer's vocabulary.
type Converter struct {
	MaxSeqLength int

	cls, sep string
	toIDs    func(tokens []string) []int
}

// New creates a Converter for the given tokenizer. The tokenizer must define the classification
// and separator special tokens.
func New(tok api.Tokenizer, maxSeqLength int) (*Converter, error) {
	if maxSeqLength < 3 {
		return nil, errors.Errorf("max sequence length must be at least 3, got %d", maxSeqLength)
	}
	cls, err := tok.SpecialToken(api.TokClassification)
	if err != nil {
		return nil, errors.WithMessage(err, "features need a classification token")
	}
	sep, err := tok.SpecialToken(api.TokSeparator)
	if err != nil {
		return nil, errors.WithMessage(err, "features need a separator token")
	}
	return &Converter{
		MaxSeqLength: maxSeqLength,
		cls:          cls,
		sep:          sep,
		toIDs:        tok.ConvertTokensToIDs,
	}, nil
}

// Window returns how many tokens of the main sequence fit in a feature: MaxSeqLength-2 for
// single inputs, MaxSeqLength-3-len(pair) for pairs. It is never negative.
func (c *Converter) Window(pair []string) int {
	if pair == nil {
		return c.MaxSeqLength - 2
	}
	return max(0, c.MaxSeqLength-3-min(len(pair), c.MaxSeqLength-3))
}

// Tokens returns the truncated special-token framed sequence of the input and its segment ids.
//
// For pairs the pair (aspect) comes first, in segment 0, and tokens follow in segment 1.
func (c *Converter) Tokens(tokens, pair []string) (framed []string, segmentIDs []int) {
	if pair == nil {
		tokens = tokens[:min(len(tokens), c.Window(nil))]
		framed = make([]string, 0, len(tokens)+2)
		framed = append(framed, c.cls)
		framed = append(framed, tokens...)
		framed = append(framed, c.sep)
		return framed, make([]int, len(framed))
	}

	pair = pair[:min(len(pair), c.MaxSeqLength-3)]
	tokens = tokens[:min(len(tokens), c.Window(pair))]
	framed = make([]string, 0, len(pair)+len(tokens)+3)
	framed = append(framed, c.cls)
	framed = append(framed, pair...)
	framed = append(framed, c.sep)
	framed = append(framed, tokens...)
	framed = append(framed, c.sep)
	segmentIDs = make([]int, len(framed))
	for ii := len(pair) + 2; ii < len(framed); ii++ {
		segmentIDs[ii] = 1
	}
	return framed, segmentIDs
}

// Convert builds the Feature of tokens, optionally paired with pair (nil for single inputs).
//
// It panics if the constructed sequences don't match MaxSeqLength: that is a broken invariant and not
// a recoverable condition.
func (c *Converter) Convert(tokens, pair []string) Feature {
	framed, segmentIDs := c.Tokens(tokens, pair)
	inputIDs := c.toIDs(framed)
	inputMask := make([]int, len(inputIDs), max(len(inputIDs), c.MaxSeqLength))
	for ii := range inputMask {
		inputMask[ii] = 1
	}

	padding := c.MaxSeqLength - len(inputIDs)
	if padding > 0 {
		zeros := make([]int, padding)
		inputIDs = append(inputIDs, zeros...)
		inputMask = append(inputMask, zeros...)
		segmentIDs = append(segmentIDs, zeros...)
	}
	if len(inputIDs) != c.MaxSeqLength || len(inputMask) != c.MaxSeqLength || len(segmentIDs) != c.MaxSeqLength {
		panic(errors.Errorf("feature length mismatch: input_ids=%d, input_mask=%d, segment_ids=%d, max_seq_length=%d",
			len(inputIDs), len(inputMask), len(segmentIDs), c.MaxSeqLength))
	}
	return Feature{InputIDs: inputIDs, InputMask: inputMask, SegmentIDs: segmentIDs}
}

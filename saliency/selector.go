// Package saliency discovers, for sentences a classifier already labels correctly, the token
// positions that barely contribute to its confidence: those are the positions selected for masking.
//
// The Selector picks the most confidently and correctly classified sentences of each document,
// and a Probe finds the salient positions within them.
package saliency

import (
	"context"
	"slices"

	"github.com/gomlx/go-saliency/scorer"
	"github.com/pkg/errors"
)

// Sentence is a tokenized sentence with its provenance. It is never modified once created.
type Sentence struct {
	Tokens []string

	// Aspect is the pair (aspect) sequence for pair classification, nil otherwise.
	Aspect []string

	// Label is the ground-truth label index.
	Label int

	// Document is the index of the source document, and Position the index of the sentence
	// within the document's sentences.
	Document, Position int
}

// Input returns the scorer input of the sentence.
func (s Sentence) Input() scorer.Input {
	return scorer.Input{Tokens: s.Tokens, Pair: s.Aspect}
}

// Scored is a sentence with the classifier's output.
type Scored struct {
	Sentence
	Predicted     int
	Probabilities []float32
}

// Score is the probability of the ground-truth label.
func (s Scored) Score() float32 {
	return s.Probabilities[s.Label]
}

// Correct returns whether the prediction matches the ground truth.
func (s Scored) Correct() bool {
	return s.Predicted == s.Label
}

// Retained is a correctly classified sentence kept by the Selector.
type Retained struct {
	Scored

	// Rank within its document, 0 for the highest Score.
	Rank int
}

// Selector keeps, per document, the top fraction of correctly classified sentences.
type Selector struct {
	Scorer    scorer.Scorer
	BatchSize int

	// TopRate is the fraction of the correctly classified sentences of a document to keep.
	// At least one is always kept.
	TopRate float64
}

// ScoreAll scores all sentences, BatchSize at a time, in order.
func (s *Selector) ScoreAll(ctx context.Context, sentences []Sentence) ([]Scored, error) {
	inputs := make([]scorer.Input, len(sentences))
	for ii, sentence := range sentences {
		inputs[ii] = sentence.Input()
	}
	probs, err := scorer.Batched(ctx, inputs, s.BatchSize, s.Scorer.Score)
	if err != nil {
		return nil, errors.WithMessagef(err, "while scoring %d sentences", len(sentences))
	}
	scored := make([]Scored, len(sentences))
	for ii, sentence := range sentences {
		if sentence.Label < 0 || sentence.Label >= len(probs[ii]) {
			return nil, errors.Errorf("sentence %d of document %d: label %d out of range of the %d scorer labels",
				sentence.Position, sentence.Document, sentence.Label, len(probs[ii]))
		}
		scored[ii] = Scored{Sentence: sentence, Predicted: scorer.ArgMax(probs[ii]), Probabilities: probs[ii]}
	}
	return scored, nil
}

// Select scores the sentences of all documents (docs[i] holds the sentences of document i) and
// returns, per document, the retained sentences in their original order.
//
// Documents without correctly classified sentences get no retained sentences.
func (s *Selector) Select(ctx context.Context, docs [][]Sentence) ([][]Retained, error) {
	var all []Sentence
	for _, doc := range docs {
		all = append(all, doc...)
	}
	scored, err := s.ScoreAll(ctx, all)
	if err != nil {
		return nil, err
	}

	retained := make([][]Retained, len(docs))
	offset := 0
	for docIdx, doc := range docs {
		retained[docIdx] = s.selectTop(scored[offset : offset+len(doc)])
		offset += len(doc)
	}
	return retained, nil
}

// selectTop filters the correct sentences of one document and keeps the top ones.
func (s *Selector) selectTop(doc []Scored) []Retained {
	var correct []Retained
	for _, sc := range doc {
		if sc.Correct() {
			correct = append(correct, Retained{Scored: sc})
		}
	}
	if len(correct) == 0 {
		return nil
	}

	// Indices into correct, ranked by score, ties in original order.
	ranked := make([]int, len(correct))
	for ii := range ranked {
		ranked[ii] = ii
	}
	slices.SortStableFunc(ranked, func(a, b int) int {
		sa, sb := correct[a].Score(), correct[b].Score()
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		}
		return 0
	})

	keep := min(len(correct), max(1, int(s.TopRate*float64(len(correct)))))
	kept := make([]bool, len(correct))
	for rank, idx := range ranked[:keep] {
		correct[idx].Rank = rank
		kept[idx] = true
	}
	result := make([]Retained, 0, keep)
	for idx, r := range correct {
		if kept[idx] {
			result = append(result, r)
		}
	}
	return result
}

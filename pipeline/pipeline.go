// Package pipeline assembles masked-LM corpora from labeled documents, with one Generator per
// strategy:
//
//   - SC: sentence classification. Documents are split into sentences, and the retained sentences
//     are masked at their salient positions.
//   - ASC: aspect-pair classification. The whole text of each document is masked at the positions
//     salient for any of its (aspect, polarity) facts.
//   - ModelGen: a token classifier predicts the positions to mask, for every sentence.
//
// Every generator replicates the output DupeFactor times, each replica with its own random
// generator, in replica-major, then document, then sentence order.
package pipeline

import (
	"context"
	"math/rand/v2"

	"github.com/gomlx/go-saliency/masking"
	"github.com/gomlx/go-saliency/saliency"
	"github.com/gomlx/go-saliency/segment"
	"github.com/gomlx/go-saliency/tokenizers/api"
	"github.com/pkg/errors"
)

// ConflictPolarity marks facts that are skipped by ASC.
const ConflictPolarity = "conflict"

// Fact is an (aspect, polarity) annotation of an aspect document.
type Fact struct {
	Category string `json:"category,omitempty" parquet:"category"`
	Term     string `json:"term,omitempty" parquet:"term"`
	Polarity string `json:"polarity" parquet:"polarity"`
}

// Aspect returns the Category if set, otherwise the Term.
func (f Fact) Aspect() string {
	if f.Category != "" {
		return f.Category
	}
	return f.Term
}

// Record is one input document. SC uses Label, ASC uses Facts, and ModelGen only the Text.
type Record struct {
	Text  string `json:"text" parquet:"text"`
	Label string `json:"label,omitempty" parquet:"label"`
	Facts []Fact `json:"facts,omitempty" parquet:"facts"`
}

// Output of a Generator.
type Output struct {
	Documents []masking.Document

	// Random is the control corpus of ModelGen.WithRandom: same sentences and number of masked
	// positions, at random positions. Empty otherwise.
	Random []masking.Document
}

// NumInstances returns the total number of instances in the documents.
func NumInstances(docs []masking.Document) int {
	var n int
	for _, doc := range docs {
		n += len(doc.Instances)
	}
	return n
}

// Generator converts records to masked documents.
type Generator interface {
	Generate(ctx context.Context, records []Record) (*Output, error)
}

// Replicas configures the replication of the output.
type Replicas struct {
	// DupeFactor is the number of independently masked copies of the corpus.
	DupeFactor int

	// Seed of the random generators: replica r uses a PCG seeded with (Seed, r).
	Seed uint64
}

// RNG returns the random generator of the given replica.
func (r Replicas) RNG(replica int) *rand.Rand {
	return rand.New(rand.NewPCG(r.Seed, uint64(replica)))
}

func (r Replicas) validate() error {
	if r.DupeFactor < 1 {
		return errors.Errorf("dupe factor must be at least 1, got %d", r.DupeFactor)
	}
	return nil
}

// labelIndex maps label names to their index in labels.
func labelIndex(labels []string) (map[string]int, error) {
	if len(labels) == 0 {
		return nil, errors.New("no labels configured")
	}
	index := make(map[string]int, len(labels))
	for ii, label := range labels {
		if _, found := index[label]; found {
			return nil, errors.Errorf("label %q repeated", label)
		}
		index[label] = ii
	}
	return index, nil
}

// splitSentences segments and tokenizes every record: the result holds, per document, its sentences.
// labelOf returns the ground-truth label index of a record.
func splitSentences(tok api.Tokenizer, seg segment.Segmenter, records []Record,
	labelOf func(doc int, r Record) (int, error)) ([][]saliency.Sentence, error) {
	docs := make([][]saliency.Sentence, len(records))
	for docIdx, record := range records {
		label, err := labelOf(docIdx, record)
		if err != nil {
			return nil, err
		}
		for pos, text := range seg.Segment(record.Text) {
			docs[docIdx] = append(docs[docIdx], saliency.Sentence{
				Tokens:   tok.Tokenize(text),
				Label:    label,
				Document: docIdx,
				Position: pos,
			})
		}
	}
	return docs, nil
}

// countSentences returns the total number of sentences.
func countSentences(docs [][]saliency.Sentence) int {
	var n int
	for _, doc := range docs {
		n += len(doc)
	}
	return n
}

// maskWith builds an instance masking the salient positions, or, if complement is set, a random
// selection among the non-salient ones.
func maskWith(b *masking.Builder, complement bool, tokens []string, positions []int, rng *rand.Rand) masking.Instance {
	if complement {
		return b.BuildComplement(tokens, positions, rng)
	}
	return b.Build(tokens, positions, rng)
}

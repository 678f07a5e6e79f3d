package pipeline

import (
	"context"
	"slices"

	"github.com/gomlx/go-saliency/masking"
	"github.com/gomlx/go-saliency/saliency"
	"github.com/gomlx/go-saliency/tokenizers/api"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ASC generates masked documents for aspect-pair classification.
//
// Each fact of a document (except "conflict" ones) is an (aspect, text) pair labeled with its
// polarity. A fact whose aspect tokenizes to nothing is an error. All correctly classified pairs are probed, and each document is emitted as a single
// instance of its whole text, masked at the union of the salient positions of its pairs.
type ASC struct {
	Tokenizer api.Tokenizer

	// Selector scores the pairs. Its TopRate is not used: every correct pair is probed.
	Selector *saliency.Selector

	Probe   saliency.Probe
	Builder *masking.Builder

	// Labels are the polarity names, in the classifier's label order.
	Labels []string

	Replicas

	// Complement masks random non-salient positions instead of the salient ones.
	Complement bool
}

var _ Generator = &ASC{}

// Generate implements Generator.
func (g *ASC) Generate(ctx context.Context, records []Record) (*Output, error) {
	if err := g.Replicas.validate(); err != nil {
		return nil, err
	}
	labels, err := labelIndex(g.Labels)
	if err != nil {
		return nil, err
	}

	texts := make([][]string, len(records))
	var pairs []saliency.Sentence
	for docIdx, record := range records {
		texts[docIdx] = g.Tokenizer.Tokenize(record.Text)
		for factIdx, fact := range record.Facts {
			if fact.Polarity == ConflictPolarity {
				continue
			}
			label, found := labels[fact.Polarity]
			if !found {
				return nil, errors.Errorf("document %d, fact %d: unknown polarity %q", docIdx, factIdx, fact.Polarity)
			}
			aspect := g.Tokenizer.Tokenize(fact.Aspect())
			if len(aspect) == 0 {
				return nil, errors.Errorf("document %d, fact %d: empty aspect (no category nor term)", docIdx, factIdx)
			}
			pairs = append(pairs, saliency.Sentence{
				Tokens:   texts[docIdx],
				Aspect:   aspect,
				Label:    label,
				Document: docIdx,
				Position: factIdx,
			})
		}
	}
	klog.Infof("ASC: %d documents, %d aspect pairs", len(records), len(pairs))

	scored, err := g.Selector.ScoreAll(ctx, pairs)
	if err != nil {
		return nil, err
	}
	var targets []saliency.Target
	for _, s := range scored {
		if s.Correct() {
			targets = append(targets, saliency.TargetOf(saliency.Retained{Scored: s}))
		}
	}
	klog.Infof("ASC: %d aspect pairs correctly classified", len(targets))

	positions, err := g.Probe.Discover(ctx, targets)
	if err != nil {
		return nil, err
	}
	salient := make([][]int, len(records))
	for ii, t := range targets {
		salient[t.Group] = append(salient[t.Group], positions[ii]...)
	}
	for docIdx := range salient {
		slices.Sort(salient[docIdx])
		salient[docIdx] = slices.Compact(salient[docIdx])
	}

	output := &Output{Documents: make([]masking.Document, 0, g.DupeFactor*len(records))}
	for replica := range g.DupeFactor {
		rng := g.RNG(replica)
		for docIdx, tokens := range texts {
			output.Documents = append(output.Documents, masking.Document{
				Replica:   replica,
				Index:     docIdx,
				Instances: []masking.Instance{maskWith(g.Builder, g.Complement, tokens, salient[docIdx], rng)},
			})
		}
	}
	return output, nil
}

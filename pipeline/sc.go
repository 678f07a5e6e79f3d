package pipeline

import (
	"context"

	"github.com/gomlx/go-saliency/masking"
	"github.com/gomlx/go-saliency/saliency"
	"github.com/gomlx/go-saliency/segment"
	"github.com/gomlx/go-saliency/tokenizers/api"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SC generates masked documents for sentence classification.
//
// Every sentence of every document is emitted: retained sentences masked at their salient
// positions, the others unmasked.
type SC struct {
	Tokenizer api.Tokenizer
	Segmenter segment.Segmenter
	Selector  *saliency.Selector
	Probe     saliency.Probe
	Builder   *masking.Builder

	// Labels are the label names, in the classifier's label order.
	Labels []string

	Replicas

	// Complement masks random non-salient positions instead of the salient ones.
	Complement bool
}

var _ Generator = &SC{}

// Generate implements Generator.
func (g *SC) Generate(ctx context.Context, records []Record) (*Output, error) {
	if err := g.Replicas.validate(); err != nil {
		return nil, err
	}
	labels, err := labelIndex(g.Labels)
	if err != nil {
		return nil, err
	}
	docs, err := splitSentences(g.Tokenizer, g.Segmenter, records, func(docIdx int, r Record) (int, error) {
		label, found := labels[r.Label]
		if !found {
			return 0, errors.Errorf("document %d: unknown label %q", docIdx, r.Label)
		}
		return label, nil
	})
	if err != nil {
		return nil, err
	}
	klog.Infof("SC: %d documents, %d sentences", len(docs), countSentences(docs))

	retained, err := g.Selector.Select(ctx, docs)
	if err != nil {
		return nil, err
	}
	var targets []saliency.Target
	var owners []saliency.Sentence
	for _, doc := range retained {
		for _, r := range doc {
			targets = append(targets, saliency.TargetOf(r))
			owners = append(owners, r.Sentence)
		}
	}
	klog.Infof("SC: %d sentences retained for probing", len(targets))

	positions, err := g.Probe.Discover(ctx, targets)
	if err != nil {
		return nil, err
	}
	salient := make([][]saliency.Positions, len(docs))
	for docIdx, doc := range docs {
		salient[docIdx] = make([]saliency.Positions, len(doc))
	}
	for ii, s := range owners {
		salient[s.Document][s.Position] = positions[ii]
	}

	output := &Output{Documents: make([]masking.Document, 0, g.DupeFactor*len(docs))}
	for replica := range g.DupeFactor {
		rng := g.RNG(replica)
		for docIdx, doc := range docs {
			masked := masking.Document{Replica: replica, Index: docIdx, Instances: make([]masking.Instance, len(doc))}
			for pos, sentence := range doc {
				masked.Instances[pos] = maskWith(g.Builder, g.Complement, sentence.Tokens, salient[docIdx][pos], rng)
			}
			output.Documents = append(output.Documents, masked)
		}
	}
	return output, nil
}

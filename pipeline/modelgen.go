package pipeline

import (
	"context"

	"github.com/gomlx/go-saliency/masking"
	"github.com/gomlx/go-saliency/saliency"
	"github.com/gomlx/go-saliency/segment"
	"github.com/gomlx/go-saliency/tokenizers/api"
	"k8s.io/klog/v2"
)

// ModelGen generates masked documents from the predictions of a token classifier: every sentence
// is emitted, masked at the positions its Probe selects. Stop words are not filtered, the
// classifier already decides what to mask.
type ModelGen struct {
	Tokenizer api.Tokenizer
	Segmenter segment.Segmenter
	Probe     saliency.Probe
	Builder   *masking.Builder

	Replicas

	// WithRandom also generates the Output.Random control corpus.
	WithRandom bool
}

var _ Generator = &ModelGen{}

// Generate implements Generator. Record labels are ignored.
func (g *ModelGen) Generate(ctx context.Context, records []Record) (*Output, error) {
	if err := g.Replicas.validate(); err != nil {
		return nil, err
	}
	docs, err := splitSentences(g.Tokenizer, g.Segmenter, records, func(int, Record) (int, error) { return 0, nil })
	if err != nil {
		return nil, err
	}
	var targets []saliency.Target
	for _, doc := range docs {
		for _, sentence := range doc {
			targets = append(targets, saliency.Target{Tokens: sentence.Tokens, Group: sentence.Document})
		}
	}
	klog.Infof("ModelGen: %d documents, %d sentences", len(docs), len(targets))

	positions, err := g.Probe.Discover(ctx, targets)
	if err != nil {
		return nil, err
	}

	builder := *g.Builder
	builder.StopWords = nil
	output := &Output{Documents: make([]masking.Document, 0, g.DupeFactor*len(docs))}
	for replica := range g.DupeFactor {
		rng := g.RNG(replica)
		next := 0
		for docIdx, doc := range docs {
			masked := masking.Document{Replica: replica, Index: docIdx, Instances: make([]masking.Instance, len(doc))}
			random := masking.Document{Replica: replica, Index: docIdx}
			for pos, sentence := range doc {
				salient := positions[next]
				next++
				masked.Instances[pos] = builder.Build(sentence.Tokens, salient, rng)
				if g.WithRandom {
					randomPositions := masking.RandomPositions(len(sentence.Tokens), len(salient), rng)
					random.Instances = append(random.Instances, builder.Build(sentence.Tokens, randomPositions, rng))
				}
			}
			output.Documents = append(output.Documents, masked)
			if g.WithRandom {
				output.Random = append(output.Random, random)
			}
		}
	}
	return output, nil
}

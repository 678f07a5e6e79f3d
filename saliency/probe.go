package saliency

import (
	"context"
	"slices"

	"github.com/gomlx/go-saliency/masking"
	"github.com/gomlx/go-saliency/scorer"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Variant of a Probe.
type Variant int

const (
	// IterativeThreshold probes grow a prefix of each sentence and re-score it every round.
	IterativeThreshold Variant = iota

	// TokenClassifier probes ask a token classifier which positions to mask, in a single pass.
	TokenClassifier
)

// String implements fmt.Stringer.
func (v Variant) String() string {
	switch v {
	case IterativeThreshold:
		return "IterativeThreshold"
	case TokenClassifier:
		return "TokenClassifier"
	}
	return "Variant(?)"
}

// Target is a sentence to probe.
type Target struct {
	Tokens []string
	Aspect []string
	Label  int

	// FullScore is the ground-truth label probability of the whole sentence.
	FullScore float32

	// Group of targets sharing salient positions (the document, for aspect pairs).
	Group int
}

// TargetOf returns the probe Target of a retained sentence.
func TargetOf(r Retained) Target {
	return Target{
		Tokens:    r.Tokens,
		Aspect:    r.Aspect,
		Label:     r.Label,
		FullScore: r.Score(),
		Group:     r.Document,
	}
}

// Positions are salient token positions, ascending and without repetitions.
type Positions []int

// Probe discovers the salient positions of each target. The result has one entry per target.
type Probe interface {
	Variant() Variant
	Discover(ctx context.Context, targets []Target) ([]Positions, error)
}

// ThresholdProbe implements the iterative probe: starting with the first token, each round scores
// the current prefix of every alive sentence, and the position being tested is salient if
//
//	FullScore - prefixScore < Threshold
//
// that is, if with it the prefix already scores close to the whole sentence. A salient token is
// removed from the prefix. Then the next token is appended, or the sentence is done.
//
// Only the first MaxPositions positions are tested: positions past the scorer's Window are never
// salient.
type ThresholdProbe struct {
	Scorer    scorer.Scorer
	BatchSize int
	Threshold float32

	// Window, if set, returns how many tokens of a sentence (paired with aspect) the scorer sees.
	// Positions beyond it are never tested.
	Window func(aspect []string) int
}

var _ Probe = &ThresholdProbe{}

// Variant implements Probe.
func (p *ThresholdProbe) Variant() Variant { return IterativeThreshold }

// probeCursor is the state of one sentence during probing. The prefix is the tokens at the kept
// positions; pos is the position tested in the current round, always the last kept one.
type probeCursor struct {
	target int
	limit  int
	kept   []int
	pos    int
	alive  bool
}

func (c *probeCursor) prefix(tokens []string) []string {
	prefix := make([]string, len(c.kept))
	for ii, pos := range c.kept {
		prefix[ii] = tokens[pos]
	}
	return prefix
}

// advance records the outcome of the current round and moves to the next position.
func (c *probeCursor) advance(salient bool) {
	if salient {
		c.kept = c.kept[:len(c.kept)-1]
	}
	if c.pos+1 < c.limit {
		c.pos++
		c.kept = append(c.kept, c.pos)
		return
	}
	c.alive = false
}

// MaxPositions returns the number of positions of the target that are tested.
func (p *ThresholdProbe) MaxPositions(t Target) int {
	if p.Window == nil {
		return len(t.Tokens)
	}
	return min(len(t.Tokens), max(0, p.Window(t.Aspect)))
}

// Discover implements Probe.
func (p *ThresholdProbe) Discover(ctx context.Context, targets []Target) ([]Positions, error) {
	results := make([]Positions, len(targets))
	cursors := make([]*probeCursor, 0, len(targets))
	for ii, t := range targets {
		limit := p.MaxPositions(t)
		if limit == 0 {
			continue
		}
		cursors = append(cursors, &probeCursor{target: ii, limit: limit, kept: []int{0}, alive: true})
	}

	for round := 0; len(cursors) > 0; round++ {
		inputs := make([]scorer.Input, len(cursors))
		for ii, c := range cursors {
			t := targets[c.target]
			inputs[ii] = scorer.Input{Tokens: c.prefix(t.Tokens), Pair: t.Aspect}
		}
		probs, err := scorer.Batched(ctx, inputs, p.BatchSize, p.Scorer.Score)
		if err != nil {
			return nil, errors.WithMessagef(err, "probe round %d", round)
		}

		numSalient := 0
		alive := cursors[:0]
		for ii, c := range cursors {
			t := targets[c.target]
			if t.Label < 0 || t.Label >= len(probs[ii]) {
				return nil, errors.Errorf("probe round %d: label %d out of range of the %d scorer labels", round, t.Label, len(probs[ii]))
			}
			drop := t.FullScore - probs[ii][t.Label]
			salient := drop < p.Threshold
			if salient {
				results[c.target] = append(results[c.target], c.pos)
				numSalient++
			}
			c.advance(salient)
			if c.alive {
				alive = append(alive, c)
			}
		}
		klog.V(1).Infof("probe round %d: %d sentences scored, %d salient, %d still alive", round, len(inputs), numSalient, len(alive))
		cursors = alive
	}
	return results, nil
}

// AspectProbe runs a ThresholdProbe on aspect pairs, and merges the salient positions of all
// targets of the same Group: every target gets the union of its group's positions.
type AspectProbe struct {
	ThresholdProbe
}

var _ Probe = &AspectProbe{}

// Discover implements Probe.
func (p *AspectProbe) Discover(ctx context.Context, targets []Target) ([]Positions, error) {
	perTarget, err := p.ThresholdProbe.Discover(ctx, targets)
	if err != nil {
		return nil, err
	}
	groups := make(map[int]Positions)
	for ii, t := range targets {
		groups[t.Group] = append(groups[t.Group], perTarget[ii]...)
	}
	for group, positions := range groups {
		slices.Sort(positions)
		groups[group] = slices.Compact(positions)
	}
	results := make([]Positions, len(targets))
	for ii, t := range targets {
		results[ii] = slices.Clone(groups[t.Group])
	}
	return results, nil
}

// TokenClassifierProbe selects, per sentence, the positions a token classifier predicts as "mask"
// (label 1), ranked by logit, keeping at most max(1, floor(MaskRate*len)).
type TokenClassifierProbe struct {
	Classifier scorer.TokenClassifier
	MaskRate   float64
}

var _ Probe = &TokenClassifierProbe{}

// Variant implements Probe.
func (p *TokenClassifierProbe) Variant() Variant { return TokenClassifier }

// Discover implements Probe. Label and FullScore of the targets are not used.
func (p *TokenClassifierProbe) Discover(ctx context.Context, targets []Target) ([]Positions, error) {
	sequences := make([][]string, len(targets))
	for ii, t := range targets {
		sequences[ii] = t.Tokens
	}
	preds, err := p.Classifier.ClassifyTokens(ctx, sequences)
	if err != nil {
		return nil, errors.WithMessagef(err, "while classifying tokens of %d sentences", len(sequences))
	}
	if len(preds) != len(targets) {
		return nil, errors.Errorf("token classifier returned %d results for %d sentences", len(preds), len(targets))
	}

	results := make([]Positions, len(targets))
	for ii, t := range targets {
		if len(preds[ii]) != len(t.Tokens) {
			return nil, errors.Errorf("token classifier returned %d predictions for a sentence of %d tokens", len(preds[ii]), len(t.Tokens))
		}
		var candidates []int
		for pos, pred := range preds[ii] {
			if pred.Label == 1 {
				candidates = append(candidates, pos)
			}
		}
		slices.SortStableFunc(candidates, func(a, b int) int {
			la, lb := preds[ii][a].Logit, preds[ii][b].Logit
			switch {
			case la > lb:
				return -1
			case la < lb:
				return 1
			}
			return 0
		})
		selected := candidates[:min(len(candidates), masking.MaxMasked(len(t.Tokens), p.MaskRate))]
		slices.Sort(selected)
		results[ii] = Positions(selected)
	}
	return results, nil
}

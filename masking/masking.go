// Package masking builds masked-LM training instances from token sequences and the positions
// selected for masking.
//
// Each selected position is corrupted with the usual masked-LM policy: 80% of the time it is
// replaced by the mask token, 10% it keeps the original token and 10% it gets a token drawn
// uniformly from the vocabulary. The original token is kept as the label.
package masking

import (
	"math/rand/v2"
	"slices"

	"github.com/gomlx/go-saliency/stopwords"
	"github.com/gomlx/go-saliency/tokenizers/api"
	"github.com/pkg/errors"
)

// Masking policy probabilities.
const (
	MaskProbability = 0.8
	KeepProbability = 0.5 // Of the remaining 20%, the fraction that keeps the original token.
)

// MaskedItemInfo describes the masking of one token position. The zero value means unmasked.
type MaskedItemInfo struct {
	// Replacement is the token fed to the model: the mask token, the original token or a random token.
	Replacement string `json:"mask,omitempty" cbor:"mask,omitempty"`

	// Label is the original token, the prediction target.
	Label string `json:"label,omitempty" cbor:"label,omitempty"`
}

// Masked returns whether the position is masked.
func (m MaskedItemInfo) Masked() bool {
	return m.Label != ""
}

// Instance is a token sequence with its masking information, one MaskedItemInfo per token.
type Instance struct {
	Tokens []string
	Info   []MaskedItemInfo
}

// MaskedPositions returns the masked positions in ascending order.
func (inst Instance) MaskedPositions() []int {
	var positions []int
	for pos, info := range inst.Info {
		if info.Masked() {
			positions = append(positions, pos)
		}
	}
	return positions
}

// InputTokens returns the tokens with the replacements applied.
func (inst Instance) InputTokens() []string {
	tokens := slices.Clone(inst.Tokens)
	for pos, info := range inst.Info {
		if info.Masked() {
			tokens[pos] = info.Replacement
		}
	}
	return tokens
}

// Document is the ordered list of instances generated from one source document.
type Document struct {
	// Replica is the index of the independent masking draw, in [0, DupeFactor).
	Replica int

	// Index of the source document in the input.
	Index int

	Instances []Instance
}

// Builder creates Instances. It is stateless, randomness comes from the *rand.Rand passed to each call.
type Builder struct {
	// MaskToken is the literal mask marker, e.g. "[MASK]".
	MaskToken string

	// Vocabulary from which random replacements are drawn.
	Vocabulary []string

	// StopWords, if set, are never masked by Build.
	StopWords stopwords.Predicate

	// MaskRate is the fraction of tokens masked by BuildComplement.
	MaskRate float64
}

// NewBuilder creates a Builder with the tokenizer's mask token and vocabulary.
func NewBuilder(tok api.Tokenizer, stops stopwords.Predicate, maskRate float64) (*Builder, error) {
	maskToken, err := tok.SpecialToken(api.TokMask)
	if err != nil {
		return nil, errors.WithMessage(err, "masking requires a mask token")
	}
	vocab := tok.Vocabulary()
	if len(vocab) == 0 {
		return nil, errors.New("masking requires a non-empty vocabulary")
	}
	return &Builder{
		MaskToken:  maskToken,
		Vocabulary: vocab,
		StopWords:  stops,
		MaskRate:   maskRate,
	}, nil
}

// Unmasked returns an Instance with no masked positions.
func (b *Builder) Unmasked(tokens []string) Instance {
	return Instance{Tokens: tokens, Info: make([]MaskedItemInfo, len(tokens))}
}

// Build masks the given positions of tokens, in ascending order, skipping stop words.
//
// Duplicated positions are masked once. It panics if a position is out of range.
func (b *Builder) Build(tokens []string, positions []int, rng *rand.Rand) Instance {
	inst := b.Unmasked(tokens)
	for _, pos := range sortedUnique(positions) {
		if pos < 0 || pos >= len(tokens) {
			panic(errors.Errorf("mask position %d out of range for %d tokens", pos, len(tokens)))
		}
		if b.StopWords != nil && b.StopWords.IsStop(tokens[pos]) {
			continue
		}
		inst.Info[pos] = b.corrupt(tokens[pos], rng)
	}
	return inst
}

// BuildComplement masks max(1, floor(MaskRate*len(tokens))) positions drawn at random among those
// *not* in positions (fewer if not enough remain). Stop words are not excluded.
func (b *Builder) BuildComplement(tokens []string, positions []int, rng *rand.Rand) Instance {
	inst := b.Unmasked(tokens)
	excluded := make(map[int]bool, len(positions))
	for _, pos := range positions {
		excluded[pos] = true
	}
	candidates := make([]int, 0, len(tokens))
	for pos := range tokens {
		if !excluded[pos] {
			candidates = append(candidates, pos)
		}
	}
	rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	candidates = candidates[:min(len(candidates), MaxMasked(len(tokens), b.MaskRate))]
	for _, pos := range candidates {
		inst.Info[pos] = b.corrupt(tokens[pos], rng)
	}
	return inst
}

// corrupt applies the 80/10/10 policy to one token.
func (b *Builder) corrupt(token string, rng *rand.Rand) MaskedItemInfo {
	replacement := b.MaskToken
	if rng.Float64() >= MaskProbability {
		if rng.Float64() < KeepProbability {
			replacement = token
		} else {
			replacement = b.Vocabulary[rng.IntN(len(b.Vocabulary))]
		}
	}
	return MaskedItemInfo{Replacement: replacement, Label: token}
}

// MaxMasked returns max(1, floor(rate*n)).
func MaxMasked(n int, rate float64) int {
	return max(1, int(rate*float64(n)))
}

// RandomPositions returns min(k, n) distinct positions in [0, n), in random order.
func RandomPositions(n, k int, rng *rand.Rand) []int {
	positions := rng.Perm(n)
	return positions[:min(max(k, 0), n)]
}

func sortedUnique(positions []int) []int {
	sorted := slices.Clone(positions)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}

// Package api defines the Tokenizer API consumed by the saliency pipeline.
// It's kept separate from the implementations to break the cyclic dependency, and allow the users
// to import `tokenizers` and get the default implementations.
package api

import "fmt"

// Tokenizer converts text to token strings, and exposes the ordered vocabulary.
//
// Token strings (and not ids) flow through the saliency pipeline: masked instances carry the
// original and replacement tokens, and random substitutions index into Vocabulary().
type Tokenizer interface {
	// Tokenize splits text into tokens (word-pieces for WordPiece models).
	Tokenize(text string) []string

	// ConvertTokensToIDs maps tokens to their vocabulary ids. Unknown tokens map to the
	// unknown-token id.
	ConvertTokensToIDs(tokens []string) []int

	// Vocabulary returns all tokens ordered by id. The returned slice must not be modified.
	Vocabulary() []string

	// SpecialToken returns the token string for the given special token, or an error if
	// the tokenizer doesn't define it.
	SpecialToken(token SpecialToken) (string, error)
}

// SpecialToken is an enum of commonly used special tokens.
type SpecialToken int

const (
	TokBeginningOfSentence SpecialToken = iota
	TokEndOfSentence
	TokUnknown
	TokPad
	TokMask
	TokClassification
	TokSeparator
	TokSpecialTokensCount
)

var specialTokenNames = [...]string{
	"beginning_of_sentence",
	"end_of_sentence",
	"unknown",
	"pad",
	"mask",
	"classification",
	"separator",
}

// String implements fmt.Stringer.
func (t SpecialToken) String() string {
	if t < 0 || int(t) >= len(specialTokenNames) {
		return fmt.Sprintf("SpecialToken(%d)", int(t))
	}
	return specialTokenNames[t]
}

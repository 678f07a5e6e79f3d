// Package sentencepiece implements an api.Tokenizer based on a SentencePiece model file
// ("tokenizer.model", a serialized SentencePiece ModelProto).
package sentencepiece

import (
	"os"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/go-saliency/tokenizers/api"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Tokenizer implements api.Tokenizer interface based on SentencePiece tokenizer by Google.
type Tokenizer struct {
	*esentencepiece.Processor
	Info *esentencepiece.ModelInfo

	pieces  []string
	pieceID map[string]int
}

// Compile time assert that sentencepiece.Tokenizer implements api.Tokenizer interface.
var _ api.Tokenizer = &Tokenizer{}

// NewFromFile creates a SentencePiece tokenizer from a local "tokenizer.model" file.
func NewFromFile(modelPath string) (*Tokenizer, error) {
	proc, err := esentencepiece.NewProcessorFromPath(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "can't create sentencepiece tokenizer from %q", modelPath)
	}
	content, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", modelPath)
	}
	pieces, err := parsePieces(content)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading the vocabulary of %q", modelPath)
	}
	pieceID := make(map[string]int, len(pieces))
	for id, piece := range pieces {
		if _, found := pieceID[piece]; !found {
			pieceID[piece] = id
		}
	}
	return &Tokenizer{
		Processor: proc,
		Info:      proc.ModelInfo(),
		pieces:    pieces,
		pieceID:   pieceID,
	}, nil
}

// parsePieces extracts the piece strings, in id order, from a serialized ModelProto.
//
// ModelProto.pieces is field 1 (repeated SentencePiece), and SentencePiece.piece is field 1 (string).
func parsePieces(b []byte) ([]string, error) {
	var pieces []string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "invalid ModelProto tag")
		}
		b = b[n:]
		if num == 1 && typ == protowire.BytesType {
			msg, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, errors.Wrap(protowire.ParseError(m), "invalid SentencePiece message")
			}
			piece, err := parsePiece(msg)
			if err != nil {
				return nil, errors.WithMessagef(err, "piece #%d", len(pieces))
			}
			pieces = append(pieces, piece)
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return nil, errors.Wrapf(protowire.ParseError(m), "invalid ModelProto field %d", num)
		}
		b = b[m:]
	}
	if len(pieces) == 0 {
		return nil, errors.New("model has no pieces")
	}
	return pieces, nil
}

func parsePiece(b []byte) (string, error) {
	var piece string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", protowire.ParseError(n)
		}
		b = b[n:]
		if num == 1 && typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return "", protowire.ParseError(m)
			}
			piece = string(v)
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return "", protowire.ParseError(m)
		}
		b = b[m:]
	}
	return piece, nil
}

// Tokenize returns the text split into SentencePiece pieces.
func (p *Tokenizer) Tokenize(text string) []string {
	tokens := p.Processor.Encode(text)
	return sliceMap(tokens, func(t esentencepiece.Token) string { return t.Text })
}

// ConvertTokensToIDs maps pieces to their ids, unknown pieces map to the model's unknown id.
func (p *Tokenizer) ConvertTokensToIDs(tokens []string) []int {
	return sliceMap(tokens, func(t string) int {
		if id, ok := p.pieceID[t]; ok {
			return id
		}
		return p.Info.UnknownID
	})
}

// Vocabulary returns all pieces ordered by id.
func (p *Tokenizer) Vocabulary() []string {
	return p.pieces
}

// SpecialToken returns the piece for the given symbol, or an error if not known.
func (p *Tokenizer) SpecialToken(token api.SpecialToken) (string, error) {
	byID := func(id int) (string, error) {
		if id < 0 || id >= len(p.pieces) {
			return "", errors.Errorf("special token %s not defined by the model", token)
		}
		return p.pieces[id], nil
	}
	switch token {
	case api.TokUnknown:
		return byID(p.Info.UnknownID)
	case api.TokPad:
		return byID(p.Info.PadID)
	case api.TokBeginningOfSentence, api.TokClassification:
		return byID(p.Info.BeginningOfSentenceID)
	case api.TokEndOfSentence, api.TokSeparator:
		return byID(p.Info.EndOfSentenceID)
	case api.TokMask:
		for _, candidate := range []string{"<mask>", "[MASK]"} {
			if _, ok := p.pieceID[candidate]; ok {
				return candidate, nil
			}
		}
	}
	return "", errors.Errorf("unknown special token: %s (%d)", token, int(token))
}

// sliceMap executes the given function sequentially for every element on in, and returns a mapped slice.
func sliceMap[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

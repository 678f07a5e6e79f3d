// Package tokenizers creates an api.Tokenizer from a local file, a local directory or a
// HuggingFace hub repository.
//
// Supported files, in order of preference: "tokenizer.json" (WordPiece models), "vocab.txt"
// (BERT vocabulary, one token per line) and "tokenizer.model" (SentencePiece).
package tokenizers

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-saliency/hub"
	"github.com/gomlx/go-saliency/tokenizers/api"
	"github.com/gomlx/go-saliency/tokenizers/hftokenizer"
	"github.com/gomlx/go-saliency/tokenizers/sentencepiece"
	"github.com/pkg/errors"
)

// KnownFiles lists the tokenizer files looked for in directories and repositories, in order of preference.
var KnownFiles = []string{"tokenizer.json", "vocab.txt", "tokenizer.model"}

// New creates a tokenizer from source, which can be a tokenizer file, a directory holding one of
// the KnownFiles or, if no such path exists, a HuggingFace repository id.
//
// lowercase only applies to "vocab.txt" files, "tokenizer.json" carries its own normalizer configuration.
func New(source string, lowercase bool) (api.Tokenizer, error) {
	info, err := os.Stat(source)
	switch {
	case err == nil && !info.IsDir():
		return NewFromFile(source, lowercase)
	case err == nil && info.IsDir():
		for _, name := range KnownFiles {
			p := filepath.Join(source, name)
			if _, err := os.Stat(p); err == nil {
				return NewFromFile(p, lowercase)
			}
		}
		return nil, errors.Errorf("no tokenizer file (%s) found in directory %q", strings.Join(KnownFiles, ", "), source)
	}
	return NewFromRepo(hub.New(source), lowercase)
}

// NewFromFile creates a tokenizer based on the name of the file.
func NewFromFile(path string, lowercase bool) (api.Tokenizer, error) {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, ".json"):
		return hftokenizer.NewFromFile(path)
	case strings.HasSuffix(base, ".model"):
		return sentencepiece.NewFromFile(path)
	case strings.HasSuffix(base, ".txt"):
		return hftokenizer.NewFromVocabFile(path, lowercase)
	}
	return nil, errors.Errorf("unknown tokenizer file type %q, expected one of %s", path, strings.Join(KnownFiles, ", "))
}

// NewFromRepo downloads the first of the KnownFiles present in the repository and creates the tokenizer from it.
func NewFromRepo(repo *hub.Repo, lowercase bool) (api.Tokenizer, error) {
	for _, name := range KnownFiles {
		if !repo.HasFile(name) {
			continue
		}
		localPath, err := repo.DownloadFile(name)
		if err != nil {
			return nil, err
		}
		tok, err := NewFromFile(localPath, lowercase)
		if err != nil {
			return nil, errors.WithMessagef(err, "while loading tokenizer of %s", repo)
		}
		return tok, nil
	}
	// Surface listing errors, if any.
	for _, err := range repo.IterFileNames() {
		if err != nil {
			return nil, errors.WithMessagef(err, "while looking for a tokenizer in %s", repo)
		}
	}
	return nil, errors.Errorf("repository %s has none of the tokenizer files %s", repo, strings.Join(KnownFiles, ", "))
}

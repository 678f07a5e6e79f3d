// Package hftokenizer implements a WordPiece tokenizer for HuggingFace's tokenizer.json format,
// as well as for the plain BERT "vocab.txt" files (one token per line, the line number is the id).
//
// Only the WordPiece model (BERT family) is supported: the saliency pipeline works on word-piece
// strings, and the random substitutions of the masking policy are drawn from its vocabulary.
package hftokenizer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/gomlx/go-saliency/tokenizers/api"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// TokenizerJSON represents the subset of HuggingFace's tokenizer.json file used here.
type TokenizerJSON struct {
	Version      string        `json:"version"`
	AddedTokens  []AddedToken  `json:"added_tokens"`
	Normalizer   *Normalizer   `json:"normalizer"`
	PreTokenizer *PreTokenizer `json:"pre_tokenizer"`
	Model        Model         `json:"model"`
}

// AddedToken represents a special token added to the vocabulary.
type AddedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

// Normalizer represents the normalizer configuration.
type Normalizer struct {
	Type               string       `json:"type"`
	Lowercase          bool         `json:"lowercase"`
	StripAccents       *bool        `json:"strip_accents"`
	CleanText          *bool        `json:"clean_text"`
	HandleChineseChars *bool        `json:"handle_chinese_chars"`
	Normalizers        []Normalizer `json:"normalizers"`
}

// PreTokenizer represents the pre-tokenizer configuration.
type PreTokenizer struct {
	Type          string         `json:"type"`
	PreTokenizers []PreTokenizer `json:"pretokenizers"`
}

// Model represents the tokenizer model. Only "WordPiece" is accepted.
type Model struct {
	Type                    string         `json:"type"`
	Vocab                   map[string]int `json:"vocab"`
	UnkToken                string         `json:"unk_token"`
	ContinuingSubwordPrefix string         `json:"continuing_subword_prefix"`
	MaxInputCharsPerWord    int            `json:"max_input_chars_per_word"`
}

// Tokenizer implements api.Tokenizer for WordPiece vocabularies.
type Tokenizer struct {
	normalizer   *Normalizer
	preTokenizer *PreTokenizer

	vocab      map[string]int
	vocabList  []string // Tokens ordered by id.
	unkToken   string
	prefix     string
	maxChars   int
	neverSplit map[string]bool // Special tokens are never normalized or split.
}

// Compile time assert that Tokenizer implements api.Tokenizer interface.
var _ api.Tokenizer = &Tokenizer{}

// NewFromFile creates a tokenizer from a local tokenizer.json file path.
func NewFromFile(filePath string) (*Tokenizer, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tokenizer.json file %q", filePath)
	}
	return NewFromContent(content)
}

// NewFromContent creates a tokenizer from tokenizer.json content.
func NewFromContent(content []byte) (*Tokenizer, error) {
	var tj TokenizerJSON
	if err := json.Unmarshal(content, &tj); err != nil {
		return nil, errors.Wrapf(err, "failed to parse tokenizer.json")
	}
	if tj.Model.Type != "WordPiece" {
		return nil, errors.Errorf("tokenizer model type %q not supported, only WordPiece", tj.Model.Type)
	}
	vocab := make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens))
	for token, id := range tj.Model.Vocab {
		vocab[token] = id
	}
	neverSplit := make(map[string]bool)
	for _, at := range tj.AddedTokens {
		vocab[at.Content] = at.ID
		if at.Special {
			neverSplit[at.Content] = true
		}
	}
	t := newTokenizer(vocab, tj.Model.UnkToken, tj.Model.ContinuingSubwordPrefix, tj.Model.MaxInputCharsPerWord)
	t.normalizer = tj.Normalizer
	t.preTokenizer = tj.PreTokenizer
	for token := range neverSplit {
		t.neverSplit[token] = true
	}
	return t, nil
}

// NewFromVocabFile creates a BERT tokenizer from a "vocab.txt" file: one token per line, where
// the line number (0-based) is the token id.
//
// If lowercase is set, text is lower-cased and accents are stripped before tokenization, as for
// the "uncased" BERT models.
func NewFromVocabFile(filePath string, lowercase bool) (*Tokenizer, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read vocabulary file %q", filePath)
	}
	return NewFromVocab(content, lowercase)
}

// NewFromVocab is like NewFromVocabFile, but takes the contents of the vocabulary file.
func NewFromVocab(content []byte, lowercase bool) (*Tokenizer, error) {
	vocab := make(map[string]int)
	scanner := bufio.NewScanner(bytes.NewReader(content))
	id := 0
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r")
		if _, found := vocab[token]; !found {
			vocab[token] = id
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan vocabulary")
	}
	if len(vocab) == 0 {
		return nil, errors.New("empty vocabulary")
	}
	t := newTokenizer(vocab, "[UNK]", "##", 100)
	t.normalizer = &Normalizer{Type: "BertNormalizer", Lowercase: lowercase}
	t.preTokenizer = &PreTokenizer{Type: "BertPreTokenizer"}
	return t, nil
}

func newTokenizer(vocab map[string]int, unkToken, prefix string, maxChars int) *Tokenizer {
	if prefix == "" {
		prefix = "##"
	}
	if maxChars <= 0 {
		maxChars = 100
	}
	if unkToken == "" {
		unkToken = "[UNK]"
	}
	t := &Tokenizer{
		vocab:      vocab,
		unkToken:   unkToken,
		prefix:     prefix,
		maxChars:   maxChars,
		neverSplit: make(map[string]bool),
	}
	for _, special := range []string{"[UNK]", "[SEP]", "[PAD]", "[CLS]", "[MASK]"} {
		if _, ok := vocab[special]; ok {
			t.neverSplit[special] = true
		}
	}

	// Build the id ordered vocabulary list.
	type entry struct {
		token string
		id    int
	}
	entries := make([]entry, 0, len(vocab))
	for token, id := range vocab {
		entries = append(entries, entry{token, id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	t.vocabList = make([]string, len(entries))
	for i, e := range entries {
		t.vocabList[i] = e.token
	}
	return t
}

// Tokenize splits text into WordPiece tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	for _, chunk := range t.splitOnSpecialTokens(text) {
		if t.neverSplit[chunk] {
			tokens = append(tokens, chunk)
			continue
		}
		normalized := t.normalize(chunk)
		for _, word := range t.preTokenize(normalized) {
			tokens = append(tokens, t.wordPieceTokenize(word)...)
		}
	}
	return tokens
}

// splitOnSpecialTokens isolates special tokens present verbatim (e.g. "[MASK]") in the text,
// so they are not lower-cased or split by punctuation.
func (t *Tokenizer) splitOnSpecialTokens(text string) []string {
	fields := strings.Fields(text)
	chunks := make([]string, 0, 1)
	var current []string
	for _, field := range fields {
		if t.neverSplit[field] {
			if len(current) > 0 {
				chunks = append(chunks, strings.Join(current, " "))
				current = current[:0]
			}
			chunks = append(chunks, field)
			continue
		}
		current = append(current, field)
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// normalize applies the normalizer to the text.
func (t *Tokenizer) normalize(text string) string {
	if t.normalizer == nil {
		return text
	}
	return applyNormalizer(text, t.normalizer)
}

func applyNormalizer(text string, n *Normalizer) string {
	switch n.Type {
	case "Lowercase":
		return strings.ToLower(text)
	case "NFD":
		return norm.NFD.String(text)
	case "NFC":
		return norm.NFC.String(text)
	case "NFKC":
		return norm.NFKC.String(text)
	case "NFKD":
		return norm.NFKD.String(text)
	case "StripAccents":
		return removeAccents(norm.NFD.String(text))
	case "BertNormalizer":
		result := text
		if n.CleanText == nil || *n.CleanText {
			result = cleanText(result)
		}
		if n.HandleChineseChars == nil || *n.HandleChineseChars {
			result = padChineseChars(result)
		}
		// strip_accents defaults to the lowercase setting.
		stripAccents := n.Lowercase
		if n.StripAccents != nil {
			stripAccents = *n.StripAccents
		}
		if n.Lowercase {
			result = strings.ToLower(result)
		}
		if stripAccents {
			result = removeAccents(norm.NFD.String(result))
		}
		return result
	case "Sequence":
		result := text
		for _, child := range n.Normalizers {
			childCopy := child
			result = applyNormalizer(result, &childCopy)
		}
		return result
	default:
		return text
	}
}

// preTokenize splits text into words using the pre-tokenizer.
func (t *Tokenizer) preTokenize(text string) []string {
	if t.preTokenizer == nil {
		return strings.Fields(text)
	}
	return applyPreTokenizer(text, t.preTokenizer)
}

func applyPreTokenizer(text string, pt *PreTokenizer) []string {
	switch pt.Type {
	case "BertPreTokenizer":
		return bertPreTokenize(text)
	case "Punctuation":
		return punctuationPreTokenize(text)
	case "Sequence":
		result := []string{text}
		for _, child := range pt.PreTokenizers {
			var newResult []string
			childCopy := child
			for _, s := range result {
				newResult = append(newResult, applyPreTokenizer(s, &childCopy)...)
			}
			result = newResult
		}
		return result
	default:
		// "Whitespace", "WhitespaceSplit" and unknown types.
		return strings.Fields(text)
	}
}

// wordPieceTokenize implements the greedy longest-match-first WordPiece algorithm.
func (t *Tokenizer) wordPieceTokenize(word string) []string {
	if word == "" {
		return nil
	}
	if len([]rune(word)) > t.maxChars {
		return []string{t.unkToken}
	}

	var tokens []string
	start := 0
	for start < len(word) {
		end := len(word)
		found := ""
		for start < end {
			substr := word[start:end]
			if start > 0 {
				substr = t.prefix + substr
			}
			if _, ok := t.vocab[substr]; ok {
				found = substr
				break
			}
			end--
			// Don't cut a multi-byte rune in half.
			for end > start && !isRuneStart(word[end]) {
				end--
			}
		}
		if found == "" {
			return []string{t.unkToken}
		}
		tokens = append(tokens, found)
		start = end
	}
	return tokens
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// ConvertTokensToIDs maps tokens to ids, using the unknown token id for tokens not in the vocabulary.
func (t *Tokenizer) ConvertTokensToIDs(tokens []string) []int {
	unkID := t.vocab[t.unkToken]
	ids := make([]int, len(tokens))
	for i, token := range tokens {
		if id, ok := t.vocab[token]; ok {
			ids[i] = id
		} else {
			ids[i] = unkID
		}
	}
	return ids
}

// Vocabulary returns all tokens ordered by id.
func (t *Tokenizer) Vocabulary() []string {
	return t.vocabList
}

// VocabSize returns the size of the vocabulary.
func (t *Tokenizer) VocabSize() int {
	return len(t.vocabList)
}

// TokenToID converts a token string to its ID.
func (t *Tokenizer) TokenToID(token string) (int, bool) {
	id, ok := t.vocab[token]
	return id, ok
}

// SpecialToken returns the token string for a given special token.
func (t *Tokenizer) SpecialToken(token api.SpecialToken) (string, error) {
	var candidates []string
	switch token {
	case api.TokUnknown:
		candidates = []string{t.unkToken, "[UNK]", "<unk>"}
	case api.TokPad:
		candidates = []string{"[PAD]", "<pad>"}
	case api.TokMask:
		candidates = []string{"[MASK]", "<mask>"}
	case api.TokClassification, api.TokBeginningOfSentence:
		// BERT-style models use CLS/SEP as sentence delimiters.
		candidates = []string{"[CLS]", "<s>"}
	case api.TokSeparator, api.TokEndOfSentence:
		candidates = []string{"[SEP]", "</s>"}
	}
	for _, candidate := range candidates {
		if _, ok := t.vocab[candidate]; ok {
			return candidate, nil
		}
	}
	return "", errors.Errorf("special token %s not found", token)
}

// Helper functions

func cleanText(text string) string {
	var result strings.Builder
	for _, r := range text {
		if r == 0 || r == 0xFFFD || isControl(r) {
			continue
		}
		if isWhitespace(r) {
			result.WriteRune(' ')
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r)
}

func isPunctuation(r rune) bool {
	// ASCII punctuation
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

// isChineseChar reports whether r is in the CJK Unicode blocks, which BERT tokenizes per character.
func isChineseChar(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}

func padChineseChars(text string) string {
	var result strings.Builder
	for _, r := range text {
		if isChineseChar(r) {
			result.WriteRune(' ')
			result.WriteRune(r)
			result.WriteRune(' ')
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func removeAccents(text string) string {
	var result strings.Builder
	for _, r := range text {
		if !unicode.Is(unicode.Mn, r) { // Mn = Mark, Nonspacing
			result.WriteRune(r)
		}
	}
	return result.String()
}

func bertPreTokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	for _, r := range text {
		if isWhitespace(r) {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		} else if isPunctuation(r) {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			tokens = append(tokens, string(r))
		} else {
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

func punctuationPreTokenize(text string) []string {
	var tokens []string
	for _, field := range strings.Fields(text) {
		var current strings.Builder
		for _, r := range field {
			if isPunctuation(r) {
				if current.Len() > 0 {
					tokens = append(tokens, current.String())
					current.Reset()
				}
				tokens = append(tokens, string(r))
			} else {
				current.WriteRune(r)
			}
		}
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
		}
	}
	return tokens
}

// Package segment splits documents into sentences.
package segment

import (
	"strings"

	"github.com/clipperhouse/uax29/v2/sentences"
)

// Segmenter splits text into sentence texts, in order.
type Segmenter interface {
	Segment(text string) []string
}

// UAX29 segments sentences following the Unicode text segmentation rules (UAX #29).
// Sentences are trimmed, and whitespace-only sentences are dropped.
type UAX29 struct{}

var _ Segmenter = UAX29{}

// Segment implements Segmenter.
func (UAX29) Segment(text string) []string {
	var result []string
	iter := sentences.FromString(text)
	for iter.Next() {
		sentence := strings.TrimSpace(iter.Value())
		if sentence != "" {
			result = append(result, sentence)
		}
	}
	return result
}

// Whole returns the text as a single sentence (none if it is blank).
type Whole struct{}

var _ Segmenter = Whole{}

// Segment implements Segmenter.
func (Whole) Segment(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return []string{text}
}

// Package stopwords provides the stop-word predicate used to exclude function words from masking.
package stopwords

import (
	_ "embed"
	"strings"
)

// Predicate reports whether a token is a stop word.
type Predicate interface {
	IsStop(token string) bool
}

//go:embed english.txt
var englishList string

// List is a set of stop words. Lookups are case-insensitive.
type List struct {
	stops map[string]struct{}
}

var _ Predicate = &List{}

// New creates a List with the given words.
func New(words []string) *List {
	l := &List{stops: make(map[string]struct{}, len(words))}
	for _, w := range words {
		l.Add(w)
	}
	return l
}

// English returns the built-in English list.
func English() *List {
	var words []string
	for _, line := range strings.Split(englishList, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	return New(words)
}

// IsStop implements Predicate.
func (l *List) IsStop(token string) bool {
	_, ok := l.stops[strings.ToLower(token)]
	return ok
}

// Add a word to the list.
func (l *List) Add(word string) {
	l.stops[strings.ToLower(word)] = struct{}{}
}

// Remove a word from the list.
func (l *List) Remove(word string) {
	delete(l.stops, strings.ToLower(word))
}

// Len returns the number of words.
func (l *List) Len() int {
	return len(l.stops)
}

// None is a Predicate that accepts every token.
type None struct{}

// IsStop implements Predicate.
func (None) IsStop(string) bool { return false }

// Package tokenize splits chat message text into tokens and reduces each token
// to the canonical word key used by the frequency tables.
package tokenize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize splits text on runs of whitespace. Empty or whitespace-only text
// yields no tokens.
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// Normalize strips leading and trailing punctuation and symbol runes (curly
// quotes included) and lowercases the rest. The result may be empty.
func Normalize(token string) string {
	return strings.ToLower(strings.TrimFunc(token, isEdgeRune))
}

// Words returns the normalized, non-empty words of text in order.
func Words(text string) []string {
	tokens := Tokenize(text)
	words := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if w := Normalize(tok); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// CharCount reports the number of code points in text.
func CharCount(text string) int {
	return utf8.RuneCountInString(text)
}

func isEdgeRune(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

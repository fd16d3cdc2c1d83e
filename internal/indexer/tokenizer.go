// Package indexer turns document add/update/delete/settings/clear task
// payloads into the derived postings, facet entries, and vectors
// internal/index's sub-databases store, per spec.md §4.4.
package indexer

import (
	"strings"
	"unicode"

	"github.com/siftengine/sift/internal/index"
)

// Token is one normalized word pulled out of a field's text, along with
// its position within that field — positions feed both proximity ranking
// and the field-word-count posting.
type Token struct {
	Term     string
	Position int
}

// Tokenize splits text on Unicode word boundaries, honoring settings'
// custom non-separator runes (treated as part of a word, e.g. "-" in
// product codes) and separator strings (force a split even mid-run),
// lowercases every token, and drops stop words. Tokens shorter than one
// rune are never produced since flush() only emits a non-empty builder.
func Tokenize(text string, s index.Settings) []Token {
	stop := stringSetLower(s.StopWords)
	nonSep := runeSet(s.NonSeparatorTokens)
	sep := stringSet(s.SeparatorTokens)

	var tokens []Token
	var current strings.Builder
	pos := 0

	emit := func(term string) {
		if _, isStop := stop[term]; isStop {
			return
		}
		tokens = append(tokens, Token{Term: term, Position: pos})
		pos++
	}

	flush := func() {
		if current.Len() == 0 {
			return
		}
		term := strings.ToLower(current.String())
		current.Reset()
		if needsSegmentation(term) {
			for _, w := range segmentLocaleWord(term) {
				emit(w)
			}
			return
		}
		emit(term)
	}

	runes := []rune(text)
	for i := 0; i < len(runes); {
		if n := separatorLength(runes, i, sep); n > 0 {
			flush()
			i += n
			continue
		}
		if isWordRune(runes[i], nonSep) {
			current.WriteRune(runes[i])
			i++
			continue
		}
		flush()
		i++
	}
	flush()
	return tokens
}

func isWordRune(r rune, nonSep map[rune]struct{}) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	_, ok := nonSep[r]
	return ok
}

// separatorLength reports the rune length of a configured separator string
// starting at runes[i], or 0 if none match. Ties prefer the longest match so
// a separator like "--" isn't eaten one rune at a time by a shorter one.
// Separators are rare and short, so a linear scan over them per position is
// cheap relative to tokenization's other costs.
func separatorLength(runes []rune, i int, sep map[string]struct{}) int {
	best := 0
	for s := range sep {
		sr := []rune(s)
		if len(sr) <= best || i+len(sr) > len(runes) {
			continue
		}
		match := true
		for j, c := range sr {
			if runes[i+j] != c {
				match = false
				break
			}
		}
		if match {
			best = len(sr)
		}
	}
	return best
}

func stringSetLower(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

func runeSet(tokens []string) map[rune]struct{} {
	m := make(map[rune]struct{})
	for _, t := range tokens {
		for _, r := range t {
			m[r] = struct{}{}
		}
	}
	return m
}

func stringSet(tokens []string) map[string]struct{} {
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

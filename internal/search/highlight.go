package search

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/siftengine/sift/internal/index"
)

// FormatDocument renders a hit's _formatted field per spec.md §4.6 step 8:
// attributesToHighlight get their matched query terms wrapped in the
// configured pre/post tags, attributesToCrop get a cropLength-token window
// centered on the first query-word match with marker on truncated ends. An
// attribute requested for both is cropped first, then highlighted.
func FormatDocument(doc index.Document, queryWords []string, q Query) map[string]any {
	out := make(map[string]any, len(doc))
	highlightSet := attrSet(q.AttributesToHighlight)
	cropSet := attrCropSet(q.AttributesToCrop)

	preTag := q.HighlightPreTag
	if preTag == "" {
		preTag = DefaultHighlightPreTag
	}
	postTag := q.HighlightPostTag
	if postTag == "" {
		postTag = DefaultHighlightPostTag
	}
	cropMarker := q.CropMarker
	if cropMarker == "" {
		cropMarker = DefaultCropMarker
	}
	cropLength := q.CropLength
	if cropLength <= 0 {
		cropLength = DefaultCropLength
	}

	for name, value := range doc {
		text, ok := value.(string)
		if !ok {
			out[name] = value
			continue
		}
		rendered := text
		if n, ok := matchCropAttr(cropSet, name, cropLength); ok {
			rendered = cropText(rendered, queryWords, n, cropMarker)
		}
		if matchAttr(highlightSet, name) {
			rendered = highlightText(rendered, queryWords, preTag, postTag)
		}
		out[name] = rendered
	}
	return out
}

// MatchesPosition locates every query word occurrence within doc's string
// fields, for queries that set showMatchesPosition.
func MatchesPosition(doc index.Document, queryWords []string) map[string][]MatchSpan {
	if len(queryWords) == 0 {
		return nil
	}
	out := make(map[string][]MatchSpan)
	for name, value := range doc {
		text, ok := value.(string)
		if !ok {
			continue
		}
		spans := findMatchSpans(text, queryWords)
		if len(spans) > 0 {
			out[name] = spans
		}
	}
	return out
}

func attrSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func matchAttr(set map[string]bool, name string) bool {
	if set == nil {
		return false
	}
	if set["*"] {
		return true
	}
	return set[name]
}

func attrCropSet(specs []string) map[string]int {
	m := make(map[string]int, len(specs))
	for _, spec := range specs {
		name, n := parseCropSpec(spec)
		m[name] = n
	}
	return m
}

// parseCropSpec parses "attr:20" into ("attr", 20), or returns (attr, 0)
// when no override length is given.
func parseCropSpec(spec string) (string, int) {
	idx := strings.LastIndex(spec, ":")
	if idx < 0 {
		return spec, 0
	}
	var n int
	if _, err := fmt.Sscanf(spec[idx+1:], "%d", &n); err != nil {
		return spec, 0
	}
	return spec[:idx], n
}

func matchCropAttr(set map[string]int, name string, defaultLen int) (int, bool) {
	if set == nil {
		return 0, false
	}
	if n, ok := set[name]; ok {
		if n > 0 {
			return n, true
		}
		return defaultLen, true
	}
	if n, ok := set["*"]; ok {
		if n > 0 {
			return n, true
		}
		return defaultLen, true
	}
	return 0, false
}

// highlightText wraps every case-insensitive occurrence of a query word in
// text with preTag/postTag, matching on whole-word boundaries so e.g.
// highlighting "cat" doesn't mark the middle of "category".
func highlightText(text string, queryWords []string, preTag, postTag string) string {
	if len(queryWords) == 0 {
		return text
	}
	runes := []rune(text)
	var sb strings.Builder
	i := 0
	for i < len(runes) {
		if word, n := matchWordAt(runes, i, queryWords); n > 0 {
			sb.WriteString(preTag)
			sb.WriteString(word)
			sb.WriteString(postTag)
			i += n
			continue
		}
		sb.WriteRune(runes[i])
		i++
	}
	return sb.String()
}

// matchWordAt reports whether one of queryWords matches text starting at
// position i on a word boundary, returning the matched (original-case)
// substring and its rune length, or ("", 0) if nothing matches there.
func matchWordAt(runes []rune, i int, queryWords []string) (string, int) {
	if i > 0 && isWordRuneLoose(runes[i-1]) {
		return "", 0
	}
	for _, qw := range queryWords {
		qr := []rune(qw)
		if i+len(qr) > len(runes) {
			continue
		}
		if !strings.EqualFold(string(runes[i:i+len(qr)]), qw) {
			continue
		}
		if i+len(qr) < len(runes) && isWordRuneLoose(runes[i+len(qr)]) {
			continue
		}
		return string(runes[i : i+len(qr)]), len(qr)
	}
	return "", 0
}

func isWordRuneLoose(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// cropText extracts a window of at most n whitespace-delimited tokens
// around the first query-word match, prefixing/suffixing cropMarker
// wherever the window doesn't reach the field's start/end.
func cropText(text string, queryWords []string, n int, cropMarker string) string {
	tokens := strings.Fields(text)
	if len(tokens) <= n {
		return text
	}
	matchIdx := firstMatchingTokenIndex(tokens, queryWords)
	start := matchIdx - n/2
	if start < 0 {
		start = 0
	}
	end := start + n
	if end > len(tokens) {
		end = len(tokens)
		start = end - n
		if start < 0 {
			start = 0
		}
	}
	window := strings.Join(tokens[start:end], " ")
	if start > 0 {
		window = cropMarker + " " + window
	}
	if end < len(tokens) {
		window = window + " " + cropMarker
	}
	return window
}

func firstMatchingTokenIndex(tokens []string, queryWords []string) int {
	for i, tok := range tokens {
		for _, qw := range queryWords {
			if strings.EqualFold(strings.Trim(tok, ".,;:!?\"'()"), qw) {
				return i
			}
		}
	}
	return 0
}

func findMatchSpans(text string, queryWords []string) []MatchSpan {
	runes := []rune(text)
	var spans []MatchSpan
	i := 0
	for i < len(runes) {
		if word, n := matchWordAt(runes, i, queryWords); n > 0 {
			spans = append(spans, MatchSpan{Start: i, Length: len([]rune(word))})
			i += n
			continue
		}
		i++
	}
	return spans
}

package search

import (
	"strings"

	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/indexer"
	"github.com/siftengine/sift/internal/kv"
)

// WordVariant is one dictionary word accepted as a match for a query word,
// paired with the edit distance it took to reach it (0 for the exact term).
type WordVariant struct {
	Term  string
	Typos int
}

// QueryWord is one word extracted from a search query, paired with every
// variant (itself plus any typo-tolerant alternatives) actually present in
// the index, per spec.md §4.6 step 3.
type QueryWord struct {
	Term     string
	IsLast   bool // last word in the query is eligible for prefix matching
	Variants []WordVariant
	IsPrefix bool
}

// TokenizeQuery splits q the same way documents are tokenized (reusing
// indexer.Tokenize so query and document term boundaries always agree),
// then expands each word against the index's word dictionary within its
// allowed typo budget.
func TokenizeQuery(b *kv.Bucket, q string, s index.Settings) []QueryWord {
	toks := indexer.Tokenize(q, s)
	if len(toks) == 0 {
		return nil
	}
	words := make([]QueryWord, len(toks))
	for i, t := range toks {
		isLast := i == len(toks)-1
		qw := QueryWord{Term: t.Term, IsLast: isLast, IsPrefix: isLast && s.PrefixSearch != "disabled"}
		budget := typoBudget(t.Term, s.TypoTolerance)
		if !s.TypoTolerance.Enabled || typoDisabledForWord(t.Term, s.TypoTolerance) {
			budget = 0
		}
		qw.Variants = expandVariants(b, t.Term, budget)
		words[i] = qw
	}
	return words
}

// typoBudget returns how many edits a word's length earns it, per
// TypoTolerance's two size thresholds.
func typoBudget(word string, tt index.TypoTolerance) int {
	n := len([]rune(word))
	switch {
	case tt.MinWordSizeTwoTypos > 0 && n >= tt.MinWordSizeTwoTypos:
		return 2
	case tt.MinWordSizeOneTypo > 0 && n >= tt.MinWordSizeOneTypo:
		return 1
	default:
		return 0
	}
}

func typoDisabledForWord(word string, tt index.TypoTolerance) bool {
	if tt.DisableOnNumbers && isNumeric(word) {
		return true
	}
	for _, w := range tt.DisableOnWords {
		if w == word {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// expandVariants scans the word dictionary for every stored word within
// budget edits of word. It is a linear scan over words sharing word's first
// rune, bounded by a small fixed prefix rather than the whole dictionary;
// an FST-backed dictionary (see mainKeyWordsFST) would make this sublinear,
// but nothing in the index currently populates one.
func expandVariants(b *kv.Bucket, word string, budget int) []WordVariant {
	variants := []WordVariant{{Term: word, Typos: 0}}
	if budget == 0 || b == nil {
		return variants
	}
	runes := []rune(word)
	if len(runes) == 0 {
		return variants
	}
	prefix := []byte(string(runes[:1]))
	b.Cursor().ForEachPrefix(prefix, func(key, _ []byte) bool {
		candidate := string(key)
		if candidate == word {
			return true
		}
		if d := editDistanceUpTo(word, candidate, budget); d >= 0 {
			variants = append(variants, WordVariant{Term: candidate, Typos: d})
		}
		return true
	})
	return variants
}

// editDistanceUpTo returns a and b's edit distance, or -1 if it exceeds
// max, short-circuiting on length difference before running the full DP
// table.
func editDistanceUpTo(a, b string, max int) int {
	ra, rb := []rune(a), []rune(b)
	if abs(len(ra)-len(rb)) > max {
		return -1
	}
	d := levenshtein(ra, rb)
	if d > max {
		return -1
	}
	return d
}

func levenshtein(a, b []rune) int {
	la, lb := len(a), len(b)
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// attributeDisablesTypo reports whether attrName matches any of
// TypoTolerance's DisableOnAttributes glob-style entries ("*" suffix
// wildcard only, matching the teacher's attribute-pattern convention).
func attributeDisablesTypo(attrName string, tt index.TypoTolerance) bool {
	for _, pattern := range tt.DisableOnAttributes {
		if pattern == attrName {
			return true
		}
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(attrName, strings.TrimSuffix(pattern, "*")) {
			return true
		}
	}
	return false
}

package federation

import (
	"fmt"

	"github.com/siftengine/sift/internal/search"
)

// CanonicalRules is one query's ranking-rule sequence after canonicalization:
// duplicates removed, a leading "words" rule injected for keyword queries
// that lack one, and a query's own Sort criteria spliced in wherever the
// settings declared a bare "sort" placeholder.
type CanonicalRules struct {
	IndexUID  string
	QueryIdx  int
	Rules     []search.RankingRule
	Rewrites  []string // human-readable notes on what canonicalization changed, for error messages
}

// Canonicalize derives a query's effective ranking-rule sequence from its
// index's configured rules, its own sort criteria, and whether it carries
// search text, per spec.md §4.7's "duplicates removed; words injected when
// needed; sort rules rewritten with their actual sort keys".
func Canonicalize(indexUID string, queryIdx int, configuredRules []search.RankingRule, q search.Query) CanonicalRules {
	var rewrites []string
	out := make([]search.RankingRule, 0, len(configuredRules)+1)
	seen := make(map[search.RankingRule]bool, len(configuredRules))
	hasWords := false

	for _, r := range configuredRules {
		if r.Kind == search.RuleSort {
			if len(q.Sort) == 0 {
				// No sort criteria on this query: the placeholder
				// contributes nothing and is dropped rather than compared
				// against a concrete sort rule on another query.
				rewrites = append(rewrites, "dropped empty sort placeholder")
				continue
			}
			for _, sc := range q.Sort {
				kind := search.RuleAsc
				if sc.Descending {
					kind = search.RuleDesc
				}
				rule := search.RankingRule{Kind: kind, Field: sc.Field}
				if seen[rule] {
					continue
				}
				seen[rule] = true
				out = append(out, rule)
			}
			rewrites = append(rewrites, "sort expanded to query's own sort criteria")
			continue
		}
		if r.Kind == search.RuleWords {
			hasWords = true
		}
		if seen[r] {
			rewrites = append(rewrites, fmt.Sprintf("duplicate %s removed", ruleLabel(r)))
			continue
		}
		seen[r] = true
		out = append(out, r)
	}

	if q.Q != "" && !hasWords {
		out = append([]search.RankingRule{{Kind: search.RuleWords}}, out...)
		rewrites = append(rewrites, "words injected at position 0")
	}

	return CanonicalRules{IndexUID: indexUID, QueryIdx: queryIdx, Rules: out, Rewrites: rewrites}
}

func ruleLabel(r search.RankingRule) string {
	switch r.Kind {
	case search.RuleAsc:
		return "asc(" + r.Field + ")"
	case search.RuleDesc:
		return "desc(" + r.Field + ")"
	default:
		names := map[search.RuleKind]string{
			search.RuleWords:     "words",
			search.RuleTypo:      "typo",
			search.RuleProximity: "proximity",
			search.RuleAttribute: "attribute",
			search.RuleExactness: "exactness",
			search.RuleSort:      "sort",
		}
		return names[r.Kind]
	}
}

func isRelevancyRule(k search.RuleKind) bool {
	switch k {
	case search.RuleWords, search.RuleTypo, search.RuleProximity, search.RuleAttribute, search.RuleExactness:
		return true
	default:
		return false
	}
}

func isSortRule(k search.RuleKind) bool {
	return k == search.RuleAsc || k == search.RuleDesc
}

// IncompatibleRulesError names the two queries and the rule position whose
// canonical sequences could not be reconciled, per spec.md §4.7.
type IncompatibleRulesError struct {
	QueryIdxA, QueryIdxB   int
	IndexUIDA, IndexUIDB   string
	Position               int
	RuleA, RuleB           string
	RewritesA, RewritesB   []string
}

func (e *IncompatibleRulesError) Error() string {
	return fmt.Sprintf(
		"query %d (index %q, rule %q at position %d) is incompatible with query %d (index %q, rule %q at position %d)",
		e.QueryIdxA, e.IndexUIDA, e.RuleA, e.Position, e.QueryIdxB, e.IndexUIDB, e.RuleB, e.Position,
	)
}

// CheckCompatible compares two canonicalized rule sequences pairwise.
// Incompatible when a relevancy rule at position k in one corresponds to a
// sort rule at position k in the other, or when both are sort rules at the
// same position pointing at different fields or opposite directions.
func CheckCompatible(a, b CanonicalRules) error {
	n := len(a.Rules)
	if len(b.Rules) < n {
		n = len(b.Rules)
	}
	for i := 0; i < n; i++ {
		ra, rb := a.Rules[i], b.Rules[i]
		switch {
		case isRelevancyRule(ra.Kind) && isSortRule(rb.Kind),
			isSortRule(ra.Kind) && isRelevancyRule(rb.Kind):
			return &IncompatibleRulesError{
				QueryIdxA: a.QueryIdx, QueryIdxB: b.QueryIdx,
				IndexUIDA: a.IndexUID, IndexUIDB: b.IndexUID,
				Position: i, RuleA: ruleLabel(ra), RuleB: ruleLabel(rb),
				RewritesA: a.Rewrites, RewritesB: b.Rewrites,
			}
		case isSortRule(ra.Kind) && isSortRule(rb.Kind):
			if ra.Field != rb.Field || ra.Kind != rb.Kind {
				return &IncompatibleRulesError{
					QueryIdxA: a.QueryIdx, QueryIdxB: b.QueryIdx,
					IndexUIDA: a.IndexUID, IndexUIDB: b.IndexUID,
					Position: i, RuleA: ruleLabel(ra), RuleB: ruleLabel(rb),
					RewritesA: a.Rewrites, RewritesB: b.Rewrites,
				}
			}
		}
	}
	return nil
}

// CheckAllCompatible runs CheckCompatible pairwise across every canonicalized
// sequence, short-circuiting on the first conflict found.
func CheckAllCompatible(all []CanonicalRules) error {
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if err := CheckCompatible(all[i], all[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

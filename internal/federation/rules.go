package federation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/siftengine/sift/internal/search"
)

// RuleAction is a dynamic search rule's effect on documents matching its
// selector, per spec.md §4.7's "pin, boost, bury, or hide".
type RuleAction int

const (
	ActionPin RuleAction = iota
	ActionBoost
	ActionBury
	ActionHide
)

// Rule is one dynamic search rule, scoped to an index and a selector
// (an exact doc id and/or a filter expression). Higher Priority wins when
// two rules' selectors both match the same document; a Hide is overridden
// only by a Pin of equal or higher priority on that document. Boost/Bury
// rules never override a Hide.
type Rule struct {
	IndexUID string
	DocID    string // exact external id selector; empty means filter-only
	Filter   string // selector filter; empty means doc-id-only
	Priority int
	Action   RuleAction
	Factor   float64 // boost/bury multiplier; ignored for Pin/Hide
}

// rulesForIndex returns every rule scoped to indexUID, highest priority
// first.
func rulesForIndex(rules []Rule, indexUID string) []Rule {
	var out []Rule
	for _, r := range rules {
		if r.IndexUID == indexUID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// ExpandQuery splits base into the federation sub-queries a set of dynamic
// rules requires: one sub-query per Boost/Bury rule (the rule's filter
// appended, weight multiplied by its factor) plus one base sub-query whose
// filter excludes every boosted/buried document, per spec.md §4.7's
// "Boosts/buries expand a single query into one sub-query per rule ...
// plus one base sub-query whose filter excludes all boosted/buried docs".
// Pin/Hide rules are not expanded here: they're applied post-merge by
// ApplyPinsAndHides since they act on specific documents rather than
// reweighting a candidate set.
func ExpandQuery(base FederatedQuery, rules []Rule) []FederatedQuery {
	scoped := rulesForIndex(rules, base.IndexUID)

	var boostBury []Rule
	var excludeFilters []string
	for _, r := range scoped {
		if r.Action != ActionBoost && r.Action != ActionBury {
			continue
		}
		if r.Filter == "" {
			continue // boost/bury by doc id alone isn't expressible as a filter sub-query
		}
		boostBury = append(boostBury, r)
		excludeFilters = append(excludeFilters, r.Filter)
	}
	if len(boostBury) == 0 {
		return []FederatedQuery{base}
	}

	out := make([]FederatedQuery, 0, len(boostBury)+1)
	for _, r := range boostBury {
		sub := base
		sub.Query.Filter = andFilters(base.Query.Filter, r.Filter)
		sub.Weight = base.EffectiveWeight() * r.Factor
		out = append(out, sub)
	}

	baseQuery := base
	baseQuery.Query.Filter = andFilters(base.Query.Filter, notAnyOf(excludeFilters))
	out = append(out, baseQuery)
	return out
}

func andFilters(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return fmt.Sprintf("(%s) AND (%s)", a, b)
	}
}

func notAnyOf(filters []string) string {
	if len(filters) == 1 {
		return "NOT (" + filters[0] + ")"
	}
	return "NOT (" + strings.Join(filters, " OR ") + ")"
}

// ApplyPinsAndHides removes hits hidden by a Hide rule (unless a Pin of
// equal or higher priority on the same document overrides it) and moves pinned
// documents to the front in selector-priority order, then rule order
// within a priority, ahead of the merge's own ranking. Pin/Hide selectors
// match by exact DocID within the hit's index; filter-based Pin/Hide
// selectors are intentionally out of scope here (they'd require
// evaluating the filter against every hit, which the caller's per-index
// search already does by construction for Boost/Bury's excluded set).
func ApplyPinsAndHides(hits []Hit, rules []Rule, docIDLookup func(indexUID string, docID string) (uint32, bool)) []Hit {
	type decision struct {
		pinned   bool
		priority int
		order    int // position of the winning Pin in rules
	}
	hidden := make(map[int]bool)   // index into hits
	pins := make(map[int]decision) // index into hits

	for i, h := range hits {
		var bestHide, bestPin *Rule
		bestPinOrder := 0
		for k, r := range rules {
			if r.IndexUID != h.IndexUID || r.DocID == "" {
				continue
			}
			id, ok := docIDLookup(h.IndexUID, r.DocID)
			if !ok || id != h.DocID {
				continue
			}
			switch r.Action {
			case ActionHide:
				if bestHide == nil || r.Priority > bestHide.Priority {
					rr := r
					bestHide = &rr
				}
			case ActionPin:
				if bestPin == nil || r.Priority > bestPin.Priority {
					rr := r
					bestPin = &rr
					bestPinOrder = k
				}
			}
		}
		switch {
		case bestPin != nil && (bestHide == nil || bestPin.Priority >= bestHide.Priority):
			pins[i] = decision{pinned: true, priority: bestPin.Priority, order: bestPinOrder}
		case bestHide != nil:
			hidden[i] = true
		}
	}

	pinned := make([]Hit, 0, len(pins))
	pinnedIdx := make([]int, 0, len(pins))
	for i := range hits {
		if pins[i].pinned {
			pinnedIdx = append(pinnedIdx, i)
		}
	}
	sort.SliceStable(pinnedIdx, func(i, j int) bool {
		a, b := pins[pinnedIdx[i]], pins[pinnedIdx[j]]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.order < b.order
	})
	for _, i := range pinnedIdx {
		pinned = append(pinned, hits[i])
	}

	rest := make([]Hit, 0, len(hits))
	for i, h := range hits {
		if hidden[i] || pins[i].pinned {
			continue
		}
		rest = append(rest, h)
	}
	return append(pinned, rest...)
}

package federation

import (
	"container/heap"

	"github.com/siftengine/sift/internal/search"
)

// queryResult bundles one federated sub-query's already-ranked hits (a
// Searcher.Search call returns hits best-first) with the weight and index
// the merge needs.
type queryResult struct {
	IndexUID string
	Weight   float64
	Degraded bool
	EstTotal int
	Hits     []search.Hit
}

// mergeItem is one element of the k-way merge heap: a cursor into one
// queryResult's hit slice.
type mergeItem struct {
	result   *queryResult
	pos      int
	queryIdx int
}

type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	ah, bh := a.result.Hits[a.pos], b.result.Hits[b.pos]
	switch compareWeighted(ah.ScoreDetails, a.result.Weight, bh.ScoreDetails, b.result.Weight) {
	case 1:
		return true
	case -1:
		return false
	default:
		return a.queryIdx < b.queryIdx
	}
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merge performs the k-way ordered merge described in spec.md §4.7: each
// query's hits (already ranked by search.Searcher.Search) are walked in
// lockstep, compared by weighted score-detail sequence, and deduplicated
// by (indexUid, internal doc id) with first occurrence winning. results
// must be in the same order as the original queries array, so queryIdx
// ties break toward the earlier query.
func Merge(results []queryResult, limit, offset int) ([]Hit, int, bool) {
	h := make(mergeHeap, 0, len(results))
	for i, r := range results {
		if len(r.Hits) == 0 {
			continue
		}
		h = append(h, &mergeItem{result: &results[i], pos: 0, queryIdx: i})
	}
	heap.Init(&h)

	type seenKey struct {
		index string
		docID uint32
	}
	seen := make(map[seenKey]bool)

	var merged []Hit
	degraded := false
	estimatedTotal := 0
	for _, r := range results {
		estimatedTotal += r.EstTotal
		degraded = degraded || r.Degraded
	}

	for h.Len() > 0 {
		top := heap.Pop(&h).(*mergeItem)
		hit := top.result.Hits[top.pos]
		key := seenKey{index: top.result.IndexUID, docID: hit.DocID}
		if !seen[key] {
			seen[key] = true
			merged = append(merged, Hit{
				Hit:                  hit,
				QueryIndex:           top.queryIdx,
				WeightedRankingScore: weightedGlobalScore(hit.ScoreDetails, top.result.Weight),
			})
		}
		if top.pos+1 < len(top.result.Hits) {
			top.pos++
			heap.Push(&h, top)
		}
	}

	if offset >= len(merged) {
		return nil, estimatedTotal, degraded
	}
	end := len(merged)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return merged[offset:end], estimatedTotal, degraded
}

// compareWeighted returns 1 if a ranks before b, -1 if b ranks before a, 0
// on an exact tie (caller breaks ties by query index), per spec.md §4.7's
// "walk their score-detail sequences in lockstep ... falling back to the
// global weighted score when kinds diverge".
func compareWeighted(a *search.ScoreDetails, wa float64, b *search.ScoreDetails, wb float64) int {
	aSeq := scoreSequence(a)
	bSeq := scoreSequence(b)
	n := len(aSeq)
	if len(bSeq) < n {
		n = len(bSeq)
	}
	for i := 0; i < n; i++ {
		as, bs := aSeq[i], bSeq[i]
		if as.kind != bs.kind {
			// Structurally incomparable at this position (shouldn't occur
			// for two sequences that passed CheckAllCompatible): fall back
			// to the global weighted score for the remainder.
			break
		}
		switch as.kind {
		case scoreKindRule:
			av, bv := as.value*wa, bs.value*wb
			if av == bv {
				continue
			}
			if av > bv {
				return 1
			}
			return -1
		case scoreKindSort:
			if as.value == bs.value {
				continue
			}
			if as.value > bs.value {
				return 1
			}
			return -1
		}
	}
	ag, bg := weightedGlobalScore(a, wa), weightedGlobalScore(b, wb)
	if ag == bg {
		return 0
	}
	if ag > bg {
		return 1
	}
	return -1
}

type scoreKind int

const (
	scoreKindRule scoreKind = iota
	scoreKindSort
)

type scoreStep struct {
	kind  scoreKind
	value float64
}

// scoreSequence flattens a ScoreDetails into the position-ordered sequence
// compareWeighted walks: the five relevancy rules in fixed order, then one
// step per sort criterion actually present.
func scoreSequence(d *search.ScoreDetails) []scoreStep {
	if d == nil {
		return nil
	}
	var out []scoreStep
	for _, rs := range []*search.RuleScore{d.Words, d.Typo, d.Proximity, d.Attribute, d.Exactness} {
		if rs == nil {
			continue
		}
		out = append(out, scoreStep{kind: scoreKindRule, value: rs.Score})
	}
	for _, sd := range d.Sort {
		v, ok := sd.Value.(float64)
		if !ok {
			continue
		}
		if sd.Descending {
			v = -v
		}
		out = append(out, scoreStep{kind: scoreKindSort, value: v})
	}
	return out
}

// weightedGlobalScore collapses a hit's full score-detail sequence to one
// scalar, used for the merge's tie-break fallback.
func weightedGlobalScore(d *search.ScoreDetails, weight float64) float64 {
	if d == nil {
		return 0
	}
	var sum float64
	for _, rs := range []*search.RuleScore{d.Words, d.Typo, d.Proximity, d.Attribute, d.Exactness} {
		if rs != nil {
			sum += rs.Score
		}
	}
	return sum * weight
}

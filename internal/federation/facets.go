package federation

import (
	"fmt"

	"github.com/siftengine/sift/internal/search"
)

// perIndexFacets is one index's own facet computation, keyed by index uid,
// used as MergeFacetValues input.
type perIndexFacets struct {
	indexUID          string
	sortFacetValuesBy map[string]string // per spec.md's "consistent per-index sortFacetValuesBy"
	distribution      map[string]map[string]int64
	stats             map[string]search.FacetStat
}

// MergeFacetValues unions facet value->count across indexes (summing
// counts) and {min,max} stats (taking min/max of the per-index mins/maxes).
// It returns an error when two indexes declare a different sortFacetValuesBy
// for the same facet; the returned maps carry no value order. Per spec.md §4.7.
func MergeFacetValues(perIndex []perIndexFacets) (map[string]map[string]int64, map[string]search.FacetStat, error) {
	sortBy := make(map[string]string)
	dist := make(map[string]map[string]int64)
	stats := make(map[string]search.FacetStat)

	for _, pf := range perIndex {
		for attr, by := range pf.sortFacetValuesBy {
			if existing, ok := sortBy[attr]; ok && existing != by {
				return nil, nil, fmt.Errorf(
					"facet %q is sorted by %q in index %q but by %q in an earlier index; mergeFacets requires a consistent sortFacetValuesBy",
					attr, by, pf.indexUID, existing,
				)
			}
			sortBy[attr] = by
		}
		for attr, values := range pf.distribution {
			out, ok := dist[attr]
			if !ok {
				out = make(map[string]int64)
				dist[attr] = out
			}
			for v, count := range values {
				out[v] += count
			}
		}
		for attr, s := range pf.stats {
			existing, ok := stats[attr]
			if !ok {
				stats[attr] = s
				continue
			}
			if s.Min < existing.Min {
				existing.Min = s.Min
			}
			if s.Max > existing.Max {
				existing.Max = s.Max
			}
			stats[attr] = existing
		}
	}
	return dist, stats, nil
}

package search

import (
	"sort"
	"strconv"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/siftengine/sift/internal/codec"
	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/kv"
)

// facetDistributionEntry is one value's count within a single facet,
// carried with its rendered value so callers can sort by count or by value.
type facetDistributionEntry struct {
	value string
	count int64
}

// ComputeFacetDistribution returns, for each requested facet attribute,
// the distinct values present among candidates mapped to their document
// counts, per spec.md §4.6 step 8. When Faceting.MaxValuesPerFacet is set,
// only that many values are kept, taken in SortFacetValuesBy order. Numeric facets are rendered with their
// raw decoded float in string form; string/boolean facets use the stored
// bytes directly.
func ComputeFacetDistribution(
	numericBucket, stringBucket *kv.Bucket,
	fields *index.FieldsIDsMap,
	facetAttrs []string,
	candidates *roaring.Bitmap,
	faceting index.Faceting,
) (map[string]map[string]int64, error) {
	out := make(map[string]map[string]int64, len(facetAttrs))
	for _, attr := range facetAttrs {
		id, ok := fields.ID(attr)
		if !ok {
			continue
		}
		tree := index.NewFacetTree(id)

		entries, err := collectFacetEntries(tree, numericBucket, candidates, true)
		if err != nil {
			return nil, err
		}
		strEntries, err := collectFacetEntries(tree, stringBucket, candidates, false)
		if err != nil {
			return nil, err
		}
		entries = append(entries, strEntries...)

		sortFacetEntries(entries, faceting.SortFacetValuesBy[attr])

		maxValues := faceting.MaxValuesPerFacet
		if maxValues > 0 && len(entries) > maxValues {
			entries = entries[:maxValues]
		}

		values := make(map[string]int64, len(entries))
		for _, e := range entries {
			values[e.value] = e.count
		}
		out[attr] = values
	}
	return out, nil
}

func collectFacetEntries(tree index.FacetTree, b *kv.Bucket, candidates *roaring.Bitmap, numeric bool) ([]facetDistributionEntry, error) {
	if b == nil {
		return nil, nil
	}
	values, err := tree.Values(b)
	if err != nil {
		return nil, err
	}
	entries := make([]facetDistributionEntry, 0, len(values))
	for _, v := range values {
		matched := roaring.And(v.Bitmap, candidates)
		count := matched.GetCardinality()
		if count == 0 {
			continue
		}
		var rendered string
		if numeric {
			rendered = formatFloat(codec.DecodeOrderedFloat64(v.Bound))
		} else {
			rendered = string(v.Bound)
		}
		entries = append(entries, facetDistributionEntry{value: rendered, count: int64(count)})
	}
	return entries, nil
}

func sortFacetEntries(entries []facetDistributionEntry, by string) {
	switch by {
	case "count":
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].count > entries[j].count })
	default: // "alpha", unset
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].value < entries[j].value })
	}
}

// ComputeFacetStats returns {min,max} over every numeric facet attribute's
// values present among candidates, per spec.md §4.6 step 8.
func ComputeFacetStats(
	numericBucket *kv.Bucket,
	fields *index.FieldsIDsMap,
	facetAttrs []string,
	candidates *roaring.Bitmap,
) (map[string]FacetStat, error) {
	out := make(map[string]FacetStat, len(facetAttrs))
	for _, attr := range facetAttrs {
		id, ok := fields.ID(attr)
		if !ok {
			continue
		}
		tree := index.NewFacetTree(id)
		values, err := tree.Values(numericBucket)
		if err != nil {
			return nil, err
		}
		first := true
		var stat FacetStat
		for _, v := range values {
			matched := roaring.And(v.Bitmap, candidates)
			if matched.IsEmpty() {
				continue
			}
			f := codec.DecodeOrderedFloat64(v.Bound)
			if first {
				stat = FacetStat{Min: f, Max: f}
				first = false
				continue
			}
			if f < stat.Min {
				stat.Min = f
			}
			if f > stat.Max {
				stat.Max = f
			}
		}
		if !first {
			out[attr] = stat
		}
	}
	return out, nil
}

func formatFloat(f float64) string {
	// Matches how documents originally supplied integral values: render
	// whole numbers without a trailing ".0".
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

package index

import (
	"bytes"
	"sort"

	roaring "github.com/RoaringBitmap/roaring/v2"

	"github.com/siftengine/sift/internal/codec"
	"github.com/siftengine/sift/internal/kv"
)

// Tuning constants for the leveled facet interval tree (spec.md §4.3).
const (
	// FacetGroupSize is the target number of children a freshly built
	// group covers.
	FacetGroupSize = 4
	// FacetMaxGroupSize is not referenced by the tree code: InsertOne
	// rebuilds the upper levels in FacetGroupSize-sized groups whenever it
	// adds a new leaf, so no group grows incrementally.
	FacetMaxGroupSize = 8
	// FacetRebuildThreshold is the fraction of existing leaves a pending
	// change set must exceed before a full bulk rebuild beats touching
	// leaves one at a time.
	FacetRebuildThreshold = 0.002

	facetMaxLevel = 255
)

// facetEntry is one node of the tree, either a level-0 leaf (one distinct
// value, exact docid bitmap) or a higher-level group (span of children,
// union bitmap).
type facetEntry struct {
	bound  []byte
	bitmap *roaring.Bitmap
}

// FacetTree reads and writes the leveled interval tree for a single field
// within a single facet sub-database (BucketFacetNumericTree or
// BucketFacetStringTree — both share the same on-disk shape, only the
// bound encoding differs: sign-flipped ordered float64 vs raw UTF-8).
type FacetTree struct {
	FieldID uint16
}

// NewFacetTree returns a tree handle for fieldID. The caller supplies the
// bucket (already resolved from a kv.Tx) to every method, since a single
// tree spans many read/write transactions over its lifetime.
func NewFacetTree(fieldID uint16) FacetTree {
	return FacetTree{FieldID: fieldID}
}

func (ft FacetTree) key(level uint8, bound []byte) []byte {
	return codec.FacetKey{FieldID: ft.FieldID, Level: level, LeftBound: bound}.Encode()
}

func (ft FacetTree) getBitmap(b *kv.Bucket, level uint8, bound []byte) (*roaring.Bitmap, error) {
	data := b.Get(ft.key(level, bound))
	if data == nil {
		return roaring.New(), nil
	}
	return codec.DecodeBitmap(data)
}

func (ft FacetTree) putEntry(b *kv.Bucket, level uint8, bound []byte, bm *roaring.Bitmap) error {
	if bm == nil || bm.IsEmpty() {
		return b.Delete(ft.key(level, bound))
	}
	data, err := codec.EncodeBitmap(bm)
	if err != nil {
		return err
	}
	return b.Put(ft.key(level, bound), data)
}

func (ft FacetTree) decodeIfMatches(k, v []byte, level uint8) (*facetEntry, bool, error) {
	if k == nil {
		return nil, false, nil
	}
	fk, err := codec.DecodeFacetKey(k)
	if err != nil {
		return nil, false, err
	}
	if fk.FieldID != ft.FieldID || fk.Level != level {
		return nil, false, nil
	}
	bm, err := codec.DecodeBitmap(v)
	if err != nil {
		return nil, false, err
	}
	bound := append([]byte(nil), fk.LeftBound...)
	return &facetEntry{bound: bound, bitmap: bm}, true, nil
}

// scanSpan collects every entry at level whose bound falls in
// [startBound, endBoundExclusive). A nil endBoundExclusive scans to the
// last entry of that level for this field.
func (ft FacetTree) scanSpan(b *kv.Bucket, level uint8, startBound, endBoundExclusive []byte) ([]facetEntry, error) {
	var entries []facetEntry
	c := b.Cursor()
	k, v := c.Seek(ft.key(level, startBound))
	for k != nil {
		fk, err := codec.DecodeFacetKey(k)
		if err != nil {
			return nil, err
		}
		if fk.FieldID != ft.FieldID || fk.Level != level {
			break
		}
		if endBoundExclusive != nil && bytes.Compare(fk.LeftBound, endBoundExclusive) >= 0 {
			break
		}
		bm, err := codec.DecodeBitmap(v)
		if err != nil {
			return nil, err
		}
		entries = append(entries, facetEntry{bound: append([]byte(nil), fk.LeftBound...), bitmap: bm})
		k, v = c.Next()
	}
	return entries, nil
}

func (ft FacetTree) scanLevel(b *kv.Bucket, level uint8) ([]facetEntry, error) {
	return ft.scanSpan(b, level, []byte{}, nil)
}

func (ft FacetTree) deleteLevel(b *kv.Bucket, level uint8) error {
	entries, err := ft.scanLevel(b, level)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := b.Delete(ft.key(level, e.bound)); err != nil {
			return err
		}
	}
	return nil
}

func (ft FacetTree) deleteLevelsAbove(b *kv.Bucket, minLevel uint8) error {
	for level := minLevel + 1; ; level++ {
		entries, err := ft.scanLevel(b, level)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, e := range entries {
			if err := b.Delete(ft.key(level, e.bound)); err != nil {
				return err
			}
		}
		if level == facetMaxLevel {
			return nil
		}
	}
}

// predecessorOrEqual returns the entry at level with the greatest bound
// less than or equal to target, or nil if none exists.
func (ft FacetTree) predecessorOrEqual(b *kv.Bucket, level uint8, target []byte) (*facetEntry, error) {
	c := b.Cursor()
	k, v := c.Seek(ft.key(level, target))
	entry, ok, err := ft.decodeIfMatches(k, v, level)
	if err != nil {
		return nil, err
	}
	if ok && bytes.Equal(entry.bound, target) {
		return entry, nil
	}
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	entry, ok, err = ft.decodeIfMatches(k, v, level)
	if err != nil || !ok {
		return nil, err
	}
	return entry, nil
}

func groupEntries(entries []facetEntry, size int) [][]facetEntry {
	var groups [][]facetEntry
	for i := 0; i < len(entries); i += size {
		end := i + size
		if end > len(entries) {
			end = len(entries)
		}
		groups = append(groups, entries[i:end])
	}
	return groups
}

// rebuildLevelsAbove wipes every level above 0 and reconstructs it from
// level0, grouping FacetGroupSize consecutive leaves per parent.
func (ft FacetTree) rebuildLevelsAbove(b *kv.Bucket, level0 []facetEntry) error {
	if err := ft.deleteLevelsAbove(b, 0); err != nil {
		return err
	}
	current := level0
	level := uint8(0)
	for len(current) > 1 {
		level++
		if level >= facetMaxLevel {
			break
		}
		groups := groupEntries(current, FacetGroupSize)
		next := make([]facetEntry, 0, len(groups))
		for _, g := range groups {
			union := roaring.New()
			for _, e := range g {
				union.Or(e.bitmap)
			}
			if err := ft.putEntry(b, level, g[0].bound, union); err != nil {
				return err
			}
			next = append(next, facetEntry{bound: g[0].bound, bitmap: union})
		}
		current = next
	}
	return nil
}

// RebuildAll replaces a field's entire tree with one built from values
// (bound, encoded per EncodeOrderedFloat64 or raw string, mapped to the
// exact set of docids holding that value). Empty bitmaps are dropped.
// This is the bulk path ShouldRebuild recommends once a pending change
// set is large relative to the tree's current size.
func (ft FacetTree) RebuildAll(b *kv.Bucket, values map[string]*roaring.Bitmap) error {
	if err := ft.deleteLevel(b, 0); err != nil {
		return err
	}
	if err := ft.deleteLevelsAbove(b, 0); err != nil {
		return err
	}

	bounds := make([]string, 0, len(values))
	for bound := range values {
		bounds = append(bounds, bound)
	}
	sort.Strings(bounds)

	level0 := make([]facetEntry, 0, len(bounds))
	for _, bound := range bounds {
		bm := values[bound]
		if bm == nil || bm.IsEmpty() {
			continue
		}
		boundBytes := []byte(bound)
		if err := ft.putEntry(b, 0, boundBytes, bm); err != nil {
			return err
		}
		level0 = append(level0, facetEntry{bound: boundBytes, bitmap: bm})
	}
	return ft.rebuildLevelsAbove(b, level0)
}

// propagate walks up from a level-0 leaf's bound applying docID's
// add/remove to every ancestor group's union bitmap, stopping once no
// enclosing group is found (the top of the tree).
func (ft FacetTree) propagate(b *kv.Bucket, leafBound []byte, docID uint32, add bool) error {
	bound := leafBound
	for level := uint8(1); level < facetMaxLevel; level++ {
		entry, err := ft.predecessorOrEqual(b, level, bound)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		if add {
			entry.bitmap.Add(docID)
		} else {
			entry.bitmap.Remove(docID)
		}
		if err := ft.putEntry(b, level, entry.bound, entry.bitmap); err != nil {
			return err
		}
		bound = entry.bound
	}
	return nil
}

// InsertOne adds docID to bound's leaf bitmap, creating the leaf if it
// doesn't already exist. An existing leaf only needs its ancestors'
// bitmaps updated in place, since the tree's shape is unchanged; a brand
// new leaf reconstructs every level above 0 from the current complete
// leaf set. That trades away true incremental-B-tree efficiency for a
// union invariant that's trivially correct by construction — callers
// that already know a whole batch is about to land should call
// RebuildAll once instead of looping InsertOne (see ShouldRebuild).
func (ft FacetTree) InsertOne(b *kv.Bucket, bound []byte, docID uint32) error {
	leafKey := ft.key(0, bound)
	existed := b.Get(leafKey) != nil

	bm, err := ft.getBitmap(b, 0, bound)
	if err != nil {
		return err
	}
	bm.Add(docID)
	if err := ft.putEntry(b, 0, bound, bm); err != nil {
		return err
	}

	if existed {
		return ft.propagate(b, bound, docID, true)
	}

	level0, err := ft.scanLevel(b, 0)
	if err != nil {
		return err
	}
	return ft.rebuildLevelsAbove(b, level0)
}

// RemoveOne removes docID from bound's leaf bitmap. If the leaf becomes
// empty it is deleted outright, but its parent groups are left in place
// rather than merged with a sibling — a now-underfull group is tolerated
// until the next RebuildAll reshapes the tree (spec.md §4.3 allows up to
// half of a tree's groups to sit outside the nominal group size).
func (ft FacetTree) RemoveOne(b *kv.Bucket, bound []byte, docID uint32) error {
	bm, err := ft.getBitmap(b, 0, bound)
	if err != nil {
		return err
	}
	if bm.IsEmpty() {
		return nil
	}
	bm.Remove(docID)
	if err := ft.putEntry(b, 0, bound, bm); err != nil {
		return err
	}
	return ft.propagate(b, bound, docID, false)
}

// ShouldRebuild reports whether a pending change touching delta leaves
// should be applied via one RebuildAll call instead of delta individual
// InsertOne/RemoveOne calls.
func ShouldRebuild(existingLeaves, delta int) bool {
	if existingLeaves <= 0 {
		return true
	}
	return float64(delta)/float64(existingLeaves) > FacetRebuildThreshold
}

func geMin(bound, min []byte, includeMin bool) bool {
	if min == nil {
		return true
	}
	cmp := bytes.Compare(bound, min)
	if includeMin {
		return cmp >= 0
	}
	return cmp > 0
}

func leMax(bound, max []byte, includeMax bool) bool {
	if max == nil {
		return true
	}
	cmp := bytes.Compare(bound, max)
	if includeMax {
		return cmp <= 0
	}
	return cmp < 0
}

// groupWhollyWithin reports whether every possible leaf bound under a
// group spanning [groupStart, groupEnd) is guaranteed to satisfy
// [min, max], letting RangeBitmap take the group's union without
// descending into it. It is intentionally conservative: when unsure it
// returns false and RangeBitmap simply recurses one level deeper.
func groupWhollyWithin(groupStart, groupEnd, min, max []byte, includeMin, includeMax bool) bool {
	if !geMin(groupStart, min, includeMin) {
		return false
	}
	if max == nil {
		return true
	}
	if groupEnd == nil {
		return false
	}
	return bytes.Compare(groupEnd, max) <= 0
}

// RangeBitmap unions every leaf docid bitmap whose bound falls within
// [min, max] (each end toggled inclusive/exclusive independently),
// descending from the top level and skipping any group whose span can't
// intersect the requested range at all.
func (ft FacetTree) RangeBitmap(b *kv.Bucket, min, max []byte, includeMin, includeMax bool) (*roaring.Bitmap, error) {
	top, err := ft.topLevel(b)
	if err != nil {
		return nil, err
	}
	out := roaring.New()
	if err := ft.collect(b, top, []byte{}, nil, min, max, includeMin, includeMax, out); err != nil {
		return nil, err
	}
	return out, nil
}

// FacetValue is one distinct value present in a facet tree, paired with
// the bitmap of documents holding it.
type FacetValue struct {
	Bound  []byte
	Bitmap *roaring.Bitmap
}

// Values returns every distinct value stored in the tree, in ascending
// bound order, for facet-distribution counting (spec.md's per-field
// value -> document-count breakdown).
func (ft FacetTree) Values(b *kv.Bucket) ([]FacetValue, error) {
	entries, err := ft.scanLevel(b, 0)
	if err != nil {
		return nil, err
	}
	out := make([]FacetValue, len(entries))
	for i, e := range entries {
		out[i] = FacetValue{Bound: e.bound, Bitmap: e.bitmap}
	}
	return out, nil
}

func (ft FacetTree) topLevel(b *kv.Bucket) (uint8, error) {
	highest := uint8(0)
	for level := uint8(0); ; level++ {
		entries, err := ft.scanLevel(b, level)
		if err != nil {
			return 0, err
		}
		if len(entries) == 0 {
			break
		}
		highest = level
		if level == facetMaxLevel {
			break
		}
	}
	return highest, nil
}

func (ft FacetTree) collect(b *kv.Bucket, level uint8, spanStart, spanEnd []byte, min, max []byte, includeMin, includeMax bool, out *roaring.Bitmap) error {
	entries, err := ft.scanSpan(b, level, spanStart, spanEnd)
	if err != nil {
		return err
	}
	for i, e := range entries {
		if max != nil && bytes.Compare(e.bound, max) > 0 {
			break
		}
		var childSpanEnd []byte
		if i+1 < len(entries) {
			childSpanEnd = entries[i+1].bound
		} else {
			childSpanEnd = spanEnd
		}
		if childSpanEnd != nil && min != nil && bytes.Compare(childSpanEnd, min) <= 0 {
			continue
		}
		if level == 0 {
			if geMin(e.bound, min, includeMin) && leMax(e.bound, max, includeMax) {
				out.Or(e.bitmap)
			}
			continue
		}
		if groupWhollyWithin(e.bound, childSpanEnd, min, max, includeMin, includeMax) {
			out.Or(e.bitmap)
			continue
		}
		if err := ft.collect(b, level-1, e.bound, childSpanEnd, min, max, includeMin, includeMax, out); err != nil {
			return err
		}
	}
	return nil
}

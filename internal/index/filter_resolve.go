package index

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/siftengine/sift/internal/codec"
	"github.com/siftengine/sift/internal/errors"
	"github.com/siftengine/sift/internal/kv"
)

// FilterContext bundles the buckets and field map ResolveFilter needs to
// turn a FilterExpr into a roaring.Bitmap of candidate docids. Exported so
// internal/search and internal/indexer can each build one from a
// transaction they already hold open.
type FilterContext struct {
	NumericTree *kv.Bucket
	StringTree  *kv.Bucket
	Fields      *FieldsIDsMap
	Settings    Settings
	AllDocids   *roaring.Bitmap
}

// ResolveFilter walks expr and returns the bitmap of documents it matches,
// per spec.md §4.6 step 2. Every leaf is resolved against fieldID's facet
// tree; And intersects, Or unions, Not complements against the index's full
// document set.
func ResolveFilter(expr FilterExpr, ctx FilterContext) (*roaring.Bitmap, error) {
	if expr == nil {
		return ctx.AllDocids.Clone(), nil
	}
	switch e := expr.(type) {
	case And:
		left, err := ResolveFilter(e.Left, ctx)
		if err != nil {
			return nil, err
		}
		right, err := ResolveFilter(e.Right, ctx)
		if err != nil {
			return nil, err
		}
		return roaring.And(left, right), nil
	case Or:
		left, err := ResolveFilter(e.Left, ctx)
		if err != nil {
			return nil, err
		}
		right, err := ResolveFilter(e.Right, ctx)
		if err != nil {
			return nil, err
		}
		return roaring.Or(left, right), nil
	case Not:
		inner, err := ResolveFilter(e.Expr, ctx)
		if err != nil {
			return nil, err
		}
		return roaring.AndNot(ctx.AllDocids, inner), nil
	case Exists:
		return ctx.resolveExists(e)
	case Comparison:
		return ctx.resolveComparison(e)
	case Range:
		return ctx.resolveRange(e)
	case In:
		return ctx.resolveIn(e)
	default:
		return nil, errors.New(errors.CodeInvalidSearchFilter, fmt.Sprintf("unsupported filter node %T", expr), nil)
	}
}

func (ctx FilterContext) fieldID(name string) (uint16, error) {
	if !ctx.isFilterable(name) {
		return 0, errors.New(errors.CodeInvalidSearchFilter, "attribute `"+name+"` is not filterable", nil)
	}
	id, ok := ctx.Fields.ID(name)
	if !ok {
		return ^uint16(0), nil // unknown field: an id no field holds, so every tree lookup is empty
	}
	return id, nil
}

func (ctx FilterContext) isFilterable(name string) bool {
	for _, f := range ctx.Settings.FilterableAttributes {
		if f == name {
			return true
		}
	}
	return false
}

func (ctx FilterContext) resolveExists(e Exists) (*roaring.Bitmap, error) {
	id, err := ctx.fieldID(e.Field)
	if err != nil {
		return nil, err
	}
	tree := NewFacetTree(id)
	numeric, err := tree.RangeBitmap(ctx.NumericTree, nil, nil, true, true)
	if err != nil {
		return nil, err
	}
	str, err := tree.RangeBitmap(ctx.StringTree, nil, nil, true, true)
	if err != nil {
		return nil, err
	}
	return roaring.Or(numeric, str), nil
}

// resolveComparison handles =, !=, >, >=, <, <= against either tree,
// depending on the comparison value's dynamic type.
func (ctx FilterContext) resolveComparison(e Comparison) (*roaring.Bitmap, error) {
	id, err := ctx.fieldID(e.Field)
	if err != nil {
		return nil, err
	}
	tree := NewFacetTree(id)

	var bm *roaring.Bitmap
	switch v := e.Value.(type) {
	case float64:
		bound := codec.EncodeOrderedFloat64(v)
		bm, err = numericComparisonBitmap(tree, ctx.NumericTree, e.Op, bound)
	case bool:
		bm, err = stringComparisonBitmap(tree, ctx.StringTree, e.Op, []byte(boolString(v)))
	case string:
		bm, err = stringComparisonBitmap(tree, ctx.StringTree, e.Op, []byte(v))
	default:
		return nil, errors.New(errors.CodeInvalidSearchFilter, "unsupported filter value type", nil)
	}
	if err != nil {
		return nil, err
	}

	if e.Op == OpNotEqual {
		return roaring.AndNot(ctx.AllDocids, bm), nil
	}
	return bm, nil
}

func numericComparisonBitmap(tree FacetTree, b *kv.Bucket, op CompareOp, bound []byte) (*roaring.Bitmap, error) {
	switch op {
	case OpEqual, OpNotEqual:
		return tree.RangeBitmap(b, bound, bound, true, true)
	case OpGreaterThan:
		return tree.RangeBitmap(b, bound, nil, false, true)
	case OpGreaterEqual:
		return tree.RangeBitmap(b, bound, nil, true, true)
	case OpLessThan:
		return tree.RangeBitmap(b, nil, bound, true, false)
	case OpLessEqual:
		return tree.RangeBitmap(b, nil, bound, true, true)
	default:
		return nil, errors.New(errors.CodeInvalidSearchFilter, "unsupported numeric operator", nil)
	}
}

// stringComparisonBitmap supports only equality/inequality: ordering over
// strings in a facet tree is lexicographic on raw bytes and spec.md does not
// define a "greater than" semantics for string attributes.
func stringComparisonBitmap(tree FacetTree, b *kv.Bucket, op CompareOp, bound []byte) (*roaring.Bitmap, error) {
	switch op {
	case OpEqual, OpNotEqual:
		return tree.RangeBitmap(b, bound, bound, true, true)
	default:
		return nil, errors.New(errors.CodeInvalidSearchFilter, "operator not supported on non-numeric attribute", nil)
	}
}

func (ctx FilterContext) resolveRange(e Range) (*roaring.Bitmap, error) {
	id, err := ctx.fieldID(e.Field)
	if err != nil {
		return nil, err
	}
	tree := NewFacetTree(id)
	min := codec.EncodeOrderedFloat64(e.Min)
	max := codec.EncodeOrderedFloat64(e.Max)
	return tree.RangeBitmap(ctx.NumericTree, min, max, true, true)
}

func (ctx FilterContext) resolveIn(e In) (*roaring.Bitmap, error) {
	id, err := ctx.fieldID(e.Field)
	if err != nil {
		return nil, err
	}
	tree := NewFacetTree(id)
	out := roaring.New()
	for _, v := range e.Values {
		var bound []byte
		var b *kv.Bucket
		switch val := v.(type) {
		case float64:
			bound = codec.EncodeOrderedFloat64(val)
			b = ctx.NumericTree
		case bool:
			bound = []byte(boolString(val))
			b = ctx.StringTree
		case string:
			bound = []byte(val)
			b = ctx.StringTree
		default:
			continue
		}
		bm, err := tree.RangeBitmap(b, bound, bound, true, true)
		if err != nil {
			return nil, err
		}
		out.Or(bm)
	}
	return out, nil
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

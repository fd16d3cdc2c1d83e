package index

import (
	"path/filepath"
	"testing"

	roaring "github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftengine/sift/internal/codec"
	"github.com/siftengine/sift/internal/kv"
)

func openFacetTestEnv(t *testing.T) *kv.Environment {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facet.db")
	env, err := kv.Open(path, kv.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	require.NoError(t, env.EnsureBuckets(BucketFacetNumericTree))
	return env
}

func numBound(f float64) []byte {
	return codec.EncodeOrderedFloat64(f)
}

func TestFacetTree_RebuildAll_BuildsLevelsAndPropagatesUnion(t *testing.T) {
	env := openFacetTestEnv(t)
	ft := NewFacetTree(7)

	values := map[string]*roaring.Bitmap{
		string(numBound(1)):  roaring.BitmapOf(10),
		string(numBound(2)):  roaring.BitmapOf(20),
		string(numBound(3)):  roaring.BitmapOf(30),
		string(numBound(4)):  roaring.BitmapOf(40),
		string(numBound(5)):  roaring.BitmapOf(50),
	}

	err := env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketFacetNumericTree)
		if err != nil {
			return err
		}
		return ft.RebuildAll(b, values)
	})
	require.NoError(t, err)

	err = env.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketFacetNumericTree)
		if err != nil {
			return err
		}
		level0, err := ft.scanLevel(b, 0)
		require.NoError(t, err)
		assert.Len(t, level0, 5)

		level1, err := ft.scanLevel(b, 1)
		require.NoError(t, err)
		// 5 leaves grouped by FacetGroupSize(4) -> 2 groups.
		assert.Len(t, level1, 2)

		union := roaring.New()
		for _, e := range level1 {
			union.Or(e.bitmap)
		}
		assert.True(t, union.Contains(10))
		assert.True(t, union.Contains(50))
		return nil
	})
	require.NoError(t, err)
}

func TestFacetTree_InsertOne_ExistingLeaf_PropagatesWithoutRestructure(t *testing.T) {
	env := openFacetTestEnv(t)
	ft := NewFacetTree(1)

	values := map[string]*roaring.Bitmap{
		string(numBound(1)): roaring.BitmapOf(1),
		string(numBound(2)): roaring.BitmapOf(2),
	}
	require.NoError(t, env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketFacetNumericTree)
		if err != nil {
			return err
		}
		return ft.RebuildAll(b, values)
	}))

	require.NoError(t, env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketFacetNumericTree)
		if err != nil {
			return err
		}
		return ft.InsertOne(b, numBound(1), 99)
	}))

	require.NoError(t, env.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketFacetNumericTree)
		if err != nil {
			return err
		}
		bm, err := ft.getBitmap(b, 0, numBound(1))
		require.NoError(t, err)
		assert.True(t, bm.Contains(1))
		assert.True(t, bm.Contains(99))
		return nil
	}))
}

func TestFacetTree_InsertOne_NewLeaf_ExtendsTree(t *testing.T) {
	env := openFacetTestEnv(t)
	ft := NewFacetTree(2)

	require.NoError(t, env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketFacetNumericTree)
		if err != nil {
			return err
		}
		return ft.InsertOne(b, numBound(1), 1)
	}))
	require.NoError(t, env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketFacetNumericTree)
		if err != nil {
			return err
		}
		return ft.InsertOne(b, numBound(2), 2)
	}))

	require.NoError(t, env.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketFacetNumericTree)
		if err != nil {
			return err
		}
		level0, err := ft.scanLevel(b, 0)
		require.NoError(t, err)
		assert.Len(t, level0, 2)

		bm, err := ft.RangeBitmap(b, numBound(1), numBound(2), true, true)
		require.NoError(t, err)
		assert.True(t, bm.Contains(1))
		assert.True(t, bm.Contains(2))
		return nil
	}))
}

func TestFacetTree_RemoveOne_ClearsLeafAndAncestors(t *testing.T) {
	env := openFacetTestEnv(t)
	ft := NewFacetTree(3)

	values := map[string]*roaring.Bitmap{
		string(numBound(1)): roaring.BitmapOf(1, 2),
		string(numBound(2)): roaring.BitmapOf(3),
	}
	require.NoError(t, env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketFacetNumericTree)
		if err != nil {
			return err
		}
		return ft.RebuildAll(b, values)
	}))

	require.NoError(t, env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketFacetNumericTree)
		if err != nil {
			return err
		}
		if err := ft.RemoveOne(b, numBound(1), 1); err != nil {
			return err
		}
		return ft.RemoveOne(b, numBound(1), 2)
	}))

	require.NoError(t, env.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketFacetNumericTree)
		if err != nil {
			return err
		}
		bm, err := ft.getBitmap(b, 0, numBound(1))
		require.NoError(t, err)
		assert.True(t, bm.IsEmpty())

		all, err := ft.RangeBitmap(b, nil, nil, true, true)
		require.NoError(t, err)
		assert.False(t, all.Contains(1))
		assert.False(t, all.Contains(2))
		assert.True(t, all.Contains(3))
		return nil
	}))
}

func TestFacetTree_RangeBitmap_RespectsBoundsAndExclusivity(t *testing.T) {
	env := openFacetTestEnv(t)
	ft := NewFacetTree(4)

	values := map[string]*roaring.Bitmap{
		string(numBound(1)): roaring.BitmapOf(1),
		string(numBound(2)): roaring.BitmapOf(2),
		string(numBound(3)): roaring.BitmapOf(3),
		string(numBound(4)): roaring.BitmapOf(4),
	}
	require.NoError(t, env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketFacetNumericTree)
		if err != nil {
			return err
		}
		return ft.RebuildAll(b, values)
	}))

	require.NoError(t, env.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketFacetNumericTree)
		if err != nil {
			return err
		}

		inclusive, err := ft.RangeBitmap(b, numBound(2), numBound(3), true, true)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uint32{2, 3}, inclusive.ToArray())

		exclusive, err := ft.RangeBitmap(b, numBound(2), numBound(3), false, false)
		require.NoError(t, err)
		assert.Empty(t, exclusive.ToArray())

		unbounded, err := ft.RangeBitmap(b, nil, numBound(2), true, true)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uint32{1, 2}, unbounded.ToArray())
		return nil
	}))
}

func TestShouldRebuild(t *testing.T) {
	assert.True(t, ShouldRebuild(0, 1))
	assert.False(t, ShouldRebuild(10000, 1))
	assert.True(t, ShouldRebuild(10000, 100))
}

package indexer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/kv"
)

func openFacetsTestEnv(t *testing.T) *kv.Environment {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facets.db")
	env, err := kv.Open(path, kv.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	require.NoError(t, env.EnsureBuckets(index.AllBuckets...))
	return env
}

func withFacetBuckets(t *testing.T, env *kv.Environment, fn func(fb facetBuckets) error) {
	t.Helper()
	require.NoError(t, env.Update(func(tx *kv.Tx) error {
		fb, err := openFacetBuckets(tx)
		if err != nil {
			return err
		}
		return fn(fb)
	}))
}

func TestIndexFacetValue_Numeric_RoundTrips(t *testing.T) {
	env := openFacetsTestEnv(t)

	withFacetBuckets(t, env, func(fb facetBuckets) error {
		return IndexFacetValue(fb, 3, 7, float64(42))
	})

	withFacetBuckets(t, env, func(fb facetBuckets) error {
		tree := index.NewFacetTree(3)
		bm, err := tree.RangeBitmap(fb.numericTree, nil, nil, true, true)
		require.NoError(t, err)
		assert.True(t, bm.Contains(7))
		return nil
	})
}

func TestIndexFacetValue_String_RoundTrips(t *testing.T) {
	env := openFacetsTestEnv(t)

	withFacetBuckets(t, env, func(fb facetBuckets) error {
		return IndexFacetValue(fb, 5, 11, "blue")
	})

	withFacetBuckets(t, env, func(fb facetBuckets) error {
		tree := index.NewFacetTree(5)
		bm, err := tree.RangeBitmap(fb.stringTree, []byte("blue"), []byte("blue"), true, true)
		require.NoError(t, err)
		assert.True(t, bm.Contains(11))
		return nil
	})
}

func TestIndexFacetValue_Bool_IndexedAsString(t *testing.T) {
	env := openFacetsTestEnv(t)

	withFacetBuckets(t, env, func(fb facetBuckets) error {
		return IndexFacetValue(fb, 2, 1, true)
	})

	withFacetBuckets(t, env, func(fb facetBuckets) error {
		tree := index.NewFacetTree(2)
		bm, err := tree.RangeBitmap(fb.stringTree, []byte("true"), []byte("true"), true, true)
		require.NoError(t, err)
		assert.True(t, bm.Contains(1))
		return nil
	})
}

func TestIndexFacetValue_Array_IndexesEveryElement(t *testing.T) {
	env := openFacetsTestEnv(t)

	withFacetBuckets(t, env, func(fb facetBuckets) error {
		return IndexFacetValue(fb, 4, 9, []any{"red", "green"})
	})

	withFacetBuckets(t, env, func(fb facetBuckets) error {
		tree := index.NewFacetTree(4)
		red, err := tree.RangeBitmap(fb.stringTree, []byte("red"), []byte("red"), true, true)
		require.NoError(t, err)
		assert.True(t, red.Contains(9))
		green, err := tree.RangeBitmap(fb.stringTree, []byte("green"), []byte("green"), true, true)
		require.NoError(t, err)
		assert.True(t, green.Contains(9))
		return nil
	})
}

func TestRemoveFacetValue_ClearsTreeAndExactEntry(t *testing.T) {
	env := openFacetsTestEnv(t)

	withFacetBuckets(t, env, func(fb facetBuckets) error {
		return IndexFacetValue(fb, 6, 2, float64(3.5))
	})
	withFacetBuckets(t, env, func(fb facetBuckets) error {
		return RemoveFacetValue(fb, 6, 2)
	})

	withFacetBuckets(t, env, func(fb facetBuckets) error {
		tree := index.NewFacetTree(6)
		bm, err := tree.RangeBitmap(fb.numericTree, nil, nil, true, true)
		require.NoError(t, err)
		assert.False(t, bm.Contains(2))
		assert.Nil(t, fb.exactF64.Get(exactFacetKey(6, 2)))
		return nil
	})
}

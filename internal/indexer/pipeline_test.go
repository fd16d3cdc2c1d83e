package indexer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/kv"
)

func openPipelineTestIndex(t *testing.T) *index.Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.db")
	idx, err := index.Create("movies", path, "id")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestAddDocuments_NewDocument_Added(t *testing.T) {
	idx := openPipelineTestIndex(t)
	p := New(idx)

	result, err := p.AddDocuments(t.Context(), []index.Document{
		{"id": "1", "title": "The Great Gatsby", "year": float64(1925)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 0, result.Updated)

	n, err := idx.NumberOfDocuments()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestAddDocuments_SamePrimaryKey_Updates(t *testing.T) {
	idx := openPipelineTestIndex(t)
	p := New(idx)

	_, err := p.AddDocuments(t.Context(), []index.Document{
		{"id": "1", "title": "Old Title"},
	})
	require.NoError(t, err)

	result, err := p.AddDocuments(t.Context(), []index.Document{
		{"id": "1", "title": "New Title"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 1, result.Updated)

	n, err := idx.NumberOfDocuments()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestAddDocuments_TextIsSearchable(t *testing.T) {
	idx := openPipelineTestIndex(t)
	p := New(idx)

	_, err := p.AddDocuments(t.Context(), []index.Document{
		{"id": "1", "title": "The Great Gatsby"},
	})
	require.NoError(t, err)

	require.NoError(t, idx.Env().View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(index.BucketWordDocids)
		if err != nil {
			return err
		}
		bm, err := getBitmapEntry(b, wordKey("gatsby"))
		if err != nil {
			return err
		}
		assert.True(t, bm.Contains(1))
		return nil
	}))
}

func TestAddDocuments_MissingPrimaryKey_Errors(t *testing.T) {
	idx := openPipelineTestIndex(t)
	p := New(idx)

	_, err := p.AddDocuments(t.Context(), []index.Document{
		{"title": "No id here"},
	})
	assert.Error(t, err)
}

func TestDeleteDocuments_RemovesDocument(t *testing.T) {
	idx := openPipelineTestIndex(t)
	p := New(idx)

	_, err := p.AddDocuments(t.Context(), []index.Document{
		{"id": "1", "title": "Gatsby"},
		{"id": "2", "title": "Emma"},
	})
	require.NoError(t, err)

	deleted, err := p.DeleteDocuments(t.Context(), []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	n, err := idx.NumberOfDocuments()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestDeleteDocuments_UnknownID_Ignored(t *testing.T) {
	idx := openPipelineTestIndex(t)
	p := New(idx)

	deleted, err := p.DeleteDocuments(t.Context(), []string{"nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestClear_RemovesAllDocumentsKeepsSettings(t *testing.T) {
	idx := openPipelineTestIndex(t)
	p := New(idx)

	settings, err := idx.Settings()
	require.NoError(t, err)
	settings.SearchableAttributes = []string{"title"}
	require.NoError(t, idx.PutSettings(settings))

	_, err = p.AddDocuments(t.Context(), []index.Document{
		{"id": "1", "title": "Gatsby"},
	})
	require.NoError(t, err)

	require.NoError(t, p.Clear(t.Context()))

	n, err := idx.NumberOfDocuments()
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	after, err := idx.Settings()
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, after.SearchableAttributes)
}

func TestUpdateSettings_StopWordsChange_PersistsSettings(t *testing.T) {
	idx := openPipelineTestIndex(t)
	p := New(idx)

	_, err := p.AddDocuments(t.Context(), []index.Document{
		{"id": "1", "title": "Gatsby", "author": "Fitzgerald"},
	})
	require.NoError(t, err)

	settings, err := idx.Settings()
	require.NoError(t, err)
	settings.StopWords = []string{"the"}
	require.NoError(t, p.UpdateSettings(t.Context(), settings))

	after, err := idx.Settings()
	require.NoError(t, err)
	assert.Equal(t, []string{"the"}, after.StopWords)
}

func TestUpdateSettings_DisplayedAttributesOnly_NoReindexNeeded(t *testing.T) {
	idx := openPipelineTestIndex(t)
	p := New(idx)

	_, err := p.AddDocuments(t.Context(), []index.Document{
		{"id": "1", "title": "Gatsby"},
	})
	require.NoError(t, err)

	settings, err := idx.Settings()
	require.NoError(t, err)
	settings.DisplayedAttributes = []string{"title"}
	require.NoError(t, p.UpdateSettings(t.Context(), settings))

	after, err := idx.Settings()
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, after.DisplayedAttributes)
}

func TestAddDocuments_FilterableAttribute_IsIndexedInFacetTree(t *testing.T) {
	idx := openPipelineTestIndex(t)
	p := New(idx)

	settings, err := idx.Settings()
	require.NoError(t, err)
	settings.FilterableAttributes = []string{"year"}
	require.NoError(t, idx.PutSettings(settings))

	_, err = p.AddDocuments(t.Context(), []index.Document{
		{"id": "1", "year": float64(1925)},
	})
	require.NoError(t, err)

	fields, err := idx.FieldsIDsMap()
	require.NoError(t, err)
	fieldID, ok := fields.ID("year")
	require.True(t, ok)

	require.NoError(t, idx.Env().View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(index.BucketFacetNumericTree)
		if err != nil {
			return err
		}
		tree := index.NewFacetTree(fieldID)
		bm, err := tree.RangeBitmap(b, nil, nil, true, true)
		if err != nil {
			return err
		}
		assert.True(t, bm.Contains(1))
		return nil
	}))
}

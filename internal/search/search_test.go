package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/indexer"
)

func openSearchTestIndex(t *testing.T) *index.Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movies.db")
	idx, err := index.Create("movies", path, "id")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func seedMovies(t *testing.T, idx *index.Index) {
	t.Helper()
	settings, err := idx.Settings()
	require.NoError(t, err)
	settings.SearchableAttributes = []string{"title", "overview"}
	settings.FilterableAttributes = []string{"genre", "rating"}
	settings.SortableAttributes = []string{"rating"}
	require.NoError(t, idx.PutSettings(settings))

	p := indexer.New(idx)
	docs := []index.Document{
		{"id": "1", "title": "Interstellar", "overview": "a crew travels through a wormhole", "genre": "scifi", "rating": 8.6},
		{"id": "2", "title": "Interceptor", "overview": "a soldier stops a nuclear threat", "genre": "action", "rating": 5.2},
		{"id": "3", "title": "Arrival", "overview": "a linguist deciphers an alien language", "genre": "scifi", "rating": 7.9},
	}
	_, err = p.AddDocuments(context.Background(), docs)
	require.NoError(t, err)
}

func TestSearcherSearchKeywordMatch(t *testing.T) {
	idx := openSearchTestIndex(t)
	seedMovies(t, idx)

	s := NewSearcher(idx, 4)
	res, err := s.Search(context.Background(), Query{Q: "interstellar"})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "Interstellar", res.Hits[0].Document["title"])
}

func TestSearcherSearchFilterNarrowsResults(t *testing.T) {
	idx := openSearchTestIndex(t)
	seedMovies(t, idx)

	s := NewSearcher(idx, 4)
	res, err := s.Search(context.Background(), Query{Filter: `genre = "scifi"`})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 2)
}

func TestSearcherSearchSortDescending(t *testing.T) {
	idx := openSearchTestIndex(t)
	seedMovies(t, idx)

	s := NewSearcher(idx, 4)
	res, err := s.Search(context.Background(), Query{
		Filter: `genre = "scifi"`,
		Sort:   []SortCriterion{{Field: "rating", Descending: true}},
	})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "Interstellar", res.Hits[0].Document["title"])
	assert.Equal(t, "Arrival", res.Hits[1].Document["title"])
}

func TestSearcherSearchFacetDistribution(t *testing.T) {
	idx := openSearchTestIndex(t)
	seedMovies(t, idx)

	s := NewSearcher(idx, 4)
	res, err := s.Search(context.Background(), Query{Facets: []string{"genre"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"scifi": 2, "action": 1}, res.FacetDistribution["genre"])
}

func TestSearcherSearchPagination(t *testing.T) {
	idx := openSearchTestIndex(t)
	seedMovies(t, idx)

	s := NewSearcher(idx, 4)
	res, err := s.Search(context.Background(), Query{Limit: 1, Offset: 0})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 1)
	assert.Equal(t, 3, res.EstimatedTotalHits)
}

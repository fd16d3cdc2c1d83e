package federation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/indexer"
	"github.com/siftengine/sift/internal/kv"
	"github.com/siftengine/sift/internal/search"
)

type fakeProvider struct {
	indexes   map[string]*index.Index
	searchers map[string]*search.Searcher
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{indexes: map[string]*index.Index{}, searchers: map[string]*search.Searcher{}}
	return p
}

func (p *fakeProvider) addIndex(t *testing.T, dir, name string, docs []index.Document) {
	t.Helper()
	idx, err := index.Create(name, filepath.Join(dir, name+".db"), "id")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	settings, err := idx.Settings()
	require.NoError(t, err)
	settings.SearchableAttributes = []string{"title"}
	settings.FilterableAttributes = []string{"id"}
	require.NoError(t, idx.PutSettings(settings))

	pipeline := indexer.New(idx)
	_, err = pipeline.AddDocuments(context.Background(), docs)
	require.NoError(t, err)

	p.indexes[name] = idx
	p.searchers[name] = search.NewSearcher(idx, 4)
}

func (p *fakeProvider) Searcher(indexUID string) (*search.Searcher, error) {
	return p.searchers[indexUID], nil
}

func (p *fakeProvider) RankingRules(indexUID string) ([]search.RankingRule, error) {
	settings, err := p.indexes[indexUID].Settings()
	if err != nil {
		return nil, err
	}
	return search.ParseRankingRules(settings.RankingRules), nil
}

func (p *fakeProvider) InternalDocID(indexUID, externalID string) (uint32, bool) {
	idx := p.indexes[indexUID]
	var id uint32
	var ok bool
	_ = idx.Env().View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(index.BucketExternalIDs)
		if err != nil {
			return err
		}
		id, ok = index.InternalID(b, externalID)
		return nil
	})
	return id, ok
}

func TestRunMergesAcrossTwoIndexes(t *testing.T) {
	dir := t.TempDir()
	p := newFakeProvider(t)
	p.addIndex(t, dir, "movies", []index.Document{
		{"id": "1", "title": "Star Wars"},
		{"id": "2", "title": "Star Trek"},
	})
	p.addIndex(t, dir, "books", []index.Document{
		{"id": "1", "title": "Star Maker"},
	})

	queries := []FederatedQuery{
		{IndexUID: "movies", Query: search.Query{Q: "star"}, Weight: 1.0},
		{IndexUID: "books", Query: search.Query{Q: "star"}, Weight: 1.0},
	}

	result, err := Run(context.Background(), p, queries, Options{Limit: 10}, nil)
	require.NoError(t, err)
	assert.Len(t, result.Hits, 3)
}

func TestRunRejectsIncompatibleRankingRules(t *testing.T) {
	dir := t.TempDir()
	p := newFakeProvider(t)
	p.addIndex(t, dir, "movies", []index.Document{{"id": "1", "title": "Star Wars"}})
	p.addIndex(t, dir, "books", []index.Document{{"id": "1", "title": "Star Maker"}})

	queries := []FederatedQuery{
		{IndexUID: "movies", Query: search.Query{Q: "star"}, Weight: 1.0},
		{IndexUID: "books", Query: search.Query{Sort: []search.SortCriterion{{Field: "title"}}}, Weight: 1.0},
	}

	_, err := Run(context.Background(), p, queries, Options{Limit: 10}, nil)
	assert.Error(t, err)
}

func TestRunAppliesBoostRule(t *testing.T) {
	dir := t.TempDir()
	p := newFakeProvider(t)
	p.addIndex(t, dir, "movies", []index.Document{
		{"id": "1", "title": "Star Wars"},
	})

	queries := []FederatedQuery{
		{IndexUID: "movies", Query: search.Query{Q: "star"}, Weight: 1.0},
	}
	rules := []Rule{{IndexUID: "movies", Action: ActionBoost, Filter: `id = "1"`, Factor: 5.0}}

	result, err := Run(context.Background(), p, queries, Options{Limit: 10}, rules)
	require.NoError(t, err)
	assert.Len(t, result.Hits, 1)
}

package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/siftengine/sift/internal/search"
)

func hitWithScore(docID uint32, words, typo float64) search.Hit {
	return search.Hit{
		DocID: docID,
		ScoreDetails: &search.ScoreDetails{
			Words: &search.RuleScore{Score: words},
			Typo:  &search.RuleScore{Score: typo},
		},
	}
}

func TestMergeOrdersByWeightedScoreDescending(t *testing.T) {
	results := []queryResult{
		{IndexUID: "movies", Weight: 1.0, Hits: []search.Hit{hitWithScore(1, 0.5, 1.0)}},
		{IndexUID: "books", Weight: 1.0, Hits: []search.Hit{hitWithScore(2, 0.9, 1.0)}},
	}
	merged, _, _ := Merge(results, 10, 0)
	if assert.Len(t, merged, 2) {
		assert.Equal(t, uint32(2), merged[0].DocID)
		assert.Equal(t, uint32(1), merged[1].DocID)
	}
}

func TestMergeAppliesQueryWeight(t *testing.T) {
	results := []queryResult{
		{IndexUID: "movies", Weight: 1.0, Hits: []search.Hit{hitWithScore(1, 0.5, 1.0)}},
		{IndexUID: "books", Weight: 3.0, Hits: []search.Hit{hitWithScore(2, 0.2, 1.0)}},
	}
	merged, _, _ := Merge(results, 10, 0)
	if assert.Len(t, merged, 2) {
		assert.Equal(t, uint32(2), merged[0].DocID, "books hit should win after its weight multiplies the proximity-free comparison")
	}
}

func TestMergeDedupesByIndexAndDocID(t *testing.T) {
	results := []queryResult{
		{IndexUID: "movies", Weight: 1.0, Hits: []search.Hit{hitWithScore(1, 0.9, 1.0)}},
		{IndexUID: "movies", Weight: 1.0, Hits: []search.Hit{hitWithScore(1, 0.1, 1.0)}},
	}
	merged, _, _ := Merge(results, 10, 0)
	assert.Len(t, merged, 1)
	assert.Equal(t, 0.9, merged[0].ScoreDetails.Words.Score, "first occurrence (higher-ranked sub-query) wins")
}

func TestMergeDoesNotDedupeSameDocIDAcrossDifferentIndexes(t *testing.T) {
	results := []queryResult{
		{IndexUID: "movies", Weight: 1.0, Hits: []search.Hit{hitWithScore(1, 0.9, 1.0)}},
		{IndexUID: "books", Weight: 1.0, Hits: []search.Hit{hitWithScore(1, 0.1, 1.0)}},
	}
	merged, _, _ := Merge(results, 10, 0)
	assert.Len(t, merged, 2)
}

func TestMergeRespectsLimitAndOffset(t *testing.T) {
	results := []queryResult{
		{IndexUID: "movies", Weight: 1.0, EstTotal: 3, Hits: []search.Hit{
			hitWithScore(1, 0.9, 1.0),
			hitWithScore(2, 0.8, 1.0),
			hitWithScore(3, 0.7, 1.0),
		}},
	}
	merged, total, _ := Merge(results, 1, 1)
	assert.Equal(t, 3, total)
	if assert.Len(t, merged, 1) {
		assert.Equal(t, uint32(2), merged[0].DocID)
	}
}

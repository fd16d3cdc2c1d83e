package search

import (
	"math"

	"github.com/coder/hnsw"

	"github.com/siftengine/sift/internal/indexer"
	"github.com/siftengine/sift/internal/kv"
)

// VectorResult is one document's similarity to a query vector.
type VectorResult struct {
	DocID    uint32
	Distance float32
	Score    float32
}

// buildVectorGraph constructs an HNSW graph over every document's vector
// stored under embedderName, keyed directly by internal docid. Unlike a
// persistent vector store, the graph holds no state across requests: it is
// rebuilt from internal/indexer's postings each time a semantic query runs,
// since sift keeps the vectors themselves as the source of truth rather
// than maintaining a second on-disk index to stay in sync.
func buildVectorGraph(b *kv.Bucket, embedderName string) (*hnsw.Graph[uint64], error) {
	vectors, err := indexer.AllVectors(b, embedderName)
	if err != nil {
		return nil, err
	}
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	for docID, vec := range vectors {
		normalized := make([]float32, len(vec))
		copy(normalized, vec)
		normalizeVectorInPlace(normalized)
		graph.Add(hnsw.MakeNode(uint64(docID), normalized))
	}
	return graph, nil
}

// searchVectorGraph returns the k nearest documents to query, sorted by
// descending similarity score.
func searchVectorGraph(graph *hnsw.Graph[uint64], query []float32, k int) []VectorResult {
	if graph.Len() == 0 {
		return nil
	}
	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	nodes := graph.Search(normalized, k)
	out := make([]VectorResult, 0, len(nodes))
	for _, node := range nodes {
		distance := graph.Distance(normalized, node.Value)
		out = append(out, VectorResult{
			DocID:    uint32(node.Key),
			Distance: distance,
			Score:    cosineDistanceToScore(distance),
		})
	}
	return out
}

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// cosineDistanceToScore maps coder/hnsw's 0..2 cosine distance range to a
// 0..1 similarity score, matching spec.md's "semantic-only replaces
// relevancy rules with cosine-distance ordering" rule.
func cosineDistanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}

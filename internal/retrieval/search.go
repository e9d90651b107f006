package retrieval

import (
	"container/heap"
	"math"
	"sort"
)

// ScoredChunk is a retrieved chunk with its cosine similarity to the query.
type ScoredChunk struct {
	Position int     `json:"position"`
	Text     string  `json:"text"`
	Score    float32 `json:"score"`
}

// Search returns the topK chunks most similar to vector, best first. Equal
// scores are ordered by lower position. topK is clamped to the index size.
func (idx *Index) Search(vector []float32, topK int) []ScoredChunk {
	n := idx.Len()
	if n == 0 || topK <= 0 {
		return nil
	}
	if topK > n {
		topK = n
	}

	queryNorm := norm(vector)
	h := &scoredHeap{}
	heap.Init(h)

	for i, v := range idx.Vectors {
		score := cosine(vector, v, queryNorm)
		if h.Len() < topK {
			heap.Push(h, ScoredChunk{Position: i, Score: score})
		} else if score > (*h)[0].Score {
			// Positions only grow during the scan, so an equal score never
			// displaces an earlier chunk.
			(*h)[0] = ScoredChunk{Position: i, Score: score}
			heap.Fix(h, 0)
		}
	}

	results := make([]ScoredChunk, h.Len())
	copy(results, *h)
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Position < results[j].Position
	})
	for i := range results {
		results[i].Text = idx.Chunks[results[i].Position]
	}
	return results
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is the precomputed L2
// norm of a. A zero vector on either side scores 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// scoredHeap is a min-heap of ScoredChunk. The root is the weakest
// candidate: the lowest score, and among equal scores the highest position.
type scoredHeap []ScoredChunk

func (h scoredHeap) Len() int { return len(h) }
func (h scoredHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Position > h[j].Position
}
func (h scoredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)   { *h = append(*h, x.(ScoredChunk)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

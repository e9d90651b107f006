package retrieval

import (
	"context"
	"fmt"
)

// Retriever combines query embedding and index search.
type Retriever struct {
	embedder *Embedder
	index    *Index
}

// NewRetriever creates a Retriever over an immutable index.
func NewRetriever(embedder *Embedder, index *Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Index returns the index the retriever searches.
func (r *Retriever) Index() *Index { return r.index }

// Retrieve embeds the query and returns the top-K most similar chunks. An
// empty index returns nil without calling the embedder.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	if r.index.Len() == 0 {
		return nil, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if d := r.index.Header.Dimensions; len(vec) != d {
		return nil, fmt.Errorf("query embedded with %d dimensions, index has %d", len(vec), d)
	}

	return r.index.Search(vec, topK), nil
}

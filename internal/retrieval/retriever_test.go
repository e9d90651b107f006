package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/finrag/internal/engine"
)

// fixedIndex builds an index from hand-written vectors.
func fixedIndex(vecs ...[]float32) *Index {
	idx := &Index{Header: Header{Model: "m", Dimensions: len(vecs[0]), Count: len(vecs)}}
	for i, v := range vecs {
		idx.Chunks = append(idx.Chunks, string(rune('a'+i)))
		idx.Vectors = append(idx.Vectors, v)
	}
	return idx
}

func TestSearch_OrderAndTies(t *testing.T) {
	idx := fixedIndex(
		[]float32{0, 1},  // 0: orthogonal
		[]float32{1, 0},  // 1: exact
		[]float32{2, 0},  // 2: exact, same score as 1
		[]float32{-1, 0}, // 3: opposite
		[]float32{1, 1},  // 4: 0.707
	)

	got := idx.Search([]float32{1, 0}, 3)
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	wantPos := []int{1, 2, 4}
	for i, p := range wantPos {
		if got[i].Position != p {
			t.Errorf("result %d position = %d, want %d (%+v)", i, got[i].Position, p, got)
		}
	}
	if got[0].Text != "b" {
		t.Errorf("Text = %q, want b", got[0].Text)
	}
	if got[0].Score < 0.999 {
		t.Errorf("score = %f, want ~1", got[0].Score)
	}
}

func TestSearch_ClampAndRange(t *testing.T) {
	idx := fixedIndex([]float32{1, 0}, []float32{-1, 0})

	got := idx.Search([]float32{1, 0}, 10)
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[1].Score > -0.999 {
		t.Errorf("opposite vector score = %f, want ~-1", got[1].Score)
	}
	if idx.Search([]float32{1, 0}, 0) != nil {
		t.Error("topK=0 should return nil")
	}
}

func TestSearch_ZeroQuery(t *testing.T) {
	idx := fixedIndex([]float32{1, 0}, []float32{0, 1}, []float32{1, 1})

	got := idx.Search([]float32{0, 0}, 3)
	for i, r := range got {
		if r.Score != 0 {
			t.Errorf("result %d score = %f, want 0", i, r.Score)
		}
		if r.Position != i {
			t.Errorf("result %d position = %d, want %d", i, r.Position, i)
		}
	}
}

func TestRetrieve(t *testing.T) {
	e, idx := buildHashIndex(t, sampleChunks)
	r := NewRetriever(e, idx)

	got, err := r.Retrieve(context.Background(), "What is the total income?", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].Text != "Total income: $1000" {
		t.Errorf("top chunk = %q, want Total income: $1000", got[0].Text)
	}
	if got[0].Score < got[1].Score {
		t.Error("results not sorted by score")
	}
}

func TestRetrieve_EmptyIndexSkipsEmbedder(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			t.Fatal("embedder should not be called")
			return nil, nil
		},
	}
	r := NewRetriever(NewEmbedder(mock, "m"), &Index{})
	got, err := r.Retrieve(context.Background(), "anything", 3)
	if err != nil || got != nil {
		t.Errorf("Retrieve = %v, %v; want nil, nil", got, err)
	}
}

func TestRetrieve_EmbedError(t *testing.T) {
	wantErr := errors.New("connection refused")
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, wantErr
		},
	}
	r := NewRetriever(NewEmbedder(mock, "m"), fixedIndex([]float32{1, 0}))
	if _, err := r.Retrieve(context.Background(), "q", 1); !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want wrapping %v", err, wantErr)
	}
}

func TestRetrieve_DimensionMismatch(t *testing.T) {
	r := NewRetriever(NewEmbedder(engine.NewHashEngine(8), engine.HashModel), fixedIndex([]float32{1, 0}))
	if _, err := r.Retrieve(context.Background(), "total income", 1); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

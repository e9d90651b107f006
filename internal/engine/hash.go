package engine

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// HashModel is the model name HashEngine reports and accepts.
const HashModel = "hash-bow"

// DefaultHashDimensions is the vector width used when none is configured.
const DefaultHashDimensions = 512

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "for", "to", "of", "in", "on",
		"at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "it",
		"this", "that", "from", "what", "which", "how", "do", "does", "did", "my",
		"me", "i", "you", "your", "much", "many", "tell", "show", "please",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// HashEngine is an in-process embedder that maps text to a fixed-width
// bag-of-words vector using feature hashing. It needs no vocabulary, so
// vectors from separate processes are comparable as long as the width
// matches. Vectors are L2-normalized; text with no tokens yields a zero vector.
type HashEngine struct {
	dims int
}

// NewHashEngine creates a HashEngine producing vectors of the given width.
// A non-positive width falls back to DefaultHashDimensions.
func NewHashEngine(dims int) *HashEngine {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEngine{dims: dims}
}

// Dimensions returns the vector width.
func (e *HashEngine) Dimensions() int { return e.dims }

func (e *HashEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if model != "" && model != HashModel {
		return nil, fmt.Errorf("hash engine: unknown model %q", model)
	}

	vec := make([]float32, e.dims)
	for _, tok := range tokenize(text) {
		h := xxhash.Sum64String(tok)
		idx := int(h % uint64(e.dims))
		// The top bit picks the sign so colliding tokens tend to cancel
		// rather than accumulate.
		if h>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

func (e *HashEngine) IsRunning(context.Context) bool { return true }

func (e *HashEngine) ListModels(context.Context) ([]string, error) {
	return []string{HashModel}, nil
}

func (e *HashEngine) HasModel(_ context.Context, name string) bool {
	return name == HashModel
}

func (e *HashEngine) PullModel(_ context.Context, name string, onProgress func(PullProgress)) error {
	if name != HashModel {
		return fmt.Errorf("hash engine: cannot pull %q", name)
	}
	if onProgress != nil {
		onProgress(PullProgress{Status: "success"})
	}
	return nil
}

func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

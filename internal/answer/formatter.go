// Package answer turns retrieved chunks into a single deterministic answer.
package answer

import (
	"github.com/kalambet/finrag/internal/ledger"
	"github.com/kalambet/finrag/internal/retrieval"
)

// DefaultThreshold is the minimum similarity a chunk needs to be considered.
const DefaultThreshold float32 = 0.2

// NotFoundMessage is returned when no chunk clears the threshold.
const NotFoundMessage = "I couldn't find relevant financial information for your query."

// Reason records how an answer was produced.
type Reason string

const (
	// Matched means a retrieved chunk carrying the expected marker was returned verbatim.
	Matched Reason = "matched"
	// Computed means the answer was recomputed from the parsed records.
	Computed Reason = "computed"
	// Fallback means the highest-scoring chunk was returned as is.
	Fallback Reason = "fallback"
	// NotFound means nothing cleared the similarity threshold.
	NotFound Reason = "not_found"
)

// Result is a formatted answer.
type Result struct {
	Text   string `json:"answer"`
	Reason Reason `json:"reason"`
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithThreshold overrides DefaultThreshold. Chunks scoring at or below the
// threshold are discarded.
func WithThreshold(t float32) Option {
	return func(f *Formatter) { f.threshold = t }
}

// Formatter applies the answer rules against one parsed book. It is
// immutable and safe for concurrent use.
type Formatter struct {
	book      ledger.Book
	threshold float32
	rules     []rule
}

// NewFormatter creates a Formatter that recomputes answers from book when
// no retrieved chunk carries the needed figure.
func NewFormatter(book ledger.Book, opts ...Option) *Formatter {
	f := &Formatter{book: book, threshold: DefaultThreshold}
	for _, o := range opts {
		o(f)
	}
	f.rules = defaultRules()
	return f
}

// Threshold returns the similarity cut-off in use.
func (f *Formatter) Threshold() float32 { return f.threshold }

// Format picks or synthesizes the answer for query from scored, which must
// be ordered best first.
func (f *Formatter) Format(query string, scored []retrieval.ScoredChunk) Result {
	var texts []string
	for _, s := range scored {
		if s.Score > f.threshold {
			texts = append(texts, s.Text)
		}
	}
	if len(texts) == 0 {
		return Result{Text: NotFoundMessage, Reason: NotFound}
	}

	q := classify(query)
	for _, r := range f.rules {
		if !r.applies(q) {
			continue
		}
		if res, ok := r.handle(f, q, texts); ok {
			return res
		}
	}
	return Result{Text: NotFoundMessage, Reason: NotFound}
}

// Package pipeline wires parsing, chunk synthesis, the embedding index and
// answer formatting into the Assistant, the handle every surface queries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/finrag/internal/answer"
	"github.com/kalambet/finrag/internal/corpus"
	"github.com/kalambet/finrag/internal/intent"
	"github.com/kalambet/finrag/internal/ledger"
	"github.com/kalambet/finrag/internal/retrieval"
)

var (
	// ErrNotReady is returned when a query arrives before the first Initialize.
	ErrNotReady = errors.New("assistant is not initialized")
	// ErrEmbeddingUnavailable wraps failures of the embedding backend.
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")
	// ErrMalformedQuery is returned for empty queries and unknown intents.
	ErrMalformedQuery = errors.New("malformed query")
	// ErrExitRequested is returned by Execute for the exit intent.
	ErrExitRequested = errors.New("exit requested")
)

// IndexStore persists the most recent index across restarts.
type IndexStore interface {
	Load(ctx context.Context) (*retrieval.Index, error)
	Save(ctx context.Context, idx *retrieval.Index) error
}

// Config holds Assistant tuning.
type Config struct {
	TopK      int            // chunks retrieved per query, default 5
	Threshold float32        // similarity cut-off, default answer.DefaultThreshold
	Parser    *ledger.Parser // default uses the embedded category table
}

// state is one immutable generation of the corpus. Queries read it through
// an atomic pointer; Initialize replaces it wholesale.
type state struct {
	source    string
	book      ledger.Book
	index     *retrieval.Index
	retriever *retrieval.Retriever
	formatter *answer.Formatter
	loadedAt  time.Time
	fromCache bool
}

// Assistant answers questions over one corpus. It is safe for concurrent
// use: queries never block on a rebuild, and rebuilds run one at a time.
type Assistant struct {
	embedder *retrieval.Embedder
	cache    IndexStore
	parser   *ledger.Parser
	topK     int
	opts     []answer.Option
	logger   *slog.Logger

	mu    sync.Mutex
	state atomic.Pointer[state]
}

// New creates an Assistant. cache may be nil, in which case every
// Initialize embeds the corpus.
func New(embedder *retrieval.Embedder, cache IndexStore, cfg Config) *Assistant {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Parser == nil {
		cfg.Parser = ledger.NewParser(ledger.DefaultCategorizer())
	}
	var opts []answer.Option
	if cfg.Threshold > 0 {
		opts = append(opts, answer.WithThreshold(cfg.Threshold))
	}
	return &Assistant{
		embedder: embedder,
		cache:    cache,
		parser:   cfg.Parser,
		topK:     cfg.TopK,
		opts:     opts,
		logger:   slog.Default(),
	}
}

// Initialize loads and parses the corpus from src and makes it queryable.
// Unless forceReload is set, an index built by the same model over the same
// chunks is reused from memory or the cache instead of re-embedding.
func (a *Assistant) Initialize(ctx context.Context, src corpus.Source, forceReload bool) (*retrieval.Index, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	raw, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading corpus %s: %w", src, err)
	}
	book := a.parser.Parse(raw)
	chunks := corpus.Synthesize(book)
	hash := corpus.Hash(chunks)
	model := a.embedder.Model()

	idx, fromCache := a.reusable(ctx, model, hash, forceReload)
	if idx == nil {
		start := time.Now()
		idx, err = retrieval.Build(ctx, a.embedder, chunks, hash)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
		}
		a.logger.Info("index built",
			"source", src.String(),
			"chunks", idx.Len(),
			"model", model,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		if a.cache != nil {
			if err := a.cache.Save(ctx, idx); err != nil {
				a.logger.Warn("saving index cache failed", "error", err)
			}
		}
	}

	a.state.Store(&state{
		source:    src.String(),
		book:      book,
		index:     idx,
		retriever: retrieval.NewRetriever(a.embedder, idx),
		formatter: answer.NewFormatter(book, a.opts...),
		loadedAt:  time.Now(),
		fromCache: fromCache,
	})
	return idx, nil
}

// reusable returns an existing index for (model, hash), checking the live
// state first and then the cache. The bool reports a cache hit.
func (a *Assistant) reusable(ctx context.Context, model, hash string, forceReload bool) (*retrieval.Index, bool) {
	if forceReload {
		return nil, false
	}
	if cur := a.state.Load(); cur != nil && cur.index.Compatible(model, hash) {
		return cur.index, cur.fromCache
	}
	if a.cache == nil {
		return nil, false
	}
	idx, err := a.cache.Load(ctx)
	switch {
	case errors.Is(err, retrieval.ErrNoIndex):
		return nil, false
	case err != nil:
		a.logger.Warn("loading index cache failed, rebuilding", "error", err)
		return nil, false
	case !idx.Compatible(model, hash):
		a.logger.Info("cached index is stale, rebuilding",
			"cached_model", idx.Header.Model, "model", model)
		return nil, false
	}
	a.logger.Info("index loaded from cache", "chunks", idx.Len(), "built_at", idx.Header.BuiltAt)
	return idx, true
}

// Answer retrieves chunks for query and formats the answer.
func (a *Assistant) Answer(ctx context.Context, query string) (answer.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return answer.Result{}, fmt.Errorf("%w: empty query", ErrMalformedQuery)
	}
	st := a.state.Load()
	if st == nil {
		return answer.Result{}, ErrNotReady
	}

	scored, err := st.retriever.Retrieve(ctx, query, a.topK)
	if err != nil {
		return answer.Result{}, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	return st.formatter.Format(query, scored), nil
}

// GetAnswer is Answer with errors rendered as a user-facing message.
func (a *Assistant) GetAnswer(ctx context.Context, query string) string {
	res, err := a.Answer(ctx, query)
	if err != nil {
		a.logger.Warn("answering query failed", "query", query, "error", err)
		return fmt.Sprintf("I encountered an issue processing your financial query: %v. Please try again.", err)
	}
	return res.Text
}

// Execute runs a routed intent.
func (a *Assistant) Execute(ctx context.Context, in intent.Intent) (answer.Result, error) {
	switch in.Type {
	case intent.QueryFinancialDocs:
		return a.Answer(ctx, in.Query)
	case intent.CheckBalance:
		return a.Answer(ctx, "what is my net financial position")
	case intent.CheckExpenses:
		if in.Month != "" {
			return a.Answer(ctx, "expenses in "+strings.ToLower(in.Month))
		}
		return a.Answer(ctx, "what are my most recent expenses")
	case intent.CheckIncome:
		return a.Answer(ctx, "what is my income summary")
	case intent.Exit:
		return answer.Result{}, ErrExitRequested
	default:
		return answer.Result{}, fmt.Errorf("%w: unknown intent %q", ErrMalformedQuery, in.Type)
	}
}

// Ask routes free text through the intent router and executes the result.
func (a *Assistant) Ask(ctx context.Context, text string) (intent.Intent, answer.Result, error) {
	in := intent.Classify(text)
	res, err := a.Execute(ctx, in)
	return in, res, err
}

// Recall returns the raw top-K chunks for query without formatting.
func (a *Assistant) Recall(ctx context.Context, query string, topK int) ([]retrieval.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrMalformedQuery)
	}
	st := a.state.Load()
	if st == nil {
		return nil, ErrNotReady
	}
	if topK <= 0 {
		topK = a.topK
	}
	scored, err := st.retriever.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	return scored, nil
}

// Snapshot returns the structured export of the current corpus.
func (a *Assistant) Snapshot() (corpus.Snapshot, error) {
	st := a.state.Load()
	if st == nil {
		return corpus.Snapshot{}, ErrNotReady
	}
	return corpus.BuildSnapshot(st.book), nil
}

// Status describes the loaded corpus.
type Status struct {
	Ready      bool      `json:"ready"`
	Source     string    `json:"source,omitempty"`
	Expenses   int       `json:"expenses"`
	Incomes    int       `json:"incomes"`
	Chunks     int       `json:"chunks"`
	Model      string    `json:"model,omitempty"`
	CorpusHash string    `json:"corpus_hash,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitzero"`
	LoadedAt   time.Time `json:"loaded_at,omitzero"`
	FromCache  bool      `json:"from_cache"`
}

// Status reports what the assistant currently serves.
func (a *Assistant) Status() Status {
	st := a.state.Load()
	if st == nil {
		return Status{}
	}
	return Status{
		Ready:      true,
		Source:     st.source,
		Expenses:   len(st.book.Expenses),
		Incomes:    len(st.book.Incomes),
		Chunks:     st.index.Len(),
		Model:      st.index.Header.Model,
		CorpusHash: st.index.Header.CorpusHash,
		BuiltAt:    st.index.Header.BuiltAt,
		LoadedAt:   st.loadedAt,
		FromCache:  st.fromCache,
	}
}

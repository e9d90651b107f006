package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kalambet/finrag/internal/answer"
	"github.com/kalambet/finrag/internal/corpus"
	"github.com/kalambet/finrag/internal/engine"
	"github.com/kalambet/finrag/internal/intent"
	"github.com/kalambet/finrag/internal/retrieval"
)

const (
	twoInvoices = `Invoice #001 | March 3, 2024 | Office supplies | $200
Invoice #002 | March 10, 2024 | Office supplies | $500`
	withIncome = twoInvoices + "\nIncome #001 | March 1, 2024 | Client payment | $1000"
)

// countingEngine wraps the hash engine, counting embeds and failing on demand.
type countingEngine struct {
	*engine.HashEngine
	calls atomic.Int64
	fail  atomic.Bool
}

func newCountingEngine() *countingEngine {
	return &countingEngine{HashEngine: engine.NewHashEngine(0)}
}

func (e *countingEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return e.HashEngine.Embed(ctx, model, text)
}

// memCache is an in-memory IndexStore.
type memCache struct {
	mu    sync.Mutex
	idx   *retrieval.Index
	saves int
}

func (c *memCache) Load(context.Context) (*retrieval.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx == nil {
		return nil, retrieval.ErrNoIndex
	}
	return c.idx, nil
}

func (c *memCache) Save(_ context.Context, idx *retrieval.Index) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idx = idx
	c.saves++
	return nil
}

func newAssistant(t *testing.T, eng engine.Engine, cache IndexStore, text string) *Assistant {
	t.Helper()
	a := New(retrieval.NewEmbedder(eng, engine.HashModel), cache, Config{})
	if _, err := a.Initialize(context.Background(), corpus.Text(text), false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return a
}

func TestScenario_HighestExpense(t *testing.T) {
	a := newAssistant(t, newCountingEngine(), nil, twoInvoices)

	res, err := a.Answer(context.Background(), "what is the highest expense")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.Contains(res.Text, "#002") || !strings.Contains(res.Text, "$500") {
		t.Errorf("answer %q should reference #002 and $500", res.Text)
	}
}

func TestScenario_NetProfitForMarch(t *testing.T) {
	a := newAssistant(t, newCountingEngine(), nil, withIncome)

	res, err := a.Answer(context.Background(), "net profit for March")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.Contains(res.Text, "profit") || !strings.Contains(res.Text, "$300") {
		t.Errorf("answer %q should report a profit of $300", res.Text)
	}
}

func TestScenario_InvoiceByNumber(t *testing.T) {
	a := newAssistant(t, newCountingEngine(), nil, withIncome)

	in, res, err := a.Ask(context.Background(), "invoice number 001")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if in.Query != "invoice #001" {
		t.Errorf("routed query = %q, want invoice #001", in.Query)
	}
	for _, want := range []string{"Office supplies", "$200", "March 3, 2024"} {
		if !strings.Contains(res.Text, want) {
			t.Errorf("answer %q missing %q", res.Text, want)
		}
	}
	if res.Reason != answer.Computed {
		t.Errorf("Reason = %q, want computed", res.Reason)
	}
}

func TestEmptyCorpus(t *testing.T) {
	eng := newCountingEngine()
	a := newAssistant(t, eng, nil, "\n\n")

	res, err := a.Answer(context.Background(), "what is my total income")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Text != answer.NotFoundMessage {
		t.Errorf("answer = %q, want not-found message", res.Text)
	}
	if n := eng.calls.Load(); n != 0 {
		t.Errorf("embedder called %d times for an empty corpus", n)
	}
}

func TestAnswer_Errors(t *testing.T) {
	ctx := context.Background()
	a := New(retrieval.NewEmbedder(newCountingEngine(), engine.HashModel), nil, Config{})

	if _, err := a.Answer(ctx, "total income"); !errors.Is(err, ErrNotReady) {
		t.Errorf("before Initialize: err = %v, want ErrNotReady", err)
	}
	if _, err := a.Snapshot(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Snapshot before Initialize: err = %v, want ErrNotReady", err)
	}
	if _, err := a.Answer(ctx, "   "); !errors.Is(err, ErrMalformedQuery) {
		t.Errorf("blank query: err = %v, want ErrMalformedQuery", err)
	}
	if a.Status().Ready {
		t.Error("Status().Ready before Initialize")
	}
}

func TestGetAnswer_EmbeddingFailure(t *testing.T) {
	eng := newCountingEngine()
	a := newAssistant(t, eng, nil, withIncome)
	eng.fail.Store(true)

	_, err := a.Answer(context.Background(), "total income")
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}

	msg := a.GetAnswer(context.Background(), "total income")
	if !strings.HasPrefix(msg, "I encountered an issue processing your financial query: ") ||
		!strings.HasSuffix(msg, ". Please try again.") || !strings.Contains(msg, "connection refused") {
		t.Errorf("boundary message = %q", msg)
	}
}

func TestInitialize_EmbeddingFailureKeepsPreviousState(t *testing.T) {
	eng := newCountingEngine()
	a := newAssistant(t, eng, nil, twoInvoices)
	eng.fail.Store(true)

	_, err := a.Initialize(context.Background(), corpus.Text(withIncome), true)
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
	if st := a.Status(); st.Incomes != 0 || st.Expenses != 2 {
		t.Errorf("state changed after failed rebuild: %+v", st)
	}
}

func TestInitialize_UsesCache(t *testing.T) {
	cache := &memCache{}
	first := newAssistant(t, newCountingEngine(), cache, withIncome)
	if cache.saves != 1 {
		t.Fatalf("saves = %d, want 1", cache.saves)
	}

	eng := newCountingEngine()
	second := newAssistant(t, eng, cache, withIncome)
	if n := eng.calls.Load(); n != 0 {
		t.Errorf("cached index re-embedded %d chunks", n)
	}
	if !second.Status().FromCache {
		t.Error("Status().FromCache = false")
	}
	if second.Status().CorpusHash != first.Status().CorpusHash {
		t.Error("corpus hash differs between cached and built index")
	}

	if _, err := second.Initialize(context.Background(), corpus.Text(withIncome), true); err != nil {
		t.Fatalf("forced Initialize: %v", err)
	}
	if eng.calls.Load() == 0 {
		t.Error("forceReload did not re-embed")
	}
	if cache.saves != 2 {
		t.Errorf("saves = %d, want 2", cache.saves)
	}
}

func TestInitialize_StaleCacheRebuilds(t *testing.T) {
	cache := &memCache{}
	newAssistant(t, newCountingEngine(), cache, twoInvoices)

	eng := newCountingEngine()
	a := newAssistant(t, eng, cache, withIncome)
	if eng.calls.Load() == 0 {
		t.Error("changed corpus reused a stale index")
	}
	if a.Status().FromCache {
		t.Error("Status().FromCache = true for a rebuilt index")
	}
}

func TestInitialize_ReusesLiveIndex(t *testing.T) {
	eng := newCountingEngine()
	a := newAssistant(t, eng, nil, withIncome)
	before := eng.calls.Load()

	if _, err := a.Initialize(context.Background(), corpus.Text(withIncome), false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if eng.calls.Load() != before {
		t.Error("unchanged corpus was re-embedded")
	}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	a := newAssistant(t, newCountingEngine(), nil, withIncome)

	res, err := a.Execute(ctx, intent.Intent{Type: intent.CheckBalance})
	if err != nil {
		t.Fatalf("CheckBalance: %v", err)
	}
	if !strings.Contains(res.Text, "Net profit: $300") {
		t.Errorf("balance answer = %q", res.Text)
	}

	res, err = a.Execute(ctx, intent.Intent{Type: intent.CheckExpenses, Month: "March"})
	if err != nil {
		t.Fatalf("CheckExpenses: %v", err)
	}
	if !strings.Contains(res.Text, "$700") {
		t.Errorf("March expenses answer = %q", res.Text)
	}

	if _, err := a.Execute(ctx, intent.Intent{Type: intent.Exit}); !errors.Is(err, ErrExitRequested) {
		t.Errorf("Exit: err = %v, want ErrExitRequested", err)
	}
	if _, err := a.Execute(ctx, intent.Intent{Type: "dance"}); !errors.Is(err, ErrMalformedQuery) {
		t.Errorf("unknown: err = %v, want ErrMalformedQuery", err)
	}
}

func TestAsk_Overviews(t *testing.T) {
	a := newAssistant(t, newCountingEngine(), nil, withIncome)

	tests := []struct {
		text     string
		wantType intent.Type
		want     string
	}{
		{"check my expenses", intent.CheckExpenses, "#002"},
		{"my spending in March", intent.CheckExpenses, "$700"},
		{"show me my income", intent.CheckIncome, ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			in, res, err := a.Ask(context.Background(), tt.text)
			if err != nil {
				t.Fatalf("Ask: %v", err)
			}
			if in.Type != tt.wantType {
				t.Errorf("intent = %q, want %q", in.Type, tt.wantType)
			}
			if res.Text == "" || !strings.Contains(res.Text, tt.want) {
				t.Errorf("answer %q missing %q", res.Text, tt.want)
			}
		})
	}
}

func TestRecallAndSnapshot(t *testing.T) {
	a := newAssistant(t, newCountingEngine(), nil, withIncome)

	chunks, err := a.Recall(context.Background(), "Total income", 3)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "Total income") {
		t.Errorf("top chunk = %q", chunks[0].Text)
	}

	snap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Summary.NetProfit != 300 || snap.Summary.InvoiceCount != 2 || snap.Summary.IncomeCount != 1 {
		t.Errorf("summary = %+v", snap.Summary)
	}
}

func TestConcurrentQueriesDuringRebuild(t *testing.T) {
	ctx := context.Background()
	a := newAssistant(t, newCountingEngine(), nil, twoInvoices)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := a.Answer(ctx, "what is the highest expense"); err != nil {
					t.Errorf("Answer: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		text := twoInvoices
		if i%2 == 0 {
			text = withIncome
		}
		if _, err := a.Initialize(ctx, corpus.Text(text), true); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	}
	wg.Wait()
}

package answer

import (
	"fmt"
	"strings"

	"github.com/kalambet/finrag/internal/corpus"
	"github.com/kalambet/finrag/internal/ledger"
)

// rule is one branch of the answer table. Rules are evaluated in order; a
// handler that returns false passes control to the next applicable rule.
type rule struct {
	name    string
	applies func(q query) bool
	handle  func(f *Formatter, q query, chunks []string) (Result, bool)
}

func defaultRules() []rule {
	return []rule{
		{
			name:    "income",
			applies: query.incomeOnly,
			handle: func(f *Formatter, q query, chunks []string) (Result, bool) {
				return f.kindAnswer(ledger.Income, q, chunks)
			},
		},
		{
			name:    "expense",
			applies: query.expenseOnly,
			handle: func(f *Formatter, q query, chunks []string) (Result, bool) {
				return f.kindAnswer(ledger.Expense, q, chunks)
			},
		},
		{
			name: "net",
			applies: func(q query) bool {
				if q.incomeOnly() || q.expenseOnly() {
					return false
				}
				return q.net || (q.total && !q.income && !q.expense)
			},
			handle: (*Formatter).netAnswer,
		},
		{
			name: "id",
			applies: func(q query) bool {
				return q.id != "" && (invoiceTerm.MatchString(q.text) || incomeWord.MatchString(q.text))
			},
			handle: (*Formatter).idAnswer,
		},
		{
			name:    "fallback",
			applies: func(query) bool { return true },
			handle: func(_ *Formatter, _ query, chunks []string) (Result, bool) {
				return Result{Text: chunks[0], Reason: Fallback}, true
			},
		},
	}
}

// markers lists the phrases that identify a ready-made answer chunk.
type markers struct {
	highest []string
	latest  []string
	total   []string
	month   string // format with the month name
}

var kindMarkers = map[ledger.Kind]markers{
	ledger.Income: {
		highest: []string{"highest income"},
		latest:  []string{"most recent income"},
		total:   []string{"total income"},
		month:   "in %s, there were %%d income entries",
	},
	ledger.Expense: {
		highest: []string{"highest invoice"},
		latest:  []string{"most recent invoice"},
		total:   []string{"total expenses", "total amount across all invoices"},
		month:   "in %s, there were %%d invoices",
	},
}

// kindAnswer handles the single-kind branches: superlative, recency or
// total first, then the month aggregate.
func (f *Formatter) kindAnswer(k ledger.Kind, q query, chunks []string) (Result, bool) {
	m := kindMarkers[k]
	recs := f.book.Records(k)

	switch {
	case q.superlative:
		if c, ok := findMarker(chunks, m.highest...); ok {
			return matched(c), true
		}
		if r, ok := ledger.Highest(recs); ok {
			return computed(corpus.HighestSentence(r) + "."), true
		}
	case q.recency:
		if c, ok := findMarker(chunks, m.latest...); ok {
			return matched(c), true
		}
		if r, ok := ledger.Latest(recs); ok {
			return computed(corpus.LatestSentence(r) + "."), true
		}
	case q.total:
		if c, ok := findMarker(chunks, m.total...); ok {
			return matched(c), true
		}
		return computed(corpus.TotalSentence(k, ledger.Total(recs)) + "."), true
	}

	if q.month == "" {
		return Result{}, false
	}
	monthRecs := ledger.InMonth(recs, q.month)
	if len(monthRecs) == 0 {
		return Result{}, false
	}
	g := ledger.MonthGroup{Month: q.month, Count: len(monthRecs), Total: ledger.Total(monthRecs)}
	prefix := fmt.Sprintf(fmt.Sprintf(m.month, strings.ToLower(q.month)), g.Count)
	if c, ok := findMarker(chunks, prefix); ok {
		return matched(c), true
	}
	return computed(corpus.MonthSentence(k, g) + "."), true
}

// netAnswer reports profit or loss, per month when one is named.
func (f *Formatter) netAnswer(q query, chunks []string) (Result, bool) {
	if q.month != "" && len(ledger.InMonth(f.book.Expenses, q.month))+len(ledger.InMonth(f.book.Incomes, q.month)) > 0 {
		m := strings.ToLower(q.month)
		if c, ok := findMarker(chunks, m+" net profit", m+" net loss"); ok {
			return matched(c), true
		}
		income, expenses, net := f.book.MonthNet(q.month)
		return computed(fmt.Sprintf("%s (Income: $%d, Expenses: $%d)", corpus.NetSentence(q.month, net), income, expenses)), true
	}

	for _, c := range chunks {
		l := strings.ToLower(c)
		if strings.HasPrefix(l, "net profit") || strings.HasPrefix(l, "net loss") {
			return matched(c), true
		}
	}
	income, expenses := ledger.Total(f.book.Incomes), ledger.Total(f.book.Expenses)
	return computed(fmt.Sprintf("%s (Income: $%d, Expenses: $%d)", corpus.NetSentence("", income-expenses), income, expenses)), true
}

// idAnswer looks a record up by its literal id. Invoice ids are checked
// when the query mentions an invoice, income ids otherwise.
func (f *Formatter) idAnswer(q query, _ []string) (Result, bool) {
	if invoiceTerm.MatchString(q.text) {
		if r, ok := f.book.FindByID(ledger.Expense, q.id); ok {
			return computed(fmt.Sprintf("Invoice #%s is for %s for $%d on %s.", r.ID, r.Description, r.Amount, r.DateText)), true
		}
		return Result{}, false
	}
	if r, ok := f.book.FindByID(ledger.Income, q.id); ok {
		return computed(fmt.Sprintf("Income #%s is from %s for $%d on %s.", r.ID, r.Description, r.Amount, r.DateText)), true
	}
	return Result{}, false
}

// findMarker returns the first chunk, in score order, containing any of
// the given lower-case phrases.
func findMarker(chunks []string, phrases ...string) (string, bool) {
	for _, c := range chunks {
		l := strings.ToLower(c)
		for _, p := range phrases {
			if strings.Contains(l, p) {
				return c, true
			}
		}
	}
	return "", false
}

func matched(text string) Result  { return Result{Text: text, Reason: Matched} }
func computed(text string) Result { return Result{Text: text, Reason: Computed} }

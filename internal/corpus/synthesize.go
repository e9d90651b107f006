// Package corpus expands a parsed ledger into the searchable chunk corpus.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/kalambet/finrag/internal/ledger"
)

// phrasing holds the kind-specific wording used for chunks.
type phrasing struct {
	noun      string // "invoice" / "income"
	label     string // "Invoice" / "Income"
	prep      string // "for" / "from"
	verb      string // "costing" / "earning"
	entry     string // "expense" / "income"
	plural    string // "invoices" / "income entries"
	totalName string // "Total expenses" / "Total income"
	monthName string // "Expenses" / "Income"
}

var (
	expensePhrasing = phrasing{
		noun: "invoice", label: "Invoice", prep: "for", verb: "costing", entry: "expense",
		plural: "invoices", totalName: "Total expenses", monthName: "Expenses",
	}
	incomePhrasing = phrasing{
		noun: "income", label: "Income", prep: "from", verb: "earning", entry: "income",
		plural: "income entries", totalName: "Total income", monthName: "Income",
	}
)

// Synthesize returns the chunk corpus for book in a fixed order: verbatim
// lines, expense chunks, income chunks, then combined summaries.
func Synthesize(book ledger.Book) []string {
	chunks := make([]string, 0, len(book.Lines)*3+16)
	chunks = append(chunks, book.Lines...)
	chunks = appendKindChunks(chunks, book.Expenses, expensePhrasing)
	chunks = appendKindChunks(chunks, book.Incomes, incomePhrasing)
	chunks = appendCombined(chunks, book)
	return chunks
}

func appendKindChunks(chunks []string, recs []ledger.Record, p phrasing) []string {
	for _, r := range recs {
		chunks = append(chunks,
			fmt.Sprintf("%s #%s is %s %s %s $%d", p.label, r.ID, p.prep, r.Description, p.verb, r.Amount),
			fmt.Sprintf("%s %s of $%d on %s", r.Description, p.entry, r.Amount, r.DateText),
		)
	}
	if len(recs) == 0 {
		return chunks
	}

	highest, _ := ledger.Highest(recs)
	latest, _ := ledger.Latest(recs)
	total := ledger.Total(recs)
	chunks = append(chunks,
		HighestSentence(highest),
		LatestSentence(latest),
		fmt.Sprintf("The total amount across all %s is $%d", p.plural, total),
		fmt.Sprintf("%s: $%d", p.totalName, total),
	)
	for _, g := range ledger.ByMonth(recs) {
		chunks = append(chunks,
			MonthSentence(recs[0].Kind, g),
			fmt.Sprintf("%s for %s: $%d", p.monthName, g.Month, g.Total),
		)
	}
	return chunks
}

func appendCombined(chunks []string, book ledger.Book) []string {
	if len(book.Expenses) == 0 || len(book.Incomes) == 0 {
		return chunks
	}
	income := ledger.Total(book.Incomes)
	expenses := ledger.Total(book.Expenses)
	chunks = append(chunks,
		fmt.Sprintf("Total income: $%d, Total expenses: $%d", income, expenses),
		NetSentence("", income-expenses),
	)
	for _, month := range book.Months() {
		in, ex, net := book.MonthNet(month)
		chunks = append(chunks,
			fmt.Sprintf("In %s, income: $%d, expenses: $%d", month, in, ex),
			NetSentence(month, net),
		)
	}
	return chunks
}

func phrasingFor(k ledger.Kind) phrasing {
	if k == ledger.Income {
		return incomePhrasing
	}
	return expensePhrasing
}

// HighestSentence renders the superlative chunk for r.
func HighestSentence(r ledger.Record) string {
	p := phrasingFor(r.Kind)
	return fmt.Sprintf("The highest %s is #%s %s %s at $%d", p.noun, r.ID, p.prep, r.Description, r.Amount)
}

// LatestSentence renders the most-recent chunk for r.
func LatestSentence(r ledger.Record) string {
	p := phrasingFor(r.Kind)
	return fmt.Sprintf("The most recent %s is #%s %s %s on %s", p.noun, r.ID, p.prep, r.Description, r.DateText)
}

// MonthSentence renders the per-month count and total chunk.
func MonthSentence(k ledger.Kind, g ledger.MonthGroup) string {
	return fmt.Sprintf("In %s, there were %d %s totaling $%d", g.Month, g.Count, phrasingFor(k).plural, g.Total)
}

// TotalSentence renders the short total chunk for kind k.
func TotalSentence(k ledger.Kind, total int64) string {
	return fmt.Sprintf("%s: $%d", phrasingFor(k).totalName, total)
}

// NetSentence renders a net profit or loss chunk. An empty month renders the
// overall figure. Zero is reported as profit.
func NetSentence(month string, net int64) string {
	prefix := "Net"
	if month != "" {
		prefix = month + " net"
	}
	if net >= 0 {
		return fmt.Sprintf("%s profit: $%d", prefix, net)
	}
	return fmt.Sprintf("%s loss: $%d", prefix, -net)
}

// Hash returns a stable digest of the chunk corpus. It changes whenever any
// chunk text or the chunk order changes.
func Hash(chunks []string) string {
	h := sha256.New()
	for _, c := range chunks {
		fmt.Fprintf(h, "%d:%s\n", len(c), c)
	}
	return hex.EncodeToString(h.Sum(nil))
}

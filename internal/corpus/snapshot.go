package corpus

import "github.com/kalambet/finrag/internal/ledger"

// Snapshot is the structured JSON export of a parsed ledger.
type Snapshot struct {
	Invoices []SnapshotRecord       `json:"invoices"`
	Incomes  []SnapshotRecord       `json:"incomes"`
	Summary  Summary                `json:"summary"`
	Monthly  map[string]MonthlyStat `json:"monthly"`
}

// SnapshotRecord mirrors ledger.Record with an ISO date.
type SnapshotRecord struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Month       string `json:"month"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	RawText     string `json:"raw_text"`
	Type        string `json:"type"`
	Category    string `json:"category"`
}

type Summary struct {
	TotalExpenses int64 `json:"total_expenses"`
	TotalIncome   int64 `json:"total_income"`
	NetProfit     int64 `json:"net_profit"`
	InvoiceCount  int   `json:"invoice_count"`
	IncomeCount   int   `json:"income_count"`
}

type MonthlyStat struct {
	Expenses     int64 `json:"expenses"`
	Income       int64 `json:"income"`
	ExpenseCount int   `json:"expense_count"`
	IncomeCount  int   `json:"income_count"`
	NetProfit    int64 `json:"net_profit"`
}

// BuildSnapshot aggregates book into a Snapshot.
func BuildSnapshot(book ledger.Book) Snapshot {
	s := Snapshot{
		Invoices: toSnapshotRecords(book.Expenses),
		Incomes:  toSnapshotRecords(book.Incomes),
		Summary: Summary{
			TotalExpenses: ledger.Total(book.Expenses),
			TotalIncome:   ledger.Total(book.Incomes),
			NetProfit:     book.Net(),
			InvoiceCount:  len(book.Expenses),
			IncomeCount:   len(book.Incomes),
		},
		Monthly: make(map[string]MonthlyStat),
	}
	for _, month := range book.Months() {
		exp := ledger.InMonth(book.Expenses, month)
		inc := ledger.InMonth(book.Incomes, month)
		in, ex, net := book.MonthNet(month)
		s.Monthly[month] = MonthlyStat{
			Expenses:     ex,
			Income:       in,
			ExpenseCount: len(exp),
			IncomeCount:  len(inc),
			NetProfit:    net,
		}
	}
	return s
}

func toSnapshotRecords(recs []ledger.Record) []SnapshotRecord {
	out := make([]SnapshotRecord, len(recs))
	for i, r := range recs {
		out[i] = SnapshotRecord{
			ID:          r.ID,
			Date:        r.ISODate(),
			Month:       r.Month,
			Description: r.Description,
			Amount:      r.Amount,
			RawText:     r.Raw,
			Type:        string(r.Kind),
			Category:    r.Category,
		}
	}
	return out
}

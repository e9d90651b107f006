package ledger

import "time"

// Kind discriminates the two record variants.
type Kind string

const (
	Expense Kind = "expense"
	Income  Kind = "income"
)

// DateLayout is the human-readable date format used in ledger lines.
const DateLayout = "January 2, 2006"

// Record is a single parsed invoice or income entry.
type Record struct {
	ID          string
	Kind        Kind
	Date        time.Time
	DateText    string // date as written in the source line
	Month       string // full month name, used for grouping
	Description string
	Amount      int64
	Category    string
	Raw         string
}

// ISODate returns the record date as YYYY-MM-DD.
func (r Record) ISODate() string {
	return r.Date.Format("2006-01-02")
}

// Book holds the parsed ledger. Lines keeps every non-blank input line in
// order, including lines that did not parse into a record.
type Book struct {
	Lines    []string
	Expenses []Record
	Incomes  []Record
}

// Empty reports whether the book has no records of either kind.
func (b Book) Empty() bool {
	return len(b.Expenses) == 0 && len(b.Incomes) == 0
}

// Records returns the records of the given kind.
func (b Book) Records(k Kind) []Record {
	if k == Income {
		return b.Incomes
	}
	return b.Expenses
}

// FindByID returns the record of kind k with exactly the given id.
func (b Book) FindByID(k Kind, id string) (Record, bool) {
	for _, r := range b.Records(k) {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

package answer

import (
	"regexp"
	"strings"
)

var (
	incomeTerms  = regexp.MustCompile(`\b(income|revenue|earnings|earned|earning)`)
	expenseTerms = regexp.MustCompile(`\b(expense|invoice|cost|spent|purchase)`)
	netTerms     = regexp.MustCompile(`\b(net|profit|loss|balance|bottom line)\b`)
	superlative  = regexp.MustCompile(`\b(highest|largest)\b`)
	recency      = regexp.MustCompile(`\b(latest|recent)`)
	totalTerm    = regexp.MustCompile(`\btotal\b`)
	monthTerm    = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)\b`)
	idTerm       = regexp.MustCompile(`#(\d+)`)
	invoiceTerm  = regexp.MustCompile(`\binvoice`)
	incomeWord   = regexp.MustCompile(`\bincome`)
)

// query is the keyword classification of a question.
type query struct {
	text    string // lower-cased
	income  bool
	expense bool
	net     bool

	superlative bool
	recency     bool
	total       bool
	month       string // capitalized month name, or ""
	id          string // digits after '#', or ""
}

func classify(text string) query {
	t := strings.ToLower(text)
	q := query{
		text:        t,
		income:      incomeTerms.MatchString(t),
		expense:     expenseTerms.MatchString(t),
		net:         netTerms.MatchString(t),
		superlative: superlative.MatchString(t),
		recency:     recency.MatchString(t),
		total:       totalTerm.MatchString(t),
	}
	if m := monthTerm.FindString(t); m != "" {
		q.month = strings.ToUpper(m[:1]) + m[1:]
	}
	if m := idTerm.FindStringSubmatch(t); m != nil {
		q.id = m[1]
	}
	return q
}

func (q query) incomeOnly() bool  { return q.income && !q.expense }
func (q query) expenseOnly() bool { return q.expense && !q.income }

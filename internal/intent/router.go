// Package intent routes free-text commands to an action and, for document
// queries, rewrites them into a phrasing the answer rules recognize.
package intent

import (
	"fmt"
	"regexp"
	"strings"
)

// Type names an action the assistant can take.
type Type string

const (
	QueryFinancialDocs Type = "query_financial_docs"
	CheckBalance       Type = "check_balance"
	CheckExpenses      Type = "check_expenses"
	CheckIncome        Type = "check_income"
	Exit               Type = "exit"
)

// Intent is the routing result for one command.
type Intent struct {
	Type  Type   `json:"intent"`
	Query string `json:"query,omitempty"`
	Month string `json:"month,omitempty"`
}

const months = `january|february|march|april|may|june|july|august|september|october|november|december`

var (
	balancePhrases = regexp.MustCompile(`\b(balance|how much do i have|net worth|profit and loss|bottom line)\b`)
	invoiceID      = regexp.MustCompile(`\b(?:in)?voice\b.*?(?:#|\bnumber\b|\bno\.?)\s*(\d+)`)
	incomeID       = regexp.MustCompile(`\bincome\b.*?(?:#|\bnumber\b|\bno\.?)\s*(\d+)`)
	expenseWords   = regexp.MustCompile(`\b(expense|spent|spend|cost|bill|invoice|paid)`)
	incomeWords    = regexp.MustCompile(`\b(income|earn|revenue|payment received|money in)`)
	netWords       = regexp.MustCompile(`\b(profit|loss|net)\b|\bbottom line\b`)
	superlative    = regexp.MustCompile(`\b(highest|largest|biggest|most expensive)\b`)
	recency        = regexp.MustCompile(`\b(latest|recent|newest|last)\b`)
	monthName      = regexp.MustCompile(`\b(` + months + `)\b`)
	overview       = regexp.MustCompile(`^(?:(?:check|show|list|review|see)(?: me)? )?(?:all )?(?:of )?(?:my )?(expenses|spending|bills|income|earnings)(?: (?:in|for) (` + months + `))?[?.!]*$`)
	questionWords  = regexp.MustCompile(`\b(how much|total|what did|give me|show me|summary)\b`)
	exitWords      = regexp.MustCompile(`\b(stop|exit|quit|goodbye)\b`)
)

// route is one entry in the routing table. match returns false when the
// rule does not apply.
type route struct {
	name  string
	match func(text string) (Intent, bool)
}

var routes = []route{
	{"balance", func(t string) (Intent, bool) {
		if !balancePhrases.MatchString(t) {
			return Intent{}, false
		}
		return Intent{Type: CheckBalance}, true
	}},
	{"overview", func(t string) (Intent, bool) {
		m := overview.FindStringSubmatch(t)
		if m == nil || strings.TrimRight(t, "?.!") == m[1] {
			return Intent{}, false
		}
		switch m[1] {
		case "income", "earnings":
			if m[2] != "" {
				return Intent{}, false
			}
			return Intent{Type: CheckIncome}, true
		default:
			return Intent{Type: CheckExpenses, Month: capitalize(m[2])}, true
		}
	}},
	{"invoice-id", func(t string) (Intent, bool) {
		return idQuery(invoiceID, "invoice", t)
	}},
	{"income-id", func(t string) (Intent, bool) {
		return idQuery(incomeID, "income", t)
	}},
	{"expense", func(t string) (Intent, bool) {
		if !expenseWords.MatchString(t) {
			return Intent{}, false
		}
		return kindQuery("expense", "expenses in %s", "total expenses", t), true
	}},
	{"income", func(t string) (Intent, bool) {
		if !incomeWords.MatchString(t) {
			return Intent{}, false
		}
		return kindQuery("income", "income in %s", "total income", t), true
	}},
	{"net", func(t string) (Intent, bool) {
		if !netWords.MatchString(t) {
			return Intent{}, false
		}
		if m := monthName.FindString(t); m != "" {
			return docs("net profit for "+m, m), true
		}
		return docs("what is the net profit", ""), true
	}},
	{"month", func(t string) (Intent, bool) {
		m := monthName.FindString(t)
		if m == "" {
			return Intent{}, false
		}
		return docs("financial summary for "+m, m), true
	}},
	{"question", func(t string) (Intent, bool) {
		if !questionWords.MatchString(t) {
			return Intent{}, false
		}
		return docs(t, ""), true
	}},
	{"exit", func(t string) (Intent, bool) {
		if !exitWords.MatchString(t) {
			return Intent{}, false
		}
		return Intent{Type: Exit}, true
	}},
}

// Classify routes text through the rule table; the first matching rule
// wins and anything unmatched is passed through as a document query.
func Classify(text string) Intent {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, r := range routes {
		if in, ok := r.match(t); ok {
			return in
		}
	}
	return docs(t, "")
}

func docs(query, month string) Intent {
	return Intent{Type: QueryFinancialDocs, Query: query, Month: capitalize(month)}
}

func kindQuery(noun, monthFormat, total, t string) Intent {
	switch {
	case superlative.MatchString(t):
		return docs("what is the highest "+noun, "")
	case recency.MatchString(t):
		return docs("what is the most recent "+noun, "")
	}
	if m := monthName.FindString(t); m != "" {
		return docs(fmt.Sprintf(monthFormat, m), m)
	}
	return docs(total, "")
}

func idQuery(re *regexp.Regexp, label, t string) (Intent, bool) {
	m := re.FindStringSubmatch(t)
	if m == nil {
		return Intent{}, false
	}
	return docs(fmt.Sprintf("%s #%s", label, padID(m[1])), ""), true
}

// padID left-pads numeric ids to the three digits used in the ledger.
func padID(id string) string {
	if len(id) < 3 {
		id = strings.Repeat("0", 3-len(id)) + id
	}
	return id
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Package ledger parses line-oriented invoice and income records.
package ledger

import (
	"bufio"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	linePattern   = regexp.MustCompile(`^(Invoice|Income) #(\d+) \| (.*?) \| (.*?) \| \$(\d+)`)
	recordPattern = regexp.MustCompile(`(Invoice|Income) #\d+ \|`)
)

// Parser turns raw ledger text into a Book.
type Parser struct {
	categorizer *Categorizer
	logger      *slog.Logger
}

// NewParser creates a Parser. A nil categorizer selects the built-in table.
func NewParser(c *Categorizer) *Parser {
	if c == nil {
		c = DefaultCategorizer()
	}
	return &Parser{categorizer: c, logger: slog.Default()}
}

// Parse is a convenience wrapper using the built-in category table.
func Parse(raw string) Book {
	return NewParser(nil).Parse(raw)
}

// Parse reads one record per non-blank line. Lines that do not match either
// grammar are kept in Book.Lines but produce no record. A matching line whose
// date or amount does not parse is logged and skipped.
func (p *Parser) Parse(raw string) Book {
	var book Book
	seen := map[Kind]map[string]bool{
		Expense: make(map[string]bool),
		Income:  make(map[string]bool),
	}

	sc := bufio.NewScanner(strings.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		book.Lines = append(book.Lines, line)

		m := linePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		if recordPattern.MatchString(line[len(m[0]):]) {
			p.logger.Warn("ledger line holds more than one record, only the first is read", "line", lineNo, "text", line)
		}

		kind := Expense
		if m[1] == "Income" {
			kind = Income
		}

		date, err := time.Parse(DateLayout, strings.TrimSpace(m[3]))
		if err != nil {
			p.logger.Warn("skipping ledger line with bad date", "line", lineNo, "text", line, "error", err)
			continue
		}
		amount, err := strconv.ParseInt(m[5], 10, 64)
		if err != nil {
			p.logger.Warn("skipping ledger line with bad amount", "line", lineNo, "text", line, "error", err)
			continue
		}

		id := m[2]
		if seen[kind][id] {
			p.logger.Warn("skipping duplicate ledger id", "line", lineNo, "kind", kind, "id", id)
			continue
		}
		seen[kind][id] = true

		rec := Record{
			ID:          id,
			Kind:        kind,
			Date:        date,
			DateText:    strings.TrimSpace(m[3]),
			Month:       date.Month().String(),
			Description: m[4],
			Amount:      amount,
			Category:    p.categorizer.Categorize(kind, m[4]),
			Raw:         line,
		}
		if kind == Income {
			book.Incomes = append(book.Incomes, rec)
		} else {
			book.Expenses = append(book.Expenses, rec)
		}
	}
	if err := sc.Err(); err != nil {
		p.logger.Warn("ledger scan stopped early", "line", lineNo, "error", err)
	}
	return book
}

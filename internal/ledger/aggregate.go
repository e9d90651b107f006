package ledger

// Highest returns the record with the largest amount. Ties keep the first
// record in input order.
func Highest(recs []Record) (Record, bool) {
	if len(recs) == 0 {
		return Record{}, false
	}
	best := recs[0]
	for _, r := range recs[1:] {
		if r.Amount > best.Amount {
			best = r
		}
	}
	return best, true
}

// Latest returns the chronologically most recent record. Ties keep the
// first record in input order.
func Latest(recs []Record) (Record, bool) {
	if len(recs) == 0 {
		return Record{}, false
	}
	best := recs[0]
	for _, r := range recs[1:] {
		if r.Date.After(best.Date) {
			best = r
		}
	}
	return best, true
}

// Total sums the amounts of recs.
func Total(recs []Record) int64 {
	var sum int64
	for _, r := range recs {
		sum += r.Amount
	}
	return sum
}

// MonthGroup aggregates the records that share a month name.
type MonthGroup struct {
	Month string
	Count int
	Total int64
}

// ByMonth groups recs by month name in order of first appearance.
func ByMonth(recs []Record) []MonthGroup {
	idx := make(map[string]int)
	var groups []MonthGroup
	for _, r := range recs {
		i, ok := idx[r.Month]
		if !ok {
			i = len(groups)
			idx[r.Month] = i
			groups = append(groups, MonthGroup{Month: r.Month})
		}
		groups[i].Count++
		groups[i].Total += r.Amount
	}
	return groups
}

// InMonth returns the records whose month name equals month.
func InMonth(recs []Record, month string) []Record {
	var out []Record
	for _, r := range recs {
		if r.Month == month {
			out = append(out, r)
		}
	}
	return out
}

// Months returns the month names present in expenses then incomes, in order
// of first appearance, without duplicates.
func (b Book) Months() []string {
	seen := make(map[string]bool)
	var months []string
	for _, recs := range [][]Record{b.Expenses, b.Incomes} {
		for _, r := range recs {
			if !seen[r.Month] {
				seen[r.Month] = true
				months = append(months, r.Month)
			}
		}
	}
	return months
}

// Net returns total income minus total expenses.
func (b Book) Net() int64 {
	return Total(b.Incomes) - Total(b.Expenses)
}

// MonthNet returns income, expenses and net for one month name.
func (b Book) MonthNet(month string) (income, expenses, net int64) {
	income = Total(InMonth(b.Incomes, month))
	expenses = Total(InMonth(b.Expenses, month))
	return income, expenses, income - expenses
}

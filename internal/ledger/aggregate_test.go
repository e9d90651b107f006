package ledger

import "testing"

func TestAggregates(t *testing.T) {
	book := Parse(`Invoice #001 | March 3, 2024 | Paper | $500
Invoice #002 | February 28, 2024 | Toner | $500
Invoice #003 | April 1, 2024 | Internet | $100
Invoice #004 | April 1, 2024 | Phone | $90
Income #001 | April 9, 2024 | Client payment | $300`)

	h, ok := Highest(book.Expenses)
	if !ok || h.ID != "001" {
		t.Errorf("Highest = %s, want 001 (first max wins)", h.ID)
	}

	// Chronological, not lexical: "March 3" > "April 1" as strings.
	l, ok := Latest(book.Expenses)
	if !ok || l.ID != "003" {
		t.Errorf("Latest = %s, want 003 (first of the tied latest dates)", l.ID)
	}

	if got := Total(book.Expenses); got != 1190 {
		t.Errorf("Total = %d, want 1190", got)
	}

	groups := ByMonth(book.Expenses)
	want := []MonthGroup{{"March", 1, 500}, {"February", 1, 500}, {"April", 2, 190}}
	if len(groups) != len(want) {
		t.Fatalf("ByMonth = %+v, want %+v", groups, want)
	}
	for i := range want {
		if groups[i] != want[i] {
			t.Errorf("ByMonth[%d] = %+v, want %+v", i, groups[i], want[i])
		}
	}

	if got := book.Net(); got != -890 {
		t.Errorf("Net = %d, want -890", got)
	}
	in, ex, net := book.MonthNet("April")
	if in != 300 || ex != 190 || net != 110 {
		t.Errorf("MonthNet(April) = %d, %d, %d", in, ex, net)
	}

	months := book.Months()
	if len(months) != 3 || months[0] != "March" || months[2] != "April" {
		t.Errorf("Months = %v", months)
	}
}

func TestAggregates_Empty(t *testing.T) {
	if _, ok := Highest(nil); ok {
		t.Error("Highest(nil) should report false")
	}
	if _, ok := Latest(nil); ok {
		t.Error("Latest(nil) should report false")
	}
	if Total(nil) != 0 {
		t.Error("Total(nil) should be 0")
	}
}

package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// CurrencyTotals aggregates one currency inside a period.
type CurrencyTotals struct {
	Currency Currency
	Income   decimal.Decimal
	Expense  decimal.Decimal
	Net      decimal.Decimal
}

// PeriodSummary is a compact overview of a single period.
type PeriodSummary struct {
	Period  Period
	Entries int
	Paid    int
	Totals  []CurrencyTotals
}

// Summarize totals entries per currency. Currencies are sorted by code.
func Summarize(p Period, entries []LedgerEntry) PeriodSummary {
	byCur := map[Currency]*CurrencyTotals{}
	sum := PeriodSummary{Period: p}
	for _, e := range entries {
		sum.Entries++
		if e.Paid {
			sum.Paid++
		}
		t, ok := byCur[e.Currency]
		if !ok {
			t = &CurrencyTotals{Currency: e.Currency}
			byCur[e.Currency] = t
		}
		if e.Direction == Income {
			t.Income = t.Income.Add(e.Amount)
		} else {
			t.Expense = t.Expense.Add(e.Amount)
		}
		t.Net = t.Income.Sub(t.Expense)
	}
	for _, t := range byCur {
		sum.Totals = append(sum.Totals, *t)
	}
	sort.Slice(sum.Totals, func(i, j int) bool { return sum.Totals[i].Currency < sum.Totals[j].Currency })
	return sum
}

// NetIn returns income minus expense of the entries in currency c.
func NetIn(entries []LedgerEntry, c Currency) decimal.Decimal {
	net := decimal.Zero
	for _, e := range entries {
		if e.Currency != c {
			continue
		}
		switch e.Direction {
		case Income:
			net = net.Add(e.Amount)
		case Expense:
			net = net.Sub(e.Amount)
		}
	}
	return net
}

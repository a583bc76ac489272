package recurrence

import (
	"time"

	"github.com/quotelab/pricing-api/internal/money"
)

// Entry is a single projected billing event.
type Entry struct {
	Date       time.Time   `json:"date"`
	Amount     money.Money `json:"amount"`
	Cumulative money.Money `json:"cumulative"`
}

// Project expands a recurring amount into the billing events that fall within
// the horizon, starting at start. The sequence is finite and restartable: the
// same inputs always yield the same entries. One-time items produce a single
// entry at the start date.
func Project(amount money.Money, cycle Cycle, start time.Time, horizonMonths int) []Entry {
	amount = money.SanitizeAmount(amount)
	if horizonMonths <= 0 {
		return nil
	}
	end := addMonthsClamped(start, horizonMonths)

	if !cycle.Recurring() {
		return []Entry{{Date: start, Amount: amount, Cumulative: amount}}
	}

	var entries []Entry
	var cumulative money.Money
	for date := start; !date.After(end); date = cycle.Next(date) {
		cumulative += amount
		entries = append(entries, Entry{Date: date, Amount: amount, Cumulative: cumulative})
		if !cycle.Next(date).After(date) {
			break
		}
	}
	return entries
}

// MonthlyEquivalent normalises a cycle amount to its monthly revenue value,
// used for recurring-revenue aggregates. One-time charges contribute nothing.
func MonthlyEquivalent(amount money.Money, cycle Cycle) money.Money {
	amount = money.SanitizeAmount(amount)
	switch cycle {
	case CycleWeekly:
		return money.Round(float64(amount) * 52 / 12)
	case CycleMonthly:
		return amount
	case CycleQuarterly:
		return money.Round(float64(amount) / 3)
	case CycleSemiAnnual:
		return money.Round(float64(amount) / 6)
	case CycleAnnual:
		return money.Round(float64(amount) / 12)
	default:
		return 0
	}
}

// Aggregates summarises recurring revenue across a cart.
type Aggregates struct {
	Monthly   money.Money `json:"monthly"`
	Quarterly money.Money `json:"quarterly"`
	Annual    money.Money `json:"annual"`
}

// Accumulate folds one recurring line into the aggregates.
func (a *Aggregates) Accumulate(amount money.Money, cycle Cycle) {
	monthly := MonthlyEquivalent(amount, cycle)
	a.Monthly += monthly
	a.Quarterly += monthly * 3
	a.Annual += monthly * 12
}

package recurrence

import (
	"strings"
	"time"
)

// Cycle identifies how often a line item bills.
type Cycle int

const (
	// CycleOneTime marks a non-recurring charge.
	CycleOneTime Cycle = iota
	// CycleWeekly bills every 7 days.
	CycleWeekly
	// CycleMonthly bills every calendar month.
	CycleMonthly
	// CycleQuarterly bills every 3 calendar months.
	CycleQuarterly
	// CycleSemiAnnual bills every 6 calendar months.
	CycleSemiAnnual
	// CycleAnnual bills every 12 calendar months.
	CycleAnnual
)

func (c Cycle) String() string {
	switch c {
	case CycleWeekly:
		return "weekly"
	case CycleMonthly:
		return "monthly"
	case CycleQuarterly:
		return "quarterly"
	case CycleSemiAnnual:
		return "semi_annually"
	case CycleAnnual:
		return "annually"
	default:
		return "one_time"
	}
}

// ParseCycle maps an API string onto a Cycle. Unknown values are one-time so a
// malformed payload never creates phantom recurring revenue.
func ParseCycle(value string) Cycle {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "weekly":
		return CycleWeekly
	case "monthly":
		return CycleMonthly
	case "quarterly":
		return CycleQuarterly
	case "semi_annually", "semiannually":
		return CycleSemiAnnual
	case "annually", "yearly":
		return CycleAnnual
	default:
		return CycleOneTime
	}
}

// Recurring reports whether the cycle produces more than one billing event.
func (c Cycle) Recurring() bool {
	return c != CycleOneTime
}

func (c Cycle) months() int {
	switch c {
	case CycleMonthly:
		return 1
	case CycleQuarterly:
		return 3
	case CycleSemiAnnual:
		return 6
	case CycleAnnual:
		return 12
	default:
		return 0
	}
}

// Next returns the billing date following t. Month-based cycles clamp the day
// of month instead of letting the overflow spill into the next month, so
// Jan 31 + 1 month lands on Feb 28 (or 29), not Mar 2.
func (c Cycle) Next(t time.Time) time.Time {
	switch c {
	case CycleWeekly:
		return t.AddDate(0, 0, 7)
	case CycleMonthly, CycleQuarterly, CycleSemiAnnual, CycleAnnual:
		return addMonthsClamped(t, c.months())
	default:
		return t
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()
	first := time.Date(year, month+time.Month(months), 1, hour, minute, sec, t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

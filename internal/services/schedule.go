package services

import (
	"fmt"
	"time"

	"tally/internal/core"
)

// NextOccurrence advances a due date by one period of the given frequency.
//
// Monthly and yearly advancement keep the day-of-month where it exists in the
// receiving month and clamp to that month's last day otherwise: Jan 31 plus
// one month is Feb 29 in a leap year and Feb 28 otherwise; Feb 29 plus one
// year is Feb 28.
func NextOccurrence(current core.Date, freq core.Frequency) (core.Date, error) {
	switch freq {
	case core.Daily:
		return current.AddDays(1), nil
	case core.Weekly:
		return current.AddDays(7), nil
	case core.Monthly:
		return addMonthsClamped(current, 1), nil
	case core.Yearly:
		return addYearsClamped(current, 1), nil
	default:
		return core.Date{}, fmt.Errorf("%w: %q", core.ErrInvalidFrequency, freq)
	}
}

func addMonthsClamped(d core.Date, months int) core.Date {
	y, m, day := d.Date()
	// Normalize the target month via the first of the month so that
	// time.Date's day overflow never shifts us an extra month.
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := lastDayOfMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return core.NewDate(first.Year(), int(first.Month()), day)
}

func addYearsClamped(d core.Date, years int) core.Date {
	y, m, day := d.Date()
	if last := lastDayOfMonth(y+years, m); day > last {
		day = last
	}
	return core.NewDate(y+years, int(m), day)
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

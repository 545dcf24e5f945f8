package schedule

import (
	"strings"
	"time"
)

// LoadLocation resolves an IANA zone name. Empty names and "Local" are
// rejected so a deployment never silently depends on the host zone.
func LoadLocation(name string) (*time.Location, bool) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return nil, false
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, false
	}
	return loc, true
}

// LocalDate returns the calendar date of instant in the named zone, or its
// UTC date when the zone does not resolve.
func LocalDate(instant time.Time, timezone string) Date {
	if loc, ok := LoadLocation(timezone); ok {
		return DateOf(instant.In(loc))
	}
	return DateOf(instant.UTC())
}

// IsDue reports whether the cadence's calendar condition holds on date for
// the given anchor. Dates before the anchor are never due.
func IsDue(c Cadence, anchor, date Date) bool {
	diff := DaysBetween(anchor, date)
	if diff < 0 {
		return false
	}
	switch c {
	case Daily, Weekly, Biweekly:
		return diff%c.intervalDays() == 0
	case Monthly:
		return date.Day == monthlyDay(anchor, date.Year, date.Month)
	default:
		return false
	}
}

// IsCadenceDueNow is IsDue guarded by the last recorded run: a cadence that
// already ran on current is not due again that day.
func IsCadenceDueNow(c Cadence, anchor, current Date, lastRun *Date) bool {
	if lastRun != nil && *lastRun == current {
		return false
	}
	return IsDue(c, anchor, current)
}

// NextDueDate returns current when the cadence is due and has not run yet
// today, otherwise the next date on which IsDue holds.
func NextDueDate(c Cadence, anchor, current Date, lastRun *Date) Date {
	if IsCadenceDueNow(c, anchor, current, lastRun) {
		return current
	}
	if current.Before(anchor) {
		return anchor
	}
	switch c {
	case Daily, Weekly, Biweekly:
		step := c.intervalDays()
		k := DaysBetween(anchor, current)/step + 1
		return anchor.AddDays(k * step)
	case Monthly:
		this := Date{Year: current.Year, Month: current.Month, Day: monthlyDay(anchor, current.Year, current.Month)}
		if this.After(current) {
			return this
		}
		next := Date{Year: current.Year, Month: current.Month, Day: 1}.AddMonths(1)
		next.Day = monthlyDay(anchor, next.Year, next.Month)
		return next
	default:
		return current
	}
}

// monthlyDay is the anchor's day of month clamped to the target month.
func monthlyDay(anchor Date, year int, month time.Month) int {
	return min(anchor.Day, daysIn(year, month))
}

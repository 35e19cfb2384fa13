package leadtrack

import "time"

// MonthWindow returns the first and last instant of the calendar month of t,
// in t's location. The end is the last microsecond so it survives a
// round trip through Postgres timestamps.
func MonthWindow(t time.Time) (start, end time.Time) {
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	end = start.AddDate(0, 1, 0).Add(-time.Microsecond)
	return start, end
}

// PreviousMonthWindow returns the window of the month before t.
func PreviousMonthWindow(t time.Time) (start, end time.Time) {
	first, _ := MonthWindow(t)
	return MonthWindow(first.AddDate(0, 0, -1))
}

// DayRange widens two dates to [start 00:00:00, end 23:59:59.999] in loc.
func DayRange(from, to time.Time, loc *time.Location) (start, end time.Time) {
	from, to = from.In(loc), to.In(loc)
	start = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end = time.Date(to.Year(), to.Month(), to.Day(), 23, 59, 59, int(999*time.Millisecond), loc)
	return start, end
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, Invalidf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

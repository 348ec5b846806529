package viewport

import "time"

// FormatDayLabel renders day relative to now: "Today", "Yesterday", the
// weekday and date within the current year, or the full date otherwise.
func FormatDayLabel(day, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	d := midnight(day.In(loc))
	today := midnight(now.In(loc))

	switch {
	case d.Equal(today):
		return "Today"
	case d.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	case d.Year() == today.Year():
		return d.Format("Monday, January 2")
	default:
		return d.Format("January 2, 2006")
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

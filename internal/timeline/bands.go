package timeline

import (
	"time"

	"onionchat/internal/models"
)

// Band is a run of consecutive messages sent on the same local calendar day.
// Start and End index into the message slice, End exclusive.
type Band struct {
	Day   time.Time // midnight in the band's location
	Start int
	End   int
}

// Bands groups msgs into date bands. Each band gets one leading date marker
// when rendered.
func Bands(msgs []models.Message, loc *time.Location) []Band {
	if loc == nil {
		loc = time.Local
	}

	var bands []Band
	for i, m := range msgs {
		day := DayOf(m.Timestamp, loc)
		if n := len(bands); n > 0 && bands[n-1].Day.Equal(day) {
			bands[n-1].End = i + 1
			continue
		}
		bands = append(bands, Band{Day: day, Start: i, End: i + 1})
	}
	return bands
}

// DayOf truncates a unix timestamp in seconds to local midnight.
func DayOf(ts int64, loc *time.Location) time.Time {
	t := time.Unix(ts, 0).In(loc)
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, loc)
}

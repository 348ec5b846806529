package viewport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDayLabel(t *testing.T) {
	loc := time.FixedZone("UTC-4", -4*3600)
	now := time.Date(2026, 10, 16, 1, 0, 0, 0, loc)

	tests := []struct {
		name string
		day  time.Time
		want string
	}{
		{"today", time.Date(2026, 10, 16, 0, 30, 0, 0, loc), "Today"},
		{"yesterday", time.Date(2026, 10, 15, 23, 59, 0, 0, loc), "Yesterday"},
		{"same year", time.Date(2026, 3, 2, 12, 0, 0, 0, loc), "Monday, March 2"},
		{"earlier year", time.Date(2025, 12, 31, 12, 0, 0, 0, loc), "December 31, 2025"},
		// 02:00 UTC on the 16th is still the 15th in UTC-4.
		{"converted to location", time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC), "Yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDayLabel(tt.day, now, loc))
		})
	}
}

func TestFormatDayLabel_AcrossYearBoundary(t *testing.T) {
	now := time.Date(2027, 1, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, "Yesterday", FormatDayLabel(time.Date(2026, 12, 31, 8, 0, 0, 0, time.UTC), now, time.UTC))
}

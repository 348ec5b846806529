package timeline

import (
	"testing"
	"time"

	"onionchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBands_GroupsByLocalDay(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, loc).Unix()
	day1Late := time.Date(2026, 3, 1, 23, 59, 0, 0, loc).Unix()
	day2 := time.Date(2026, 3, 2, 0, 1, 0, 0, loc).Unix()

	msgs := []models.Message{msg(1, day1), msg(2, day1Late), msg(3, day2)}

	bands := Bands(msgs, loc)

	require.Len(t, bands, 2)
	assert.Equal(t, Band{Day: time.Date(2026, 3, 1, 0, 0, 0, 0, loc), Start: 0, End: 2}, bands[0])
	assert.Equal(t, Band{Day: time.Date(2026, 3, 2, 0, 0, 0, 0, loc), Start: 2, End: 3}, bands[1])
}

func TestBands_DependsOnLocation(t *testing.T) {
	ts := time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC).Unix()
	msgs := []models.Message{msg(1, ts)}

	utc := Bands(msgs, time.UTC)
	east := Bands(msgs, time.FixedZone("UTC+5", 5*3600))

	assert.Equal(t, 1, utc[0].Day.Day())
	assert.Equal(t, 2, east[0].Day.Day())
}

func TestBands_Empty(t *testing.T) {
	assert.Empty(t, Bands(nil, time.UTC))
}

package trips

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slxcharge/slxcharge/pkg/types"
)

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05Z07:00", s)
	if err != nil {
		panic(err)
	}
	return t
}

func day(d int) types.Date {
	return types.Date{Year: 2024, Month: time.January, Day: d}
}

func storedSeries() []types.OdometerSample {
	return []types.OdometerSample{
		{TS: ts("2024-01-17 18:54:41+00:00"), KM: 1234.0},
		{TS: ts("2024-01-18 12:54:41+00:00"), KM: 1240.1},
		{TS: ts("2024-01-18 14:20:00+00:00"), KM: 1310.6},
		{TS: ts("2024-01-19 01:00:00+00:00"), KM: 1325.6},
		{TS: ts("2024-01-21 12:00:41+00:00"), KM: 1340},
		{TS: ts("2024-01-23 03:10:00+00:00"), KM: 1700.1},
		{TS: ts("2024-01-24 17:30:00+00:00"), KM: 1710.2},
	}
}

func newIndex(samples []types.OdometerSample) *Index {
	x := NewIndex(time.UTC)
	x.Append(samples...)
	x.RecalculateIndex()
	return x
}

func TestIndexDayDistance(t *testing.T) {
	x := newIndex(storedSeries()[:4])

	assert.Equal(t, []types.Date{day(17), day(18), day(19)}, x.Dates())
	assert.Equal(t, 0.0, x.DayDistance(day(17)), "first day has no predecessor")
	assert.Equal(t, 0.0, x.DayDistance(day(20)), "absent day")
	assert.InDelta(t, 76.6, x.DayDistance(day(18)), 1e-9)
	assert.InDelta(t, 15.0, x.DayDistance(day(19)), 1e-9)

	trips := x.DailyTrips(ptr(day(18)), ptr(day(19)))
	require.Len(t, trips, 2)
	assert.Equal(t, day(18), trips[0].Date)
	assert.InDelta(t, 76.6, trips[0].KM, 1e-9)
	assert.Equal(t, day(19), trips[1].Date)
	assert.InDelta(t, 15.0, trips[1].KM, 1e-9)
}

func ptr[T any](v T) *T {
	return &v
}

func TestIndexIncremental(t *testing.T) {
	series := storedSeries()
	x := newIndex(series[:2])
	assert.InDelta(t, 6.1, x.DayDistance(day(18)), 1e-9)

	// a later sample of the same day moves the day's pointer
	x.Append(series[2])
	x.RecalculateIndex()
	assert.Len(t, x.Dates(), 2)
	assert.InDelta(t, 76.6, x.DayDistance(day(18)), 1e-9)

	x.RecalculateIndex()
	assert.Len(t, x.Dates(), 2)
}

func TestIndexLocation(t *testing.T) {
	loc := time.FixedZone("UTC+6", 6*3600)
	x := NewIndex(loc)
	x.Append(storedSeries()[:4]...)
	x.RecalculateIndex()

	// 18:54 UTC on the 17th is already the 18th
	assert.Equal(t, []types.Date{day(18), day(19)}, x.Dates())
}

func TestDailyHistogram(t *testing.T) {
	x := newIndex(storedSeries())

	added := x.UpdateDailyHistogram()
	assert.Equal(t, 6, added, "18th through 23rd")
	last, ok := x.LastProcessed()
	require.True(t, ok)
	assert.Equal(t, day(23), last)

	h := x.Histogram()
	assert.InDeltaSlice(t, []float64{76.6}, h[time.Thursday], 1e-9)
	assert.InDeltaSlice(t, []float64{15.0}, h[time.Friday], 1e-9)
	assert.Equal(t, []float64{0}, h[time.Saturday], "no sample on the 20th")
	assert.InDeltaSlice(t, []float64{14.4}, h[time.Sunday], 1e-9)
	assert.Equal(t, []float64{0}, h[time.Monday])
	assert.InDeltaSlice(t, []float64{360.1}, h[time.Tuesday], 1e-9)
	assert.Empty(t, h[time.Wednesday], "the last day is still open")

	t.Run("idempotent", func(t *testing.T) {
		assert.Equal(t, 0, x.UpdateDailyHistogram())
		assert.Equal(t, h, x.Histogram())
	})

	t.Run("extends when a new day starts", func(t *testing.T) {
		x.Append(types.OdometerSample{TS: ts("2024-01-25 08:00:00+00:00"), KM: 1730.2})
		x.RecalculateIndex()
		assert.Equal(t, 1, x.UpdateDailyHistogram())
		assert.InDeltaSlice(t, []float64{10.1}, x.Histogram()[time.Wednesday], 1e-9)
	})

	t.Run("gap produces one entry per day", func(t *testing.T) {
		x.Append(types.OdometerSample{TS: ts("2024-02-02 08:00:00+00:00"), KM: 1800})
		x.Append(types.OdometerSample{TS: ts("2024-02-03 08:00:00+00:00"), KM: 1810})
		x.RecalculateIndex()
		// 25th through 2nd
		assert.Equal(t, 9, x.UpdateDailyHistogram())
		fri := x.Histogram()[time.Friday]
		assert.InDelta(t, 69.8, fri[len(fri)-1], 1e-9)
	})
}

func TestDailyTripsDefaults(t *testing.T) {
	x := newIndex(storedSeries())
	trips := x.DailyTrips(nil, nil)
	require.Len(t, trips, 6)
	assert.Equal(t, day(18), trips[0].Date)
	assert.Equal(t, day(23), trips[5].Date)
	assert.InDelta(t, 360.1, trips[5].KM, 1e-9)

	// the histogram watermark is not touched
	_, ok := x.LastProcessed()
	assert.False(t, ok)

	assert.Nil(t, newIndex(storedSeries()[:1]).DailyTrips(nil, nil))
	assert.Nil(t, NewIndex(nil).DailyTrips(nil, nil))
}

func TestPredict(t *testing.T) {
	x := newIndex(storedSeries())
	assert.Nil(t, Predict(x, DefaultHorizon), "nothing processed yet")

	x.UpdateDailyHistogram()
	p := Predict(x, DefaultHorizon)
	require.Len(t, p, 7)
	assert.Empty(t, p[day(24)], "no Wednesday observed")
	assert.InDeltaSlice(t, []float64{76.6}, p[day(25)], 1e-9)
	assert.InDeltaSlice(t, []float64{360.1}, p[day(30)], 1e-9)
	_, ok := p[day(31)]
	assert.False(t, ok)

	// most recent observation first
	x.Append(
		types.OdometerSample{TS: ts("2024-01-25 20:00:00+00:00"), KM: 1730.2},
		types.OdometerSample{TS: ts("2024-02-01 20:00:00+00:00"), KM: 1780.2},
		types.OdometerSample{TS: ts("2024-02-02 20:00:00+00:00"), KM: 1790.2},
	)
	x.RecalculateIndex()
	x.UpdateDailyHistogram()
	p = Predict(x, DefaultHorizon)
	thursday := types.Date{Year: 2024, Month: time.February, Day: 8}
	assert.InDeltaSlice(t, []float64{50, 20, 76.6}, p[thursday], 1e-9)
}

package trips

import (
	"time"

	"github.com/slxcharge/slxcharge/pkg/types"
)

// Index is an ordered odometer series with a per-day index and a weekday
// histogram of daily distances. Both are extended incrementally as samples
// are appended.
type Index struct {
	loc     *time.Location
	samples []types.OdometerSample

	// ordered days that have at least one sample
	dates []types.Date
	// day -> position of its latest sample in samples
	lastSample map[types.Date]int
	// day -> position in dates
	order map[types.Date]int
	// number of samples already indexed
	indexed int

	histogram     [7][]float64
	lastProcessed types.Date
}

// NewIndex returns an empty index that assigns samples to days in loc.
func NewIndex(loc *time.Location) *Index {
	if loc == nil {
		loc = time.UTC
	}
	x := &Index{loc: loc}
	x.Reset()
	return x
}

// Reset drops all samples, the index and the histogram.
func (x *Index) Reset() {
	x.samples = nil
	x.dates = nil
	x.lastSample = make(map[types.Date]int)
	x.order = make(map[types.Date]int)
	x.indexed = 0
	x.histogram = [7][]float64{}
	x.lastProcessed = types.Date{}
}

// Append adds samples to the series. They must be newer than the last sample.
// The index is not updated until RecalculateIndex is called.
func (x *Index) Append(samples ...types.OdometerSample) {
	x.samples = append(x.samples, samples...)
}

// Samples returns the series. It must not be modified.
func (x *Index) Samples() []types.OdometerSample {
	return x.samples
}

// Last returns the newest sample.
func (x *Index) Last() (types.OdometerSample, bool) {
	if len(x.samples) == 0 {
		return types.OdometerSample{}, false
	}
	return x.samples[len(x.samples)-1], true
}

// Dates returns the indexed days in order.
func (x *Index) Dates() []types.Date {
	return x.dates
}

// RecalculateIndex indexes samples appended since the last call. The entry
// for a day always points at its latest sample.
func (x *Index) RecalculateIndex() {
	for i := x.indexed; i < len(x.samples); i++ {
		d := types.DateOf(x.samples[i].TS.In(x.loc))
		if _, ok := x.lastSample[d]; !ok {
			x.order[d] = len(x.dates)
			x.dates = append(x.dates, d)
		}
		x.lastSample[d] = i
	}
	x.indexed = len(x.samples)
}

// DayDistance returns the distance driven between the end of the previous
// indexed day and the end of d. It is 0 for the first indexed day and for
// days without samples.
func (x *Index) DayDistance(d types.Date) float64 {
	o, ok := x.order[d]
	if !ok || o == 0 {
		return 0
	}
	prev := x.dates[o-1]
	return x.samples[x.lastSample[d]].KM - x.samples[x.lastSample[prev]].KM
}

// UpdateDailyHistogram adds one histogram entry for every closed day after
// the last processed one and returns how many were added. The last indexed
// day is never closed.
func (x *Index) UpdateDailyHistogram() int {
	if len(x.dates) < 2 {
		return 0
	}
	if x.lastProcessed.IsZero() {
		x.lastProcessed = x.dates[0]
	}
	end := x.dates[len(x.dates)-2]

	var added int
	for d := x.lastProcessed.AddDays(1); !d.After(end); d = d.AddDays(1) {
		wd := d.Weekday()
		x.histogram[wd] = append(x.histogram[wd], x.DayDistance(d))
		x.lastProcessed = d
		added++
	}
	return added
}

// LastProcessed returns the newest day included in the histogram.
func (x *Index) LastProcessed() (types.Date, bool) {
	return x.lastProcessed, !x.lastProcessed.IsZero()
}

// Histogram returns the daily distances observed per weekday, oldest first.
func (x *Index) Histogram() [7][]float64 {
	var h [7][]float64
	for i := range x.histogram {
		h[i] = append([]float64(nil), x.histogram[i]...)
	}
	return h
}

// DailyTrips returns the distance of every day in [start, end]. A nil bound
// defaults to the widest range that has complete days.
func (x *Index) DailyTrips(start, end *types.Date) []types.DailyTrip {
	if start == nil || end == nil {
		if len(x.dates) < 2 {
			return nil
		}
	}
	from := x.dateOr(start, 1)
	to := x.dateOr(end, len(x.dates)-2)

	var trips []types.DailyTrip
	for d := from; !d.After(to); d = d.AddDays(1) {
		trips = append(trips, types.DailyTrip{Date: d, KM: x.DayDistance(d)})
	}
	return trips
}

func (x *Index) dateOr(d *types.Date, fallback int) types.Date {
	if d != nil {
		return *d
	}
	return x.dates[fallback]
}

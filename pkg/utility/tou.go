package utility

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Period is a recurring window of a time-of-use schedule. HourEnd is
// exclusive; an empty DaysOfTheWeek matches every day.
type Period struct {
	Start         time.Time      `json:"start,omitzero"`
	End           time.Time      `json:"end,omitzero"`
	HourStart     int            `json:"hourStart"`
	HourEnd       int            `json:"hourEnd"`
	DaysOfTheWeek []time.Weekday `json:"daysOfTheWeek,omitempty"`
	DollarsPerKWH float64        `json:"dollarsPerKWH"`
	Description   string         `json:"description,omitempty"`
}

// Contains checks if t, already converted to the schedule's location, is
// within the period.
func (p Period) Contains(t time.Time) bool {
	if !p.Start.IsZero() && t.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && t.After(p.End) {
		return false
	}
	if h := t.Hour(); h < p.HourStart || h >= p.HourEnd {
		return false
	}
	if len(p.DaysOfTheWeek) > 0 {
		dow := t.Weekday()
		for _, d := range p.DaysOfTheWeek {
			if d == dow {
				return true
			}
		}
		return false
	}
	return true
}

func defaultTOUPeriods() []Period {
	return []Period{
		{HourStart: 0, HourEnd: 6, DollarsPerKWH: 0.18, Description: "Night"},
		{HourStart: 6, HourEnd: 17, DollarsPerKWH: 0.28, Description: "Day"},
		{HourStart: 17, HourEnd: 21, DollarsPerKWH: 0.38, Description: "Peak"},
		{HourStart: 21, HourEnd: 24, DollarsPerKWH: 0.28, Description: "Evening"},
	}
}

// TOU prices hours from a fixed time-of-use schedule. Matching periods add
// up, so a surcharge can be layered on a base rate.
type TOU struct {
	mu       sync.Mutex
	periods  []Period
	location *time.Location
}

func configuredTOU() *TOU {
	t := &TOU{
		periods:  defaultTOUPeriods(),
		location: time.Local,
	}
	periods := defaultTOUPeriods()
	lflag.JSON(&periods, "tou-periods", periods, "JSON list of time-of-use periods ({hourStart,hourEnd,daysOfTheWeek,dollarsPerKWH})")
	locName := lflag.String("tou-location", "Local", "Time zone the time-of-use hours are expressed in")

	lflag.Do(func() {
		loc, err := time.LoadLocation(*locName)
		if err != nil {
			panic(fmt.Errorf("failed to load tou location %s: %w", *locName, err))
		}
		t.SetSchedule(periods, loc)
	})
	return t
}

// NewTOU returns a provider for the given schedule.
func NewTOU(periods []Period, loc *time.Location) *TOU {
	t := &TOU{}
	t.SetSchedule(periods, loc)
	return t
}

// SetSchedule replaces the schedule.
func (t *TOU) SetSchedule(periods []Period, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.periods = append([]Period(nil), periods...)
	t.location = loc
}

// priceForTime prices the hour starting at target.
func (t *TOU) priceForTime(target time.Time) Price {
	t.mu.Lock()
	periods := t.periods
	loc := t.location
	t.mu.Unlock()

	p := Price{
		Provider: "tou",
		TSStart:  target,
		TSEnd:    target.Add(time.Hour),
	}
	local := target.In(loc)
	for _, period := range periods {
		if period.Contains(local) {
			p.DollarsPerKWH += period.DollarsPerKWH
		}
	}
	return p
}

// EnergyCosts implements Provider.
func (t *TOU) EnergyCosts(ctx context.Context, start, end time.Time) (map[time.Time]float64, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("invalid range: %s - %s", start, end)
	}
	var prices []Price
	for cur := start.UTC().Truncate(time.Hour); cur.Before(end); cur = cur.Add(time.Hour) {
		prices = append(prices, t.priceForTime(cur))
	}
	return hourlyCosts(prices, start, end), nil
}

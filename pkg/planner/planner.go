package planner

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/types"
)

// Config tunes the planner.
type Config struct {
	// Number of hourly slots kept.
	Slots int
	// Share of the forecast solar power usable for charging.
	SolarCoefficient float64
	// Usable solar power below this is treated as none.
	SolarBottomCutoffKW float64
	// Usable solar power is capped at this.
	SolarUpperCutoffKW float64
}

// DefaultConfig returns the default planner configuration.
func DefaultConfig() Config {
	return Config{
		Slots:               96,
		SolarCoefficient:    0.7,
		SolarBottomCutoffKW: 1.4,
		SolarUpperCutoffKW:  4.0,
	}
}

// Vehicle describes the battery and consumption used for energy planning.
type Vehicle struct {
	CapacityKWH         float64
	BottomBufferKWH     float64
	ConsumptionKWHPerKM float64
	ChargingEfficiency  float64
	// Hour of the day the car leaves, in Location.
	MorningHour int
	Location    *time.Location
}

// VehicleFromSettings builds a Vehicle from settings.
func VehicleFromSettings(s types.Settings, loc *time.Location) Vehicle {
	return Vehicle{
		CapacityKWH:         s.BatteryCapacityKWH,
		BottomBufferKWH:     s.BottomBufferKWH,
		ConsumptionKWHPerKM: s.ConsumptionKWHPerKM,
		ChargingEfficiency:  s.ChargingEfficiency,
		MorningHour:         s.MorningHour,
		Location:            loc,
	}
}

// DayDistance is the distance planned for a day.
type DayDistance struct {
	Day types.Date `json:"day"`
	KM  float64    `json:"km"`
}

// EnergyNeed is the band of charging energy that must have been delivered by
// Morning.
type EnergyNeed struct {
	Morning time.Time `json:"morning"`
	MinKWH  float64   `json:"minKWH"`
	MaxKWH  float64   `json:"maxKWH"`
}

// Slot is one hour of the planning window.
type Slot struct {
	Start      time.Time `json:"start"`
	SolarKW    float64   `json:"solarKW"`
	CostPerKWH *float64  `json:"costPerKWH"`
}

// Planner keeps a rolling window of hourly slots with the solar power and
// energy cost forecast for each of them. It is not safe for concurrent use.
type Planner struct {
	cfg Config

	slots []time.Time
	solar []float64
	// nil means unknown
	costs []*float64

	energyNeeded []EnergyNeed
}

// New returns a planner with an empty window.
func New(cfg Config) *Planner {
	if cfg.Slots <= 0 {
		cfg.Slots = DefaultConfig().Slots
	}
	return &Planner{cfg: cfg}
}

// roundToHour truncates t to the hour in its own location and returns it in
// UTC.
func roundToHour(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), 0, 0, 0, t.Location()).UTC()
}

func isFullHour(t time.Time) bool {
	return t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

func (p *Planner) findSlot(t time.Time) int {
	rounded := roundToHour(t)
	for i, s := range p.slots {
		if s.Equal(rounded) {
			return i
		}
	}
	return -1
}

// UpdateTimeSlots moves the window so it starts at the hour containing now.
// Known forecasts and costs that stay inside the window are kept.
func (p *Planner) UpdateTimeSlots(ctx context.Context, now time.Time) {
	start := roundToHour(now)
	index := p.findSlot(start)
	switch index {
	case 0:
		return
	case -1:
		p.slots = make([]time.Time, p.cfg.Slots)
		for i := range p.slots {
			p.slots[i] = start.Add(time.Duration(i) * time.Hour)
		}
		p.solar = make([]float64, p.cfg.Slots)
		p.costs = make([]*float64, p.cfg.Slots)
		log.Ctx(ctx).DebugContext(ctx, "time slots rebuilt", slog.Time("start", start))
	default:
		n := len(p.slots)
		p.slots = append(p.slots[:0:0], p.slots[index:]...)
		for i := n - index; i < n; i++ {
			p.slots = append(p.slots, start.Add(time.Duration(i)*time.Hour))
		}
		p.solar = append(append(p.solar[:0:0], p.solar[index:]...), make([]float64, index)...)
		p.costs = append(append(p.costs[:0:0], p.costs[index:]...), make([]*float64, index)...)
		log.Ctx(ctx).DebugContext(ctx, "time slots shifted", slog.Time("start", start), slog.Int("by", index))
	}
}

// FillInSolarForecast replaces the solar forecast with watts keyed by time.
// Entries that are not on the hour or outside the window are ignored.
func (p *Planner) FillInSolarForecast(watts map[time.Time]float64) {
	p.solar = make([]float64, len(p.slots))
	for t, w := range watts {
		if !isFullHour(t) {
			continue
		}
		if i := p.findSlot(t); i >= 0 {
			p.solar[i] = p.solarToChargingKW(w)
		}
	}
}

// FillInEnergyCost replaces the energy cost with costs keyed by time.
// Entries that are not on the hour or outside the window are ignored.
func (p *Planner) FillInEnergyCost(costs map[time.Time]float64) {
	p.costs = make([]*float64, len(p.slots))
	for t, c := range costs {
		if !isFullHour(t) {
			continue
		}
		if i := p.findSlot(t); i >= 0 {
			p.costs[i] = &c
		}
	}
}

func (p *Planner) solarToChargingKW(watts float64) float64 {
	kw := watts * p.cfg.SolarCoefficient / 1000
	if kw < p.cfg.SolarBottomCutoffKW {
		return 0
	}
	return math.Min(kw, p.cfg.SolarUpperCutoffKW)
}

// CalculateEnergyNeeded computes, for each planned day at or after the start
// of the window, the minimum and maximum charging energy that must have been
// delivered by that morning. The maximum deliberately lags one day behind the
// minimum: the battery may be emptied by a day's trip but never has to hold
// more than its capacity on that day.
func (p *Planner) CalculateEnergyNeeded(ctx context.Context, days []DayDistance, energyNowKWH float64, v Vehicle) []EnergyNeed {
	loc := v.Location
	if loc == nil {
		loc = time.UTC
	}
	sorted := append([]DayDistance(nil), days...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Day.Before(sorted[j].Day)
	})

	var first types.Date
	if len(p.slots) > 0 {
		first = types.DateOf(p.slots[0].In(loc))
	}

	eff := v.ChargingEfficiency
	if eff <= 0 {
		eff = 1
	}
	usable := v.CapacityKWH - v.BottomBufferKWH
	var runningMin, runningMax float64
	needs := make([]EnergyNeed, 0, len(sorted))
	for _, d := range sorted {
		if !first.IsZero() && d.Day.Before(first) {
			continue
		}
		need := math.Min(d.KM*v.ConsumptionKWHPerKM, usable)
		runningMin += need
		cumMin := runningMin/eff + v.BottomBufferKWH
		cumMax := runningMax/eff + v.CapacityKWH
		runningMax += need

		morning := time.Date(d.Day.Year, d.Day.Month, d.Day.Day, v.MorningHour, 0, 0, 0, loc).UTC()
		needs = append(needs, EnergyNeed{
			Morning: morning,
			MinKWH:  cumMin - energyNowKWH,
			MaxKWH:  cumMax - energyNowKWH,
		})
	}
	p.energyNeeded = needs
	log.Ctx(ctx).DebugContext(ctx, "energy needed calculated", slog.Int("days", len(needs)), slog.Float64("energyNowKWH", energyNowKWH))
	return needs
}

// Slots returns a copy of the planning window.
func (p *Planner) Slots() []Slot {
	out := make([]Slot, len(p.slots))
	for i, t := range p.slots {
		out[i] = Slot{Start: t, SolarKW: p.solar[i], CostPerKWH: p.costs[i]}
	}
	return out
}

// EnergyNeeded returns the result of the last CalculateEnergyNeeded.
func (p *Planner) EnergyNeeded() []EnergyNeed {
	return p.energyNeeded
}

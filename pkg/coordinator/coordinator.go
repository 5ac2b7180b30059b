package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/slxcharge/slxcharge/pkg/controller"
	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/planner"
	"github.com/slxcharge/slxcharge/pkg/storage"
	"github.com/slxcharge/slxcharge/pkg/timer"
	"github.com/slxcharge/slxcharge/pkg/trips"
	"github.com/slxcharge/slxcharge/pkg/types"
	"github.com/slxcharge/slxcharge/pkg/utility"
)

// DefaultRefreshInterval is how often odometer, forecast and plan are
// refreshed.
const DefaultRefreshInterval = 5 * time.Minute

// forecastInterval is how often solar forecast and energy costs are fetched.
const forecastInterval = time.Hour

// SolarForecaster returns the expected PV power in watts keyed by time.
type SolarForecaster interface {
	Forecast(ctx context.Context) (map[time.Time]float64, error)
}

// Options wires the coordinator. Optional collaborators may be left nil.
type Options struct {
	Clock    timer.Clock
	DB       storage.Database
	Settings types.Settings

	Car     controller.SocRequester
	Charger controller.ChargerModeSetter

	OdometerEntity string
	Statistics     trips.StatisticsSource
	History        trips.HistorySource
	Flags          trips.Flags
	Exporter       trips.Exporter

	Solar SolarForecaster
	Costs utility.Provider

	Location        *time.Location
	RefreshInterval time.Duration
	Planner         planner.Config
}

// Plan is the charging plan snapshot.
type Plan struct {
	Slots        []planner.Slot       `json:"slots"`
	EnergyNeeded []planner.EnergyNeed `json:"energyNeeded"`
}

// Predictions is the trip prediction snapshot.
type Predictions struct {
	Days      map[types.Date][]float64 `json:"days"`
	Histogram map[string][]float64     `json:"histogram"`
}

// Coordinator owns the session manager and both planners. Every mutation runs
// on its loop, so none of the components need locking.
type Coordinator struct {
	loop    *timer.Loop
	clock   timer.Clock
	db      storage.Database
	loc     *time.Location
	entity  string
	solar   SolarForecaster
	costs   utility.Provider
	manager *controller.Manager
	trips   *trips.Planner
	planner *planner.Planner
	refresh *timer.Timer

	lastForecast time.Time
}

// New builds a coordinator. Nothing runs until Run is called.
func New(opts Options) *Coordinator {
	base := opts.Clock
	if base == nil {
		base = timer.Real()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	pcfg := opts.Planner
	if pcfg.Slots <= 0 {
		pcfg = planner.DefaultConfig()
	}

	loop := timer.NewLoop()
	clock := timer.NewLoopClock(base, loop)

	c := &Coordinator{
		loop:    loop,
		clock:   clock,
		db:      opts.DB,
		loc:     loc,
		entity:  opts.OdometerEntity,
		solar:   opts.Solar,
		costs:   opts.Costs,
		manager: controller.NewManager(clock, opts.Settings, opts.Car, opts.Charger),
		trips:   trips.NewPlanner(clock, loc, opts.DB),
		planner: planner.New(pcfg),
	}
	c.trips.SetSources(opts.Statistics, opts.History)
	c.trips.SetFlags(opts.Flags)
	c.trips.SetExporter(opts.Exporter)
	c.manager.AddListener(c)
	c.refresh = timer.New(clock, "refresh", interval, c.onRefresh)
	return c
}

// Run loads the odometer series, does a first refresh and then processes
// events until ctx is done. Events posted earlier are handled after the
// first refresh.
func (c *Coordinator) Run(ctx context.Context) error {
	c.start(ctx)
	err := c.loop.Run(ctx)
	c.refresh.Cancel(ctx)
	return err
}

func (c *Coordinator) start(ctx context.Context) {
	if c.entity != "" {
		c.trips.Initialize(ctx, c.entity)
		c.trips.ReadStorage(ctx)
	}
	c.onRefresh(ctx)
}

func (c *Coordinator) onRefresh(ctx context.Context) {
	defer c.refresh.Schedule(ctx)
	now := c.clock.Now()

	if c.entity != "" {
		if err := c.trips.CaptureOdometer(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to capture odometer", slog.Any("error", err))
		}
	}

	c.planner.UpdateTimeSlots(ctx, now)
	if c.lastForecast.IsZero() || now.Sub(c.lastForecast) >= forecastInterval {
		c.refreshForecasts(ctx, now)
		c.lastForecast = now
	}
	c.updateEnergyNeeded(ctx)
}

func (c *Coordinator) refreshForecasts(ctx context.Context, now time.Time) {
	slots := c.planner.Slots()
	if len(slots) == 0 {
		return
	}
	if c.solar != nil {
		watts, err := c.solar.Forecast(ctx)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get solar forecast", slog.Any("error", err))
		} else {
			c.planner.FillInSolarForecast(watts)
		}
	}
	if c.costs != nil {
		end := slots[len(slots)-1].Start.Add(time.Hour)
		costs, err := c.costs.EnergyCosts(ctx, slots[0].Start, end)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get energy costs", slog.Any("error", err))
		} else {
			c.planner.FillInEnergyCost(costs)
		}
	}
}

// updateEnergyNeeded recomputes the energy corridor from the predicted trips
// and the current battery estimate.
func (c *Coordinator) updateEnergyNeeded(ctx context.Context) {
	settings := c.manager.Settings()
	energyNow := settings.BatteryCapacityKWH * settings.SocMinimum / 100
	if est, ok := c.manager.Estimate(); ok {
		energyNow = est.EnergyKWH
	}

	preds := c.trips.Predictions()
	days := make([]planner.DayDistance, 0, len(preds))
	for d, km := range preds {
		dd := planner.DayDistance{Day: d}
		if len(km) > 0 {
			dd.KM = km[0]
		}
		days = append(days, dd)
	}
	sort.Slice(days, func(i, j int) bool {
		return days[i].Day.Before(days[j].Day)
	})
	c.planner.CalculateEnergyNeeded(ctx, days, energyNow, planner.VehicleFromSettings(settings, c.loc))
}

// EnergyEstimated implements controller.EstimateListener.
func (c *Coordinator) EnergyEstimated(ctx context.Context, est types.Estimate) {
	c.updateEnergyNeeded(ctx)
}

func (c *Coordinator) post(ctx context.Context, f func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	c.loop.Post(func() {
		f(ctx)
	})
}

func (c *Coordinator) timestamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return c.clock.Now()
	}
	return ts
}

// PlugChanged handles a plug event.
func (c *Coordinator) PlugChanged(ctx context.Context, ev types.PlugEvent) {
	c.post(ctx, func(ctx context.Context) {
		switch {
		case !ev.Connected:
			c.manager.PlugDisconnected(ctx)
		case ev.Energy != nil:
			c.manager.PlugConnectedWithEnergy(ctx, *ev.Energy)
		default:
			c.manager.PlugConnected(ctx)
		}
	})
}

// EnergyReading handles a charger session energy reading.
func (c *Coordinator) EnergyReading(ctx context.Context, ev types.ReadingEvent) {
	c.post(ctx, func(ctx context.Context) {
		c.manager.AddChargerEnergy(ctx, ev.Value, c.timestamp(ev.Timestamp))
	})
}

// SocReading handles a SOC reading from the car.
func (c *Coordinator) SocReading(ctx context.Context, ev types.ReadingEvent) {
	c.post(ctx, func(ctx context.Context) {
		c.manager.SetSocLevel(ctx, ev.Value, c.timestamp(ev.Timestamp))
	})
}

// OdometerReading handles a live odometer reading.
func (c *Coordinator) OdometerReading(ctx context.Context, ev types.ReadingEvent) {
	c.post(ctx, func(ctx context.Context) {
		if c.entity == "" {
			log.Ctx(ctx).DebugContext(ctx, "ignoring odometer reading without an odometer entity")
			return
		}
		if err := c.trips.AddOdometerReading(ctx, c.timestamp(ev.Timestamp), ev.Value); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to add odometer reading", slog.Any("error", err))
			return
		}
		c.updateEnergyNeeded(ctx)
	})
}

// Status returns the session snapshot.
func (c *Coordinator) Status(ctx context.Context) (types.SessionStatus, error) {
	var st types.SessionStatus
	err := c.loop.Do(ctx, func() {
		st = c.manager.Status()
	})
	return st, err
}

// Settings returns the settings in use.
func (c *Coordinator) Settings(ctx context.Context) (types.Settings, error) {
	var s types.Settings
	err := c.loop.Do(ctx, func() {
		s = c.manager.Settings()
	})
	return s, err
}

// UpdateSettings validates, persists and applies new settings.
func (c *Coordinator) UpdateSettings(ctx context.Context, s types.Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := c.db.SetSettings(ctx, s, types.CurrentSettingsVersion); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return c.loop.Do(ctx, func() {
		ctx := context.WithoutCancel(ctx)
		c.manager.UpdateSettings(ctx, s)
		c.updateEnergyNeeded(ctx)
	})
}

// OverrideChargerMode switches to manual control and sets the mode.
func (c *Coordinator) OverrideChargerMode(ctx context.Context, mode types.ChargerMode) error {
	var err error
	if doErr := c.loop.Do(ctx, func() {
		err = c.manager.OverrideChargerMode(context.WithoutCancel(ctx), mode)
	}); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}
	// keep the manual method across restarts
	s, err := c.Settings(ctx)
	if err != nil {
		return err
	}
	if err := c.db.SetSettings(ctx, s, types.CurrentSettingsVersion); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// DailyTrips returns the per-day distances between start and end.
func (c *Coordinator) DailyTrips(ctx context.Context, start, end *types.Date) ([]types.DailyTrip, error) {
	var out []types.DailyTrip
	err := c.loop.Do(ctx, func() {
		out = c.trips.DailyTrips(start, end)
	})
	return out, err
}

// Predictions returns the predicted distances and the weekday histogram.
func (c *Coordinator) Predictions(ctx context.Context) (Predictions, error) {
	var p Predictions
	err := c.loop.Do(ctx, func() {
		p.Days = c.trips.Predictions()
		hist := c.trips.Histogram()
		p.Histogram = make(map[string][]float64, len(hist))
		for wd, km := range hist {
			p.Histogram[time.Weekday(wd).String()] = km
		}
	})
	return p, err
}

// Plan returns the charging plan.
func (c *Coordinator) Plan(ctx context.Context) (Plan, error) {
	var p Plan
	err := c.loop.Do(ctx, func() {
		p.Slots = c.planner.Slots()
		p.EnergyNeeded = c.planner.EnergyNeeded()
	})
	return p, err
}

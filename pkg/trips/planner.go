package trips

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/timer"
	"github.com/slxcharge/slxcharge/pkg/types"
)

const (
	// DefaultDaysBack is how far back history is fetched when nothing is
	// stored yet.
	DefaultDaysBack = 30

	// FlagClearStorage removes the stored series before the next capture.
	FlagClearStorage = "clear_storage"
	// FlagExportOdometer exports the series after the next capture.
	FlagExportOdometer = "export_odometer"
)

// Store persists odometer series by key. LoadOdometer returns nil without
// error when nothing is stored.
type Store interface {
	LoadOdometer(ctx context.Context, key string) ([]types.OdometerSample, error)
	SaveOdometer(ctx context.Context, key string, samples []types.OdometerSample) error
	RemoveOdometer(ctx context.Context, key string) error
}

// StatisticsSource returns long-term hourly statistics of a series.
type StatisticsSource interface {
	HourlyStatistics(ctx context.Context, statisticID string, start, end time.Time) ([]types.OdometerSample, error)
}

// HistorySource returns recorded state changes of an entity.
type HistorySource interface {
	StateChanges(ctx context.Context, entityID string, start, end time.Time) ([]types.OdometerSample, error)
}

// Flags reports debug toggles.
type Flags interface {
	IsActive(name string) bool
}

// Exporter writes the series somewhere for inspection.
type Exporter interface {
	ExportOdometer(ctx context.Context, entityID string, samples []types.OdometerSample) error
}

// Planner collects odometer readings of one vehicle and predicts upcoming
// daily distances. It is not safe for concurrent use.
type Planner struct {
	clock    timer.Clock
	store    Store
	stats    StatisticsSource
	history  HistorySource
	flags    Flags
	exporter Exporter

	entityID    string
	index       *Index
	storageRead bool
	predictions map[types.Date][]float64
}

// NewPlanner returns a Planner that assigns readings to days in loc.
func NewPlanner(clock timer.Clock, loc *time.Location, store Store) *Planner {
	return &Planner{
		clock: clock,
		store: store,
		index: NewIndex(loc),
	}
}

// SetSources configures where missing history is fetched from. Either may be
// nil.
func (p *Planner) SetSources(stats StatisticsSource, history HistorySource) {
	p.stats = stats
	p.history = history
}

// SetFlags configures the debug toggles.
func (p *Planner) SetFlags(flags Flags) {
	p.flags = flags
}

// SetExporter configures where the series is exported.
func (p *Planner) SetExporter(e Exporter) {
	p.exporter = e
}

// Initialize selects the odometer entity and forgets previous state.
func (p *Planner) Initialize(ctx context.Context, entityID string) {
	p.entityID = entityID
	p.index.Reset()
	p.storageRead = false
	p.predictions = nil
	log.Ctx(ctx).DebugContext(ctx, "trip planner initialized", slog.String("entity", entityID))
}

// ReadStorage replaces the in-memory series with the stored one. A failed
// read is treated as an empty store.
func (p *Planner) ReadStorage(ctx context.Context) {
	p.index.Reset()
	p.storageRead = true

	samples, err := p.store.LoadOdometer(ctx, p.entityID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read odometer storage", slog.Any("error", err))
		return
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].TS.Before(samples[j].TS)
	})
	p.index.Append(samples...)
	p.index.RecalculateIndex()
	log.Ctx(ctx).DebugContext(ctx, "odometer storage read", slog.Int("samples", len(samples)))
}

// CaptureOdometer fetches readings newer than the series, persists them and
// updates the histogram and predictions.
func (p *Planner) CaptureOdometer(ctx context.Context) error {
	if p.flagActive(FlagClearStorage) {
		log.Ctx(ctx).InfoContext(ctx, "clearing odometer storage")
		if err := p.store.RemoveOdometer(ctx, p.entityID); err != nil {
			return fmt.Errorf("failed to clear odometer storage: %w", err)
		}
		p.index.Reset()
		p.storageRead = true
	}
	if !p.storageRead {
		p.ReadStorage(ctx)
	}

	daysBack := DefaultDaysBack
	if last, ok := p.index.Last(); ok {
		daysBack = int(p.clock.Now().Sub(last.TS)/(24*time.Hour)) + 1
	}

	fetched, err := p.historicalOdometer(ctx, daysBack)
	if err != nil {
		return err
	}
	if added := p.merge(fetched); added > 0 {
		log.Ctx(ctx).DebugContext(ctx, "odometer readings merged", slog.Int("added", added))
		if err := p.store.SaveOdometer(ctx, p.entityID, p.index.Samples()); err != nil {
			return fmt.Errorf("failed to save odometer: %w", err)
		}
	}
	p.refresh(ctx)

	if p.flagActive(FlagExportOdometer) && p.exporter != nil {
		if err := p.exporter.ExportOdometer(ctx, p.entityID, p.index.Samples()); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to export odometer", slog.Any("error", err))
		}
	}
	return nil
}

// AddOdometerReading records a live reading. Readings that are not newer than
// the series are dropped.
func (p *Planner) AddOdometerReading(ctx context.Context, ts time.Time, km float64) error {
	if !p.storageRead {
		p.ReadStorage(ctx)
	}
	if p.merge([]types.OdometerSample{{TS: ts, KM: km}}) == 0 {
		log.Ctx(ctx).DebugContext(ctx, "ignoring old odometer reading", slog.Time("ts", ts))
		return nil
	}
	if err := p.store.SaveOdometer(ctx, p.entityID, p.index.Samples()); err != nil {
		return fmt.Errorf("failed to save odometer: %w", err)
	}
	p.refresh(ctx)
	return nil
}

func (p *Planner) historicalOdometer(ctx context.Context, daysBack int) ([]types.OdometerSample, error) {
	end := p.clock.Now()
	start := end.Add(-time.Duration(daysBack) * 24 * time.Hour)
	log.Ctx(ctx).DebugContext(
		ctx,
		"fetching odometer history",
		slog.Int("daysBack", daysBack),
		slog.Time("start", start),
	)

	var all []types.OdometerSample
	if p.stats != nil {
		samples, err := p.stats.HourlyStatistics(ctx, p.entityID, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to get odometer statistics: %w", err)
		}
		all = append(all, samples...)
	}
	if p.history != nil {
		samples, err := p.history.StateChanges(ctx, p.entityID, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to get odometer history: %w", err)
		}
		all = append(all, samples...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].TS.Before(all[j].TS)
	})
	return all, nil
}

// merge appends the samples newer than the series and returns how many were
// added. samples must be sorted.
func (p *Planner) merge(samples []types.OdometerSample) int {
	start := 0
	if last, ok := p.index.Last(); ok {
		start = sort.Search(len(samples), func(i int) bool {
			return samples[i].TS.After(last.TS)
		})
	}
	var added int
	for _, s := range samples[start:] {
		// sources may overlap
		if last, ok := p.index.Last(); ok && !s.TS.After(last.TS) {
			continue
		}
		p.index.Append(s)
		added++
	}
	return added
}

func (p *Planner) refresh(ctx context.Context) {
	p.index.RecalculateIndex()
	if n := p.index.UpdateDailyHistogram(); n > 0 {
		log.Ctx(ctx).DebugContext(ctx, "daily histogram extended", slog.Int("days", n))
	}
	p.predictions = Predict(p.index, DefaultHorizon)
}

func (p *Planner) flagActive(name string) bool {
	return p.flags != nil && p.flags.IsActive(name)
}

// Samples returns the merged series.
func (p *Planner) Samples() []types.OdometerSample {
	return p.index.Samples()
}

// DailyTrips returns the distance of every day in [start, end].
func (p *Planner) DailyTrips(start, end *types.Date) []types.DailyTrip {
	return p.index.DailyTrips(start, end)
}

// Predictions returns candidate distances per upcoming day.
func (p *Planner) Predictions() map[types.Date][]float64 {
	return p.predictions
}

// Histogram returns the daily distances observed per weekday.
func (p *Planner) Histogram() [7][]float64 {
	return p.index.Histogram()
}

package trips

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slxcharge/slxcharge/pkg/storage/storagemock"
	"github.com/slxcharge/slxcharge/pkg/timer"
	"github.com/slxcharge/slxcharge/pkg/types"
)

const odometerEntity = "kona.odometer_entity_test"

type historyCall struct {
	entityID   string
	start, end time.Time
}

type fakeHistory struct {
	samples []types.OdometerSample
	err     error
	calls   []historyCall
}

func (f *fakeHistory) StateChanges(ctx context.Context, entityID string, start, end time.Time) ([]types.OdometerSample, error) {
	f.calls = append(f.calls, historyCall{entityID, start, end})
	return f.samples, f.err
}

type fakeStatistics struct {
	samples []types.OdometerSample
}

func (f *fakeStatistics) HourlyStatistics(ctx context.Context, statisticID string, start, end time.Time) ([]types.OdometerSample, error) {
	return f.samples, nil
}

type fakeFlags map[string]bool

func (f fakeFlags) IsActive(name string) bool {
	return f[name]
}

type fakeExporter struct {
	exported []types.OdometerSample
}

func (f *fakeExporter) ExportOdometer(ctx context.Context, entityID string, samples []types.OdometerSample) error {
	f.exported = append([]types.OdometerSample(nil), samples...)
	return nil
}

func entitySeries() []types.OdometerSample {
	return []types.OdometerSample{
		{TS: ts("2024-01-24 12:00:00+00:00"), KM: 1705},
		{TS: ts("2024-01-26 19:54:41+00:00"), KM: 1720.2},
	}
}

func withLen(n int) any {
	return mock.MatchedBy(func(s []types.OdometerSample) bool { return len(s) == n })
}

func TestPlannerReadStorage(t *testing.T) {
	ctx := context.Background()
	db := &storagemock.MockDatabase{}
	db.On("LoadOdometer", mock.Anything, odometerEntity).Return([]types.OdometerSample{
		{TS: ts("2024-01-18 19:54:41+00:00"), KM: 2345.6},
		{TS: ts("2024-01-17 18:54:41+00:00"), KM: 1234.5},
	}, nil)

	p := NewPlanner(timer.NewFakeClock(ts("2024-01-20 00:00:00+00:00")), time.UTC, db)
	p.Initialize(ctx, odometerEntity)
	p.ReadStorage(ctx)

	samples := p.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, 2345.6, samples[1].KM, "stored series is sorted")
}

func TestPlannerCapture(t *testing.T) {
	ctx := context.Background()
	now := ts("2024-01-27 13:14:15+00:00")

	t.Run("empty storage fetches the default window", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("LoadOdometer", mock.Anything, odometerEntity).Return(nil, nil)
		db.On("SaveOdometer", mock.Anything, odometerEntity, withLen(2)).Return(nil).Once()
		history := &fakeHistory{samples: entitySeries()}

		p := NewPlanner(timer.NewFakeClock(now), time.UTC, db)
		p.SetSources(nil, history)
		p.Initialize(ctx, odometerEntity)
		require.NoError(t, p.CaptureOdometer(ctx))

		require.Len(t, history.calls, 1)
		assert.Equal(t, odometerEntity, history.calls[0].entityID)
		assert.Equal(t, now.Add(-DefaultDaysBack*24*time.Hour), history.calls[0].start)
		assert.Equal(t, now, history.calls[0].end)
		db.AssertExpectations(t)
	})

	t.Run("storage read failure is treated as empty", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("LoadOdometer", mock.Anything, odometerEntity).Return(nil, errors.New("unavailable"))
		history := &fakeHistory{}

		p := NewPlanner(timer.NewFakeClock(now), time.UTC, db)
		p.SetSources(nil, history)
		p.Initialize(ctx, odometerEntity)
		require.NoError(t, p.CaptureOdometer(ctx))
		require.Len(t, history.calls, 1)
		assert.Equal(t, now.Add(-DefaultDaysBack*24*time.Hour), history.calls[0].start)
		db.AssertNotCalled(t, "SaveOdometer", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("merges only newer history", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("LoadOdometer", mock.Anything, odometerEntity).Return(storedSeries(), nil)
		db.On("SaveOdometer", mock.Anything, odometerEntity, withLen(8)).Return(nil).Once()
		history := &fakeHistory{samples: entitySeries()}

		p := NewPlanner(timer.NewFakeClock(now), time.UTC, db)
		p.SetSources(nil, history)
		p.Initialize(ctx, odometerEntity)
		require.NoError(t, p.CaptureOdometer(ctx))

		// two full days since the last stored sample plus one
		require.Len(t, history.calls, 1)
		assert.Equal(t, now.Add(-3*24*time.Hour), history.calls[0].start)
		samples := p.Samples()
		require.Len(t, samples, 8)
		assert.Equal(t, 1720.2, samples[7].KM)
		db.AssertExpectations(t)

		// histogram closed through the 24th, predictions follow it
		h := p.Histogram()
		assert.InDeltaSlice(t, []float64{10.1}, h[time.Wednesday], 1e-9)
		pred := p.Predictions()
		require.Len(t, pred, DefaultHorizon)
		assert.InDeltaSlice(t, []float64{76.6}, pred[day(25)], 1e-9)

		trips := p.DailyTrips(ptr(day(18)), ptr(day(19)))
		require.Len(t, trips, 2)
		assert.InDelta(t, 76.6, trips[0].KM, 1e-9)
		assert.InDelta(t, 15.0, trips[1].KM, 1e-9)

		// nothing new the second time
		history.samples = entitySeries()
		require.NoError(t, p.CaptureOdometer(ctx))
		assert.Len(t, p.Samples(), 8)
		db.AssertNumberOfCalls(t, "LoadOdometer", 1)
		db.AssertNumberOfCalls(t, "SaveOdometer", 1)
	})

	t.Run("statistics and history overlap", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("LoadOdometer", mock.Anything, odometerEntity).Return(nil, nil)
		db.On("SaveOdometer", mock.Anything, odometerEntity, withLen(3)).Return(nil).Once()
		stats := &fakeStatistics{samples: []types.OdometerSample{
			{TS: ts("2024-01-20 10:00:00+00:00"), KM: 1600},
			{TS: ts("2024-01-24 12:00:00+00:00"), KM: 1705},
		}}
		history := &fakeHistory{samples: entitySeries()}

		p := NewPlanner(timer.NewFakeClock(now), time.UTC, db)
		p.SetSources(stats, history)
		p.Initialize(ctx, odometerEntity)
		require.NoError(t, p.CaptureOdometer(ctx))
		assert.Len(t, p.Samples(), 3)
		db.AssertExpectations(t)
	})

	t.Run("history error", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("LoadOdometer", mock.Anything, odometerEntity).Return(nil, nil)
		p := NewPlanner(timer.NewFakeClock(now), time.UTC, db)
		p.SetSources(nil, &fakeHistory{err: errors.New("boom")})
		p.Initialize(ctx, odometerEntity)
		assert.ErrorContains(t, p.CaptureOdometer(ctx), "boom")
	})

	t.Run("clear storage flag", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("RemoveOdometer", mock.Anything, odometerEntity).Return(nil).Once()
		db.On("SaveOdometer", mock.Anything, odometerEntity, withLen(2)).Return(nil).Once()
		history := &fakeHistory{samples: entitySeries()}

		p := NewPlanner(timer.NewFakeClock(now), time.UTC, db)
		p.SetSources(nil, history)
		p.SetFlags(fakeFlags{FlagClearStorage: true})
		p.Initialize(ctx, odometerEntity)
		require.NoError(t, p.CaptureOdometer(ctx))

		db.AssertNotCalled(t, "LoadOdometer", mock.Anything, mock.Anything)
		assert.Len(t, p.Samples(), 2)
		db.AssertExpectations(t)
	})

	t.Run("export flag", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("LoadOdometer", mock.Anything, odometerEntity).Return(storedSeries(), nil)
		exporter := &fakeExporter{}

		p := NewPlanner(timer.NewFakeClock(now), time.UTC, db)
		p.SetFlags(fakeFlags{FlagExportOdometer: true})
		p.SetExporter(exporter)
		p.Initialize(ctx, odometerEntity)
		require.NoError(t, p.CaptureOdometer(ctx))
		assert.Len(t, exporter.exported, 7)
	})
}

func TestPlannerAddOdometerReading(t *testing.T) {
	ctx := context.Background()
	db := &storagemock.MockDatabase{}
	db.On("LoadOdometer", mock.Anything, odometerEntity).Return(storedSeries(), nil)
	db.On("SaveOdometer", mock.Anything, odometerEntity, withLen(8)).Return(nil).Once()

	p := NewPlanner(timer.NewFakeClock(ts("2024-01-25 12:00:00+00:00")), time.UTC, db)
	p.Initialize(ctx, odometerEntity)

	require.NoError(t, p.AddOdometerReading(ctx, ts("2024-01-25 11:00:00+00:00"), 1730.2))
	require.NoError(t, p.AddOdometerReading(ctx, ts("2024-01-24 11:00:00+00:00"), 1700.0))
	assert.Len(t, p.Samples(), 8)
	db.AssertExpectations(t)

	last, ok := p.index.LastProcessed()
	require.True(t, ok)
	assert.Equal(t, day(24), last)
}

package utility

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider map[time.Time]float64

func (s staticProvider) EnergyCosts(ctx context.Context, start, end time.Time) (map[time.Time]float64, error) {
	return s, nil
}

func TestMap(t *testing.T) {
	m := NewMap()
	_, ok, err := m.Active()
	require.NoError(t, err)
	assert.False(t, ok)

	m.SetProvider("static", staticProvider{})
	m.SetActive("static")
	p, ok, err := m.Active()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.IsType(t, staticProvider{}, p)

	m.SetActive("missing")
	_, _, err = m.Active()
	assert.Error(t, err)
}

func TestHourlyCosts(t *testing.T) {
	start := time.Date(2024, 1, 10, 10, 30, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)
	h := func(hour int) time.Time { return time.Date(2024, 1, 10, hour, 0, 0, 0, time.UTC) }

	costs := hourlyCosts([]Price{
		{TSStart: h(9), DollarsPerKWH: 9},
		{TSStart: h(10), DollarsPerKWH: 1},
		{TSStart: h(11), DollarsPerKWH: 2},
		{TSStart: h(11), DollarsPerKWH: 3},
		{TSStart: h(13), DollarsPerKWH: 4},
		{TSStart: h(14), DollarsPerKWH: 5},
	}, start, end)

	assert.Equal(t, map[time.Time]float64{
		h(10): 1,
		h(11): 3,
		h(13): 4,
	}, costs)
}

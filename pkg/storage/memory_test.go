package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slxcharge/slxcharge/pkg/types"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	s, version, err := m.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, version)
	assert.Equal(t, types.Settings{}, s)

	require.NoError(t, m.SetSettings(ctx, types.DefaultSettings(), types.CurrentSettingsVersion))
	s, version, err = m.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.CurrentSettingsVersion, version)
	assert.Equal(t, types.DefaultSettings(), s)

	samples, err := m.LoadOdometer(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, samples)

	series := []types.OdometerSample{{TS: time.Unix(0, 0), KM: 1}}
	require.NoError(t, m.SaveOdometer(ctx, "b", series))
	require.NoError(t, m.SaveOdometer(ctx, "a", series))
	series[0].KM = 2

	got, err := m.LoadOdometer(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got[0].KM, "saved series is a copy")

	keys, err := m.ListOdometerKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, m.RemoveOdometer(ctx, "b"))
	got, err = m.LoadOdometer(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, m.Close())
}

package fileflag

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slxcharge/slxcharge/pkg/types"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestIsActive(t *testing.T) {
	dir := t.TempDir()
	d := New(dir)

	assert.False(t, d.IsActive("clear_storage"))

	t.Run("persistent flag", func(t *testing.T) {
		touch(t, filepath.Join(dir, "flag_export_odometer"))
		assert.True(t, d.IsActive("export_odometer"))
		assert.True(t, d.IsActive("export_odometer"))
		assert.FileExists(t, filepath.Join(dir, "flag_export_odometer"))
	})

	t.Run("once flag is consumed", func(t *testing.T) {
		touch(t, filepath.Join(dir, "flagonce_clear_storage"))
		assert.True(t, d.IsActive("clear_storage"))
		assert.NoFileExists(t, filepath.Join(dir, "flagonce_clear_storage"))
		assert.False(t, d.IsActive("clear_storage"))
	})

	t.Run("directories are not flags", func(t *testing.T) {
		require.NoError(t, os.Mkdir(filepath.Join(dir, "flag_weird"), 0o755))
		assert.False(t, d.IsActive("weird"))
	})

	t.Run("no directory", func(t *testing.T) {
		assert.False(t, New("").IsActive("clear_storage"))
	})
}

func TestExportOdometer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "export")
	d := New(dir)

	samples := []types.OdometerSample{
		{TS: time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), KM: 1234},
		{TS: time.Date(2024, 1, 11, 8, 0, 0, 0, time.UTC), KM: 1240.1},
	}
	require.NoError(t, d.ExportOdometer(context.Background(), "sensor.car/odometer", samples))

	b, err := os.ReadFile(filepath.Join(dir, "odometer_sensor.car_odometer.json"))
	require.NoError(t, err)
	var got []types.OdometerSample
	require.NoError(t, json.Unmarshal(b, &got))
	require.Len(t, got, 2)
	assert.True(t, got[1].TS.Equal(samples[1].TS))
	assert.Equal(t, 1240.1, got[1].KM)

	require.NoError(t, d.ExportOdometer(context.Background(), "empty", nil))
	b, err = os.ReadFile(filepath.Join(dir, "odometer_empty.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))

	assert.Error(t, New("").ExportOdometer(context.Background(), "x", samples))
}

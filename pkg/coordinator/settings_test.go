package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slxcharge/slxcharge/pkg/storage"
	"github.com/slxcharge/slxcharge/pkg/types"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vehicle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		s, err := LoadSettings(ctx, storage.NewMemory(), "")
		require.NoError(t, err)
		assert.Equal(t, types.DefaultSettings(), s)
	})

	t.Run("profile", func(t *testing.T) {
		path := writeProfile(t, "batteryCapacityKWH: 77.4\nsocRequestTimeout: 5m\nchargeMethod: FAST\n")
		s, err := LoadSettings(ctx, storage.NewMemory(), path)
		require.NoError(t, err)
		assert.Equal(t, 77.4, s.BatteryCapacityKWH)
		assert.Equal(t, 5*time.Minute, s.SocRequestTimeout)
		assert.Equal(t, types.ChargeMethodFast, s.ChargeMethod)
		assert.Equal(t, 0.8, s.ChargingEfficiency)
	})

	t.Run("stored settings win", func(t *testing.T) {
		db := storage.NewMemory()
		stored := types.DefaultSettings()
		stored.SocMinimum = 35
		require.NoError(t, db.SetSettings(ctx, stored, types.CurrentSettingsVersion))

		path := writeProfile(t, "socMinimum: 10\n")
		s, err := LoadSettings(ctx, db, path)
		require.NoError(t, err)
		assert.Equal(t, 35.0, s.SocMinimum)
	})

	t.Run("migrates old versions", func(t *testing.T) {
		db := storage.NewMemory()
		old := types.Settings{
			BatteryCapacityKWH: 40,
			ChargingEfficiency: 0.9,
			SocMinimum:         15,
			SocMaximum:         90,
			TargetSoc:          85,
			ChargeMethod:       types.ChargeMethodEco,
		}
		require.NoError(t, db.SetSettings(ctx, old, 1))

		s, err := LoadSettings(ctx, db, "")
		require.NoError(t, err)
		assert.Equal(t, 40.0, s.BatteryCapacityKWH)
		assert.Equal(t, 180*time.Second, s.SocRequestTimeout)
		assert.InDelta(t, 4, s.BottomBufferKWH, 1e-9)

		_, version, err := db.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.CurrentSettingsVersion, version)
	})

	t.Run("invalid profile", func(t *testing.T) {
		path := writeProfile(t, "socMinimum: [1, 2]\n")
		_, err := LoadSettings(ctx, storage.NewMemory(), path)
		assert.Error(t, err)

		path = writeProfile(t, "socMinimum: 95\n")
		_, err = LoadSettings(ctx, storage.NewMemory(), path)
		assert.Error(t, err)

		_, err = LoadSettings(ctx, storage.NewMemory(), filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

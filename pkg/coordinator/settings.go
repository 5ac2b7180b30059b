package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/storage"
	"github.com/slxcharge/slxcharge/pkg/types"
)

// LoadSettings resolves the settings in order: defaults, the optional YAML
// vehicle profile, then the stored settings. Stored settings of an older
// version are migrated and written back.
func LoadSettings(ctx context.Context, db storage.Database, profilePath string) (types.Settings, error) {
	s := types.DefaultSettings()

	if profilePath != "" {
		b, err := os.ReadFile(profilePath)
		if err != nil {
			return s, fmt.Errorf("failed to read vehicle profile: %w", err)
		}
		if err := yaml.Unmarshal(b, &s); err != nil {
			return s, fmt.Errorf("failed to parse vehicle profile: %w", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "loaded vehicle profile", slog.String("path", profilePath))
	}

	stored, version, err := db.GetSettings(ctx)
	if err != nil {
		return s, fmt.Errorf("failed to get settings: %w", err)
	}
	if version > 0 {
		migrated, changed, err := types.MigrateSettings(stored, version)
		if err != nil {
			return s, fmt.Errorf("failed to migrate settings: %w", err)
		}
		s = migrated
		if changed {
			log.Ctx(ctx).InfoContext(
				ctx,
				"migrated settings",
				slog.Int("from", version),
				slog.Int("to", types.CurrentSettingsVersion),
			)
			if err := db.SetSettings(ctx, s, types.CurrentSettingsVersion); err != nil {
				return s, fmt.Errorf("failed to save migrated settings: %w", err)
			}
		}
	}

	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

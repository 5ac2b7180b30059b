package fileflag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/levenlabs/go-lflag"
	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/types"
)

const (
	prefix     = "flag_"
	prefixOnce = "flagonce_"
)

// Dir checks for debug flags given as empty files in a directory.
// flag_<name> stays active until removed; flagonce_<name> is removed the
// first time it is seen.
type Dir struct {
	path string
}

// Configured registers the flag directory flag.
func Configured() *Dir {
	d := &Dir{}
	path := lflag.String("flag-dir", "data", "Directory checked for flag_<name> and flagonce_<name> files and used for exports")
	lflag.Do(func() {
		d.path = *path
	})
	return d
}

// New returns a Dir rooted at path.
func New(path string) *Dir {
	return &Dir{path: path}
}

// Path returns the directory.
func (d *Dir) Path() string {
	return d.path
}

func isFile(name string) bool {
	fi, err := os.Stat(name)
	return err == nil && fi.Mode().IsRegular()
}

// IsActive reports whether the flag is set. Since a once-flag is consumed,
// call it once per decision.
func (d *Dir) IsActive(name string) bool {
	ctx := context.Background()
	if d.path == "" {
		return false
	}
	if isFile(filepath.Join(d.path, prefix+name)) {
		log.Ctx(ctx).DebugContext(ctx, "flag is set", slog.String("flag", name))
		return true
	}

	once := filepath.Join(d.path, prefixOnce+name)
	if !isFile(once) {
		return false
	}
	log.Ctx(ctx).DebugContext(ctx, "flag once is set", slog.String("flag", name))
	if err := os.Remove(once); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Ctx(ctx).WarnContext(ctx, "failed to remove flag file", slog.String("file", once), slog.Any("error", err))
	}
	return true
}

// ExportOdometer writes the series as indented JSON to
// <dir>/odometer_<entity>.json.
func (d *Dir) ExportOdometer(ctx context.Context, entityID string, samples []types.OdometerSample) error {
	if d.path == "" {
		return fmt.Errorf("no flag directory configured")
	}
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if samples == nil {
		samples = []types.OdometerSample{}
	}
	b, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal odometer: %w", err)
	}

	name := filepath.Join(d.path, "odometer_"+sanitize(entityID)+".json")
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := os.Rename(tmp, name); err != nil {
		return fmt.Errorf("failed to move export into place: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "exported odometer", slog.String("file", name), slog.Int("count", len(samples)))
	return nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/slxcharge/slxcharge/pkg/types"
)

// Memory is a Database that keeps everything in process memory.
type Memory struct {
	mu              sync.Mutex
	settings        types.Settings
	settingsVersion int
	odometer        map[string][]types.OdometerSample
}

var _ Database = (*Memory)(nil)

// NewMemory returns an empty Memory database.
func NewMemory() *Memory {
	return &Memory{odometer: make(map[string][]types.OdometerSample)}
}

func (m *Memory) GetSettings(ctx context.Context) (types.Settings, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, m.settingsVersion, nil
}

func (m *Memory) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
	m.settingsVersion = version
	return nil
}

func (m *Memory) LoadOdometer(ctx context.Context, key string) ([]types.OdometerSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	samples, ok := m.odometer[key]
	if !ok {
		return nil, nil
	}
	return append([]types.OdometerSample(nil), samples...), nil
}

func (m *Memory) SaveOdometer(ctx context.Context, key string, samples []types.OdometerSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.odometer[key] = append([]types.OdometerSample(nil), samples...)
	return nil
}

func (m *Memory) RemoveOdometer(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.odometer, key)
	return nil
}

func (m *Memory) ListOdometerKeys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.odometer))
	for k := range m.odometer {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close() error {
	return nil
}

package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slxcharge/slxcharge/pkg/storage"
	"github.com/slxcharge/slxcharge/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) LoadOdometer(ctx context.Context, key string) ([]types.OdometerSample, error) {
	args := m.Called(ctx, key)
	if len(args) > 0 {
		samples, _ := args.Get(0).([]types.OdometerSample)
		return samples, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) SaveOdometer(ctx context.Context, key string, samples []types.OdometerSample) error {
	args := m.Called(ctx, key, samples)
	return args.Error(0)
}

func (m *MockDatabase) RemoveOdometer(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockDatabase) ListOdometerKeys(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		keys, _ := args.Get(0).([]string)
		return keys, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	if len(args) > 0 {
		return args.Error(0)
	}
	return nil
}

package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slxcharge/slxcharge/pkg/hass"
	"github.com/slxcharge/slxcharge/pkg/types"
)

type mockHomeAssistant struct {
	mock.Mock
}

func (m *mockHomeAssistant) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	return m.Called(ctx, domain, service, data).Error(0)
}

func (m *mockHomeAssistant) GetState(ctx context.Context, entityID string) (hass.State, error) {
	args := m.Called(ctx, entityID)
	return args.Get(0).(hass.State), args.Error(1)
}

type fakePublisher struct {
	enabled  bool
	topics   []string
	payloads []string
	err      error
}

func (p *fakePublisher) Enabled() bool { return p.enabled }

func (p *fakePublisher) Topic(name string) string { return "slxcharge/" + name }

func (p *fakePublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, string(payload))
	return nil
}

func TestHassCar(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ha := &mockHomeAssistant{}
		ha.On("CallService", ctx, "kia_uvo", "force_update", map[string]any{"device_id": "car1"}).Return(nil).Once()
		assert.True(t, NewHassCar(ha, "kia_uvo", "force_update", "car1").RequestSocUpdate(ctx))
		ha.AssertExpectations(t)
	})

	t.Run("failure", func(t *testing.T) {
		ha := &mockHomeAssistant{}
		ha.On("CallService", ctx, "kia_uvo", "force_update", map[string]any{}).Return(errors.New("boom")).Once()
		assert.False(t, NewHassCar(ha, "kia_uvo", "force_update", "").RequestSocUpdate(ctx))
		ha.AssertExpectations(t)
	})

	t.Run("manual", func(t *testing.T) {
		assert.True(t, ManualCar{}.RequestSocUpdate(ctx))
	})
}

func TestManualCharger(t *testing.T) {
	c := &ManualCharger{}
	assert.Equal(t, types.ChargerModeUnknown, c.Mode())
	require.NoError(t, c.SetChargerMode(context.Background(), types.ChargerModePVCharge))
	assert.Equal(t, types.ChargerModePVCharge, c.Mode())
}

func TestOpenEVSECharger(t *testing.T) {
	ctx := context.Background()
	const divert = "select.garage_divert_mode"

	t.Run("pv charge selects eco and clears override", func(t *testing.T) {
		ha := &mockHomeAssistant{}
		ha.On("GetState", ctx, divert).Return(hass.State{State: "fast"}, nil).Once()
		ha.On("CallService", ctx, "select", "select_option", map[string]any{"entity_id": divert, "option": "eco"}).Return(nil).Once()
		ha.On("CallService", ctx, "openevse", "clear_override", map[string]any{"device_id": []string{"dev"}}).Return(nil).Once()

		c := NewOpenEVSECharger(ha, "dev", divert)
		require.NoError(t, c.SetChargerMode(ctx, types.ChargerModePVCharge))
		ha.AssertExpectations(t)
	})

	t.Run("same mode is applied again", func(t *testing.T) {
		ha := &mockHomeAssistant{}
		// the override was changed at the charger between the two calls
		ha.On("GetState", ctx, divert).Return(hass.State{State: "fast"}, nil).Twice()
		ha.On("CallService", ctx, "openevse", "set_override", map[string]any{"state": "active", "device_id": []string{"dev"}}).Return(nil).Twice()

		c := NewOpenEVSECharger(ha, "dev", divert)
		require.NoError(t, c.SetChargerMode(ctx, types.ChargerModeNormalCharge))
		require.NoError(t, c.SetChargerMode(ctx, types.ChargerModeNormalCharge))
		ha.AssertExpectations(t)
		ha.AssertNumberOfCalls(t, "CallService", 2)
	})

	t.Run("stopped keeps fast divert and disables override", func(t *testing.T) {
		ha := &mockHomeAssistant{}
		ha.On("GetState", ctx, divert).Return(hass.State{State: "fast"}, nil).Once()
		ha.On("CallService", ctx, "openevse", "set_override", map[string]any{"state": "disabled", "device_id": []string{"dev"}}).Return(nil).Once()

		c := NewOpenEVSECharger(ha, "dev", divert)
		require.NoError(t, c.SetChargerMode(ctx, types.ChargerModeStopped))
		ha.AssertExpectations(t)
	})

	t.Run("normal charge activates override", func(t *testing.T) {
		ha := &mockHomeAssistant{}
		ha.On("GetState", ctx, divert).Return(hass.State{}, errors.New("unreachable")).Once()
		ha.On("CallService", ctx, "select", "select_option", map[string]any{"entity_id": divert, "option": "fast"}).Return(nil).Once()
		ha.On("CallService", ctx, "openevse", "set_override", map[string]any{"state": "active", "device_id": []string{"dev"}}).Return(nil).Once()

		c := NewOpenEVSECharger(ha, "dev", divert)
		require.NoError(t, c.SetChargerMode(ctx, types.ChargerModeNormalCharge))
		ha.AssertExpectations(t)
	})

	t.Run("failed call is retried next time", func(t *testing.T) {
		ha := &mockHomeAssistant{}
		ha.On("GetState", ctx, divert).Return(hass.State{State: "eco"}, nil)
		ha.On("CallService", ctx, "openevse", "clear_override", mock.Anything).Return(errors.New("boom")).Once()
		ha.On("CallService", ctx, "openevse", "clear_override", mock.Anything).Return(nil).Once()

		c := NewOpenEVSECharger(ha, "dev", divert)
		require.Error(t, c.SetChargerMode(ctx, types.ChargerModePVCharge))
		require.NoError(t, c.SetChargerMode(ctx, types.ChargerModePVCharge))
		ha.AssertExpectations(t)
	})

	t.Run("unknown mode", func(t *testing.T) {
		c := NewOpenEVSECharger(&mockHomeAssistant{}, "dev", divert)
		assert.Error(t, c.SetChargerMode(ctx, types.ChargerMode("TURBO")))
	})
}

func TestMQTTCharger(t *testing.T) {
	ctx := context.Background()
	p := &fakePublisher{enabled: true}
	c := NewMQTTCharger(p, "charger/mode")
	require.NoError(t, c.SetChargerMode(ctx, types.ChargerModeNormalCharge))
	assert.Equal(t, []string{"slxcharge/charger/mode"}, p.topics)
	assert.Equal(t, []string{"NORMALCHARGE"}, p.payloads)

	p.err = errors.New("offline")
	assert.Error(t, c.SetChargerMode(ctx, types.ChargerModeStopped))
}

func TestBuild(t *testing.T) {
	ha := &mockHomeAssistant{}
	pub := &fakePublisher{enabled: true}

	car, charger, err := build(ha, pub, options{carKind: "manual", chargerKind: "manual"})
	require.NoError(t, err)
	assert.IsType(t, ManualCar{}, car)
	assert.IsType(t, &ManualCharger{}, charger)

	car, charger, err = build(ha, pub, options{carKind: "hass", carDomain: "kia_uvo", carService: "force_update", chargerKind: "mqtt", chargerTopic: "x"})
	require.NoError(t, err)
	assert.IsType(t, &HassCar{}, car)
	assert.IsType(t, &MQTTCharger{}, charger)

	_, charger, err = build(ha, pub, options{carKind: "manual", chargerKind: "openevse", evseDevice: "dev"})
	require.NoError(t, err)
	assert.IsType(t, &OpenEVSECharger{}, charger)

	_, _, err = build(ha, pub, options{carKind: "manual", chargerKind: "openevse"})
	assert.Error(t, err)
	_, _, err = build(nil, pub, options{carKind: "hass", chargerKind: "manual"})
	assert.Error(t, err)
	_, _, err = build(ha, &fakePublisher{}, options{carKind: "manual", chargerKind: "mqtt"})
	assert.Error(t, err)
	_, _, err = build(ha, pub, options{carKind: "bmw", chargerKind: "manual"})
	assert.Error(t, err)
	_, _, err = build(ha, pub, options{carKind: "manual", chargerKind: "wallbox"})
	assert.Error(t, err)
}

package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/types"
)

// Publisher publishes raw payloads, typically to MQTT.
type Publisher interface {
	Topic(name string) string
	Publish(ctx context.Context, topic string, payload []byte) error
}

// ManualCharger has no remote control. It only remembers and logs the mode
// so the user can apply it by hand.
type ManualCharger struct {
	mu   sync.Mutex
	mode types.ChargerMode
}

// SetChargerMode implements controller.ChargerModeSetter.
func (c *ManualCharger) SetChargerMode(ctx context.Context, mode types.ChargerMode) error {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	log.Ctx(ctx).InfoContext(ctx, "manual charger: set mode by hand", slog.String("mode", string(mode)))
	return nil
}

// Mode returns the last requested mode.
func (c *ManualCharger) Mode() types.ChargerMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == "" {
		return types.ChargerModeUnknown
	}
	return c.mode
}

// OpenEVSECharger drives an OpenEVSE charger through its Home Assistant
// integration: the divert mode select chooses between solar and grid charging
// and the manual override starts or stops charging. Every call is applied to
// the device, since the mode may have been changed at the charger itself.
type OpenEVSECharger struct {
	ha           HomeAssistant
	deviceID     string
	divertEntity string
}

// NewOpenEVSECharger returns a charger for the given device. divertEntity is
// the device's divert mode select entity.
func NewOpenEVSECharger(ha HomeAssistant, deviceID, divertEntity string) *OpenEVSECharger {
	return &OpenEVSECharger{
		ha:           ha,
		deviceID:     deviceID,
		divertEntity: divertEntity,
	}
}

// SetChargerMode implements controller.ChargerModeSetter.
func (c *OpenEVSECharger) SetChargerMode(ctx context.Context, mode types.ChargerMode) error {
	var divert string
	switch mode {
	case types.ChargerModeStopped, types.ChargerModeNormalCharge:
		divert = "fast"
	case types.ChargerModePVCharge:
		divert = "eco"
	default:
		return fmt.Errorf("unsupported charger mode: %s", mode)
	}

	if err := c.selectDivertMode(ctx, divert); err != nil {
		return err
	}

	var err error
	switch mode {
	case types.ChargerModeStopped:
		err = c.ha.CallService(ctx, "openevse", "set_override", map[string]any{
			"state":     "disabled",
			"device_id": []string{c.deviceID},
		})
	case types.ChargerModeNormalCharge:
		err = c.ha.CallService(ctx, "openevse", "set_override", map[string]any{
			"state":     "active",
			"device_id": []string{c.deviceID},
		})
	case types.ChargerModePVCharge:
		err = c.ha.CallService(ctx, "openevse", "clear_override", map[string]any{
			"device_id": []string{c.deviceID},
		})
	}
	if err != nil {
		return fmt.Errorf("failed to set openevse override: %w", err)
	}

	log.Ctx(ctx).InfoContext(ctx, "set openevse charger mode", slog.String("mode", string(mode)))
	return nil
}

func (c *OpenEVSECharger) selectDivertMode(ctx context.Context, option string) error {
	if s, err := c.ha.GetState(ctx, c.divertEntity); err == nil && s.State == option {
		return nil
	} else if err != nil {
		log.Ctx(ctx).DebugContext(ctx, "could not read divert mode", slog.Any("error", err))
	}
	if err := c.ha.CallService(ctx, "select", "select_option", map[string]any{
		"entity_id": c.divertEntity,
		"option":    option,
	}); err != nil {
		return fmt.Errorf("failed to select divert mode: %w", err)
	}
	return nil
}

// MQTTCharger publishes the mode as a retained message for a charger bridge
// listening on the broker.
type MQTTCharger struct {
	pub   Publisher
	topic string
}

// NewMQTTCharger returns a charger publishing to topic, relative to the
// publisher's prefix.
func NewMQTTCharger(pub Publisher, topic string) *MQTTCharger {
	return &MQTTCharger{
		pub:   pub,
		topic: topic,
	}
}

// SetChargerMode implements controller.ChargerModeSetter.
func (c *MQTTCharger) SetChargerMode(ctx context.Context, mode types.ChargerMode) error {
	if err := c.pub.Publish(ctx, c.pub.Topic(c.topic), []byte(mode)); err != nil {
		return fmt.Errorf("failed to publish charger mode: %w", err)
	}
	return nil
}

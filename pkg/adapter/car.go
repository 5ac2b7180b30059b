package adapter

import (
	"context"
	"log/slog"

	"github.com/slxcharge/slxcharge/pkg/hass"
	"github.com/slxcharge/slxcharge/pkg/log"
)

// HomeAssistant is the subset of the Home Assistant client the adapters use.
type HomeAssistant interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
	GetState(ctx context.Context, entityID string) (hass.State, error)
}

// ManualCar is a car without a remote API. SOC values arrive from the user,
// so a request always succeeds without doing anything.
type ManualCar struct{}

// RequestSocUpdate implements controller.SocRequester.
func (ManualCar) RequestSocUpdate(ctx context.Context) bool {
	log.Ctx(ctx).InfoContext(ctx, "manual car: waiting for the soc to be entered")
	return true
}

// HassCar asks a Home Assistant vehicle integration to refresh its data by
// calling a service such as kia_uvo.force_update.
type HassCar struct {
	ha       HomeAssistant
	domain   string
	service  string
	deviceID string
}

// NewHassCar returns a car that calls domain.service, optionally targeting a
// device.
func NewHassCar(ha HomeAssistant, domain, service, deviceID string) *HassCar {
	return &HassCar{
		ha:       ha,
		domain:   domain,
		service:  service,
		deviceID: deviceID,
	}
}

// RequestSocUpdate implements controller.SocRequester. A failed service call
// is reported as false so the caller retries.
func (c *HassCar) RequestSocUpdate(ctx context.Context) bool {
	data := map[string]any{}
	if c.deviceID != "" {
		data["device_id"] = c.deviceID
	}
	if err := c.ha.CallService(ctx, c.domain, c.service, data); err != nil {
		log.Ctx(ctx).WarnContext(
			ctx,
			"failed to request soc update",
			slog.String("service", c.domain+"."+c.service),
			slog.Any("error", err),
		)
		return false
	}
	log.Ctx(ctx).DebugContext(ctx, "requested soc update", slog.String("service", c.domain+"."+c.service))
	return true
}

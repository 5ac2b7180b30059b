package adapter

import (
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/slxcharge/slxcharge/pkg/controller"
)

// Set holds the car and charger adapters chosen by flags.
type Set struct {
	Car     controller.SocRequester
	Charger controller.ChargerModeSetter

	err error
}

// Configured registers the adapter flags. ha and pub back the Home Assistant
// and MQTT adapters respectively.
func Configured(ha HomeAssistant, pub Publisher) *Set {
	s := &Set{}
	carKind := lflag.String("car-adapter", "manual", "Car adapter: manual or hass")
	carDomain := lflag.String("car-hass-domain", "kia_uvo", "Home Assistant domain of the car integration")
	carService := lflag.String("car-hass-service", "force_update", "Home Assistant service that refreshes the car data")
	carDevice := lflag.String("car-hass-device-id", "", "Home Assistant device ID of the car")

	chargerKind := lflag.String("charger-adapter", "manual", "Charger adapter: manual, openevse or mqtt")
	evseDevice := lflag.String("openevse-device-id", "", "Home Assistant device ID of the OpenEVSE charger")
	evseDivert := lflag.String("openevse-divert-entity", "select.openevse_divert_mode", "Divert mode select entity of the OpenEVSE charger")
	chargerTopic := lflag.String("mqtt-charger-topic", "charger/mode", "Topic the charger mode is published to, relative to the MQTT prefix")

	lflag.Do(func() {
		s.Car, s.Charger, s.err = build(ha, pub, options{
			carKind:      *carKind,
			carDomain:    *carDomain,
			carService:   *carService,
			carDevice:    *carDevice,
			chargerKind:  *chargerKind,
			evseDevice:   *evseDevice,
			evseDivert:   *evseDivert,
			chargerTopic: *chargerTopic,
		})
	})
	return s
}

// Validate returns the error from building the adapters, if any.
func (s *Set) Validate() error {
	return s.err
}

type options struct {
	carKind    string
	carDomain  string
	carService string
	carDevice  string

	chargerKind  string
	evseDevice   string
	evseDivert   string
	chargerTopic string
}

func build(ha HomeAssistant, pub Publisher, o options) (controller.SocRequester, controller.ChargerModeSetter, error) {
	var car controller.SocRequester
	switch o.carKind {
	case "manual":
		car = ManualCar{}
	case "hass":
		if !available(ha) {
			return nil, nil, fmt.Errorf("car-adapter hass requires home assistant")
		}
		car = NewHassCar(ha, o.carDomain, o.carService, o.carDevice)
	default:
		return nil, nil, fmt.Errorf("unknown car-adapter: %s", o.carKind)
	}

	var charger controller.ChargerModeSetter
	switch o.chargerKind {
	case "manual":
		charger = &ManualCharger{}
	case "openevse":
		if !available(ha) {
			return nil, nil, fmt.Errorf("charger-adapter openevse requires home assistant")
		}
		if o.evseDevice == "" {
			return nil, nil, fmt.Errorf("openevse-device-id is required")
		}
		charger = NewOpenEVSECharger(ha, o.evseDevice, o.evseDivert)
	case "mqtt":
		if !available(pub) {
			return nil, nil, fmt.Errorf("charger-adapter mqtt requires mqtt")
		}
		charger = NewMQTTCharger(pub, o.chargerTopic)
	default:
		return nil, nil, fmt.Errorf("unknown charger-adapter: %s", o.chargerKind)
	}
	return car, charger, nil
}

// available reports whether a collaborator is set and, if it can tell,
// configured.
func available(v any) bool {
	if v == nil {
		return false
	}
	if e, ok := v.(interface{ Enabled() bool }); ok {
		return e.Enabled()
	}
	return true
}

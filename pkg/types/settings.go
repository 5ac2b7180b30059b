package types

import (
	"fmt"
	"time"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// Settings represents the vehicle and charging configuration stored in the
// database. They can be changed at runtime through the API.
type Settings struct {
	// Battery
	BatteryCapacityKWH float64 `json:"batteryCapacityKWH" yaml:"batteryCapacityKWH"`
	// Share of the charger energy that ends up in the battery.
	ChargingEfficiency float64 `json:"chargingEfficiency" yaml:"chargingEfficiency"`

	// SOC thresholds (in percent)
	SocMinimum float64 `json:"socMinimum" yaml:"socMinimum"`
	SocMaximum float64 `json:"socMaximum" yaml:"socMaximum"`
	TargetSoc  float64 `json:"targetSoc" yaml:"targetSoc"`

	ChargeMethod ChargeMethod `json:"chargeMethod" yaml:"chargeMethod"`

	// SOC request timing
	SocRequestTimeout time.Duration `json:"socRequestTimeout" yaml:"socRequestTimeout"`
	SocNextUpdate     time.Duration `json:"socNextUpdate" yaml:"socNextUpdate"`
	SocUpdateRetry    time.Duration `json:"socUpdateRetry" yaml:"socUpdateRetry"`
	// How long a SOC reading taken before the first energy sample stays usable.
	SocBeforeEnergy time.Duration `json:"socBeforeEnergy" yaml:"socBeforeEnergy"`
	// How long a SOC reading taken after the last energy sample stays usable.
	SocAfterEnergy time.Duration `json:"socAfterEnergy" yaml:"socAfterEnergy"`

	// Trip planning
	ConsumptionKWHPerKM float64 `json:"consumptionKWHPerKM" yaml:"consumptionKWHPerKM"`
	// Energy that should always stay in the battery.
	BottomBufferKWH float64 `json:"bottomBufferKWH" yaml:"bottomBufferKWH"`
	// Hour of the day (local) the car is expected to leave.
	MorningHour int `json:"morningHour" yaml:"morningHour"`
}

// DefaultSettings returns fully migrated settings.
func DefaultSettings() Settings {
	s, _, err := MigrateSettings(Settings{}, 0)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks the settings for values the engine cannot work with.
func (s Settings) Validate() error {
	if s.BatteryCapacityKWH < 0 {
		return fmt.Errorf("battery capacity must not be negative")
	}
	if s.ChargingEfficiency <= 0 || s.ChargingEfficiency > 1 {
		return fmt.Errorf("charging efficiency must be in (0, 1]")
	}
	for name, v := range map[string]float64{
		"soc minimum": s.SocMinimum,
		"soc maximum": s.SocMaximum,
		"target soc":  s.TargetSoc,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be between 0 and 100", name)
		}
	}
	if s.SocMinimum > s.SocMaximum {
		return fmt.Errorf("soc minimum must not exceed soc maximum")
	}
	if _, err := ParseChargeMethod(string(s.ChargeMethod)); err != nil {
		return err
	}
	for name, d := range map[string]time.Duration{
		"soc request timeout": s.SocRequestTimeout,
		"soc next update":     s.SocNextUpdate,
		"soc update retry":    s.SocUpdateRetry,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if s.SocBeforeEnergy < 0 || s.SocAfterEnergy < 0 {
		return fmt.Errorf("soc tolerances must not be negative")
	}
	if s.MorningHour < 0 || s.MorningHour > 23 {
		return fmt.Errorf("morning hour must be between 0 and 23")
	}
	return nil
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: battery and thresholds
			if s.BatteryCapacityKWH == 0 {
				s.BatteryCapacityKWH = 64
				migrated = true
			}
			if s.ChargingEfficiency == 0 {
				s.ChargingEfficiency = 0.8
				migrated = true
			}
			if s.SocMinimum == 0 {
				s.SocMinimum = 20
				migrated = true
			}
			if s.SocMaximum == 0 {
				s.SocMaximum = 80
				migrated = true
			}
			if s.TargetSoc == 0 {
				s.TargetSoc = 80
				migrated = true
			}
			if s.ChargeMethod == "" {
				s.ChargeMethod = ChargeMethodEco
				migrated = true
			}
		case 2:
			// version 2: SOC request timing
			for _, d := range []struct {
				v   *time.Duration
				def time.Duration
			}{
				{&s.SocRequestTimeout, 180 * time.Second},
				{&s.SocNextUpdate, 150 * time.Minute},
				{&s.SocUpdateRetry, 60 * time.Second},
				{&s.SocBeforeEnergy, 15 * time.Minute},
				{&s.SocAfterEnergy, 48 * time.Hour},
			} {
				if *d.v == 0 {
					*d.v = d.def
					migrated = true
				}
			}
		case 3:
			// version 3: trip planning
			if s.ConsumptionKWHPerKM == 0 {
				s.ConsumptionKWHPerKM = 0.18
				migrated = true
			}
			if s.BottomBufferKWH == 0 {
				s.BottomBufferKWH = s.BatteryCapacityKWH * 0.1
				migrated = true
			}
			if s.MorningHour == 0 {
				s.MorningHour = 6
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}

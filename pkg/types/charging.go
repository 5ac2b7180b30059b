package types

import (
	"fmt"
	"strings"
	"time"
)

// ChargerMode is the instruction sent to the EVSE.
type ChargerMode string

const (
	ChargerModeUnknown      ChargerMode = "UNKNOWN"
	ChargerModeStopped      ChargerMode = "STOPPED"
	ChargerModePVCharge     ChargerMode = "PVCHARGE"
	ChargerModeNormalCharge ChargerMode = "NORMALCHARGE"
)

// ParseChargerMode parses a charger mode case-insensitively.
func ParseChargerMode(s string) (ChargerMode, error) {
	switch m := ChargerMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ChargerModeUnknown, ChargerModeStopped, ChargerModePVCharge, ChargerModeNormalCharge:
		return m, nil
	default:
		return ChargerModeUnknown, fmt.Errorf("unknown charger mode: %q", s)
	}
}

// ChargeMethod is the user-selected charging policy.
type ChargeMethod string

const (
	// ChargeMethodEco prefers solar surplus.
	ChargeMethodEco ChargeMethod = "ECO"
	// ChargeMethodFast charges from the grid until the target is reached.
	ChargeMethodFast ChargeMethod = "FAST"
	// ChargeMethodManual disables automatic charger mode changes.
	ChargeMethodManual ChargeMethod = "MANUAL"
)

// ParseChargeMethod parses a charge method case-insensitively.
func ParseChargeMethod(s string) (ChargeMethod, error) {
	switch m := ChargeMethod(strings.ToUpper(strings.TrimSpace(s))); m {
	case ChargeMethodEco, ChargeMethodFast, ChargeMethodManual:
		return m, nil
	default:
		return "", fmt.Errorf("unknown charge method: %q", s)
	}
}

// SessionState is the state of the current charging session.
type SessionState string

const (
	// SessionStateNone means no vehicle is plugged in.
	SessionStateNone SessionState = ""
	// SessionStateRampingUp means the plug is connected and the SOC is not
	// known yet.
	SessionStateRampingUp SessionState = "ramping_up"
	// SessionStateAutopilot means the SOC could not be obtained in time and
	// the charger runs normally.
	SessionStateAutopilot SessionState = "autopilot"
	// SessionStateSocKnown means an estimate of the battery is available.
	SessionStateSocKnown SessionState = "soc_known"
)

// Estimate is the derived battery state of the vehicle being charged.
type Estimate struct {
	Timestamp      time.Time `json:"timestamp"`
	EnergyKWH      float64   `json:"energyKWH"`
	SocPercent     float64   `json:"socPercent"`
	AddedEnergyKWH float64   `json:"addedEnergyKWH"`
}

// SessionStatus is a point-in-time snapshot of the charging session.
type SessionStatus struct {
	SessionID      string       `json:"sessionID,omitempty"`
	State          SessionState `json:"state"`
	Connected      bool         `json:"connected"`
	ChargingActive bool         `json:"chargingActive"`
	ChargerMode    ChargerMode  `json:"chargerMode"`
	Estimate       *Estimate    `json:"estimate,omitempty"`

	// last SOC reported by the car and when it was measured
	Soc     *float64   `json:"soc,omitempty"`
	SocTime *time.Time `json:"socTime,omitempty"`

	Settings Settings `json:"settings"`
}

package controller

import (
	"fmt"

	"github.com/slxcharge/slxcharge/pkg/types"
)

// Decision represents the result of the decision logic.
type Decision struct {
	Mode        types.ChargerMode
	Explanation string
}

// DecideChargerMode maps the session state and estimated SOC to a charger
// mode. ChargerModeUnknown means the current mode should be left alone.
func DecideChargerMode(state types.SessionState, soc float64, settings types.Settings) Decision {
	switch state {
	case types.SessionStateAutopilot:
		return Decision{
			Mode:        types.ChargerModeNormalCharge,
			Explanation: "SOC unknown, charging normally",
		}
	case types.SessionStateSocKnown:
	default:
		return Decision{
			Mode:        types.ChargerModeUnknown,
			Explanation: fmt.Sprintf("no decision in state %q", state),
		}
	}

	method := settings.ChargeMethod
	switch {
	case soc < settings.SocMinimum:
		return Decision{
			Mode:        types.ChargerModeNormalCharge,
			Explanation: fmt.Sprintf("SOC %.1f%% below minimum %.1f%%", soc, settings.SocMinimum),
		}
	case soc < settings.SocMaximum:
		if method == types.ChargeMethodEco {
			return Decision{
				Mode:        types.ChargerModePVCharge,
				Explanation: "between minimum and maximum, charging from solar",
			}
		}
		if soc < settings.TargetSoc {
			return Decision{
				Mode:        types.ChargerModeNormalCharge,
				Explanation: fmt.Sprintf("SOC %.1f%% below target %.1f%%", soc, settings.TargetSoc),
			}
		}
		return Decision{
			Mode:        types.ChargerModeStopped,
			Explanation: fmt.Sprintf("target %.1f%% reached", settings.TargetSoc),
		}
	case soc > settings.TargetSoc:
		return Decision{
			Mode:        types.ChargerModeStopped,
			Explanation: fmt.Sprintf("SOC %.1f%% above maximum and target", soc),
		}
	case method == types.ChargeMethodFast:
		return Decision{
			Mode:        types.ChargerModeNormalCharge,
			Explanation: fmt.Sprintf("above maximum but target %.1f%% not reached", settings.TargetSoc),
		}
	default:
		return Decision{
			Mode:        types.ChargerModePVCharge,
			Explanation: fmt.Sprintf("above maximum but target %.1f%% not reached, charging from solar", settings.TargetSoc),
		}
	}
}

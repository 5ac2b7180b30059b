package controller

import (
	"time"

	"github.com/slxcharge/slxcharge/pkg/timer"
)

type energySample struct {
	ts    time.Time
	value float64
}

// EnergyTracker estimates how much energy the charger had delivered at the
// moment the SOC was last sampled. Charger energy is a session counter that
// the charger resets on connect.
type EnergyTracker struct {
	clock     timer.Clock
	socBefore time.Duration
	socAfter  time.Duration

	connected bool
	samples   []energySample

	socTime  time.Time
	soc      float64
	hasSoc   bool
	atSoc    float64
	hasAtSoc bool
}

// NewEnergyTracker returns a disconnected tracker. socBefore is how long a
// SOC reading taken before the first energy sample stays usable and
// socAfter the same after the last energy sample.
func NewEnergyTracker(clock timer.Clock, socBefore, socAfter time.Duration) *EnergyTracker {
	return &EnergyTracker{
		clock:     clock,
		socBefore: socBefore,
		socAfter:  socAfter,
	}
}

// SetTolerances changes the before/after windows.
func (t *EnergyTracker) SetTolerances(socBefore, socAfter time.Duration) {
	t.socBefore = socBefore
	t.socAfter = socAfter
}

// ConnectPlug starts a new session.
func (t *EnergyTracker) ConnectPlug() {
	t.connected = true
	t.samples = nil
	t.hasAtSoc = false
}

// DisconnectPlug ends the session and forgets its energy samples. The last
// SOC reading is kept since it describes the car rather than the session.
func (t *EnergyTracker) DisconnectPlug() {
	t.connected = false
	t.samples = nil
	t.hasAtSoc = false
}

// Connected reports whether a session is active.
func (t *EnergyTracker) Connected() bool {
	return t.connected
}

// AddEntry records the charger energy at the current time. It returns whether
// the energy at the SOC time is known.
func (t *EnergyTracker) AddEntry(value float64) bool {
	return t.AddEntryAt(t.clock.Now(), value)
}

// AddEntryAt records the charger energy measured at ts. Samples are ignored
// while disconnected.
func (t *EnergyTracker) AddEntryAt(ts time.Time, value float64) bool {
	if !t.connected {
		return false
	}
	t.samples = append(t.samples, energySample{ts: ts, value: value})
	return t.CalculateEstimatedSession()
}

// UpdateSoc replaces the retained SOC reading. It returns whether the energy
// at the SOC time is known, which is never the case while disconnected.
func (t *EnergyTracker) UpdateSoc(ts time.Time, soc float64) bool {
	t.socTime = ts
	t.soc = soc
	t.hasSoc = true
	if !t.connected {
		t.hasAtSoc = false
		return false
	}
	return t.CalculateEstimatedSession()
}

// CalculateEstimatedSession recomputes the charger energy at the SOC time
// and reports whether it is known.
func (t *EnergyTracker) CalculateEstimatedSession() bool {
	t.hasAtSoc = false
	if !t.connected || !t.hasSoc || len(t.samples) == 0 {
		return false
	}

	i := 0
	for i < len(t.samples) && t.samples[i].ts.Before(t.socTime) {
		i++
	}

	switch {
	case i == len(t.samples):
		last := t.samples[len(t.samples)-1]
		if t.socTime.Sub(last.ts) <= t.socAfter {
			t.atSoc = last.value
			t.hasAtSoc = true
		}
	case i == 0:
		first := t.samples[0]
		if first.ts.Sub(t.socTime) <= t.socBefore {
			t.atSoc = first.value
			t.hasAtSoc = true
		}
	default:
		prev, next := t.samples[i-1], t.samples[i]
		var fraction float64
		if span := next.ts.Sub(prev.ts); span > 0 {
			fraction = float64(t.socTime.Sub(prev.ts)) / float64(span)
		}
		t.atSoc = prev.value + (next.value-prev.value)*fraction
		t.hasAtSoc = true
	}
	return t.hasAtSoc
}

// GetAddedEnergy returns the charger energy delivered since the SOC was
// sampled.
func (t *EnergyTracker) GetAddedEnergy() (float64, bool) {
	if !t.hasAtSoc || len(t.samples) == 0 {
		return 0, false
	}
	return t.samples[len(t.samples)-1].value - t.atSoc, true
}

// GetSoc returns the retained SOC percentage.
func (t *EnergyTracker) GetSoc() (float64, bool) {
	return t.soc, t.hasSoc
}

// SocTime returns when the retained SOC was measured.
func (t *EnergyTracker) SocTime() (time.Time, bool) {
	return t.socTime, t.hasSoc
}

// LastEntry returns the most recent energy sample of the session.
func (t *EnergyTracker) LastEntry() (time.Time, float64, bool) {
	if len(t.samples) == 0 {
		return time.Time{}, 0, false
	}
	last := t.samples[len(t.samples)-1]
	return last.ts, last.value, true
}

// TimeUntilSocInvalid returns how much longer the retained SOC can be paired
// with an energy sample that has not arrived yet.
func (t *EnergyTracker) TimeUntilSocInvalid() time.Duration {
	if !t.hasSoc {
		return 0
	}
	remaining := t.socBefore - t.clock.Now().Sub(t.socTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

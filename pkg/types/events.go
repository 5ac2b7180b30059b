package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// PlugEvent reports the charger cable state. Energy is the charger's session
// energy at the time of the event when the charger reports it.
type PlugEvent struct {
	Connected bool     `json:"connected"`
	Energy    *float64 `json:"energy,omitempty"`
}

// ReadingEvent is a single numeric reading (energy kWh, SOC %, odometer km).
// A zero Timestamp means "now".
type ReadingEvent struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// ParsePlugEvent accepts either a JSON object or a bare boolean-like value
// ("on", "off", "true", "1", ...).
func ParsePlugEvent(b []byte) (PlugEvent, error) {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, "{") {
		var raw struct {
			Connected *bool    `json:"connected"`
			Energy    *float64 `json:"energy"`
		}
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return PlugEvent{}, fmt.Errorf("invalid plug event: %w", err)
		}
		if raw.Connected == nil {
			return PlugEvent{}, fmt.Errorf("invalid plug event: missing connected")
		}
		return PlugEvent{Connected: *raw.Connected, Energy: raw.Energy}, nil
	}
	switch strings.ToLower(strings.Trim(s, `"`)) {
	case "on", "true", "1", "connected", "plugged":
		return PlugEvent{Connected: true}, nil
	case "off", "false", "0", "disconnected", "unplugged":
		return PlugEvent{Connected: false}, nil
	}
	return PlugEvent{}, fmt.Errorf("invalid plug event: %q", s)
}

// ParseReadingEvent accepts either a JSON object or a bare number.
func ParseReadingEvent(b []byte) (ReadingEvent, error) {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, "{") {
		var raw struct {
			Value     *float64  `json:"value"`
			Timestamp time.Time `json:"timestamp"`
		}
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return ReadingEvent{}, fmt.Errorf("invalid reading: %w", err)
		}
		if raw.Value == nil {
			return ReadingEvent{}, fmt.Errorf("invalid reading: missing value")
		}
		return ReadingEvent{Value: *raw.Value, Timestamp: raw.Timestamp}, nil
	}
	v, err := strconv.ParseFloat(strings.Trim(s, `"`), 64)
	if err != nil {
		return ReadingEvent{}, fmt.Errorf("invalid reading %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ReadingEvent{}, fmt.Errorf("invalid reading %q", s)
	}
	return ReadingEvent{Value: v}, nil
}

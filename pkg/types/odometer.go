package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// OdometerSample is a cumulative odometer reading.
type OdometerSample struct {
	TS time.Time
	KM float64
}

// MarshalJSON encodes the sample as an [iso-timestamp, km] pair.
func (s OdometerSample) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{s.TS.Format(time.RFC3339Nano), s.KM})
}

func (s *OdometerSample) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("failed to decode odometer sample: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("odometer sample must have 2 elements, got %d", len(raw))
	}
	var ts string
	if err := json.Unmarshal(raw[0], &ts); err != nil {
		return fmt.Errorf("failed to decode odometer timestamp: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return fmt.Errorf("failed to parse odometer timestamp: %w", err)
	}
	var km float64
	if err := json.Unmarshal(raw[1], &km); err != nil {
		return fmt.Errorf("failed to decode odometer value: %w", err)
	}
	s.TS = t
	s.KM = km
	return nil
}

// DailyTrip is the distance driven on one day.
type DailyTrip struct {
	Date Date    `json:"date"`
	KM   float64 `json:"km"`
}

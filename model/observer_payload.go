package model

import (
	"fmt"
	"time"
)

// ObserverPayload is the persisted form of an Observer.
type ObserverPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Date      string  `json:"date"`
	Timestamp string  `json:"timestamp"`
}

// Payload converts the observer for persistence. A missing capture time is
// stamped with now.
func (o Observer) Payload(now time.Time) ObserverPayload {
	captured := now
	if o.CapturedAt != nil {
		captured = *o.CapturedAt
	}
	return ObserverPayload{
		Latitude:  o.LatitudeDeg,
		Longitude: o.LongitudeDeg,
		Altitude:  o.AltitudeM,
		Date:      o.ObservationDate,
		Timestamp: captured.UTC().Format(time.RFC3339Nano),
	}
}

// Observer validates the payload and converts it back.
func (p ObserverPayload) Observer() (Observer, error) {
	obs, err := NewObserver(p.Latitude, p.Longitude, p.Altitude)
	if err != nil {
		return Observer{}, err
	}
	obs.ObservationDate = p.Date
	if p.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
		if err != nil {
			return Observer{}, fmt.Errorf("%w: timestamp %q: %v", ErrInvalidInput, p.Timestamp, err)
		}
		ts = ts.UTC()
		obs.CapturedAt = &ts
	}
	return obs, nil
}

package model

import (
	"fmt"
	"math"
	"time"
)

// CartesianPoint is a position in ECEF metres. It is always derived from an
// observer-relative measurement or a geodetic fix.
type CartesianPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// GeodeticPoint is a WGS-84 latitude/longitude in degrees and an altitude in
// metres above the ellipsoid.
type GeodeticPoint struct {
	LatitudeDeg  float64 `json:"latitudeDeg"`
	LongitudeDeg float64 `json:"longitudeDeg"`
	AltitudeM    float64 `json:"altitudeM"`
}

// NewGeodeticPoint validates and constructs a GeodeticPoint.
func NewGeodeticPoint(latDeg, lonDeg, altM float64) (GeodeticPoint, error) {
	p := GeodeticPoint{LatitudeDeg: latDeg, LongitudeDeg: lonDeg, AltitudeM: altM}
	if err := p.Validate(); err != nil {
		return GeodeticPoint{}, err
	}
	return p, nil
}

// Validate reports whether the point lies inside the legal coordinate ranges.
func (p GeodeticPoint) Validate() error {
	switch {
	case math.IsNaN(p.LatitudeDeg) || p.LatitudeDeg < -90 || p.LatitudeDeg > 90:
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", ErrInvalidInput, p.LatitudeDeg)
	case math.IsNaN(p.LongitudeDeg) || p.LongitudeDeg < -180 || p.LongitudeDeg > 180:
		return fmt.Errorf("%w: longitude %v outside [-180, 180]", ErrInvalidInput, p.LongitudeDeg)
	case math.IsNaN(p.AltitudeM) || math.IsInf(p.AltitudeM, 0):
		return fmt.Errorf("%w: altitude %v is not finite", ErrInvalidInput, p.AltitudeM)
	}
	return nil
}

// Observer is the ground station every polar measurement is relative to.
type Observer struct {
	GeodeticPoint

	// CapturedAt is when the observer location was recorded, if known.
	CapturedAt *time.Time
	// ObservationDate is the user-selected date to observe at, in the
	// "2006-01-02" or "2006-01-02T15:04" form. Empty means "now".
	ObservationDate string
}

// NewObserver validates the location and returns an Observer without a
// capture timestamp.
func NewObserver(latDeg, lonDeg, altM float64) (Observer, error) {
	p, err := NewGeodeticPoint(latDeg, lonDeg, altM)
	if err != nil {
		return Observer{}, err
	}
	return Observer{GeodeticPoint: p}, nil
}

var observationLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ObservationTime parses ObservationDate as UTC. ok is false when no date is
// pinned or it cannot be parsed.
func (o Observer) ObservationTime() (t time.Time, ok bool) {
	if o.ObservationDate == "" {
		return time.Time{}, false
	}
	for _, layout := range observationLayouts {
		if parsed, err := time.ParseInLocation(layout, o.ObservationDate, time.UTC); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

package model

import (
	"fmt"
	"math"
)

// AltitudeCategory buckets an elevation angle.
type AltitudeCategory string

const (
	BelowHorizon AltitudeCategory = "below_horizon"
	AltitudeLow  AltitudeCategory = "low"
	AltitudeMid  AltitudeCategory = "medium"
	AltitudeHigh AltitudeCategory = "high"
)

var compassPoints = [16]string{
	"N", "NNE", "NE", "ENE",
	"E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW",
	"W", "WNW", "NW", "NNW",
}

// Position is a polar offset from an observer: azimuth clockwise from true
// north, elevation above the local horizontal and slant range in metres.
//
// Use NewPosition; the zero value is a valid position at the horizon due north.
type Position struct {
	AzimuthDeg   float64 `json:"azimuth"`
	ElevationDeg float64 `json:"elevation"`
	RangeM       float64 `json:"range"`
}

// NewPosition normalizes azimuth into [0, 360), clamps elevation into
// [-90, 90] and floors range at zero. It never fails.
func NewPosition(azimuthDeg, elevationDeg, rangeM float64) Position {
	return Position{
		AzimuthDeg:   NormalizeAzimuth(azimuthDeg),
		ElevationDeg: math.Max(-90, math.Min(90, elevationDeg)),
		RangeM:       math.Max(0, rangeM),
	}
}

// NormalizeAzimuth wraps an angle into [0, 360).
func NormalizeAzimuth(deg float64) float64 {
	az := math.Mod(deg, 360)
	if az < 0 {
		az += 360
	}
	// -1e-15 + 360 rounds to 360.
	if az >= 360 {
		az = 0
	}
	return az
}

// CompassDirection returns one of the 16 compass points.
func (p Position) CompassDirection() string {
	idx := int(math.Round(p.AzimuthDeg/22.5)) % 16
	return compassPoints[idx]
}

// IsAboveHorizon reports whether the elevation is strictly positive.
func (p Position) IsAboveHorizon() bool {
	return p.ElevationDeg > 0
}

// AltitudeCategory classifies the elevation.
func (p Position) AltitudeCategory() AltitudeCategory {
	switch {
	case p.ElevationDeg < 0:
		return BelowHorizon
	case p.ElevationDeg < 30:
		return AltitudeLow
	case p.ElevationDeg < 60:
		return AltitudeMid
	default:
		return AltitudeHigh
	}
}

// AngularSeparation returns the great-circle angle in degrees between two
// directions on the observer's sky, using the spherical law of cosines.
func (p Position) AngularSeparation(other Position) float64 {
	az1, el1 := degToRad(p.AzimuthDeg), degToRad(p.ElevationDeg)
	az2, el2 := degToRad(other.AzimuthDeg), degToRad(other.ElevationDeg)

	cosSep := math.Sin(el1)*math.Sin(el2) + math.Cos(el1)*math.Cos(el2)*math.Cos(az1-az2)
	cosSep = math.Max(-1, math.Min(1, cosSep))
	return math.Acos(cosSep) * 180 / math.Pi
}

func (p Position) String() string {
	return fmt.Sprintf("Az: %.1f° (%s), El: %.1f°, Range: %.1f km",
		p.AzimuthDeg, p.CompassDirection(), p.ElevationDeg, p.RangeM/1000)
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180 }

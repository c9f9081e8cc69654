package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/skywatch/model"
)

const (
	// DefaultLookahead is how far ahead aircraft are dead-reckoned.
	DefaultLookahead = 30 * time.Second
	// DefaultTransitThresholdDeg is roughly the apparent radius of the moon
	// plus a margin.
	DefaultTransitThresholdDeg = 0.35
)

// PredictPosition dead-reckons a record forward by d along its heading at
// constant speed and vertical rate on a spherical Earth. Records without
// speed and heading stay put.
func PredictPosition(observer model.Observer, rec model.TrackRecord, d time.Duration) (model.GeodeticPoint, error) {
	pos, err := RecordPosition(observer, rec)
	if err != nil {
		return model.GeodeticPoint{}, err
	}
	start := ECEFToGeodetic(pos)
	if rec.Source == model.SourceGeodetic {
		start = rec.Geodetic()
	}

	secs := d.Seconds()
	next := start
	if rec.VerticalRateMps != nil {
		next.AltitudeM += *rec.VerticalRateMps * secs
	}
	if rec.SpeedMps == nil || rec.HeadingDeg == nil {
		return next, nil
	}

	dist := *rec.SpeedMps * secs
	sinH, cosH := math.Sincos(*rec.HeadingDeg * deg2rad)
	next.LatitudeDeg += (dist * cosH / EarthRadiusM) * rad2deg
	if cosLat := math.Cos(start.LatitudeDeg * deg2rad); cosLat > 1e-9 {
		next.LongitudeDeg += (dist * sinH / (EarthRadiusM * cosLat)) * rad2deg
	}

	next.LatitudeDeg = math.Max(-90, math.Min(90, next.LatitudeDeg))
	next.LongitudeDeg = math.Mod(next.LongitudeDeg+540, 360) - 180
	return next, nil
}

// TransitSeparation returns the angular distance in degrees between two sky
// directions, with the azimuth difference scaled by the cosine of the mean
// elevation.
func TransitSeparation(a, b model.Position) float64 {
	dAz := math.Abs(a.AzimuthDeg - b.AzimuthDeg)
	if dAz > 180 {
		dAz = 360 - dAz
	}
	meanEl := (a.ElevationDeg + b.ElevationDeg) / 2 * deg2rad
	dAz *= math.Cos(meanEl)
	dEl := a.ElevationDeg - b.ElevationDeg
	return math.Hypot(dAz, dEl)
}

// WillTransit reports whether aircraft appears within thresholdDeg of moon.
func WillTransit(aircraft, moon model.Position, thresholdDeg float64) bool {
	return TransitSeparation(aircraft, moon) <= thresholdDeg
}

// PredictTransit dead-reckons rec by lookahead and checks it against moon,
// which must be the moon state at the predicted instant. ok is false when
// no transit is predicted or the moon is down.
func PredictTransit(observer model.Observer, rec model.TrackRecord, moon model.MoonState, lookahead time.Duration, thresholdDeg float64) (alert model.TransitAlert, ok bool, err error) {
	moonPos := moon.Position()
	if !moonPos.IsAboveHorizon() {
		return model.TransitAlert{}, false, nil
	}

	future, err := PredictPosition(observer, rec, lookahead)
	if err != nil {
		return model.TransitAlert{}, false, err
	}
	aircraft, err := ToPolar(observer, GeodeticToECEF(future))
	if err != nil {
		return model.TransitAlert{}, false, err
	}

	sep := TransitSeparation(aircraft, moonPos)
	if sep > thresholdDeg {
		return model.TransitAlert{}, false, nil
	}
	return model.TransitAlert{
		EntityID:      rec.ID,
		Callsign:      rec.Callsign,
		SeparationDeg: sep,
		PredictedAt:   moon.At,
		AircraftAzEl:  aircraft,
		MoonAzEl:      moonPos,
		LookaheadSecs: lookahead.Seconds(),
	}, true, nil
}

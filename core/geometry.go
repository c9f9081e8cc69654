package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/skywatch/model"
)

// EarthRadiusM is the mean Earth radius used for great-circle and
// dead-reckoning calculations (metres).
const EarthRadiusM = 6371000.0

// WGS-84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84B  = wgs84A * (1 - wgs84F)
	wgs84E2 = wgs84F * (2 - wgs84F)
)

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

func toVec(p model.CartesianPoint) r3.Vec { return r3.Vec{X: p.X, Y: p.Y, Z: p.Z} }

func fromVec(v r3.Vec) model.CartesianPoint { return model.CartesianPoint{X: v.X, Y: v.Y, Z: v.Z} }

// GeodeticToECEF converts a WGS-84 geodetic point to Earth-fixed metres.
func GeodeticToECEF(p model.GeodeticPoint) model.CartesianPoint {
	lat, lon := p.LatitudeDeg*deg2rad, p.LongitudeDeg*deg2rad
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return model.CartesianPoint{
		X: (n + p.AltitudeM) * cosLat * cosLon,
		Y: (n + p.AltitudeM) * cosLat * sinLon,
		Z: (n*(1-wgs84E2) + p.AltitudeM) * sinLat,
	}
}

// ECEFToGeodetic inverts GeodeticToECEF. Bowring's parametric latitude seeds
// a fixed-point refinement so that points far above the ellipsoid (the moon)
// converge as well as aircraft do.
func ECEFToGeodetic(c model.CartesianPoint) model.GeodeticPoint {
	p := math.Hypot(c.X, c.Y)
	lon := math.Atan2(c.Y, c.X)

	if p < 1e-9 {
		lat := 90.0
		if c.Z < 0 {
			lat = -90
		}
		return model.GeodeticPoint{LatitudeDeg: lat, LongitudeDeg: 0, AltitudeM: math.Abs(c.Z) - wgs84B}
	}

	ep2 := (wgs84A*wgs84A - wgs84B*wgs84B) / (wgs84B * wgs84B)
	theta := math.Atan2(c.Z*wgs84A, p*wgs84B)
	sinT, cosT := math.Sincos(theta)
	lat := math.Atan2(c.Z+ep2*wgs84B*sinT*sinT*sinT, p-wgs84E2*wgs84A*cosT*cosT*cosT)

	var h float64
	for i := 0; i < 8; i++ {
		sinLat := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		h = p/math.Cos(lat) - n
		next := math.Atan2(c.Z, p*(1-wgs84E2*n/(n+h)))
		if math.Abs(next-lat) < 1e-14 {
			lat = next
			break
		}
		lat = next
	}
	sinLat := math.Sin(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	h = p/math.Cos(lat) - n

	return model.GeodeticPoint{
		LatitudeDeg:  lat * rad2deg,
		LongitudeDeg: lon * rad2deg,
		AltitudeM:    h,
	}
}

// enuRotation returns the matrix whose rows are the observer's east, north
// and up unit vectors expressed in ECEF. It maps ECEF offsets to ENU;
// its transpose maps ENU back to ECEF.
func enuRotation(p model.GeodeticPoint) *r3.Mat {
	sinLat, cosLat := math.Sincos(p.LatitudeDeg * deg2rad)
	sinLon, cosLon := math.Sincos(p.LongitudeDeg * deg2rad)
	return r3.NewMat([]float64{
		-sinLon, cosLon, 0,
		-sinLat * cosLon, -sinLat * sinLon, cosLat,
		cosLat * cosLon, cosLat * sinLon, sinLat,
	})
}

// ToCartesian places a polar measurement taken by observer into ECEF.
// Azimuth is clockwise from true north; elevation is from the local
// horizontal.
func ToCartesian(observer model.Observer, azimuthDeg, elevationDeg, rangeM float64) (model.CartesianPoint, error) {
	if err := observer.Validate(); err != nil {
		return model.CartesianPoint{}, err
	}
	switch {
	case !isFinite(azimuthDeg):
		return model.CartesianPoint{}, fmt.Errorf("%w: azimuth %v is not finite", model.ErrInvalidInput, azimuthDeg)
	case !isFinite(elevationDeg) || elevationDeg < -90 || elevationDeg > 90:
		return model.CartesianPoint{}, fmt.Errorf("%w: elevation %v outside [-90, 90]", model.ErrInvalidInput, elevationDeg)
	case !isFinite(rangeM) || rangeM < 0:
		return model.CartesianPoint{}, fmt.Errorf("%w: range %v must be a non-negative number", model.ErrInvalidInput, rangeM)
	}

	sinAz, cosAz := math.Sincos(azimuthDeg * deg2rad)
	sinEl, cosEl := math.Sincos(elevationDeg * deg2rad)
	enu := r3.Vec{
		X: rangeM * cosEl * sinAz,
		Y: rangeM * cosEl * cosAz,
		Z: rangeM * sinEl,
	}

	origin := toVec(GeodeticToECEF(observer.GeodeticPoint))
	offset := enuRotation(observer.GeodeticPoint).MulVecTrans(enu)
	return fromVec(r3.Add(origin, offset)), nil
}

// ToPolar returns the direction and distance of target as seen by observer.
// A target coincident with the observer is reported at the zenith with zero
// range. Azimuth is numerically unreliable for targets within about a degree
// of the zenith or nadir.
func ToPolar(observer model.Observer, target model.CartesianPoint) (model.Position, error) {
	if err := observer.Validate(); err != nil {
		return model.Position{}, err
	}
	if !isFinite(target.X) || !isFinite(target.Y) || !isFinite(target.Z) {
		return model.Position{}, fmt.Errorf("%w: target %+v is not finite", model.ErrInvalidInput, target)
	}

	d := r3.Sub(toVec(target), toVec(GeodeticToECEF(observer.GeodeticPoint)))
	r := r3.Norm(d)
	if r == 0 {
		return model.NewPosition(0, 90, 0), nil
	}

	enu := enuRotation(observer.GeodeticPoint).MulVec(d)
	az := math.Atan2(enu.X, enu.Y) * rad2deg
	el := math.Atan2(enu.Z, math.Hypot(enu.X, enu.Y)) * rad2deg
	return model.NewPosition(az, el, r), nil
}

// HaversineDistance returns the great-circle distance in metres between two
// points on a sphere of radius EarthRadiusM. Altitude is ignored.
func HaversineDistance(p1, p2 model.GeodeticPoint) float64 {
	lat1, lat2 := p1.LatitudeDeg*deg2rad, p2.LatitudeDeg*deg2rad
	dLat := lat2 - lat1
	dLon := (p2.LongitudeDeg - p1.LongitudeDeg) * deg2rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// BoundingBox is a latitude/longitude window in degrees.
type BoundingBox struct {
	LatMin, LonMin float64
	LatMax, LonMax float64
}

// kmPerDegreeLatitude is the flat-earth approximation used for query windows.
const kmPerDegreeLatitude = 111.1

// BoundingBoxAround returns the window of radiusKm around center. Longitude
// spans widen with latitude and are capped at the poles.
func BoundingBoxAround(center model.GeodeticPoint, radiusKm float64) BoundingBox {
	latDelta := radiusKm / kmPerDegreeLatitude

	lonDelta := 180.0
	if kmPerLon := kmPerDegreeLatitude * math.Cos(center.LatitudeDeg*deg2rad); kmPerLon > 1e-6 {
		lonDelta = math.Min(180, radiusKm/kmPerLon)
	}

	return BoundingBox{
		LatMin: math.Max(-90, center.LatitudeDeg-latDelta),
		LonMin: center.LongitudeDeg - lonDelta,
		LatMax: math.Min(90, center.LatitudeDeg+latDelta),
		LonMax: center.LongitudeDeg + lonDelta,
	}
}

// Contains reports whether p lies in the window.
func (b BoundingBox) Contains(p model.GeodeticPoint) bool {
	return p.LatitudeDeg >= b.LatMin && p.LatitudeDeg <= b.LatMax &&
		p.LongitudeDeg >= b.LonMin && p.LongitudeDeg <= b.LonMax
}

// Windows splits b into boxes whose longitudes lie in [-180, 180]. A box
// crossing the antimeridian yields one box on each side of it.
func (b BoundingBox) Windows() []BoundingBox {
	switch {
	case b.LonMax-b.LonMin >= 360:
		b.LonMin, b.LonMax = -180, 180
		return []BoundingBox{b}
	case b.LonMin < -180:
		east := b
		east.LonMin, east.LonMax = b.LonMin+360, 180
		b.LonMin = -180
		return []BoundingBox{b, east}
	case b.LonMax > 180:
		west := b
		west.LonMin, west.LonMax = -180, b.LonMax-360
		b.LonMax = 180
		return []BoundingBox{b, west}
	}
	return []BoundingBox{b}
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

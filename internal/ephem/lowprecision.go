// Package ephem provides MoonEphemeris implementations.
package ephem

import (
	"context"
	"math"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/skywatch/core"
)

// periodic is one term of the lunar series: multiples of the mean
// elongation D, solar anomaly M, lunar anomaly M' and argument of latitude F,
// with coefficients in micro-degrees (sin) and metres (cos).
type periodic struct {
	d, m, mp, f float64
	sin, cos    float64
}

// Largest longitude and distance terms of the ELP-2000/82 truncation.
var lonDist = []periodic{
	{0, 0, 1, 0, 6288774, -20905355},
	{2, 0, -1, 0, 1274027, -3699111},
	{2, 0, 0, 0, 658314, -2955968},
	{0, 0, 2, 0, 213618, -569925},
	{0, 1, 0, 0, -185116, 48888},
	{0, 0, 0, 2, -114332, -3149},
	{2, 0, -2, 0, 58793, 246158},
	{2, -1, -1, 0, 57066, -152138},
	{2, 0, 1, 0, 53322, -170733},
	{2, -1, 0, 0, 45758, -204586},
	{0, 1, -1, 0, -40923, -129620},
	{1, 0, 0, 0, -34720, 108743},
	{0, 1, 1, 0, -30383, 104755},
	{2, 0, 0, -2, 15327, 10321},
	{0, 0, 1, 2, -12528, 0},
	{0, 0, 1, -2, 10980, 79661},
	{4, 0, -1, 0, 10675, -34782},
	{0, 0, 3, 0, 10034, -23210},
	{4, 0, -2, 0, 8548, -21636},
	{2, 1, -1, 0, -7888, 24208},
	{2, 1, 0, 0, -6766, 30824},
	{1, 0, -1, 0, -5163, -8379},
	{1, 1, 0, 0, 4987, -16675},
	{2, -1, 1, 0, 4036, -12831},
	{2, 0, 2, 0, 3994, -10445},
	{4, 0, 0, 0, 3861, -11650},
	{2, 0, -3, 0, 3665, 14403},
	{0, 1, -2, 0, -2689, -7003},
	{2, 0, -1, 2, -2602, 0},
	{2, -1, -2, 0, 2390, 10056},
	{1, 0, 1, 0, -2348, 6322},
	{2, -2, 0, 0, 2236, -9884},
}

// Largest latitude terms (micro-degrees).
var lat = []periodic{
	{0, 0, 0, 1, 5128122, 0},
	{0, 0, 1, 1, 280602, 0},
	{0, 0, 1, -1, 277693, 0},
	{2, 0, 0, -1, 173237, 0},
	{2, 0, -1, 1, 55413, 0},
	{2, 0, -1, -1, 46271, 0},
	{2, 0, 0, 1, 32573, 0},
	{0, 0, 2, 1, 17198, 0},
	{2, 0, 1, -1, 9266, 0},
	{0, 0, 2, -1, 8822, 0},
	{2, -1, 0, -1, 8216, 0},
	{2, 0, -2, -1, 4324, 0},
	{2, 0, 1, 1, 4200, 0},
	{2, 1, 0, -1, -3359, 0},
	{2, -1, -1, 1, 2463, 0},
}

const (
	meanDistanceKm = 385000.56
	deg2rad        = math.Pi / 180
)

// EclipticPosition returns the moon's geocentric ecliptic longitude and
// latitude in degrees and its distance in kilometres at Julian date jd.
// Accuracy is a few hundredths of a degree and some tens of kilometres.
func EclipticPosition(jd float64) (lonDeg, latDeg, distKm float64) {
	t := (jd - 2451545.0) / 36525

	lp := 218.3164477 + 481267.88123421*t
	d := 297.8501921 + 445267.1114034*t
	m := 357.5291092 + 35999.0502909*t
	mp := 134.9633964 + 477198.8675055*t
	f := 93.2720950 + 483202.0175233*t
	e := 1 - 0.002516*t

	arg := func(p periodic) (float64, float64) {
		scale := 1.0
		for i := 0; i < int(math.Abs(p.m)); i++ {
			scale *= e
		}
		return (p.d*d + p.m*m + p.mp*mp + p.f*f) * deg2rad, scale
	}

	var sumL, sumR, sumB float64
	for _, p := range lonDist {
		a, s := arg(p)
		sumL += p.sin * s * math.Sin(a)
		sumR += p.cos * s * math.Cos(a)
	}
	for _, p := range lat {
		a, s := arg(p)
		sumB += p.sin * s * math.Sin(a)
	}

	lonDeg = math.Mod(lp+sumL/1e6, 360)
	if lonDeg < 0 {
		lonDeg += 360
	}
	return lonDeg, sumB / 1e6, meanDistanceKm + sumR/1000
}

// LowPrecision is a self-contained MoonEphemeris: a truncated lunar series
// for the inertial position and Greenwich mean sidereal time for the frame
// rotation. Nutation and precession are ignored.
type LowPrecision struct{}

// MoonFrame implements core.MoonEphemeris.
func (LowPrecision) MoonFrame(ctx context.Context, jd float64) (core.InertialFrame, error) {
	if err := ctx.Err(); err != nil {
		return core.InertialFrame{}, err
	}
	return core.InertialFrame{
		MoonECI: MoonECI(jd),
		ToECEF:  EarthRotation(jd),
	}, nil
}

// MoonECI returns the moon's centre in equatorial inertial metres.
func MoonECI(jd float64) r3.Vec {
	lonDeg, latDeg, distKm := EclipticPosition(jd)
	t := (jd - 2451545.0) / 36525
	eps := (23.439291 - 0.0130042*t) * deg2rad

	sinL, cosL := math.Sincos(lonDeg * deg2rad)
	sinB, cosB := math.Sincos(latDeg * deg2rad)
	sinE, cosE := math.Sincos(eps)

	r := distKm * 1000
	return r3.Vec{
		X: r * cosB * cosL,
		Y: r * (cosE*cosB*sinL - sinE*sinB),
		Z: r * (sinE*cosB*sinL + cosE*sinB),
	}
}

// EarthRotation returns the rotation about the polar axis by GMST that takes
// inertial vectors into ECEF.
func EarthRotation(jd float64) *r3.Mat {
	sinG, cosG := math.Sincos(satellite.ThetaG_JD(jd))
	return r3.NewMat([]float64{
		cosG, sinG, 0,
		-sinG, cosG, 0,
		0, 0, 1,
	})
}

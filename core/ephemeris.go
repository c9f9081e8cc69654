package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/skywatch/model"
	"github.com/signalsfoundry/skywatch/timectrl"
)

const (
	// SynodicMonthDays is the mean period between successive new moons.
	SynodicMonthDays = 29.53058867
	// ReferenceNewMoonJD is the new moon of 2000-01-06 14:24 UTC.
	ReferenceNewMoonJD = 2451550.1
)

// InertialFrame is what a MoonEphemeris returns for one instant: the moon's
// centre in an Earth-centred inertial frame (metres) and the rotation that
// takes inertial vectors into ECEF at the same epoch.
type InertialFrame struct {
	MoonECI r3.Vec
	ToECEF  *r3.Mat
}

// MoonEphemeris supplies lunar positions. Implementations may be local
// approximations or remote services.
type MoonEphemeris interface {
	MoonFrame(ctx context.Context, jd float64) (InertialFrame, error)
}

// EphemerisService computes the moon as seen by an observer.
type EphemerisService struct {
	ephem MoonEphemeris
}

// NewEphemerisService wraps a MoonEphemeris capability.
func NewEphemerisService(ephem MoonEphemeris) *EphemerisService {
	return &EphemerisService{ephem: ephem}
}

// MoonPhase returns the fraction of the synodic cycle elapsed at t, in
// [0, 1): 0 is new, 0.5 is full.
func MoonPhase(t time.Time) float64 {
	days := timectrl.ToJulianDate(t) - ReferenceNewMoonJD
	phase := math.Mod(days, SynodicMonthDays) / SynodicMonthDays
	if phase < 0 {
		phase++
	}
	if phase >= 1 {
		phase = 0
	}
	return phase
}

// MoonIllumination returns the illuminated fraction of the disc for a phase.
func MoonIllumination(phase float64) float64 {
	return (1 - math.Cos(2*math.Pi*phase)) / 2
}

var phaseNames = [8]string{
	"New Moon",
	"Waxing Crescent",
	"First Quarter",
	"Waxing Gibbous",
	"Full Moon",
	"Waning Gibbous",
	"Last Quarter",
	"Waning Crescent",
}

// PhaseName returns the conventional name of the octant containing phase.
func PhaseName(phase float64) string {
	return phaseNames[int(math.Floor(phase*8+0.5))%8]
}

// MoonECEF returns the moon's centre in Earth-fixed metres at t.
func (s *EphemerisService) MoonECEF(ctx context.Context, t time.Time) (model.CartesianPoint, error) {
	frame, err := s.ephem.MoonFrame(ctx, timectrl.ToJulianDate(t))
	if err != nil {
		return model.CartesianPoint{}, fmt.Errorf("%w: %w", model.ErrEphemerisUnavailable, err)
	}
	if frame.ToECEF == nil {
		return model.CartesianPoint{}, fmt.Errorf("%w: ephemeris returned no frame rotation", model.ErrEphemerisUnavailable)
	}
	return fromVec(frame.ToECEF.MulVec(frame.MoonECI)), nil
}

// MoonAzEl returns the moon's direction and distance from observer at t.
func (s *EphemerisService) MoonAzEl(ctx context.Context, observer model.Observer, t time.Time) (model.Position, error) {
	ecef, err := s.MoonECEF(ctx, t)
	if err != nil {
		return model.Position{}, err
	}
	return ToPolar(observer, ecef)
}

// MoonState recomputes the complete moon snapshot for observer at t.
func (s *EphemerisService) MoonState(ctx context.Context, observer model.Observer, t time.Time) (model.MoonState, error) {
	ecef, err := s.MoonECEF(ctx, t)
	if err != nil {
		return model.MoonState{}, err
	}
	pos, err := ToPolar(observer, ecef)
	if err != nil {
		return model.MoonState{}, err
	}
	phase := MoonPhase(t)
	return model.MoonState{
		Cartesian:    ecef,
		AzimuthDeg:   pos.AzimuthDeg,
		ElevationDeg: pos.ElevationDeg,
		RangeM:       pos.RangeM,
		Phase:        phase,
		Illumination: MoonIllumination(phase),
		PhaseName:    PhaseName(phase),
		At:           t.UTC(),
	}, nil
}

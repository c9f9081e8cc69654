package core

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/skywatch/model"
	"github.com/signalsfoundry/skywatch/timectrl"
)

type fixedEphemeris struct {
	frame InertialFrame
	err   error
	jds   []float64
}

func (f *fixedEphemeris) MoonFrame(_ context.Context, jd float64) (InertialFrame, error) {
	f.jds = append(f.jds, jd)
	return f.frame, f.err
}

func identity() *r3.Mat {
	return r3.NewMat([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func TestMoonPhase_ReferenceEpochs(t *testing.T) {
	epoch := timectrl.FromJulianDate(ReferenceNewMoonJD)
	month := time.Duration(SynodicMonthDays * 24 * float64(time.Hour))

	for _, at := range []time.Time{epoch, epoch.Add(month), epoch.Add(-3 * month)} {
		p := MoonPhase(at)
		if p < 0 || p >= 1 {
			t.Fatalf("MoonPhase(%v) = %v, outside [0,1)", at, p)
		}
		if d := math.Min(p, 1-p); d > 1e-6 {
			t.Fatalf("MoonPhase(%v) = %v, want ~0", at, p)
		}
	}

	full := MoonPhase(epoch.Add(month / 2))
	if math.Abs(full-0.5) > 1e-6 {
		t.Fatalf("half a month after new moon phase = %v, want 0.5", full)
	}
}

func TestMoonIlluminationAndName(t *testing.T) {
	cases := []struct {
		phase float64
		illum float64
		name  string
	}{
		{0, 0, "New Moon"},
		{0.25, 0.5, "First Quarter"},
		{0.5, 1, "Full Moon"},
		{0.75, 0.5, "Last Quarter"},
		{0.97, 0.0089, "New Moon"},
		{0.1, 0.0955, "Waxing Crescent"},
	}
	for _, tc := range cases {
		if got := MoonIllumination(tc.phase); math.Abs(got-tc.illum) > 1e-3 {
			t.Fatalf("MoonIllumination(%v) = %v, want %v", tc.phase, got, tc.illum)
		}
		if got := PhaseName(tc.phase); got != tc.name {
			t.Fatalf("PhaseName(%v) = %q, want %q", tc.phase, got, tc.name)
		}
	}
}

func TestMoonAzEl_AppliesFrameRotation(t *testing.T) {
	obs := mustObserver(t, 0, 0, 0)
	// Inertial moon on +Y; a 90° rotation about Z carries it onto +X, which
	// is straight above an observer at (0, 0).
	rot := r3.NewMat([]float64{
		0, 1, 0,
		-1, 0, 0,
		0, 0, 1,
	})
	eph := &fixedEphemeris{frame: InertialFrame{MoonECI: r3.Vec{Y: 384_400_000}, ToECEF: rot}}
	svc := NewEphemerisService(eph)

	at := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	pos, err := svc.MoonAzEl(context.Background(), obs, at)
	if err != nil {
		t.Fatalf("MoonAzEl: %v", err)
	}
	if math.Abs(pos.ElevationDeg-90) > 1e-6 {
		t.Fatalf("elevation = %v, want 90", pos.ElevationDeg)
	}
	if want := 384_400_000 - wgs84A; math.Abs(pos.RangeM-want) > 1e-3 {
		t.Fatalf("range = %v, want %v", pos.RangeM, want)
	}
	if len(eph.jds) != 1 || math.Abs(eph.jds[0]-timectrl.ToJulianDate(at)) > 1e-9 {
		t.Fatalf("ephemeris asked for %v, want JD of %v", eph.jds, at)
	}
}

func TestMoonState_Snapshot(t *testing.T) {
	obs := mustObserver(t, 0, 0, 0)
	eph := &fixedEphemeris{frame: InertialFrame{MoonECI: r3.Vec{Z: 384_400_000}, ToECEF: identity()}}
	svc := NewEphemerisService(eph)

	at := timectrl.FromJulianDate(ReferenceNewMoonJD + SynodicMonthDays/2)
	state, err := svc.MoonState(context.Background(), obs, at)
	if err != nil {
		t.Fatalf("MoonState: %v", err)
	}
	if state.Cartesian != (model.CartesianPoint{Z: 384_400_000}) {
		t.Fatalf("cartesian = %+v", state.Cartesian)
	}
	// Over the north pole from the equator: on the horizon, due north.
	if math.Abs(state.ElevationDeg) > 1 || angleDiff(state.AzimuthDeg, 0) > 1e-6 {
		t.Fatalf("moon position = az %v el %v, want north on the horizon", state.AzimuthDeg, state.ElevationDeg)
	}
	if state.PhaseName != "Full Moon" || math.Abs(state.Illumination-1) > 1e-6 {
		t.Fatalf("phase = %v %q illum %v, want full", state.Phase, state.PhaseName, state.Illumination)
	}
	if !state.At.Equal(at) {
		t.Fatalf("At = %v, want %v", state.At, at)
	}
}

func TestMoonAzEl_WrapsCapabilityFailure(t *testing.T) {
	obs := mustObserver(t, 48, 2, 35)
	svc := NewEphemerisService(&fixedEphemeris{err: errors.New("kernel not loaded")})

	_, err := svc.MoonAzEl(context.Background(), obs, time.Now())
	if !errors.Is(err, model.ErrEphemerisUnavailable) {
		t.Fatalf("err = %v, want ErrEphemerisUnavailable", err)
	}

	svc = NewEphemerisService(&fixedEphemeris{frame: InertialFrame{MoonECI: r3.Vec{X: 1}}})
	if _, err := svc.MoonState(context.Background(), obs, time.Now()); !errors.Is(err, model.ErrEphemerisUnavailable) {
		t.Fatalf("missing rotation: err = %v, want ErrEphemerisUnavailable", err)
	}
}

func TestMoonState_KeepsCapabilityCause(t *testing.T) {
	obs := mustObserver(t, 48, 2, 35)
	svc := NewEphemerisService(&fixedEphemeris{err: context.Canceled})

	_, err := svc.MoonState(context.Background(), obs, time.Now())
	if !errors.Is(err, model.ErrEphemerisUnavailable) {
		t.Fatalf("err = %v, want ErrEphemerisUnavailable", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want the context.Canceled cause preserved", err)
	}
}

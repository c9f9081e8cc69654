package ephem

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/model"
	"github.com/signalsfoundry/skywatch/timectrl"
)

func TestEclipticPosition_MatchesReference(t *testing.T) {
	// 1992-04-12 00:00 TD: λ = 133.162655°, β = -3.229126°, Δ = 368409.7 km.
	lon, lat, dist := EclipticPosition(2448724.5)
	if math.Abs(lon-133.162655) > 0.01 {
		t.Fatalf("longitude = %v, want ~133.1627", lon)
	}
	if math.Abs(lat+3.229126) > 0.01 {
		t.Fatalf("latitude = %v, want ~-3.2291", lat)
	}
	if math.Abs(dist-368409.7) > 50 {
		t.Fatalf("distance = %v km, want ~368409.7", dist)
	}
}

func TestEarthRotation_J2000(t *testing.T) {
	rot := EarthRotation(timectrl.J2000JD)
	// GMST at J2000.0 is 280.46°; the inertial X axis lands at longitude -280.46° = 79.54°.
	x := rot.MulVec(r3.Vec{X: 1})
	lon := math.Atan2(x.Y, x.X) * 180 / math.Pi
	if math.Abs(lon-(-280.46061837+360)) > 0.01 {
		t.Fatalf("vernal equinox longitude = %v, want ~79.54", lon)
	}
	if z := rot.MulVec(r3.Vec{Z: 1}); z != (r3.Vec{Z: 1}) {
		t.Fatalf("polar axis moved: %+v", z)
	}
}

func TestMoonFrame_DistanceWithinOrbit(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for ts := range timectrl.TimeRange(start, start.AddDate(0, 2, 0), 13*time.Hour) {
		frame, err := LowPrecision{}.MoonFrame(context.Background(), timectrl.ToJulianDate(ts))
		if err != nil {
			t.Fatalf("MoonFrame: %v", err)
		}
		if km := r3.Norm(frame.MoonECI) / 1000; km < 356_000 || km > 407_000 {
			t.Fatalf("%v: distance %v km outside the lunar orbit", ts, km)
		}
	}
}

func TestMoonFrame_SubLunarPointSeesZenith(t *testing.T) {
	svc := core.NewEphemerisService(LowPrecision{})
	at := time.Date(2025, time.May, 12, 16, 56, 0, 0, time.UTC)

	moon, err := svc.MoonECEF(context.Background(), at)
	if err != nil {
		t.Fatalf("MoonECEF: %v", err)
	}
	sub := core.ECEFToGeodetic(moon)
	obs, err := model.NewObserver(sub.LatitudeDeg, sub.LongitudeDeg, 0)
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}

	state, err := svc.MoonState(context.Background(), obs, at)
	if err != nil {
		t.Fatalf("MoonState: %v", err)
	}
	if math.Abs(state.ElevationDeg-90) > 1e-3 {
		t.Fatalf("elevation from the sub-lunar point = %v, want 90", state.ElevationDeg)
	}
	// 2025-05-12 was a full moon.
	if state.PhaseName != "Full Moon" {
		t.Fatalf("phase name = %q (phase %v), want Full Moon", state.PhaseName, state.Phase)
	}

	// The antipode cannot see the moon.
	anti, err := model.NewObserver(-sub.LatitudeDeg, math.Mod(sub.LongitudeDeg+360, 360)-180, 0)
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	pos, err := svc.MoonAzEl(context.Background(), anti, at)
	if err != nil {
		t.Fatalf("MoonAzEl: %v", err)
	}
	if pos.IsAboveHorizon() {
		t.Fatalf("moon visible from the antipode: %v", pos)
	}
}

func TestMoonFrame_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (LowPrecision{}).MoonFrame(ctx, timectrl.J2000JD); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

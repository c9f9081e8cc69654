package core

import (
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/skywatch/model"
)

func ptr(f float64) *float64 { return &f }

func TestPredictPosition_DeadReckoning(t *testing.T) {
	obs := mustObserver(t, 45, 5, 0)
	rec := model.GeodeticRecord("N", 45, 5, 10000)
	rec.HeadingDeg = ptr(0)
	rec.SpeedMps = ptr(250)
	rec.VerticalRateMps = ptr(-5)

	got, err := PredictPosition(obs, rec, 30*time.Second)
	if err != nil {
		t.Fatalf("PredictPosition: %v", err)
	}
	wantLat := 45 + 7500/EarthRadiusM*180/math.Pi
	if math.Abs(got.LatitudeDeg-wantLat) > 1e-9 || math.Abs(got.LongitudeDeg-5) > 1e-9 {
		t.Fatalf("northbound prediction = %+v, want lat %v lon 5", got, wantLat)
	}
	if math.Abs(got.AltitudeM-9850) > 1e-9 {
		t.Fatalf("altitude = %v, want 9850", got.AltitudeM)
	}

	// Eastbound at 60°N covers twice the longitude of the equator.
	east := model.GeodeticRecord("E", 60, 179.99, 0)
	east.HeadingDeg = ptr(90)
	east.SpeedMps = ptr(1000)
	got, err = PredictPosition(obs, east, 10*time.Second)
	if err != nil {
		t.Fatalf("PredictPosition: %v", err)
	}
	wantLon := 179.99 + 2*10000/EarthRadiusM*180/math.Pi - 360
	if math.Abs(got.LongitudeDeg-wantLon) > 1e-6 {
		t.Fatalf("eastbound lon = %v, want %v (wrapped)", got.LongitudeDeg, wantLon)
	}

	still := model.GeodeticRecord("S", 1, 2, 3)
	if got, _ := PredictPosition(obs, still, time.Minute); got != still.Geodetic() {
		t.Fatalf("record without kinematics moved to %+v", got)
	}
}

func TestTransitSeparation(t *testing.T) {
	a := model.NewPosition(359.9, 60, 1)
	b := model.NewPosition(0.1, 60, 1)
	// 0.2° of azimuth at 60° elevation is 0.1° on the sky.
	if got := TransitSeparation(a, b); math.Abs(got-0.1) > 1e-9 {
		t.Fatalf("separation across north = %v, want 0.1", got)
	}
	if !WillTransit(a, b, DefaultTransitThresholdDeg) {
		t.Fatalf("0.1° apart should transit")
	}
	if WillTransit(model.NewPosition(10, 30, 1), model.NewPosition(10, 31, 1), DefaultTransitThresholdDeg) {
		t.Fatalf("1° apart should not transit")
	}
}

func TestPredictTransit(t *testing.T) {
	obs := mustObserver(t, 51.5, -0.1, 0)
	at := time.Date(2024, time.September, 17, 21, 0, 0, 0, time.UTC)

	// An aircraft that will sit exactly on the line of sight to the moon.
	moonPos := model.NewPosition(135, 25, 384_400_000)
	onLine, err := ToCartesian(obs, moonPos.AzimuthDeg, moonPos.ElevationDeg, 20_000)
	if err != nil {
		t.Fatalf("ToCartesian: %v", err)
	}
	future := ECEFToGeodetic(onLine)
	rec := model.GeodeticRecord("BAW1", future.LatitudeDeg-0.01, future.LongitudeDeg, future.AltitudeM)
	rec.Callsign = "BAW1"
	rec.HeadingDeg = ptr(0)
	rec.SpeedMps = ptr(0.01 * math.Pi / 180 * EarthRadiusM / DefaultLookahead.Seconds())

	moon := model.MoonState{AzimuthDeg: 135, ElevationDeg: 25, RangeM: 384_400_000, At: at.Add(DefaultLookahead)}
	alert, ok, err := PredictTransit(obs, rec, moon, DefaultLookahead, DefaultTransitThresholdDeg)
	if err != nil {
		t.Fatalf("PredictTransit: %v", err)
	}
	if !ok {
		t.Fatalf("expected a transit alert")
	}
	if alert.EntityID != "BAW1" || alert.SeparationDeg > 0.05 || !alert.PredictedAt.Equal(at.Add(DefaultLookahead)) {
		t.Fatalf("unexpected alert %+v", alert)
	}

	moon.ElevationDeg = -5
	if _, ok, _ := PredictTransit(obs, rec, moon, DefaultLookahead, DefaultTransitThresholdDeg); ok {
		t.Fatalf("no alert when the moon is below the horizon")
	}
}

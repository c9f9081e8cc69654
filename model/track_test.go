package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestTrackRecordUnmarshalSelectsVariant(t *testing.T) {
	var recs []TrackRecord
	body := `[
		{"id": "p1", "azimuthDeg": 45, "elevationDeg": 10, "rangeM": 5000, "headingDeg": 90},
		{"id": "g1", "callsign": "DLH4", "latitudeDeg": 50.1, "longitudeDeg": 8.6, "altitudeM": 1200, "speed": 210}
	]`
	if err := json.Unmarshal([]byte(body), &recs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	polar, geo := recs[0], recs[1]
	if polar.Source != SourcePolar || polar.RangeM != 5000 || polar.HeadingDeg == nil || *polar.HeadingDeg != 90 {
		t.Fatalf("polar record = %+v", polar)
	}
	if geo.Source != SourceGeodetic || geo.Callsign != "DLH4" || geo.SpeedMps == nil || *geo.SpeedMps != 210 {
		t.Fatalf("geodetic record = %+v", geo)
	}
	if got := geo.Geodetic(); got.LatitudeDeg != 50.1 || got.AltitudeM != 1200 {
		t.Fatalf("Geodetic() = %+v", got)
	}

	out, err := json.Marshal(polar)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back TrackRecord
	if err := json.Unmarshal(out, &back); err != nil || back.Source != SourcePolar || back.AzimuthDeg != 45 {
		t.Fatalf("polar record did not survive marshalling: %s, %+v, %v", out, back, err)
	}
}

func TestTrackRecordUnmarshalRejectsShapeless(t *testing.T) {
	var rec TrackRecord
	err := json.Unmarshal([]byte(`{"id": "x", "azimuthDeg": 10}`), &rec)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDiffOpsOrdering(t *testing.T) {
	d := Diff{
		Created: []Entity{{ID: "c"}},
		Updated: []Entity{{ID: "a"}},
		Removed: []string{"z", "b"},
	}
	ops := d.Ops()
	want := []string{"remove:b", "remove:z", "create:c", "update:a"}
	if len(ops) != len(want) {
		t.Fatalf("got %d ops, want %d", len(ops), len(want))
	}
	for i, op := range ops {
		var kind string
		switch op.(type) {
		case Create:
			kind = "create"
		case Update:
			kind = "update"
		case Remove:
			kind = "remove"
		}
		if got := kind + ":" + op.EntityID(); got != want[i] {
			t.Fatalf("op %d = %s, want %s", i, got, want[i])
		}
	}
	if d.Empty() || !(Diff{}).Empty() {
		t.Fatalf("Empty() misreports")
	}
	if d.Removed[0] != "z" {
		t.Fatalf("Ops must not reorder the diff's own slice")
	}
}

func TestObserverValidationAndPayload(t *testing.T) {
	if _, err := NewObserver(91, 0, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("latitude 91: err = %v", err)
	}
	if _, err := NewObserver(0, -181, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("longitude -181: err = %v", err)
	}

	obs, err := NewObserver(-33.86, 151.21, 58)
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	obs.ObservationDate = "2024-04-08T18:15"
	captured := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	obs.CapturedAt = &captured

	back, err := obs.Payload(time.Now()).Observer()
	if err != nil {
		t.Fatalf("payload Observer: %v", err)
	}
	if back.GeodeticPoint != obs.GeodeticPoint || back.ObservationDate != obs.ObservationDate || !back.CapturedAt.Equal(captured) {
		t.Fatalf("payload round trip = %+v", back)
	}

	at, ok := back.ObservationTime()
	if !ok || !at.Equal(time.Date(2024, 4, 8, 18, 15, 0, 0, time.UTC)) {
		t.Fatalf("ObservationTime = %v, %v", at, ok)
	}
	if _, ok := (Observer{ObservationDate: "tomorrow"}).ObservationTime(); ok {
		t.Fatalf("unparsable date accepted")
	}

	bad := ObserverPayload{Latitude: 1, Longitude: 1, Timestamp: "yesterday"}
	if _, err := bad.Observer(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad timestamp: err = %v", err)
	}
}

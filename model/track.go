package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RecordSource tells which coordinate fields of a TrackRecord are populated.
type RecordSource int

const (
	SourceUnknown  RecordSource = iota
	SourcePolar                 // azimuth/elevation/range relative to the observer
	SourceGeodetic              // latitude/longitude/altitude
)

func (s RecordSource) String() string {
	switch s {
	case SourcePolar:
		return "polar"
	case SourceGeodetic:
		return "geodetic"
	default:
		return "unknown"
	}
}

// TrackRecord is one object in a fetched batch.
type TrackRecord struct {
	ID       string
	Source   RecordSource
	Callsign string

	// Polar fields.
	AzimuthDeg   float64
	ElevationDeg float64
	RangeM       float64

	// Geodetic fields.
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeM    float64

	HeadingDeg      *float64
	SpeedMps        *float64
	VerticalRateMps *float64
}

// PolarRecord builds a polar-sourced record.
func PolarRecord(id string, azDeg, elDeg, rangeM float64) TrackRecord {
	return TrackRecord{ID: id, Source: SourcePolar, AzimuthDeg: azDeg, ElevationDeg: elDeg, RangeM: rangeM}
}

// GeodeticRecord builds a geodetic-sourced record.
func GeodeticRecord(id string, latDeg, lonDeg, altM float64) TrackRecord {
	return TrackRecord{ID: id, Source: SourceGeodetic, LatitudeDeg: latDeg, LongitudeDeg: lonDeg, AltitudeM: altM}
}

// Geodetic returns the geodetic fields as a point (unvalidated).
func (r TrackRecord) Geodetic() GeodeticPoint {
	return GeodeticPoint{LatitudeDeg: r.LatitudeDeg, LongitudeDeg: r.LongitudeDeg, AltitudeM: r.AltitudeM}
}

type trackRecordJSON struct {
	ID              string   `json:"id"`
	Callsign        string   `json:"callsign,omitempty"`
	AzimuthDeg      *float64 `json:"azimuthDeg,omitempty"`
	ElevationDeg    *float64 `json:"elevationDeg,omitempty"`
	RangeM          *float64 `json:"rangeM,omitempty"`
	LatitudeDeg     *float64 `json:"latitudeDeg,omitempty"`
	LongitudeDeg    *float64 `json:"longitudeDeg,omitempty"`
	AltitudeM       *float64 `json:"altitudeM,omitempty"`
	HeadingDeg      *float64 `json:"headingDeg,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
	VerticalRateMps *float64 `json:"verticalRate,omitempty"`
}

// UnmarshalJSON decodes either record shape. Latitude and longitude select
// the geodetic variant; otherwise azimuth and elevation are required.
func (r *TrackRecord) UnmarshalJSON(data []byte) error {
	var raw trackRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec := TrackRecord{
		ID:              raw.ID,
		Callsign:        raw.Callsign,
		HeadingDeg:      raw.HeadingDeg,
		SpeedMps:        raw.Speed,
		VerticalRateMps: raw.VerticalRateMps,
	}
	switch {
	case raw.LatitudeDeg != nil && raw.LongitudeDeg != nil:
		rec.Source = SourceGeodetic
		rec.LatitudeDeg = *raw.LatitudeDeg
		rec.LongitudeDeg = *raw.LongitudeDeg
		if raw.AltitudeM != nil {
			rec.AltitudeM = *raw.AltitudeM
		}
	case raw.AzimuthDeg != nil && raw.ElevationDeg != nil:
		rec.Source = SourcePolar
		rec.AzimuthDeg = *raw.AzimuthDeg
		rec.ElevationDeg = *raw.ElevationDeg
		if raw.RangeM != nil {
			rec.RangeM = *raw.RangeM
		}
	default:
		return fmt.Errorf("%w: record %q has neither polar nor geodetic fields", ErrInvalidInput, raw.ID)
	}
	*r = rec
	return nil
}

// MarshalJSON emits only the fields of the record's variant.
func (r TrackRecord) MarshalJSON() ([]byte, error) {
	raw := trackRecordJSON{
		ID:              r.ID,
		Callsign:        r.Callsign,
		HeadingDeg:      r.HeadingDeg,
		Speed:           r.SpeedMps,
		VerticalRateMps: r.VerticalRateMps,
	}
	switch r.Source {
	case SourceGeodetic:
		raw.LatitudeDeg, raw.LongitudeDeg, raw.AltitudeM = &r.LatitudeDeg, &r.LongitudeDeg, &r.AltitudeM
	case SourcePolar:
		raw.AzimuthDeg, raw.ElevationDeg, raw.RangeM = &r.AzimuthDeg, &r.ElevationDeg, &r.RangeM
	}
	return json.Marshal(raw)
}

// Entity is the renderer-facing view of a tracked object.
type Entity struct {
	ID         string           `json:"id"`
	Callsign   string           `json:"callsign,omitempty"`
	Position   CartesianPoint   `json:"position"`
	HeadingDeg *float64         `json:"headingDeg,omitempty"`
	SpeedMps   *float64         `json:"speed,omitempty"`
	Trail      []CartesianPoint `json:"trail,omitempty"`
}

// Diff is the outcome of one reconciliation.
type Diff struct {
	Created []Entity `json:"created"`
	Updated []Entity `json:"updated"`
	Removed []string `json:"removed"`
}

// Empty reports whether the diff carries no changes.
func (d Diff) Empty() bool {
	return len(d.Created) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// Op is one change to apply to a scene: Create, Update or Remove.
type Op interface {
	EntityID() string
	isOp()
}

// Create adds a new entity.
type Create struct{ Entity Entity }

// Update replaces an existing entity's state.
type Update struct{ Entity Entity }

// Remove deletes an entity.
type Remove struct{ ID string }

func (c Create) EntityID() string { return c.Entity.ID }
func (u Update) EntityID() string { return u.Entity.ID }
func (r Remove) EntityID() string { return r.ID }

func (Create) isOp() {}
func (Update) isOp() {}
func (Remove) isOp() {}

// Ops flattens the diff into removals first, then creations and updates.
func (d Diff) Ops() []Op {
	ops := make([]Op, 0, len(d.Created)+len(d.Updated)+len(d.Removed))
	removed := append([]string(nil), d.Removed...)
	sort.Strings(removed)
	for _, id := range removed {
		ops = append(ops, Remove{ID: id})
	}
	for _, e := range d.Created {
		ops = append(ops, Create{Entity: e})
	}
	for _, e := range d.Updated {
		ops = append(ops, Update{Entity: e})
	}
	return ops
}

package opensky

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/signalsfoundry/skywatch/model"
)

// Column positions in an OpenSky state vector.
const (
	colICAO24       = 0
	colCallsign     = 1
	colLongitude    = 5
	colLatitude     = 6
	colBaroAltitude = 7
	colOnGround     = 8
	colVelocity     = 9
	colTrueTrack    = 10
	colVerticalRate = 11
	colGeoAltitude  = 13
)

// UnknownCallsign labels aircraft that do not broadcast one.
const UnknownCallsign = "UNKNOWN"

// DecodeStates converts a /states/all response body into geodetic track
// records. Rows without an id or a position are skipped; a null "states"
// member yields an empty batch.
func DecodeStates(body []byte) ([]model.TrackRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed states response", model.ErrFetchFailure)
	}
	states := gjson.GetBytes(body, "states")
	if !states.Exists() || states.Type == gjson.Null {
		return []model.TrackRecord{}, nil
	}
	if !states.IsArray() {
		return nil, fmt.Errorf("%w: states is %s, not an array", model.ErrFetchFailure, states.Type)
	}

	out := make([]model.TrackRecord, 0, len(states.Array()))
	states.ForEach(func(_, row gjson.Result) bool {
		if rec, ok := decodeRow(row.Array()); ok {
			out = append(out, rec)
		}
		return true
	})
	return out, nil
}

func decodeRow(cols []gjson.Result) (model.TrackRecord, bool) {
	if len(cols) <= colVerticalRate {
		return model.TrackRecord{}, false
	}
	id := strings.TrimSpace(cols[colICAO24].String())
	lon, lat := cols[colLongitude], cols[colLatitude]
	if id == "" || lon.Type != gjson.Number || lat.Type != gjson.Number {
		return model.TrackRecord{}, false
	}

	alt := 0.0
	switch {
	case cols[colBaroAltitude].Type == gjson.Number:
		alt = cols[colBaroAltitude].Float()
	case len(cols) > colGeoAltitude && cols[colGeoAltitude].Type == gjson.Number:
		alt = cols[colGeoAltitude].Float()
	}
	if cols[colOnGround].Bool() && alt < 0 {
		alt = 0
	}

	rec := model.GeodeticRecord(id, lat.Float(), lon.Float(), alt)
	rec.Callsign = strings.TrimSpace(cols[colCallsign].String())
	if rec.Callsign == "" {
		rec.Callsign = UnknownCallsign
	}
	rec.SpeedMps = optional(cols[colVelocity])
	rec.HeadingDeg = optional(cols[colTrueTrack])
	rec.VerticalRateMps = optional(cols[colVerticalRate])
	return rec, true
}

func optional(r gjson.Result) *float64 {
	if r.Type != gjson.Number {
		return nil
	}
	v := r.Float()
	return &v
}

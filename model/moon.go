package model

import "time"

// MoonState is a complete snapshot of the moon as seen by an observer. It is
// recomputed on every refresh.
type MoonState struct {
	Cartesian    CartesianPoint `json:"cartesian"`
	AzimuthDeg   float64        `json:"azimuth"`
	ElevationDeg float64        `json:"elevation"`
	RangeM       float64        `json:"range"`
	Phase        float64        `json:"phase"`        // [0,1): 0 new, 0.5 full
	Illumination float64        `json:"illumination"` // [0,1]
	PhaseName    string         `json:"phaseName"`
	At           time.Time      `json:"at"`
}

// Position returns the polar view of the moon.
func (m MoonState) Position() Position {
	return NewPosition(m.AzimuthDeg, m.ElevationDeg, m.RangeM)
}

// TransitAlert is raised when an aircraft is predicted to cross the lunar disc.
type TransitAlert struct {
	EntityID      string    `json:"id"`
	Callsign      string    `json:"callsign,omitempty"`
	SeparationDeg float64   `json:"separationDeg"`
	PredictedAt   time.Time `json:"predictedAt"`
	AircraftAzEl  Position  `json:"aircraft"`
	MoonAzEl      Position  `json:"moon"`
	LookaheadSecs float64   `json:"lookaheadSeconds"`
}

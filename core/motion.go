package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/skywatch/model"
)

// BatchSource produces the records of one polling cycle for an observer.
type BatchSource interface {
	Fetch(ctx context.Context, observer model.Observer) ([]model.TrackRecord, error)
}

// StaticSource returns the same records every cycle.
type StaticSource struct {
	Records []model.TrackRecord
}

// Fetch returns a copy of the configured records.
func (s *StaticSource) Fetch(ctx context.Context, _ model.Observer) ([]model.TrackRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]model.TrackRecord(nil), s.Records...), nil
}

type orbitalEntry struct {
	name string
	sat  satellite.Satellite
}

// OrbitalSource propagates TLE sets with SGP4 and reports each satellite as
// a geodetic record.
type OrbitalSource struct {
	mu   sync.RWMutex
	sats map[string]orbitalEntry
	now  func() time.Time
}

// OrbitalOption customises an OrbitalSource.
type OrbitalOption func(*OrbitalSource)

// WithOrbitalClock sets the time source used for propagation.
func WithOrbitalClock(now func() time.Time) OrbitalOption {
	return func(s *OrbitalSource) { s.now = now }
}

// NewOrbitalSource constructs an empty source.
func NewOrbitalSource(opts ...OrbitalOption) *OrbitalSource {
	s := &OrbitalSource{
		sats: make(map[string]orbitalEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func checkTLE(line1, line2 string) error {
	line1, line2 = strings.TrimSpace(line1), strings.TrimSpace(line2)
	if len(line1) < 69 || len(line2) < 69 || !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
		return fmt.Errorf("%w: malformed TLE", model.ErrInvalidInput)
	}
	return nil
}

// AddSatellite registers a satellite under id.
func (s *OrbitalSource) AddSatellite(id, name, line1, line2 string) (err error) {
	if id == "" {
		return fmt.Errorf("%w: satellite id is empty", model.ErrInvalidInput)
	}
	if err := checkTLE(line1, line2); err != nil {
		return fmt.Errorf("satellite %q: %w", id, err)
	}

	// go-satellite panics on unparsable numeric fields.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("satellite %q: %w: %v", id, model.ErrInvalidInput, r)
		}
	}()
	sat := satellite.TLEToSat(strings.TrimSpace(line1), strings.TrimSpace(line2), satellite.GravityWGS72)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sats[id]; exists {
		return fmt.Errorf("%w: satellite %q already registered", model.ErrInvalidInput, id)
	}
	s.sats[id] = orbitalEntry{name: name, sat: sat}
	return nil
}

// RemoveSatellite unregisters id.
func (s *OrbitalSource) RemoveSatellite(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sats[id]; !ok {
		return fmt.Errorf("%w: satellite %q not registered", model.ErrInvalidInput, id)
	}
	delete(s.sats, id)
	return nil
}

// LoadTLEs registers every element set read from r. Both the two-line form
// and the three-line form with a leading name line are accepted; the id is
// the NORAD catalog number. It returns how many satellites were added.
func (s *OrbitalSource) LoadTLEs(r io.Reader) (int, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), " \r"); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read TLEs: %w", err)
	}

	added := 0
	for i := 0; i < len(lines); {
		name := ""
		if !strings.HasPrefix(lines[i], "1 ") {
			name = strings.TrimSpace(strings.TrimPrefix(lines[i], "0 "))
			i++
		}
		if i+1 >= len(lines) {
			return added, fmt.Errorf("%w: truncated TLE set at line %d", model.ErrInvalidInput, i+1)
		}
		line1, line2 := lines[i], lines[i+1]
		i += 2
		if len(line1) < 7 {
			return added, fmt.Errorf("%w: malformed TLE line %q", model.ErrInvalidInput, line1)
		}
		id := strings.TrimSpace(line1[2:7])
		if name == "" {
			name = id
		}
		if err := s.AddSatellite(id, name, line1, line2); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// Fetch propagates every satellite to the current time. Satellites whose
// propagation fails (decayed orbits, stale elements) are left out.
func (s *OrbitalSource) Fetch(ctx context.Context, _ model.Observer) ([]model.TrackRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	at := s.now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]model.TrackRecord, 0, len(s.sats))
	for id, entry := range s.sats {
		rec, ok := propagate(id, entry, at)
		if ok {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// propagate runs SGP4 at t. go-satellite works in kilometres; records are
// in metres.
func propagate(id string, entry orbitalEntry, t time.Time) (model.TrackRecord, bool) {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, velECI := satellite.Propagate(entry.sat, year, int(month), day, hour, min, sec)
	if math.IsNaN(posECI.X) || (posECI.X == 0 && posECI.Y == 0 && posECI.Z == 0) {
		return model.TrackRecord{}, false
	}
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	const kmToM = 1000.0
	geo := ECEFToGeodetic(model.CartesianPoint{
		X: posECEF.X * kmToM,
		Y: posECEF.Y * kmToM,
		Z: posECEF.Z * kmToM,
	})
	speed := math.Sqrt(velECI.X*velECI.X+velECI.Y*velECI.Y+velECI.Z*velECI.Z) * kmToM

	rec := model.GeodeticRecord(id, geo.LatitudeDeg, geo.LongitudeDeg, geo.AltitudeM)
	rec.Callsign = entry.name
	rec.SpeedMps = &speed
	return rec, true
}

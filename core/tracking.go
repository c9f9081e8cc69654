package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/skywatch/model"
)

// DefaultTrailLength is the number of positions kept per tracked object.
const DefaultTrailLength = 3

// TrailBuffer is a bounded FIFO of past positions, oldest first.
type TrailBuffer struct {
	points []model.CartesianPoint
	max    int
}

// NewTrailBuffer returns an empty trail holding at most max points. A
// non-positive max selects DefaultTrailLength.
func NewTrailBuffer(max int) *TrailBuffer {
	if max <= 0 {
		max = DefaultTrailLength
	}
	return &TrailBuffer{points: make([]model.CartesianPoint, 0, max), max: max}
}

// Push appends p, evicting the oldest point when the buffer is full.
func (b *TrailBuffer) Push(p model.CartesianPoint) {
	if len(b.points) == b.max {
		copy(b.points, b.points[1:])
		b.points = b.points[:b.max-1]
	}
	b.points = append(b.points, p)
}

// Len returns the number of stored points.
func (b *TrailBuffer) Len() int { return len(b.points) }

// Cap returns the configured maximum length.
func (b *TrailBuffer) Cap() int { return b.max }

// Points returns a copy of the trail, oldest first.
func (b *TrailBuffer) Points() []model.CartesianPoint {
	return append([]model.CartesianPoint(nil), b.points...)
}

// TrackingMetricsRecorder observes reconciliation outcomes.
type TrackingMetricsRecorder interface {
	ObserveReconcile(created, updated, removed, tracked int)
}

type trackedObject struct {
	record   model.TrackRecord
	position model.CartesianPoint
	trail    *TrailBuffer
	misses   int
}

func (o *trackedObject) entity() model.Entity {
	return model.Entity{
		ID:         o.record.ID,
		Callsign:   o.record.Callsign,
		Position:   o.position,
		HeadingDeg: o.record.HeadingDeg,
		SpeedMps:   o.record.SpeedMps,
		Trail:      o.trail.Points(),
	}
}

// Reconciler keeps the registry of tracked objects and diffs every fetched
// batch against it. It is safe for concurrent use; each call operates on a
// consistent snapshot of the registry.
type Reconciler struct {
	mu         sync.Mutex
	objects    map[string]*trackedObject
	generation uint64

	maxTrail     int
	missedCycles int
	metrics      TrackingMetricsRecorder
}

// ReconcilerOption customises a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithMaxTrail bounds every object's trail.
func WithMaxTrail(n int) ReconcilerOption {
	return func(r *Reconciler) { r.maxTrail = n }
}

// WithMissedCycles keeps an object through n consecutive batches that omit
// it before evicting it. Zero evicts on the first miss.
func WithMissedCycles(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n >= 0 {
			r.missedCycles = n
		}
	}
}

// WithTrackingMetrics reports every reconciliation to rec.
func WithTrackingMetrics(rec TrackingMetricsRecorder) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = rec }
}

// NewReconciler constructs an empty registry.
func NewReconciler(opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		objects:  make(map[string]*trackedObject),
		maxTrail: DefaultTrailLength,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxTrail <= 0 {
		r.maxTrail = DefaultTrailLength
	}
	return r
}

// RecordPosition resolves a batch record to ECEF.
func RecordPosition(observer model.Observer, rec model.TrackRecord) (model.CartesianPoint, error) {
	switch rec.Source {
	case model.SourcePolar:
		return ToCartesian(observer, rec.AzimuthDeg, rec.ElevationDeg, rec.RangeM)
	case model.SourceGeodetic:
		p := rec.Geodetic()
		if err := p.Validate(); err != nil {
			return model.CartesianPoint{}, err
		}
		return GeodeticToECEF(p), nil
	default:
		return model.CartesianPoint{}, fmt.Errorf("%w: unknown record source %v", model.ErrInvalidInput, rec.Source)
	}
}

// Reconcile applies batch to the registry and returns what changed.
//
// Records sharing an id resolve last-write-wins. A record that cannot be
// positioned is reported in the returned error; its id still counts as
// present so an existing entry keeps its previous state. The diff lists are
// sorted by id and do not depend on record order.
func (r *Reconciler) Reconcile(observer model.Observer, batch []model.TrackRecord) (model.Diff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconcileLocked(observer, batch)
}

// Generation identifies the current tracking session. Capture it before
// issuing a fetch and hand it to ReconcileIfCurrent with the result.
func (r *Reconciler) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// Rotate starts a new generation without touching the registry and returns
// it. Batches captured under an earlier generation no longer apply.
func (r *Reconciler) Rotate() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	return r.generation
}

// ReconcileIfCurrent reconciles only if neither StopTracking nor Rotate has
// been called since gen was captured. applied is false when the batch was discarded.
func (r *Reconciler) ReconcileIfCurrent(gen uint64, observer model.Observer, batch []model.TrackRecord) (diff model.Diff, applied bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		return model.Diff{}, false, nil
	}
	diff, err = r.reconcileLocked(observer, batch)
	return diff, true, err
}

func (r *Reconciler) reconcileLocked(observer model.Observer, batch []model.TrackRecord) (model.Diff, error) {
	if err := observer.Validate(); err != nil {
		return model.Diff{}, err
	}

	var errs []error
	latest := make(map[string]model.TrackRecord, len(batch))
	for _, rec := range batch {
		if rec.ID == "" {
			errs = append(errs, fmt.Errorf("%w: record without id", model.ErrInvalidInput))
			continue
		}
		latest[rec.ID] = rec
	}

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	diff := model.Diff{
		Created: []model.Entity{},
		Updated: []model.Entity{},
		Removed: []string{},
	}
	for _, id := range ids {
		rec := latest[id]
		pos, err := RecordPosition(observer, rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %q: %w", id, err))
			if obj, ok := r.objects[id]; ok {
				obj.misses = 0
			}
			continue
		}

		if obj, ok := r.objects[id]; ok {
			obj.record = rec
			obj.position = pos
			obj.misses = 0
			obj.trail.Push(pos)
			diff.Updated = append(diff.Updated, obj.entity())
			continue
		}

		obj := &trackedObject{record: rec, position: pos, trail: NewTrailBuffer(r.maxTrail)}
		obj.trail.Push(pos)
		r.objects[id] = obj
		diff.Created = append(diff.Created, obj.entity())
	}

	for id, obj := range r.objects {
		if _, seen := latest[id]; seen {
			continue
		}
		obj.misses++
		if obj.misses > r.missedCycles {
			delete(r.objects, id)
			diff.Removed = append(diff.Removed, id)
		}
	}
	sort.Strings(diff.Removed)

	if r.metrics != nil {
		r.metrics.ObserveReconcile(len(diff.Created), len(diff.Updated), len(diff.Removed), len(r.objects))
	}
	return diff, errors.Join(errs...)
}

// StopTracking drops every tracked object and trail and invalidates
// outstanding generations. It is a no-op on an empty registry apart from
// the generation bump.
func (r *Reconciler) StopTracking() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	if len(r.objects) == 0 {
		return
	}
	r.objects = make(map[string]*trackedObject)
	if r.metrics != nil {
		r.metrics.ObserveReconcile(0, 0, 0, 0)
	}
}

// Len returns the number of tracked objects.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

// Tracked returns the entity for id.
func (r *Reconciler) Tracked(id string) (model.Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[id]
	if !ok {
		return model.Entity{}, false
	}
	return obj.entity(), true
}

// Snapshot returns every tracked entity sorted by id.
func (r *Reconciler) Snapshot() []model.Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Entity, 0, len(r.objects))
	for _, obj := range r.objects {
		out = append(out, obj.entity())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Records returns the latest batch record of every tracked object, sorted
// by id. Transit prediction uses the kinematic fields.
func (r *Reconciler) Records() []model.TrackRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.TrackRecord, 0, len(r.objects))
	for _, obj := range r.objects {
		out = append(out, obj.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

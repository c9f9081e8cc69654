// Package kb holds the renderer-facing scene: the tracked entities, the moon
// and recent transit alerts, with change notification for subscribers.
package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/skywatch/model"
)

// MoonEntityID is the scene id of the moon.
const MoonEntityID = "the-moon"

// DefaultAlertCapacity bounds the retained transit alerts.
const DefaultAlertCapacity = 50

// EventType indicates what kind of change happened in the scene.
type EventType int

const (
	EventEntityCreated EventType = iota
	EventEntityUpdated
	EventEntityRemoved
	EventMoonUpdated
	EventTransitAlert
)

func (t EventType) String() string {
	switch t {
	case EventEntityCreated:
		return "created"
	case EventEntityUpdated:
		return "updated"
	case EventEntityRemoved:
		return "removed"
	case EventMoonUpdated:
		return "moon"
	case EventTransitAlert:
		return "alert"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type   EventType
	Entity model.Entity
	Moon   *model.MoonState
	Alert  *model.TransitAlert
}

// Scene is an in-memory, thread-safe store for everything a renderer draws.
type Scene struct {
	mu sync.RWMutex

	entities map[string]model.Entity
	moon     *model.MoonState
	alerts   []model.TransitAlert
	alertCap int

	subs    map[int]func(Event)
	nextSub int
}

// SceneOption customises a Scene.
type SceneOption func(*Scene)

// WithAlertCapacity keeps at most n alerts, dropping the oldest first.
func WithAlertCapacity(n int) SceneOption {
	return func(s *Scene) {
		if n > 0 {
			s.alertCap = n
		}
	}
}

// NewScene constructs an empty scene.
func NewScene(opts ...SceneOption) *Scene {
	s := &Scene{
		entities: make(map[string]model.Entity),
		alertCap: DefaultAlertCapacity,
		subs:     make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply executes ops in order. Creating an existing id, or updating or
// removing a missing one, fails that op only; the rest still apply and the
// failures are returned joined.
func (s *Scene) Apply(ops []model.Op) error {
	s.mu.Lock()
	var (
		errs   []error
		events = make([]Event, 0, len(ops))
	)
	for _, op := range ops {
		switch op := op.(type) {
		case model.Create:
			if _, exists := s.entities[op.Entity.ID]; exists {
				errs = append(errs, fmt.Errorf("entity %q already exists", op.Entity.ID))
				continue
			}
			e := cloneEntity(op.Entity)
			s.entities[e.ID] = e
			events = append(events, Event{Type: EventEntityCreated, Entity: cloneEntity(e)})
		case model.Update:
			if _, exists := s.entities[op.Entity.ID]; !exists {
				errs = append(errs, fmt.Errorf("entity %q not found", op.Entity.ID))
				continue
			}
			e := cloneEntity(op.Entity)
			s.entities[e.ID] = e
			events = append(events, Event{Type: EventEntityUpdated, Entity: cloneEntity(e)})
		case model.Remove:
			e, exists := s.entities[op.ID]
			if !exists {
				errs = append(errs, fmt.Errorf("entity %q not found", op.ID))
				continue
			}
			delete(s.entities, op.ID)
			events = append(events, Event{Type: EventEntityRemoved, Entity: e})
		default:
			errs = append(errs, fmt.Errorf("unsupported op %T", op))
		}
	}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, events...)
	return errors.Join(errs...)
}

// ApplyDiff applies a reconciliation diff.
func (s *Scene) ApplyDiff(d model.Diff) error {
	return s.Apply(d.Ops())
}

// Clear removes every entity, emitting a removal per entity in id order.
// The moon and the alerts are kept.
func (s *Scene) Clear() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, Event{Type: EventEntityRemoved, Entity: s.entities[id]})
	}
	clear(s.entities)
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, events...)
}

// Entity returns the entity with the given id.
func (s *Scene) Entity(id string) (model.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return model.Entity{}, false
	}
	return cloneEntity(e), true
}

// Entities returns a snapshot of all entities sorted by id.
func (s *Scene) Entities() []model.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]model.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		res = append(res, cloneEntity(e))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Len returns the number of entities.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// SetMoon replaces the moon snapshot and notifies subscribers. The event
// entity carries MoonEntityID and the moon's ECEF position.
func (s *Scene) SetMoon(m model.MoonState) {
	s.mu.Lock()
	s.moon = &m
	subs := s.subscribersLocked()
	s.mu.Unlock()

	moon := m
	notify(subs, Event{
		Type:   EventMoonUpdated,
		Entity: MoonEntity(m),
		Moon:   &moon,
	})
}

// Moon returns the latest moon snapshot.
func (s *Scene) Moon() (model.MoonState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.moon == nil {
		return model.MoonState{}, false
	}
	return *s.moon, true
}

// MoonEntity renders a moon snapshot as a scene entity.
func MoonEntity(m model.MoonState) model.Entity {
	return model.Entity{ID: MoonEntityID, Callsign: "Moon", Position: m.Cartesian}
}

// AddAlert records a transit alert and notifies subscribers.
func (s *Scene) AddAlert(a model.TransitAlert) {
	s.mu.Lock()
	s.alerts = append(s.alerts, a)
	if over := len(s.alerts) - s.alertCap; over > 0 {
		s.alerts = append(s.alerts[:0:0], s.alerts[over:]...)
	}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	alert := a
	notify(subs, Event{Type: EventTransitAlert, Alert: &alert})
}

// Alerts returns retained alerts, oldest first.
func (s *Scene) Alerts() []model.TransitAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.TransitAlert(nil), s.alerts...)
}

// Subscribe registers a callback for scene events. It returns an unsubscribe
// function that is safe to call more than once.
func (s *Scene) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Scene) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	return subs
}

func notify(subs []func(Event), events ...Event) {
	for _, ev := range events {
		for _, sub := range subs {
			sub(ev)
		}
	}
}

func cloneEntity(e model.Entity) model.Entity {
	e.Trail = append([]model.CartesianPoint(nil), e.Trail...)
	return e
}

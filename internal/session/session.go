// Package session owns one observer's live view: the aircraft polling loop,
// the moon refresh loop and the scene they both feed.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/internal/observability"
	"github.com/signalsfoundry/skywatch/internal/observerstore"
	"github.com/signalsfoundry/skywatch/internal/scheduler"
	"github.com/signalsfoundry/skywatch/kb"
	"github.com/signalsfoundry/skywatch/model"
	"github.com/signalsfoundry/skywatch/timectrl"
)

// Task names used for logs and metrics.
const (
	TaskAircraft = "aircraft"
	TaskMoon     = "moon"
)

// Metrics receives moon and alert observations.
type Metrics interface {
	SetMoon(m model.MoonState)
	IncTransitAlerts(n int)
}

type noopMetrics struct{}

func (noopMetrics) SetMoon(model.MoonState) {}
func (noopMetrics) IncTransitAlerts(int)    {}

// Session coordinates fetching, reconciliation, ephemeris and transit
// prediction for a single observer.
type Session struct {
	source     core.BatchSource
	ephemeris  *core.EphemerisService
	reconciler *core.Reconciler
	scene      *kb.Scene
	store      observerstore.Store
	clock      timectrl.SimClock
	aircraft   scheduler.Task
	moon       scheduler.Task
	metrics    Metrics
	logger     logging.Logger
	tracer     trace.Tracer

	trackInterval time.Duration
	moonInterval  time.Duration
	lookahead     time.Duration
	thresholdDeg  float64

	mu       sync.RWMutex
	observer *model.Observer
	tracking bool

	// cycleMu serialises applying a reconciled batch to the scene against
	// StopTracking clearing it.
	cycleMu sync.Mutex
	// startMu serialises StartTracking calls.
	startMu sync.Mutex
}

// Option customises a Session.
type Option func(*Session)

// WithReconciler replaces the default reconciler.
func WithReconciler(r *core.Reconciler) Option {
	return func(s *Session) { s.reconciler = r }
}

// WithScene replaces the default scene.
func WithScene(scene *kb.Scene) Option {
	return func(s *Session) { s.scene = scene }
}

// WithStore persists observer changes.
func WithStore(store observerstore.Store) Option {
	return func(s *Session) { s.store = store }
}

// WithClock sets the time source for moon refreshes.
func WithClock(c timectrl.SimClock) Option {
	return func(s *Session) { s.clock = c }
}

// WithPollers replaces the aircraft and moon polling tasks.
func WithPollers(aircraft, moon scheduler.Task) Option {
	return func(s *Session) {
		s.aircraft = aircraft
		s.moon = moon
	}
}

// WithIntervals sets the aircraft and moon polling periods.
func WithIntervals(track, moon time.Duration) Option {
	return func(s *Session) {
		if track > 0 {
			s.trackInterval = track
		}
		if moon > 0 {
			s.moonInterval = moon
		}
	}
}

// WithTransit configures transit prediction.
func WithTransit(lookahead time.Duration, thresholdDeg float64) Option {
	return func(s *Session) {
		s.lookahead = lookahead
		if thresholdDeg > 0 {
			s.thresholdDeg = thresholdDeg
		}
	}
}

// WithMetrics records moon and alert metrics.
func WithMetrics(m Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs an idle session.
func New(source core.BatchSource, ephemeris *core.EphemerisService, opts ...Option) *Session {
	s := &Session{
		source:        source,
		ephemeris:     ephemeris,
		clock:         timectrl.WallClock{},
		metrics:       noopMetrics{},
		logger:        logging.Noop(),
		tracer:        observability.Tracer(),
		trackInterval: 10 * time.Second,
		moonInterval:  time.Minute,
		lookahead:     core.DefaultLookahead,
		thresholdDeg:  core.DefaultTransitThresholdDeg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reconciler == nil {
		s.reconciler = core.NewReconciler()
	}
	if s.scene == nil {
		s.scene = kb.NewScene()
	}
	if s.aircraft == nil {
		s.aircraft = scheduler.New(TaskAircraft, scheduler.WithLogger(s.logger))
	}
	if s.moon == nil {
		s.moon = scheduler.New(TaskMoon, scheduler.WithLogger(s.logger))
	}
	return s
}

// Scene returns the scene fed by this session.
func (s *Session) Scene() *kb.Scene { return s.scene }

// Restore loads the persisted observer, if any. model.ErrMissingObserver is
// returned unchanged when nothing was saved.
func (s *Session) Restore(ctx context.Context) (model.Observer, error) {
	if s.store == nil {
		return model.Observer{}, model.ErrMissingObserver
	}
	obs, err := s.store.Load(ctx)
	if err != nil {
		return model.Observer{}, err
	}
	s.mu.Lock()
	s.observer = &obs
	s.mu.Unlock()
	s.logger.Info(ctx, "observer restored",
		logging.Float("latitude", obs.LatitudeDeg),
		logging.Float("longitude", obs.LongitudeDeg))
	return obs, nil
}

// Observer returns the current observer or model.ErrMissingObserver.
func (s *Session) Observer() (model.Observer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.observer == nil {
		return model.Observer{}, model.ErrMissingObserver
	}
	return *s.observer, nil
}

// SetObserver validates, persists and installs obs, then refreshes the moon
// for the new location. Later polling cycles use the new observer.
func (s *Session) SetObserver(ctx context.Context, obs model.Observer) error {
	if err := obs.Validate(); err != nil {
		return err
	}
	if obs.CapturedAt == nil {
		now := time.Now().UTC()
		obs.CapturedAt = &now
	}
	if s.store != nil {
		if err := s.store.Save(ctx, obs); err != nil {
			return fmt.Errorf("persist observer: %w", err)
		}
	}
	s.mu.Lock()
	s.observer = &obs
	s.mu.Unlock()

	if _, err := s.RefreshMoon(ctx); err != nil {
		s.logger.Warn(ctx, "moon refresh after observer change failed", logging.Err(err))
	}
	return nil
}

// observationTime is the observer's pinned date or the session clock.
func (s *Session) observationTime(obs model.Observer) time.Time {
	if t, ok := obs.ObservationTime(); ok {
		return t
	}
	return s.clock.Now()
}

// Start begins the moon refresh loop, refreshing once immediately when an
// observer is known.
func (s *Session) Start(ctx context.Context) error {
	if _, err := s.Observer(); err == nil {
		if _, err := s.RefreshMoon(ctx); err != nil {
			s.logger.Warn(ctx, "initial moon refresh failed", logging.Err(err))
		}
	}
	return s.moon.Start(s.moonCycle, s.moonInterval)
}

// Close stops both loops and clears the tracked objects.
func (s *Session) Close() {
	s.moon.Stop()
	s.StopTracking()
}

// RefreshMoon recomputes the moon for the current observer and publishes it.
// On failure the previous moon state stays in the scene.
func (s *Session) RefreshMoon(ctx context.Context) (model.MoonState, error) {
	obs, err := s.Observer()
	if err != nil {
		return model.MoonState{}, err
	}
	ctx, span := s.tracer.Start(ctx, "skywatch.moon_refresh")
	defer span.End()

	at := s.observationTime(obs)
	state, err := s.ephemeris.MoonState(ctx, obs, at)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.MoonState{}, err
	}
	span.SetAttributes(
		attribute.Float64("moon.elevation_deg", state.ElevationDeg),
		attribute.Float64("moon.phase", state.Phase),
	)
	s.scene.SetMoon(state)
	s.metrics.SetMoon(state)
	logging.FromContext(ctx, s.logger).Debug(ctx, "moon refreshed",
		logging.Float("azimuth", state.AzimuthDeg),
		logging.Float("elevation", state.ElevationDeg),
		logging.String("phase", state.PhaseName))
	return state, nil
}

func (s *Session) moonCycle(ctx context.Context) error {
	_, err := s.RefreshMoon(ctx)
	if errors.Is(err, model.ErrMissingObserver) {
		return nil
	}
	return err
}

// Tracking reports whether the aircraft loop is active.
func (s *Session) Tracking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracking
}

// StartTracking runs one cycle immediately and then polls every tracking
// interval. Calling it while tracking restarts the loop without clearing
// the registry; results still in flight from the previous loop are dropped.
// A failed first cycle is logged, not returned. If StopTracking runs during
// the first cycle the loop is not armed.
func (s *Session) StartTracking(ctx context.Context) error {
	if _, err := s.Observer(); err != nil {
		return err
	}
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	s.aircraft.Stop()
	gen := s.reconciler.Rotate()
	s.tracking = true
	s.mu.Unlock()

	cycle := func(ctx context.Context) error { return s.trackCycle(ctx, gen) }

	firstCtx, log := logging.WithCycleLogger(ctx, s.logger.With(logging.String("task", TaskAircraft)))
	if err := cycle(firstCtx); err != nil {
		log.Warn(firstCtx, "initial tracking cycle failed", logging.Err(err))
	}

	s.mu.Lock()
	if !s.tracking || s.reconciler.Generation() != gen {
		s.mu.Unlock()
		log.Info(firstCtx, "tracking stopped during the first cycle")
		return nil
	}
	if err := s.aircraft.Start(cycle, s.trackInterval); err != nil {
		s.tracking = false
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	log.Info(firstCtx, "tracking started", logging.Duration("interval", s.trackInterval))
	return nil
}

// StopTracking cancels the loop, drops in-flight results and clears every
// tracked object from the registry and the scene.
func (s *Session) StopTracking() {
	s.mu.Lock()
	was := s.tracking
	s.tracking = false
	s.aircraft.Stop()
	s.mu.Unlock()

	s.cycleMu.Lock()
	s.reconciler.StopTracking()
	s.scene.Clear()
	s.cycleMu.Unlock()

	if was {
		s.logger.Info(context.Background(), "tracking stopped")
	}
}

// trackCycle fetches one batch and reconciles it if gen is still current.
// A fetch failure leaves the registry untouched.
func (s *Session) trackCycle(ctx context.Context, gen uint64) error {
	obs, err := s.Observer()
	if err != nil {
		return err
	}
	log := logging.FromContext(ctx, s.logger)
	ctx, span := s.tracer.Start(ctx, "skywatch.track_cycle",
		trace.WithAttributes(attribute.Int64("tracking.generation", int64(gen))))
	defer span.End()

	batch, err := s.source.Fetch(ctx, obs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return err
	}
	span.SetAttributes(attribute.Int("batch.size", len(batch)))

	s.cycleMu.Lock()
	diff, applied, recErr := s.reconciler.ReconcileIfCurrent(gen, obs, batch)
	if applied {
		if err := s.scene.ApplyDiff(diff); err != nil {
			log.Error(ctx, "scene rejected reconciliation diff", logging.Err(err))
		}
	}
	s.cycleMu.Unlock()

	if !applied {
		log.Debug(ctx, "dropping batch from a stopped tracking generation")
		return nil
	}
	if recErr != nil {
		// Invalid records were skipped; the rest of the batch applied.
		log.Warn(ctx, "batch contained invalid records", logging.Err(recErr))
	}
	span.SetAttributes(
		attribute.Int("diff.created", len(diff.Created)),
		attribute.Int("diff.updated", len(diff.Updated)),
		attribute.Int("diff.removed", len(diff.Removed)),
	)
	log.Debug(ctx, "tracking cycle reconciled",
		logging.Int("created", len(diff.Created)),
		logging.Int("updated", len(diff.Updated)),
		logging.Int("removed", len(diff.Removed)))

	s.checkTransits(ctx, obs, batch)
	return nil
}

// checkTransits raises an alert for every record predicted to cross the moon
// as it will stand once the lookahead has elapsed.
func (s *Session) checkTransits(ctx context.Context, obs model.Observer, batch []model.TrackRecord) {
	log := logging.FromContext(ctx, s.logger)
	at := s.observationTime(obs).Add(s.lookahead)
	moon, err := s.ephemeris.MoonState(ctx, obs, at)
	if err != nil {
		log.Warn(ctx, "skipping transit prediction", logging.Err(err))
		return
	}
	if !moon.Position().IsAboveHorizon() {
		return
	}
	raised := 0
	for _, rec := range batch {
		alert, hit, err := core.PredictTransit(obs, rec, moon, s.lookahead, s.thresholdDeg)
		if err != nil || !hit {
			continue
		}
		s.scene.AddAlert(alert)
		raised++
		log.Info(ctx, "lunar transit predicted",
			logging.String("id", alert.EntityID),
			logging.String("callsign", alert.Callsign),
			logging.Float("separation_deg", alert.SeparationDeg))
	}
	s.metrics.IncTransitAlerts(raised)
}

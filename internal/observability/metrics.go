package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/skywatch/model"
)

// TrackerCollector bundles Prometheus metrics for the tracking engine, the
// polling loops and the HTTP API.
type TrackerCollector struct {
	gatherer prometheus.Gatherer

	TrackedObjects   prometheus.Gauge
	ReconcileChanges *prometheus.CounterVec
	PollCycles       *prometheus.CounterVec
	PollDurations    *prometheus.HistogramVec
	MoonElevation    prometheus.Gauge
	MoonPhase        prometheus.Gauge
	TransitAlerts    prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HTTPDurations    *prometheus.HistogramVec
}

// NewTrackerCollector registers tracker metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewTrackerCollector(reg prometheus.Registerer) (*TrackerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tracked, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "skywatch_tracked_objects",
		Help: "Current number of objects in the tracking registry.",
	}), "skywatch_tracked_objects")
	if err != nil {
		return nil, err
	}

	changes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skywatch_reconcile_changes_total",
		Help: "Entities created, updated and removed by reconciliation, labeled by kind.",
	}, []string{"kind"}), "skywatch_reconcile_changes_total")
	if err != nil {
		return nil, err
	}

	cycles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skywatch_poll_cycles_total",
		Help: "Polling cycles run, labeled by task and outcome (ok or error).",
	}, []string{"task", "outcome"}), "skywatch_poll_cycles_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skywatch_poll_cycle_duration_seconds",
		Help:    "Duration of polling cycles in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"task"}), "skywatch_poll_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}

	moonEl, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "skywatch_moon_elevation_degrees",
		Help: "Moon elevation above the observer's horizon.",
	}), "skywatch_moon_elevation_degrees")
	if err != nil {
		return nil, err
	}
	moonPhase, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "skywatch_moon_phase",
		Help: "Fraction of the synodic month elapsed; 0 new, 0.5 full.",
	}), "skywatch_moon_phase")
	if err != nil {
		return nil, err
	}

	alerts, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "skywatch_transit_alerts_total",
		Help: "Predicted aircraft transits across the lunar disc.",
	}), "skywatch_transit_alerts_total")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skywatch_http_requests_total",
		Help: "Handled HTTP API requests, labeled by route, method and status code.",
	}, []string{"route", "method", "code"}), "skywatch_http_requests_total")
	if err != nil {
		return nil, err
	}
	reqDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skywatch_http_request_duration_seconds",
		Help:    "HTTP API latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"route", "method"}), "skywatch_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &TrackerCollector{
		gatherer:         gatherer,
		TrackedObjects:   tracked,
		ReconcileChanges: changes,
		PollCycles:       cycles,
		PollDurations:    durations,
		MoonElevation:    moonEl,
		MoonPhase:        moonPhase,
		TransitAlerts:    alerts,
		HTTPRequests:     requests,
		HTTPDurations:    reqDurations,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *TrackerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *TrackerCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveReconcile satisfies core.TrackingMetricsRecorder.
func (c *TrackerCollector) ObserveReconcile(created, updated, removed, tracked int) {
	if c == nil {
		return
	}
	if c.ReconcileChanges != nil {
		c.ReconcileChanges.WithLabelValues("created").Add(float64(created))
		c.ReconcileChanges.WithLabelValues("updated").Add(float64(updated))
		c.ReconcileChanges.WithLabelValues("removed").Add(float64(removed))
	}
	if c.TrackedObjects != nil {
		c.TrackedObjects.Set(float64(tracked))
	}
}

// ObserveCycle satisfies scheduler.CycleRecorder.
func (c *TrackerCollector) ObserveCycle(task string, d time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if c.PollCycles != nil {
		c.PollCycles.WithLabelValues(task, outcome).Inc()
	}
	if c.PollDurations != nil {
		c.PollDurations.WithLabelValues(task).Observe(d.Seconds())
	}
}

// SetMoon publishes the latest moon snapshot.
func (c *TrackerCollector) SetMoon(m model.MoonState) {
	if c == nil {
		return
	}
	if c.MoonElevation != nil {
		c.MoonElevation.Set(m.ElevationDeg)
	}
	if c.MoonPhase != nil {
		c.MoonPhase.Set(m.Phase)
	}
}

// IncTransitAlerts counts raised transit alerts.
func (c *TrackerCollector) IncTransitAlerts(n int) {
	if c == nil || c.TransitAlerts == nil || n <= 0 {
		return
	}
	c.TransitAlerts.Add(float64(n))
}

// Middleware records request counts and durations for HTTP handlers mounted
// on a chi router. Routes are labeled by pattern, not raw path.
func (c *TrackerCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if c == nil {
			return
		}
		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if c.HTTPRequests != nil {
			c.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		}
		if c.HTTPDurations != nil {
			c.HTTPDurations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		}
	})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

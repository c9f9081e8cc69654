// Package httpapi exposes the session over a small JSON REST API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/kb"
	"github.com/signalsfoundry/skywatch/model"
)

// Service is the session surface the API drives.
type Service interface {
	Observer() (model.Observer, error)
	SetObserver(ctx context.Context, obs model.Observer) error
	RefreshMoon(ctx context.Context) (model.MoonState, error)
	StartTracking(ctx context.Context) error
	StopTracking()
	Tracking() bool
	Scene() *kb.Scene
}

// Handler serves the REST API.
type Handler struct {
	svc     Service
	logger  logging.Logger
	metrics http.Handler
	instr   func(http.Handler) http.Handler
	now     func() time.Time
}

// Option customises a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(l logging.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics mounts metricsHandler at /metrics and wraps every route with
// instrument, typically TrackerCollector.Handler and .Middleware.
func WithMetrics(metricsHandler http.Handler, instrument func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.metrics = metricsHandler
		h.instr = instrument
	}
}

// NewHandler creates the API handler.
func NewHandler(svc Service, opts ...Option) *Handler {
	h := &Handler{svc: svc, logger: logging.Noop(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers every route on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		h.requestLogger,
	)
	if h.instr != nil {
		r.Use(h.instr)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/observer", h.getObserver)
		r.Put("/observer", h.putObserver)
		r.Get("/moon", h.getMoon)
		r.Get("/entities", h.listEntities)
		r.Get("/entities/{id}", h.getEntity)
		r.Get("/alerts", h.listAlerts)
		r.Get("/tracking", h.trackingStatus)
		r.Post("/tracking", h.startTracking)
		r.Delete("/tracking", h.stopTracking)
		r.Post("/convert", h.convert)
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, log := logging.WithRequestLogger(ctx, h.logger)
		ctx = logging.ContextWithLogger(ctx, log)

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		log.Debug(ctx, "http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("duration", time.Since(start)))
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error(r.Context(), "request failed", logging.Err(err))
	}
	writeError(w, status, err.Error())
}

func (h *Handler) getObserver(w http.ResponseWriter, r *http.Request) {
	obs, err := h.svc.Observer()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, obs.Payload(h.now()))
}

func (h *Handler) putObserver(w http.ResponseWriter, r *http.Request) {
	var payload model.ObserverPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	obs, err := payload.Observer()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.SetObserver(r.Context(), obs); err != nil {
		h.fail(w, r, err)
		return
	}
	saved, err := h.svc.Observer()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved.Payload(h.now()))
}

// getMoon serves the latest published moon state, computing one on demand
// when the refresh loop has not produced any yet.
func (h *Handler) getMoon(w http.ResponseWriter, r *http.Request) {
	if moon, ok := h.svc.Scene().Moon(); ok && r.URL.Query().Get("refresh") == "" {
		writeJSON(w, http.StatusOK, moon)
		return
	}
	moon, err := h.svc.RefreshMoon(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moon)
}

func (h *Handler) listEntities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Scene().Entities())
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == kb.MoonEntityID {
		if moon, ok := h.svc.Scene().Moon(); ok {
			writeJSON(w, http.StatusOK, kb.MoonEntity(moon))
			return
		}
	}
	e, ok := h.svc.Scene().Entity(id)
	if !ok {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) listAlerts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Scene().Alerts())
}

type trackingStatus struct {
	Tracking bool `json:"tracking"`
	Entities int  `json:"entities"`
}

func (h *Handler) status() trackingStatus {
	return trackingStatus{Tracking: h.svc.Tracking(), Entities: h.svc.Scene().Len()}
}

func (h *Handler) trackingStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) startTracking(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StartTracking(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.status())
}

func (h *Handler) stopTracking(w http.ResponseWriter, _ *http.Request) {
	h.svc.StopTracking()
	w.WriteHeader(http.StatusNoContent)
}

type convertRequest struct {
	AzimuthDeg   float64 `json:"azimuthDeg"`
	ElevationDeg float64 `json:"elevationDeg"`
	RangeM       float64 `json:"rangeM"`
}

type convertResponse struct {
	Cartesian model.CartesianPoint `json:"cartesian"`
	Geodetic  model.GeodeticPoint  `json:"geodetic"`
	Position  model.Position       `json:"position"`
	Compass   string               `json:"compass"`
}

// convert places an observer-relative measurement in ECEF and geodetic
// coordinates.
func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	obs, err := h.svc.Observer()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := core.ToCartesian(obs, req.AzimuthDeg, req.ElevationDeg, req.RangeM)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pos := model.NewPosition(req.AzimuthDeg, req.ElevationDeg, req.RangeM)
	writeJSON(w, http.StatusOK, convertResponse{
		Cartesian: p,
		Geodetic:  core.ECEFToGeodetic(p),
		Position:  pos,
		Compass:   pos.CompassDirection(),
	})
}

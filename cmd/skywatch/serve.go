package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/internal/config"
	"github.com/signalsfoundry/skywatch/internal/ephem"
	"github.com/signalsfoundry/skywatch/internal/httpapi"
	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/internal/observability"
	"github.com/signalsfoundry/skywatch/internal/observerstore"
	"github.com/signalsfoundry/skywatch/internal/opensky"
	"github.com/signalsfoundry/skywatch/internal/scheduler"
	"github.com/signalsfoundry/skywatch/internal/session"
	"github.com/signalsfoundry/skywatch/model"
	"github.com/signalsfoundry/skywatch/timectrl"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// serveOptions carries the serve flags that are not part of Config.
type serveOptions struct {
	// AutoTrack starts the aircraft loop once the observer is known.
	AutoTrack bool
	// ReplayStart, when set, drives the moon from a simulated clock
	// advancing by ReplayTick every ReplayTick of wall time.
	ReplayStart time.Time
	ReplayTick  time.Duration
	// Registry defaults to the global Prometheus registry.
	Registry *prometheus.Registry
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tracking loops and the HTTP API",
		Long: `Run the moon refresh loop, the optional aircraft polling loop and the
HTTP API. The observer comes from --lat/--lon, the configuration file or the
observer store, in that order of preference.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			keys := map[string]string{
				"http.address":    "address",
				"tracking.source": "source",
				"store.driver":    "store",
				"store.path":      "store-path",
			}
			for key, name := range observerFlagKeys {
				keys[key] = name
			}
			return bindFlags(v, cmd.Flags(), keys)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("address", ":8080", "Address the HTTP API listens on")
	flags.String("source", config.SourceOpenSky, "Batch source (opensky, orbital, static)")
	flags.String("store", config.StoreFile, "Observer store (file, sqlite, memory)")
	flags.String("store-path", "skywatch-observer.json", "Path of the file or sqlite observer store")
	addObserverFlags(flags)
	flags.Bool("track", false, "Start aircraft tracking immediately")
	flags.String("replay-start", "", "Replay the moon from this RFC 3339 time instead of the wall clock")
	flags.Duration("replay-tick", time.Minute, "Simulated time added per replay tick")
	return cmd
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	cfg, log, err := loadConfig(v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	opts := serveOptions{}
	if opts.AutoTrack, err = cmd.Flags().GetBool("track"); err != nil {
		return err
	}
	if opts.ReplayTick, err = cmd.Flags().GetDuration("replay-tick"); err != nil {
		return err
	}
	replayStart, err := cmd.Flags().GetString("replay-start")
	if err != nil {
		return err
	}
	if replayStart != "" {
		if opts.ReplayStart, err = time.Parse(time.RFC3339, replayStart); err != nil {
			return fmt.Errorf("%w: --replay-start: %v", model.ErrInvalidInput, err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.HTTP.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HTTP.Address, err)
	}
	return run(ctx, cfg, log, lis, opts)
}

// run serves until ctx is cancelled, then shuts the HTTP server and the
// polling loops down. It owns lis.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener, opts serveOptions) error {
	defer lis.Close()

	var reg prometheus.Registerer
	if opts.Registry != nil {
		reg = opts.Registry
	}
	collector, err := observability.NewTrackerCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingSettings(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	store, err := observerstore.Open(ctx, cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open observer store: %w", err)
	}
	defer store.Close()

	source, err := newSource(ctx, cfg, log)
	if err != nil {
		return err
	}

	reconciler := core.NewReconciler(
		core.WithMaxTrail(cfg.Tracking.MaxTrail),
		core.WithMissedCycles(cfg.Tracking.MissedCycles),
		core.WithTrackingMetrics(collector),
	)
	sessOpts := []session.Option{
		session.WithReconciler(reconciler),
		session.WithStore(store),
		session.WithPollers(
			scheduler.New(session.TaskAircraft, scheduler.WithLogger(log), scheduler.WithMetrics(collector)),
			scheduler.New(session.TaskMoon, scheduler.WithLogger(log), scheduler.WithMetrics(collector)),
		),
		session.WithIntervals(cfg.Tracking.Interval, cfg.Moon.Interval),
		session.WithTransit(cfg.Tracking.Lookahead, cfg.Tracking.TransitThresholdDeg),
		session.WithMetrics(collector),
		session.WithLogger(log),
	}

	var replay *timectrl.TimeController
	if !opts.ReplayStart.IsZero() {
		if opts.ReplayTick <= 0 {
			return fmt.Errorf("%w: replay tick must be positive, got %v", model.ErrInvalidInput, opts.ReplayTick)
		}
		replay = timectrl.NewTimeController(opts.ReplayStart.UTC(), opts.ReplayTick, timectrl.RealTime)
		sessOpts = append(sessOpts, session.WithClock(replay))
	}

	sess := session.New(source, core.NewEphemerisService(ephem.LowPrecision{}), sessOpts...)
	defer sess.Close()

	if err := seedObserver(ctx, sess, cfg, log); err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("start moon loop: %w", err)
	}

	if replay != nil {
		replay.AddListener(func(t time.Time) {
			if _, err := sess.RefreshMoon(ctx); err != nil && !errors.Is(err, model.ErrMissingObserver) {
				log.Warn(ctx, "replay moon refresh failed", logging.Err(err), logging.String("at", t.Format(time.RFC3339)))
			}
		})
		done := replay.Start(0)
		defer func() {
			replay.Stop()
			<-done
		}()
		log.Info(ctx, "replaying observation time",
			logging.String("start", opts.ReplayStart.UTC().Format(time.RFC3339)),
			logging.Duration("tick", opts.ReplayTick))
	}

	if opts.AutoTrack {
		if err := sess.StartTracking(ctx); err != nil {
			log.Warn(ctx, "tracking not started", logging.Err(err))
		}
	}

	handler := httpapi.NewHandler(sess,
		httpapi.WithLogger(log),
		httpapi.WithMetrics(collector.Handler(), collector.Middleware),
	)
	srv := &http.Server{
		Handler:           handler.Routes(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	log.Info(ctx, "skywatch listening",
		logging.String("addr", lis.Addr().String()),
		logging.String("source", cfg.Tracking.Source))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down skywatch")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

// seedObserver installs the configured observer, falling back to the one
// persisted by a previous run. Starting without either is allowed; clients
// set one through the API.
func seedObserver(ctx context.Context, sess *session.Session, cfg config.Config, log logging.Logger) error {
	if cfg.Observer.Set {
		obs, err := cfg.Observer.Model()
		if err != nil {
			return err
		}
		if err := sess.SetObserver(ctx, obs); err != nil {
			return fmt.Errorf("set observer: %w", err)
		}
		return nil
	}

	_, err := sess.Restore(ctx)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrMissingObserver):
		log.Info(ctx, "no observer configured; waiting for PUT /api/observer")
	default:
		log.Warn(ctx, "ignoring unreadable observer store", logging.Err(err))
	}
	return nil
}

// newSource builds the batch source selected by tracking.source.
func newSource(ctx context.Context, cfg config.Config, log logging.Logger) (core.BatchSource, error) {
	switch cfg.Tracking.Source {
	case config.SourceOrbital:
		f, err := os.Open(cfg.Tracking.TLEFile)
		if err != nil {
			return nil, fmt.Errorf("open TLE file: %w", err)
		}
		defer f.Close()
		src := core.NewOrbitalSource()
		n, err := src.LoadTLEs(f)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", cfg.Tracking.TLEFile, err)
		}
		log.Info(ctx, "loaded satellites", logging.Int("count", n), logging.String("path", cfg.Tracking.TLEFile))
		return src, nil

	case config.SourceStatic:
		records, err := readRecords(cfg.Tracking.RecordsFile)
		if err != nil {
			return nil, err
		}
		log.Info(ctx, "loaded static records", logging.Int("count", len(records)), logging.String("path", cfg.Tracking.RecordsFile))
		return &core.StaticSource{Records: records}, nil

	default:
		opts := []opensky.Option{
			opensky.WithRadius(cfg.Tracking.RadiusKm),
			opensky.WithTimeout(cfg.OpenSky.Timeout),
			opensky.WithMaxTries(cfg.OpenSky.MaxTries),
			opensky.WithLogger(log),
		}
		if cfg.OpenSky.ClientID != "" {
			opts = append(opts, opensky.WithCredentials(opensky.Credentials{
				ClientID:     cfg.OpenSky.ClientID,
				ClientSecret: cfg.OpenSky.ClientSecret,
				TokenURL:     cfg.OpenSky.TokenURL,
			}))
		}
		return opensky.New(cfg.OpenSky.BaseURL, opts...), nil
	}
}

// readRecords loads a JSON array of track records.
func readRecords(path string) ([]model.TrackRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	var records []model.TrackRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", model.ErrInvalidInput, path, err)
	}
	return records, nil
}

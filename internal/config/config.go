// Package config loads skywatch settings from defaults, an optional YAML
// file and SKYWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/internal/observability"
	"github.com/signalsfoundry/skywatch/model"
)

// EnvPrefix is prepended to every environment override, e.g.
// SKYWATCH_TRACKING_INTERVAL.
const EnvPrefix = "SKYWATCH"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Batch sources selectable through tracking.source.
const (
	SourceOpenSky = "opensky"
	SourceOrbital = "orbital"
	SourceStatic  = "static"
)

// Observer stores.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config is the fully resolved application configuration.
type Config struct {
	Observer ObserverConfig `mapstructure:"observer"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Moon     MoonConfig     `mapstructure:"moon"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Store    StoreConfig    `mapstructure:"store"`
	OpenSky  OpenSkyConfig  `mapstructure:"opensky"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ObserverConfig seeds the observer when the store holds none.
type ObserverConfig struct {
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	Altitude  float64 `mapstructure:"altitude"`
	Date      string  `mapstructure:"date"`

	// Set is true when both latitude and longitude were supplied.
	Set bool `mapstructure:"-"`
}

// TrackingConfig controls the aircraft polling loop and reconciler.
type TrackingConfig struct {
	Source              string        `mapstructure:"source"`
	RadiusKm            float64       `mapstructure:"radius_km"`
	Interval            time.Duration `mapstructure:"interval"`
	MaxTrail            int           `mapstructure:"max_trail"`
	MissedCycles        int           `mapstructure:"missed_cycles"`
	Lookahead           time.Duration `mapstructure:"lookahead"`
	TransitThresholdDeg float64       `mapstructure:"transit_threshold_deg"`
	TLEFile             string        `mapstructure:"tle_file"`
	RecordsFile         string        `mapstructure:"records_file"`
}

// MoonConfig controls the moon refresh loop.
type MoonConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StoreConfig selects where the observer is persisted.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// OpenSkyConfig points the OpenSky client at its API and token endpoint.
// Credentials are optional; anonymous access is rate limited upstream.
type OpenSkyConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxTries     uint          `mapstructure:"max_tries"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tracking.source", SourceOpenSky)
	v.SetDefault("tracking.radius_km", 50.0)
	v.SetDefault("tracking.interval", 10*time.Second)
	v.SetDefault("tracking.max_trail", 3)
	v.SetDefault("tracking.missed_cycles", 0)
	v.SetDefault("tracking.lookahead", 30*time.Second)
	v.SetDefault("tracking.transit_threshold_deg", 0.35)
	v.SetDefault("tracking.tle_file", "")
	v.SetDefault("tracking.records_file", "")

	v.SetDefault("moon.interval", time.Minute)

	v.SetDefault("http.address", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)

	v.SetDefault("store.driver", StoreFile)
	v.SetDefault("store.path", "skywatch-observer.json")

	v.SetDefault("opensky.base_url", "https://opensky-network.org/api")
	v.SetDefault("opensky.token_url", "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token")
	v.SetDefault("opensky.client_id", "")
	v.SetDefault("opensky.client_secret", "")
	v.SetDefault("opensky.timeout", 10*time.Second)
	v.SetDefault("opensky.max_tries", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "skywatch")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load resolves the configuration held by v. A nil v reads defaults and the
// environment only. When the "config" key names a file it is read first.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Observer keys have no defaults so IsSet can tell whether they were
	// supplied; bind them explicitly for Unmarshal to see the environment.
	for _, key := range []string{"observer.latitude", "observer.longitude", "observer.altitude", "observer.date"} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Observer.Set = v.IsSet("observer.latitude") && v.IsSet("observer.longitude")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations, reporting every problem at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Observer.Set {
		if _, err := c.Observer.Model(); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Tracking.Source {
	case SourceOpenSky:
	case SourceStatic:
		if c.Tracking.RecordsFile == "" {
			add("tracking.records_file is required for the static source")
		}
	case SourceOrbital:
		if c.Tracking.TLEFile == "" {
			add("tracking.tle_file is required for the orbital source")
		}
	default:
		add("tracking.source %q must be one of opensky, orbital, static", c.Tracking.Source)
	}
	if c.Tracking.RadiusKm <= 0 {
		add("tracking.radius_km must be positive, got %v", c.Tracking.RadiusKm)
	}
	if c.Tracking.Interval <= 0 {
		add("tracking.interval must be positive, got %v", c.Tracking.Interval)
	}
	if c.Tracking.MaxTrail < 1 {
		add("tracking.max_trail must be at least 1, got %d", c.Tracking.MaxTrail)
	}
	if c.Tracking.MissedCycles < 0 {
		add("tracking.missed_cycles must not be negative, got %d", c.Tracking.MissedCycles)
	}
	if c.Tracking.Lookahead < 0 {
		add("tracking.lookahead must not be negative, got %v", c.Tracking.Lookahead)
	}
	if c.Tracking.TransitThresholdDeg <= 0 {
		add("tracking.transit_threshold_deg must be positive, got %v", c.Tracking.TransitThresholdDeg)
	}
	if c.Moon.Interval <= 0 {
		add("moon.interval must be positive, got %v", c.Moon.Interval)
	}
	if c.HTTP.Address == "" {
		add("http.address is required")
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreFile, StoreSQLite:
		if c.Store.Path == "" {
			add("store.path is required for the %s driver", c.Store.Driver)
		}
	default:
		add("store.driver %q must be one of file, sqlite, memory", c.Store.Driver)
	}

	if c.Tracking.Source == SourceOpenSky {
		if c.OpenSky.BaseURL == "" {
			add("opensky.base_url is required")
		}
		if (c.OpenSky.ClientID == "") != (c.OpenSky.ClientSecret == "") {
			add("opensky.client_id and opensky.client_secret must be set together")
		}
		if c.OpenSky.ClientID != "" && c.OpenSky.TokenURL == "" {
			add("opensky.token_url is required with client credentials")
		}
		if c.OpenSky.MaxTries < 1 {
			add("opensky.max_tries must be at least 1")
		}
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		add("tracing.sample_ratio %v outside [0,1]", c.Tracing.SampleRatio)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Model converts the seed into a validated observer.
func (o ObserverConfig) Model() (model.Observer, error) {
	obs, err := model.NewObserver(o.Latitude, o.Longitude, o.Altitude)
	if err != nil {
		return model.Observer{}, fmt.Errorf("observer: %w", err)
	}
	obs.ObservationDate = o.Date
	return obs, nil
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// TracingSettings returns the tracer provider configuration.
func (c Config) TracingSettings() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}

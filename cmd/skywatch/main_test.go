package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/skywatch/internal/config"
	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/model"
)

const staticRecords = `[
  {"id": "4ca123", "callsign": "EIN154", "latitudeDeg": 51.52, "longitudeDeg": -0.10, "altitudeM": 3000},
  {"id": "400abc", "callsign": "BAW12", "latitudeDeg": 51.45, "longitudeDeg": -0.20, "altitudeM": 9000}
]`

func staticConfig(t *testing.T) config.Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "records.json")
	if err := os.WriteFile(path, []byte(staticRecords), 0o600); err != nil {
		t.Fatalf("write records: %v", err)
	}

	v := viper.New()
	v.Set("tracking.source", config.SourceStatic)
	v.Set("tracking.records_file", path)
	v.Set("store.driver", config.StoreMemory)
	v.Set("observer.latitude", 51.5)
	v.Set("observer.longitude", -0.12)
	v.Set("observer.altitude", 20)
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestServeStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	base := "http://" + lis.Addr().String()

	cfg := staticConfig(t)
	log := logging.New(logging.Config{Level: "warn", Format: "text"})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, lis, serveOptions{AutoTrack: true, Registry: prometheus.NewRegistry()})
	}()

	waitHealthy(t, base)

	var obs model.ObserverPayload
	getJSON(t, base+"/api/observer", http.StatusOK, &obs)
	if obs.Latitude != 51.5 || obs.Longitude != -0.12 {
		t.Fatalf("observer = %+v, want the configured seed", obs)
	}

	var status struct {
		Tracking bool `json:"tracking"`
	}
	getJSON(t, base+"/api/tracking", http.StatusOK, &status)
	if !status.Tracking {
		t.Fatalf("tracking should have started with the server")
	}

	var entity model.Entity
	getJSON(t, base+"/api/entities/4ca123", http.StatusOK, &entity)
	if entity.Callsign != "EIN154" {
		t.Fatalf("entity = %+v", entity)
	}

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	if !strings.Contains(body.String(), "skywatch_tracked_objects 2") {
		t.Fatalf("metrics missing tracked objects:\n%s", body.String())
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}

func TestRunRejectsUnreadableRecords(t *testing.T) {
	cfg := staticConfig(t)
	cfg.Tracking.RecordsFile = filepath.Join(t.TempDir(), "missing.json")

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	err = run(context.Background(), cfg, logging.Noop(), lis, serveOptions{Registry: prometheus.NewRegistry()})
	if err == nil || !strings.Contains(err.Error(), "read records") {
		t.Fatalf("err = %v, want a records error", err)
	}
}

func TestMoonCommandPrintsRange(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"moon",
		"--lat", "40.7", "--lon", "-74.0",
		"--at", "2024-01-01T00:00:00Z",
		"--until", "2024-01-01T02:00:00Z",
		"--step", "1h",
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("moon: %v", err)
	}

	dec := json.NewDecoder(&out)
	var states []model.MoonState
	for dec.More() {
		var s model.MoonState
		if err := dec.Decode(&s); err != nil {
			t.Fatalf("decode: %v", err)
		}
		states = append(states, s)
	}
	if len(states) != 3 {
		t.Fatalf("got %d states, want 3", len(states))
	}
	if !states[2].At.Equal(time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)) {
		t.Fatalf("last state at %v", states[2].At)
	}
	for _, s := range states {
		if s.RangeM < 3.5e8 || s.RangeM > 4.1e8 {
			t.Fatalf("moon range %v m out of bounds", s.RangeM)
		}
	}
}

func TestMoonCommandNeedsObserver(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"moon"})
	if err := root.Execute(); !errors.Is(err, model.ErrMissingObserver) {
		t.Fatalf("err = %v, want ErrMissingObserver", err)
	}
}

func TestConvertCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"convert", "--lat", "0", "--lon", "0", "--az", "90", "--el", "0", "--range", "1000"})
	if err := root.Execute(); err != nil {
		t.Fatalf("convert: %v", err)
	}

	var got conversion
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if got.Compass != "E" || got.Category != model.AltitudeLow {
		t.Fatalf("conversion = %+v", got)
	}
	if got.Geodetic.LongitudeDeg <= 0 || got.Geodetic.LongitudeDeg > 0.01 {
		t.Fatalf("longitude = %v, want slightly east of 0", got.Geodetic.LongitudeDeg)
	}
}

func TestConvertCommandToPolar(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"convert", "--lat", "0", "--lon", "0", "--target-lat", "0", "--target-lon", "0", "--target-alt", "10000"})
	if err := root.Execute(); err != nil {
		t.Fatalf("convert: %v", err)
	}

	var got conversion
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if got.Position.ElevationDeg < 89.9 || got.Category != model.AltitudeHigh {
		t.Fatalf("target straight up reported as %+v", got.Position)
	}
	if got.Position.RangeM < 9999 || got.Position.RangeM > 10001 {
		t.Fatalf("range = %v, want 10 km", got.Position.RangeM)
	}
}

func waitHealthy(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server at %s never became healthy", base)
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

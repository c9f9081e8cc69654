package opensky

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/skywatch/model"
)

const sampleStates = `{
  "time": 1717000000,
  "states": [
    ["4b1814", "SWR123  ", "Switzerland", 1717000000, 1717000000, 8.55, 47.45, 10972.8, false, 231.5, 87.2, -3.25, null, 11010.9, "1000", false, 0],
    ["3c6444", "", "Germany", null, 1717000000, 8.60, 47.50, null, false, 120.0, null, null, null, 3048.0, null, false, 0],
    ["a0b1c2", "NOPOS", "United States", null, 1717000000, null, null, null, true, 0, 0, 0, null, null, null, false, 0],
    ["short"]
  ]
}`

func fastBackOff() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

func zurich(t *testing.T) model.Observer {
	t.Helper()
	obs, err := model.NewObserver(47.46, 8.55, 432)
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	return obs
}

func TestDecodeStates(t *testing.T) {
	records, err := DecodeStates([]byte(sampleStates))
	if err != nil {
		t.Fatalf("DecodeStates: %v", err)
	}
	speed, heading, vrate := 231.5, 87.2, -3.25
	first := model.GeodeticRecord("4b1814", 47.45, 8.55, 10972.8)
	first.Callsign = "SWR123"
	first.SpeedMps, first.HeadingDeg, first.VerticalRateMps = &speed, &heading, &vrate

	slow := 120.0
	second := model.GeodeticRecord("3c6444", 47.50, 8.60, 3048.0)
	second.Callsign = UnknownCallsign
	second.SpeedMps = &slow

	if diff := cmp.Diff([]model.TrackRecord{first, second}, records); diff != "" {
		t.Fatalf("decoded records mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeStatesEdgeCases(t *testing.T) {
	records, err := DecodeStates([]byte(`{"time": 1, "states": null}`))
	if err != nil || records == nil || len(records) != 0 {
		t.Fatalf("null states = %v, %v; want empty batch", records, err)
	}
	if _, err := DecodeStates([]byte(`{"states": [`)); !errors.Is(err, model.ErrFetchFailure) {
		t.Fatalf("truncated body err = %v", err)
	}
	if _, err := DecodeStates([]byte(`{"states": "nope"}`)); !errors.Is(err, model.ErrFetchFailure) {
		t.Fatalf("non-array states err = %v", err)
	}
}

func TestFetchQueriesBoundingBox(t *testing.T) {
	var query atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/states/all" {
			http.NotFound(w, r)
			return
		}
		query.Store(r.URL.Query())
		fmt.Fprint(w, sampleStates)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRadius(111.1), WithBackOff(fastBackOff))
	obs := zurich(t)
	obs.ObservationDate = "2024-05-29T16:00"

	records, err := c.Fetch(context.Background(), obs)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	q := query.Load().(url.Values)
	lamin, _ := strconv.ParseFloat(q["lamin"][0], 64)
	lamax, _ := strconv.ParseFloat(q["lamax"][0], 64)
	if d := lamax - lamin; d < 1.999 || d > 2.001 {
		t.Fatalf("latitude span = %v, want 2 degrees for 111.1 km", d)
	}
	want := time.Date(2024, 5, 29, 16, 0, 0, 0, time.UTC).Unix()
	if q["time"][0] != strconv.FormatInt(want, 10) {
		t.Fatalf("time = %v, want %d", q["time"], want)
	}
}

func TestFetchSplitsAtAntimeridian(t *testing.T) {
	var mu sync.Mutex
	var windows [][2]float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lomin, _ := strconv.ParseFloat(q.Get("lomin"), 64)
		lomax, _ := strconv.ParseFloat(q.Get("lomax"), 64)
		mu.Lock()
		windows = append(windows, [2]float64{lomin, lomax})
		mu.Unlock()
		if lomin >= 0 {
			fmt.Fprint(w, `{"states": [["e1", "EAST", "", null, 1, 179.5, 0.1, 9000, false, 200, 90, 0, null, null, null, false, 0],
				["both", "EDGE", "", null, 1, 180, 0.2, 9000, false, 200, 90, 0, null, null, null, false, 0]]}`)
			return
		}
		fmt.Fprint(w, `{"states": [["w1", "WEST", "", null, 1, -179.5, -0.1, 9000, false, 200, 270, 0, null, null, null, false, 0],
			["both", "EDGE", "", null, 1, -180, 0.2, 9000, false, 200, 90, 0, null, null, null, false, 0]]}`)
	}))
	defer srv.Close()

	obs, err := model.NewObserver(0, 179.9, 0)
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	c := New(srv.URL, WithRadius(111.1), WithBackOff(fastBackOff))
	if urls := c.StatesURLs(obs); len(urls) != 2 {
		t.Fatalf("StatesURLs = %v, want one query per side", urls)
	}

	records, err := c.Fetch(context.Background(), obs)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got := make([]string, 0, len(records))
	for _, r := range records {
		got = append(got, r.ID)
	}
	if diff := cmp.Diff([]string{"e1", "both", "w1"}, got); diff != "" {
		t.Fatalf("merged ids (-want +got):\n%s", diff)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, w := range windows {
		if w[0] < -180 || w[1] > 180 || w[0] >= w[1] {
			t.Fatalf("query window [%v, %v] leaves the valid longitude range", w[0], w[1])
		}
	}
	if len(windows) != 2 || windows[0][1] != 180 || windows[1][0] != -180 {
		t.Fatalf("windows = %v, want [.., 180] then [-180, ..]", windows)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, sampleStates)
	}))
	defer srv.Close()

	c := New(srv.URL, WithMaxTries(3), WithBackOff(fastBackOff))
	records, err := c.Fetch(context.Background(), zurich(t))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if hits.Load() != 3 || len(records) != 2 {
		t.Fatalf("hits = %d records = %d", hits.Load(), len(records))
	}
}

func TestFetchFailures(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantHits int32
	}{
		{name: "exhausted", status: http.StatusBadGateway, body: "down", wantHits: 2},
		{name: "client error is permanent", status: http.StatusBadRequest, body: "bad box", wantHits: 1},
		{name: "malformed body is permanent", status: http.StatusOK, body: `{"states": [`, wantHits: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			c := New(srv.URL, WithMaxTries(2), WithBackOff(fastBackOff))
			_, err := c.Fetch(context.Background(), zurich(t))
			if !errors.Is(err, model.ErrFetchFailure) {
				t.Fatalf("err = %v, want ErrFetchFailure", err)
			}
			if hits.Load() != tc.wantHits {
				t.Fatalf("hits = %d, want %d", hits.Load(), tc.wantHits)
			}
		})
	}
}

func TestFetchUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := New(addr, WithMaxTries(1), WithBackOff(fastBackOff))
	if _, err := c.Fetch(context.Background(), zurich(t)); !errors.Is(err, model.ErrFetchFailure) {
		t.Fatalf("err = %v, want ErrFetchFailure", err)
	}
}

func TestFetchUsesClientCredentials(t *testing.T) {
	var tokenHits atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenHits.Add(1)
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"sky-token","token_type":"bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sky-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, sampleStates)
	}))
	defer srv.Close()

	c := New(srv.URL, WithBackOff(fastBackOff), WithCredentials(Credentials{
		ClientID:     "observer",
		ClientSecret: "secret",
		TokenURL:     tokenSrv.URL,
	}))
	for i := 0; i < 2; i++ {
		if _, err := c.Fetch(context.Background(), zurich(t)); err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
	}
	if tokenHits.Load() != 1 {
		t.Fatalf("token endpoint hit %d times, want 1 (cached)", tokenHits.Load())
	}
}

func TestFetchRejectsInvalidObserver(t *testing.T) {
	c := New("http://127.0.0.1:0")
	obs := model.Observer{GeodeticPoint: model.GeodeticPoint{LatitudeDeg: 120}}
	if _, err := c.Fetch(context.Background(), obs); !errors.Is(err, model.ErrMissingObserver) {
		t.Fatalf("err = %v, want ErrMissingObserver", err)
	}
}

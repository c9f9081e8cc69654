// Package opensky fetches live aircraft state vectors from the OpenSky
// Network REST API and exposes them as a core.BatchSource.
package opensky

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/model"
)

// DefaultBaseURL is the public OpenSky REST endpoint.
const DefaultBaseURL = "https://opensky-network.org/api"

// maxBodyBytes bounds a single states response.
const maxBodyBytes = 16 << 20

// Credentials enable OAuth2 client-credentials authentication.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Client queries /states/all for the bounding box around an observer.
type Client struct {
	baseURL    string
	base       *http.Client
	http       *http.Client
	creds      *Credentials
	radiusKm   float64
	timeout    time.Duration
	maxTries   uint
	newBackOff func() backoff.BackOff
	logger     logging.Logger
}

var _ core.BatchSource = (*Client)(nil)

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.base = hc }
}

// WithCredentials authenticates requests with a bearer token obtained via
// the client-credentials grant. Tokens are cached until expiry.
func WithCredentials(creds Credentials) Option {
	return func(c *Client) {
		if creds.ClientID == "" {
			return
		}
		c.creds = &creds
	}
}

// WithRadius sets the query radius around the observer in kilometres.
func WithRadius(km float64) Option {
	return func(c *Client) {
		if km > 0 {
			c.radiusKm = km
		}
	}
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxTries bounds the attempts per Fetch, including the first.
func WithMaxTries(n uint) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTries = n
		}
	}
}

// WithBackOff sets the retry delay policy. fn is called once per window
// query.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) {
		if fn != nil {
			c.newBackOff = fn
		}
	}
}

// WithLogger sets the logger for retry notices.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New constructs a Client. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		base:     http.DefaultClient,
		radiusKm: 50,
		timeout:  10 * time.Second,
		maxTries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		logger: logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.http = c.base
	if c.creds != nil {
		cc := clientcredentials.Config{
			ClientID:     c.creds.ClientID,
			ClientSecret: c.creds.ClientSecret,
			TokenURL:     c.creds.TokenURL,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.base)
		c.http = cc.Client(ctx)
	}
	return c
}

// StatesURLs builds the /states/all queries for observer, one per side of
// the antimeridian the query window touches. A pinned observation date is
// forwarded as the "time" parameter.
func (c *Client) StatesURLs(observer model.Observer) []string {
	box := core.BoundingBoxAround(observer.GeodeticPoint, c.radiusKm)
	windows := box.Windows()
	urls := make([]string, 0, len(windows))
	for _, w := range windows {
		q := url.Values{}
		q.Set("lamin", formatDeg(w.LatMin))
		q.Set("lomin", formatDeg(w.LonMin))
		q.Set("lamax", formatDeg(w.LatMax))
		q.Set("lomax", formatDeg(w.LonMax))
		if t, ok := observer.ObservationTime(); ok {
			q.Set("time", strconv.FormatInt(t.Unix(), 10))
		}
		urls = append(urls, c.baseURL+"/states/all?"+q.Encode())
	}
	return urls
}

// Fetch satisfies core.BatchSource. Transport, status and decoding failures
// wrap model.ErrFetchFailure; an invalid observer wraps
// model.ErrMissingObserver. Windows on both sides of the antimeridian are
// merged into one batch, keeping the first record seen per aircraft.
func (c *Client) Fetch(ctx context.Context, observer model.Observer) ([]model.TrackRecord, error) {
	if err := observer.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrMissingObserver, err)
	}
	log := logging.FromContext(ctx, c.logger)

	var records []model.TrackRecord
	seen := make(map[string]struct{})
	for _, endpoint := range c.StatesURLs(observer) {
		batch, err := c.fetchWindow(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrFetchFailure, err)
		}
		for _, rec := range batch {
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
			records = append(records, rec)
		}
	}
	if records == nil {
		records = []model.TrackRecord{}
	}
	log.Debug(ctx, "opensky states fetched", logging.Int("records", len(records)))
	return records, nil
}

// fetchWindow retries a single window query.
func (c *Client) fetchWindow(ctx context.Context, endpoint string) ([]model.TrackRecord, error) {
	log := logging.FromContext(ctx, c.logger)
	op := func() ([]model.TrackRecord, error) {
		return c.fetchOnce(ctx, endpoint)
	}
	notify := func(err error, next time.Duration) {
		log.Warn(ctx, "opensky request failed; retrying",
			logging.Err(err), logging.Duration("retry_in", next))
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(notify),
	)
}

func (c *Client) fetchOnce(ctx context.Context, endpoint string) ([]model.TrackRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			return nil, backoff.Permanent(fmt.Errorf("token request rejected: %w", err))
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, perr := strconv.Atoi(resp.Header.Get("X-Rate-Limit-Retry-After-Seconds")); perr == nil && secs > 0 {
			return nil, backoff.RetryAfter(secs)
		}
		return nil, fmt.Errorf("opensky rate limited: %s", resp.Status)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("opensky server error: %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("opensky returned %s", resp.Status))
	}

	records, err := DecodeStates(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return records, nil
}

func formatDeg(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

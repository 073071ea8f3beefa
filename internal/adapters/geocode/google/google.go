// Package google resolves addresses with the Google Maps Geocoding API
package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	perr "enrichd/internal/platform/errors"
	"enrichd/internal/platform/logger"

	"golang.org/x/time/rate"
)

const (
	baseURLDefault   = "https://maps.googleapis.com/maps/api/geocode/json"
	defaultTimeout   = 10 * time.Second
	defaultRPS       = 10.0
	defaultMaxRetry  = 3
	defaultRetryBase = 500 * time.Millisecond
	maxBody          = 1 << 20
)

// API status values
const (
	StatusOK             = "OK"
	StatusZeroResults    = "ZERO_RESULTS"
	StatusOverQueryLimit = "OVER_QUERY_LIMIT"
	StatusUnknownError   = "UNKNOWN_ERROR"
)

// Options configures the Client
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// RPS and Burst shape the outgoing request rate
	RPS   float64
	Burst int

	MaxRetries int
	RetryBase  time.Duration
}

// Client implements geo.Geocoder
type Client struct {
	http    *http.Client
	opts    Options
	limiter *rate.Limiter
	log     logger.Logger
	sleep   func(time.Duration)
}

// New creates a Client with defaults filled in
func New(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = baseURLDefault
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.RPS <= 0 {
		o.RPS = defaultRPS
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetry
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	return &Client{
		http:    &http.Client{Timeout: o.Timeout},
		opts:    o,
		limiter: rate.NewLimiter(rate.Limit(o.RPS), o.Burst),
		log:     *logger.Named("geocode"),
		sleep:   time.Sleep,
	}
}

type response struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Geometry struct {
			Location struct {
				Lat *float64 `json:"lat"`
				Lng *float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode returns the first result's location. ZERO_RESULTS and a first result
// without coordinates are a clean miss; quota and server errors are retried
func (c *Client) Geocode(ctx context.Context, address string) (float64, float64, bool, error) {
	q := url.Values{}
	q.Set("address", address)
	if c.opts.APIKey != "" {
		q.Set("key", c.opts.APIKey)
	}
	target := c.opts.BaseURL + "?" + q.Encode()

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, 0, false, err
		}
		lat, lng, ok, err := c.lookup(ctx, target)
		if err == nil || ctx.Err() != nil || !perr.Retryable(err) || attempt >= c.opts.MaxRetries {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return lat, lng, ok, err
		}
		back := c.backoff(attempt)
		c.log.Warn().Err(err).Dur("retry_in", back).Int("attempt", attempt).Msg("geocode: retrying")
		c.sleep(back)
	}
}

// lookup makes one request. Retryable failures carry ErrorCodeUnavailable or
// ErrorCodeTooManyRequests
func (c *Client) lookup(ctx context.Context, target string) (float64, float64, bool, error) {
	body, status, err := c.get(ctx, target)
	switch {
	case err != nil:
		return 0, 0, false, err
	case status == http.StatusTooManyRequests:
		return 0, 0, false, perr.Newf(perr.ErrorCodeTooManyRequests, "geocode: status %d", status)
	case status >= 500:
		return 0, 0, false, perr.Unavailablef("geocode: status %d", status)
	case status != http.StatusOK:
		return 0, 0, false, perr.Newf(perr.ErrorCodeUnknown, "geocode: unexpected status %d", status)
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return 0, 0, false, perr.Wrap(err, perr.ErrorCodeJSON, "geocode: malformed response")
	}
	switch r.Status {
	case StatusOK:
		if len(r.Results) == 0 {
			return 0, 0, false, nil
		}
		loc := r.Results[0].Geometry.Location
		if loc.Lat == nil || loc.Lng == nil {
			return 0, 0, false, nil
		}
		return *loc.Lat, *loc.Lng, true, nil
	case StatusZeroResults:
		return 0, 0, false, nil
	case StatusOverQueryLimit, StatusUnknownError:
		return 0, 0, false, perr.Newf(perr.ErrorCodeTooManyRequests, "geocode: %s", r.Status)
	}
	return 0, 0, false, perr.InvalidArgf("geocode: %s %s", r.Status, r.ErrorMessage)
}

func (c *Client) get(ctx context.Context, target string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, perr.Wrapf(err, perr.ErrorCodeUnknown, "geocode: new request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, perr.Wrapf(err, perr.ErrorCodeUnavailable, "geocode: request failed")
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, resp.StatusCode, perr.Wrapf(err, perr.ErrorCodeUnavailable, "geocode: read body")
	}
	return body, resp.StatusCode, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	return min(c.opts.RetryBase<<uint(attempt), 30*time.Second)
}

package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	perr "enrichd/internal/platform/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c := New(Options{BaseURL: srv.URL, APIKey: "k", RPS: 1000, MaxRetries: 2, RetryBase: time.Millisecond})
	c.sleep = func(time.Duration) {}
	return c, &calls
}

func TestGeocodeFirstResult(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("address") != "Madrid" || r.URL.Query().Get("key") != "k" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"status":"OK","results":[
			{"geometry":{"location":{"lat":40.4167,"lng":-3.7033}}},
			{"geometry":{"location":{"lat":1,"lng":1}}}]}`))
	})
	lat, lon, ok, err := c.Geocode(context.Background(), "Madrid")
	if err != nil || !ok {
		t.Fatalf("Geocode = ok %v err %v", ok, err)
	}
	if lat != 40.4167 || lon != -3.7033 {
		t.Fatalf("Geocode = %v,%v", lat, lon)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestGeocodeZeroResults(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	})
	_, _, ok, err := c.Geocode(context.Background(), "Unknown City")
	if ok || err != nil {
		t.Fatalf("Geocode = ok %v err %v, want a clean miss", ok, err)
	}
}

func TestGeocodeMissingCoordinates(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","results":[{"geometry":{}}]}`))
	})
	_, _, ok, err := c.Geocode(context.Background(), "Nowhere")
	if ok || err != nil {
		t.Fatalf("Geocode = ok %v err %v, want a clean miss", ok, err)
	}
}

func TestGeocodeRetriesQuota(t *testing.T) {
	var n atomic.Int32
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if n.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"status":"OVER_QUERY_LIMIT"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK","results":[{"geometry":{"location":{"lat":1.5,"lng":2.5}}}]}`))
	})
	lat, lon, ok, err := c.Geocode(context.Background(), "Bilbao")
	if err != nil || !ok || lat != 1.5 || lon != 2.5 {
		t.Fatalf("Geocode = %v,%v ok %v err %v", lat, lon, ok, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestGeocodeGivesUp(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, _, ok, err := c.Geocode(context.Background(), "Lisboa")
	if ok || err == nil {
		t.Fatalf("Geocode = ok %v err %v, want an error", ok, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestGeocodeDenied(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"bad key"}`))
	})
	if _, _, _, err := c.Geocode(context.Background(), "x"); !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("Geocode err = %v, want invalid argument on REQUEST_DENIED", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("denied requests should not be retried, calls = %d", calls.Load())
	}
}

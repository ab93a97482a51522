package geo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdeAdecodes/short/internal/cache"
)

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func deref(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"city and country", 200, `{"success":true,"city":"Mountain View","country":"United States"}`, "Mountain View, United States"},
		{"country only", 200, `{"success":true,"city":"","country":"Nigeria"}`, "Nigeria"},
		{"nothing known", 200, `{"success":true}`, "<nil>"},
		{"reserved range", 200, `{"success":false,"message":"Reserved range"}`, "<nil>"},
		{"server error", 500, `oops`, "<nil>"},
		{"malformed json", 200, `{"success":tru`, "<nil>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			r := NewHTTPResolver(Options{Endpoint: srv.URL + "/%s", Timeout: time.Second})

			got := r.Resolve(context.Background(), "8.8.8.8")
			if deref(got) != tt.want {
				t.Errorf("Resolve = %s, want %s", deref(got), tt.want)
			}
			if hits.Load() != 1 {
				t.Errorf("hits = %d, want 1", hits.Load())
			}
		})
	}
}

func TestResolveSendsAddressInPath(t *testing.T) {
	paths := make(chan string, 1)
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		fmt.Fprint(w, `{"success":true,"country":"Ghana"}`)
	})
	r := NewHTTPResolver(Options{Endpoint: srv.URL + "/lookup/%s", Timeout: time.Second})
	r.Resolve(context.Background(), " 41.66.0.1 ")
	if path := <-paths; path != "/lookup/41.66.0.1" {
		t.Errorf("path = %q", path)
	}
}

func TestResolveEmptyAddress(t *testing.T) {
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {})
	r := NewHTTPResolver(Options{Endpoint: srv.URL + "/%s"})
	if got := r.Resolve(context.Background(), ""); got != nil {
		t.Errorf("Resolve(\"\") = %s", *got)
	}
	if hits.Load() != 0 {
		t.Error("empty address reached the service")
	}
}

func TestResolveTimeout(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	r := NewHTTPResolver(Options{Endpoint: srv.URL + "/%s", Timeout: 50 * time.Millisecond})

	start := time.Now()
	got := r.Resolve(context.Background(), "8.8.8.8")
	if got != nil {
		t.Errorf("Resolve = %s, want nil", *got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Resolve took %v, deadline not enforced", elapsed)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	r := NewHTTPResolver(Options{
		Endpoint:        srv.URL + "/%s",
		Timeout:         time.Second,
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
	})

	for i := 0; i < 5; i++ {
		if got := r.Resolve(context.Background(), "8.8.8.8"); got != nil {
			t.Fatalf("Resolve = %s, want nil", *got)
		}
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("service hit %d times, want 2 before the breaker opened", n)
	}
}

func TestUnknownLocationDoesNotTripBreaker(t *testing.T) {
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"message":"Invalid IP address"}`)
	})
	r := NewHTTPResolver(Options{Endpoint: srv.URL + "/%s", BreakerFailures: 1, BreakerCooldown: time.Hour})

	for i := 0; i < 3; i++ {
		r.Resolve(context.Background(), fmt.Sprintf("10.0.0.%d", i))
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("hits = %d, want 3", n)
	}
}

func TestResolveUsesCache(t *testing.T) {
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"city":"Berlin","country":"Germany"}`)
	})
	r := NewHTTPResolver(Options{
		Endpoint: srv.URL + "/%s",
		Cache:    cache.NewMemoryGeo(time.Minute, 0),
	})

	for i := 0; i < 3; i++ {
		if got := deref(r.Resolve(context.Background(), "5.9.0.1")); got != "Berlin, Germany" {
			t.Fatalf("Resolve = %s", got)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("hits = %d, want 1", n)
	}
}

func TestFailuresAreNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"success":true,"country":"Kenya"}`)
	})
	r := NewHTTPResolver(Options{Endpoint: srv.URL + "/%s", Cache: cache.NewMemoryGeo(time.Minute, 0)})

	if got := r.Resolve(context.Background(), "41.90.0.1"); got != nil {
		t.Fatalf("Resolve = %s, want nil", *got)
	}
	fail.Store(false)
	if got := deref(r.Resolve(context.Background(), "41.90.0.1")); got != "Kenya" {
		t.Errorf("Resolve after recovery = %s, want Kenya", got)
	}
}

// slowCache stalls reads until the caller gives up.
type slowCache struct{}

func (slowCache) Get(ctx context.Context, _ string) (*string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return nil, cache.ErrMiss
	}
}

func (slowCache) Set(context.Context, string, *string) error { return nil }

func TestSlowCacheCountsAgainstDeadline(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"country":"Kenya"}`)
	})
	r := NewHTTPResolver(Options{Endpoint: srv.URL + "/%s", Timeout: 100 * time.Millisecond, Cache: slowCache{}})

	start := time.Now()
	r.Resolve(context.Background(), "41.90.0.1")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Resolve took %v with a stalled cache", elapsed)
	}
}

func TestFormatLocation(t *testing.T) {
	tests := []struct {
		city, country, want string
	}{
		{"Lagos", "Nigeria", "Lagos, Nigeria"},
		{" ", "Nigeria", "Nigeria"},
		{"Lagos", "", "<nil>"},
		{"", "", "<nil>"},
	}
	for _, tt := range tests {
		if got := deref(FormatLocation(tt.city, tt.country)); got != tt.want {
			t.Errorf("FormatLocation(%q, %q) = %s, want %s", tt.city, tt.country, got, tt.want)
		}
	}
}

func TestNoop(t *testing.T) {
	if got := (Noop{}).Resolve(context.Background(), "8.8.8.8"); got != nil {
		t.Errorf("Noop.Resolve = %s", *got)
	}
}

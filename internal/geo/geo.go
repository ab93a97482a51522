// Package geo turns a client address into a coarse "City, Country" location.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/AdeAdecodes/short/internal"
	"github.com/AdeAdecodes/short/internal/cache"
	"github.com/AdeAdecodes/short/internal/logger"
	"github.com/AdeAdecodes/short/internal/metrics"
)

// Resolver never fails: any problem yields a nil location.
type Resolver interface {
	Resolve(ctx context.Context, addr string) *string
}

// Cache stores answers, including "no location" as nil. Get returns
// cache.ErrMiss when nothing is stored.
type Cache interface {
	Get(ctx context.Context, addr string) (*string, error)
	Set(ctx context.Context, addr string, location *string) error
}

// Noop is used when geolocation is disabled.
type Noop struct{}

func (Noop) Resolve(context.Context, string) *string { return nil }

type Options struct {
	// Endpoint has a single %s for the address, e.g. "https://ipwho.is/%s".
	Endpoint        string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Client          *http.Client
	Cache           Cache
}

type HTTPResolver struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	cache    Cache
	breaker  *gobreaker.CircuitBreaker[*string]
}

func NewHTTPResolver(opts Options) *HTTPResolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}

	failures := opts.BreakerFailures
	r := &HTTPResolver{
		endpoint: opts.Endpoint,
		timeout:  opts.Timeout,
		client:   opts.Client,
		cache:    opts.Cache,
	}
	r.breaker = gobreaker.NewCircuitBreaker[*string](gobreaker.Settings{
		Name:        "geo",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.GeoBreakerState.Set(breakerStateValue(to))
			logger.Default().Warn("geo circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return r
}

func (r *HTTPResolver) Resolve(ctx context.Context, addr string) *string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	log := logger.FromContext(ctx)

	// One deadline covers the cache read and the remote call.
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.cache != nil {
		loc, err := r.cache.Get(ctx, addr)
		if err == nil {
			metrics.RecordGeoLookup("cached", 0)
			return loc
		}
		if !errors.Is(err, cache.ErrMiss) {
			log.Warn("geo cache read failed", "addr", addr, "err", err)
		}
	}

	start := time.Now()
	loc, err := r.breaker.Execute(func() (*string, error) {
		return r.lookup(ctx, addr)
	})
	elapsed := time.Since(start)
	if err != nil {
		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "breaker_open"
			elapsed = 0
		}
		metrics.RecordGeoLookup(result, elapsed)
		log.Warn("geo lookup failed", "addr", addr, "err", fmt.Errorf("%w: %v", internal.ErrDependencyUnavailable, err))
		return nil
	}

	if loc == nil {
		metrics.RecordGeoLookup("unknown", elapsed)
	} else {
		metrics.RecordGeoLookup("resolved", elapsed)
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, addr, loc); err != nil {
			log.Warn("geo cache write failed", "addr", addr, "err", err)
		}
	}
	return loc
}

type lookupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// lookup returns (nil, nil) when the service answers but knows no location;
// only transport and protocol problems are errors and count against the breaker.
func (r *HTTPResolver) lookup(ctx context.Context, addr string) (*string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(r.endpoint, url.PathEscape(addr)), nil)
	if err != nil {
		return nil, fmt.Errorf("build geo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call geo service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo service returned non-200 status: %s", resp.Status)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode geo response: %w", err)
	}
	if !body.Success {
		logger.FromContext(ctx).Warn("geo service has no location", "addr", addr, "message", body.Message)
		return nil, nil
	}
	return FormatLocation(body.City, body.Country), nil
}

// FormatLocation renders "City, Country", or just the country when the city
// is unknown. Nothing known yields nil.
func FormatLocation(city, country string) *string {
	city, country = strings.TrimSpace(city), strings.TrimSpace(country)
	var s string
	switch {
	case city != "" && country != "":
		s = city + ", " + country
	case country != "":
		s = country
	default:
		return nil
	}
	return &s
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

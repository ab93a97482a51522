// Package metrics holds the Prometheus collectors for the API and the
// tracking pipeline. Collectors register on the default registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "short_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route", "status"},
	)

	LinksEncoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "short_links_encoded_total",
			Help: "Encode requests by outcome",
		},
		[]string{"result"}, // "created", "existing"
	)

	CodeCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "short_code_collisions_total",
			Help: "Generated codes that were already taken",
		},
	)

	Redirects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "short_redirects_total",
			Help: "Redirect lookups by outcome",
		},
		[]string{"result"}, // "found", "not_found", "error"
	)

	LinkCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "short_link_cache_lookups_total",
			Help: "Link cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)

	// Tracking pipeline
	VisitEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "short_visit_events_total",
			Help: "Visit events by pipeline outcome",
		},
		[]string{"outcome"}, // "recorded", "failed", "dropped", "rejected"
	)

	TrackingQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "short_tracking_queue_depth",
			Help: "Visit events waiting for a worker",
		},
	)

	VisitRecordDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "short_visit_record_duration_seconds",
			Help:    "Time from dequeue to recorded visit",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Geo
	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "short_geo_lookups_total",
			Help: "Geolocation lookups by result",
		},
		[]string{"result"}, // "resolved", "unknown", "cached", "error", "breaker_open"
	)

	GeoLookupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "short_geo_lookup_duration_seconds",
			Help:    "Duration of uncached geolocation lookups",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	GeoBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "short_geo_breaker_state",
			Help: "Geolocation circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

func RecordEncode(created bool) {
	if created {
		LinksEncoded.WithLabelValues("created").Inc()
		return
	}
	LinksEncoded.WithLabelValues("existing").Inc()
}

func RecordVisitEvent(outcome string) {
	VisitEvents.WithLabelValues(outcome).Inc()
}

func RecordGeoLookup(result string, duration time.Duration) {
	GeoLookups.WithLabelValues(result).Inc()
	if duration > 0 {
		GeoLookupDuration.Observe(duration.Seconds())
	}
}

// Package tracker runs the visit pipeline: metadata extraction, geolocation
// and the two store writes, off the request path on a bounded worker pool.
package tracker

import "time"

// Event is everything the pipeline needs from a redirect. It is copied out
// of the request before the handler returns and may cross a message broker.
type Event struct {
	LinkID       int64     `json:"link_id"`
	Code         string    `json:"short_code"`
	AddressChain string    `json:"address_chain"`
	UserAgent    string    `json:"user_agent"`
	Referrer     string    `json:"referrer,omitempty"`
	VisitedAt    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id,omitempty"`
}

// Sink accepts events without blocking. It reports false when the event was
// dropped.
type Sink interface {
	Submit(ev Event) bool
}

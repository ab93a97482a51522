package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryGeo is the in-process stand-in for Geo when no Redis is configured.
type MemoryGeo struct {
	c *gocache.Cache
}

func NewMemoryGeo(ttl, cleanupInterval time.Duration) *MemoryGeo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if cleanupInterval <= 0 {
		cleanupInterval = ttl
	}
	return &MemoryGeo{c: gocache.New(ttl, cleanupInterval)}
}

// Get returns a nil location with a nil error for a cached "no location".
func (m *MemoryGeo) Get(_ context.Context, addr string) (*string, error) {
	v, ok := m.c.Get(addr)
	if !ok {
		return nil, ErrMiss
	}
	loc, _ := v.(*string)
	return loc, nil
}

func (m *MemoryGeo) Set(_ context.Context, addr string, location *string) error {
	var loc *string
	if location != nil {
		v := *location
		loc = &v
	}
	m.c.Set(addr, loc, gocache.DefaultExpiration)
	return nil
}

func (m *MemoryGeo) Len() int { return m.c.ItemCount() }

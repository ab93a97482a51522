// Package cache keeps hot lookups in Redis: short links for the redirect path
// and geolocation answers for the tracking pipeline.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/AdeAdecodes/short/internal"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient dials Redis and verifies the connection.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// Links caches ShortLink rows under "url:<code>".
type Links struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLinks(rdb *redis.Client, ttl time.Duration) *Links {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Links{rdb: rdb, ttl: ttl}
}

func linkKey(code string) string { return "url:" + code }

type cachedLink struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	LongURL   string    `json:"longUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Links) Get(ctx context.Context, code string) (*internal.ShortLink, error) {
	raw, err := c.rdb.Get(ctx, linkKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read cached link %q: %w", code, err)
	}
	var cl cachedLink
	if err := json.Unmarshal(raw, &cl); err != nil {
		return nil, fmt.Errorf("decode cached link %q: %w", code, err)
	}
	return &internal.ShortLink{ID: cl.ID, Code: cl.Code, LongURL: cl.LongURL, CreatedAt: cl.CreatedAt}, nil
}

// Set stores the immutable part of the link; VisitCount is never cached.
func (c *Links) Set(ctx context.Context, l *internal.ShortLink) error {
	raw, err := json.Marshal(cachedLink{ID: l.ID, Code: l.Code, LongURL: l.LongURL, CreatedAt: l.CreatedAt})
	if err != nil {
		return fmt.Errorf("encode link %q: %w", l.Code, err)
	}
	if err := c.rdb.Set(ctx, linkKey(l.Code), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache link %q: %w", l.Code, err)
	}
	return nil
}

// Geo caches resolved locations under "geo:<address>". An empty value records
// that the address has no known location.
type Geo struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewGeo(rdb *redis.Client, ttl time.Duration) *Geo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Geo{rdb: rdb, ttl: ttl}
}

func geoKey(addr string) string { return "geo:" + addr }

// Get returns the cached location (nil for a cached "unknown") or ErrMiss.
func (g *Geo) Get(ctx context.Context, addr string) (*string, error) {
	v, err := g.rdb.Get(ctx, geoKey(addr)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read cached location for %s: %w", addr, err)
	}
	if v == "" {
		return nil, nil
	}
	return &v, nil
}

func (g *Geo) Set(ctx context.Context, addr string, location *string) error {
	v := ""
	if location != nil {
		v = *location
	}
	if err := g.rdb.Set(ctx, geoKey(addr), v, g.ttl).Err(); err != nil {
		return fmt.Errorf("cache location for %s: %w", addr, err)
	}
	return nil
}

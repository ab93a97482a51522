// Package bootstrap builds the runtime dependencies shared by the API service
// and the analytics worker from a loaded config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AdeAdecodes/short/internal/cache"
	"github.com/AdeAdecodes/short/internal/config"
	"github.com/AdeAdecodes/short/internal/geo"
	"github.com/AdeAdecodes/short/internal/logger"
	"github.com/AdeAdecodes/short/internal/store"
	"github.com/AdeAdecodes/short/internal/store/postgres"
	"github.com/AdeAdecodes/short/internal/store/sqlite"
	"github.com/AdeAdecodes/short/internal/tracker"
)

const geoMemoryCleanup = 10 * time.Minute

type Deps struct {
	Store store.Store
	// Redis is nil when no address is configured.
	Redis *redis.Client
	Geo   geo.Resolver
}

// Open connects the store and, when configured, Redis. Callers own Close.
func Open(ctx context.Context, cfg *config.Config) (*Deps, error) {
	s, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	d := &Deps{Store: s}

	if cfg.Redis.Enabled() {
		rdb, err := cache.NewClient(ctx, cache.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			s.Close()
			return nil, err
		}
		d.Redis = rdb
	}

	d.Geo = NewResolver(cfg.Geo, d.Redis)
	return d, nil
}

// OpenStore picks the engine from the store config: memory unless durable,
// then Postgres or SQLite/libsql by DSN.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	log := logger.Default()
	switch driver := cfg.Driver(); driver {
	case "memory":
		log.Info("using transient in-memory store")
		return store.NewMemory(), nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.DSN, postgres.Options{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			Logger:          logger.NewGormLogger(cfg.GormLogLevel, cfg.SlowThreshold),
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		log.Info("connected to postgres store")
		return s, nil
	default:
		s, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", sqlite.DriverName(cfg.DSN), err)
		}
		log.Info("connected to sql store", "driver", sqlite.DriverName(cfg.DSN))
		return s, nil
	}
}

// NewResolver returns Noop when geolocation is off. Answers are cached in
// Redis when a client is given, in process memory otherwise.
func NewResolver(cfg config.GeoConfig, rdb *redis.Client) geo.Resolver {
	if !cfg.Enabled {
		return geo.Noop{}
	}
	var c geo.Cache
	if rdb != nil {
		c = cache.NewGeo(rdb, cfg.CacheTTL)
	} else {
		c = cache.NewMemoryGeo(cfg.CacheTTL, geoMemoryCleanup)
	}
	return geo.NewHTTPResolver(geo.Options{
		Endpoint:        cfg.Endpoint,
		Timeout:         cfg.Timeout,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
		Cache:           c,
	})
}

// Pipeline wires the visit pipeline against the dependencies.
func (d *Deps) Pipeline(cfg config.GeoConfig) *tracker.Pipeline {
	x := tracker.Extractor{SubstitutePrivate: cfg.SubstitutePrivate, FallbackAddress: cfg.FallbackAddress}
	return tracker.NewPipeline(x, d.Geo, tracker.NewRecorder(d.Store))
}

func (d *Deps) Close() error {
	var errs []error
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	errs = append(errs, d.Store.Close())
	return errors.Join(errs...)
}

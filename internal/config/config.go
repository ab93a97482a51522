package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	Redis    RedisConfig    `koanf:"redis"`
	AMQP     AMQPConfig     `koanf:"amqp"`
	Codes    CodeConfig     `koanf:"codes"`
	Geo      GeoConfig      `koanf:"geo"`
	Tracking TrackingConfig `koanf:"tracking"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Host            string        `koanf:"host"`
	Listen          string        `koanf:"listen"`
	BaseURL         string        `koanf:"base_url" validate:"required,http_url"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig selects the persistence engine. Durable=false keeps everything
// in process memory; otherwise the DSN scheme picks Postgres or SQLite/libsql.
type StoreConfig struct {
	Durable         bool          `koanf:"durable"`
	DSN             string        `koanf:"dsn" validate:"required_if=Durable true"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	GormLogLevel    string        `koanf:"gorm_log_level" validate:"omitempty,oneof=silent error warn info"`
	SlowThreshold   time.Duration `koanf:"slow_threshold"`
}

type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db" validate:"min=0"`
	LinkTTL  time.Duration `koanf:"link_ttl"`
}

// Enabled reports whether a Redis server was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type AMQPConfig struct {
	URL      string `koanf:"url"`
	Queue    string `koanf:"queue" validate:"required"`
	Prefetch int    `koanf:"prefetch" validate:"min=1"`
}

type CodeConfig struct {
	Length      int `koanf:"length" validate:"min=4,max=16"`
	MaxAttempts int `koanf:"max_attempts" validate:"min=1,max=50"`
}

type GeoConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Endpoint          string        `koanf:"endpoint" validate:"required_if=Enabled true"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
	SubstitutePrivate bool          `koanf:"substitute_private"`
	FallbackAddress   string        `koanf:"fallback_address" validate:"omitempty,ip"`
	CacheTTL          time.Duration `koanf:"cache_ttl"`
	BreakerFailures   uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerCooldown   time.Duration `koanf:"breaker_cooldown"`
}

type TrackingConfig struct {
	Mode         string        `koanf:"mode" validate:"oneof=inline amqp"`
	Workers      int           `koanf:"workers" validate:"min=1"`
	QueueSize    int           `koanf:"queue_size" validate:"min=1"`
	DrainTimeout time.Duration `koanf:"drain_timeout"`
}

type LoggingConfig struct {
	Level   string `koanf:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format  string `koanf:"format" validate:"omitempty,oneof=json text"`
	Output  string `koanf:"output"`
	Service string `koanf:"service"`
	Env     string `koanf:"env"`
	Version string `koanf:"version"`
}

// Addr is the listen address handed to fiber. An explicit listen value
// (API_SERVICE_PORT=":3000") wins over host and port.
func (s ServerConfig) Addr() string {
	if l := strings.TrimSpace(s.Listen); l != "" {
		return l
	}
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// ShortURL composes the public link for a code.
func (s ServerConfig) ShortURL(code string) string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + code
}

// Driver reports the engine the DSN selects: "memory", "postgres" or "sqlite".
func (s StoreConfig) Driver() string {
	if !s.Durable {
		return "memory"
	}
	dsn := strings.ToLower(strings.TrimSpace(s.DSN))
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			Host:            "",
			BaseURL:         "http://localhost:5000",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Durable:         false,
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
			GormLogLevel:    "warn",
			SlowThreshold:   200 * time.Millisecond,
		},
		Redis: RedisConfig{
			LinkTTL: time.Hour,
		},
		AMQP: AMQPConfig{
			Queue:    "visit_events",
			Prefetch: 100,
		},
		Codes: CodeConfig{
			Length:      6,
			MaxAttempts: 5,
		},
		Geo: GeoConfig{
			Enabled:           true,
			Endpoint:          "https://ipwho.is/%s",
			Timeout:           2 * time.Second,
			SubstitutePrivate: true,
			FallbackAddress:   "8.8.8.8",
			CacheTTL:          24 * time.Hour,
			BreakerFailures:   5,
			BreakerCooldown:   30 * time.Second,
		},
		Tracking: TrackingConfig{
			Mode:         "inline",
			Workers:      8,
			QueueSize:    1024,
			DrainTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Validate checks struct tags plus the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Geo.Enabled && !strings.Contains(c.Geo.Endpoint, "%s") {
		return fmt.Errorf("invalid configuration: geo.endpoint must contain %%s for the address")
	}
	if c.Tracking.Mode == "amqp" && strings.TrimSpace(c.AMQP.URL) == "" {
		return fmt.Errorf("invalid configuration: amqp.url is required when tracking.mode is amqp")
	}
	if c.Store.Driver() == "sqlite" {
		if _, err := url.Parse(c.Store.DSN); err != nil {
			return fmt.Errorf("invalid configuration: store.dsn: %w", err)
		}
	}
	return nil
}

// ValidateWorker adds the rules that only apply to the analytics worker: it
// needs a broker to read from and a store other processes can read.
func (c *Config) ValidateWorker() error {
	if strings.TrimSpace(c.AMQP.URL) == "" {
		return fmt.Errorf("invalid configuration: amqp.url is required for the analytics worker")
	}
	if !c.Store.Durable {
		return fmt.Errorf("invalid configuration: store.durable must be true for the analytics worker")
	}
	return nil
}

// WorkerShutdownTimeout bounds the consumer's final flush: a full batch where
// every event waits out the geo deadline, plus the drain allowance.
func (c *Config) WorkerShutdownTimeout() time.Duration {
	d := c.Tracking.DrainTimeout
	if c.Geo.Enabled {
		d += time.Duration(c.AMQP.Prefetch) * c.Geo.Timeout
	}
	return d
}

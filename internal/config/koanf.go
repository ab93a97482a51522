package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/short/config.yaml",
}

const ConfigPathEnvVar = "CONFIG_PATH"

// Load reads .env (if present) into the process environment, then layers
// defaults, an optional YAML file and environment variables, in that order.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadFrom(findConfigFile())
}

// LoadFrom is Load without the .env step. An empty path skips the file layer.
func LoadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Both the legacy deployment names and the shorter service names are accepted.
var envMappings = map[string]string{
	"app_domain":       "server.base_url",
	"base_url":         "server.base_url",
	"port":             "server.port",
	"api_service_port": "server.listen",
	"server_host":      "server.host",
	"shutdown_timeout": "server.shutdown_timeout",

	"store_durable":        "store.durable",
	"db_url":               "store.dsn",
	"database_url":         "store.dsn",
	"db_max_open_conns":    "store.max_open_conns",
	"db_max_idle_conns":    "store.max_idle_conns",
	"db_conn_max_lifetime": "store.conn_max_lifetime",
	"gorm_log_level":       "store.gorm_log_level",
	"gorm_slow_threshold":  "store.slow_threshold",

	"redis_addr":     "redis.addr",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",
	"redis_link_ttl": "redis.link_ttl",

	"rabbitmq_url":      "amqp.url",
	"click_queue_name":  "amqp.queue",
	"rabbitmq_prefetch": "amqp.prefetch",

	"code_length":       "codes.length",
	"code_max_attempts": "codes.max_attempts",

	"geo_enabled":            "geo.enabled",
	"geo_endpoint":           "geo.endpoint",
	"geo_timeout":            "geo.timeout",
	"geo_substitute_private": "geo.substitute_private",
	"geo_fallback_address":   "geo.fallback_address",
	"geo_cache_ttl":          "geo.cache_ttl",
	"geo_breaker_failures":   "geo.breaker_failures",
	"geo_breaker_cooldown":   "geo.breaker_cooldown",

	"tracking_mode":          "tracking.mode",
	"tracking_workers":       "tracking.workers",
	"tracking_queue_size":    "tracking.queue_size",
	"tracking_drain_timeout": "tracking.drain_timeout",

	"log_level":   "logging.level",
	"log_format":  "logging.format",
	"log_output":  "logging.output",
	"log_service": "logging.service",
	"app_env":     "logging.env",
	"app_version": "logging.version",
}

// envTransformFunc returns "" for unmapped names so unrelated variables
// never leak into the configuration.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

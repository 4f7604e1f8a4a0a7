// Package config loads the server's single immutable configuration
// value, constructed once at startup and passed to every component,
// from YAML with FLIRBLE_-prefixed environment overrides.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RethinkDBConfig holds the config-feed's connection details.
type RethinkDBConfig struct {
	Address      string `yaml:"address"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	ZonesTable   string `yaml:"zones_table"`
	ServersTable string `yaml:"servers_table"`
}

// GeoIPConfig points at the Maxmind city database.
type GeoIPConfig struct {
	Path string `yaml:"path"`
}

// PerformanceConfig carries the concurrency and caching knobs: the
// handler concurrency cap, the idle-loop interval, the
// distance-rounding precision, and the default TTLs for zone answers
// and geo cache entries. Only MaxHandlerThreads and IdleIntervalSec
// are passed to other components; DistancePrecision, DefaultTTL and
// GeoCacheTTLSeconds are loaded and defaulted but not read elsewhere,
// and the geo and dispatcher code use distance.DefaultPrecision,
// model.DefaultTTL and model.DefaultGeoCacheTTL instead.
type PerformanceConfig struct {
	MaxHandlerThreads  int64   `yaml:"max_handler_threads"`
	DistancePrecision  float64 `yaml:"distance_precision"`
	DefaultTTL         uint32  `yaml:"default_ttl"`
	GeoCacheTTLSeconds uint32  `yaml:"geo_cache_ttl_seconds"`
	IdleIntervalSec    int     `yaml:"idle_interval_sec"`
}

// Config is the fully resolved, immutable configuration handed to
// every component at startup.
type Config struct {
	Listen      string            `yaml:"listen"`
	Debug       bool              `yaml:"debug"`
	RethinkDB   RethinkDBConfig   `yaml:"rethinkdb"`
	GeoIP       GeoIPConfig       `yaml:"geoip"`
	Performance PerformanceConfig `yaml:"performance"`
}

// Load reads path as YAML, applies FLIRBLE_-prefixed environment
// overrides, fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("FLIRBLE_LISTEN"); ok {
		cfg.Listen = v
	}
	if v, ok := os.LookupEnv("FLIRBLE_DEBUG"); ok {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	if v, ok := os.LookupEnv("FLIRBLE_RETHINKDB_ADDRESS"); ok {
		cfg.RethinkDB.Address = v
	}
	if v, ok := os.LookupEnv("FLIRBLE_RETHINKDB_DATABASE"); ok {
		cfg.RethinkDB.Database = v
	}
	if v, ok := os.LookupEnv("FLIRBLE_RETHINKDB_USERNAME"); ok {
		cfg.RethinkDB.Username = v
	}
	if v, ok := os.LookupEnv("FLIRBLE_RETHINKDB_PASSWORD"); ok {
		cfg.RethinkDB.Password = v
	}
	if v, ok := os.LookupEnv("FLIRBLE_GEOIP_PATH"); ok {
		cfg.GeoIP.Path = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":53"
	}
	if cfg.RethinkDB.Database == "" {
		cfg.RethinkDB.Database = "flirble"
	}
	if cfg.RethinkDB.ZonesTable == "" {
		cfg.RethinkDB.ZonesTable = "zones"
	}
	if cfg.RethinkDB.ServersTable == "" {
		cfg.RethinkDB.ServersTable = "servers"
	}
	if cfg.Performance.MaxHandlerThreads == 0 {
		cfg.Performance.MaxHandlerThreads = 128
	}
	if cfg.Performance.DistancePrecision == 0 {
		cfg.Performance.DistancePrecision = 50
	}
	if cfg.Performance.DefaultTTL == 0 {
		cfg.Performance.DefaultTTL = 1800
	}
	if cfg.Performance.GeoCacheTTLSeconds == 0 {
		cfg.Performance.GeoCacheTTLSeconds = 5
	}
	if cfg.Performance.IdleIntervalSec == 0 {
		cfg.Performance.IdleIntervalSec = 30
	}
}

// Validate checks the resolved configuration for correctness.
func (c *Config) Validate() error {
	if err := validateAddr(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	if c.RethinkDB.Address == "" {
		return fmt.Errorf("rethinkdb.address is required")
	}
	if c.Performance.MaxHandlerThreads <= 0 {
		return fmt.Errorf("performance.max_handler_threads must be > 0")
	}
	if c.Performance.DistancePrecision <= 0 {
		return fmt.Errorf("performance.distance_precision must be > 0")
	}
	if c.GeoIP.Path != "" {
		if _, err := os.Stat(c.GeoIP.Path); err != nil {
			return fmt.Errorf("geoip.path: %w", err)
		}
	}
	return nil
}

func validateAddr(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	if host != "" {
		if ip := net.ParseIP(host); ip == nil && strings.Contains(host, " ") {
			return fmt.Errorf("invalid host: contains spaces")
		}
	}
	return nil
}

// Package config loads the server configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/loxya/booking-engine/generic"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	Inventory InventoryConfig `yaml:"inventory"`
	Cache     CacheConfig     `yaml:"cache"`
	Billing   BillingConfig   `yaml:"billing"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // sqlite file, ":memory:" for an ephemeral database
}

// RedisConfig enables the shared availability cache. When disabled or
// unreachable, the in-process memory cache is used.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

type InventoryConfig struct {
	DepartureOpensBeforeDays int    `yaml:"departure_opens_before_days"`
	DepartureGraceHours      int    `yaml:"departure_grace_hours"`
	ReturnMode               string `yaml:"return_mode"` // "manual" or "auto"
	SystemUserID             string `yaml:"system_user_id"`
}

type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"` // 0 keeps entries until invalidated
}

type BillingConfig struct {
	CatalogPath string `yaml:"catalog_path"` // catalog JSON loaded at startup
}

// Default returns a valid configuration for local development.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// FromEnv builds the default configuration with environment overrides.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	cfg.overrideWithEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}
	if val := os.Getenv("DB_PATH"); val != "" {
		c.Database.Path = val
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
		c.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		c.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		fmt.Sscanf(val, "%d", &c.Redis.DB)
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
	if val := os.Getenv("CATALOG_PATH"); val != "" {
		c.Billing.CatalogPath = val
	}
	if val := os.Getenv("RETURN_INVENTORY_MODE"); val != "" {
		c.Inventory.ReturnMode = strings.ToLower(val)
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/bookings.db"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "bookings"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Inventory.DepartureOpensBeforeDays == 0 {
		c.Inventory.DepartureOpensBeforeDays = 1
	}
	if c.Inventory.DepartureGraceHours == 0 {
		c.Inventory.DepartureGraceHours = 24
	}
	if c.Inventory.ReturnMode == "" {
		c.Inventory.ReturnMode = string(generic.ReturnModeManual)
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}
	return c.Inventory.Policy().Validate()
}

// Policy converts the inventory section to the engine policy.
func (ic InventoryConfig) Policy() generic.InventoryPolicy {
	return generic.InventoryPolicy{
		DepartureOpensBefore: time.Duration(ic.DepartureOpensBeforeDays) * 24 * time.Hour,
		DepartureGracePeriod: time.Duration(ic.DepartureGraceHours) * time.Hour,
		ReturnMode:           generic.ReturnMode(ic.ReturnMode),
		SystemUserID:         generic.UserID(ic.SystemUserID),
	}
}

// TTL returns the cache entry lifetime.
func (cc CacheConfig) TTL() time.Duration {
	return time.Duration(cc.TTLSeconds) * time.Second
}

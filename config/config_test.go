package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loxya/booking-engine/config"
	"github.com/loxya/booking-engine/generic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable the loader reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SERVER_PORT", "DB_PATH", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"LOG_LEVEL", "LOG_FORMAT", "CATALOG_PATH", "RETURN_INVENTORY_MODE",
	} {
		t.Setenv(k, "")
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Parse([]byte("server:\n  host: 0.0.0.0\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./data/bookings.db", cfg.Database.Path)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "bookings", cfg.Redis.Prefix)
	assert.Equal(t, "json", cfg.Log.Format)

	p := cfg.Inventory.Policy()
	assert.Equal(t, 24*time.Hour, p.DepartureOpensBefore)
	assert.Equal(t, 24*time.Hour, p.DepartureGracePeriod)
	assert.Equal(t, generic.ReturnModeManual, p.ReturnMode)
	assert.Zero(t, cfg.Cache.TTL())
}

func TestParse_File(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
redis:
  enabled: true
  addr: cache:6379
inventory:
  departure_opens_before_days: 3
  return_mode: auto
  system_user_id: robot
cache:
  ttl_seconds: 600
billing:
  catalog_path: ./catalog.json
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL())
	assert.Equal(t, "./catalog.json", cfg.Billing.CatalogPath)

	p := cfg.Inventory.Policy()
	assert.Equal(t, 72*time.Hour, p.DepartureOpensBefore)
	assert.Equal(t, generic.ReturnModeAuto, p.ReturnMode)
	assert.Equal(t, generic.UserID("robot"), p.SystemUserID)
}

func TestParse_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("CATALOG_PATH", "/etc/catalog.json")

	cfg, err := config.Parse([]byte("server:\n  port: 9090\n"))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled, "setting REDIS_ADDR enables redis")
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "/etc/catalog.json", cfg.Billing.CatalogPath)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad yaml", "server: [", "failed to parse"},
		{"port out of range", "server:\n  port: 70000\n", "invalid server port"},
		{"log format", "log:\n  format: xml\n", "invalid log format"},
		{"negative ttl", "cache:\n  ttl_seconds: -5\n", "ttl"},
		{"auto without system user", "inventory:\n  return_mode: auto\n", "system_user_id"},
		{"unknown return mode", "inventory:\n  return_mode: sometimes\n", "unknown mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := config.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("RETURN_INVENTORY_MODE", "AUTO")

	_, err := config.FromEnv()
	require.Error(t, err, "auto mode needs a system user")

	t.Setenv("RETURN_INVENTORY_MODE", "manual")
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, config.Default().Server.Port, cfg.Server.Port)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultSyncInterval, cfg.Remote.Interval)
	assert.Equal(t, []int{3, 1}, cfg.Reminders.LeadDays)
	assert.Equal(t, "USD", cfg.Currency.Home)
	assert.Equal(t, DefaultMaxLogEntries, cfg.Store.MaxLogEntries)
	assert.Equal(t, filepath.Join(cfg.DataDir, DefaultDBName), cfg.DBPath)
	assert.Empty(t, cfg.Remote.URL)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
data_dir: `+dir+`
device: laptop
remote:
  url: https://sync.example.com
  interval: 5m
log:
  level: debug
  format: json
reminders:
  lead_days: [7, 0]
  time: "18:30"
  muted: [sub-1]
currency:
  home: eur
  rates:
    USD: "1.08"
store:
  max_log_entries: 500
  tombstone_retention: 48h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "laptop", cfg.Device)
	assert.Equal(t, "https://sync.example.com", cfg.Remote.URL)
	assert.Equal(t, 5*time.Minute, cfg.Remote.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "EUR", cfg.Currency.Home)
	assert.Equal(t, 500, cfg.Store.MaxLogEntries)
	assert.Equal(t, 48*time.Hour, cfg.Store.TombstoneRetention)
	assert.Equal(t, filepath.Join(dir, DefaultDBName), cfg.DBPath)

	prefs, err := cfg.ReminderPreferences()
	require.NoError(t, err)
	assert.Equal(t, []int{7, 0}, prefs.LeadDays)
	assert.Equal(t, 18, prefs.Hour)
	assert.Equal(t, 30, prefs.Minute)
	assert.True(t, prefs.Muted["sub-1"])

	rates, err := cfg.Rates()
	require.NoError(t, err)
	r, err := rates.Rate("EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, "1.08", r.String())
}

func TestLoad_EnvOverridesDotenvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "data_dir: "+dir+"\nlog:\n  level: warn\ncurrency:\n  home: GBP\n")
	writeFile(t, filepath.Join(dir, ".env"),
		"SUBTRACKR_LOG_LEVEL=debug\nSUBTRACKR_CURRENCY=EUR\nSUBTRACKR_REMINDER_LEAD_DAYS=5, 2\n")
	t.Setenv("SUBTRACKR_CURRENCY", "JPY")
	t.Setenv("SUBTRACKR_SYNC_INTERVAL", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "JPY", cfg.Currency.Home)
	assert.Equal(t, []int{5, 2}, cfg.Reminders.LeadDays)
	assert.Equal(t, 90*time.Second, cfg.Remote.Interval)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "remote: [")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_BadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "data_dir: "+dir+"\n")

	tests := map[string]string{
		"SUBTRACKR_SYNC_INTERVAL":       "soon",
		"SUBTRACKR_MAX_LOG_ENTRIES":     "many",
		"SUBTRACKR_REMINDER_LEAD_DAYS":  "3,x",
		"SUBTRACKR_TOMBSTONE_RETENTION": "forever",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad scheme", func(c *Config) { c.Remote.URL = "ftp://example.com" }, "http or https"},
		{"no host", func(c *Config) { c.Remote.URL = "https://" }, "include a host"},
		{"zero interval", func(c *Config) { c.Remote.Interval = 0 }, "remote.interval"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"negative lead", func(c *Config) { c.Reminders.LeadDays = []int{-1} }, "lead_days"},
		{"bad time", func(c *Config) { c.Reminders.Time = "25:00" }, "reminders.time"},
		{"bad timezone", func(c *Config) { c.Reminders.Timezone = "Nowhere/Special" }, "reminders.timezone"},
		{"bad currency", func(c *Config) { c.Currency.Home = "XXXX" }, "currency"},
		{"bad rate", func(c *Config) { c.Currency.Rates = map[string]string{"EUR": "-1"} }, "positive"},
		{"log bound", func(c *Config) { c.Store.MaxLogEntries = 0 }, "max_log_entries"},
		{"retention", func(c *Config) { c.Store.TombstoneRetention = -time.Hour }, "tombstone_retention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestLoggingConfig(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"

	lc := cfg.LoggingConfig("sync")
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "auto", lc.Format)
	assert.Equal(t, "sync", lc.Component)
}

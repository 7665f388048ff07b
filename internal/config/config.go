// Package config loads subtrackr settings.
//
// Sources are applied in order, later ones winning: built-in defaults, the
// YAML config file, a .env file next to it, then SUBTRACKR_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/subtrackr/internal/logging"
	"github.com/roach88/subtrackr/internal/money"
	"github.com/roach88/subtrackr/internal/notify"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SUBTRACKR_"

const (
	DefaultDBName             = "subtrackr.db"
	DefaultSyncInterval       = 15 * time.Minute
	DefaultMaxLogEntries      = 10000
	DefaultTombstoneRetention = 30 * 24 * time.Hour
	DefaultServeAddr          = "127.0.0.1:8787"
	DefaultCurrency           = "USD"
	DefaultReminderTime       = "09:00"
)

// Config is the full set of settings.
type Config struct {
	DataDir string `yaml:"data_dir"`
	// DBPath defaults to DataDir/subtrackr.db.
	DBPath string `yaml:"db_path"`
	// Device overrides the device id persisted in the store.
	Device string `yaml:"device"`

	Remote    RemoteConfig   `yaml:"remote"`
	Log       LogConfig      `yaml:"log"`
	Reminders ReminderConfig `yaml:"reminders"`
	Currency  CurrencyConfig `yaml:"currency"`
	Store     StoreConfig    `yaml:"store"`
	Serve     ServeConfig    `yaml:"serve"`
}

// RemoteConfig points sync at a remote store. An empty URL disables sync.
type RemoteConfig struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
	PageSize int           `yaml:"page_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ReminderConfig feeds notify.Preferences.
type ReminderConfig struct {
	LeadDays []int    `yaml:"lead_days"`
	Time     string   `yaml:"time"` // HH:MM
	Timezone string   `yaml:"timezone"`
	Muted    []string `yaml:"muted"`
}

// CurrencyConfig holds the display currency and the supplied exchange rates,
// quoted as units of each code per one unit of Home.
type CurrencyConfig struct {
	Home  string            `yaml:"home"`
	Rates map[string]string `yaml:"rates"`
}

type StoreConfig struct {
	MaxLogEntries      int           `yaml:"max_log_entries"`
	TombstoneRetention time.Duration `yaml:"tombstone_retention"`
}

// ServeConfig configures `subtrackr serve`.
type ServeConfig struct {
	Addr   string `yaml:"addr"`
	DBPath string `yaml:"db_path"` // defaults to DataDir/remote.db
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Remote: RemoteConfig{
			Interval: DefaultSyncInterval,
		},
		Log: LogConfig{Level: "info", Format: "auto"},
		Reminders: ReminderConfig{
			LeadDays: append([]int(nil), notify.DefaultLeadDays...),
			Time:     DefaultReminderTime,
			Timezone: "UTC",
		},
		Currency: CurrencyConfig{Home: DefaultCurrency},
		Store: StoreConfig{
			MaxLogEntries:      DefaultMaxLogEntries,
			TombstoneRetention: DefaultTombstoneRetention,
		},
		Serve: ServeConfig{Addr: DefaultServeAddr},
	}
}

// DefaultDataDir is the per-user subtrackr directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "subtrackr")
	}
	return ".subtrackr"
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Load reads settings from path. An empty path falls back to DefaultPath and
// tolerates it being absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read config: %w", err)
	}

	dotenv, err := readDotenv(filepath.Join(filepath.Dir(path), ".env"))
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(envLookup(dotenv)); err != nil {
		return nil, err
	}

	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// readDotenv parses a .env file without touching the process environment.
// A missing file yields an empty map.
func readDotenv(path string) (map[string]string, error) {
	vals, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vals, nil
}

// envLookup prefers the real environment over .env values.
func envLookup(dotenv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v), true
		}
		v, ok := dotenv[key]
		return strings.TrimSpace(v), ok
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("DATA_DIR", &c.DataDir)
	str("DB_PATH", &c.DBPath)
	str("DEVICE", &c.Device)
	str("REMOTE_URL", &c.Remote.URL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("REMINDER_TIME", &c.Reminders.Time)
	str("TIMEZONE", &c.Reminders.Timezone)
	str("CURRENCY", &c.Currency.Home)
	str("SERVE_ADDR", &c.Serve.Addr)
	str("SERVE_DB_PATH", &c.Serve.DBPath)

	if v, ok := lookup(EnvPrefix + "SYNC_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSYNC_INTERVAL must be a duration: %w", EnvPrefix, err)
		}
		c.Remote.Interval = d
	}
	if v, ok := lookup(EnvPrefix + "TOMBSTONE_RETENTION"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sTOMBSTONE_RETENTION must be a duration: %w", EnvPrefix, err)
		}
		c.Store.TombstoneRetention = d
	}
	if v, ok := lookup(EnvPrefix + "MAX_LOG_ENTRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_LOG_ENTRIES must be a valid integer: %w", EnvPrefix, err)
		}
		c.Store.MaxLogEntries = n
	}
	if v, ok := lookup(EnvPrefix + "REMINDER_LEAD_DAYS"); ok && v != "" {
		leads, err := parseLeadDays(v)
		if err != nil {
			return err
		}
		c.Reminders.LeadDays = leads
	}
	return nil
}

func parseLeadDays(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%sREMINDER_LEAD_DAYS: %q is not an integer", EnvPrefix, part)
		}
		out = append(out, n)
	}
	return out, nil
}

func (c *Config) fillDerived() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, DefaultDBName)
	}
	if c.Serve.DBPath == "" {
		c.Serve.DBPath = filepath.Join(c.DataDir, "remote.db")
	}
	c.Currency.Home = strings.ToUpper(strings.TrimSpace(c.Currency.Home))
}

// Validate checks every setting and reports the first problem.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" && strings.TrimSpace(c.DBPath) == "" {
		return errors.New("data_dir or db_path is required")
	}
	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil {
			return fmt.Errorf("remote.url must be a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("remote.url must use http or https scheme")
		}
		if u.Host == "" {
			return fmt.Errorf("remote.url must include a host")
		}
	}
	if c.Remote.Interval <= 0 {
		return fmt.Errorf("remote.interval must be greater than 0, got %s", c.Remote.Interval)
	}
	if c.Remote.PageSize < 0 {
		return fmt.Errorf("remote.page_size must not be negative, got %d", c.Remote.PageSize)
	}
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("log.level %q is not a known level", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "auto", "json", "console":
	default:
		return fmt.Errorf("log.format must be auto, json or console, got %q", c.Log.Format)
	}
	if _, err := c.ReminderPreferences(); err != nil {
		return err
	}
	if _, err := c.Rates(); err != nil {
		return err
	}
	if c.Store.MaxLogEntries < 1 {
		return fmt.Errorf("store.max_log_entries must be at least 1, got %d", c.Store.MaxLogEntries)
	}
	if c.Store.TombstoneRetention < 0 {
		return fmt.Errorf("store.tombstone_retention must not be negative, got %s", c.Store.TombstoneRetention)
	}
	return nil
}

// ReminderPreferences converts the reminder settings.
func (c *Config) ReminderPreferences() (notify.Preferences, error) {
	p := notify.Preferences{LeadDays: append([]int(nil), c.Reminders.LeadDays...)}
	for _, l := range p.LeadDays {
		if l < 0 {
			return notify.Preferences{}, fmt.Errorf("reminders.lead_days must not be negative, got %d", l)
		}
	}

	hm := c.Reminders.Time
	if hm == "" {
		hm = DefaultReminderTime
	}
	t, err := time.Parse("15:04", hm)
	if err != nil {
		return notify.Preferences{}, fmt.Errorf("reminders.time must be HH:MM, got %q", c.Reminders.Time)
	}
	p.Hour, p.Minute = t.Hour(), t.Minute()

	tz := c.Reminders.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return notify.Preferences{}, fmt.Errorf("reminders.timezone: %w", err)
	}
	p.Location = loc

	if len(c.Reminders.Muted) > 0 {
		p.Muted = make(map[string]bool, len(c.Reminders.Muted))
		for _, id := range c.Reminders.Muted {
			p.Muted[id] = true
		}
	}
	return p, p.Validate()
}

// Rates builds the static rate table quoted against the home currency.
func (c *Config) Rates() (*money.StaticRates, error) {
	r, err := money.NewStaticRates(c.Currency.Home, c.Currency.Rates)
	if err != nil {
		return nil, fmt.Errorf("currency: %w", err)
	}
	return r, nil
}

// LoggingConfig adapts the log settings for logging.Init.
func (c *Config) LoggingConfig(component string) logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, Component: component}
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/subtrackr/internal/config"
	"github.com/roach88/subtrackr/internal/date"
	"github.com/roach88/subtrackr/internal/logging"
	"github.com/roach88/subtrackr/internal/store"
)

// app is the per-invocation environment shared by commands.
type app struct {
	opts *RootOptions
	cfg  *config.Config
	out  *OutputFormatter
	log  zerolog.Logger
}

// newApp prepares output for opts. Settings are read later by load so a
// config error can be reported in the requested format.
func newApp(opts *RootOptions, cmd *cobra.Command) *app {
	return &app{
		opts: opts,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
		log: zerolog.Nop(),
	}
}

// load reads the configuration and sets up the logger.
func (a *app) load(cmd *cobra.Command, component string) error {
	cfg, err := config.Load(a.opts.Config)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	if a.opts.DB != "" {
		cfg.DBPath = a.opts.DB
	}
	a.cfg = cfg

	lc := cfg.LoggingConfig(component)
	lc.Output = cmd.ErrOrStderr()
	if a.opts.Verbose {
		lc.Level = "debug"
	}
	a.log = logging.Init(lc)
	return nil
}

// openStore opens the device database, creating its directory.
func (a *app) openStore() (*store.Store, error) {
	if dir := filepath.Dir(a.cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	opts := []store.Option{
		store.WithMaxLogEntries(a.cfg.Store.MaxLogEntries),
		store.WithClock(a.opts.Now),
		store.WithLogger(a.log.With().Str("component", "store").Logger()),
	}
	if a.cfg.Device != "" {
		opts = append(opts, store.WithDeviceID(a.cfg.Device))
	}
	a.out.VerboseLog("Opening %s", a.cfg.DBPath)
	return store.Open(a.cfg.DBPath, opts...)
}

// today is the current date in the reminder time zone.
func (a *app) today() date.Date {
	now := a.opts.Now()
	if prefs, err := a.cfg.ReminderPreferences(); err == nil && prefs.Location != nil {
		now = now.In(prefs.Location)
	}
	return date.FromTime(now)
}

// withStore runs fn against the opened store, reporting any failure in the
// configured format.
func withStore(opts *RootOptions, cmd *cobra.Command, fn func(a *app, st *store.Store) error) error {
	a := newApp(opts, cmd)
	if err := a.load(cmd, "cli"); err != nil {
		return a.out.Fail(err)
	}
	st, err := a.openStore()
	if err != nil {
		return a.out.Fail(err)
	}
	defer st.Close()

	if err := fn(a, st); err != nil {
		return a.out.Fail(err)
	}
	return nil
}

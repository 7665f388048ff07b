package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/subtrackr/internal/engine"
	"github.com/roach88/subtrackr/internal/metrics"
	"github.com/roach88/subtrackr/internal/remote"
	"github.com/roach88/subtrackr/internal/store"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	Remote      string
	Watch       bool
	Interval    time.Duration
	MetricsAddr string
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync this device with the remote store",
		Long: `Pull remote changes, merge them into the local store and push local
changes. With --watch, keep syncing on an interval and after every local
write until interrupted, backing off while the remote is unreachable.

Exit codes:
  0 - Sync completed
  1 - Remote unavailable or sync failed (local data is unchanged)
  2 - Command error (no remote configured, bad config, etc.)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(a *app, st *store.Store) error {
				return runSync(cmd.Context(), a, st, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Remote, "remote", "", "remote URL (overrides config)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep syncing until interrupted")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "sync interval with --watch (default: config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics on this address with --watch")
	return cmd
}

func runSync(ctx context.Context, a *app, st *store.Store, opts *SyncOptions) error {
	url := opts.Remote
	if url == "" {
		url = a.cfg.Remote.URL
	}
	if url == "" {
		return fmt.Errorf("%w: no remote configured (set remote.url or --remote)", errConfig)
	}
	client, err := remote.NewClient(url)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}

	reg := prometheus.NewRegistry()
	log := a.log.With().Str("component", "sync").Logger()
	eng := engine.New(st, client,
		engine.WithLogger(log),
		engine.WithMetrics(metrics.NewSync(reg)),
		engine.WithPageSize(a.cfg.Remote.PageSize),
		engine.WithNow(a.opts.Now),
	)

	if !opts.Watch {
		res, err := eng.Sync(ctx)
		if err != nil {
			return err
		}
		return a.out.Result(res, func(w io.Writer) {
			fmt.Fprintf(w, "Synced: pulled %d, applied %d, pushed %d, conflicts %d, rounds %d\n",
				res.Pulled, res.Applied, res.Pushed, res.Conflicts, res.Rounds)
		})
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = a.cfg.Remote.Interval
	}
	runner := engine.NewRunner(eng,
		engine.WithInterval(interval),
		engine.WithRunnerLogger(log),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(ctx) })
	g.Go(func() error {
		client.RefreshDNS(ctx, 0)
		return nil
	})
	g.Go(func() error {
		if err := watchLocalWrites(ctx, a.cfg.DBPath, writeSettle, runner.Kick, log); err != nil {
			log.Warn().Err(err).Msg("local writes not watched; syncing on the interval only")
		}
		return nil
	})
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error { return listenAndServe(ctx, srv) })
		log.Info().Str("addr", opts.MetricsAddr).Msg("metrics listening")
	}
	return g.Wait()
}

// listenAndServe runs srv until ctx is done, then shuts it down.
func listenAndServe(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
	}
	return nil
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove old tombstones that every device has seen",
		Long: `Physically remove deleted records whose deletion was pushed and is older
than --older-than (default: store.tombstone_retention).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(a *app, st *store.Store) error {
				retention := olderThan
				if !cmd.Flags().Changed("older-than") {
					retention = a.cfg.Store.TombstoneRetention
				}
				if retention < 0 {
					return fmt.Errorf("%w: --older-than must not be negative", ErrInvalidInput)
				}
				n, err := st.PurgeTombstones(cmd.Context(), a.opts.Now().Add(-retention))
				if err != nil {
					return err
				}
				a.log.Info().Int("purged", n).Dur("older_than", retention).Msg("tombstones purged")
				return a.out.Result(map[string]int{"purged": n}, func(w io.Writer) {
					fmt.Fprintf(w, "Purged %d tombstone(s)\n", n)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "minimum tombstone age")
	return cmd
}

package cli

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/subtrackr/internal/metrics"
	"github.com/roach88/subtrackr/internal/remote"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	Addr     string
	RemoteDB string
	Memory   bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the shared remote store",
		Long: `Run the remote document store that devices sync through.

Endpoints:
  GET  /v1/documents  pull documents after a cursor
  POST /v1/push       push envelopes
  GET  /healthz       liveness
  GET  /metrics       Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(rootOpts, cmd)
			if err := a.load(cmd, "serve"); err != nil {
				return a.out.Fail(err)
			}
			if err := runServe(cmd, a, opts); err != nil {
				return a.out.Fail(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default: serve.addr)")
	cmd.Flags().StringVar(&opts.RemoteDB, "remote-db", "", "documents database (default: serve.db_path)")
	cmd.Flags().BoolVar(&opts.Memory, "memory", false, "keep documents in memory only")
	return cmd
}

func runServe(cmd *cobra.Command, a *app, opts *ServeOptions) error {
	addr := opts.Addr
	if addr == "" {
		addr = a.cfg.Serve.Addr
	}

	var backend remote.Backend
	if opts.Memory {
		backend = remote.NewMemory()
	} else {
		path := opts.RemoteDB
		if path == "" {
			path = a.cfg.Serve.DBPath
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		db, err := remote.OpenSQLite(path, remote.NewULIDTokens(nil))
		if err != nil {
			return err
		}
		defer db.Close()
		backend = db
		a.log.Info().Str("path", path).Msg("documents database opened")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	srv := remote.NewServer(backend,
		remote.WithServerMetrics(metrics.NewRemote(reg)),
		remote.WithServerLogger(a.log),
	)
	srv.Handle("GET /metrics", metrics.Handler(reg))

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return listenAndServe(ctx, httpSrv) })
	a.log.Info().Str("addr", addr).Msg("remote store listening")
	return g.Wait()
}

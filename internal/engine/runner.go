package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Runner defaults.
const (
	DefaultInterval   = 15 * time.Minute
	DefaultMinBackoff = 5 * time.Second
	DefaultMaxBackoff = 10 * time.Minute
)

// Runner drives an Engine in the background: on a fixed interval, on demand
// via Trigger, and with exponential backoff while the remote is unavailable.
// Concurrent triggers share one run.
type Runner struct {
	engine *Engine
	group  singleflight.Group
	kick   chan struct{}

	interval   time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	log        zerolog.Logger
	after      func(time.Duration) <-chan time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithInterval sets the period between successful runs.
func WithInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBackoff sets the first and the largest retry delay after a failure.
func WithBackoff(lo, hi time.Duration) RunnerOption {
	return func(r *Runner) {
		if lo > 0 {
			r.minBackoff = lo
		}
		if hi >= r.minBackoff {
			r.maxBackoff = hi
		}
	}
}

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

// NewRunner wraps e.
func NewRunner(e *Engine, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine:     e,
		kick:       make(chan struct{}, 1),
		interval:   DefaultInterval,
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
		log:        zerolog.Nop(),
		after:      time.After,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Trigger runs a sync now, or joins the one already in flight. shared is
// true when the result came from a run started by another caller.
func (r *Runner) Trigger(ctx context.Context) (res MergeResult, shared bool, err error) {
	v, err, shared := r.group.Do("sync", func() (any, error) {
		return r.engine.Sync(ctx)
	})
	res, _ = v.(MergeResult)
	return res, shared, err
}

// Kick asks the background loop to sync soon. It never blocks; kicks
// arriving while one is queued are coalesced.
func (r *Runner) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run syncs immediately and then loops until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info().Dur("interval", r.interval).Msg("sync runner starting")

	backoff := time.Duration(0)
	for {
		_, _, err := r.Trigger(ctx)
		wait := r.interval
		switch {
		case err == nil:
			backoff = 0
		case IsCancelled(err) || ctx.Err() != nil:
			r.log.Info().Msg("sync runner stopping")
			return nil
		case IsUnavailable(err):
			backoff = nextBackoff(backoff, r.minBackoff, r.maxBackoff)
			wait = backoff
			r.log.Warn().Err(err).Dur("retry_in", wait).Msg("remote unavailable")
		default:
			backoff = nextBackoff(backoff, r.minBackoff, r.maxBackoff)
			wait = backoff
			r.log.Error().Err(err).Dur("retry_in", wait).Msg("sync run failed")
		}

		select {
		case <-ctx.Done():
			r.log.Info().Msg("sync runner stopping")
			return nil
		case <-r.kick:
		case <-r.after(wait):
		}
	}
}

// nextBackoff doubles cur within [lo, hi].
func nextBackoff(cur, lo, hi time.Duration) time.Duration {
	if cur < lo {
		return lo
	}
	cur *= 2
	if cur > hi {
		return hi
	}
	return cur
}

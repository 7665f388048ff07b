package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/subtrackr/internal/metrics"
	"github.com/roach88/subtrackr/internal/record"
	"github.com/roach88/subtrackr/internal/remote"
	"github.com/roach88/subtrackr/internal/store"
)

// DefaultMaxRounds bounds pull/merge/push rounds per run when pushes keep
// being rejected by concurrent writers.
const DefaultMaxRounds = 3

// Local is the device store as seen by the engine. Implemented by *store.Store.
type Local interface {
	DeviceID() string
	Cursor(ctx context.Context) (string, error)
	Envelopes(ctx context.Context, ids []string) (map[string]record.Envelope, error)
	PendingChanges(ctx context.Context) (store.Pending, error)
	CommitSync(ctx context.Context, c store.SyncCommit) (store.MergeOutcome, error)
}

// Remote is the cross-device document store. Implemented by remote.Memory,
// remote.SQLite and remote.Client.
type Remote interface {
	Pull(ctx context.Context, cursor string, limit int) (remote.Page, error)
	Push(ctx context.Context, req remote.PushRequest) (remote.PushResult, error)
}

// MergeResult summarizes one sync run.
type MergeResult struct {
	Run       int64  `json:"run"`
	Rounds    int    `json:"rounds"`
	Pulled    int    `json:"pulled"`
	Applied   int    `json:"applied"`
	Conflicts int    `json:"conflicts"`
	Pushed    int    `json:"pushed"`
	Rejected  int    `json:"rejected"`
	Cursor    string `json:"cursor"`

	// HighClock is the largest record clock the engine has seen so far.
	HighClock int64 `json:"high_clock"`
}

// Engine runs sync between one Local and one Remote. Sync calls are
// serialized; State may be read from any goroutine.
type Engine struct {
	local  Local
	remote Remote
	clock  *Clock

	mu    sync.Mutex // serializes Sync
	state atomic.Int32

	pageSize  int
	maxRounds int
	onChange  TransitionFunc
	metrics   *metrics.Sync
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics records runs in m.
func WithMetrics(m *metrics.Sync) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPageSize sets the pull page size. Values < 1 use the remote default.
func WithPageSize(n int) Option {
	return func(e *Engine) { e.pageSize = n }
}

// WithMaxRounds bounds retry rounds per run. Values < 1 keep the default.
func WithMaxRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRounds = n
		}
	}
}

// OnTransition registers fn to observe every state change.
func OnTransition(fn TransitionFunc) Option {
	return func(e *Engine) { e.onChange = fn }
}

// WithNow replaces the wall clock used for run durations.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine in the Idle state.
func New(local Local, rem Remote, opts ...Option) *Engine {
	e := &Engine{
		local:     local,
		remote:    rem,
		clock:     NewClock(),
		maxRounds: DefaultMaxRounds,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Clock returns the engine's run counter and clock high-water mark.
func (e *Engine) Clock() *Clock {
	return e.clock
}

func (e *Engine) transition(to State) {
	from := State(e.state.Swap(int32(to)))
	if from == to {
		return
	}
	e.log.Debug().Stringer("from", from).Stringer("to", to).Msg("sync state")
	if e.onChange != nil {
		e.onChange(from, to)
	}
}

// Sync runs one full sync. On error the engine ends in Failed and returns
// to Idle when the next run starts.
func (e *Engine) Sync(ctx context.Context) (MergeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	res := MergeResult{Run: e.clock.NextRun()}
	if e.State() == Failed {
		e.transition(Idle)
	}

	err := e.run(ctx, &res)
	took := e.now().Sub(start)
	if err != nil {
		e.transition(Failed)
		result := metrics.ResultError
		if IsUnavailable(err) {
			result = metrics.ResultUnavailable
		}
		e.metrics.ObserveRun(result, took)
		e.log.Warn().Err(err).Int64("run", res.Run).Msg("sync failed")
		return res, err
	}

	e.transition(Idle)
	e.metrics.ObserveRun(metrics.ResultOK, took)
	e.metrics.AddEnvelopes(metrics.DirectionPulled, res.Pulled)
	e.metrics.AddEnvelopes(metrics.DirectionPushed, res.Pushed)
	e.metrics.AddConflicts(res.Conflicts)
	e.log.Info().
		Int64("run", res.Run).
		Int("rounds", res.Rounds).
		Int("pulled", res.Pulled).
		Int("applied", res.Applied).
		Int("conflicts", res.Conflicts).
		Int("pushed", res.Pushed).
		Int("rejected", res.Rejected).
		Int64("high_clock", res.HighClock).
		Dur("took", took).
		Msg("sync complete")
	return res, nil
}

func (e *Engine) run(ctx context.Context, res *MergeResult) error {
	// Commits that record work already done on the remote must not be lost
	// to a cancellation arriving mid-phase.
	keep := context.WithoutCancel(ctx)

	if err := e.checkpoint(ctx, Pulling); err != nil {
		return err
	}
	cursor, err := e.local.Cursor(ctx)
	if err != nil {
		return newSyncError(CodeStorage, Pulling, err)
	}

	for round := 1; ; round++ {
		res.Rounds = round

		if err := e.checkpoint(ctx, Pulling); err != nil {
			return err
		}
		e.transition(Pulling)
		pulled, head, err := e.pull(ctx, cursor)
		if err != nil {
			return remoteError(ctx, Pulling, err)
		}
		res.Pulled += len(pulled)

		if err := e.checkpoint(ctx, Merging); err != nil {
			return err
		}
		e.transition(Merging)
		p, err := e.plan(ctx, pulled)
		if err != nil {
			return err
		}
		res.Conflicts += p.conflicts

		if err := e.checkpoint(ctx, Pushing); err != nil {
			return err
		}
		e.transition(Pushing)
		if len(p.push) == 0 {
			if len(pulled) > 0 || head != cursor {
				out, err := e.local.CommitSync(keep, store.SyncCommit{Merged: pulled, Cursor: head})
				if err != nil {
					return newSyncError(CodeStorage, Pushing, err)
				}
				res.Applied += out.Written
			}
			cursor = head
			break
		}

		pr, err := e.remote.Push(ctx, remote.PushRequest{
			Device:    e.local.DeviceID(),
			Since:     head,
			Envelopes: p.push,
		})
		if err != nil {
			return remoteError(ctx, Pushing, err)
		}

		next := head
		done := len(pr.Rejected) == 0 && pr.FastForward
		if done {
			next = pr.Head
		}
		out, err := e.local.CommitSync(keep, store.SyncCommit{
			Merged:  pulled,
			Pushed:  p.accepted(pr.Accepted),
			UpToSeq: p.upToSeq,
			Cursor:  next,
		})
		if err != nil {
			return newSyncError(CodeStorage, Pushing, err)
		}
		cursor = next
		res.Applied += out.Written
		res.Pushed += len(pr.Accepted)
		res.Rejected = len(pr.Rejected)
		for _, env := range p.push {
			e.clock.Observe(env.Clock)
		}

		if done {
			break
		}
		if round >= e.maxRounds {
			e.log.Warn().
				Strs("rejected", pr.Rejected).
				Int("rounds", round).
				Msg("push still rejected; left pending for the next run")
			break
		}
		e.log.Debug().
			Int("rejected", len(pr.Rejected)).
			Bool("fast_forward", pr.FastForward).
			Msg("remote moved during push; pulling again")
	}

	res.Cursor = cursor
	res.HighClock = e.clock.High()
	return nil
}

// pull fetches every page after cursor. Documents for the same id seen in
// several pages are merged together.
func (e *Engine) pull(ctx context.Context, cursor string) ([]record.Envelope, string, error) {
	byID := make(map[string]record.Envelope)
	for {
		page, err := e.remote.Pull(ctx, cursor, e.pageSize)
		if err != nil {
			return nil, "", err
		}
		for _, doc := range page.Documents {
			env := doc.Envelope
			if prev, ok := byID[env.ID()]; ok {
				merged, err := record.Merge(prev, env)
				if err != nil {
					return nil, "", newSyncError(CodeMerge, Pulling, err)
				}
				env = merged
			}
			byID[env.ID()] = env
			e.clock.Observe(env.Clock)
		}
		if page.Cursor != "" {
			cursor = page.Cursor
		}
		if !page.More || len(page.Documents) == 0 {
			break
		}
	}

	out := make([]record.Envelope, 0, len(byID))
	for _, env := range byID {
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, cursor, nil
}

// roundPlan is the in-memory outcome of merging one pull. Nothing is
// written until the round's push has returned.
type roundPlan struct {
	push      []record.Envelope
	upToSeq   int64
	conflicts int
}

// accepted returns the pushed envelopes whose ids the remote accepted.
func (p roundPlan) accepted(ids []string) []record.Envelope {
	ok := make(map[string]bool, len(ids))
	for _, id := range ids {
		ok[id] = true
	}
	var out []record.Envelope
	for _, env := range p.push {
		if ok[env.ID()] {
			out = append(out, env)
		}
	}
	return out
}

// plan merges pulled envelopes with the local rows and works out what to
// push: every pending record, plus every id whose merged state is ahead of
// the remote copy. Pending records that were also pulled are pushed merged.
func (e *Engine) plan(ctx context.Context, pulled []record.Envelope) (roundPlan, error) {
	var p roundPlan

	merged := make(map[string]record.Envelope, len(pulled))
	ahead := make(map[string]bool)
	if len(pulled) > 0 {
		ids := make([]string, len(pulled))
		for i, env := range pulled {
			ids[i] = env.ID()
		}
		local, err := e.local.Envelopes(ctx, ids)
		if err != nil {
			return p, newSyncError(CodeStorage, Merging, err)
		}
		for _, in := range pulled {
			mine, ok := local[in.ID()]
			if !ok {
				continue
			}
			m, err := record.Merge(mine, in)
			if err != nil {
				return p, newSyncError(CodeMerge, Merging, err)
			}
			if !record.Same(m, mine) && !record.Same(m, in) {
				p.conflicts++
				e.log.Debug().Str("id", in.ID()).Msg("concurrent edits merged")
			}
			merged[in.ID()] = m
			if !record.Same(m, in) {
				ahead[in.ID()] = true
			}
		}
	}

	pending, err := e.local.PendingChanges(ctx)
	if err != nil {
		return p, newSyncError(CodeStorage, Merging, err)
	}
	p.upToSeq = pending.UpToSeq

	seen := make(map[string]bool, len(pending.Envelopes))
	for _, env := range pending.Envelopes {
		if m, ok := merged[env.ID()]; ok {
			env = m
		}
		p.push = append(p.push, env)
		seen[env.ID()] = true
	}
	for id := range ahead {
		if !seen[id] {
			p.push = append(p.push, merged[id])
		}
	}
	sort.Slice(p.push, func(i, j int) bool { return p.push[i].ID() < p.push[j].ID() })
	return p, nil
}

func (e *Engine) checkpoint(ctx context.Context, next State) error {
	if err := ctx.Err(); err != nil {
		return newSyncError(CodeCancelled, next, err)
	}
	return nil
}

func remoteError(ctx context.Context, phase State, err error) error {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case ctx.Err() != nil:
		return newSyncError(CodeCancelled, phase, err)
	case errors.Is(err, remote.ErrBadRequest):
		return newSyncError(CodeRejected, phase, err)
	default:
		return newSyncError(CodeUnavailable, phase, fmt.Errorf("%w: %w", ErrSyncUnavailable, err))
	}
}

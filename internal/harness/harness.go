package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/roach88/subtrackr/internal/catalog"
	"github.com/roach88/subtrackr/internal/engine"
	"github.com/roach88/subtrackr/internal/record"
	"github.com/roach88/subtrackr/internal/remote"
	"github.com/roach88/subtrackr/internal/store"
	"github.com/roach88/subtrackr/internal/testutil"
)

// device is one simulated installation.
type device struct {
	name   string
	store  *store.Store
	engine *engine.Engine
}

// Harness holds the devices and shared remote of one scenario run.
type Harness struct {
	devices map[string]*device
	order   []string
	remote  *remote.Memory
	clock   *testutil.FakeClock
	log     zerolog.Logger
}

// Option configures Run.
type Option func(*config)

type config struct {
	dir string
	log zerolog.Logger
}

// WithDir stores device databases as files under dir instead of in memory.
func WithDir(dir string) Option {
	return func(c *config) { c.dir = dir }
}

// WithLogger passes l to every store and engine.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.log = l }
}

// Run executes a scenario against fresh devices and a fresh remote.
//
// Execution flow:
// 1. Open one store and engine per device, sharing one remote and clock
// 2. Execute steps in order, checking sync expectations as they run
// 3. Evaluate assertions against the final state
//
// A returned error means the scenario could not be executed at all; failed
// expectations are reported through Result.
func Run(ctx context.Context, sc *Scenario, opts ...Option) (*Result, error) {
	cfg := config{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	h, err := newHarness(sc, cfg)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, step := range sc.Steps {
		if err := h.execute(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Kind(), err)
		}
	}

	for _, msg := range h.evaluate(ctx, sc.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(sc *Scenario, cfg config) (*Harness, error) {
	now := sc.Now
	if now.IsZero() {
		now = DefaultNow
	}
	h := &Harness{
		devices: make(map[string]*device, len(sc.Devices)),
		order:   append([]string(nil), sc.Devices...),
		remote:  remote.NewMemory(remote.WithTokens(testutil.NewSeqTokens("r"))),
		clock:   testutil.NewFakeClock(now),
		log:     cfg.log,
	}
	slices.Sort(h.order)

	for _, name := range h.order {
		path := ":memory:"
		if cfg.dir != "" {
			path = filepath.Join(cfg.dir, name+".db")
		}
		st, err := store.Open(path,
			store.WithDeviceID(name),
			store.WithClock(h.clock.Now),
			store.WithLogger(cfg.log.With().Str("device", name).Logger()),
		)
		if err != nil {
			h.close()
			return nil, fmt.Errorf("open device %s: %w", name, err)
		}
		eng := engine.New(st, h.remote,
			engine.WithNow(h.clock.Now),
			engine.WithLogger(cfg.log.With().Str("device", name).Logger()),
		)
		h.devices[name] = &device{name: name, store: st, engine: eng}
	}
	return h, nil
}

func (h *Harness) close() {
	for _, d := range h.devices {
		d.store.Close()
	}
}

// execute runs one step. Local write failures abort the run; sync outcomes
// are compared with the step's expectations.
func (h *Harness) execute(ctx context.Context, n int, step Step, result *Result) error {
	ev := TraceEvent{Step: n, Device: step.Device, Op: step.Kind()}
	d := h.devices[step.Device]

	switch ev.Op {
	case OpCreate:
		r, err := step.Create.Record()
		if err != nil {
			return err
		}
		created, err := d.store.Create(ctx, r)
		if err != nil {
			return err
		}
		ev.ID = created.ID

	case OpUpdate:
		ev.ID = step.Update.ID
		if _, err := d.store.Update(ctx, step.Update.ID, func(r *record.Record) error {
			return applyUpdate(r, *step.Update)
		}); err != nil {
			return err
		}

	case OpStatus:
		ev.ID = step.Status.ID
		status, err := record.ParseStatus(step.Status.To)
		if err != nil {
			return err
		}
		if _, err := d.store.SetStatus(ctx, step.Status.ID, status); err != nil {
			return err
		}

	case OpDelete:
		ev.ID = step.Delete
		if err := d.store.Delete(ctx, step.Delete); err != nil {
			return err
		}

	case OpSync:
		res, err := d.engine.Sync(ctx)
		h.checkSync(n, step, res, err, &ev, result)

	case OpOffline, OpOnline:
		h.remote.SetOffline(ev.Op == OpOffline)

	case OpAdvance:
		h.clock.Advance(step.Advance)
	}

	h.log.Debug().Int("step", n).Str("op", ev.Op).Str("device", ev.Device).Msg("scenario step")
	result.addEvent(ev)
	return nil
}

func (h *Harness) checkSync(n int, step Step, res engine.MergeResult, err error, ev *TraceEvent, result *Result) {
	want := step.Sync.Error
	if err != nil {
		var se *engine.SyncError
		code := "UNKNOWN"
		if errors.As(err, &se) {
			code = string(se.Code)
		}
		ev.Error = code
		if want != code {
			result.AddError(fmt.Sprintf("step %d: sync on %s failed with %v, expected %s", n, step.Device, err, describeWant(want)))
		}
		return
	}

	ev.Sync = &res
	if want != "" {
		result.AddError(fmt.Sprintf("step %d: sync on %s succeeded, expected %s", n, step.Device, want))
		return
	}
	got := map[string]int{
		"pulled":    res.Pulled,
		"applied":   res.Applied,
		"conflicts": res.Conflicts,
		"pushed":    res.Pushed,
		"rejected":  res.Rejected,
		"rounds":    res.Rounds,
	}
	for _, k := range syncCounters {
		if v, ok := step.Sync.Expect[k]; ok && got[k] != v {
			result.AddError(fmt.Sprintf("step %d: sync on %s: %s = %d, expected %d", n, step.Device, k, got[k], v))
		}
	}
}

func describeWant(code string) string {
	if code == "" {
		return "success"
	}
	return code
}

// applyUpdate copies the fields u names onto r.
func applyUpdate(r *record.Record, u catalog.Entry) error {
	if u.Name != "" {
		r.Name = strings.TrimSpace(u.Name)
	}
	if u.Notes != "" {
		r.Notes = u.Notes
	}
	if u.Status != "" {
		st, err := record.ParseStatus(u.Status)
		if err != nil {
			return err
		}
		r.Status = st
	}

	// Reuse catalog conversion for the billing fields by filling the blanks
	// from the current record.
	full := u
	if full.Cost.Amount == "" {
		full.Cost.Amount = r.Cost.Amount().String()
	}
	if full.Cost.Currency == "" {
		full.Cost.Currency = r.Cost.Currency()
	}
	if full.Cycle == "" {
		full.Cycle = r.Cycle.String()
	}
	if full.Anchor == "" {
		full.Anchor = r.Anchor.String()
	}
	if full.Name == "" {
		full.Name = r.Name
	}
	conv, err := full.Record()
	if err != nil {
		return err
	}
	r.Cost = conv.Cost
	r.Cycle = conv.Cycle
	r.Anchor = conv.Anchor
	return nil
}

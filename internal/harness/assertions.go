package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/subtrackr/internal/date"
	"github.com/roach88/subtrackr/internal/record"
	"github.com/roach88/subtrackr/internal/store"
)

// AssertionError describes one failed assertion.
type AssertionError struct {
	Type     string
	Device   string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Device != "" {
		fmt.Fprintf(&buf, " on %s", e.Device)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// evaluate runs every assertion and returns the failure messages.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion) []string {
	var out []string
	for i, a := range assertions {
		if err := h.check(ctx, a); err != nil {
			out = append(out, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return out
}

func (h *Harness) check(ctx context.Context, a Assertion) error {
	if a.Type == AssertConverged {
		return h.assertConverged(ctx)
	}
	d := h.devices[a.Device]
	switch a.Type {
	case AssertRecord:
		return h.assertRecord(ctx, d, a)
	case AssertDeleted:
		return assertDeleted(ctx, d, a)
	case AssertCount:
		recs, err := d.store.List(ctx, store.ListOptions{})
		if err != nil {
			return err
		}
		if len(recs) != a.Count {
			return &AssertionError{Type: a.Type, Device: d.name,
				Expected: fmt.Sprintf("%d visible records", a.Count),
				Actual:   fmt.Sprintf("%d visible records", len(recs))}
		}
	case AssertPending:
		p, err := d.store.PendingChanges(ctx)
		if err != nil {
			return err
		}
		if len(p.Envelopes) != a.Count {
			return &AssertionError{Type: a.Type, Device: d.name,
				Expected: fmt.Sprintf("%d pending records", a.Count),
				Actual:   fmt.Sprintf("%d pending records %v", len(p.Envelopes), p.IDs())}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// recordView renders the fields a record assertion can check.
func (h *Harness) recordView(r record.Record) map[string]string {
	view := map[string]string{
		"name":   r.Name,
		"notes":  r.Notes,
		"cost":   r.Cost.StringFixed() + " " + r.Cost.Currency(),
		"cycle":  r.Cycle.String(),
		"anchor": r.Anchor.String(),
		"status": string(r.Status),
	}
	if next, err := r.NextRenewal(date.FromTime(h.clock.Now())); err == nil {
		view["next_renewal"] = next.String()
	}
	return view
}

func (h *Harness) assertRecord(ctx context.Context, d *device, a Assertion) error {
	r, err := d.store.Get(ctx, a.ID)
	if err != nil {
		return &AssertionError{Type: a.Type, Device: d.name,
			Expected: fmt.Sprintf("record %s", a.ID),
			Actual:   err.Error()}
	}

	view := h.recordView(r)
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if view[k] != a.Expect[k] {
			return &AssertionError{Type: a.Type, Device: d.name,
				Expected: fmt.Sprintf("%s.%s = %q", a.ID, k, a.Expect[k]),
				Actual:   fmt.Sprintf("%s.%s = %q", a.ID, k, view[k])}
		}
	}
	return nil
}

func assertDeleted(ctx context.Context, d *device, a Assertion) error {
	env, err := d.store.Envelope(ctx, a.ID)
	if err != nil {
		return &AssertionError{Type: a.Type, Device: d.name,
			Expected: fmt.Sprintf("tombstone for %s", a.ID),
			Actual:   err.Error()}
	}
	if !env.Deleted {
		return &AssertionError{Type: a.Type, Device: d.name,
			Expected: fmt.Sprintf("tombstone for %s", a.ID),
			Actual:   fmt.Sprintf("live record at clock %d", env.Clock)}
	}
	return nil
}

// assertConverged checks that every device stores exactly the remote's
// documents, tombstones included.
func (h *Harness) assertConverged(ctx context.Context) error {
	docs := h.remote.Documents()
	want := make(map[string]record.Envelope, len(docs))
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		want[doc.Envelope.ID()] = doc.Envelope
		ids = append(ids, doc.Envelope.ID())
	}

	for _, name := range h.order {
		d := h.devices[name]
		recs, err := d.store.List(ctx, store.ListOptions{IncludeDeleted: true})
		if err != nil {
			return err
		}
		local := make([]string, 0, len(recs))
		for _, r := range recs {
			local = append(local, r.ID)
		}
		slices.Sort(local)
		if !slices.Equal(local, ids) {
			return &AssertionError{Type: AssertConverged, Device: name,
				Expected: fmt.Sprintf("records %v", ids),
				Actual:   fmt.Sprintf("records %v", local)}
		}

		envs, err := d.store.Envelopes(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if !record.Same(envs[id], want[id]) {
				return &AssertionError{Type: AssertConverged, Device: name,
					Expected: fmt.Sprintf("%s = %s", id, record.Fingerprint(want[id])),
					Actual:   fmt.Sprintf("%s = %s", id, record.Fingerprint(envs[id]))}
			}
		}
	}
	return nil
}

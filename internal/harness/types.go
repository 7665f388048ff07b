package harness

import "github.com/roach88/subtrackr/internal/engine"

// TraceEvent records one executed step.
type TraceEvent struct {
	Step   int                 `json:"step"`
	Device string              `json:"device,omitempty"`
	Op     string              `json:"op"`
	ID     string              `json:"id,omitempty"`
	Sync   *engine.MergeResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every sync expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds every failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// canonical converts ev for canonical JSON. The per-device run counter is
// left out since it only restates the step order.
func (ev TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"step": ev.Step,
		"op":   ev.Op,
	}
	if ev.Device != "" {
		m["device"] = ev.Device
	}
	if ev.ID != "" {
		m["id"] = ev.ID
	}
	if ev.Error != "" {
		m["error"] = ev.Error
	}
	if s := ev.Sync; s != nil {
		m["result"] = map[string]any{
			"rounds":    s.Rounds,
			"pulled":    s.Pulled,
			"applied":   s.Applied,
			"conflicts": s.Conflicts,
			"pushed":    s.Pushed,
			"rejected":  s.Rejected,
			"cursor":    s.Cursor,
		}
	}
	return m
}

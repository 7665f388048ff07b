package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/subtrackr/internal/catalog"
	"github.com/roach88/subtrackr/internal/engine"
)

// DefaultNow is the scenario wall clock when none is given.
var DefaultNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// Scenario is one multi-device sync script.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the starting wall clock. Defaults to DefaultNow.
	Now time.Time `yaml:"now,omitempty"`

	// Devices lists device names. Each becomes the origin of its writes.
	Devices []string `yaml:"devices"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action. Exactly one of the action fields is set.
type Step struct {
	Device string `yaml:"device,omitempty"`

	Create  *catalog.Entry `yaml:"create,omitempty"`
	Update  *catalog.Entry `yaml:"update,omitempty"`
	Status  *StatusStep    `yaml:"status,omitempty"`
	Delete  string         `yaml:"delete,omitempty"`
	Sync    *SyncStep      `yaml:"sync,omitempty"`
	Offline *bool          `yaml:"offline,omitempty"`
	Advance time.Duration  `yaml:"advance,omitempty"`
}

// StatusStep changes a record's status.
type StatusStep struct {
	ID string `yaml:"id"`
	To string `yaml:"to"`
}

// SyncStep runs one sync. Expect holds result counters to check (pulled,
// applied, conflicts, pushed, rejected, rounds); Error is the expected
// engine error code, empty for success.
type SyncStep struct {
	Expect map[string]int `yaml:"expect,omitempty"`
	Error  string         `yaml:"error,omitempty"`
}

// Assertion checks the final state of one device, or of all of them.
type Assertion struct {
	Type   string            `yaml:"type"`
	Device string            `yaml:"device,omitempty"`
	ID     string            `yaml:"id,omitempty"`
	Expect map[string]string `yaml:"expect,omitempty"`
	Count  int               `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord    = "record"
	AssertDeleted   = "deleted"
	AssertCount     = "count"
	AssertPending   = "pending"
	AssertConverged = "converged"
)

// Step kind names, as they appear in traces.
const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpStatus  = "status"
	OpDelete  = "delete"
	OpSync    = "sync"
	OpOffline = "offline"
	OpOnline  = "online"
	OpAdvance = "advance"
)

// recordFields are the keys a record assertion may check.
var recordFields = []string{"name", "notes", "cost", "cycle", "anchor", "status", "next_renewal"}

// syncCounters are the keys a sync expect clause may check.
var syncCounters = []string{"pulled", "applied", "conflicts", "pushed", "rejected", "rounds"}

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML. Unknown fields are rejected so typos
// fail loudly instead of silently skipping a check.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// Kind returns the step's action name.
func (s Step) Kind() string {
	switch {
	case s.Create != nil:
		return OpCreate
	case s.Update != nil:
		return OpUpdate
	case s.Status != nil:
		return OpStatus
	case s.Delete != "":
		return OpDelete
	case s.Sync != nil:
		return OpSync
	case s.Offline != nil:
		if *s.Offline {
			return OpOffline
		}
		return OpOnline
	case s.Advance != 0:
		return OpAdvance
	}
	return ""
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Create != nil, s.Update != nil, s.Status != nil, s.Delete != "",
		s.Sync != nil, s.Offline != nil, s.Advance != 0,
	} {
		if set {
			n++
		}
	}
	return n
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Devices) == 0 {
		return fmt.Errorf("devices list is required and must be non-empty")
	}
	seen := make(map[string]bool, len(s.Devices))
	for i, d := range s.Devices {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("devices[%d]: name is required", i)
		}
		if seen[d] {
			return fmt.Errorf("devices[%d]: duplicate device %q", i, d)
		}
		seen[d] = true
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, seen); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, seen); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, devices map[string]bool) error {
	if n := step.actions(); n != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, n)
	}

	switch step.Kind() {
	case OpOffline, OpOnline:
		return nil
	case OpAdvance:
		if step.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", i)
		}
		return nil
	}

	if !devices[step.Device] {
		return fmt.Errorf("steps[%d]: unknown device %q", i, step.Device)
	}
	switch step.Kind() {
	case OpUpdate:
		if step.Update.ID == "" {
			return fmt.Errorf("steps[%d]: update needs an id", i)
		}
	case OpStatus:
		if step.Status.ID == "" || step.Status.To == "" {
			return fmt.Errorf("steps[%d]: status needs id and to", i)
		}
	case OpSync:
		for k := range step.Sync.Expect {
			if !slices.Contains(syncCounters, k) {
				return fmt.Errorf("steps[%d]: unknown sync counter %q", i, k)
			}
		}
		if step.Sync.Error != "" && len(step.Sync.Expect) > 0 {
			return fmt.Errorf("steps[%d]: sync cannot expect both an error and counters", i)
		}
		if code := step.Sync.Error; code != "" && !knownCode(code) {
			return fmt.Errorf("steps[%d]: unknown error code %q", i, code)
		}
	}
	return nil
}

func knownCode(code string) bool {
	switch engine.ErrorCode(code) {
	case engine.CodeUnavailable, engine.CodeRejected, engine.CodeStorage, engine.CodeCancelled, engine.CodeMerge:
		return true
	}
	return false
}

func validateAssertion(i int, a Assertion, devices map[string]bool) error {
	switch a.Type {
	case AssertConverged:
		return nil
	case AssertRecord, AssertDeleted, AssertCount, AssertPending:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}

	if !devices[a.Device] {
		return fmt.Errorf("assertions[%d]: unknown device %q", i, a.Device)
	}
	switch a.Type {
	case AssertRecord:
		if a.ID == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: record needs id and expect", i)
		}
		for k := range a.Expect {
			if !slices.Contains(recordFields, k) {
				return fmt.Errorf("assertions[%d]: unknown record field %q", i, k)
			}
		}
	case AssertDeleted:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: deleted needs an id", i)
		}
	case AssertCount, AssertPending:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	}
	return nil
}

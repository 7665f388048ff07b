package record

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/subtrackr/internal/date"
	"github.com/roach88/subtrackr/internal/money"
	"github.com/roach88/subtrackr/internal/schedule"
)

// ErrInvalidRecord is returned by Validate for records that break an invariant.
var ErrInvalidRecord = errors.New("invalid record")

// Status is the lifecycle state of a subscription.
type Status string

const (
	Active    Status = "active"
	Paused    Status = "paused"
	Cancelled Status = "cancelled"
)

// ParseStatus accepts the lower-case status names.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case Active, Paused, Cancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, s)
}

// Group names a set of fields that are versioned together.
type Group string

const (
	GroupDetails Group = "details" // Name, Notes
	GroupBilling Group = "billing" // Cost, Cycle, Anchor
	GroupStatus  Group = "status"  // Status
)

// Groups lists every field group in canonical order.
var Groups = []Group{GroupDetails, GroupBilling, GroupStatus}

// Version is a logical timestamp: a per-record clock plus the device that wrote it.
type Version struct {
	Clock  int64  `json:"clock"`
	Origin string `json:"origin"`
}

// Compare orders versions by Clock, then by Origin string.
func (v Version) Compare(o Version) int {
	switch {
	case v.Clock < o.Clock:
		return -1
	case v.Clock > o.Clock:
		return 1
	}
	return strings.Compare(v.Origin, o.Origin)
}

// Versions holds one Version per field group plus the deletion version.
// A zero Tombstone means the record was never deleted.
type Versions struct {
	Details   Version `json:"details"`
	Billing   Version `json:"billing"`
	Status    Version `json:"status"`
	Tombstone Version `json:"tombstone,omitempty"`
}

// Get returns the version of group g.
func (vs Versions) Get(g Group) Version {
	switch g {
	case GroupDetails:
		return vs.Details
	case GroupBilling:
		return vs.Billing
	case GroupStatus:
		return vs.Status
	}
	return Version{}
}

// Set replaces the version of group g.
func (vs *Versions) Set(g Group, v Version) {
	switch g {
	case GroupDetails:
		vs.Details = v
	case GroupBilling:
		vs.Billing = v
	case GroupStatus:
		vs.Status = v
	}
}

// Max returns the highest version across field groups, ignoring the tombstone.
func (vs Versions) Max() Version {
	m := vs.Details
	for _, v := range []Version{vs.Billing, vs.Status} {
		if v.Compare(m) > 0 {
			m = v
		}
	}
	return m
}

// Deleted reports whether the tombstone dominates every field group.
// A tombstone wins ties: an update at the tombstone's clock stays deleted.
func (vs Versions) Deleted() bool {
	return vs.Tombstone.Clock > 0 && vs.Tombstone.Clock >= vs.Max().Clock
}

// Latest returns the version that determines the record's clock: the
// tombstone while deleted, otherwise the highest field group.
func (vs Versions) Latest() Version {
	if vs.Deleted() {
		return vs.Tombstone
	}
	return vs.Max()
}

// Record is one tracked subscription.
type Record struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Notes  string         `json:"notes,omitempty"`
	Cost   money.Money    `json:"cost"`
	Cycle  schedule.Cycle `json:"cycle"`
	Anchor date.Date      `json:"anchor"`
	Status Status         `json:"status"`

	Versions Versions `json:"versions"`

	// Display only. Never used for ordering or identity.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clock is the record's last-modified logical clock.
func (r Record) Clock() int64 {
	if c := r.Versions.Max().Clock; c > r.Versions.Tombstone.Clock {
		return c
	}
	return r.Versions.Tombstone.Clock
}

// Deleted reports whether r is a tombstone.
func (r Record) Deleted() bool { return r.Versions.Deleted() }

// Touch stamps groups with version (Clock()+1, origin) and returns the new clock.
// Callers mutate the group's fields and Touch them in the same step.
func (r *Record) Touch(origin string, groups ...Group) int64 {
	next := Version{Clock: r.Clock() + 1, Origin: origin}
	for _, g := range groups {
		r.Versions.Set(g, next)
	}
	return next.Clock
}

// Validate checks the record's invariants.
func (r Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	}
	if !r.Cost.IsValid() {
		return fmt.Errorf("%w: cost currency is required", ErrInvalidRecord)
	}
	if r.Cost.IsNegative() {
		return fmt.Errorf("%w: cost %s is negative", ErrInvalidRecord, r.Cost.StringFixed())
	}
	if !r.Cost.InMinorUnits() {
		return fmt.Errorf("%w: cost %s has more than %d decimal places for %s",
			ErrInvalidRecord, r.Cost.Amount().String(), r.Cost.Fraction(), r.Cost.Currency())
	}
	if err := r.Cycle.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if r.Anchor.IsZero() {
		return fmt.Errorf("%w: anchor date is required", ErrInvalidRecord)
	}
	if _, err := ParseStatus(string(r.Status)); err != nil {
		return err
	}
	return nil
}

// NextRenewal returns the first renewal strictly after from.
func (r Record) NextRenewal(from date.Date) (date.Date, error) {
	return schedule.NextRenewal(r.Cycle, r.Anchor, from)
}

// MonthlyCost normalizes the cost to an average month.
func (r Record) MonthlyCost() (money.Money, error) {
	f, err := r.Cycle.MonthlyFactor()
	if err != nil {
		return money.Money{}, err
	}
	return r.Cost.Mul(f), nil
}

// IsActive reports whether the record should produce reminders and due entries.
func (r Record) IsActive() bool { return r.Status == Active }

// ChangedGroups lists, in canonical order, the groups whose values differ
// between before and after.
func ChangedGroups(before, after Record) []Group {
	var out []Group
	for _, g := range Groups {
		if !bytes.Equal(mustCanonical(groupFields(before, g)), mustCanonical(groupFields(after, g))) {
			out = append(out, g)
		}
	}
	return out
}

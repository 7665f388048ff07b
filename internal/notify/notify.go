// Package notify plans renewal reminders.
//
// Plan is a pure function of its inputs: the same records, preferences and
// window always produce the same reminders in the same order. Delivering
// them (OS notifications, mail) is left to the caller.
package notify

import (
	"fmt"
	"sort"
	"time"

	"github.com/roach88/subtrackr/internal/date"
	"github.com/roach88/subtrackr/internal/money"
	"github.com/roach88/subtrackr/internal/record"
	"github.com/roach88/subtrackr/internal/schedule"
)

// DefaultLeadDays are the reminder lead times used when none are configured.
var DefaultLeadDays = []int{3, 1}

// Preferences control reminder timing.
type Preferences struct {
	// LeadDays lists how many days before a renewal to remind. 0 means on
	// the renewal day. Negative values and duplicates are ignored.
	LeadDays []int
	// Hour and Minute give the local time of day reminders fire at.
	Hour, Minute int
	// Location is the time zone reminders are computed in. nil means UTC.
	Location *time.Location
	// Muted record ids never get reminders.
	Muted map[string]bool
}

// DefaultPreferences reminds 3 and 1 days ahead at 09:00 UTC.
func DefaultPreferences() Preferences {
	return Preferences{
		LeadDays: append([]int(nil), DefaultLeadDays...),
		Hour:     9,
		Location: time.UTC,
	}
}

// Validate checks the time of day.
func (p Preferences) Validate() error {
	if p.Hour < 0 || p.Hour > 23 || p.Minute < 0 || p.Minute > 59 {
		return fmt.Errorf("reminder time %02d:%02d is not a valid time of day", p.Hour, p.Minute)
	}
	return nil
}

// Window is the half-open interval [From, Until) reminders must fire in.
type Window struct {
	From  time.Time
	Until time.Time
}

// Next returns the window starting at from and lasting d.
func Next(from time.Time, d time.Duration) Window {
	return Window{From: from, Until: from.Add(d)}
}

// Reminder is one planned notification.
type Reminder struct {
	RecordID string      `json:"record_id"`
	Name     string      `json:"name"`
	Cost     money.Money `json:"cost"`
	Renewal  date.Date   `json:"renewal"`
	LeadDays int         `json:"lead_days"`
	FireAt   time.Time   `json:"fire_at"`
}

// Plan returns every reminder firing inside w for active, visible, unmuted
// records, ordered by FireAt, then record id, then descending lead time.
// Records with invalid cycles are skipped.
func Plan(records []record.Record, prefs Preferences, w Window) []Reminder {
	loc := prefs.Location
	if loc == nil {
		loc = time.UTC
	}
	leads := normalizeLeads(prefs.LeadDays)
	if len(leads) == 0 || !w.From.Before(w.Until) {
		return nil
	}
	maxLead := leads[0]

	// Renewals after the window still remind inside it when the lead time
	// reaches back.
	after := date.FromTime(w.From.In(loc)).AddDays(-1)
	through := date.FromTime(w.Until.In(loc)).AddDays(maxLead)

	var out []Reminder
	for _, r := range records {
		if !r.IsActive() || r.Deleted() || prefs.Muted[r.ID] {
			continue
		}
		renewals, err := schedule.Renewals(r.Cycle, r.Anchor, after, through)
		if err != nil {
			continue
		}
		for _, renewal := range renewals {
			for _, lead := range leads {
				day := renewal.AddDays(-lead)
				fire := time.Date(day.Year(), day.Month(), day.Day(), prefs.Hour, prefs.Minute, 0, 0, loc)
				if fire.Before(w.From) || !fire.Before(w.Until) {
					continue
				}
				out = append(out, Reminder{
					RecordID: r.ID,
					Name:     r.Name,
					Cost:     r.Cost,
					Renewal:  renewal,
					LeadDays: lead,
					FireAt:   fire,
				})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.FireAt.Equal(b.FireAt) {
			return a.FireAt.Before(b.FireAt)
		}
		if a.RecordID != b.RecordID {
			return a.RecordID < b.RecordID
		}
		return a.LeadDays > b.LeadDays
	})
	return out
}

// normalizeLeads drops negatives and duplicates and sorts descending.
func normalizeLeads(in []int) []int {
	seen := make(map[int]bool, len(in))
	var out []int
	for _, l := range in {
		if l < 0 || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

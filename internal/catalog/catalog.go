// Package catalog reads subscription catalogs written in CUE or YAML.
//
// Both formats describe the same shape, keyed by a short catalog key:
//
//	subscription: netflix: {
//		name:   "Netflix"
//		cost:   {amount: "15.49", currency: "USD"}
//		cycle:  "monthly:15"
//		anchor: "2026-01-15"
//	}
//
// Every source is checked against one CUE schema before it is converted,
// so a YAML file and a CUE file reject the same mistakes.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/subtrackr/internal/date"
	"github.com/roach88/subtrackr/internal/money"
	"github.com/roach88/subtrackr/internal/record"
	"github.com/roach88/subtrackr/internal/schedule"
)

// schema constrains catalog entries. Amounts are strings so no value ever
// passes through a float.
const schema = `
#Cost: {
	amount:   =~#"^[0-9]+(\.[0-9]+)?$"#
	currency: =~"^[A-Za-z]{3}$"
}

#Subscription: {
	id?:    string & !=""
	name:   string & =~"[^ \t]"
	notes?: string
	cost:   #Cost
	cycle:  =~"^(daily|weekly|monthly:[0-9]+|yearly:[0-9]{1,2}-[0-9]{1,2}|custom:[0-9]+)$"
	anchor: =~"^[0-9]{4}-[0-9]{1,2}-[0-9]{1,2}$"
	status?: "active" | "paused" | "cancelled"
}

subscription: [string]: #Subscription
`

// Cost is the catalog form of a money amount.
type Cost struct {
	Amount   string `json:"amount" yaml:"amount"`
	Currency string `json:"currency" yaml:"currency"`
}

// Entry is one catalog subscription.
type Entry struct {
	Key    string `json:"-" yaml:"-"`
	ID     string `json:"id,omitempty" yaml:"id,omitempty"`
	Name   string `json:"name" yaml:"name"`
	Notes  string `json:"notes,omitempty" yaml:"notes,omitempty"`
	Cost   Cost   `json:"cost" yaml:"cost"`
	Cycle  string `json:"cycle" yaml:"cycle"`
	Anchor string `json:"anchor" yaml:"anchor"`
	Status string `json:"status,omitempty" yaml:"status,omitempty"`
}

// File is the top-level document shape.
type File struct {
	Subscription map[string]Entry `json:"subscription" yaml:"subscription"`
}

// Error reports a catalog problem, with a source position when CUE has one.
type Error struct {
	Key     string
	Message string
	Pos     token.Pos
	Err     error
}

func (e *Error) Error() string {
	where := e.Key
	if where == "" {
		where = "catalog"
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), where, e.Message)
	}
	return fmt.Sprintf("%s: %s", where, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// check unifies v with the schema and decodes the entries sorted by key.
func check(ctx *cue.Context, v cue.Value) ([]Entry, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	s := ctx.CompileString(schema, cue.Filename("schema.cue"))
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}

	v = s.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	subs := v.LookupPath(cue.ParsePath("subscription"))
	if !subs.Exists() {
		return nil, nil
	}
	iter, err := subs.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []Entry
	for iter.Next() {
		var e Entry
		if err := iter.Value().Decode(&e); err != nil {
			return nil, &Error{Key: iter.Label(), Message: err.Error(), Pos: iter.Value().Pos()}
		}
		e.Key = iter.Label()
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	var pos token.Pos
	if ps := errors.Positions(first); len(ps) > 0 {
		pos = ps[0]
	}
	key := ""
	if path := first.Path(); len(path) >= 2 && path[0] == "subscription" {
		key = path[1]
	}
	return &Error{Key: key, Message: errors.String(first), Pos: pos}
}

// Record converts e into an unsaved record. ID, versions and timestamps
// are left for the store to assign unless the catalog names an id.
func (e Entry) Record() (record.Record, error) {
	cost, err := money.Parse(e.Cost.Amount, e.Cost.Currency)
	if err != nil {
		return record.Record{}, &Error{Key: e.Key, Message: err.Error(), Err: err}
	}
	cycle, err := schedule.ParseCycle(e.Cycle)
	if err != nil {
		return record.Record{}, &Error{Key: e.Key, Message: err.Error(), Err: err}
	}
	anchor, err := date.Parse(e.Anchor)
	if err != nil {
		return record.Record{}, &Error{Key: e.Key, Message: err.Error(), Err: err}
	}
	status := record.Active
	if e.Status != "" {
		if status, err = record.ParseStatus(e.Status); err != nil {
			return record.Record{}, &Error{Key: e.Key, Message: err.Error(), Err: err}
		}
	}
	return record.Record{
		ID:     e.ID,
		Name:   strings.TrimSpace(e.Name),
		Notes:  e.Notes,
		Cost:   cost,
		Cycle:  cycle,
		Anchor: anchor,
		Status: status,
	}, nil
}

// Records converts every entry, stopping at the first failure.
func Records(entries []Entry) ([]record.Record, error) {
	out := make([]record.Record, 0, len(entries))
	for _, e := range entries {
		r, err := e.Record()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

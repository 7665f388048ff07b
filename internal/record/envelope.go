package record

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrIDMismatch is returned by Merge for envelopes of different records.
var ErrIDMismatch = errors.New("envelopes belong to different records")

// Envelope wraps a Record with sync metadata for transport and merging.
//
// Origin, Clock and Deleted are derived from Record.Versions by Wrap; they
// travel explicitly so a remote store can index and filter without decoding
// the record.
type Envelope struct {
	Record  Record `json:"record"`
	Origin  string `json:"origin"`
	Clock   int64  `json:"clock"`
	Deleted bool   `json:"deleted"`
}

// Wrap derives the envelope metadata from r's versions.
func Wrap(r Record) Envelope {
	v := r.Versions.Latest()
	return Envelope{Record: r, Origin: v.Origin, Clock: v.Clock, Deleted: r.Deleted()}
}

// Tombstone marks r deleted at version (r.Clock()+1, origin).
func Tombstone(r Record, origin string) Envelope {
	r.Versions.Tombstone = Version{Clock: r.Clock() + 1, Origin: origin}
	return Wrap(r)
}

// ID returns the wrapped record's id.
func (e Envelope) ID() string { return e.Record.ID }

// Version returns the envelope's (Clock, Origin).
func (e Envelope) Version() Version { return Version{Clock: e.Clock, Origin: e.Origin} }

// Merge returns the deterministic outcome of two envelopes for the same record.
//
// Every field group and the tombstone are joined independently by taking the
// higher Version, so Merge is commutative, associative and idempotent. The
// result is deleted when its tombstone clock is at least every group clock.
func Merge(a, b Envelope) (Envelope, error) {
	if a.ID() != b.ID() {
		return Envelope{}, fmt.Errorf("%w: %q vs %q", ErrIDMismatch, a.ID(), b.ID())
	}

	out := a.Record
	for _, g := range Groups {
		if groupWins(b.Record, a.Record, g) {
			copyGroup(&out, b.Record, g)
		}
	}
	if b.Record.Versions.Tombstone.Compare(out.Versions.Tombstone) > 0 {
		out.Versions.Tombstone = b.Record.Versions.Tombstone
	}
	if out.CreatedAt.IsZero() || (!b.Record.CreatedAt.IsZero() && b.Record.CreatedAt.Before(out.CreatedAt)) {
		out.CreatedAt = b.Record.CreatedAt
	}
	if b.Record.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = b.Record.UpdatedAt
	}
	return Wrap(out), nil
}

// groupWins reports whether x's group g beats y's. Equal versions with
// diverging content fall back to canonical byte order so every device picks
// the same side.
func groupWins(x, y Record, g Group) bool {
	if c := x.Versions.Get(g).Compare(y.Versions.Get(g)); c != 0 {
		return c > 0
	}
	return bytes.Compare(mustCanonical(groupFields(x, g)), mustCanonical(groupFields(y, g))) > 0
}

func copyGroup(dst *Record, src Record, g Group) {
	switch g {
	case GroupDetails:
		dst.Name, dst.Notes = src.Name, src.Notes
	case GroupBilling:
		dst.Cost, dst.Cycle, dst.Anchor = src.Cost, src.Cycle, src.Anchor
	case GroupStatus:
		dst.Status = src.Status
	}
	dst.Versions.Set(g, src.Versions.Get(g))
}

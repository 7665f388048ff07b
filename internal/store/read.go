package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/subtrackr/internal/date"
	"github.com/roach88/subtrackr/internal/record"
)

// ListOptions filters List.
type ListOptions struct {
	// Statuses keeps only records in one of these states. Empty keeps all.
	Statuses []record.Status
	// IncludeDeleted also returns tombstones.
	IncludeDeleted bool
}

// Due pairs a record with its next renewal.
type Due struct {
	Record      record.Record `json:"record"`
	NextRenewal date.Date     `json:"next_renewal"`
}

// Pending is the set of local changes not yet pushed.
type Pending struct {
	// Envelopes holds the current state of every record with a pending change,
	// ordered by record id.
	Envelopes []record.Envelope
	// UpToSeq is the highest change-log seq covered by Envelopes.
	UpToSeq int64
}

// IDs lists the record ids in Envelopes.
func (p Pending) IDs() []string {
	out := make([]string, len(p.Envelopes))
	for i, e := range p.Envelopes {
		out[i] = e.ID()
	}
	return out
}

// Get returns a visible record. Tombstones are reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, err := loadEnvelope(ctx, s.db, id)
	if err != nil {
		return record.Record{}, fmt.Errorf("get: %w", err)
	}
	if env.Deleted {
		return record.Record{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return env.Record, nil
}

// List returns records ordered by name, then id.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT body FROM records`
	var (
		where []string
		args  []any
	)
	if !opts.IncludeDeleted {
		where = append(where, "deleted = 0")
	}
	if len(opts.Statuses) > 0 {
		marks := make([]string, len(opts.Statuses))
		for i, st := range opts.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list records", err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, storageErr("scan record", err)
		}
		r, err := unmarshalRecord(body)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate records", err)
	}

	sort.Slice(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListDueBefore returns active records renewing on or after today and
// strictly before the given date, ordered by renewal date then id.
func (s *Store) ListDueBefore(ctx context.Context, before date.Date) ([]Due, error) {
	records, err := s.List(ctx, ListOptions{Statuses: []record.Status{record.Active}})
	if err != nil {
		return nil, err
	}

	// NextRenewal is strictly after from, so start the day before today.
	from := date.FromTime(s.now()).AddDays(-1)

	var out []Due
	for _, r := range records {
		next, err := r.NextRenewal(from)
		if err != nil {
			return nil, fmt.Errorf("list due %s: %w", r.ID, err)
		}
		if next.Before(before) {
			out = append(out, Due{Record: r, NextRenewal: next})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].NextRenewal.Compare(out[j].NextRenewal); c != 0 {
			return c < 0
		}
		return out[i].Record.ID < out[j].Record.ID
	})
	return out, nil
}

// Envelope returns the sync envelope for id, including tombstones.
func (s *Store) Envelope(ctx context.Context, id string) (record.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, err := loadEnvelope(ctx, s.db, id)
	if err != nil {
		return record.Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	return env, nil
}

// Envelopes returns the envelopes for the given ids. Unknown ids are absent
// from the result.
func (s *Store) Envelopes(ctx context.Context, ids []string) (map[string]record.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]record.Envelope, len(ids))
	for _, id := range ids {
		env, err := loadEnvelope(ctx, s.db, id)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("envelopes: %w", err)
		}
		out[id] = env
	}
	return out, nil
}

// PendingChanges returns the current envelope of every record with an
// unpushed change. Pushing the current row covers every pending entry for it.
func (s *Store) PendingChanges(ctx context.Context) (Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, MAX(seq) FROM change_log
		WHERE pushed = 0
		GROUP BY record_id
		ORDER BY record_id ASC
	`)
	if err != nil {
		return Pending{}, storageErr("pending changes", err)
	}

	var (
		ids []string
		p   Pending
	)
	for rows.Next() {
		var (
			id  string
			seq int64
		)
		if err := rows.Scan(&id, &seq); err != nil {
			rows.Close()
			return Pending{}, storageErr("scan pending change", err)
		}
		ids = append(ids, id)
		if seq > p.UpToSeq {
			p.UpToSeq = seq
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Pending{}, storageErr("iterate pending changes", err)
	}
	rows.Close()

	for _, id := range ids {
		env, err := loadEnvelope(ctx, s.db, id)
		if IsNotFound(err) {
			// Purged after the change was logged; nothing left to push.
			continue
		}
		if err != nil {
			return Pending{}, fmt.Errorf("pending changes: %w", err)
		}
		p.Envelopes = append(p.Envelopes, env)
	}
	return p, nil
}

// ChangeLog returns up to limit entries with seq > afterSeq in seq order.
// A limit < 1 returns every entry.
func (s *Store) ChangeLog(ctx context.Context, afterSeq int64, limit int) ([]Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, record_id, op, clock, pushed, created_at
		FROM change_log
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, storageErr("read change log", err)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var (
			c      Change
			op     string
			pushed int
			at     int64
		)
		if err := rows.Scan(&c.Seq, &c.RecordID, &op, &c.Clock, &pushed, &at); err != nil {
			return nil, storageErr("scan change", err)
		}
		c.Op = Op(op)
		c.Pushed = pushed == 1
		c.At = time.Unix(at, 0).UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate change log", err)
	}
	return out, nil
}

// Cursor returns the persisted remote cursor, or "" before the first sync.
func (s *Store) Cursor(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cursor string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, keyCursor).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storageErr("load cursor", err)
	}
	return cursor, nil
}

// loadEnvelope reads id's row, tombstones included.
func loadEnvelope(ctx context.Context, q execer, id string) (record.Envelope, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT body FROM records WHERE id = ?`, id).Scan(&body)
	if err != nil {
		return record.Envelope{}, storageErr("load "+id, err)
	}
	r, err := unmarshalRecord(body)
	if err != nil {
		return record.Envelope{}, err
	}
	return record.Wrap(r), nil
}

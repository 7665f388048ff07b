package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/subtrackr/internal/record"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Create inserts a new record authored on this device.
//
// An empty ID is replaced with a UUIDv7. Every field group starts at clock 1
// and Status defaults to Active. Returns ErrAlreadyExists if the id is known,
// including ids that are tombstoned.
func (s *Store) Create(ctx context.Context, r record.Record) (record.Record, error) {
	if r.ID == "" {
		r.ID = uuid.Must(uuid.NewV7()).String()
	}
	if r.Status == "" {
		r.Status = record.Active
	}
	now := s.now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	r.Versions = record.Versions{}
	clock := r.Touch(s.deviceID, record.Groups...)

	if err := r.Validate(); err != nil {
		return record.Record{}, fmt.Errorf("create: %w", err)
	}

	err := s.withTx(ctx, "create", func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = ?`, r.ID).Scan(&one)
		if err == nil {
			return fmt.Errorf("create %s: %w", r.ID, ErrAlreadyExists)
		}
		if err != sql.ErrNoRows {
			return storageErr("create: check existing", err)
		}
		if err := writeRecord(ctx, tx, record.Wrap(r), nil); err != nil {
			return err
		}
		return s.appendChange(ctx, tx, r.ID, OpCreate, clock, false)
	})
	if err != nil {
		return record.Record{}, err
	}

	s.log.Debug().Str("id", r.ID).Int64("clock", clock).Msg("record created")
	return r, nil
}

// Update applies fn to a copy of the record and stores the result.
//
// Only field groups whose values changed are re-versioned; when nothing
// changed the stored record is returned untouched and no log entry is made.
// fn cannot change the ID, the versions or CreatedAt.
func (s *Store) Update(ctx context.Context, id string, fn func(*record.Record) error) (record.Record, error) {
	var out record.Record
	err := s.withTx(ctx, "update", func(tx *sql.Tx) error {
		env, err := loadEnvelope(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		if env.Deleted {
			return fmt.Errorf("update %s: %w", id, ErrNotFound)
		}

		before := env.Record
		after := before
		if err := fn(&after); err != nil {
			return err
		}
		after.ID = before.ID
		after.Versions = before.Versions
		after.CreatedAt = before.CreatedAt

		groups := record.ChangedGroups(before, after)
		if len(groups) == 0 {
			out = before
			return nil
		}
		clock := after.Touch(s.deviceID, groups...)
		after.UpdatedAt = s.now().UTC()
		if err := after.Validate(); err != nil {
			return fmt.Errorf("update: %w", err)
		}

		if err := writeRecord(ctx, tx, record.Wrap(after), nil); err != nil {
			return err
		}
		if err := s.appendChange(ctx, tx, id, OpUpdate, clock, false); err != nil {
			return err
		}
		out = after
		return nil
	})
	if err != nil {
		return record.Record{}, err
	}
	return out, nil
}

// SetStatus changes the record's status.
func (s *Store) SetStatus(ctx context.Context, id string, status record.Status) (record.Record, error) {
	if _, err := record.ParseStatus(string(status)); err != nil {
		return record.Record{}, err
	}
	return s.Update(ctx, id, func(r *record.Record) error {
		r.Status = status
		return nil
	})
}

// Delete converts the record into a tombstone authored on this device.
// The row stays until the tombstone is pushed and purged.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.withTx(ctx, "delete", func(tx *sql.Tx) error {
		env, err := loadEnvelope(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		if env.Deleted {
			return fmt.Errorf("delete %s: %w", id, ErrNotFound)
		}

		tomb := record.Tombstone(env.Record, s.deviceID)
		tomb.Record.UpdatedAt = s.now().UTC()
		deletedAt := tomb.Record.UpdatedAt
		if err := writeRecord(ctx, tx, tomb, &deletedAt); err != nil {
			return err
		}
		return s.appendChange(ctx, tx, id, OpDelete, tomb.Clock, false)
	})
}

// ApplyTombstone records that id was deleted at version (clock, origin)
// somewhere else. Older or equal tombstones are ignored. The record stays
// visible if it holds field groups newer than the tombstone.
//
// Returns whether the stored tombstone changed.
func (s *Store) ApplyTombstone(ctx context.Context, id string, clock int64, origin string) (bool, error) {
	applied := false
	err := s.withTx(ctx, "apply tombstone", func(tx *sql.Tx) error {
		env, err := loadEnvelope(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("apply tombstone: %w", err)
		}

		v := record.Version{Clock: clock, Origin: origin}
		r := env.Record
		if v.Compare(r.Versions.Tombstone) <= 0 {
			return nil
		}
		r.Versions.Tombstone = v
		updated := record.Wrap(r)

		var deletedAt *time.Time
		if updated.Deleted {
			now := s.now().UTC()
			deletedAt = &now
		}
		if err := writeRecord(ctx, tx, updated, deletedAt); err != nil {
			return err
		}
		applied = true
		return s.appendChange(ctx, tx, id, OpTombstone, clock, false)
	})
	return applied, err
}

// MergeOutcome reports what ApplyMerged did.
type MergeOutcome struct {
	// Written counts rows whose stored state changed.
	Written int
	// Ahead lists ids whose stored state now holds versions the incoming
	// envelope lacked. They are left pending so the next push carries them.
	Ahead []string
}

// ApplyMerged stores sync merge results in a single transaction without
// bumping any clock.
//
// Each envelope is merged once more with the current row inside the
// transaction, so a local edit made while the engine was talking to the
// remote is never overwritten.
func (s *Store) ApplyMerged(ctx context.Context, envs []record.Envelope) (MergeOutcome, error) {
	var out MergeOutcome
	err := s.withTx(ctx, "apply merged", func(tx *sql.Tx) error {
		var err error
		out, err = s.applyMerged(ctx, tx, envs, nil)
		return err
	})
	if err != nil {
		return MergeOutcome{}, err
	}
	return out, nil
}

// SyncCommit is the local outcome of one sync round whose remote calls all
// succeeded.
type SyncCommit struct {
	// Merged holds the pulled envelopes. They are merged with the current
	// rows on commit.
	Merged []record.Envelope
	// Pushed holds the envelopes the remote accepted.
	Pushed []record.Envelope
	// UpToSeq is the pending seq the push covered.
	UpToSeq int64
	// Cursor is stored when non-empty.
	Cursor string
}

// CommitSync applies a sync round in one transaction: the pulled envelopes,
// the push marks and the new cursor. Nothing is written before the remote
// calls of the round have returned, so a failed round leaves the store as
// it was.
//
// A merged row that is ahead of the pulled envelope is left pending unless
// the remote accepted exactly that state.
func (s *Store) CommitSync(ctx context.Context, c SyncCommit) (MergeOutcome, error) {
	pushed := make(map[string]record.Envelope, len(c.Pushed))
	ids := make([]string, 0, len(c.Pushed))
	for _, env := range c.Pushed {
		pushed[env.ID()] = env
		ids = append(ids, env.ID())
	}

	var out MergeOutcome
	err := s.withTx(ctx, "commit sync", func(tx *sql.Tx) error {
		var err error
		if out, err = s.applyMerged(ctx, tx, c.Merged, pushed); err != nil {
			return err
		}
		if err := markPushed(ctx, tx, ids, c.UpToSeq); err != nil {
			return err
		}
		if c.Cursor != "" {
			if err := setCursor(ctx, tx, c.Cursor); err != nil {
				return err
			}
		}
		return s.compactLog(ctx, tx)
	})
	if err != nil {
		return MergeOutcome{}, err
	}
	return out, nil
}

// applyMerged merges envs into the current rows. An ahead row whose merged
// state equals its entry in pushed is logged as already pushed.
func (s *Store) applyMerged(ctx context.Context, tx *sql.Tx, envs []record.Envelope, pushed map[string]record.Envelope) (MergeOutcome, error) {
	var out MergeOutcome
	for _, in := range envs {
		merged := in
		existing, err := loadEnvelope(ctx, tx, in.ID())
		found := err == nil
		switch {
		case found:
			merged, err = record.Merge(existing, in)
			if err != nil {
				return MergeOutcome{}, fmt.Errorf("apply merged: %w", err)
			}
		case IsNotFound(err):
		default:
			return MergeOutcome{}, fmt.Errorf("apply merged: %w", err)
		}

		changed := !found || !record.Same(existing, merged)
		ahead := !record.Same(in, merged)
		if ahead {
			if p, ok := pushed[merged.ID()]; ok && record.Same(p, merged) {
				ahead = false
			}
		}
		if !changed {
			if !ahead {
				continue
			}
			pending, err := hasPending(ctx, tx, merged.ID())
			if err != nil {
				return MergeOutcome{}, err
			}
			if pending {
				continue
			}
		}

		if changed {
			var deletedAt *time.Time
			if merged.Deleted {
				now := s.now().UTC()
				deletedAt = &now
			}
			if err := writeRecord(ctx, tx, merged, deletedAt); err != nil {
				return MergeOutcome{}, err
			}
			out.Written++
		}
		if ahead {
			out.Ahead = append(out.Ahead, merged.ID())
		}
		if err := s.appendChange(ctx, tx, merged.ID(), OpMerge, merged.Clock, !ahead); err != nil {
			return MergeOutcome{}, err
		}
	}
	return out, nil
}

// MarkPushed marks the pending changes of ids with seq <= upToSeq as pushed.
// Later changes to the same ids stay pending.
func (s *Store) MarkPushed(ctx context.Context, ids []string, upToSeq int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, "mark pushed", func(tx *sql.Tx) error {
		if err := markPushed(ctx, tx, ids, upToSeq); err != nil {
			return err
		}
		return s.compactLog(ctx, tx)
	})
}

func markPushed(ctx context.Context, tx *sql.Tx, ids []string, upToSeq int64) error {
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE change_log SET pushed = 1
			WHERE pushed = 0 AND record_id = ? AND seq <= ?
		`, id, upToSeq); err != nil {
			return storageErr("mark pushed", err)
		}
	}
	return nil
}

// SetCursor persists the remote cursor.
func (s *Store) SetCursor(ctx context.Context, cursor string) error {
	return s.withTx(ctx, "set cursor", func(tx *sql.Tx) error {
		return setCursor(ctx, tx, cursor)
	})
}

func setCursor(ctx context.Context, tx *sql.Tx, cursor string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, keyCursor, cursor)
	if err != nil {
		return storageErr("set cursor", err)
	}
	return nil
}

// PurgeTombstones physically removes tombstones deleted before olderThan
// whose deletion has been pushed. Returns the number of rows removed.
func (s *Store) PurgeTombstones(ctx context.Context, olderThan time.Time) (int, error) {
	var n int64
	err := s.withTx(ctx, "purge tombstones", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM records
			WHERE deleted = 1
			  AND deleted_at IS NOT NULL AND deleted_at < ?
			  AND id NOT IN (SELECT record_id FROM change_log WHERE pushed = 0)
		`, olderThan.Unix())
		if err != nil {
			return storageErr("purge tombstones", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return storageErr("purge tombstones: rows affected", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int64("purged", n).Time("older_than", olderThan).Msg("tombstones purged")
	}
	return int(n), nil
}

func hasPending(ctx context.Context, q execer, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM change_log WHERE record_id = ? AND pushed = 0
	`, id).Scan(&n)
	if err != nil {
		return false, storageErr("check pending", err)
	}
	return n > 0, nil
}

// writeRecord upserts an envelope's row. deletedAt is stored only when the
// row is a tombstone; an existing deleted_at is kept when nil is passed.
func writeRecord(ctx context.Context, q execer, env record.Envelope, deletedAt *time.Time) error {
	body, err := marshalRecord(env.Record)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	var del any
	if env.Deleted && deletedAt != nil {
		del = deletedAt.Unix()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO records (id, body, clock, origin, status, deleted, deleted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			clock = excluded.clock,
			origin = excluded.origin,
			status = excluded.status,
			deleted = excluded.deleted,
			deleted_at = CASE
				WHEN excluded.deleted = 0 THEN NULL
				WHEN records.deleted_at IS NOT NULL THEN records.deleted_at
				ELSE excluded.deleted_at
			END,
			updated_at = excluded.updated_at
	`,
		env.ID(),
		body,
		env.Clock,
		env.Origin,
		string(env.Record.Status),
		boolToInt(env.Deleted),
		del,
		env.Record.UpdatedAt.Unix(),
	)
	if err != nil {
		return storageErr("write record", err)
	}
	return nil
}

// appendChange adds a change-log entry and keeps the log within its bound.
func (s *Store) appendChange(ctx context.Context, tx *sql.Tx, id string, op Op, clock int64, pushed bool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO change_log (record_id, op, clock, pushed, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, string(op), clock, boolToInt(pushed), s.now().UTC().Unix())
	if err != nil {
		return storageErr("append change", err)
	}
	return s.compactLog(ctx, tx)
}

// compactLog enforces maxLog. Pushed entries go first, oldest first; then
// pending entries superseded by a newer pending entry for the same record.
func (s *Store) compactLog(ctx context.Context, tx *sql.Tx) error {
	count := func() (int, error) {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM change_log`).Scan(&n); err != nil {
			return 0, storageErr("count change log", err)
		}
		return n, nil
	}

	n, err := count()
	if err != nil || n <= s.maxLog {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM change_log WHERE seq IN (
			SELECT seq FROM change_log WHERE pushed = 1 ORDER BY seq ASC LIMIT ?
		)
	`, n-s.maxLog); err != nil {
		return storageErr("trim change log", err)
	}

	if n, err = count(); err != nil || n <= s.maxLog {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM change_log
		WHERE pushed = 0 AND seq NOT IN (
			SELECT MAX(seq) FROM change_log WHERE pushed = 0 GROUP BY record_id
		)
	`); err != nil {
		return storageErr("compact change log", err)
	}

	if n, err = count(); err == nil && n > s.maxLog {
		s.log.Warn().Int("entries", n).Int("max", s.maxLog).
			Msg("change log over bound: more records pending than entries allowed")
	}
	return err
}

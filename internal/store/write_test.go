package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/subtrackr/internal/money"
	"github.com/roach88/subtrackr/internal/record"
	"github.com/roach88/subtrackr/internal/schedule"
)

func TestCreate_AssignsIDAndVersions(t *testing.T) {
	s := createTestStore(t)

	r := newSubscription("", "Streaming", "9.99", 15)
	r.Status = ""
	got := mustCreate(t, s, r)

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, record.Active, got.Status)
	assert.Equal(t, int64(1), got.Clock())
	for _, g := range record.Groups {
		assert.Equal(t, record.Version{Clock: 1, Origin: "device-a"}, got.Versions.Get(g), g)
	}
	assert.Equal(t, testNow, got.CreatedAt)

	changes, err := s.ChangeLog(t.Context(), 0, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, OpCreate, changes[0].Op)
	assert.Equal(t, got.ID, changes[0].RecordID)
	assert.False(t, changes[0].Pushed)
}

func TestCreate_DuplicateID(t *testing.T) {
	s := createTestStore(t)
	mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))

	_, err := s.Create(t.Context(), newSubscription("sub-1", "Other", "1.00", 1))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreate_DuplicateOfTombstone(t *testing.T) {
	s := createTestStore(t)
	mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))
	require.NoError(t, s.Delete(t.Context(), "sub-1"))

	_, err := s.Create(t.Context(), newSubscription("sub-1", "Streaming", "9.99", 15))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreate_Invalid(t *testing.T) {
	s := createTestStore(t)

	r := newSubscription("", " ", "9.99", 15)
	_, err := s.Create(t.Context(), r)
	assert.ErrorIs(t, err, record.ErrInvalidRecord)

	r = newSubscription("", "Gym", "9.99", 15)
	r.Cycle = schedule.CustomCycle(0)
	_, err = s.Create(t.Context(), r)
	assert.ErrorIs(t, err, schedule.ErrInvalidCycle)

	assert.Equal(t, 0, countRows(t, s, "records"))
	assert.Equal(t, 0, countRows(t, s, "change_log"))
}

func TestUpdate_BumpsOnlyChangedGroups(t *testing.T) {
	s := createTestStore(t)
	created := mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))

	got, err := s.Update(t.Context(), created.ID, func(r *record.Record) error {
		r.Cost = money.MustParse("12.99", "USD")
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), got.Clock())
	assert.Equal(t, int64(2), got.Versions.Billing.Clock)
	assert.Equal(t, int64(1), got.Versions.Details.Clock)
	assert.Equal(t, int64(1), got.Versions.Status.Clock)
	assert.True(t, got.Cost.Equal(money.MustParse("12.99", "USD")))

	stored, err := s.Get(t.Context(), created.ID)
	require.NoError(t, err)
	assert.True(t, record.Same(record.Wrap(got), record.Wrap(stored)))
}

func TestUpdate_NoChangeIsNoOp(t *testing.T) {
	s := createTestStore(t)
	created := mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))

	got, err := s.Update(t.Context(), created.ID, func(r *record.Record) error {
		r.Cost = money.MustParse("9.990", "USD")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Clock())
	assert.Equal(t, 1, countRows(t, s, "change_log"))
}

func TestUpdate_CannotRewriteIdentity(t *testing.T) {
	s := createTestStore(t)
	created := mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))

	got, err := s.Update(t.Context(), created.ID, func(r *record.Record) error {
		r.ID = "other"
		r.Versions = record.Versions{}
		r.Name = "Video"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", got.ID)
	assert.Equal(t, int64(2), got.Versions.Details.Clock)
	assert.Equal(t, 1, countRows(t, s, "records"))
}

func TestUpdate_InvalidLeavesRecordUntouched(t *testing.T) {
	s := createTestStore(t)
	created := mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))

	_, err := s.Update(t.Context(), created.ID, func(r *record.Record) error {
		r.Cost = money.MustParse("-1", "USD")
		return nil
	})
	assert.ErrorIs(t, err, record.ErrInvalidRecord)

	stored, err := s.Get(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "9.99", stored.Cost.StringFixed())
}

func TestUpdate_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Update(t.Context(), "missing", func(*record.Record) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetStatus(t *testing.T) {
	s := createTestStore(t)
	created := mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))

	got, err := s.SetStatus(t.Context(), created.ID, record.Paused)
	require.NoError(t, err)
	assert.Equal(t, record.Paused, got.Status)
	assert.Equal(t, int64(2), got.Versions.Status.Clock)

	_, err = s.SetStatus(t.Context(), created.ID, "archived")
	assert.ErrorIs(t, err, record.ErrInvalidRecord)
}

func TestDelete_CreatesTombstone(t *testing.T) {
	s := createTestStore(t)
	created := mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))

	require.NoError(t, s.Delete(t.Context(), created.ID))

	_, err := s.Get(t.Context(), created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	env, err := s.Envelope(t.Context(), created.ID)
	require.NoError(t, err)
	assert.True(t, env.Deleted)
	assert.Equal(t, int64(2), env.Clock)
	assert.Equal(t, "device-a", env.Origin)

	assert.ErrorIs(t, s.Delete(t.Context(), created.ID), ErrNotFound)

	_, err = s.Update(t.Context(), created.ID, func(r *record.Record) error {
		r.Name = "Back"
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyTombstone(t *testing.T) {
	s := createTestStore(t)
	created := mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))
	_, err := s.Update(t.Context(), created.ID, func(r *record.Record) error {
		r.Name = "Video"
		return nil
	})
	require.NoError(t, err)

	// Older than the live record: stored but the record stays visible.
	applied, err := s.ApplyTombstone(t.Context(), created.ID, 1, "device-b")
	require.NoError(t, err)
	assert.True(t, applied)
	_, err = s.Get(t.Context(), created.ID)
	assert.NoError(t, err)

	// Same version again: ignored.
	applied, err = s.ApplyTombstone(t.Context(), created.ID, 1, "device-b")
	require.NoError(t, err)
	assert.False(t, applied)

	// Equal to the record's clock: tombstone wins.
	applied, err = s.ApplyTombstone(t.Context(), created.ID, 2, "device-b")
	require.NoError(t, err)
	assert.True(t, applied)
	_, err = s.Get(t.Context(), created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ApplyTombstone(t.Context(), "missing", 5, "device-b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyMerged_KeepsConcurrentLocalEdit(t *testing.T) {
	s := createTestStore(t)
	created := mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))

	// Remote copy edited billing on another device at clock 2.
	remote := created
	remote.Cost = money.MustParse("12.99", "USD")
	remote.Touch("device-b", record.GroupBilling)

	// Local edit of details happened meanwhile at clock 2.
	_, err := s.Update(t.Context(), created.ID, func(r *record.Record) error {
		r.Name = "Video"
		return nil
	})
	require.NoError(t, err)

	out, err := s.ApplyMerged(t.Context(), []record.Envelope{record.Wrap(remote)})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Written)
	assert.Equal(t, []string{created.ID}, out.Ahead, "remote lacks the local name change")

	got, err := s.Get(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Video", got.Name)
	assert.Equal(t, "12.99", got.Cost.StringFixed())
	assert.Equal(t, int64(2), got.Clock(), "merge must not bump clocks")

	// Reapplying is a no-op.
	logged := countRows(t, s, "change_log")
	out, err = s.ApplyMerged(t.Context(), []record.Envelope{record.Wrap(remote)})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Written)
	assert.Equal(t, logged, countRows(t, s, "change_log"))
}

func TestApplyMerged_NewRecordIsNotPending(t *testing.T) {
	s := createTestStore(t)

	r := newSubscription("sub-9", "News", "5.00", 3)
	r.Touch("device-b", record.Groups...)
	out, err := s.ApplyMerged(t.Context(), []record.Envelope{record.Wrap(r)})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Written)
	assert.Empty(t, out.Ahead)

	pending, err := s.PendingChanges(t.Context())
	require.NoError(t, err)
	assert.Empty(t, pending.Envelopes)

	got, err := s.Get(t.Context(), "sub-9")
	require.NoError(t, err)
	assert.Equal(t, "News", got.Name)
}

func TestMarkPushed(t *testing.T) {
	s := createTestStore(t)
	mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))
	mustCreate(t, s, newSubscription("sub-2", "Music", "4.99", 1))

	pending, err := s.PendingChanges(t.Context())
	require.NoError(t, err)
	require.Len(t, pending.Envelopes, 2)

	// A change after the snapshot stays pending.
	_, err = s.SetStatus(t.Context(), "sub-2", record.Paused)
	require.NoError(t, err)

	require.NoError(t, s.MarkPushed(t.Context(), pending.IDs(), pending.UpToSeq))

	after, err := s.PendingChanges(t.Context())
	require.NoError(t, err)
	require.Len(t, after.Envelopes, 1)
	assert.Equal(t, "sub-2", after.Envelopes[0].ID())
	assert.Equal(t, record.Paused, after.Envelopes[0].Record.Status)
}

func TestChangeLog_Bounded(t *testing.T) {
	s := createTestStore(t, WithMaxLogEntries(3))
	mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))

	pending, err := s.PendingChanges(t.Context())
	require.NoError(t, err)
	require.NoError(t, s.MarkPushed(t.Context(), pending.IDs(), pending.UpToSeq))

	for _, name := range []string{"A", "B", "C", "D"} {
		_, err := s.Update(t.Context(), "sub-1", func(r *record.Record) error {
			r.Name = name
			return nil
		})
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, countRows(t, s, "change_log"), 3)

	pending, err = s.PendingChanges(t.Context())
	require.NoError(t, err)
	require.Len(t, pending.Envelopes, 1)
	assert.Equal(t, "D", pending.Envelopes[0].Record.Name)
}

func TestSetCursor(t *testing.T) {
	s := createTestStore(t)

	cursor, err := s.Cursor(t.Context())
	require.NoError(t, err)
	assert.Empty(t, cursor)

	require.NoError(t, s.SetCursor(t.Context(), "01J0000000000000000000000A"))
	require.NoError(t, s.SetCursor(t.Context(), "01J0000000000000000000000B"))

	cursor, err = s.Cursor(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "01J0000000000000000000000B", cursor)
}

func TestPurgeTombstones(t *testing.T) {
	s := createTestStore(t)
	mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))
	mustCreate(t, s, newSubscription("sub-2", "Music", "4.99", 1))
	require.NoError(t, s.Delete(t.Context(), "sub-1"))
	require.NoError(t, s.Delete(t.Context(), "sub-2"))

	// Nothing pushed yet: nothing purged.
	n, err := s.PurgeTombstones(t.Context(), testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	pending, err := s.PendingChanges(t.Context())
	require.NoError(t, err)
	require.NoError(t, s.MarkPushed(t.Context(), pending.IDs(), pending.UpToSeq))

	// Deleted at testNow, so a horizon at testNow keeps them.
	n, err = s.PurgeTombstones(t.Context(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.PurgeTombstones(t.Context(), testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, countRows(t, s, "records"))
}

func TestMarkPushed_OnlyNamedIDs(t *testing.T) {
	s := createTestStore(t)
	mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))
	mustCreate(t, s, newSubscription("sub-2", "Music", "4.99", 1))

	pending, err := s.PendingChanges(t.Context())
	require.NoError(t, err)

	// sub-2 was rejected by the remote.
	require.NoError(t, s.MarkPushed(t.Context(), []string{"sub-1"}, pending.UpToSeq))

	after, err := s.PendingChanges(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-2"}, after.IDs())
}

func TestCommitSync(t *testing.T) {
	s := createTestStore(t)
	created := mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))

	remote := created
	remote.Cost = money.MustParse("12.99", "USD")
	remote.Touch("device-b", record.GroupBilling)

	_, err := s.Update(t.Context(), created.ID, func(r *record.Record) error {
		r.Name = "Video"
		return nil
	})
	require.NoError(t, err)

	pending, err := s.PendingChanges(t.Context())
	require.NoError(t, err)
	require.Len(t, pending.Envelopes, 1)
	pushed, err := record.Merge(pending.Envelopes[0], record.Wrap(remote))
	require.NoError(t, err)

	out, err := s.CommitSync(t.Context(), SyncCommit{
		Merged:  []record.Envelope{record.Wrap(remote)},
		Pushed:  []record.Envelope{pushed},
		UpToSeq: pending.UpToSeq,
		Cursor:  "r0000000002",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Written)
	assert.Empty(t, out.Ahead)

	after, err := s.PendingChanges(t.Context())
	require.NoError(t, err)
	assert.Empty(t, after.Envelopes)

	cursor, err := s.Cursor(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "r0000000002", cursor)

	got, err := s.Get(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Video", got.Name)
	assert.Equal(t, "12.99", got.Cost.StringFixed())
}

func TestCommitSync_EditDuringPushStaysPending(t *testing.T) {
	s := createTestStore(t)
	created := mustCreate(t, s, newSubscription("sub-1", "Streaming", "9.99", 15))

	remote := created
	remote.Cost = money.MustParse("12.99", "USD")
	remote.Touch("device-b", record.GroupBilling)

	pending, err := s.PendingChanges(t.Context())
	require.NoError(t, err)
	pushed, err := record.Merge(pending.Envelopes[0], record.Wrap(remote))
	require.NoError(t, err)

	// Edited after the push left but before it was committed.
	_, err = s.Update(t.Context(), created.ID, func(r *record.Record) error {
		r.Notes = "family plan"
		return nil
	})
	require.NoError(t, err)

	out, err := s.CommitSync(t.Context(), SyncCommit{
		Merged:  []record.Envelope{record.Wrap(remote)},
		Pushed:  []record.Envelope{pushed},
		UpToSeq: pending.UpToSeq,
		Cursor:  "r0000000002",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{created.ID}, out.Ahead)

	after, err := s.PendingChanges(t.Context())
	require.NoError(t, err)
	require.Len(t, after.Envelopes, 1)
	assert.Equal(t, "family plan", after.Envelopes[0].Record.Notes)
	assert.Equal(t, "12.99", after.Envelopes[0].Record.Cost.StringFixed())
}

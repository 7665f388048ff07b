package remote

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/subtrackr/internal/record"
)

func TestMemory_PushThenPull(t *testing.T) {
	m := newTestMemory()
	ctx := t.Context()

	res, err := m.Push(ctx, PushRequest{Device: "a", Envelopes: []record.Envelope{
		envelope("s1", "9.99", 1, "a"),
		envelope("s2", "4.99", 1, "a"),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, res.Accepted)
	assert.Empty(t, res.Rejected)
	assert.True(t, res.FastForward)
	assert.Equal(t, "r0000000002", res.Head)

	page, err := m.Pull(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	assert.Equal(t, "s1", page.Documents[0].Envelope.ID())
	assert.Equal(t, "r0000000002", page.Cursor)
	assert.False(t, page.More)

	page, err = m.Pull(ctx, page.Cursor, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Documents)
	assert.Equal(t, "r0000000002", page.Cursor)
}

func TestMemory_PullPages(t *testing.T) {
	m := newTestMemory()
	ctx := t.Context()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := m.Push(ctx, PushRequest{Since: m.Head(), Envelopes: []record.Envelope{envelope(id, "1.00", 1, "x")}})
		require.NoError(t, err)
	}

	var (
		ids    []string
		cursor string
	)
	for {
		page, err := m.Pull(ctx, cursor, 2)
		require.NoError(t, err)
		for _, d := range page.Documents {
			ids = append(ids, d.Envelope.ID())
		}
		cursor = page.Cursor
		if !page.More {
			break
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
	assert.Equal(t, m.Head(), cursor)
}

func TestMemory_PullSkipsSupersededRevisions(t *testing.T) {
	m := newTestMemory()
	ctx := t.Context()

	_, err := m.Push(ctx, PushRequest{Envelopes: []record.Envelope{envelope("s1", "9.99", 1, "a")}})
	require.NoError(t, err)
	_, err = m.Push(ctx, PushRequest{Since: m.Head(), Envelopes: []record.Envelope{envelope("s1", "12.99", 2, "a")}})
	require.NoError(t, err)

	page, err := m.Pull(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
	assert.Equal(t, "12.99", page.Documents[0].Envelope.Record.Cost.StringFixed())
	assert.Equal(t, "r0000000002", page.Documents[0].Revision)
}

func TestMemory_RejectsStaleWriters(t *testing.T) {
	m := newTestMemory()
	ctx := t.Context()

	base, err := m.Push(ctx, PushRequest{Device: "a", Envelopes: []record.Envelope{envelope("s1", "9.99", 1, "a")}})
	require.NoError(t, err)

	// Device b edits s1 after a's cursor.
	_, err = m.Push(ctx, PushRequest{Device: "b", Since: base.Head, Envelopes: []record.Envelope{envelope("s1", "12.99", 2, "b")}})
	require.NoError(t, err)

	// Device a still believes base.Head is current.
	res, err := m.Push(ctx, PushRequest{Device: "a", Since: base.Head, Envelopes: []record.Envelope{
		envelope("s1", "10.99", 2, "a"),
		envelope("s2", "1.00", 1, "a"),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, res.Accepted)
	assert.Equal(t, []string{"s1"}, res.Rejected)
	assert.False(t, res.FastForward)

	doc, ok := m.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "12.99", doc.Envelope.Record.Cost.StringFixed())
}

func TestMemory_IdenticalPushKeepsRevision(t *testing.T) {
	m := newTestMemory()
	ctx := t.Context()

	env := envelope("s1", "9.99", 1, "a")
	first, err := m.Push(ctx, PushRequest{Envelopes: []record.Envelope{env}})
	require.NoError(t, err)

	again, err := m.Push(ctx, PushRequest{Since: first.Head, Envelopes: []record.Envelope{env}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, again.Accepted)
	assert.Equal(t, first.Head, again.Head)
	assert.True(t, again.FastForward)
}

func TestMemory_Offline(t *testing.T) {
	m := newTestMemory()
	m.SetOffline(true)

	_, err := m.Pull(t.Context(), "", 0)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = m.Push(t.Context(), PushRequest{Envelopes: []record.Envelope{envelope("s1", "1.00", 1, "a")}})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, m.Documents())

	m.SetOffline(false)
	_, err = m.Pull(t.Context(), "", 0)
	assert.NoError(t, err)
}

func TestMemory_BadRequest(t *testing.T) {
	m := newTestMemory()
	_, err := m.Push(t.Context(), PushRequest{Envelopes: []record.Envelope{{}}})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestMemory_CancelledContext(t *testing.T) {
	m := newTestMemory()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := m.Pull(ctx, "", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestULIDTokens_Monotonic(t *testing.T) {
	fixed := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	now := fixed
	g := NewULIDTokens(func() time.Time { return now })

	var got []string
	for i := 0; i < 100; i++ {
		got = append(got, g.Next())
	}
	now = fixed.Add(-time.Hour) // clock steps back
	got = append(got, g.Next())

	assert.True(t, sort.StringsAreSorted(got))
	for i := 1; i < len(got); i++ {
		assert.NotEqual(t, got[i-1], got[i])
	}

	id, err := ulid.ParseStrict(got[0])
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(fixed), id.Time())
}

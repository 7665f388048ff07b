package remote

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/subtrackr/internal/record"
	"github.com/roach88/subtrackr/internal/testutil"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"), testutil.NewSeqTokens("r"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_MatchesMemory(t *testing.T) {
	ctx := t.Context()
	backends := map[string]Backend{
		"memory": newTestMemory(),
		"sqlite": openTestSQLite(t),
	}

	for name, b := range backends {
		t.Run(name, func(t *testing.T) {
			first, err := b.Push(ctx, PushRequest{Device: "a", Envelopes: []record.Envelope{
				envelope("s1", "9.99", 1, "a"),
				envelope("s2", "4.99", 1, "a"),
			}})
			require.NoError(t, err)
			assert.True(t, first.FastForward)
			assert.Equal(t, "r0000000002", first.Head)

			// b writes s1 after first.Head; a's stale push of s1 is rejected.
			_, err = b.Push(ctx, PushRequest{Device: "b", Since: first.Head, Envelopes: []record.Envelope{
				envelope("s1", "12.99", 2, "b"),
			}})
			require.NoError(t, err)

			stale, err := b.Push(ctx, PushRequest{Device: "a", Since: first.Head, Envelopes: []record.Envelope{
				envelope("s1", "10.99", 2, "a"),
				envelope("s2", "4.99", 1, "a"),
			}})
			require.NoError(t, err)
			assert.Equal(t, []string{"s2"}, stale.Accepted)
			assert.Equal(t, []string{"s1"}, stale.Rejected)
			assert.False(t, stale.FastForward)
			assert.Equal(t, "r0000000003", stale.Head)

			page, err := b.Pull(ctx, "", 1)
			require.NoError(t, err)
			require.Len(t, page.Documents, 1)
			assert.Equal(t, "s2", page.Documents[0].Envelope.ID())
			assert.True(t, page.More)

			page, err = b.Pull(ctx, page.Cursor, 10)
			require.NoError(t, err)
			require.Len(t, page.Documents, 1)
			assert.Equal(t, "s1", page.Documents[0].Envelope.ID())
			assert.Equal(t, "12.99", page.Documents[0].Envelope.Record.Cost.StringFixed())
			assert.False(t, page.More)
			assert.Equal(t, "r0000000003", page.Cursor)
		})
	}
}

func TestSQLite_PersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	s, err := OpenSQLite(path, nil)
	require.NoError(t, err)
	res, err := s.Push(t.Context(), PushRequest{Envelopes: []record.Envelope{envelope("s1", "9.99", 1, "a")}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, nil)
	require.NoError(t, err)
	defer s.Close()

	head, err := s.Head(t.Context())
	require.NoError(t, err)
	assert.Equal(t, res.Head, head)

	page, err := s.Pull(t.Context(), "", 0)
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
	assert.True(t, record.Same(envelope("s1", "9.99", 1, "a"), page.Documents[0].Envelope))
}

func TestSQLite_ReopenWithClockBehind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	s, err := OpenSQLite(path, NewULIDTokens(func() time.Time { return now }))
	require.NoError(t, err)
	first, err := s.Push(t.Context(), PushRequest{Envelopes: []record.Envelope{envelope("a", "9.99", 1, "a")}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	behind := now.Add(-time.Minute)
	s, err = OpenSQLite(path, NewULIDTokens(func() time.Time { return behind }))
	require.NoError(t, err)
	defer s.Close()

	second, err := s.Push(t.Context(), PushRequest{
		Since:     first.Head,
		Envelopes: []record.Envelope{envelope("b", "4.99", 1, "a")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, second.Accepted)
	assert.Greater(t, second.Head, first.Head)

	page, err := s.Pull(t.Context(), first.Head, 0)
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
	assert.Equal(t, "b", page.Documents[0].Envelope.ID())
}

func TestULIDTokens_Seed(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	ahead := NewULIDTokens(func() time.Time { return now.Add(time.Hour) }).Next()

	g := NewULIDTokens(func() time.Time { return now })
	g.Seed("not-a-ulid")
	g.Seed(ahead)
	assert.Greater(t, g.Next(), ahead)
}

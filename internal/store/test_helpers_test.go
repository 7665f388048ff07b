package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/subtrackr/internal/date"
	"github.com/roach88/subtrackr/internal/money"
	"github.com/roach88/subtrackr/internal/record"
	"github.com/roach88/subtrackr/internal/schedule"
)

// testNow is the wall clock every test store reports.
var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

// createTestStore opens a store in a temp dir with a fixed device id and clock.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{
		WithDeviceID("device-a"),
		WithClock(func() time.Time { return testNow }),
	}, opts...)
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newSubscription returns an unsaved monthly subscription.
func newSubscription(id, name, amount string, dayOfMonth int) record.Record {
	return record.Record{
		ID:     id,
		Name:   name,
		Cost:   money.MustParse(amount, "USD"),
		Cycle:  schedule.MonthlyCycle(dayOfMonth),
		Anchor: date.New(2026, time.January, dayOfMonth),
		Status: record.Active,
	}
}

// mustCreate saves r and fails the test on error.
func mustCreate(t *testing.T, s *Store, r record.Record) record.Record {
	t.Helper()
	out, err := s.Create(t.Context(), r)
	require.NoError(t, err)
	return out
}

// countRows returns COUNT(*) of table.
func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

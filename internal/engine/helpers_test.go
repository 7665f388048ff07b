package engine

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/subtrackr/internal/date"
	"github.com/roach88/subtrackr/internal/money"
	"github.com/roach88/subtrackr/internal/record"
	"github.com/roach88/subtrackr/internal/remote"
	"github.com/roach88/subtrackr/internal/schedule"
	"github.com/roach88/subtrackr/internal/store"
	"github.com/roach88/subtrackr/internal/testutil"
)

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type device struct {
	store  *store.Store
	engine *Engine
}

func newTestRemote() *remote.Memory {
	return remote.NewMemory(remote.WithTokens(testutil.NewSeqTokens("r")))
}

// newDevice opens a store for name and an engine syncing it against rem.
func newDevice(t *testing.T, name string, rem Remote, opts ...Option) *device {
	t.Helper()
	s, err := store.Open(
		filepath.Join(t.TempDir(), name+".db"),
		store.WithDeviceID(name),
		store.WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &device{store: s, engine: New(s, rem, opts...)}
}

func (d *device) sync(t *testing.T) MergeResult {
	t.Helper()
	res, err := d.engine.Sync(t.Context())
	require.NoError(t, err)
	return res
}

func (d *device) get(t *testing.T, id string) record.Record {
	t.Helper()
	r, err := d.store.Get(t.Context(), id)
	require.NoError(t, err)
	return r
}

func (d *device) cursor(t *testing.T) string {
	t.Helper()
	c, err := d.store.Cursor(t.Context())
	require.NoError(t, err)
	return c
}

func newStreaming(id string) record.Record {
	return record.Record{
		ID:     id,
		Name:   "Streaming",
		Cost:   money.MustParse("9.99", "USD"),
		Cycle:  schedule.MonthlyCycle(15),
		Anchor: date.New(2026, time.January, 15),
		Status: record.Active,
	}
}

// hookRemote wraps a Remote and runs beforePush once, ahead of the first push.
type hookRemote struct {
	Remote
	once       sync.Once
	beforePush func(ctx context.Context)
}

func (h *hookRemote) Push(ctx context.Context, req remote.PushRequest) (remote.PushResult, error) {
	h.once.Do(func() { h.beforePush(ctx) })
	return h.Remote.Push(ctx, req)
}

// countingRemote counts calls and can fail pushes.
type countingRemote struct {
	Remote
	mu       sync.Mutex
	pulls    int
	pushes   int
	pushErr  error
	pullGate chan struct{}
}

func (c *countingRemote) Pull(ctx context.Context, cursor string, limit int) (remote.Page, error) {
	c.mu.Lock()
	c.pulls++
	gate := c.pullGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return c.Remote.Pull(ctx, cursor, limit)
}

func (c *countingRemote) Push(ctx context.Context, req remote.PushRequest) (remote.PushResult, error) {
	c.mu.Lock()
	c.pushes++
	err := c.pushErr
	c.mu.Unlock()
	if err != nil {
		return remote.PushResult{}, err
	}
	return c.Remote.Push(ctx, req)
}

func (c *countingRemote) calls() (pulls, pushes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pulls, c.pushes
}

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }

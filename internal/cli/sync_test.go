package cli

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/subtrackr/internal/engine"
	"github.com/roach88/subtrackr/internal/remote"
	"github.com/roach88/subtrackr/internal/testutil"
)

func newRemoteServer(t *testing.T) (*remote.Memory, *httptest.Server) {
	t.Helper()
	mem := remote.NewMemory(remote.WithTokens(testutil.NewSeqTokens("r")))
	srv := httptest.NewServer(remote.NewServer(mem))
	t.Cleanup(srv.Close)
	return mem, srv
}

func remoteConfig(url string) string {
	return `remote: {url: "` + url + `"}`
}

func TestSync_TwoDevices(t *testing.T) {
	mem, srv := newRemoteServer(t)
	x := newTestEnv(t, "dev-x", remoteConfig(srv.URL))
	y := newTestEnv(t, "dev-y", remoteConfig(srv.URL))

	x.addStreaming(t)
	assert.Equal(t, "Synced: pulled 0, applied 0, pushed 1, conflicts 0, rounds 1\n", x.mustRun(t, "sync"))

	var res engine.MergeResult
	y.runJSON(t, &res, "sync")
	assert.Equal(t, 1, res.Pulled)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 0, res.Pushed)
	assert.Equal(t, "r0000000001", res.Cursor)

	// A price change on y survives on x with the renewal date unchanged.
	y.mustRun(t, "edit", "sub-1", "--cost", "12.99")
	y.runJSON(t, &res, "sync")
	assert.Equal(t, 1, res.Pushed)
	x.runJSON(t, &res, "sync")
	assert.Equal(t, 1, res.Applied)

	var rec recordJSON
	x.runJSON(t, &rec, "show", "sub-1")
	assert.Equal(t, "12.99", rec.Cost.Amount)
	assert.Equal(t, "2026-03-15", rec.NextRenewal)

	// Deletion propagates.
	x.mustRun(t, "delete", "sub-1")
	x.mustRun(t, "sync")
	y.mustRun(t, "sync")
	assert.Equal(t, "No subscriptions.\n", y.mustRun(t, "list"))

	doc, ok := mem.Get("sub-1")
	require.True(t, ok)
	assert.True(t, doc.Envelope.Deleted)
}

func TestSync_SecondRunIsNoop(t *testing.T) {
	_, srv := newRemoteServer(t)
	x := newTestEnv(t, "dev-x", remoteConfig(srv.URL))
	x.addStreaming(t)
	x.mustRun(t, "sync")

	var res engine.MergeResult
	x.runJSON(t, &res, "sync")
	assert.Zero(t, res.Pulled)
	assert.Zero(t, res.Applied)
	assert.Zero(t, res.Pushed)
	assert.Equal(t, "r0000000001", res.Cursor)
}

func TestSync_RemoteFlag(t *testing.T) {
	_, srv := newRemoteServer(t)
	x := newTestEnv(t, "dev-x")
	x.addStreaming(t)

	var res engine.MergeResult
	x.runJSON(t, &res, "sync", "--remote", srv.URL)
	assert.Equal(t, 1, res.Pushed)
}

func TestSync_NoRemote(t *testing.T) {
	x := newTestEnv(t, "dev-x")

	_, stderr, err := x.run("sync")
	requireFailure(t, err, stderr, ExitCommandError, ErrCodeConfig)
	assert.Contains(t, stderr, "no remote configured")
}

func TestSync_Unavailable(t *testing.T) {
	_, srv := newRemoteServer(t)
	url := srv.URL
	srv.Close()

	x := newTestEnv(t, "dev-x", remoteConfig(url))
	x.addStreaming(t)

	_, stderr, err := x.run("sync")
	requireFailure(t, err, stderr, ExitFailure, ErrCodeSyncUnavailable)

	// Local data is untouched.
	assert.Contains(t, x.mustRun(t, "list"), "Streaming")
}

func TestSync_OfflineBackend(t *testing.T) {
	mem, srv := newRemoteServer(t)
	mem.SetOffline(true)

	x := newTestEnv(t, "dev-x", remoteConfig(srv.URL))
	x.addStreaming(t)

	_, stderr, err := x.run("sync")
	requireFailure(t, err, stderr, ExitFailure, ErrCodeSyncUnavailable)

	mem.SetOffline(false)
	var res engine.MergeResult
	x.runJSON(t, &res, "sync")
	assert.Equal(t, 1, res.Pushed)
}

func TestPurge(t *testing.T) {
	_, srv := newRemoteServer(t)
	x := newTestEnv(t, "dev-x", remoteConfig(srv.URL))
	x.addStreaming(t)
	x.mustRun(t, "delete", "sub-1")
	x.now = x.now.Add(2 * time.Hour)

	// Not pushed yet.
	assert.Equal(t, "Purged 0 tombstone(s)\n", x.mustRun(t, "purge", "--older-than", "1h"))

	x.mustRun(t, "sync")
	// Too recent for the default retention.
	assert.Equal(t, "Purged 0 tombstone(s)\n", x.mustRun(t, "purge"))

	var res map[string]int
	x.runJSON(t, &res, "purge", "--older-than", "1h")
	assert.Equal(t, 1, res["purged"])

	var recs []recordJSON
	x.runJSON(t, &recs, "list", "--all")
	assert.Empty(t, recs)

	_, stderr, err := x.run("purge", "--older-than", "-1h")
	requireFailure(t, err, stderr, ExitCommandError, ErrCodeInvalidInput)
}

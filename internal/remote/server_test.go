package remote

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/subtrackr/internal/metrics"
	"github.com/roach88/subtrackr/internal/record"
)

func newTestServer(t *testing.T, backend Backend, opts ...ServerOption) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(NewServer(backend, opts...))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	return c, srv
}

func TestClientServer_RoundTrip(t *testing.T) {
	mem := newTestMemory()
	c, _ := newTestServer(t, mem)
	ctx := t.Context()

	env := envelope("s1", "9.99", 1, "a")
	env.Record.Notes = "shared <family> plan"
	res, err := c.Push(ctx, PushRequest{Device: "a", Envelopes: []record.Envelope{env}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, res.Accepted)
	assert.True(t, res.FastForward)
	assert.Equal(t, mem.Head(), res.Head)

	page, err := c.Pull(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
	assert.True(t, record.Same(env, page.Documents[0].Envelope))
	assert.Equal(t, res.Head, page.Cursor)
}

func TestClientServer_UnavailableBackend(t *testing.T) {
	mem := newTestMemory()
	mem.SetOffline(true)
	c, _ := newTestServer(t, mem)

	_, err := c.Pull(t.Context(), "", 0)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.Push(t.Context(), PushRequest{Envelopes: []record.Envelope{envelope("s1", "1.00", 1, "a")}})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_ServerDown(t *testing.T) {
	c, srv := newTestServer(t, newTestMemory())
	srv.Close()

	_, err := c.Pull(t.Context(), "", 0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientServer_BadRequest(t *testing.T) {
	c, srv := newTestServer(t, newTestMemory())

	_, err := c.Push(t.Context(), PushRequest{Envelopes: []record.Envelope{{}}})
	assert.ErrorIs(t, err, ErrBadRequest)

	resp, err := http.Get(srv.URL + "/v1/documents?limit=-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRemote(reg)

	s := NewServer(newTestMemory(), WithServerMetrics(m))
	s.Handle("GET /metrics", metrics.Handler(reg))
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)
	_, err = c.Pull(t.Context(), "", 0)
	require.NoError(t, err)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	count, err := promtest.GatherAndCount(reg, "subtrackr_remote_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://example.com")
	assert.Error(t, err)
	_, err = NewClient("://nope")
	assert.Error(t, err)
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// testEnv is one simulated device: a config file and data dir under a
// temp dir, and a fixed wall clock.
type testEnv struct {
	dir    string
	config string
	now    time.Time
}

func newTestEnv(t *testing.T, device string, extra ...string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := []string{
		"data_dir: " + dir,
		"device: " + device,
		"log: {level: error, format: json}",
		"currency:",
		"  home: USD",
		"  rates: {EUR: \"0.5\"}",
	}
	cfg = append(cfg, extra...)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(cfg, "\n")+"\n"), 0o644))
	return &testEnv{dir: dir, config: path, now: testNow}
}

// run executes one CLI invocation and returns stdout, stderr and the error.
func (e *testEnv) run(args ...string) (string, string, error) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	now := e.now
	cmd := newRootCommand(&RootOptions{now: func() time.Time { return now }})
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// mustRun fails the test when the invocation fails.
func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := e.run(args...)
	require.NoError(t, err, "stderr: %s", errOut)
	return out
}

// runJSON runs with --format json and decodes the response envelope.
func (e *testEnv) runJSON(t *testing.T, data any, args ...string) {
	t.Helper()
	out := e.mustRun(t, append([]string{"--format", "json"}, args...)...)
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	if data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data), string(resp.Data))
	}
}

// addStreaming adds the monthly 9.99 USD fixture as sub-1.
func (e *testEnv) addStreaming(t *testing.T) {
	t.Helper()
	e.mustRun(t, "add", "--id", "sub-1", "--name", "Streaming", "--cost", "9.99",
		"--cycle", "monthly:15", "--anchor", "2026-01-15")
}

// addStorage adds the yearly 120 EUR fixture as sub-2.
func (e *testEnv) addStorage(t *testing.T) {
	t.Helper()
	e.mustRun(t, "add", "--id", "sub-2", "--name", "Cloud Storage", "--cost", "120",
		"--currency", "EUR", "--cycle", "yearly:03-20", "--anchor", "2025-03-20")
}

// requireFailure checks a failed invocation's exit code and reported error code.
func requireFailure(t *testing.T, err error, stderr string, exit int, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, exit, GetExitCode(err), err.Error())
	require.True(t, IsReported(err))
	require.Contains(t, stderr, "Error ["+code+"]")
}

package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/subtrackr/internal/record"
)

// MarshalTrace renders a trace as canonical JSON, one event per line.
func MarshalTrace(trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	for _, ev := range trace {
		line, err := record.MarshalCanonical(ev.canonical())
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario, fails t on any unmet expectation and
// compares the trace against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario) *Result {
	t.Helper()

	result, err := Run(t.Context(), sc)
	if err != nil {
		t.Fatalf("run scenario %s: %v", sc.Name, err)
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	AssertGolden(t, sc.Name, result)
	return result
}

// AssertGolden compares result's trace against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	data, err := MarshalTrace(result.Trace)
	if err != nil {
		t.Fatalf("marshal trace: %v", err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

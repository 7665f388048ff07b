package harness_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/subtrackr/internal/harness"
)

const validScenario = `
name: ok
description: minimal
devices: [x, y]
steps:
  - device: x
    sync: {}
  - advance: 24h
assertions:
  - type: converged
`

func TestParseScenario(t *testing.T) {
	sc, err := harness.ParseScenario([]byte(validScenario))
	require.NoError(t, err)
	assert.Equal(t, "ok", sc.Name)
	assert.Equal(t, []string{"x", "y"}, sc.Devices)
	require.Len(t, sc.Steps, 2)
	assert.Equal(t, harness.OpSync, sc.Steps[0].Kind())
	assert.Equal(t, harness.OpAdvance, sc.Steps[1].Kind())
	assert.Equal(t, 24*time.Hour, sc.Steps[1].Advance)
	assert.True(t, sc.Now.IsZero())
}

func TestParseScenario_OfflineKinds(t *testing.T) {
	on, off := false, true
	assert.Equal(t, harness.OpOffline, harness.Step{Offline: &off}.Kind())
	assert.Equal(t, harness.OpOnline, harness.Step{Offline: &on}.Kind())
	assert.Equal(t, harness.OpDelete, harness.Step{Delete: "sub-1"}.Kind())
	assert.Equal(t, "", harness.Step{}.Kind())
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: a\ndescription: b\ndevices: [x]\nstepz: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: "description: b\ndevices: [x]\nsteps: [{device: x, sync: {}}]\nassertions: [{type: converged}]\n",
			want: "name is required",
		},
		{
			name: "no devices",
			yaml: "name: a\ndescription: b\nsteps: [{device: x, sync: {}}]\nassertions: [{type: converged}]\n",
			want: "devices list is required",
		},
		{
			name: "duplicate device",
			yaml: "name: a\ndescription: b\ndevices: [x, x]\nsteps: [{device: x, sync: {}}]\nassertions: [{type: converged}]\n",
			want: `duplicate device "x"`,
		},
		{
			name: "two actions",
			yaml: "name: a\ndescription: b\ndevices: [x]\nsteps: [{device: x, sync: {}, delete: sub-1}]\nassertions: [{type: converged}]\n",
			want: "exactly one action is required, got 2",
		},
		{
			name: "no action",
			yaml: "name: a\ndescription: b\ndevices: [x]\nsteps: [{device: x}]\nassertions: [{type: converged}]\n",
			want: "exactly one action is required, got 0",
		},
		{
			name: "unknown device",
			yaml: "name: a\ndescription: b\ndevices: [x]\nsteps: [{device: z, sync: {}}]\nassertions: [{type: converged}]\n",
			want: `unknown device "z"`,
		},
		{
			name: "unknown counter",
			yaml: "name: a\ndescription: b\ndevices: [x]\nsteps: [{device: x, sync: {expect: {fetched: 1}}}]\nassertions: [{type: converged}]\n",
			want: `unknown sync counter "fetched"`,
		},
		{
			name: "unknown error code",
			yaml: "name: a\ndescription: b\ndevices: [x]\nsteps: [{device: x, sync: {error: BOOM}}]\nassertions: [{type: converged}]\n",
			want: `unknown error code "BOOM"`,
		},
		{
			name: "error and counters",
			yaml: "name: a\ndescription: b\ndevices: [x]\nsteps: [{device: x, sync: {error: UNAVAILABLE, expect: {pushed: 1}}}]\nassertions: [{type: converged}]\n",
			want: "cannot expect both",
		},
		{
			name: "status without target",
			yaml: "name: a\ndescription: b\ndevices: [x]\nsteps: [{device: x, status: {id: sub-1}}]\nassertions: [{type: converged}]\n",
			want: "status needs id and to",
		},
		{
			name: "negative advance",
			yaml: "name: a\ndescription: b\ndevices: [x]\nsteps: [{advance: -1h}]\nassertions: [{type: converged}]\n",
			want: "advance must be positive",
		},
		{
			name: "no assertions",
			yaml: "name: a\ndescription: b\ndevices: [x]\nsteps: [{device: x, sync: {}}]\n",
			want: "assertions list is required",
		},
		{
			name: "unknown assertion",
			yaml: "name: a\ndescription: b\ndevices: [x]\nsteps: [{device: x, sync: {}}]\nassertions: [{type: tidy}]\n",
			want: `unknown assertion type "tidy"`,
		},
		{
			name: "unknown record field",
			yaml: "name: a\ndescription: b\ndevices: [x]\nsteps: [{device: x, sync: {}}]\nassertions: [{type: record, device: x, id: sub-1, expect: {price: '1'}}]\n",
			want: `unknown record field "price"`,
		},
		{
			name: "deleted without id",
			yaml: "name: a\ndescription: b\ndevices: [x]\nsteps: [{device: x, sync: {}}]\nassertions: [{type: deleted, device: x}]\n",
			want: "deleted needs an id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := harness.ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := harness.LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

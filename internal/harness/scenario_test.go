package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Defaults(t *testing.T) {
	s := mustParse(t, `
name: minimal
description: one step
flow:
  - do: load
`)
	assert.Equal(t, DefaultOwner, s.Owner)
	assert.Nil(t, s.Final)
	require.Len(t, s.Flow, 1)
	assert.Equal(t, "load", s.Flow[0].Do)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing name",
			src:  "description: d\nflow:\n  - do: load\n",
			want: "name is required",
		},
		{
			name: "missing description",
			src:  "name: n\nflow:\n  - do: load\n",
			want: "description is required",
		},
		{
			name: "empty flow",
			src:  "name: n\ndescription: d\n",
			want: "flow list is required",
		},
		{
			name: "unknown field",
			src:  "name: n\ndescription: d\nflwo: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "unknown action",
			src:  "name: n\ndescription: d\nflow:\n  - do: todo.frobnicate\n",
			want: `unknown action "todo.frobnicate"`,
		},
		{
			name: "hold without request",
			src:  "name: n\ndescription: d\nflow:\n  - do: load\n    as: x\n    hold: true\n",
			want: "sends no remote request",
		},
		{
			name: "hold and fail",
			src:  "name: n\ndescription: d\nflow:\n  - do: todo.create\n    args: {title: a}\n    as: x\n    hold: true\n    fail: down\n",
			want: "exclusive",
		},
		{
			name: "unnamed hold",
			src:  "name: n\ndescription: d\nflow:\n  - do: todo.create\n    args: {title: a}\n    hold: true\n",
			want: "need a name",
		},
		{
			name: "release of unheld step",
			src:  "name: n\ndescription: d\nflow:\n  - do: release\n    args: {step: x}\n",
			want: "not a held step",
		},
		{
			name: "check without block",
			src:  "name: n\ndescription: d\nflow:\n  - do: check\n",
			want: "needs a check block",
		},
		{
			name: "unknown reference",
			src:  "name: n\ndescription: d\nflow:\n  - do: todo.toggle\n    args: {todo: \"@milk\"}\n",
			want: "unknown reference @milk",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_ReleaseTwice(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: n
description: d
flow:
  - do: todo.create
    args: {title: a}
    as: a
    hold: true
  - do: release
    args: {step: a}
  - do: release
    args: {step: a}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow[2]")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadDir_SortedByFileName(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)

	var names []string
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"buy_milk", "category_filter", "lagging_events", "rollback"}, names)
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

func runTestCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCommand(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentPath(t *testing.T) {
	_, err := runTestCommand(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario path not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := runTestCommand(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := runTestCommand(t, "json", t.TempDir())
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandRunsScenarios(t *testing.T) {
	out, err := runTestCommand(t, "text", harnessScenarios)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ buy_milk")
	assert.Contains(t, out, "✓ rollback")
	assert.Contains(t, out, "4 passed, 0 failed, 4 total")
}

func TestTestCommandFilter(t *testing.T) {
	out, err := runTestCommand(t, "json", harnessScenarios, "--filter", "roll*")
	require.NoError(t, err, out)

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
	require.Len(t, response.Data.Scenarios, 1)
	assert.Equal(t, "rollback", response.Data.Scenarios[0].Name)
	assert.Equal(t, 1, response.Data.Passed)
}

const failingScenario = `
name: wrong_final
description: final state names a todo that is never created
flow:
  - do: todo.create
    args: {title: Buy milk}
final:
  todos: [Buy bread]
`

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "wrong_final.yaml")
	require.NoError(t, os.WriteFile(file, []byte(failingScenario), 0o644))

	out, err := runTestCommand(t, "text", file)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_final")
	assert.Contains(t, out, "final: todos")
}

func TestTestCommandUpdateWritesGolden(t *testing.T) {
	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0o755))
	src, err := os.ReadFile(filepath.Join(harnessScenarios, "buy_milk.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, "buy_milk.yaml"), src, 0o644))

	_, err = runTestCommand(t, "text", scenarios, "--update")
	require.NoError(t, err)

	golden, err := os.ReadFile(filepath.Join(root, "golden", "buy_milk.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), "scenario buy_milk\n")

	// A stale golden file fails the run.
	require.NoError(t, os.WriteFile(filepath.Join(root, "golden", "buy_milk.golden"), []byte("stale\n"), 0o644))
	out, err := runTestCommand(t, "text", scenarios)
	require.Error(t, err)
	assert.Contains(t, out, "golden file mismatch")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	for _, name := range []string{"rollback.yaml", "buy_milk.yml", "notes.txt", "nested/lagging.yaml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Len(t, files, 3)

	files, err = findScenarioFiles(dir, "roll*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "rollback.yaml")}, files)

	_, err = findScenarioFiles(dir, "[")
	assert.Error(t, err)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("testdata", "golden", "buy_milk.golden"),
		goldenFilePath(filepath.Join("testdata", "scenarios", "buy_milk.yaml"), "buy_milk"))
	assert.Equal(t,
		filepath.Join("/srv", "golden", "renamed.golden"),
		goldenFilePath("/srv/scenarios/file.yml", "renamed"))
}

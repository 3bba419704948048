package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Trace, len(s.Flow))
		})
	}
}

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestRun_FinalMismatchFails(t *testing.T) {
	s := mustParse(t, `
name: mismatch
description: final lists the wrong title
flow:
  - do: todo.create
    args: {title: Buy milk}
final:
  todos: [Buy bread]
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "final: todos")
}

func TestRun_UnexpectedSuccessFails(t *testing.T) {
	s := mustParse(t, `
name: unexpected_success
description: the step was expected to fail
flow:
  - do: todo.create
    args: {title: Buy milk}
    expect: {error: boom}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], `expected error containing "boom"`)
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	s := mustParse(t, `
name: unexpected_error
description: editing an unknown todo fails
flow:
  - do: todo.edit
    args: {todo: t404, title: Nothing}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "t404", result.Trace[0].ID)
	assert.Contains(t, result.Trace[0].Error, "not found")
}

func TestRun_ReleasesHeldStepsAtEnd(t *testing.T) {
	s := mustParse(t, `
name: never_released
description: held requests still complete before final is checked
flow:
  - do: todo.create
    args: {title: Buy milk}
    as: milk
    hold: true
  - do: category.create
    args: {title: Groceries}
    as: groceries
    hold: true
final:
  todos: [Buy milk]
  categories: [Groceries]
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	// Held requests are released in issue order, so ids follow it.
	todo, ok := result.Final.Todo(result.Final.Todos[0].ID)
	require.True(t, ok)
	assert.Equal(t, "id1", todo.ID.String())
	assert.Equal(t, "id2", result.Final.Categories[0].ID.String())
}

func TestRun_EventReferencesResolve(t *testing.T) {
	s := mustParse(t, `
name: event_refs
description: event records may name flow records
flow:
  - do: todo.create
    args: {title: Buy milk}
    as: milk
  - do: event
    args:
      table: todos
      type: update
      record: {id: "@milk", title: Buy milk}
final:
  todos: [Buy milk]
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "id1", result.Trace[0].ID)
}

func TestRender(t *testing.T) {
	r := NewResult()
	r.AddTrace("todo.create", "temp_tok-1", nil)
	r.AddTrace("release", "id1", assert.AnError)
	r.AddError("boom")

	want := "scenario demo\n" +
		"step 1 todo.create id=temp_tok-1 ok\n" +
		"step 2 release id=id1 error=\"" + assert.AnError.Error() + "\"\n" +
		"error boom\n"
	assert.Equal(t, want, string(Render("demo", r)))
	assert.False(t, r.Pass)
}

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "todosync", cmd.Use)
	assert.Contains(t, cmd.Long, "reconciles")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"todo", "add"},
		{"todo", "edit"},
		{"todo", "toggle"},
		{"todo", "rm"},
		{"todo", "ls"},
		{"todo", "tag"},
		{"todo", "untag"},
		{"category", "add"},
		{"category", "edit"},
		{"category", "rm"},
		{"category", "ls"},
		{"watch"},
		{"serve"},
		{"token"},
		{"test"},
		{"config", "validate"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestCommandAliases(t *testing.T) {
	cmd := NewRootCommand()

	sub, _, err := cmd.Find([]string{"cat", "list"})
	require.NoError(t, err)
	assert.Equal(t, "ls", sub.Name())

	sub, _, err = cmd.Find([]string{"todo", "delete"})
	require.NoError(t, err)
	assert.Equal(t, "rm", sub.Name())
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	dsnFlag := cmd.PersistentFlags().Lookup("dsn")
	require.NotNil(t, dsnFlag)
	assert.Equal(t, "memory://", dsnFlag.DefValue)

	for _, name := range []string{"config", "owner", "token", "log-file"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	filterFlag := testCmd.Flags().Lookup("filter")
	require.NotNil(t, filterFlag)
}

func TestWatchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	watchCmd, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)

	require.NotNil(t, watchCmd.Flags().Lookup("filter"))
	once := watchCmd.Flags().Lookup("once")
	require.NotNil(t, once)
	assert.Equal(t, "false", once.DefValue)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, _, err := execute(t, "--format", "invalid", "todo", "ls")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidLogLevel(t *testing.T) {
	t.Setenv("TODOSYNC_LOG_LEVEL", "chatty")
	_, _, err := execute(t, "todo", "ls")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

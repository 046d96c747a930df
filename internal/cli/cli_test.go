package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	stdout, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", stdout)
}

func TestRootListsSubcommands(t *testing.T) {
	stdout, err := executeCLI(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"serve", "daemon", "reconcile", "migrate", "version"} {
		assert.Contains(t, stdout, name)
	}
}

func TestServeFlags(t *testing.T) {
	cmd := newServeCmd()
	flag := cmd.Flags().Lookup("with-daemon")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCLI(t, "charge-everything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

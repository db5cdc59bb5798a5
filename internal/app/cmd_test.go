package app

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})

	for _, name := range []string{"serve", "migrate", "cleanup", "healthcheck"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestRun_UnknownCommand_ReturnsError(t *testing.T) {
	var buf bytes.Buffer
	err := Run(&buf, []string{"worker"})
	assert.Error(t, err)
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	clearRequiredEnv(t)

	for _, args := range [][]string{{}, {"serve"}, {"migrate"}, {"cleanup"}} {
		var buf bytes.Buffer
		err := Run(&buf, args)
		assert.Error(t, err, "args %v", args)
	}
}

// TestRun_Serve_UnreachableDatabase はDBに接続できない場合にserveが起動せずエラーを返すことを検証する。
func TestRun_Serve_UnreachableDatabase(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to database")
}

func TestRun_Cleanup_UnreachableDatabase(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"cleanup"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to database")
}

func TestMigrateCmd_RollbackFlag(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})
	cmd, _, err := root.Find([]string{"migrate"})
	require.NoError(t, err)

	flag := cmd.Flags().Lookup("rollback")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

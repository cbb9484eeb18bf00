package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	t.Chdir(root)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestPlan(t *testing.T) {
	out, _, err := run(t, "plan")
	require.NoError(t, err)
	assert.Contains(t, out, "-- phase A: tables")
	assert.Contains(t, out, `create table if not exists "items"`)
	assert.Contains(t, out, `"items_substitutes"`)
	assert.Contains(t, out, `check ("status" in ('active', 'discontinued'))`)
	assert.Contains(t, out, "deferrable initially deferred")
}

func TestConfigShow(t *testing.T) {
	t.Setenv("PROTORM_SERVER_PORT", "9999")
	out, _, err := run(t, "config", "show", "--source")
	require.NoError(t, err)
	assert.Contains(t, out, "Config file: (none, using defaults)")
	assert.Contains(t, out, `port: "9999"`)
	assert.Contains(t, out, "driver: pgx")
}

func TestBuild_RequiresDatabase(t *testing.T) {
	t.Setenv("PROTORM_DATABASE_URL", "")
	_, _, err := run(t, "build")
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, ExitConfig, exitErr.Code)
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("PROTORM_LOG_FORMAT", "xml")
	_, _, err := run(t, "plan")
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, ExitConfig, exitErr.Code)
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"igautomate/pkg/config"
)

// run executes the CLI with args and returns its output
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitValidateShow(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	path := filepath.Join(dir, "igautomate.yaml")

	out, err := run(t, "", "config", "init", "--config", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Configuration file created")

	cfg := config.DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, filepath.Join(dir, "data", "igautomate", "engagement.snapshot.json"), cfg.Maintenance.SnapshotPath)

	_, err = run(t, "", "config", "init", "--config", path)
	assert.Error(t, err, "init refuses to overwrite")

	out, err = run(t, "", "config", "validate", "--config", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Configuration is valid")
	assert.Contains(t, out, "memory store")

	out, err = run(t, "", "config", "show", "--config", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "calls_per_user_per_hour: 200")
}

func TestConfigShowMasksDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "igautomate.yaml")
	cfg := config.DefaultConfig()
	cfg.Store.Backend = config.BackendPostgres
	cfg.Store.DSN = "postgres://app:hunter2@db/igautomate"
	require.NoError(t, cfg.Save(path))

	out, err := run(t, "", "config", "show", "--config", path)
	require.NoError(t, err, out)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "********")
}

func TestConfigValidateReportsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: sqlite\n"), 0600))

	out, err := run(t, "", "config", "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, out, `unknown store backend "sqlite"`)
}

func TestSecretsLifecycle(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()
	t.Setenv("IGAUTOMATE_PASSPHRASE", "test-passphrase")

	out, err := run(t, "postgres://app:hunter2@db/igautomate\n", "secrets", "set", "store-dsn", "--secrets-dir", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Stored store-dsn in keyring")

	out, err = run(t, "", "secrets", "get", "store-dsn", "--secrets-dir", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "post...mate")
	assert.NotContains(t, out, "hunter2")

	out, err = run(t, "", "secrets", "list", "--secrets-dir", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "- store-dsn")

	out, err = run(t, "", "secrets", "delete", "store-dsn", "--secrets-dir", dir)
	require.NoError(t, err, out)

	_, err = run(t, "", "secrets", "get", "store-dsn", "--secrets-dir", dir)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "igautomate dev")
}

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `
stack: demo
services:
  db:
    image: mysql:8.4
    environment:
      MYSQL_USER: ${STACKRUNNER_TEST_DB_USER}
      MYSQL_PASSWORD: ${STACKRUNNER_TEST_DB_PASSWORD}
`

func TestLoadTopologyResolvesFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "stack.yaml")
	envPath := filepath.Join(dir, "stack.env")

	require.NoError(t, os.WriteFile(manifestPath, []byte(testManifest), 0o600))
	require.NoError(t, os.WriteFile(envPath,
		[]byte("STACKRUNNER_TEST_DB_USER=app\nSTACKRUNNER_TEST_DB_PASSWORD=secret\n"), 0o600))

	topology, err := loadTopology(manifestPath, envPath)
	require.NoError(t, err)

	assert.Equal(t, "app", topology.Services["db"].Environment["MYSQL_USER"])
	assert.Equal(t, "secret", topology.Services["db"].Environment["MYSQL_PASSWORD"])
}

func TestLoadTopologyFailsOnUnresolvedVariables(t *testing.T) {
	manifest := `
stack: demo
services:
  db:
    image: mysql:8.4
    environment:
      MYSQL_USER: ${STACKRUNNER_TEST_UNSET_USER}
      MYSQL_PASSWORD: ${STACKRUNNER_TEST_UNSET_PASSWORD}
`
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "stack.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifest), 0o600))

	// No env file and nothing in the process environment.
	_, err := loadTopology(manifestPath, filepath.Join(dir, "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STACKRUNNER_TEST_UNSET_USER")
	assert.Contains(t, err.Error(), "STACKRUNNER_TEST_UNSET_PASSWORD")
}

func TestSelectPlatformRejectsUnknown(t *testing.T) {
	_, err := selectPlatform("nomad", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid platform")
}

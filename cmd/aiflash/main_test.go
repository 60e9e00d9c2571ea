package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
logging:
  level: error
database:
  dsn: %s
index:
  backend: none
`, filepath.Join(dir, "aiflash.db"))
	path := filepath.Join(dir, "aiflash.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("AIFLASH_CONFIG", path)
	t.Setenv("CHATGPT_API_KEY", "")
	t.Setenv("QDRANT_HOST", "")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { clearConfirm = false })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestStatusOnEmptyStore(t *testing.T) {
	setupConfig(t)

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "items: 0 total")
	assert.Contains(t, out, "index: disabled")
	assert.Contains(t, out, "reindex")
	assert.Contains(t, out, "manual")
}

func TestRunUnknownJob(t *testing.T) {
	setupConfig(t)

	_, err := execute(t, "run", "compact")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known jobs")
}

func TestClearNeedsConfirmation(t *testing.T) {
	setupConfig(t)

	_, err := execute(t, "clear")
	require.Error(t, err)

	out, err := execute(t, "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, `"success": true`)
}

func TestSearchAndTypeLimitsAreIndependent(t *testing.T) {
	setupConfig(t)
	t.Cleanup(func() { searchLimit, typeLimit = 20, 20 })

	_, err := execute(t, "search", "agents", "--limit", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, searchLimit)
	assert.Equal(t, 20, typeLimit)

	_, err = execute(t, "type", "paper", "--limit", "7")
	require.NoError(t, err)
	assert.Equal(t, 7, typeLimit)
	assert.Equal(t, 3, searchLimit)
}

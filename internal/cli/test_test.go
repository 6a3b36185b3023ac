package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var harnessScenarios = filepath.Join("..", "harness", "testdata", "scenarios")

// copyScenario copies a harness scenario into dir.
func copyScenario(t *testing.T, dir, name string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(harnessScenarios, name+".yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0o644))
}

func TestTestCommandRunsScenarios(t *testing.T) {
	out, err := runCLI(t, "test", harnessScenarios)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ sgd_dp2")
	assert.Contains(t, out, "✓ adam_dp2")
	assert.Contains(t, out, "✓ no_group")
	assert.Contains(t, out, "Test Summary: 3 passed, 0 failed, 3 total")
}

func TestTestCommandFilterJSON(t *testing.T) {
	out, err := runCLI(t, "--format", "json", "test", harnessScenarios, "--filter", "adam_*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "adam_dp2", resp.Data.Scenarios[0].Name)
}

func TestTestCommandGoldenUpdate(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "sgd_dp2")
	goldenPath := filepath.Join(dir, "golden", "sgd_dp2.golden")

	out, err := runCLI(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ sgd_dp2 (golden updated)")

	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	harnessGolden, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "golden", "sgd_dp2.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(harnessGolden), string(golden))

	_, err = runCLI(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"stale":true}`), 0o644))
	out, err = runCLI(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ sgd_dp2")
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`
name: wrong
description: "Expects a code the pass never raises"
program:
  params:
    - {name: p0, shape: [4]}
    - {name: p1, shape: [4]}
passes:
  - pass: auto_parallel_sharding
    attrs: {stage: 1, sharding_degree: 2, global_rank: 0}
    expect_error: E310
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0o644))

	out, err := runCLI(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "expected error E310")
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
	assert.Contains(t, out, "Test Summary: 0 passed, 2 failed, 2 total")
}

func TestTestCommandEmptyAndMissing(t *testing.T) {
	out, err := runCLI(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")

	_, err = runCLI(t, "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("s", "golden", "a.golden"), goldenFilePath(filepath.Join("s", "a.yaml")))
}

package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidPrograms(t *testing.T) {
	main, startup, _ := writeExample(t)

	out, err := runCLI(t, "validate", main, startup)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+main+" (train-main)")
	assert.Contains(t, out, "✓ "+startup+" (train-startup)")
}

func TestValidateInvalidProgram(t *testing.T) {
	main, _, _ := writeExample(t)
	garbage := filepath.Join(t.TempDir(), "garbage"+ProgramExt)
	require.NoError(t, os.WriteFile(garbage, []byte("not a program"), 0o644))

	out, err := runCLI(t, "validate", main, garbage)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ "+main)
	assert.Contains(t, out, "✗ "+garbage)
}

func TestValidateJSON(t *testing.T) {
	main, _, _ := writeExample(t)
	missing := filepath.Join(t.TempDir(), "missing"+ProgramExt)

	out, err := runCLI(t, "--format", "json", "validate", main, missing)
	require.Error(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Results []ValidationResult `json:"results"`
			Invalid int                `json:"invalid"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Invalid)
	require.Len(t, resp.Data.Results, 2)
	assert.True(t, resp.Data.Results[0].Valid)
	assert.Equal(t, "train-main", resp.Data.Results[0].Program)
	assert.False(t, resp.Data.Results[1].Valid)
	assert.Equal(t, ErrCodeNotFound, resp.Data.Results[1].Code)
}

func TestValidateRequiresArgs(t *testing.T) {
	_, err := runCLI(t, "validate")
	require.Error(t, err)
}

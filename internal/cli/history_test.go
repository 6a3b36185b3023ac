package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shardIntoDB runs one successful and one failed shard against a fresh
// database and returns its path with the sharded main fingerprint.
func shardIntoDB(t *testing.T) (db, mainAfter string) {
	t.Helper()
	main, startup, config := writeExample(t)
	db = filepath.Join(t.TempDir(), "history.db")

	out, err := runCLI(t, "--format", "json", "shard", "--main", main, "--startup", startup, "-c", config, "--db", db)
	require.NoError(t, err)
	var resp shardResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotZero(t, resp.Data.PassRunID)

	_, err = runCLI(t, "shard", "--main", main, "--startup", startup, "-c", config, "--stage", "9", "--db", db)
	require.Error(t, err)
	return db, resp.Data.MainAfter
}

func TestHistoryListPrograms(t *testing.T) {
	db, _ := shardIntoDB(t)

	out, err := runCLI(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "train-main")
	assert.Contains(t, out, "train-startup")
}

func TestHistoryShowProgram(t *testing.T) {
	db, mainAfter := shardIntoDB(t)

	out, err := runCLI(t, "history", "--db", db, "train-main")
	require.NoError(t, err)
	assert.Contains(t, out, "Program train-main: 2 version(s)")
	assert.Contains(t, out, "input")
	assert.Contains(t, out, "auto_parallel_sharding")
	assert.Contains(t, out, "Pass runs: 2")
	assert.Contains(t, out, "-> "+short(mainAfter))
	assert.Contains(t, out, "failed E301")
}

func TestHistoryShowProgramJSON(t *testing.T) {
	db, mainAfter := shardIntoDB(t)

	out, err := runCLI(t, "--format", "json", "history", "--db", db, "train-main")
	require.NoError(t, err)

	var resp struct {
		Data struct {
			Versions []VersionEntry `json:"versions"`
			Runs     []RunEntry     `json:"runs"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Versions, 2)
	assert.Equal(t, "input", resp.Data.Versions[0].Label)
	assert.Equal(t, mainAfter, resp.Data.Versions[1].Fingerprint)
	assert.Less(t, resp.Data.Versions[1].Ops, resp.Data.Versions[0].Ops)

	require.Len(t, resp.Data.Runs, 2)
	assert.Equal(t, mainAfter, resp.Data.Runs[0].MainAfter)
	assert.Empty(t, resp.Data.Runs[0].ErrorCode)
	assert.Equal(t, "E301", resp.Data.Runs[1].ErrorCode)
	assert.Empty(t, resp.Data.Runs[1].MainAfter)
}

func TestHistoryFilters(t *testing.T) {
	db, _ := shardIntoDB(t)

	tests := []struct {
		name     string
		args     []string
		versions int
		runs     int
	}{
		{"failed runs", []string{"--failed"}, 2, 1},
		{"by code", []string{"--code", "E305"}, 2, 0},
		{"by pass", []string{"--pass", "auto_parallel_sharding"}, 2, 2},
		{"by label", []string{"--label", "input"}, 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, append([]string{"--format", "json", "history", "--db", db, "train-main"}, tt.args...)...)
			require.NoError(t, err)

			var resp struct {
				Data struct {
					Versions []VersionEntry `json:"versions"`
					Runs     []RunEntry     `json:"runs"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Len(t, resp.Data.Versions, tt.versions)
			assert.Len(t, resp.Data.Runs, tt.runs)
		})
	}
}

func TestHistoryExport(t *testing.T) {
	db, mainAfter := shardIntoDB(t)
	dest := filepath.Join(t.TempDir(), "restored"+ProgramExt)

	_, err := runCLI(t, "history", "--db", db, "--export", mainAfter, "-o", dest)
	require.NoError(t, err)

	p, err := readProgram(dest, nil)
	require.NoError(t, err)
	fp, err := p.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, mainAfter, fp)
}

func TestHistoryErrors(t *testing.T) {
	db, mainAfter := shardIntoDB(t)

	tests := []struct {
		name string
		args []string
		exit int
		code string
	}{
		{"missing database", []string{"--db", filepath.Join(t.TempDir(), "none.db")}, ExitCommandError, ErrCodeNotFound},
		{"unknown program", []string{"--db", db, "nope"}, ExitFailure, ErrCodeNotFound},
		{"export without output", []string{"--db", db, "--export", mainAfter}, ExitCommandError, ErrCodeBadInput},
		{"export unknown fingerprint", []string{"--db", db, "--export", "abc", "-o", filepath.Join(t.TempDir(), "x.gir")}, ExitFailure, ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, append([]string{"history"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.exit, GetExitCode(err))
			assert.Contains(t, out, "Error ["+tt.code+"]")
		})
	}
}

func TestHistoryRequiresDB(t *testing.T) {
	_, err := runCLI(t, "history")
	require.Error(t, err)
}

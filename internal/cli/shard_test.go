package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphir/internal/testutil"
)

type shardResponse struct {
	Status string      `json:"status"`
	Data   ShardReport `json:"data"`
	Error  *CLIError   `json:"error"`
}

func TestShardRank0(t *testing.T) {
	main, startup, config := writeExample(t)
	outDir := t.TempDir()

	out, err := runCLI(t, "shard", "--main", main, "--startup", startup, "-c", config, "-o", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Sharded train-main / train-startup (stage 1, degree 2, rank 0)")
	assert.Contains(t, out, "group: ranks [0 1], local rank 0")
	assert.Contains(t, out, "local params: p0 (100 of 200 elements)")

	sharded, err := readProgram(filepath.Join(outDir, "train-main"+ProgramExt), nil)
	require.NoError(t, err)
	require.NoError(t, sharded.Validate())
	var sgd []string
	for _, op := range sharded.GlobalBlock().Ops() {
		if op.Type() == "sgd" {
			sgd = append(sgd, op.Input("Param")...)
		}
	}
	assert.Equal(t, []string{"p0"}, sgd)

	_, err = os.Stat(filepath.Join(outDir, "train-startup"+ProgramExt))
	assert.NoError(t, err)
}

func TestShardRankFlagOverridesConfig(t *testing.T) {
	main, startup, config := writeExample(t)

	out, err := runCLI(t, "--format", "json", "shard", "--main", main, "--startup", startup, "-c", config, "--rank", "1")
	require.NoError(t, err)

	var resp shardResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []any{"p1"}, resp.Data.Summary["local_params"])
	assert.Equal(t, float64(1), resp.Data.Summary["local_rank"])
	assert.Equal(t, int64(100), resp.Data.LocalElements)
	assert.Equal(t, int64(200), resp.Data.TotalElements)
	assert.NotEqual(t, resp.Data.MainBefore, resp.Data.MainAfter)
	assert.Empty(t, resp.Data.Written)
}

func TestShardWithoutAnnotationsFails(t *testing.T) {
	main, startup, _ := writeExample(t)
	outDir := filepath.Join(t.TempDir(), "out")

	out, err := runCLI(t, "--format", "json", "shard", "--main", main, "--startup", startup, "--degree", "2", "-o", outDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp shardResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E305", resp.Error.Code)

	_, statErr := os.Stat(outDir)
	assert.True(t, os.IsNotExist(statErr), "nothing is written on failure")
}

func TestShardAnnotationsFile(t *testing.T) {
	main, startup, _ := writeExample(t)
	annotations := filepath.Join(t.TempDir(), "ann.yaml")
	require.NoError(t, os.WriteFile(annotations, []byte(`
meshes:
  dp: {shape: [2], process_ids: [0, 1]}
tensors:
  x: {mesh: dp, dims_mapping: [0, -1]}
`), 0o644))

	out, err := runCLI(t, "shard", "--main", main, "--startup", startup, "--degree", "2", "--annotations", annotations)
	require.NoError(t, err)
	assert.Contains(t, out, "local params: p0")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
meshes: {}
tensors:
  x: {mesh: nope, dims_mapping: [0, -1]}
`), 0o644))
	out, err = runCLI(t, "shard", "--main", main, "--startup", startup, "--degree", "2", "--annotations", bad)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "unknown mesh")
}

func TestShardConfigErrors(t *testing.T) {
	main, startup, _ := writeExample(t)
	dir := t.TempDir()
	unknownField := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknownField, []byte("stage: 1\nshard_degree: 2\n"), 0o644))

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"missing config", []string{"-c", filepath.Join(dir, "nope.yaml")}, ErrCodeNotFound},
		{"unknown field", []string{"-c", unknownField}, ErrCodeBadInput},
		{"missing main", []string{"--main", filepath.Join(dir, "nope.gir")}, ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"shard", "--main", main, "--startup", startup}, tt.args...)
			out, err := runCLI(t, args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error ["+tt.code+"]")
		})
	}
}

func TestShardBadStage(t *testing.T) {
	main, startup, config := writeExample(t)

	out, err := runCLI(t, "shard", "--main", main, "--startup", startup, "-c", config, "--stage", "4")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E301]")
}

func TestDefaultParamsGrads(t *testing.T) {
	tr := testutil.NewTraining(testutil.TrainingOptions{Params: []testutil.ParamSpec{
		{Name: "a", Shape: []int64{2}},
		{Name: "b", Shape: []int64{2}},
	}})
	tr.Main.GlobalBlock().Parameter("b").SetTrainable(false)

	pgs := defaultParamsGrads(tr.Main)
	require.Len(t, pgs, 1)
	assert.Equal(t, "a", pgs[0].Param)
	assert.Equal(t, "a@GRAD", pgs[0].Grad)
}

package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaList(t *testing.T) {
	out, err := runCLI(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "c_broadcast\n")
	assert.Contains(t, out, "sgd\n")
}

func TestSchemaDescribe(t *testing.T) {
	out, err := runCLI(t, "schema", "c_broadcast")
	require.NoError(t, err)
	assert.Contains(t, out, "c_broadcast\n")
	assert.Contains(t, out, "  inputs:\n    X\n")
	assert.Contains(t, out, "ring_id int")
	assert.NotContains(t, out, "op_role")
}

func TestSchemaDescribeJSON(t *testing.T) {
	out, err := runCLI(t, "--format", "json", "schema", "sgd")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Ops []OpInfo `json:"ops"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Ops, 1)
	assert.Equal(t, "sgd", resp.Data.Ops[0].Type)
	var inputs []string
	for _, s := range resp.Data.Ops[0].Inputs {
		inputs = append(inputs, s.Name)
	}
	assert.Contains(t, inputs, "Param")
	assert.Contains(t, inputs, "Grad")
}

func TestSchemaUnknownType(t *testing.T) {
	out, err := runCLI(t, "schema", "no_such_op")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]")
}

func TestSchemaExtraDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ops.cue"), []byte(`
ops: gather: {
	inputs: {X: {}, Index: {}}
	outputs: Out: {}
	attrs: axis: {type: "int", default: 0}
}
`), 0o644))

	out, err := runCLI(t, "--schemas", dir, "schema", "gather")
	require.NoError(t, err)
	assert.Contains(t, out, "gather\n")
	assert.Contains(t, out, "axis int")

	_, err = runCLI(t, "--schemas", filepath.Join(dir, "missing"), "schema")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

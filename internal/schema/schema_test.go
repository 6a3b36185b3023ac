package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphir/internal/ir"
)

func TestDefaultRegistryLoads(t *testing.T) {
	r := Default()
	require.NotNil(t, r)
	assert.Same(t, r, Default(), "default registry is built once")

	for _, op := range []string{"feed", "fill_constant", "mul", "sgd", "adam", "c_broadcast", "while"} {
		assert.True(t, r.Has(op), "missing built-in op %s", op)
	}
	assert.False(t, r.Has("no_such_op"))
	assert.Equal(t, len(r.Types()), r.Len())
	assert.IsIncreasing(t, r.Types())
}

func TestSlotOrderFollowsDeclaration(t *testing.T) {
	sgd, ok := Default().Lookup("sgd")
	require.True(t, ok)

	var names []string
	for _, s := range sgd.Inputs {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Param", "LearningRate", "Grad", "MasterParam"}, names)

	master, ok := sgd.Input("MasterParam")
	require.True(t, ok)
	assert.True(t, master.Dispensable)
	assert.False(t, master.Duplicable)
}

func TestSlotFlags(t *testing.T) {
	reshape, ok := Default().Lookup("reshape2")
	require.True(t, ok)

	xshape, ok := reshape.Output("XShape")
	require.True(t, ok)
	assert.True(t, xshape.Intermediate)

	shapeTensor, ok := reshape.Input("ShapeTensor")
	require.True(t, ok)
	assert.True(t, shapeTensor.Duplicable)

	grad, ok := Default().Lookup("mean_grad")
	require.True(t, ok)
	_, ok = grad.Input("Out@GRAD")
	assert.True(t, ok, "quoted slot labels keep their spelling")
}

func TestAttrDefaults(t *testing.T) {
	r := Default()
	tests := []struct {
		op   string
		attr string
		typ  ir.AttrType
		def  ir.Attr
	}{
		{"fill_constant", "dtype", ir.AttrInt, ir.Int32(5)},
		{"fill_constant", "shape", ir.AttrLongs, ir.Int64s{}},
		{"fill_constant", "value", ir.AttrFloat, ir.Float32(0)},
		{"adam", "epsilon", ir.AttrFloat, ir.Float32(f32(1e-8))},
		{"adam", "min_row_size_to_use_multithread", ir.AttrLong, ir.Int64(1000)},
		{"full", "value", ir.AttrScalar, ir.IntScalar(0)},
		{"assign_value", "values", ir.AttrScalars, ir.Scalars{}},
		{"reduce_mean", "dim", ir.AttrInts, ir.Int32s{0}},
		{"lars_momentum", "lars_weight_decay", ir.AttrFloats, ir.Float32s{f32(0.0005)}},
		{"c_broadcast", "use_calc_stream", ir.AttrBool, ir.Bool(false)},
		{"create_double_buffer_reader", "place", ir.AttrString, ir.String("AUTO")},
	}

	for _, tt := range tests {
		t.Run(tt.op+"."+tt.attr, func(t *testing.T) {
			s, ok := r.Lookup(tt.op)
			require.True(t, ok)
			a, ok := s.Attr(tt.attr)
			require.True(t, ok)
			assert.Equal(t, tt.typ, a.Type)
			assert.True(t, ir.EqualAttr(tt.def, a.Default), "got %v", a.Default)
		})
	}
}

func TestRequiredAndReferenceAttrs(t *testing.T) {
	s, ok := Default().Lookup("run_program")
	require.True(t, ok)

	block, ok := s.Attr("global_block")
	require.True(t, ok)
	assert.True(t, block.Required)
	assert.Equal(t, ir.AttrBlock, block.Type)

	vars, ok := s.Attr("x_vars")
	require.True(t, ok)
	assert.Equal(t, ir.AttrVars, vars.Type)
	assert.Nil(t, vars.Default)
	assert.False(t, vars.Required)
}

func TestBookkeepingAttrsOnEveryOp(t *testing.T) {
	r := Default()
	for _, opType := range r.Types() {
		s, _ := r.Lookup(opType)
		for _, name := range []string{ir.AttrOpRole, ir.AttrOpRoleVar, ir.AttrOpNamescope} {
			_, ok := s.Attr(name)
			assert.True(t, ok, "%s lacks %s", opType, name)
		}
	}
	assert.True(t, IsBookkeepingAttr(ir.AttrOpRole))
	assert.False(t, IsBookkeepingAttr("ring_id"))
}

func TestCompileSourceErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown attr type", `ops: bad: attrs: x: type: "tensor"`},
		{"unknown slot flag", `ops: bad: inputs: X: optional: true`},
		{"default type mismatch", `ops: bad: attrs: x: {type: "int", default: "one"}`},
		{"no ops", `other: 1`},
		{"syntax", `ops: {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSource("test.cue", []byte(tt.src))
			require.Error(t, err)
		})
	}
}

func TestExtend(t *testing.T) {
	extra, err := CompileSource("extra.cue", []byte(`
ops: my_op: {
	inputs: X: {}
	outputs: Out: duplicable: true
	attrs: alpha: {type: "float64", default: 0.5}
}
`))
	require.NoError(t, err)
	require.Len(t, extra, 1)

	r, err := Default().Extend(extra...)
	require.NoError(t, err)
	assert.True(t, r.Has("my_op"))
	assert.False(t, Default().Has("my_op"), "extending must not modify the base registry")

	alpha, ok := extra[0].Attr("alpha")
	require.True(t, ok)
	assert.Equal(t, ir.Float64(0.5), alpha.Default)

	sgd, _ := Default().Lookup("sgd")
	_, err = r.Extend(sgd)
	require.Error(t, err, "redefining an op is rejected")
}

func TestNewRegistryValidates(t *testing.T) {
	_, err := NewRegistry(&OpSchema{Type: "x", Inputs: []Slot{{Name: "X"}, {Name: "X"}}})
	require.Error(t, err)

	_, err = NewRegistry(&OpSchema{})
	require.Error(t, err)

	_, err = NewRegistry(&OpSchema{Type: "x", Attrs: []AttrSlot{{Name: "a", Type: ir.AttrInt, Default: ir.Int64(1)}}})
	require.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ops.cue"), []byte(`
ops: gather: {
	inputs: {X: {}, Index: {}}
	outputs: Out: {}
	attrs: axis: {type: "int", default: 0}
}
`), 0o644))

	schemas, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "gather", schemas[0].Type)

	_, err = LoadDir(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

// f32 narrows at run time, the way defaults are narrowed when parsed.
func f32(x float64) float32 {
	return float32(x)
}

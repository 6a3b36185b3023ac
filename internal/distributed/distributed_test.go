package distributed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphir/internal/testutil"
)

func mustMesh(t *testing.T, shape, ids []int) *ProcessMesh {
	t.Helper()
	m, err := NewProcessMesh(shape, ids)
	require.NoError(t, err)
	return m
}

func TestNewProcessMesh(t *testing.T) {
	m := mustMesh(t, []int{2, 3}, []int{0, 1, 2, 3, 4, 5})
	assert.Equal(t, 2, m.NDim())
	assert.Equal(t, 6, m.Size())
	assert.Equal(t, 3, m.DimSize(1))
	assert.Equal(t, 0, m.DimSize(2))
	assert.Equal(t, []string{"d0", "d1"}, m.DimNames())
	assert.True(t, m.Contains(5))
	assert.False(t, m.Contains(6))

	tests := []struct {
		name  string
		shape []int
		ids   []int
		names []string
	}{
		{"no dims", nil, nil, nil},
		{"zero dim", []int{0}, nil, nil},
		{"size mismatch", []int{2, 2}, []int{0, 1, 2}, nil},
		{"duplicate rank", []int{2}, []int{1, 1}, nil},
		{"negative rank", []int{1}, []int{-1}, nil},
		{"name count", []int{2}, []int{0, 1}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessMesh(tt.shape, tt.ids, tt.names...)
			assert.Error(t, err)
		})
	}
}

func TestCommGroup(t *testing.T) {
	grid := mustMesh(t, []int{2, 3}, []int{0, 1, 2, 3, 4, 5})
	sparse := mustMesh(t, []int{2, 2}, []int{7, 3, 9, 1})

	tests := []struct {
		name string
		mesh *ProcessMesh
		axis int
		rank int
		want []int
	}{
		{"rows", grid, 0, 4, []int{1, 4}},
		{"cols", grid, 1, 4, []int{3, 4, 5}},
		{"first rank", grid, 1, 0, []int{0, 1, 2}},
		{"non contiguous ids axis 0", sparse, 0, 3, []int{1, 3}},
		{"non contiguous ids axis 1", sparse, 1, 9, []int{1, 9}},
		{"1-d", mustMesh(t, []int{4}, []int{0, 1, 2, 3}), 0, 2, []int{0, 1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.mesh.CommGroup(tt.axis, tt.rank)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := grid.CommGroup(2, 0)
	assert.Error(t, err)
	_, err = grid.CommGroup(0, 42)
	assert.Error(t, err)
}

func TestProcessGroups(t *testing.T) {
	r := NewProcessGroups()
	assert.Equal(t, WorldGroupID, r.World().ID)
	assert.Equal(t, 0, r.World().NRanks())

	a := r.New([]int{3, 1, 1})
	assert.Equal(t, 1, a.ID)
	assert.Equal(t, []int{1, 3}, a.Ranks)
	assert.Same(t, a, r.New([]int{1, 3}), "the same rank set maps to the same ring id")

	b := r.New([]int{0, 1})
	assert.Equal(t, 2, b.ID)
	assert.Equal(t, 1, b.LocalRank(1))
	assert.Equal(t, -1, b.LocalRank(3))
	assert.Equal(t, []int{0, 1, 3}, r.World().Ranks)

	got, ok := r.Get(2)
	require.True(t, ok)
	assert.Same(t, b, got)
	_, ok = r.Get(3)
	assert.False(t, ok)
	_, ok = r.Lookup([]int{3, 1})
	assert.True(t, ok)
	_, ok = r.Lookup([]int{2})
	assert.False(t, ok)
	assert.Equal(t, 3, r.Len())
}

func TestNewTensorDistAttr(t *testing.T) {
	m := mustMesh(t, []int{2, 2}, []int{0, 1, 2, 3})

	a, err := NewTensorDistAttr(m, []int{1, -1, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{1, -1, 0}, a.DimsMapping)

	_, err = NewTensorDistAttr(m, []int{2})
	assert.Error(t, err, "axis out of range")
	_, err = NewTensorDistAttr(m, []int{0, 0})
	assert.Error(t, err, "axis used twice")
	_, err = NewTensorDistAttr(nil, []int{-1})
	assert.Error(t, err)

	assert.Equal(t, []int{-1, -1}, ReplicatedAttr(m, 2).DimsMapping)
	assert.Equal(t, []int{-1}, ReplicatedAttr(m, 0).DimsMapping)
}

const dpAnnotations = `
meshes:
  dp: {shape: [4], process_ids: [0, 1, 2, 3], dim_names: [dp]}
tensors:
  x: {mesh: dp, dims_mapping: [0, -1]}
  p0: {mesh: dp, dims_mapping: [-1]}
`

func TestApply(t *testing.T) {
	tr := testutil.NewTraining(testutil.TrainingOptions{Params: []testutil.ParamSpec{{Name: "p0", Shape: []int64{8}}}})
	ann, err := ParseAnnotations([]byte(dpAnnotations))
	require.NoError(t, err)

	dc := NewDistContext()
	require.NoError(t, dc.Apply(ann, tr.Main, tr.Startup))

	assert.Equal(t, []string{"dp"}, dc.MeshNames())
	assert.Equal(t, []int{0, 1, 2, 3}, dc.ProcessGroups().World().Ranks)

	g := tr.Main.GlobalBlock()
	x := dc.TensorDistAttr(g.Var("x"))
	require.NotNil(t, x)
	assert.Equal(t, []int{0, -1}, x.DimsMapping)
	assert.NotNil(t, dc.TensorDistAttr(tr.Startup.GlobalBlock().Var("p0")), "startup parameters are annotated too")
	assert.Nil(t, dc.TensorDistAttr(tr.Startup.GlobalBlock().Var("x")))

	mul := g.Op(0)
	oa := dc.OpDistAttr(mul)
	require.NotNil(t, oa)
	assert.Equal(t, []int{0, -1}, oa.InputDimsMapping("x"))
	assert.Equal(t, []int{-1}, oa.InputDimsMapping("p0"))
	assert.Equal(t, []int{-1}, oa.OutputDimsMapping("h_0"), "unannotated args are replicated")

	tensors, ops := dc.NumAnnotations(tr.Main.ID())
	assert.Equal(t, 2, tensors)
	assert.Greater(t, ops, 0)
	assert.Nil(t, dc.OpDistAttr(g.Op(1)), "sum touches no annotated tensor")
}

func TestApply_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown mesh", "tensors:\n  x: {mesh: tp, dims_mapping: [0, -1]}\n"},
		{"bad mesh", "meshes:\n  dp: {shape: [3], process_ids: [0, 1]}\n"},
		{"missing tensor", "meshes:\n  dp: {shape: [2], process_ids: [0, 1]}\ntensors:\n  ghost: {mesh: dp, dims_mapping: [0]}\n"},
		{"rank mismatch", "meshes:\n  dp: {shape: [2], process_ids: [0, 1]}\ntensors:\n  x: {mesh: dp, dims_mapping: [0]}\n"},
		{"bad mapping", "meshes:\n  dp: {shape: [2], process_ids: [0, 1]}\ntensors:\n  x: {mesh: dp, dims_mapping: [1, -1]}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.MLP()
			ann, err := ParseAnnotations([]byte(tt.yaml))
			require.NoError(t, err)
			dc := NewDistContext()
			require.Error(t, dc.Apply(ann, p))
			assert.Empty(t, dc.MeshNames(), "nothing is recorded on error")
			tensors, ops := dc.NumAnnotations(p.ID())
			assert.Zero(t, tensors)
			assert.Zero(t, ops)
		})
	}

	_, err := ParseAnnotations([]byte("meshs: {}\n"))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestSetOpDistAttrFromTensor(t *testing.T) {
	p := testutil.MLP()
	m := mustMesh(t, []int{2}, []int{0, 1})
	dc := NewDistContext()
	relu := p.GlobalBlock().Op(1)

	require.NoError(t, dc.SetOpDistAttrFromTensor(relu, ReplicatedAttr(m, 2)))
	oa := dc.OpDistAttr(relu)
	require.NotNil(t, oa)
	assert.Equal(t, []int{-1, -1}, oa.InputDimsMapping("h"))
	assert.Equal(t, []int{-1, -1}, oa.OutputDimsMapping("out"))

	require.NoError(t, p.GlobalBlock().RemoveOp(1))
	assert.Nil(t, dc.OpDistAttr(relu), "detached ops have no annotation")
	assert.Error(t, dc.SetOpDistAttr(relu, oa))
}

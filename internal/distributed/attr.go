package distributed

import (
	"fmt"
	"maps"
	"slices"

	"github.com/pkg/errors"
)

// Replicated marks a tensor dimension that is not split across the mesh.
const Replicated = -1

// TensorDistAttr places a tensor on a mesh. DimsMapping[i] is the mesh
// axis tensor dimension i is split along, or Replicated.
type TensorDistAttr struct {
	Mesh        *ProcessMesh
	DimsMapping []int
}

// NewTensorDistAttr validates mapping against mesh.
func NewTensorDistAttr(mesh *ProcessMesh, mapping []int) (*TensorDistAttr, error) {
	if mesh == nil {
		return nil, errors.New("tensor dist attr needs a process mesh")
	}
	used := make(map[int]bool)
	for i, axis := range mapping {
		if axis == Replicated {
			continue
		}
		if axis < 0 || axis >= mesh.NDim() {
			return nil, errors.Errorf("dims mapping %v: dimension %d maps to axis %d of a %d-d mesh", mapping, i, axis, mesh.NDim())
		}
		if used[axis] {
			return nil, errors.Errorf("dims mapping %v: mesh axis %d used twice", mapping, axis)
		}
		used[axis] = true
	}
	return &TensorDistAttr{Mesh: mesh, DimsMapping: slices.Clone(mapping)}, nil
}

// ReplicatedAttr is the dist attr of a rank-n tensor fully replicated on mesh.
func ReplicatedAttr(mesh *ProcessMesh, rank int) *TensorDistAttr {
	mapping := make([]int, max(rank, 1))
	for i := range mapping {
		mapping[i] = Replicated
	}
	return &TensorDistAttr{Mesh: mesh, DimsMapping: mapping}
}

func (a *TensorDistAttr) Clone() *TensorDistAttr {
	return &TensorDistAttr{Mesh: a.Mesh, DimsMapping: slices.Clone(a.DimsMapping)}
}

func (a *TensorDistAttr) String() string {
	return fmt.Sprintf("%v %v", a.Mesh, a.DimsMapping)
}

// OpDistAttr places an operator on a mesh and records the dims mapping
// the op sees for each argument, keyed by variable name.
type OpDistAttr struct {
	Mesh    *ProcessMesh
	Inputs  map[string][]int
	Outputs map[string][]int
}

func NewOpDistAttr(mesh *ProcessMesh) *OpDistAttr {
	return &OpDistAttr{Mesh: mesh, Inputs: make(map[string][]int), Outputs: make(map[string][]int)}
}

// InputDimsMapping returns the mapping of input arg name, or nil.
func (a *OpDistAttr) InputDimsMapping(name string) []int { return slices.Clone(a.Inputs[name]) }

// OutputDimsMapping returns the mapping of output arg name, or nil.
func (a *OpDistAttr) OutputDimsMapping(name string) []int { return slices.Clone(a.Outputs[name]) }

func (a *OpDistAttr) SetInputDimsMapping(name string, mapping []int) {
	a.Inputs[name] = slices.Clone(mapping)
}

func (a *OpDistAttr) SetOutputDimsMapping(name string, mapping []int) {
	a.Outputs[name] = slices.Clone(mapping)
}

func (a *OpDistAttr) Clone() *OpDistAttr {
	c := NewOpDistAttr(a.Mesh)
	for k, v := range a.Inputs {
		c.Inputs[k] = slices.Clone(v)
	}
	for k, v := range a.Outputs {
		c.Outputs[k] = slices.Clone(v)
	}
	return c
}

func (a *OpDistAttr) String() string {
	s := fmt.Sprintf("%v", a.Mesh)
	for _, k := range slices.Sorted(maps.Keys(a.Inputs)) {
		s += fmt.Sprintf(" in:%s=%v", k, a.Inputs[k])
	}
	for _, k := range slices.Sorted(maps.Keys(a.Outputs)) {
		s += fmt.Sprintf(" out:%s=%v", k, a.Outputs[k])
	}
	return s
}

package distributed

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/pkg/errors"

	"github.com/roach88/graphir/internal/framework"
)

type tensorKey struct {
	program string
	block   int
	name    string
}

type opKey struct {
	program string
	handle  int64
}

// DistContext holds the annotations of one or more programs and the
// process groups allocated for them.
type DistContext struct {
	meshes  map[string]*ProcessMesh
	tensors map[tensorKey]*TensorDistAttr
	ops     map[opKey]*OpDistAttr
	groups  *ProcessGroups
}

func NewDistContext() *DistContext {
	return &DistContext{
		meshes:  make(map[string]*ProcessMesh),
		tensors: make(map[tensorKey]*TensorDistAttr),
		ops:     make(map[opKey]*OpDistAttr),
		groups:  NewProcessGroups(),
	}
}

// ProcessGroups is the ring id registry of this context.
func (c *DistContext) ProcessGroups() *ProcessGroups { return c.groups }

// AddMesh registers a named mesh. Re-adding an equal mesh is a no-op.
func (c *DistContext) AddMesh(name string, m *ProcessMesh) error {
	if old, ok := c.meshes[name]; ok && !old.Equal(m) {
		return errors.Errorf("mesh %q already registered as %v", name, old)
	}
	c.meshes[name] = m
	c.groups.AddWorldRanks(m.processIDs...)
	return nil
}

func (c *DistContext) Mesh(name string) (*ProcessMesh, bool) {
	m, ok := c.meshes[name]
	return m, ok
}

func (c *DistContext) MeshNames() []string { return slices.Sorted(maps.Keys(c.meshes)) }

func varKey(v *framework.Variable) (tensorKey, bool) {
	if v == nil || v.Block() == nil {
		return tensorKey{}, false
	}
	b := v.Block()
	return tensorKey{program: b.Program().ID(), block: b.Index(), name: v.Name()}, true
}

func operatorKey(op *framework.Operator) (opKey, bool) {
	if op == nil || op.Block() == nil {
		return opKey{}, false
	}
	return opKey{program: op.Block().Program().ID(), handle: op.Handle()}, true
}

// SetTensorDistAttr annotates v with a copy of a.
func (c *DistContext) SetTensorDistAttr(v *framework.Variable, a *TensorDistAttr) error {
	k, ok := varKey(v)
	if !ok {
		return errors.New("cannot annotate a detached variable")
	}
	c.tensors[k] = a.Clone()
	c.groups.AddWorldRanks(a.Mesh.processIDs...)
	return nil
}

// TensorDistAttr returns the annotation of v, or nil.
func (c *DistContext) TensorDistAttr(v *framework.Variable) *TensorDistAttr {
	k, ok := varKey(v)
	if !ok {
		return nil
	}
	return c.tensors[k]
}

// SetOpDistAttr annotates op with a copy of a.
func (c *DistContext) SetOpDistAttr(op *framework.Operator, a *OpDistAttr) error {
	k, ok := operatorKey(op)
	if !ok {
		return errors.New("cannot annotate a detached operator")
	}
	c.ops[k] = a.Clone()
	return nil
}

// OpDistAttr returns the annotation of op, or nil.
func (c *DistContext) OpDistAttr(op *framework.Operator) *OpDistAttr {
	k, ok := operatorKey(op)
	if !ok {
		return nil
	}
	return c.ops[k]
}

// NumAnnotations counts tensor and operator annotations of program id.
func (c *DistContext) NumAnnotations(programID string) (tensors, ops int) {
	for k := range c.tensors {
		if k.program == programID {
			tensors++
		}
	}
	for k := range c.ops {
		if k.program == programID {
			ops++
		}
	}
	return tensors, ops
}

// SetOpDistAttrFromTensor annotates op with mesh and mapping for every
// argument, the way an inserted communication op inherits the placement of
// the tensor it moves.
func (c *DistContext) SetOpDistAttrFromTensor(op *framework.Operator, a *TensorDistAttr) error {
	oa := NewOpDistAttr(a.Mesh)
	for _, name := range op.InputArgNames() {
		oa.SetInputDimsMapping(name, a.DimsMapping)
	}
	for _, name := range op.OutputArgNames() {
		oa.SetOutputDimsMapping(name, a.DimsMapping)
	}
	return c.SetOpDistAttr(op, oa)
}

// Complete derives op annotations for the global block of p from its
// tensor annotations. An op without one gets the mesh of its first
// annotated argument; arguments annotated on that mesh keep their
// mapping and every other argument is replicated. Ops that already carry
// an annotation are left alone. Complete returns the number of ops it
// annotated.
func (c *DistContext) Complete(p *framework.Program) int {
	b := p.GlobalBlock()
	n := 0
	for _, op := range b.Ops() {
		if c.OpDistAttr(op) != nil {
			continue
		}
		args := append(op.InputArgNames(), op.OutputArgNames()...)
		var mesh *ProcessMesh
		for _, name := range args {
			if a := c.TensorDistAttr(b.FindVarRecursive(name)); a != nil {
				mesh = a.Mesh
				break
			}
		}
		if mesh == nil {
			continue
		}
		mapping := func(name string) []int {
			v := b.FindVarRecursive(name)
			if a := c.TensorDistAttr(v); a != nil && a.Mesh.Equal(mesh) {
				return a.DimsMapping
			}
			rank := 0
			if v != nil {
				rank = len(v.Shape())
			}
			return ReplicatedAttr(mesh, rank).DimsMapping
		}
		oa := NewOpDistAttr(mesh)
		for _, name := range op.InputArgNames() {
			oa.SetInputDimsMapping(name, mapping(name))
		}
		for _, name := range op.OutputArgNames() {
			oa.SetOutputDimsMapping(name, mapping(name))
		}
		c.ops[opKey{program: p.ID(), handle: op.Handle()}] = oa
		n++
	}
	slog.Debug("completed op dist attrs", "program", p.ID(), "ops", n)
	return n
}

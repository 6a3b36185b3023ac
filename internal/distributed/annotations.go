package distributed

import (
	"bytes"
	"maps"
	"os"
	"slices"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/graphir/internal/framework"
)

// Annotations is the YAML form of a set of placements:
//
//	meshes:
//	  dp: {shape: [4], process_ids: [0, 1, 2, 3], dim_names: [dp]}
//	tensors:
//	  x: {mesh: dp, dims_mapping: [0, -1]}
type Annotations struct {
	Meshes  map[string]MeshSpec   `yaml:"meshes"`
	Tensors map[string]TensorSpec `yaml:"tensors"`
}

type MeshSpec struct {
	Shape      []int    `yaml:"shape"`
	ProcessIDs []int    `yaml:"process_ids"`
	DimNames   []string `yaml:"dim_names,omitempty"`
}

type TensorSpec struct {
	Mesh        string `yaml:"mesh"`
	DimsMapping []int  `yaml:"dims_mapping"`
}

// ParseAnnotations decodes YAML annotations, rejecting unknown fields.
func ParseAnnotations(data []byte) (*Annotations, error) {
	var a Annotations
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&a); err != nil {
		return nil, errors.Wrap(err, "parse annotations")
	}
	return &a, nil
}

// LoadAnnotations reads and parses an annotations file.
func LoadAnnotations(path string) (*Annotations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read annotations")
	}
	return ParseAnnotations(data)
}

type pendingTensor struct {
	v    *framework.Variable
	attr *TensorDistAttr
}

// Apply registers the meshes of a, annotates the named variables of each
// program's global block and completes op annotations. A tensor may be
// missing from some programs but not from all of them. Nothing is
// recorded when an error is returned.
func (c *DistContext) Apply(a *Annotations, programs ...*framework.Program) error {
	meshes := make(map[string]*ProcessMesh, len(a.Meshes))
	for _, name := range slices.Sorted(maps.Keys(a.Meshes)) {
		spec := a.Meshes[name]
		m, err := NewProcessMesh(spec.Shape, spec.ProcessIDs, spec.DimNames...)
		if err != nil {
			return errors.Wrapf(err, "mesh %q", name)
		}
		if old, ok := c.meshes[name]; ok && !old.Equal(m) {
			return errors.Errorf("mesh %q already registered as %v", name, old)
		}
		meshes[name] = m
	}

	var pending []pendingTensor
	for _, name := range slices.Sorted(maps.Keys(a.Tensors)) {
		spec := a.Tensors[name]
		m, ok := meshes[spec.Mesh]
		if !ok {
			m, ok = c.meshes[spec.Mesh]
		}
		if !ok {
			return errors.Errorf("tensor %q: unknown mesh %q", name, spec.Mesh)
		}
		attr, err := NewTensorDistAttr(m, spec.DimsMapping)
		if err != nil {
			return errors.Wrapf(err, "tensor %q", name)
		}
		found := false
		for _, p := range programs {
			v := p.GlobalBlock().Var(name)
			if v == nil {
				continue
			}
			if shape := v.Shape(); shape != nil && len(shape) != len(spec.DimsMapping) {
				return errors.Errorf("tensor %q: dims mapping %v does not match rank %d in program %s",
					name, spec.DimsMapping, len(shape), p.ID())
			}
			pending = append(pending, pendingTensor{v: v, attr: attr})
			found = true
		}
		if !found {
			return errors.Errorf("tensor %q is not declared in any program", name)
		}
	}

	for name, m := range meshes {
		c.meshes[name] = m
		c.groups.AddWorldRanks(m.processIDs...)
	}
	for _, pt := range pending {
		if err := c.SetTensorDistAttr(pt.v, pt.attr); err != nil {
			return err
		}
	}
	for _, p := range programs {
		c.Complete(p)
	}
	return nil
}

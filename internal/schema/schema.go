// Package schema holds the operator schema registry: the table mapping an
// operator type name to its ordered input slots, output slots and typed
// attribute slots.
//
// Schemas are written in CUE. The built-in table is embedded in the binary
// and compiled once on first use; Default returns it. Extension tables can be
// merged with Extend or loaded from a directory with LoadDir. A Registry is
// immutable after construction and safe for concurrent readers.
package schema

import (
	"fmt"
	"slices"

	"github.com/roach88/graphir/internal/ir"
)

// Slot is a named input or output of an operator.
type Slot struct {
	Name string

	// Duplicable slots may bind more than one variable.
	Duplicable bool

	// Dispensable slots may stay unbound.
	Dispensable bool

	// Intermediate outputs carry values only the backward pass reads.
	Intermediate bool
}

// AttrSlot is a typed attribute declared by an operator.
type AttrSlot struct {
	Name     string
	Type     ir.AttrType
	Default  ir.Attr // nil when the schema declares no default
	Required bool
}

// OpSchema describes one operator type.
type OpSchema struct {
	Type    string
	Doc     string
	Inputs  []Slot
	Outputs []Slot
	Attrs   []AttrSlot
}

// Bookkeeping attributes every operator accepts. They record the
// construction context and never appear in schema files.
var bookkeepingAttrs = []AttrSlot{
	{Name: ir.AttrOpRole, Type: ir.AttrInt, Default: ir.Int32(ir.RoleForward)},
	{Name: ir.AttrOpRoleVar, Type: ir.AttrStrings},
	{Name: ir.AttrOpNamescope, Type: ir.AttrString},
}

// IsBookkeepingAttr reports whether name is stamped by the IR itself.
func IsBookkeepingAttr(name string) bool {
	for _, a := range bookkeepingAttrs {
		if a.Name == name {
			return true
		}
	}
	return false
}

// Input returns the input slot with the given name.
func (s *OpSchema) Input(name string) (Slot, bool) {
	return findSlot(s.Inputs, name)
}

// Output returns the output slot with the given name.
func (s *OpSchema) Output(name string) (Slot, bool) {
	return findSlot(s.Outputs, name)
}

// Attr returns the attribute slot with the given name.
func (s *OpSchema) Attr(name string) (AttrSlot, bool) {
	i := slices.IndexFunc(s.Attrs, func(a AttrSlot) bool { return a.Name == name })
	if i < 0 {
		return AttrSlot{}, false
	}
	return s.Attrs[i], true
}

func findSlot(slots []Slot, name string) (Slot, bool) {
	i := slices.IndexFunc(slots, func(s Slot) bool { return s.Name == name })
	if i < 0 {
		return Slot{}, false
	}
	return slots[i], true
}

// validate checks internal consistency of a schema built outside CUE.
func (s *OpSchema) validate() error {
	if s.Type == "" {
		return fmt.Errorf("operator schema has no type")
	}
	seen := make(map[string]bool)
	for _, slot := range s.Inputs {
		if seen["in:"+slot.Name] {
			return fmt.Errorf("operator %s: duplicate input slot %q", s.Type, slot.Name)
		}
		seen["in:"+slot.Name] = true
	}
	for _, slot := range s.Outputs {
		if seen["out:"+slot.Name] {
			return fmt.Errorf("operator %s: duplicate output slot %q", s.Type, slot.Name)
		}
		seen["out:"+slot.Name] = true
	}
	for _, a := range s.Attrs {
		if seen["attr:"+a.Name] {
			return fmt.Errorf("operator %s: duplicate attribute %q", s.Type, a.Name)
		}
		seen["attr:"+a.Name] = true
		if a.Default != nil && a.Default.Type() != a.Type {
			return fmt.Errorf("operator %s: attribute %q default has type %s, declared %s",
				s.Type, a.Name, a.Default.Type(), a.Type)
		}
	}
	return nil
}

// withBookkeeping appends the bookkeeping attributes the schema does not
// already declare.
func (s *OpSchema) withBookkeeping() *OpSchema {
	for _, b := range bookkeepingAttrs {
		if _, ok := s.Attr(b.Name); !ok {
			s.Attrs = append(s.Attrs, b)
		}
	}
	return s
}

// Registry maps operator type names to schemas.
type Registry struct {
	ops map[string]*OpSchema
}

// NewRegistry builds a registry from schemas. Duplicate types are rejected.
func NewRegistry(schemas ...*OpSchema) (*Registry, error) {
	r := &Registry{ops: make(map[string]*OpSchema, len(schemas))}
	for _, s := range schemas {
		if err := r.add(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(s *OpSchema) error {
	if err := s.validate(); err != nil {
		return err
	}
	if _, dup := r.ops[s.Type]; dup {
		return fmt.Errorf("operator %s registered twice", s.Type)
	}
	r.ops[s.Type] = s.withBookkeeping()
	return nil
}

// Lookup returns the schema for an operator type.
func (r *Registry) Lookup(opType string) (*OpSchema, bool) {
	s, ok := r.ops[opType]
	return s, ok
}

// Has reports whether opType is registered.
func (r *Registry) Has(opType string) bool {
	_, ok := r.ops[opType]
	return ok
}

// Len returns the number of registered operator types.
func (r *Registry) Len() int {
	return len(r.ops)
}

// Types returns every registered type name, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.ops))
	for t := range r.ops {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Extend returns a new registry holding r's schemas plus extra.
// Redefining an existing type is an error.
func (r *Registry) Extend(extra ...*OpSchema) (*Registry, error) {
	out := &Registry{ops: make(map[string]*OpSchema, len(r.ops)+len(extra))}
	for t, s := range r.ops {
		out.ops[t] = s
	}
	for _, s := range extra {
		if err := out.add(s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

package framework

import (
	"fmt"
	"strings"

	"github.com/roach88/graphir/internal/desc"
	"github.com/roach88/graphir/internal/ir"
	"github.com/roach88/graphir/internal/schema"
)

// Operator is one computation step of a block, mirroring a desc.OpDesc.
// Its handle is fixed for its lifetime and survives reconciliation.
type Operator struct {
	desc   *desc.OpDesc
	block  *Block
	handle int64
}

func newOperator(od *desc.OpDesc, b *Block) *Operator {
	return &Operator{desc: od, block: b, handle: od.Handle()}
}

// OpSpec describes an operator to build. Slots map to variable names;
// Attrs holds raw values that are canonicalized against the schema.
type OpSpec struct {
	Type    string
	Inputs  map[string][]string
	Outputs map[string][]string
	Attrs   map[string]any
}

func (o *Operator) Handle() int64           { return o.handle }
func (o *Operator) Type() string            { return o.desc.Type() }
func (o *Operator) Block() *Block           { return o.block }
func (o *Operator) Desc() *desc.OpDesc      { return o.desc }
func (o *Operator) Inputs() []desc.Binding  { return o.desc.Inputs() }
func (o *Operator) Outputs() []desc.Binding { return o.desc.Outputs() }

// Input returns the variable names bound to an input slot.
func (o *Operator) Input(slot string) []string { return o.desc.Input(slot) }

// Output returns the variable names bound to an output slot.
func (o *Operator) Output(slot string) []string { return o.desc.Output(slot) }

func (o *Operator) InputArgNames() []string  { return o.desc.InputArgNames() }
func (o *Operator) OutputArgNames() []string { return o.desc.OutputArgNames() }

func (o *Operator) Attr(name string) (ir.Attr, bool) { return o.desc.Attr(name) }
func (o *Operator) HasAttr(name string) bool         { return o.desc.HasAttr(name) }
func (o *Operator) AttrNames() []string              { return o.desc.AttrNames() }

// Schema returns the operator's schema, nil for removed operators and for
// types the registry lacks (possible after wrapping a foreign description).
func (o *Operator) Schema() *schema.OpSchema {
	if o.block == nil {
		return nil
	}
	s, _ := o.block.prog.registry.Lookup(o.Type())
	return s
}

// Role returns the op_role attribute, RoleForward when unset.
func (o *Operator) Role() ir.OpRole {
	if a, ok := o.desc.Attr(ir.AttrOpRole); ok {
		if r, ok := a.(ir.Int32); ok {
			return ir.OpRole(r)
		}
	}
	return ir.RoleForward
}

// RoleVars returns the op_role_var attribute.
func (o *Operator) RoleVars() []string {
	if a, ok := o.desc.Attr(ir.AttrOpRoleVar); ok {
		if s, ok := a.(ir.Strings); ok {
			return append([]string(nil), s...)
		}
	}
	return nil
}

// NameScope returns the op_namescope attribute.
func (o *Operator) NameScope() string {
	if a, ok := o.desc.Attr(ir.AttrOpNamescope); ok {
		if s, ok := a.(ir.String); ok {
			return string(s)
		}
	}
	return ""
}

// SetAttr canonicalizes v against the schema and stores it.
func (o *Operator) SetAttr(name string, v any) error {
	if o.block == nil {
		return &IRError{Code: ErrCodeInvalidProgram, Op: o.Type(), Message: "operator was removed from its block"}
	}
	s := o.Schema()
	if s == nil {
		return &IRError{Code: ErrCodeUnknownOperatorType, Op: o.Type(), Message: "operator type has no schema"}
	}
	slot, ok := s.Attr(name)
	if !ok {
		return &IRError{Code: ErrCodeUnknownAttribute, Op: o.Type(), Slot: name, Message: "attribute not declared"}
	}
	a, err := canonicalize(slot, v, o.block)
	if err != nil {
		err.Op = o.Type()
		return err
	}
	o.block.prog.commit(func() { o.desc.SetAttr(name, a) })
	return nil
}

// String renders "#handle type(Slot=[args], ...) -> (Slot=[args]) {attrs}".
func (o *Operator) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#%d %s(%s) -> (%s)", o.Handle(), o.Type(), bindingsString(o.desc.Inputs()), bindingsString(o.desc.Outputs()))
	names := o.AttrNames()
	if len(names) > 0 {
		parts := make([]string, len(names))
		for i, n := range names {
			a, _ := o.desc.Attr(n)
			parts[i] = n + "=" + a.String()
		}
		sb.WriteString(" {" + strings.Join(parts, ", ") + "}")
	}
	return sb.String()
}

func bindingsString(bs []desc.Binding) string {
	parts := make([]string, len(bs))
	for i, b := range bs {
		parts[i] = b.Slot + "=[" + strings.Join(b.Args, ", ") + "]"
	}
	return strings.Join(parts, ", ")
}

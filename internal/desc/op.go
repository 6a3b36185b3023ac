package desc

import (
	"slices"

	"github.com/roach88/graphir/internal/ir"
)

// Binding binds an operator slot to an ordered list of variable names.
type Binding struct {
	Slot string
	Args []string
}

// OpDesc describes one operator. Its handle is assigned when it joins a
// program and stays fixed for the operator's lifetime.
type OpDesc struct {
	handle  int64
	typ     string
	inputs  []Binding
	outputs []Binding
	attrs   map[string]ir.Attr

	block *BlockDesc
}

// NewOpDesc creates a detached operator description. It receives a handle
// once added to a block.
func NewOpDesc(opType string) *OpDesc {
	return &OpDesc{typ: opType, attrs: make(map[string]ir.Attr)}
}

func (o *OpDesc) touch() {
	if o.block != nil {
		o.block.touch()
	}
}

// Handle returns the operator's stable handle, 0 while detached.
func (o *OpDesc) Handle() int64 { return o.handle }

func (o *OpDesc) Type() string { return o.typ }

// Block returns the owning block, nil while detached.
func (o *OpDesc) Block() *BlockDesc { return o.block }

func (o *OpDesc) SetType(t string) {
	o.typ = t
	o.touch()
}

// Inputs returns a copy of the input bindings in slot order.
func (o *OpDesc) Inputs() []Binding { return cloneBindings(o.inputs) }

// Outputs returns a copy of the output bindings in slot order.
func (o *OpDesc) Outputs() []Binding { return cloneBindings(o.outputs) }

// Input returns the arguments bound to an input slot.
func (o *OpDesc) Input(slot string) []string { return lookupBinding(o.inputs, slot) }

// Output returns the arguments bound to an output slot.
func (o *OpDesc) Output(slot string) []string { return lookupBinding(o.outputs, slot) }

// SetInput binds slot to args, replacing any previous binding.
func (o *OpDesc) SetInput(slot string, args []string) {
	o.inputs = setBinding(o.inputs, slot, args)
	o.touch()
}

// SetOutput binds slot to args, replacing any previous binding.
func (o *OpDesc) SetOutput(slot string, args []string) {
	o.outputs = setBinding(o.outputs, slot, args)
	o.touch()
}

// InputArgNames returns every input argument, in slot order.
func (o *OpDesc) InputArgNames() []string { return argNames(o.inputs) }

// OutputArgNames returns every output argument, in slot order.
func (o *OpDesc) OutputArgNames() []string { return argNames(o.outputs) }

// RenameInput replaces every input argument named from with to.
func (o *OpDesc) RenameInput(from, to string) {
	if renameArgs(o.inputs, from, to) {
		o.touch()
	}
}

// RenameOutput replaces every output argument named from with to.
func (o *OpDesc) RenameOutput(from, to string) {
	if renameArgs(o.outputs, from, to) {
		o.touch()
	}
}

// Attr returns the attribute named name.
func (o *OpDesc) Attr(name string) (ir.Attr, bool) {
	a, ok := o.attrs[name]
	return a, ok
}

// HasAttr reports whether the attribute is set.
func (o *OpDesc) HasAttr(name string) bool {
	_, ok := o.attrs[name]
	return ok
}

// SetAttr stores an attribute value.
func (o *OpDesc) SetAttr(name string, v ir.Attr) {
	o.attrs[name] = v
	o.touch()
}

// RemoveAttr deletes an attribute.
func (o *OpDesc) RemoveAttr(name string) {
	if _, ok := o.attrs[name]; ok {
		delete(o.attrs, name)
		o.touch()
	}
}

// AttrNames returns the set attribute names, sorted.
func (o *OpDesc) AttrNames() []string {
	return ir.SortedKeys(o.attrs)
}

// Clone copies the operator, detached and without a handle.
func (o *OpDesc) Clone() *OpDesc {
	c := &OpDesc{
		typ:     o.typ,
		inputs:  cloneBindings(o.inputs),
		outputs: cloneBindings(o.outputs),
		attrs:   make(map[string]ir.Attr, len(o.attrs)),
	}
	for k, v := range o.attrs {
		c.attrs[k] = ir.CloneAttr(v)
	}
	return c
}

func cloneBindings(bs []Binding) []Binding {
	out := make([]Binding, len(bs))
	for i, b := range bs {
		out[i] = Binding{Slot: b.Slot, Args: slices.Clone(b.Args)}
	}
	return out
}

func lookupBinding(bs []Binding, slot string) []string {
	for _, b := range bs {
		if b.Slot == slot {
			return slices.Clone(b.Args)
		}
	}
	return nil
}

func setBinding(bs []Binding, slot string, args []string) []Binding {
	args = slices.Clone(args)
	for i := range bs {
		if bs[i].Slot == slot {
			bs[i].Args = args
			return bs
		}
	}
	return append(bs, Binding{Slot: slot, Args: args})
}

func argNames(bs []Binding) []string {
	var out []string
	for _, b := range bs {
		out = append(out, b.Args...)
	}
	return out
}

func renameArgs(bs []Binding, from, to string) bool {
	changed := false
	for i := range bs {
		for j, a := range bs[i].Args {
			if a == from {
				bs[i].Args[j] = to
				changed = true
			}
		}
	}
	return changed
}

package desc

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/roach88/graphir/internal/ir"
)

// NoBlock marks an unset parent or forward block index.
const NoBlock = -1

// BlockDesc describes one block: ordered variables and ordered operators.
type BlockDesc struct {
	idx     int
	parent  int
	forward int

	vars   []*VarDesc
	byName map[string]*VarDesc
	ops    []*OpDesc

	prog *ProgramDesc
}

func newBlockDesc(prog *ProgramDesc, idx, parent int) *BlockDesc {
	return &BlockDesc{
		idx:     idx,
		parent:  parent,
		forward: NoBlock,
		byName:  make(map[string]*VarDesc),
		prog:    prog,
	}
}

func (b *BlockDesc) touch() {
	if b.prog != nil {
		b.prog.version++
	}
}

// Index returns the block's position in its program.
func (b *BlockDesc) Index() int { return b.idx }

// Parent returns the parent block index, NoBlock for the root.
func (b *BlockDesc) Parent() int { return b.parent }

// ForwardBlock returns the paired forward block index, NoBlock when unset.
func (b *BlockDesc) ForwardBlock() int { return b.forward }

// Program returns the owning program.
func (b *BlockDesc) Program() *ProgramDesc { return b.prog }

// SetForwardBlock pairs this (backward) block with a forward block.
func (b *BlockDesc) SetForwardBlock(idx int) {
	b.forward = idx
	b.touch()
}

// Var returns the variable named name, nil if absent.
func (b *BlockDesc) Var(name string) *VarDesc {
	return b.byName[name]
}

// HasVar reports whether the block declares name.
func (b *BlockDesc) HasVar(name string) bool {
	_, ok := b.byName[name]
	return ok
}

// Vars returns the variables in declaration order.
func (b *BlockDesc) Vars() []*VarDesc {
	return slices.Clone(b.vars)
}

// NewVar returns the variable named name, declaring an empty dense tensor
// variable when the block has none.
func (b *BlockDesc) NewVar(name string) *VarDesc {
	if v, ok := b.byName[name]; ok {
		return v
	}
	v := &VarDesc{name: name, block: b}
	b.vars = append(b.vars, v)
	b.byName[name] = v
	b.touch()
	return v
}

// AttachVar adds a detached variable description to the block.
func (b *BlockDesc) AttachVar(v *VarDesc) error {
	if v.block != nil {
		return errors.Errorf("variable %q already belongs to block %d", v.name, v.block.idx)
	}
	if _, clash := b.byName[v.name]; clash {
		return errors.Errorf("block %d: variable %q already exists", b.idx, v.name)
	}
	v.block = b
	b.vars = append(b.vars, v)
	b.byName[v.name] = v
	b.touch()
	return nil
}

// RemoveVar deletes the variable; it reports whether one existed.
func (b *BlockDesc) RemoveVar(name string) bool {
	v, ok := b.byName[name]
	if !ok {
		return false
	}
	delete(b.byName, name)
	b.vars = slices.DeleteFunc(b.vars, func(x *VarDesc) bool { return x == v })
	v.block = nil
	b.touch()
	return true
}

// RenameVar renames a variable in place, keeping its position.
// Operator arguments are not touched.
func (b *BlockDesc) RenameVar(from, to string) error {
	v, ok := b.byName[from]
	if !ok {
		return errors.Errorf("block %d: variable %q not found", b.idx, from)
	}
	if _, clash := b.byName[to]; clash {
		return errors.Errorf("block %d: variable %q already exists", b.idx, to)
	}
	delete(b.byName, from)
	v.name = to
	b.byName[to] = v
	b.touch()
	return nil
}

// NumOps returns the number of operators.
func (b *BlockDesc) NumOps() int { return len(b.ops) }

// Op returns the i-th operator.
func (b *BlockDesc) Op(i int) *OpDesc { return b.ops[i] }

// Ops returns the operators in execution order.
func (b *BlockDesc) Ops() []*OpDesc { return slices.Clone(b.ops) }

// OpByHandle finds an operator by handle. It returns nil, -1 when absent.
func (b *BlockDesc) OpByHandle(handle int64) (*OpDesc, int) {
	for i, op := range b.ops {
		if op.handle == handle {
			return op, i
		}
	}
	return nil, -1
}

// AppendOp appends a new empty operator.
func (b *BlockDesc) AppendOp(opType string) *OpDesc {
	return b.InsertOp(len(b.ops), opType)
}

// PrependOp inserts a new empty operator at the front.
func (b *BlockDesc) PrependOp(opType string) *OpDesc {
	return b.InsertOp(0, opType)
}

// InsertOp inserts a new empty operator at index.
func (b *BlockDesc) InsertOp(index int, opType string) *OpDesc {
	op := NewOpDesc(opType)
	if err := b.InsertOpDesc(index, op); err != nil {
		panic(err)
	}
	return op
}

// InsertOpDesc attaches a detached operator at index, assigning its handle.
func (b *BlockDesc) InsertOpDesc(index int, op *OpDesc) error {
	if op.block != nil {
		return errors.Errorf("op %s (handle %d) already belongs to block %d", op.typ, op.handle, op.block.idx)
	}
	if index < 0 || index > len(b.ops) {
		return errors.Errorf("block %d: insert index %d out of range [0, %d]", b.idx, index, len(b.ops))
	}
	op.handle = b.prog.allocHandle()
	op.block = b
	if op.attrs == nil {
		op.attrs = make(map[string]ir.Attr)
	}
	b.ops = slices.Insert(b.ops, index, op)
	b.touch()
	return nil
}

// RemoveOp removes the operator at index and returns it, detached.
func (b *BlockDesc) RemoveOp(index int) (*OpDesc, error) {
	if index < 0 || index >= len(b.ops) {
		return nil, errors.Errorf("block %d: remove index %d out of range [0, %d)", b.idx, index, len(b.ops))
	}
	op := b.ops[index]
	b.ops = slices.Delete(b.ops, index, index+1)
	op.block = nil
	b.touch()
	return op, nil
}

// RemoveOps removes operators in [start, end).
func (b *BlockDesc) RemoveOps(start, end int) error {
	if start < 0 || end > len(b.ops) || start > end {
		return errors.Errorf("block %d: remove range [%d, %d) out of range", b.idx, start, end)
	}
	for _, op := range b.ops[start:end] {
		op.block = nil
	}
	b.ops = slices.Delete(b.ops, start, end)
	b.touch()
	return nil
}

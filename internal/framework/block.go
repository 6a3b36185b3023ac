package framework

import (
	"fmt"
	"slices"

	"github.com/roach88/graphir/internal/desc"
	"github.com/roach88/graphir/internal/ir"
	"github.com/roach88/graphir/internal/schema"
)

// Block is an ordered list of operators plus the variables it declares.
type Block struct {
	prog *Program
	desc *desc.BlockDesc

	vars     map[string]*Variable
	params   map[string]*Parameter
	varOrder []string
	ops      []*Operator
}

func newBlock(p *Program, bd *desc.BlockDesc) *Block {
	return &Block{
		prog:   p,
		desc:   bd,
		vars:   make(map[string]*Variable),
		params: make(map[string]*Parameter),
	}
}

func (b *Block) Index() int             { return b.desc.Index() }
func (b *Block) Program() *Program      { return b.prog }
func (b *Block) Desc() *desc.BlockDesc  { return b.desc }
func (b *Block) ParentIndex() int       { return b.desc.Parent() }
func (b *Block) ForwardBlockIndex() int { return b.desc.ForwardBlock() }

// Parent returns the enclosing block, nil for the global block.
func (b *Block) Parent() *Block {
	if i := b.ParentIndex(); i != desc.NoBlock {
		return b.prog.blocks[i]
	}
	return nil
}

// SetForwardBlock pairs a backward block with the forward block it
// differentiates. Lookups fall back to the forward block.
func (b *Block) SetForwardBlock(idx int) error {
	if idx < 0 || idx >= b.prog.NumBlocks() || idx == b.Index() {
		return &IRError{Code: ErrCodeInvalidProgram,
			Message: fmt.Sprintf("block %d: invalid forward block %d", b.Index(), idx)}
	}
	b.prog.commit(func() { b.desc.SetForwardBlock(idx) })
	return nil
}

// Var returns the variable declared in this block, nil if absent.
func (b *Block) Var(name string) *Variable { return b.vars[name] }

func (b *Block) HasVar(name string) bool {
	_, ok := b.vars[name]
	return ok
}

// Parameter returns the parameter declared in this block, nil if absent.
func (b *Block) Parameter(name string) *Parameter { return b.params[name] }

// Vars returns the variables in declaration order.
func (b *Block) Vars() []*Variable {
	out := make([]*Variable, len(b.varOrder))
	for i, n := range b.varOrder {
		out[i] = b.vars[n]
	}
	return out
}

// AllParameters returns the parameters in declaration order.
func (b *Block) AllParameters() []*Parameter {
	var out []*Parameter
	for _, n := range b.varOrder {
		if p := b.params[n]; p != nil {
			out = append(out, p)
		}
	}
	return out
}

// FindVarRecursive looks name up in this block, then breadth-first through
// forward blocks and parents.
func (b *Block) FindVarRecursive(name string) *Variable {
	visited := map[int]bool{b.Index(): true}
	frontier := []*Block{b}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if v := cur.vars[name]; v != nil {
			return v
		}
		for _, next := range []int{cur.ForwardBlockIndex(), cur.ParentIndex()} {
			if next != desc.NoBlock && !visited[next] {
				visited[next] = true
				frontier = append(frontier, b.prog.blocks[next])
			}
		}
	}
	return nil
}

// VarRecursive is FindVarRecursive with an error for missing names.
func (b *Block) VarRecursive(name string) (*Variable, error) {
	if v := b.FindVarRecursive(name); v != nil {
		return v, nil
	}
	return nil, &IRError{Code: ErrCodeVariableNotFound, Var: name,
		Message: fmt.Sprintf("not visible from block %d", b.Index())}
}

// CreateVar declares a variable, or returns the existing one when the name
// is already declared here with the same metadata.
func (b *Block) CreateVar(opts VarOptions) (*Variable, error) {
	if opts.Name == "" {
		opts.Name = b.prog.uniqueVarName(b, "_generated_var")
	}
	if v := b.vars[opts.Name]; v != nil {
		if diff := v.conflict(opts); diff != "" {
			return nil, &IRError{Code: ErrCodeConflictingRedeclaration, Var: opts.Name,
				Message: "redeclared with " + diff}
		}
		return v, nil
	}
	var v *Variable
	b.prog.commit(func() {
		dv := b.desc.NewVar(opts.Name)
		dv.SetKind(opts.Kind)
		if opts.Shape != nil {
			dv.SetShape(opts.Shape)
		}
		dv.SetDType(opts.DType)
		dv.SetLoDLevel(opts.LoDLevel)
		dv.SetPersistable(opts.Persistable)
		dv.SetStopGradient(opts.StopGradient)
		dv.SetNeedCheckFeed(opts.NeedCheckFeed)
		v = b.addVar(dv)
	})
	return v, nil
}

// CreateParameter declares a parameter in the global block, whichever
// block it is called on.
func (b *Block) CreateParameter(opts ParamOptions) (*Parameter, error) {
	g := b.prog.GlobalBlock()
	if opts.Name == "" {
		opts.Name = b.prog.uniqueVarName(g, "param")
	}
	if opts.Shape == nil || slices.ContainsFunc(opts.Shape, func(d int64) bool { return d < 0 }) {
		return nil, &IRError{Code: ErrCodeInvalidParameterShape, Var: opts.Name,
			Message: fmt.Sprintf("parameter shape %s must be fully known", shapeString(opts.Shape))}
	}
	if v := g.vars[opts.Name]; v != nil {
		p := g.params[opts.Name]
		if p == nil {
			return nil, &IRError{Code: ErrCodeConflictingRedeclaration, Var: opts.Name,
				Message: "already declared as a plain variable"}
		}
		diff := v.conflict(VarOptions{Kind: ir.KindDenseTensor, Shape: opts.Shape, DType: opts.DType, Persistable: true})
		if diff != "" {
			return nil, &IRError{Code: ErrCodeConflictingRedeclaration, Var: opts.Name,
				Message: "redeclared with " + diff}
		}
		return p, nil
	}
	var p *Parameter
	b.prog.commit(func() {
		dv := g.desc.NewVar(opts.Name)
		dv.SetKind(ir.KindDenseTensor)
		dv.SetShape(opts.Shape)
		dv.SetDType(opts.DType)
		dv.SetPersistable(true)
		dv.SetIsParameter(true)
		dv.SetStopGradient(opts.Frozen)
		p = g.addVar(dv).asParameter()
	})
	if opts.OptimizeAttrs != nil {
		p.optimizeAttrs = make(map[string]float64, len(opts.OptimizeAttrs))
		for k, v := range opts.OptimizeAttrs {
			p.optimizeAttrs[k] = v
		}
	}
	p.regularizer = opts.Regularizer
	p.needClip = !opts.SkipClip
	p.doModelAverage = opts.DoModelAverage
	p.isDistributed = opts.IsDistributed
	return p, nil
}

// addVar mirrors dv, as a Parameter when it is flagged is-parameter.
func (b *Block) addVar(dv *desc.VarDesc) *Variable {
	v := &Variable{desc: dv, block: b}
	b.vars[dv.Name()] = v
	b.varOrder = append(b.varOrder, dv.Name())
	if dv.IsParameter() {
		b.params[dv.Name()] = newParameter(v)
	}
	return v
}

func (v *Variable) asParameter() *Parameter {
	return v.block.params[v.Name()]
}

// RemoveVar deletes a variable from the block. Operators that still name it
// are left alone; Validate reports them.
func (b *Block) RemoveVar(name string) error {
	if !b.HasVar(name) {
		return &IRError{Code: ErrCodeVariableNotFound, Var: name,
			Message: fmt.Sprintf("not declared in block %d", b.Index())}
	}
	b.prog.commit(func() {
		b.desc.RemoveVar(name)
		b.dropVar(name)
	})
	return nil
}

func (b *Block) dropVar(name string) {
	if v := b.vars[name]; v != nil {
		v.block = nil
	}
	delete(b.vars, name)
	delete(b.params, name)
	b.varOrder = slices.DeleteFunc(b.varOrder, func(n string) bool { return n == name })
}

// RenameVar renames a variable and every operator argument of this block
// that names it.
func (b *Block) RenameVar(from, to string) error {
	v := b.vars[from]
	if v == nil {
		return &IRError{Code: ErrCodeVariableNotFound, Var: from,
			Message: fmt.Sprintf("not declared in block %d", b.Index())}
	}
	if b.HasVar(to) {
		return &IRError{Code: ErrCodeConflictingRedeclaration, Var: to,
			Message: fmt.Sprintf("rename target already declared in block %d", b.Index())}
	}
	var err error
	b.prog.commit(func() {
		if err = b.desc.RenameVar(from, to); err != nil {
			return
		}
		for _, op := range b.ops {
			op.desc.RenameInput(from, to)
			op.desc.RenameOutput(from, to)
		}
		delete(b.vars, from)
		b.vars[to] = v
		if p := b.params[from]; p != nil {
			delete(b.params, from)
			b.params[to] = p
		}
		b.varOrder[slices.Index(b.varOrder, from)] = to
	})
	return err
}

func (b *Block) NumOps() int { return len(b.ops) }

// Op returns the i-th operator.
func (b *Block) Op(i int) *Operator { return b.ops[i] }

// Ops returns the operators in execution order.
func (b *Block) Ops() []*Operator { return slices.Clone(b.ops) }

// OpIndex returns op's position, -1 when it is not in this block.
func (b *Block) OpIndex(op *Operator) int { return slices.Index(b.ops, op) }

// AppendOp validates spec and appends the operator.
func (b *Block) AppendOp(spec OpSpec) (*Operator, error) {
	return b.InsertOp(len(b.ops), spec)
}

// PrependOp validates spec and inserts the operator first.
func (b *Block) PrependOp(spec OpSpec) (*Operator, error) {
	return b.InsertOp(0, spec)
}

// InsertOp validates spec and inserts the operator at index. The
// description position is found through the neighbouring operator's
// handle, so operators added to the description since the last Reconcile
// keep their place. On error neither the block nor its description change.
func (b *Block) InsertOp(index int, spec OpSpec) (*Operator, error) {
	if index < 0 || index > len(b.ops) {
		return nil, &IRError{Code: ErrCodeInvalidProgram, Op: spec.Type,
			Message: fmt.Sprintf("insert index %d out of range [0, %d]", index, len(b.ops))}
	}
	at, err := b.descInsertPos(index)
	if err != nil {
		return nil, err
	}
	od, err := b.buildOpDesc(spec)
	if err != nil {
		return nil, err
	}
	var op *Operator
	b.prog.commit(func() {
		if ierr := b.desc.InsertOpDesc(at, od); ierr != nil {
			// Unreachable: at was resolved above and od is detached.
			panic(ierr)
		}
		op = newOperator(od, b)
		b.ops = slices.Insert(b.ops, index, op)
	})
	b.claimOutputs(op)
	return op, nil
}

// descInsertPos maps a mirror insert index to a description index: before
// the mirror's operator at index, or right after its last operator.
func (b *Block) descInsertPos(index int) (int, error) {
	if len(b.ops) == 0 {
		return b.desc.NumOps(), nil
	}
	anchor, after := index, 0
	if index == len(b.ops) {
		anchor, after = index-1, 1
	}
	op := b.ops[anchor]
	if _, pos := b.desc.OpByHandle(op.Handle()); pos >= 0 {
		return pos + after, nil
	}
	return 0, &IRError{Code: ErrCodeInvalidProgram, Op: op.Type(),
		Message: fmt.Sprintf("block %d: operator %d is gone from the description; reconcile first", b.Index(), op.Handle())}
}

// buildOpDesc runs every construction check and returns a detached
// description.
func (b *Block) buildOpDesc(spec OpSpec) (*desc.OpDesc, error) {
	s, ok := b.prog.registry.Lookup(spec.Type)
	if !ok {
		return nil, &IRError{Code: ErrCodeUnknownOperatorType, Op: spec.Type, Message: "no schema registered"}
	}
	for _, slot := range ir.SortedKeys(spec.Inputs) {
		if _, ok := s.Input(slot); !ok {
			return nil, &IRError{Code: ErrCodeUnknownSlot, Op: s.Type, Slot: slot, Message: "input slot not declared"}
		}
	}
	for _, slot := range ir.SortedKeys(spec.Outputs) {
		if _, ok := s.Output(slot); !ok {
			return nil, &IRError{Code: ErrCodeUnknownSlot, Op: s.Type, Slot: slot, Message: "output slot not declared"}
		}
	}
	if err := b.checkSlots(s, s.Inputs, spec.Inputs, "input", false); err != nil {
		return nil, err
	}
	if err := b.checkSlots(s, s.Outputs, spec.Outputs, "output", b.prog.ctx.relaxed); err != nil {
		return nil, err
	}
	attrs, err := canonicalizeAttrs(s, spec.Attrs, b)
	if err != nil {
		return nil, err
	}
	if _, ok := attrs[ir.AttrOpRole]; !ok {
		attrs[ir.AttrOpRole] = ir.Int32(b.prog.ctx.role)
	}
	if _, ok := attrs[ir.AttrOpRoleVar]; !ok && len(b.prog.ctx.roleVars) > 0 {
		attrs[ir.AttrOpRoleVar] = ir.Strings(slices.Clone(b.prog.ctx.roleVars))
	}
	attrs[ir.AttrOpNamescope] = ir.String(b.prog.ctx.scope.Path())

	od := desc.NewOpDesc(s.Type)
	for _, slot := range s.Inputs {
		if args := spec.Inputs[slot.Name]; len(args) > 0 {
			od.SetInput(slot.Name, args)
		}
	}
	for _, slot := range s.Outputs {
		if args := spec.Outputs[slot.Name]; len(args) > 0 {
			od.SetOutput(slot.Name, args)
		}
	}
	for name, a := range attrs {
		od.SetAttr(name, a)
	}
	return od, nil
}

// checkSlots enforces binding and arity rules for one side of a schema.
func (b *Block) checkSlots(s *schema.OpSchema, slots []schema.Slot, bound map[string][]string, side string, relaxed bool) error {
	for _, slot := range slots {
		args := bound[slot.Name]
		if len(args) == 0 {
			if slot.Dispensable || (relaxed && slot.Intermediate) {
				continue
			}
			return &IRError{Code: ErrCodeMissingRequiredInput, Op: s.Type, Slot: slot.Name,
				Message: fmt.Sprintf("required %s slot is unbound", side)}
		}
		if !slot.Duplicable && len(args) > 1 {
			return &IRError{Code: ErrCodeArityViolation, Op: s.Type, Slot: slot.Name,
				Message: fmt.Sprintf("%s slot takes one variable, got %d", side, len(args))}
		}
		for _, arg := range args {
			if b.FindVarRecursive(arg) == nil {
				return &IRError{Code: ErrCodeVariableNotFound, Op: s.Type, Slot: slot.Name, Var: arg,
					Message: fmt.Sprintf("%s argument not visible from block %d", side, b.Index())}
			}
		}
	}
	return nil
}

// claimOutputs points unset producer back-references at op.
func (b *Block) claimOutputs(op *Operator) {
	for _, name := range op.OutputArgNames() {
		if v := b.FindVarRecursive(name); v != nil && v.Producer() == nil {
			v.producer = op.Handle()
		}
	}
}

// RemoveOp removes the operator at index. The description drops the
// operator with the same handle, wherever it sits there. Variables it
// produced fall back to their next remaining writer.
func (b *Block) RemoveOp(index int) error {
	if index < 0 || index >= len(b.ops) {
		return &IRError{Code: ErrCodeInvalidProgram,
			Message: fmt.Sprintf("block %d: remove index %d out of range [0, %d)", b.Index(), index, len(b.ops))}
	}
	b.removeOp(index)
	return nil
}

func (b *Block) removeOp(index int) {
	op := b.ops[index]
	b.prog.commit(func() {
		// Already gone from the description: only the mirror changes.
		if _, pos := b.desc.OpByHandle(op.Handle()); pos >= 0 {
			if _, err := b.desc.RemoveOp(pos); err != nil {
				panic(err)
			}
		}
		b.ops = slices.Delete(b.ops, index, index+1)
	})
	op.block = nil
	b.prog.releaseProducer(op.Handle())
}

// RemoveOpsWhere removes every operator matching pred and returns how many
// were removed.
func (b *Block) RemoveOpsWhere(pred func(*Operator) bool) int {
	n := 0
	for i := len(b.ops) - 1; i >= 0; i-- {
		if pred(b.ops[i]) {
			b.removeOp(i)
			n++
		}
	}
	return n
}

// releaseProducer hands the variables produced by a removed operator to
// their first remaining writer, or clears the back-reference.
func (p *Program) releaseProducer(handle int64) {
	orphans := make(map[*Variable]bool)
	for _, b := range p.blocks {
		for _, v := range b.vars {
			if v.producer == handle {
				v.producer = 0
				orphans[v] = true
			}
		}
	}
	if len(orphans) > 0 {
		p.assignProducers(orphans)
	}
}

package framework

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/roach88/graphir/internal/desc"
	"github.com/roach88/graphir/internal/ir"
	"github.com/roach88/graphir/internal/schema"
	"github.com/roach88/graphir/internal/unique"
)

// Program is the entity graph mirroring a desc.ProgramDesc. Every edit made
// through the Program is applied to the description in the same call; edits
// made to the description directly become visible after Reconcile.
type Program struct {
	registry *schema.Registry
	desc     *desc.ProgramDesc
	blocks   []*Block
	names    *unique.Generator
	ctx      buildContext

	// syncedVersion is the description version the mirror last matched.
	syncedVersion uint64
}

// NewProgram creates an empty program holding only the global block.
// A nil registry selects schema.Default().
func NewProgram(reg *schema.Registry, opts ...desc.Option) *Program {
	p, err := FromDesc(desc.New(opts...), reg)
	if err != nil {
		exceptions.Panicf("framework.NewProgram: %v", err)
	}
	return p
}

// FromDesc wraps an existing description, materializing its mirror.
func FromDesc(d *desc.ProgramDesc, reg *schema.Registry) (*Program, error) {
	if err := d.Validate(); err != nil {
		return nil, errors.WithMessage(err, "wrapping program description")
	}
	if reg == nil {
		reg = schema.Default()
	}
	p := &Program{
		registry: reg,
		desc:     d,
		names:    unique.NewGenerator(""),
		ctx:      newBuildContext(),
	}
	p.Reconcile()
	return p, nil
}

// ParseProgram decodes a blob written by MarshalBinary.
func ParseProgram(data []byte, reg *schema.Registry) (*Program, error) {
	d, err := desc.Parse(data)
	if err != nil {
		return nil, err
	}
	p, err := FromDesc(d, reg)
	if err != nil {
		return nil, err
	}
	p.logSummary("parsed program")
	return p, nil
}

func (p *Program) ID() string                 { return p.desc.ID() }
func (p *Program) Desc() *desc.ProgramDesc    { return p.desc }
func (p *Program) Registry() *schema.Registry { return p.registry }

// Stale reports whether the description changed behind the mirror's back.
func (p *Program) Stale() bool { return p.desc.Version() != p.syncedVersion }

// commit runs an edit that keeps mirror and description in step. A program
// that was in sync before stays in sync.
func (p *Program) commit(fn func()) {
	synced := !p.Stale()
	fn()
	if synced {
		p.syncedVersion = p.desc.Version()
	}
}

func (p *Program) NumBlocks() int { return len(p.blocks) }

// Block returns the i-th block.
func (p *Program) Block(i int) *Block { return p.blocks[i] }

// Blocks returns all blocks in index order.
func (p *Program) Blocks() []*Block { return append([]*Block(nil), p.blocks...) }

func (p *Program) GlobalBlock() *Block { return p.blocks[0] }

// CurrentBlock returns the block new sub-blocks are created under.
func (p *Program) CurrentBlock() *Block { return p.blocks[p.ctx.current] }

// CreateBlock appends a block and makes it current. A negative parent
// selects the current block.
func (p *Program) CreateBlock(parent int) *Block {
	if parent < 0 {
		parent = p.ctx.current
	}
	var b *Block
	p.commit(func() {
		bd, err := p.desc.AppendBlock(parent)
		if err != nil {
			exceptions.Panicf("CreateBlock: %v", err)
		}
		b = newBlock(p, bd)
		p.blocks = append(p.blocks, b)
	})
	p.ctx.current = b.Index()
	return b
}

// Rollback makes the parent of the current block current again.
func (p *Program) Rollback() {
	if parent := p.CurrentBlock().ParentIndex(); parent != desc.NoBlock {
		p.ctx.current = parent
	}
}

// AllParameters returns the parameters of the global block in declaration
// order.
func (p *Program) AllParameters() []*Parameter {
	return p.GlobalBlock().AllParameters()
}

// ListVars returns every variable of every block, block by block.
func (p *Program) ListVars() []*Variable {
	var out []*Variable
	for _, b := range p.blocks {
		out = append(out, b.Vars()...)
	}
	return out
}

// opByHandle resolves a weak operator reference.
func (p *Program) opByHandle(h int64) *Operator {
	if h == 0 {
		return nil
	}
	for _, b := range p.blocks {
		for _, op := range b.ops {
			if op.Handle() == h {
				return op
			}
		}
	}
	return nil
}

// uniqueVarName draws key_N names until one is not visible from b.
func (p *Program) uniqueVarName(b *Block, key string) string {
	for {
		name := p.names.Generate(key)
		if b.FindVarRecursive(name) == nil {
			return name
		}
	}
}

// MarshalBinary serializes the backing description.
func (p *Program) MarshalBinary() ([]byte, error) {
	return p.desc.MarshalBinary()
}

// Fingerprint hashes the serialized description.
func (p *Program) Fingerprint() (string, error) {
	return p.desc.Fingerprint()
}

// Clone returns a deep copy made through the binary description.
// Parameter attributes that live only in the mirror are copied across.
func (p *Program) Clone() (*Program, error) {
	blob, err := p.MarshalBinary()
	if err != nil {
		return nil, errors.WithMessage(err, "cloning program")
	}
	c, err := ParseProgram(blob, p.registry)
	if err != nil {
		return nil, errors.WithMessage(err, "cloning program")
	}
	c.names = p.names.Clone()
	c.ctx.role = p.ctx.role
	c.ctx.roleVars = append([]string(nil), p.ctx.roleVars...)
	c.ctx.current = p.ctx.current
	c.ctx.relaxed = p.ctx.relaxed
	for _, b := range p.blocks {
		for name, param := range b.params {
			if cp := c.blocks[b.Index()].params[name]; cp != nil {
				cp.copyExtras(param)
			}
		}
	}
	return c, nil
}

// Validate checks the program is ready for execution: the description is
// well formed, every operator argument and variable attribute resolves
// lexically from the operator's block and every block attribute is in
// range.
func (p *Program) Validate() error {
	if err := p.desc.Validate(); err != nil {
		return &IRError{Code: ErrCodeInvalidProgram, Message: err.Error()}
	}
	if p.Stale() {
		return &IRError{Code: ErrCodeInvalidProgram, Message: "entity graph is out of date with its description; call Reconcile"}
	}
	for _, b := range p.blocks {
		for _, op := range b.ops {
			for _, bind := range append(op.Inputs(), op.Outputs()...) {
				for _, arg := range bind.Args {
					if b.FindVarRecursive(arg) == nil {
						return &IRError{Code: ErrCodeVariableNotFound, Op: op.Type(), Slot: bind.Slot, Var: arg,
							Message: fmt.Sprintf("block %d: argument does not resolve", b.Index())}
					}
				}
			}
			for _, name := range op.AttrNames() {
				a, _ := op.Attr(name)
				if err := p.checkRefs(b, op, name, a); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *Program) checkRefs(b *Block, op *Operator, name string, a ir.Attr) error {
	var vars []string
	var blocks []int
	switch v := a.(type) {
	case ir.VarRef:
		vars = []string{string(v)}
	case ir.VarRefs:
		vars = v
	case ir.BlockRef:
		blocks = []int{int(v)}
	case ir.BlockRefs:
		blocks = v
	}
	for _, n := range vars {
		if b.FindVarRecursive(n) == nil {
			return &IRError{Code: ErrCodeVariableNotFound, Op: op.Type(), Slot: name, Var: n,
				Message: "attribute references an unknown variable"}
		}
	}
	for _, idx := range blocks {
		if idx < 0 || idx >= len(p.blocks) {
			return &IRError{Code: ErrCodeInvalidProgram, Op: op.Type(), Slot: name,
				Message: fmt.Sprintf("attribute references block %d of %d", idx, len(p.blocks))}
		}
	}
	return nil
}

// String renders a deterministic text dump: variables in declaration
// order, operators in execution order, attributes sorted by name.
func (p *Program) String() string {
	var sb strings.Builder
	for _, b := range p.blocks {
		fmt.Fprintf(&sb, "block %d (parent %d", b.Index(), b.ParentIndex())
		if f := b.ForwardBlockIndex(); f != desc.NoBlock {
			fmt.Fprintf(&sb, ", forward %d", f)
		}
		sb.WriteString(") {\n")
		for _, v := range b.Vars() {
			sb.WriteString("  ")
			if param := b.Parameter(v.Name()); param != nil {
				sb.WriteString(param.String())
			} else {
				sb.WriteString(v.String())
			}
			sb.WriteByte('\n')
		}
		for _, op := range b.ops {
			sb.WriteString("  ")
			sb.WriteString(op.String())
			sb.WriteByte('\n')
		}
		sb.WriteString("}\n")
	}
	return sb.String()
}

// logSummary reports the program shape at debug level.
func (p *Program) logSummary(msg string) {
	ops := 0
	for _, b := range p.blocks {
		ops += len(b.ops)
	}
	slog.Debug(msg, "program", p.ID(), "blocks", len(p.blocks), "ops", ops)
}

package desc

import (
	"github.com/pkg/errors"

	"github.com/roach88/graphir/internal/ir"
)

// ProgramDesc is the root of a description: an ordered list of blocks,
// block 0 being the global block.
type ProgramDesc struct {
	id         string
	blocks     []*BlockDesc
	nextHandle int64
	version    uint64
}

// Option configures a new ProgramDesc.
type Option func(*options)

type options struct {
	id    string
	idGen IDGenerator
}

// WithID fixes the program ID.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithIDGenerator draws the program ID from gen.
func WithIDGenerator(gen IDGenerator) Option {
	return func(o *options) { o.idGen = gen }
}

// New creates a description holding only the global block.
func New(opts ...Option) *ProgramDesc {
	o := &options{idGen: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(o)
	}
	id := o.id
	if id == "" {
		id = o.idGen.Generate()
	}
	p := &ProgramDesc{id: id, nextHandle: 1}
	p.blocks = append(p.blocks, newBlockDesc(p, 0, NoBlock))
	return p
}

// ID returns the program identifier.
func (p *ProgramDesc) ID() string { return p.id }

// Version returns the mutation counter. It grows with every change made
// through any description API and is not serialized.
func (p *ProgramDesc) Version() uint64 { return p.version }

// NumBlocks returns the number of blocks.
func (p *ProgramDesc) NumBlocks() int { return len(p.blocks) }

// Block returns the i-th block.
func (p *ProgramDesc) Block(i int) *BlockDesc { return p.blocks[i] }

// GlobalBlock returns block 0.
func (p *ProgramDesc) GlobalBlock() *BlockDesc { return p.blocks[0] }

// AppendBlock adds a block whose parent is parent.
func (p *ProgramDesc) AppendBlock(parent int) (*BlockDesc, error) {
	if parent < 0 || parent >= len(p.blocks) {
		return nil, errors.Errorf("parent block %d out of range [0, %d)", parent, len(p.blocks))
	}
	b := newBlockDesc(p, len(p.blocks), parent)
	p.blocks = append(p.blocks, b)
	p.version++
	return b, nil
}

func (p *ProgramDesc) allocHandle() int64 {
	h := p.nextHandle
	p.nextHandle++
	return h
}

// FindOp locates an operator by handle across all blocks.
func (p *ProgramDesc) FindOp(handle int64) (*OpDesc, bool) {
	for _, b := range p.blocks {
		if op, _ := b.OpByHandle(handle); op != nil {
			return op, true
		}
	}
	return nil, false
}

// Clone returns a deep copy with the same ID, handles and block layout.
func (p *ProgramDesc) Clone() *ProgramDesc {
	c := &ProgramDesc{id: p.id, nextHandle: p.nextHandle, version: p.version}
	for _, b := range p.blocks {
		nb := newBlockDesc(c, b.idx, b.parent)
		nb.forward = b.forward
		for _, v := range b.vars {
			nv := v.clone()
			nv.block = nb
			nb.vars = append(nb.vars, nv)
			nb.byName[nv.name] = nv
		}
		for _, op := range b.ops {
			nop := op.Clone()
			nop.handle = op.handle
			nop.block = nb
			nb.ops = append(nb.ops, nop)
		}
		c.blocks = append(c.blocks, nb)
	}
	return c
}

// Fingerprint hashes the serialized description. Equal fingerprints mean
// byte-identical blobs.
func (p *ProgramDesc) Fingerprint() (string, error) {
	blob, err := p.MarshalBinary()
	if err != nil {
		return "", err
	}
	return ir.ProgramFingerprint(blob), nil
}

// Validate checks structural invariants: parent indices form a tree
// rooted at block 0, handles are unique and positive, variable names are
// unique per block.
func (p *ProgramDesc) Validate() error {
	if len(p.blocks) == 0 {
		return errors.New("program has no blocks")
	}
	handles := make(map[int64]bool)
	for i, b := range p.blocks {
		if b.idx != i {
			return errors.Errorf("block at position %d has index %d", i, b.idx)
		}
		if i == 0 && b.parent != NoBlock {
			return errors.Errorf("global block has parent %d", b.parent)
		}
		if i > 0 && (b.parent < 0 || b.parent >= i) {
			return errors.Errorf("block %d has parent %d; parents must precede children", i, b.parent)
		}
		if b.forward != NoBlock && (b.forward < 0 || b.forward >= len(p.blocks)) {
			return errors.Errorf("block %d has forward block %d out of range", i, b.forward)
		}
		if len(b.byName) != len(b.vars) {
			return errors.Errorf("block %d has duplicate variable names", i)
		}
		for _, op := range b.ops {
			if op.handle <= 0 || op.handle >= p.nextHandle {
				return errors.Errorf("block %d: op %s has invalid handle %d", i, op.typ, op.handle)
			}
			if handles[op.handle] {
				return errors.Errorf("block %d: duplicate op handle %d", i, op.handle)
			}
			handles[op.handle] = true
		}
	}
	return nil
}

package framework

import (
	"log/slog"
	"slices"

	"github.com/gomlx/exceptions"

	"github.com/roach88/graphir/internal/desc"
)

// ReconcileStats counts the mirror entities created and dropped by one
// reconciliation.
type ReconcileStats struct {
	BlocksAdded int
	VarsAdded   int
	VarsRemoved int
	OpsAdded    int
	OpsRemoved  int
}

// Changed reports whether reconciliation touched anything.
func (s ReconcileStats) Changed() bool { return s != ReconcileStats{} }

func (s *ReconcileStats) add(o ReconcileStats) {
	s.BlocksAdded += o.BlocksAdded
	s.VarsAdded += o.VarsAdded
	s.VarsRemoved += o.VarsRemoved
	s.OpsAdded += o.OpsAdded
	s.OpsRemoved += o.OpsRemoved
}

// Reconcile brings the whole mirror in line with the description: blocks
// that exist only in the description are materialized, then every block is
// reconciled. Entities whose backing description survived keep their
// identity.
func (p *Program) Reconcile() ReconcileStats {
	var st ReconcileStats
	for i := len(p.blocks); i < p.desc.NumBlocks(); i++ {
		p.blocks = append(p.blocks, newBlock(p, p.desc.Block(i)))
		st.BlocksAdded++
	}
	if len(p.blocks) != p.desc.NumBlocks() {
		exceptions.Panicf("reconcile: mirror has %d blocks, description %d", len(p.blocks), p.desc.NumBlocks())
	}
	for _, b := range p.blocks {
		st.add(b.reconcile())
	}
	p.refreshProducers()
	p.syncedVersion = p.desc.Version()
	if st.Changed() {
		slog.Debug("reconciled program", "program", p.ID(),
			"blocks_added", st.BlocksAdded,
			"vars_added", st.VarsAdded, "vars_removed", st.VarsRemoved,
			"ops_added", st.OpsAdded, "ops_removed", st.OpsRemoved)
	}
	return st
}

// Reconcile brings this block's variables and operators in line with its
// description. The program stays marked stale until Program.Reconcile
// runs, since other blocks may also have changed.
func (b *Block) Reconcile() ReconcileStats {
	st := b.reconcile()
	b.prog.refreshProducers()
	return st
}

func (b *Block) reconcile() ReconcileStats {
	var st ReconcileStats
	st.VarsAdded, st.VarsRemoved = b.reconcileVars()
	st.OpsAdded, st.OpsRemoved = b.reconcileOps()
	return st
}

func (b *Block) reconcileVars() (added, removed int) {
	descVars := b.desc.Vars()
	present := make(map[string]*desc.VarDesc, len(descVars))
	for _, dv := range descVars {
		present[dv.Name()] = dv
	}
	for _, name := range slices.Clone(b.varOrder) {
		v := b.vars[name]
		dv, ok := present[name]
		if !ok || dv != v.desc || dv.IsParameter() != (b.params[name] != nil) {
			b.dropVar(name)
			removed++
		}
	}
	order := make([]string, 0, len(descVars))
	for _, dv := range descVars {
		if _, ok := b.vars[dv.Name()]; !ok {
			b.addVar(dv)
			added++
		}
		order = append(order, dv.Name())
	}
	b.varOrder = order

	if len(b.vars) != len(descVars) {
		exceptions.Panicf("reconcile block %d: mirror has %d vars, description %d", b.Index(), len(b.vars), len(descVars))
	}
	return added, removed
}

// reconcileOps diffs handle sequences. Operators in the common prefix and
// suffix are kept as they are; inside the differing window a mirrored
// operator is reused when its handle is still present.
func (b *Block) reconcileOps() (added, removed int) {
	descOps := b.desc.Ops()
	old := b.ops

	pre := 0
	for pre < len(old) && pre < len(descOps) && old[pre].Handle() == descOps[pre].Handle() {
		pre++
	}
	suf := 0
	for suf < len(old)-pre && suf < len(descOps)-pre &&
		old[len(old)-1-suf].Handle() == descOps[len(descOps)-1-suf].Handle() {
		suf++
	}

	window := make(map[int64]*Operator, len(old)-pre-suf)
	for _, op := range old[pre : len(old)-suf] {
		window[op.Handle()] = op
	}
	ops := make([]*Operator, 0, len(descOps))
	ops = append(ops, old[:pre]...)
	for _, od := range descOps[pre : len(descOps)-suf] {
		if op, ok := window[od.Handle()]; ok {
			delete(window, od.Handle())
			ops = append(ops, op)
			continue
		}
		ops = append(ops, newOperator(od, b))
		added++
	}
	ops = append(ops, old[len(old)-suf:]...)
	for _, op := range window {
		op.block = nil
		removed++
	}

	if len(ops) != len(descOps) {
		exceptions.Panicf("reconcile block %d: mirror has %d ops, description %d", b.Index(), len(ops), len(descOps))
	}
	for i, op := range ops {
		if op.Handle() != descOps[i].Handle() {
			exceptions.Panicf("reconcile block %d: op %d has handle %d, description %d",
				b.Index(), i, op.Handle(), descOps[i].Handle())
		}
		op.desc = descOps[i]
	}
	b.ops = ops
	return added, removed
}

// refreshProducers drops back-references to operators that no longer
// exist and assigns the first writer to variables without one.
func (p *Program) refreshProducers() {
	live := make(map[int64]bool)
	for _, b := range p.blocks {
		for _, op := range b.ops {
			live[op.Handle()] = true
		}
	}
	for _, b := range p.blocks {
		for _, v := range b.vars {
			if v.producer != 0 && !live[v.producer] {
				v.producer = 0
			}
		}
	}
	p.assignProducers(nil)
}

// assignProducers gives each variable without a producer the first
// operator, in block then op order, that writes it. A non-nil only map
// limits the pass to those variables.
func (p *Program) assignProducers(only map[*Variable]bool) {
	for _, b := range p.blocks {
		for _, op := range b.ops {
			for _, name := range op.OutputArgNames() {
				v := b.FindVarRecursive(name)
				if v == nil || v.producer != 0 || (only != nil && !only[v]) {
					continue
				}
				v.producer = op.Handle()
			}
		}
	}
}

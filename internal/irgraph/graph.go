package irgraph

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/roach88/graphir/internal/desc"
	"github.com/roach88/graphir/internal/framework"
	"github.com/roach88/graphir/internal/ir"
	"github.com/roach88/graphir/internal/schema"
)

var (
	// ErrGraphHasCycle is returned by TopologySort on a cyclic graph.
	ErrGraphHasCycle = errors.New("irgraph: graph has a cycle")

	// ErrUnsupportedGraph is returned by ToProgram for graphs that have no
	// sequential program form.
	ErrUnsupportedGraph = errors.New("irgraph: graph cannot be converted to a program")

	// ErrForeignNode is returned when an edit names a node of another graph
	// or one already removed.
	ErrForeignNode = errors.New("irgraph: node does not belong to this graph")
)

// Graph is the node view of one program block.
type Graph struct {
	registry    *schema.Registry
	nodes       map[int]*Node
	nextID      int
	controlFlow bool
}

// New builds the graph of p's global block. Ops that reference sub-blocks
// are kept as single nodes and mark the graph as holding control flow.
func New(p *framework.Program) *Graph {
	g := &Graph{registry: p.Registry(), nodes: make(map[int]*Node)}
	b := p.GlobalBlock()

	latest := make(map[string]*Node)
	readers := make(map[string][]*Node)
	for _, v := range b.Vars() {
		latest[v.Name()] = g.addNode(KindVar, v.Name(), v.Desc().Clone(), nil)
	}
	current := func(name string) *Node {
		if n := latest[name]; n != nil {
			return n
		}
		n := g.addNode(KindVar, name, desc.NewVarDesc(name), nil)
		latest[name] = n
		return n
	}

	for _, op := range b.Ops() {
		od := op.Desc()
		if refersToBlocks(od) {
			g.controlFlow = true
		}
		ins := uniqueNames(od.InputArgNames())
		outs := uniqueNames(od.OutputArgNames())
		for _, name := range ins {
			current(name)
		}
		var deps []*Node
		for _, name := range outs {
			for _, r := range readers[name] {
				dep := g.CreateControlDepVar()
				g.link(r, dep)
				deps = append(deps, dep)
			}
		}

		n := g.addNode(KindOp, od.Type(), nil, od.Clone())
		for _, dep := range deps {
			g.link(dep, n)
		}
		for _, name := range ins {
			g.link(latest[name], n)
			readers[name] = append(readers[name], n)
		}
		for _, name := range outs {
			cur := current(name)
			out := cur
			if len(cur.inputs) > 0 || len(readers[name]) > 0 {
				out = g.addNode(KindVar, name, cur.varDesc.Clone(), nil)
				latest[name] = out
			}
			g.link(n, out)
			readers[name] = nil
		}
	}
	slog.Debug("built graph", "program", p.ID(), "nodes", len(g.nodes), "control_flow", g.controlFlow)
	return g
}

func refersToBlocks(od *desc.OpDesc) bool {
	for _, name := range od.AttrNames() {
		a, _ := od.Attr(name)
		switch a.Type() {
		case ir.AttrBlock, ir.AttrBlocks:
			return true
		}
	}
	return false
}

func uniqueNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) addNode(kind NodeKind, name string, vd *desc.VarDesc, od *desc.OpDesc) *Node {
	n := &Node{id: g.nextID, kind: kind, name: name, varDesc: vd, opDesc: od}
	g.nextID++
	g.nodes[n.id] = n
	return n
}

func (g *Graph) link(from, to *Node) {
	if !from.hasOutput(to) {
		from.outputs = append(from.outputs, to)
	}
	if !to.hasInput(from) {
		to.inputs = append(to.inputs, from)
	}
}

func (g *Graph) owns(nodes ...*Node) error {
	for _, n := range nodes {
		if n == nil || g.nodes[n.id] != n {
			return errors.Wrapf(ErrForeignNode, "%v", n)
		}
	}
	return nil
}

// Registry is the schema registry op nodes are checked against.
func (g *Graph) Registry() *schema.Registry { return g.registry }

// HasControlFlow reports whether some op references a sub-block.
func (g *Graph) HasControlFlow() bool { return g.controlFlow }

// NumNodes returns the number of live nodes.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id int) *Node { return g.nodes[id] }

// AllNodes returns every node in creation order.
func (g *Graph) AllNodes() []*Node {
	return sortByID(slices.Collect(maps.Values(g.nodes)))
}

func (g *Graph) filter(keep func(*Node) bool) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if keep(n) {
			out = append(out, n)
		}
	}
	return sortByID(out)
}

// AllVarNodes returns variable and control-dependency nodes.
func (g *Graph) AllVarNodes() []*Node { return g.filter((*Node).IsVar) }

// AllOpNodes returns operator nodes in creation order.
func (g *Graph) AllOpNodes() []*Node { return g.filter((*Node).IsOp) }

// AllPersistableNodes returns var nodes whose variable is persistable.
func (g *Graph) AllPersistableNodes() []*Node { return g.filter((*Node).Persistable) }

// VarNodes returns every version node of the named variable, oldest first.
func (g *Graph) VarNodes(name string) []*Node {
	return g.filter(func(n *Node) bool { return n.kind == KindVar && n.name == name })
}

// CreateVarNode adds a variable node with a fresh description.
func (g *Graph) CreateVarNode(name string, kind ir.VarKind, shape []int64, dt dtypes.DType) *Node {
	vd := desc.NewVarDesc(name)
	vd.SetKind(kind)
	vd.SetShape(shape)
	vd.SetDType(dt)
	return g.addNode(KindVar, name, vd, nil)
}

// CreatePersistableNode adds a persistable variable node.
func (g *Graph) CreatePersistableNode(name string, kind ir.VarKind, shape []int64, dt dtypes.DType) *Node {
	n := g.CreateVarNode(name, kind, shape, dt)
	n.varDesc.SetPersistable(true)
	return n
}

// CreateVarNodeFromDesc adds a variable node holding a copy of v.
func (g *Graph) CreateVarNodeFromDesc(v *desc.VarDesc) *Node {
	return g.addNode(KindVar, v.Name(), v.Clone(), nil)
}

// CreateControlDepVar adds a control-dependency node. It has no variable
// description and is never materialized by ToProgram.
func (g *Graph) CreateControlDepVar() *Node {
	return g.addNode(KindControlDep, fmt.Sprintf("%s@%d", ControlVarName, g.nextID), nil, nil)
}

// CreateOpNode adds an operator node bound to the given variable nodes and
// links them. The op is checked against the schema registry; schema
// defaults fill attributes not given, and op_role defaults to forward.
func (g *Graph) CreateOpNode(opType string, attrs map[string]ir.Attr, inputs, outputs map[string][]*Node) (*Node, error) {
	s, ok := g.registry.Lookup(opType)
	if !ok {
		return nil, &framework.IRError{Code: framework.ErrCodeUnknownOperatorType, Op: opType,
			Message: fmt.Sprintf("operator type %q is not registered", opType)}
	}
	od := desc.NewOpDesc(opType)
	if err := g.bindSlots(s, s.Inputs, inputs, "input", false, od.SetInput); err != nil {
		return nil, err
	}
	if err := g.bindSlots(s, s.Outputs, outputs, "output", true, od.SetOutput); err != nil {
		return nil, err
	}
	if err := bindAttrs(od, s, attrs); err != nil {
		return nil, err
	}

	n := g.addNode(KindOp, opType, nil, od)
	for _, slot := range s.Inputs {
		for _, v := range inputs[slot.Name] {
			g.link(v, n)
		}
	}
	for _, slot := range s.Outputs {
		for _, v := range outputs[slot.Name] {
			g.link(n, v)
		}
	}
	return n, nil
}

func (g *Graph) bindSlots(s *schema.OpSchema, slots []schema.Slot, given map[string][]*Node,
	side string, relaxed bool, set func(string, []string)) error {
	for name := range given {
		if !slices.ContainsFunc(slots, func(sl schema.Slot) bool { return sl.Name == name }) {
			return &framework.IRError{Code: framework.ErrCodeUnknownSlot, Op: s.Type, Slot: name,
				Message: fmt.Sprintf("%s slot %q is not declared", side, name)}
		}
	}
	for _, slot := range slots {
		args := given[slot.Name]
		switch {
		case len(args) == 0 && !slot.Dispensable && !(relaxed && slot.Intermediate):
			return &framework.IRError{Code: framework.ErrCodeMissingRequiredInput, Op: s.Type, Slot: slot.Name,
				Message: fmt.Sprintf("required %s slot is unbound", side)}
		case len(args) > 1 && !slot.Duplicable:
			return &framework.IRError{Code: framework.ErrCodeArityViolation, Op: s.Type, Slot: slot.Name,
				Message: fmt.Sprintf("%s slot takes one variable, got %d", side, len(args))}
		case len(args) == 0:
			continue
		}
		names := make([]string, len(args))
		for i, v := range args {
			if err := g.owns(v); err != nil {
				return err
			}
			if v.kind != KindVar {
				return &framework.IRError{Code: framework.ErrCodeVariableNotFound, Op: s.Type, Slot: slot.Name, Var: v.name,
					Message: fmt.Sprintf("%v is not a variable node", v)}
			}
			names[i] = v.name
		}
		set(slot.Name, names)
	}
	return nil
}

func bindAttrs(od *desc.OpDesc, s *schema.OpSchema, attrs map[string]ir.Attr) error {
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		a := attrs[name]
		slot, ok := s.Attr(name)
		if !ok {
			return &framework.IRError{Code: framework.ErrCodeUnknownAttribute, Op: s.Type, Slot: name,
				Message: "attribute is not declared"}
		}
		if a == nil || a.Type() != slot.Type {
			return &framework.IRError{Code: framework.ErrCodeAttrTypeMismatch, Op: s.Type, Slot: name,
				Message: fmt.Sprintf("want %s, got %v", slot.Type, a)}
		}
		od.SetAttr(name, a)
	}
	for _, slot := range s.Attrs {
		if od.HasAttr(slot.Name) || schema.IsBookkeepingAttr(slot.Name) {
			continue
		}
		switch {
		case slot.Default != nil:
			od.SetAttr(slot.Name, slot.Default)
		case slot.Required:
			return &framework.IRError{Code: framework.ErrCodeMissingAttribute, Op: s.Type, Slot: slot.Name,
				Message: "required attribute is not set"}
		}
	}
	if !od.HasAttr(ir.AttrOpRole) {
		od.SetAttr(ir.AttrOpRole, ir.Int32(ir.RoleForward))
	}
	if !od.HasAttr(ir.AttrOpNamescope) {
		od.SetAttr(ir.AttrOpNamescope, ir.String("/"))
	}
	return nil
}

// Link adds the edge from -> to.
func (g *Graph) Link(from, to *Node) error {
	if err := g.owns(from, to); err != nil {
		return err
	}
	g.link(from, to)
	return nil
}

// UpdateInputLink makes op read to instead of from and renames the op's
// input arguments to match.
func (g *Graph) UpdateInputLink(from, to, op *Node) error {
	if err := g.owns(from, to, op); err != nil {
		return err
	}
	if !op.IsOp() || !op.hasInput(from) {
		return errors.Errorf("irgraph: %v is not an input of %v", from, op)
	}
	from.outputs = removeNode(from.outputs, op)
	if op.hasInput(to) {
		op.inputs = removeNode(op.inputs, from)
	} else {
		op.inputs[slices.Index(op.inputs, from)] = to
	}
	if !to.hasOutput(op) {
		to.outputs = append(to.outputs, op)
	}
	if from.name != to.name {
		op.opDesc.RenameInput(from.name, to.name)
	}
	return nil
}

// UpdateOutputLink makes op write to instead of from and renames the op's
// output arguments to match.
func (g *Graph) UpdateOutputLink(from, to, op *Node) error {
	if err := g.owns(from, to, op); err != nil {
		return err
	}
	if !op.IsOp() || !op.hasOutput(from) {
		return errors.Errorf("irgraph: %v is not an output of %v", from, op)
	}
	from.inputs = removeNode(from.inputs, op)
	if op.hasOutput(to) {
		op.outputs = removeNode(op.outputs, from)
	} else {
		op.outputs[slices.Index(op.outputs, from)] = to
	}
	if !to.hasInput(op) {
		to.inputs = append(to.inputs, op)
	}
	if from.name != to.name {
		op.opDesc.RenameOutput(from.name, to.name)
	}
	return nil
}

// SafeRemoveNodes deletes the nodes and every edge touching them. Nodes
// that are not part of the graph are ignored.
func (g *Graph) SafeRemoveNodes(nodes ...*Node) {
	for _, n := range nodes {
		if g.owns(n) != nil {
			continue
		}
		for _, in := range n.inputs {
			in.outputs = removeNode(in.outputs, n)
		}
		for _, out := range n.outputs {
			out.inputs = removeNode(out.inputs, n)
		}
		n.inputs, n.outputs = nil, nil
		delete(g.nodes, n.id)
	}
}

// BuildAdjacencyList maps every op node to the op nodes it depends on,
// through data or control-dependency nodes.
func (g *Graph) BuildAdjacencyList() map[*Node][]*Node {
	adj := make(map[*Node][]*Node)
	for _, op := range g.AllOpNodes() {
		deps := []*Node{}
		for _, v := range op.inputs {
			for _, producer := range v.inputs {
				if producer.IsOp() && !slices.Contains(deps, producer) {
					deps = append(deps, producer)
				}
			}
		}
		adj[op] = sortByID(deps)
	}
	return adj
}

// Clone deep-copies the graph. Node ids are preserved.
func (g *Graph) Clone() *Graph {
	c := &Graph{registry: g.registry, nodes: make(map[int]*Node, len(g.nodes)),
		nextID: g.nextID, controlFlow: g.controlFlow}
	for id, n := range g.nodes {
		cn := &Node{id: id, kind: n.kind, name: n.name}
		if n.varDesc != nil {
			cn.varDesc = n.varDesc.Clone()
		}
		if n.opDesc != nil {
			cn.opDesc = n.opDesc.Clone()
		}
		c.nodes[id] = cn
	}
	for id, n := range g.nodes {
		cn := c.nodes[id]
		for _, in := range n.inputs {
			cn.inputs = append(cn.inputs, c.nodes[in.id])
		}
		for _, out := range n.outputs {
			cn.outputs = append(cn.outputs, c.nodes[out.id])
		}
	}
	return c
}

// ToProgram materializes the graph as a single-block program. Variables
// appear in node creation order and operators in topological order.
// Cyclic graphs and graphs holding control flow are rejected with
// ErrUnsupportedGraph.
func (g *Graph) ToProgram(opts ...desc.Option) (*framework.Program, error) {
	if g.controlFlow {
		return nil, errors.Wrap(ErrUnsupportedGraph, "graph references sub-blocks")
	}
	order, err := g.TopologySort()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedGraph, err)
	}

	d := desc.New(opts...)
	blk := d.GlobalBlock()
	for _, n := range g.AllVarNodes() {
		if n.IsControlDep() || blk.HasVar(n.name) {
			continue
		}
		if err := blk.AttachVar(n.varDesc.Clone()); err != nil {
			return nil, errors.Wrap(err, "irgraph: materialize variable")
		}
	}
	for _, n := range order {
		if !n.IsOp() {
			continue
		}
		if err := blk.InsertOpDesc(blk.NumOps(), n.opDesc.Clone()); err != nil {
			return nil, errors.Wrap(err, "irgraph: materialize operator")
		}
	}
	return framework.FromDesc(d, g.registry)
}

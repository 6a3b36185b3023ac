package irgraph

import (
	"fmt"
	"slices"

	"github.com/roach88/graphir/internal/desc"
)

// NodeKind distinguishes graph vertices.
type NodeKind uint8

const (
	KindVar NodeKind = iota
	KindOp
	KindControlDep
)

func (k NodeKind) String() string {
	switch k {
	case KindVar:
		return "var"
	case KindOp:
		return "op"
	case KindControlDep:
		return "ctrl"
	}
	return fmt.Sprintf("NodeKind(%d)", uint8(k))
}

// ControlVarName prefixes the names of control-dependency nodes.
const ControlVarName = "__control_var"

// Node is a vertex of a Graph. Var nodes carry a detached variable
// description, op nodes a detached operator description.
type Node struct {
	id      int
	kind    NodeKind
	name    string
	varDesc *desc.VarDesc
	opDesc  *desc.OpDesc
	inputs  []*Node
	outputs []*Node
}

// ID is unique within the graph and increases with creation order.
func (n *Node) ID() int        { return n.id }
func (n *Node) Kind() NodeKind { return n.kind }

// Name is the variable name for var and control nodes, the op type for op
// nodes.
func (n *Node) Name() string { return n.name }

// IsVar reports whether n is a variable node. Control-dependency nodes
// count as variables.
func (n *Node) IsVar() bool        { return n.kind != KindOp }
func (n *Node) IsOp() bool         { return n.kind == KindOp }
func (n *Node) IsControlDep() bool { return n.kind == KindControlDep }
func (n *Node) Var() *desc.VarDesc { return n.varDesc }
func (n *Node) Op() *desc.OpDesc   { return n.opDesc }
func (n *Node) Inputs() []*Node    { return slices.Clone(n.inputs) }
func (n *Node) Outputs() []*Node   { return slices.Clone(n.outputs) }
func (n *Node) Persistable() bool  { return n.varDesc != nil && n.varDesc.Persistable() }

func (n *Node) String() string {
	return fmt.Sprintf("%s#%d %s", n.kind, n.id, n.name)
}

func (n *Node) hasInput(m *Node) bool  { return slices.Contains(n.inputs, m) }
func (n *Node) hasOutput(m *Node) bool { return slices.Contains(n.outputs, m) }

func removeNode(list []*Node, m *Node) []*Node {
	return slices.DeleteFunc(list, func(x *Node) bool { return x == m })
}

func sortByID(nodes []*Node) []*Node {
	slices.SortFunc(nodes, func(a, b *Node) int { return a.id - b.id })
	return nodes
}

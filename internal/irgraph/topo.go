package irgraph

import (
	"container/heap"

	"github.com/pkg/errors"
)

// idHeap is a min-heap of node ids.
type idHeap []int

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *idHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// TopologySort orders every node after all of its inputs. Among ready
// nodes the one created first goes first, so the graph of a sequential
// program sorts back into program order.
func (g *Graph) TopologySort() ([]*Node, error) {
	indegree := make(map[int]int, len(g.nodes))
	ready := &idHeap{}
	for id, n := range g.nodes {
		indegree[id] = len(n.inputs)
		if len(n.inputs) == 0 {
			*ready = append(*ready, id)
		}
	}
	heap.Init(ready)

	order := make([]*Node, 0, len(g.nodes))
	for ready.Len() > 0 {
		n := g.nodes[heap.Pop(ready).(int)]
		order = append(order, n)
		for _, out := range n.outputs {
			indegree[out.id]--
			if indegree[out.id] == 0 {
				heap.Push(ready, out.id)
			}
		}
	}
	if len(order) != len(g.nodes) {
		return nil, errors.Wrapf(ErrGraphHasCycle, "%d of %d nodes are on or behind a cycle",
			len(g.nodes)-len(order), len(g.nodes))
	}
	return order, nil
}

// HasCircle reports whether the graph has a directed cycle.
func (g *Graph) HasCircle() bool {
	return len(g.Cycles()) > 0
}

// Cycles returns the strongly connected components that form cycles:
// components of two or more nodes and single nodes linked to themselves.
func (g *Graph) Cycles() [][]*Node {
	var cycles [][]*Node
	for _, scc := range g.tarjanSCC() {
		if len(scc) > 1 || scc[0].hasOutput(scc[0]) {
			cycles = append(cycles, sortByID(scc))
		}
	}
	return cycles
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in creation order so the result is deterministic.
func (g *Graph) tarjanSCC() [][]*Node {
	var (
		index   = 0
		stack   []*Node
		indices = make(map[*Node]int)
		lowlink = make(map[*Node]int)
		onStack = make(map[*Node]bool)
		sccs    [][]*Node
	)

	var strongConnect func(*Node)
	strongConnect = func(v *Node) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range v.outputs {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []*Node
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, n := range g.AllNodes() {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

// GraphNum returns the number of weakly connected components.
func (g *Graph) GraphNum() int {
	seen := make(map[*Node]bool, len(g.nodes))
	count := 0
	for _, start := range g.AllNodes() {
		if seen[start] {
			continue
		}
		count++
		queue := []*Node{start}
		seen[start] = true
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			for _, m := range append(n.Inputs(), n.outputs...) {
				if !seen[m] {
					seen[m] = true
					queue = append(queue, m)
				}
			}
		}
	}
	return count
}

package analysis

import (
	"strings"

	"github.com/Benny93/haeca-go/internal/graph"
)

// Component is a strongly connected component. Root is the node at which
// Tarjan's DFS closed the component.
type Component struct {
	Root    graph.NodeID
	Members []graph.NodeID
}

// tarjanState holds per-node state during Tarjan's DFS.
type tarjanState struct {
	index   int
	lowlink int
	onStack bool
}

// StronglyConnectedComponents finds all SCCs using Tarjan's algorithm in
// O(V+E) time, over both edge kinds. Roots are visited in node insertion
// order and edges in insertion order, so the result order (Tarjan's
// post-order) is stable for a given graph.
func StronglyConnectedComponents(g *graph.FlowGraph) []Component {
	n := g.NodeCount()
	state := make(map[graph.NodeID]*tarjanState, n)
	var stack []graph.NodeID
	indexCounter := 0
	var comps []Component

	var strongconnect func(u graph.NodeID)
	strongconnect = func(u graph.NodeID) {
		state[u] = &tarjanState{
			index:   indexCounter,
			lowlink: indexCounter,
			onStack: true,
		}
		indexCounter++
		stack = append(stack, u)

		for _, edge := range g.GetOutgoing(u) {
			v := edge.Target
			if _, exists := state[v]; !exists {
				strongconnect(v)
				if state[v].lowlink < state[u].lowlink {
					state[u].lowlink = state[v].lowlink
				}
			} else if state[v].onStack {
				if state[v].index < state[u].lowlink {
					state[u].lowlink = state[v].index
				}
			}
		}

		if state[u].lowlink == state[u].index {
			var members []graph.NodeID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				state[w].onStack = false
				members = append(members, w)
				if w == u {
					break
				}
			}
			comps = append(comps, Component{Root: u, Members: members})
		}
	}

	for _, node := range g.Nodes() {
		if _, exists := state[node.ID]; !exists {
			strongconnect(node.ID)
		}
	}
	return comps
}

// Circularity reports one representative cycle for every SCC with more
// than one node, in SCC discovery order.
func Circularity(g *graph.FlowGraph) []CircularityFinding {
	var out []CircularityFinding
	for _, c := range StronglyConnectedComponents(g) {
		if len(c.Members) < 2 {
			continue
		}
		path := RepresentativeCycle(g, c)
		if len(path) == 0 {
			continue
		}
		labels := make([]string, len(path))
		for i, id := range path {
			labels[i] = g.Label(id)
		}
		out = append(out, CircularityFinding{
			CycleNodes: strings.Join(labels, " → "),
			Size:       len(path),
			Issue:      CircularityIssue,
			Path:       path,
		})
	}
	return out
}

// RepresentativeCycle returns the shortest directed cycle through the
// component's root that stays inside the component. The root is first and
// is not repeated at the end. Ties go to the earlier edge.
func RepresentativeCycle(g *graph.FlowGraph, c Component) []graph.NodeID {
	inside := make(map[graph.NodeID]bool, len(c.Members))
	for _, m := range c.Members {
		inside[m] = true
	}

	parent := map[graph.NodeID]graph.NodeID{c.Root: c.Root}
	queue := []graph.NodeID{c.Root}
	for len(queue) > 0 {
		x := queue[0]
		queue = queue[1:]
		for _, v := range g.Successors(x) {
			if v == c.Root {
				return unwind(parent, c.Root, x)
			}
			if !inside[v] {
				continue
			}
			if _, seen := parent[v]; seen {
				continue
			}
			parent[v] = x
			queue = append(queue, v)
		}
	}
	return nil
}

func unwind(parent map[graph.NodeID]graph.NodeID, root, last graph.NodeID) []graph.NodeID {
	var rev []graph.NodeID
	for x := last; x != root; x = parent[x] {
		rev = append(rev, x)
	}
	rev = append(rev, root)
	path := make([]graph.NodeID, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}

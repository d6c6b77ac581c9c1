// Package graph provides the in-memory event flow graph for haeca.
//
// Nodes live in an arena indexed by NodeID and are registered by canonical
// identity: the first registration of a key creates the node, later ones
// return the existing handle. Edges form a multigraph; secondary indexes on
// kind and adjacency keep lookups O(result) rather than O(graph).
package graph

import (
	"sync"
)

// FlowGraph is a directed multigraph over event and action nodes.
//
// Iteration order everywhere is insertion order, so every analysis over the
// graph is deterministic for a given input.
type FlowGraph struct {
	mu    sync.RWMutex
	nodes []*Node
	edges []*Edge

	// Secondary indexes, kept in sync by the add helpers.
	byKey      map[string]NodeID
	byKind     map[NodeKind][]NodeID
	byEdgeKind map[EdgeKind][]*Edge
	outgoing   map[NodeID][]*Edge
	incoming   map[NodeID][]*Edge
}

// NewFlowGraph creates a new empty flow graph.
func NewFlowGraph() *FlowGraph {
	return &FlowGraph{
		byKey:      make(map[string]NodeID),
		byKind:     make(map[NodeKind][]NodeID),
		byEdgeKind: make(map[EdgeKind][]*Edge),
		outgoing:   make(map[NodeID][]*Edge),
		incoming:   make(map[NodeID][]*Edge),
	}
}

// AddEvent registers an event node and returns its handle.
func (g *FlowGraph) AddEvent(e EventNode) NodeID {
	ev := e
	return g.register(&Node{
		Kind:  NodeEvent,
		Key:   ev.Key(),
		Label: ev.Label(),
		Event: &ev,
	})
}

// AddAction registers an action node and returns its handle.
func (g *FlowGraph) AddAction(a ActionNode) NodeID {
	act := a
	return g.register(&Node{
		Kind:   NodeAction,
		Key:    act.Key(),
		Label:  act.Label(),
		Action: &act,
	})
}

func (g *FlowGraph) register(node *Node) NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.byKey[node.Key]; ok {
		return id
	}

	node.ID = NodeID(len(g.nodes))
	g.nodes = append(g.nodes, node)
	g.byKey[node.Key] = node.ID
	g.byKind[node.Kind] = append(g.byKind[node.Kind], node.ID)
	return node.ID
}

// Lookup returns the handle registered for a canonical key.
func (g *FlowGraph) Lookup(key string) (NodeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byKey[key]
	return id, ok
}

// Node returns the node with the given handle, or nil if out of range.
func (g *FlowGraph) Node(id NodeID) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Label returns the report label of a node.
func (g *FlowGraph) Label(id NodeID) string {
	if n := g.Node(id); n != nil {
		return n.Label
	}
	return ""
}

// AddEdge appends a directed edge. The source and target must already be
// registered; otherwise the edge is dropped and nil is returned.
func (g *FlowGraph) AddEdge(kind EdgeKind, source, target NodeID, automation string) *Edge {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.valid(source) || !g.valid(target) {
		return nil
	}

	edge := &Edge{
		ID:         len(g.edges),
		Kind:       kind,
		Source:     source,
		Target:     target,
		Automation: automation,
	}
	g.edges = append(g.edges, edge)
	g.byEdgeKind[kind] = append(g.byEdgeKind[kind], edge)
	g.outgoing[source] = append(g.outgoing[source], edge)
	g.incoming[target] = append(g.incoming[target], edge)
	return edge
}

func (g *FlowGraph) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(g.nodes)
}

// NodeCount returns the number of nodes.
func (g *FlowGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges, counting parallel edges separately.
func (g *FlowGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// CountNodesByKind returns the number of nodes of the given kind.
func (g *FlowGraph) CountNodesByKind(kind NodeKind) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byKind[kind])
}

// CountEdgesByKind returns the number of edges of the given kind.
func (g *FlowGraph) CountEdgesByKind(kind EdgeKind) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byEdgeKind[kind])
}

// Nodes returns all nodes in insertion order.
func (g *FlowGraph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// NodesByKind returns the nodes of the given kind in insertion order.
func (g *FlowGraph) NodesByKind(kind NodeKind) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := g.byKind[kind]
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *FlowGraph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// EdgesByKind returns all edges of the given kind in insertion order.
func (g *FlowGraph) EdgesByKind(kind EdgeKind) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edges := g.byEdgeKind[kind]
	out := make([]*Edge, len(edges))
	copy(out, edges)
	return out
}

// GetOutgoing returns edges leaving the given node.
// If kind is provided, only edges of that kind are returned.
func (g *FlowGraph) GetOutgoing(id NodeID, kind ...EdgeKind) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterEdges(g.outgoing[id], kind)
}

// GetIncoming returns edges entering the given node.
// If kind is provided, only edges of that kind are returned.
func (g *FlowGraph) GetIncoming(id NodeID, kind ...EdgeKind) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterEdges(g.incoming[id], kind)
}

// HasEdge reports whether at least one edge source → target exists.
func (g *FlowGraph) HasEdge(source, target NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.outgoing[source] {
		if e.Target == target {
			return true
		}
	}
	return false
}

// Successors returns the distinct targets of the node's outgoing edges in
// first-edge order.
func (g *FlowGraph) Successors(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := g.outgoing[id]
	if len(edges) == 0 {
		return nil
	}
	seen := make(map[NodeID]struct{}, len(edges))
	out := make([]NodeID, 0, len(edges))
	for _, e := range edges {
		if _, ok := seen[e.Target]; ok {
			continue
		}
		seen[e.Target] = struct{}{}
		out = append(out, e.Target)
	}
	return out
}

// Stats returns a summary of graph size.
func (g *FlowGraph) Stats() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return map[string]int{
		"events":        len(g.byKind[NodeEvent]),
		"actions":       len(g.byKind[NodeAction]),
		"edges":         len(g.edges),
		"trigger_edges": len(g.byEdgeKind[EdgeTrigger]),
		"effect_edges":  len(g.byEdgeKind[EdgeEffect]),
	}
}

func filterEdges(edges []*Edge, kind []EdgeKind) []*Edge {
	if len(edges) == 0 {
		return nil
	}
	if len(kind) > 0 && kind[0] != "" {
		out := make([]*Edge, 0, len(edges))
		for _, e := range edges {
			if e.Kind == kind[0] {
				out = append(out, e)
			}
		}
		return out
	}
	out := make([]*Edge, len(edges))
	copy(out, edges)
	return out
}

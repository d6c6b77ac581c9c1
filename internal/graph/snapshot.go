package graph

// Snapshot is a serializable copy of a flow graph, used for persistence and
// for callers that want the raw nodes and edges behind a report.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Snapshot copies the graph's nodes and edges in insertion order.
func (g *FlowGraph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Snapshot{
		Nodes: make([]Node, 0, len(g.nodes)),
		Edges: make([]Edge, 0, len(g.edges)),
	}
	for _, n := range g.nodes {
		s.Nodes = append(s.Nodes, *n)
	}
	for _, e := range g.edges {
		s.Edges = append(s.Edges, *e)
	}
	return s
}

// FromSnapshot rebuilds a flow graph. Node handles are preserved as long as
// the snapshot was produced by Snapshot.
func FromSnapshot(s Snapshot) *FlowGraph {
	g := NewFlowGraph()
	remap := make(map[NodeID]NodeID, len(s.Nodes))
	for _, n := range s.Nodes {
		var id NodeID
		switch {
		case n.Event != nil:
			id = g.AddEvent(*n.Event)
		case n.Action != nil:
			id = g.AddAction(*n.Action)
		default:
			continue
		}
		remap[n.ID] = id
	}
	for _, e := range s.Edges {
		src, ok1 := remap[e.Source]
		dst, ok2 := remap[e.Target]
		if !ok1 || !ok2 {
			continue
		}
		g.AddEdge(e.Kind, src, dst, e.Automation)
	}
	return g
}

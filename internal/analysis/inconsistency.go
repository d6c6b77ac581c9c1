package analysis

import (
	"github.com/Benny93/haeca-go/internal/catalog"
	"github.com/Benny93/haeca-go/internal/graph"
)

// Inconsistency reports, per event, every unordered pair of distinct
// reachable actions that target the same entity with signatures the
// catalog lists as opposing. Uncataloged actions (no resulting state) are
// never paired. Pairs are reported in first-discovered order.
func Inconsistency(g *graph.FlowGraph, cat *catalog.Catalog) []InconsistencyFinding {
	var out []InconsistencyFinding
	for _, ev := range g.NodesByKind(graph.NodeEvent) {
		byEntity := make(map[string][]*graph.Node)
		var entities []string
		for _, id := range reachableActions(g, ev.ID) {
			n := g.Node(id)
			if n.Action == nil || n.Action.State == "" || n.Action.Entity == "" {
				continue
			}
			ent := n.Action.Entity
			if _, ok := byEntity[ent]; !ok {
				entities = append(entities, ent)
			}
			byEntity[ent] = append(byEntity[ent], n)
		}

		for _, ent := range entities {
			acts := byEntity[ent]
			for i := 0; i < len(acts); i++ {
				for j := i + 1; j < len(acts); j++ {
					if !cat.Conflicts(acts[i].Action.Service, acts[j].Action.Service) {
						continue
					}
					out = append(out, InconsistencyFinding{
						Event:   ev.Label,
						Action1: acts[i].Label,
						Action2: acts[j].Label,
						Entity:  ent,
						Issue:   InconsistencyIssue,
					})
				}
			}
		}
	}
	return out
}

// reachableActions returns the distinct actions joined to an event by a
// trigger edge, in first-edge order.
func reachableActions(g *graph.FlowGraph, event graph.NodeID) []graph.NodeID {
	edges := g.GetOutgoing(event, graph.EdgeTrigger)
	seen := make(map[graph.NodeID]struct{}, len(edges))
	out := make([]graph.NodeID, 0, len(edges))
	for _, e := range edges {
		if _, ok := seen[e.Target]; ok {
			continue
		}
		seen[e.Target] = struct{}{}
		out = append(out, e.Target)
	}
	return out
}

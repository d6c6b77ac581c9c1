package analysis

import "github.com/Benny93/haeca-go/internal/graph"

// Pair is an (event, action) pair joined by trigger edges.
type Pair struct {
	Event  graph.NodeID
	Action graph.NodeID
}

// PathCounts returns the number of trigger edges per (event, action) pair,
// and the pairs in first-seen order.
func PathCounts(g *graph.FlowGraph) (map[Pair]int, []Pair) {
	counts := make(map[Pair]int)
	var order []Pair
	for _, e := range g.EdgesByKind(graph.EdgeTrigger) {
		p := Pair{Event: e.Source, Action: e.Target}
		if _, seen := counts[p]; !seen {
			order = append(order, p)
		}
		counts[p]++
	}
	return counts, order
}

// Redundancy reports every (event, action) pair joined by two or more
// trigger edges.
func Redundancy(g *graph.FlowGraph) []RedundancyFinding {
	counts, order := PathCounts(g)
	var out []RedundancyFinding
	for _, p := range order {
		n := counts[p]
		if n < 2 {
			continue
		}
		out = append(out, RedundancyFinding{
			Event:      g.Label(p.Event),
			Action:     g.Label(p.Action),
			PathsCount: n,
			Issue:      RedundancyIssue,
		})
	}
	return out
}

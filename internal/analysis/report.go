// Package analysis runs the three defect passes over a built flow graph and
// assembles the report.
package analysis

import (
	"encoding/json"

	"github.com/Benny93/haeca-go/internal/graph"
)

// Fixed issue texts.
const (
	RedundancyIssue    = "Redundancy: action reachable more than once from event"
	InconsistencyIssue = "Inconsistency: conflicting actions reachable from same event"
	CircularityIssue   = "Circularity: cycle in event flow graph"
)

// Summary holds the report's totals. events, actions and edges count the
// whole graph, not what any analysis looked at.
type Summary struct {
	Events              int `json:"events"`
	Actions             int `json:"actions"`
	Edges               int `json:"edges"`
	RedundancyIssues    int `json:"redundancy_issues"`
	InconsistencyIssues int `json:"inconsistency_issues"`
	CircularityIssues   int `json:"circularity_issues"`
}

// RedundancyFinding is an action reachable over more than one path.
type RedundancyFinding struct {
	Event      string `json:"event"`
	Action     string `json:"action"`
	PathsCount int    `json:"paths_count"`
	Issue      string `json:"issue"`
}

// InconsistencyFinding is a pair of conflicting actions on one entity
// reachable from the same event.
type InconsistencyFinding struct {
	Event   string `json:"event"`
	Action1 string `json:"action1"`
	Action2 string `json:"action2"`
	Entity  string `json:"entity"`
	Issue   string `json:"issue"`
}

// CircularityFinding is one representative cycle of a strongly connected
// component.
type CircularityFinding struct {
	CycleNodes string `json:"cycle_nodes"`
	Size       int    `json:"size"`
	Issue      string `json:"issue"`

	// Path holds the node handles of the cycle, in order. Not serialised.
	Path []graph.NodeID `json:"-"`
}

// Report is the analysis result. Field order is part of the output format.
type Report struct {
	Summary       Summary                `json:"summary"`
	Redundancy    []RedundancyFinding    `json:"redundancy"`
	Inconsistency []InconsistencyFinding `json:"inconsistency"`
	Circularity   []CircularityFinding   `json:"circularity"`
}

// NewReport assembles a report from the graph and the three finding lists.
// Nil lists are normalised to empty so they serialise as [].
func NewReport(g *graph.FlowGraph, red []RedundancyFinding, inc []InconsistencyFinding, circ []CircularityFinding) *Report {
	if red == nil {
		red = []RedundancyFinding{}
	}
	if inc == nil {
		inc = []InconsistencyFinding{}
	}
	if circ == nil {
		circ = []CircularityFinding{}
	}
	return &Report{
		Summary: Summary{
			Events:              g.CountNodesByKind(graph.NodeEvent),
			Actions:             g.CountNodesByKind(graph.NodeAction),
			Edges:               g.EdgeCount(),
			RedundancyIssues:    len(red),
			InconsistencyIssues: len(inc),
			CircularityIssues:   len(circ),
		},
		Redundancy:    red,
		Inconsistency: inc,
		Circularity:   circ,
	}
}

// JSON renders the report with two-space indentation.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Total returns the number of findings across all three passes.
func (r *Report) Total() int {
	return r.Summary.RedundancyIssues + r.Summary.InconsistencyIssues + r.Summary.CircularityIssues
}

package ingestion

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Benny93/haeca-go/internal/catalog"
	"github.com/Benny93/haeca-go/internal/graph"
	"github.com/Benny93/haeca-go/internal/rules"
)

// BuildResult is the outcome of a graph build.
type BuildResult struct {
	Graph *graph.FlowGraph

	// Automations is the number of automations offered to the builder.
	Automations int

	// Included lists the names of automations that contributed edges.
	Included []string

	// Diagnostics holds every non-fatal problem, in discovery order.
	Diagnostics []Diagnostic
}

// Skipped returns the number of automations that contributed nothing.
func (r *BuildResult) Skipped() int {
	return r.Automations - len(r.Included)
}

// CountDiagnostics returns how many diagnostics wrap target.
func (r *BuildResult) CountDiagnostics(target error) int {
	n := 0
	for _, d := range r.Diagnostics {
		if errors.Is(d, target) {
			n++
		}
	}
	return n
}

// Builder compiles automations into a flow graph.
type Builder struct {
	cat    *catalog.Catalog
	logger *slog.Logger
}

// NewBuilder creates a builder. A nil logger discards output.
func NewBuilder(cat *catalog.Catalog, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{cat: cat, logger: logger}
}

// Build runs both passes over the complete automation set: first all nodes
// and trigger edges, automation by automation; then effect edges against
// the completed event set.
func (b *Builder) Build(automations []*rules.Automation) *BuildResult {
	g := graph.NewFlowGraph()
	res := &BuildResult{Graph: g, Automations: len(automations)}
	canon := NewCanonicalizer(g, b.cat)
	flat := NewFlattener(b.cat)

	for _, a := range automations {
		if b.addAutomation(a, canon, flat, res) {
			res.Included = append(res.Included, a.Name())
		}
	}

	effects := b.addEffectEdges(g)
	b.logger.Debug("graph built",
		"automations", res.Automations,
		"included", len(res.Included),
		"events", g.CountNodesByKind(graph.NodeEvent),
		"actions", g.CountNodesByKind(graph.NodeAction),
		"effect_edges", effects)
	return res
}

func (b *Builder) addAutomation(a *rules.Automation, canon *Canonicalizer, flat *Flattener, res *BuildResult) bool {
	name := a.Name()
	logger := b.logger.With("automation", name)
	report := func(d Diagnostic) {
		res.Diagnostics = append(res.Diagnostics, d)
		if errors.Is(d, ErrMissingCatalogEntry) || errors.Is(d, ErrNoActions) {
			logger.Debug("diagnostic", "path", d.Path, "error", d.Err)
		} else {
			logger.Warn("diagnostic", "path", d.Path, "error", d.Err)
		}
	}

	if a.Blueprint != "" {
		report(Diagnostic{Automation: name, Err: fmt.Errorf("%w: %s", ErrBlueprint, a.Blueprint)})
		return false
	}

	// Resolve identities without registering, so automations that end up
	// skipped leave no nodes behind.
	var events []graph.EventNode
	for i, t := range a.Triggers {
		evs, err := Events(t)
		if err != nil {
			report(Diagnostic{Automation: name, Path: fmt.Sprintf("trigger[%d]", i), Err: err})
		}
		events = append(events, evs...)
	}

	leaves, diags := flat.Flatten(a)
	for _, d := range diags {
		report(d)
	}
	var actions []graph.ActionNode
	for _, leaf := range leaves {
		acts, err := Actions(leaf.Step, b.cat)
		if err != nil {
			report(Diagnostic{Automation: name, Path: leaf.Path, Err: err})
		}
		actions = append(actions, acts...)
	}

	if len(events) == 0 {
		report(Diagnostic{Automation: name, Err: ErrNoTriggers})
		return false
	}
	if len(actions) == 0 {
		report(Diagnostic{Automation: name, Err: ErrNoActions})
		return false
	}

	eventIDs, actionIDs := canon.Register(events, actions)

	// One trigger edge per event and reachable path.
	for _, e := range eventIDs {
		for _, act := range actionIDs {
			canon.g.AddEdge(graph.EdgeTrigger, e, act, name)
		}
	}
	logger.Debug("automation added", "events", len(eventIDs), "paths", len(actionIDs))
	return true
}

// addEffectEdges links every cataloged action to the exact state event
// state(entity→state) when one exists. Events with an attribute, without a
// target state, or of another kind never receive effect edges.
func (b *Builder) addEffectEdges(g *graph.FlowGraph) int {
	n := 0
	for _, node := range g.NodesByKind(graph.NodeAction) {
		act := node.Action
		if act.State == "" || act.Entity == "" {
			continue
		}
		target, ok := g.Lookup(graph.StateEventKey(act.Entity, act.State))
		if !ok {
			continue
		}
		g.AddEdge(graph.EdgeEffect, node.ID, target, "")
		n++
	}
	return n
}

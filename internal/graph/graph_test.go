package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateEvent(entity, to string) EventNode {
	return EventNode{Kind: StateKind, EntityID: entity, To: to, HasTo: true}
}

func serviceAction(service, entity, state string) ActionNode {
	return ActionNode{Origin: OriginService, Service: service, Entity: entity, State: state}
}

func TestNewFlowGraph(t *testing.T) {
	t.Parallel()

	g := NewFlowGraph()

	assert.NotNil(t, g)
	assert.Equal(t, 0, g.NodeCount())
	assert.Equal(t, 0, g.EdgeCount())
}

func TestFlowGraph_Register(t *testing.T) {
	t.Parallel()

	t.Run("SameIdentitySameHandle", func(t *testing.T) {
		t.Parallel()
		g := NewFlowGraph()

		a := g.AddEvent(stateEvent("light.l1", "on"))
		b := g.AddEvent(stateEvent("light.l1", "on"))

		assert.Equal(t, a, b)
		assert.Equal(t, 1, g.NodeCount())
	})

	t.Run("HandlesAreInsertionIndexes", func(t *testing.T) {
		t.Parallel()
		g := NewFlowGraph()

		e := g.AddEvent(stateEvent("light.l1", "on"))
		a := g.AddAction(serviceAction("light.turn_off", "light.l1", "off"))

		assert.Equal(t, NodeID(0), e)
		assert.Equal(t, NodeID(1), a)
		assert.Equal(t, NodeEvent, g.Node(e).Kind)
		assert.Equal(t, NodeAction, g.Node(a).Kind)
		assert.Equal(t, "A:light.turn_off(light.l1=off)", g.Label(a))
	})

	t.Run("CountsByKind", func(t *testing.T) {
		t.Parallel()
		g := NewFlowGraph()

		g.AddEvent(stateEvent("light.l1", "on"))
		g.AddEvent(stateEvent("light.l1", "off"))
		g.AddAction(serviceAction("switch.turn_on", "switch.s1", "on"))

		assert.Equal(t, 2, g.CountNodesByKind(NodeEvent))
		assert.Equal(t, 1, g.CountNodesByKind(NodeAction))
		assert.Len(t, g.NodesByKind(NodeEvent), 2)
	})

	t.Run("Lookup", func(t *testing.T) {
		t.Parallel()
		g := NewFlowGraph()

		id := g.AddEvent(stateEvent("switch.s1", "on"))

		got, ok := g.Lookup(StateEventKey("switch.s1", "on"))
		require.True(t, ok)
		assert.Equal(t, id, got)

		_, ok = g.Lookup(StateEventKey("switch.s1", "off"))
		assert.False(t, ok)
	})

	t.Run("NodeOutOfRange", func(t *testing.T) {
		t.Parallel()
		g := NewFlowGraph()
		assert.Nil(t, g.Node(3))
		assert.Nil(t, g.Node(-1))
		assert.Empty(t, g.Label(3))
	})
}

func TestFlowGraph_AddEdge(t *testing.T) {
	t.Parallel()

	t.Run("ParallelEdgesAreKept", func(t *testing.T) {
		t.Parallel()
		g := NewFlowGraph()
		e := g.AddEvent(stateEvent("binary_sensor.m1", "on"))
		a := g.AddAction(serviceAction("media_player.play", "media_player.mp1", "playing"))

		g.AddEdge(EdgeTrigger, e, a, "r1")
		g.AddEdge(EdgeTrigger, e, a, "r1")

		assert.Equal(t, 2, g.EdgeCount())
		assert.Len(t, g.GetOutgoing(e), 2)
		assert.Len(t, g.GetIncoming(a), 2)
		assert.Equal(t, []NodeID{a}, g.Successors(e))
	})

	t.Run("FilterByKind", func(t *testing.T) {
		t.Parallel()
		g := NewFlowGraph()
		e := g.AddEvent(stateEvent("switch.s1", "on"))
		a := g.AddAction(serviceAction("switch.turn_on", "switch.s1", "on"))

		g.AddEdge(EdgeTrigger, e, a, "r1")
		g.AddEdge(EdgeEffect, a, e, "")

		assert.Len(t, g.GetOutgoing(e, EdgeTrigger), 1)
		assert.Empty(t, g.GetOutgoing(e, EdgeEffect))
		assert.Len(t, g.GetIncoming(e, EdgeEffect), 1)
		assert.Equal(t, 1, g.CountEdgesByKind(EdgeTrigger))
		assert.Equal(t, 1, g.CountEdgesByKind(EdgeEffect))
		assert.Len(t, g.EdgesByKind(EdgeEffect), 1)
		assert.True(t, g.HasEdge(a, e))
		assert.True(t, g.HasEdge(e, a))
	})

	t.Run("UnknownEndpointDropped", func(t *testing.T) {
		t.Parallel()
		g := NewFlowGraph()
		e := g.AddEvent(stateEvent("switch.s1", "on"))

		edge := g.AddEdge(EdgeTrigger, e, NodeID(42), "r1")

		assert.Nil(t, edge)
		assert.Equal(t, 0, g.EdgeCount())
	})
}

func TestFlowGraph_Stats(t *testing.T) {
	t.Parallel()

	g := NewFlowGraph()
	e := g.AddEvent(stateEvent("switch.s1", "on"))
	a := g.AddAction(serviceAction("switch.turn_on", "switch.s1", "on"))
	g.AddEdge(EdgeTrigger, e, a, "r1")
	g.AddEdge(EdgeEffect, a, e, "")

	stats := g.Stats()
	assert.Equal(t, 1, stats["events"])
	assert.Equal(t, 1, stats["actions"])
	assert.Equal(t, 2, stats["edges"])
	assert.Equal(t, 1, stats["trigger_edges"])
	assert.Equal(t, 1, stats["effect_edges"])
}

func TestFlowGraph_Snapshot(t *testing.T) {
	t.Parallel()

	g := NewFlowGraph()
	e := g.AddEvent(stateEvent("switch.s1", "on"))
	a := g.AddAction(serviceAction("switch.turn_on", "switch.s1", "on"))
	g.AddEdge(EdgeTrigger, e, a, "r1")
	g.AddEdge(EdgeTrigger, e, a, "r2")
	g.AddEdge(EdgeEffect, a, e, "")

	snap := g.Snapshot()
	require.Len(t, snap.Nodes, 2)
	require.Len(t, snap.Edges, 3)

	rebuilt := FromSnapshot(snap)
	assert.Equal(t, snap, rebuilt.Snapshot())
}

// Package graph provides the event flow graph data model for haeca.
//
// It defines the two node kinds (events raised by automation triggers and
// actions issued by automation steps) and the two edge kinds that connect
// them: trigger edges (event → action) and effect edges (action → event).
package graph

import (
	"sort"
	"strconv"
	"strings"
)

// NodeKind represents the type of a graph node.
type NodeKind string

const (
	NodeEvent  NodeKind = "event"
	NodeAction NodeKind = "action"
)

// EdgeKind represents the type of a directed edge.
type EdgeKind string

const (
	// EdgeTrigger connects an event to an action reachable from it.
	EdgeTrigger EdgeKind = "trigger"
	// EdgeEffect connects an action to the state event it produces.
	EdgeEffect EdgeKind = "effect"
)

// ActionOrigin records which kind of automation step produced an action.
type ActionOrigin string

const (
	OriginService ActionOrigin = "service"
	OriginDevice  ActionOrigin = "device"
	OriginEvent   ActionOrigin = "event"
	OriginStep    ActionOrigin = "step"
	OriginUnknown ActionOrigin = "unknown"
)

// StateKind is the trigger kind that can receive effect edges.
const StateKind = "state"

// NodeID is a stable handle into the graph's node arena.
type NodeID int

// Param is one discriminating parameter of an event identity.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// EventNode is the canonical identity of a trigger.
type EventNode struct {
	// Kind is the trigger kind (state, time, sun, ...).
	Kind string `json:"kind"`

	// EntityID is the entity the trigger watches, if any.
	EntityID string `json:"entity_id,omitempty"`

	// To is the target state. Only meaningful when HasTo is set; an
	// absent target means "any state" and is a distinct identity.
	To    string `json:"to,omitempty"`
	HasTo bool   `json:"has_to,omitempty"`

	// Params holds the remaining discriminating parameters.
	Params []Param `json:"params,omitempty"`
}

// ActionNode is the canonical identity of a leaf action.
type ActionNode struct {
	// Origin is the step kind the action came from.
	Origin ActionOrigin `json:"origin"`

	// Service is the canonical service signature, e.g. light.turn_on or
	// climate.set_hvac_mode:cool for data-qualified services.
	Service string `json:"service"`

	// Entity is the targeted entity (or area_id:/device_id: reference).
	Entity string `json:"entity,omitempty"`

	// State is the resulting state from the effect catalog. Empty when the
	// service is not cataloged.
	State string `json:"state,omitempty"`
}

// Node is a vertex of the flow graph. Exactly one of Event and Action is set.
type Node struct {
	ID     NodeID      `json:"id"`
	Kind   NodeKind    `json:"kind"`
	Key    string      `json:"key"`
	Label  string      `json:"label"`
	Event  *EventNode  `json:"event,omitempty"`
	Action *ActionNode `json:"action,omitempty"`
}

// Edge is a directed, typed edge. Parallel edges between the same pair of
// nodes are distinct.
type Edge struct {
	ID     int      `json:"id"`
	Kind   EdgeKind `json:"kind"`
	Source NodeID   `json:"source"`
	Target NodeID   `json:"target"`

	// Automation names the rule that produced a trigger edge.
	Automation string `json:"automation,omitempty"`
}

// IsStateTrigger reports whether the event can be re-triggered by a state
// change, i.e. it is a plain state trigger with an explicit target state.
func (e *EventNode) IsStateTrigger() bool {
	return e.Kind == StateKind && e.EntityID != "" && e.HasTo && len(e.Params) == 0
}

// Key returns the canonical identity string of the event.
func (e *EventNode) Key() string {
	var sb strings.Builder
	sb.WriteString("E|")
	sb.WriteString(strconv.Quote(e.Kind))
	sb.WriteByte('|')
	sb.WriteString(strconv.Quote(e.EntityID))
	sb.WriteByte('|')
	if e.HasTo {
		sb.WriteString(strconv.Quote(e.To))
	} else {
		sb.WriteByte('*')
	}
	for _, p := range sortedParams(e.Params) {
		sb.WriteByte('|')
		sb.WriteString(strconv.Quote(p.Key))
		sb.WriteByte('=')
		sb.WriteString(strconv.Quote(p.Value))
	}
	return sb.String()
}

// Label renders the event for reports, e.g. E:state(light.l2→on) or
// E:time(at=07:00:00).
func (e *EventNode) Label() string {
	var sb strings.Builder
	sb.WriteString("E:")
	sb.WriteString(e.Kind)
	params := sortedParams(e.Params)
	switch {
	case e.EntityID != "":
		sb.WriteByte('(')
		sb.WriteString(e.EntityID)
		if e.HasTo {
			sb.WriteString("→")
			sb.WriteString(e.To)
		}
		sb.WriteByte(')')
		if len(params) > 0 {
			sb.WriteByte('[')
			writeParams(&sb, params)
			sb.WriteByte(']')
		}
	case len(params) > 0:
		sb.WriteByte('(')
		writeParams(&sb, params)
		sb.WriteByte(')')
	}
	return sb.String()
}

// Key returns the canonical identity string of the action.
func (a *ActionNode) Key() string {
	return "A|" + strconv.Quote(string(a.Origin)) + "|" + strconv.Quote(a.Service) + "|" +
		strconv.Quote(a.Entity) + "|" + strconv.Quote(a.State)
}

// Label renders the action for reports, e.g. A:light.turn_on(light.l1=on).
func (a *ActionNode) Label() string {
	var sb strings.Builder
	sb.WriteString("A:")
	switch a.Origin {
	case OriginDevice:
		sb.WriteString("device:")
	case OriginEvent:
		sb.WriteString("event:")
	}
	sb.WriteString(a.Service)
	if a.Entity != "" {
		sb.WriteByte('(')
		sb.WriteString(a.Entity)
		if a.State != "" {
			sb.WriteByte('=')
			sb.WriteString(a.State)
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// StateEventKey returns the identity key of the state trigger
// state(entity→to), the only kind of event an effect edge may point at.
func StateEventKey(entity, to string) string {
	e := EventNode{Kind: StateKind, EntityID: entity, To: to, HasTo: true}
	return e.Key()
}

func sortedParams(params []Param) []Param {
	if len(params) < 2 {
		return params
	}
	out := make([]Param, len(params))
	copy(out, params)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func writeParams(sb *strings.Builder, params []Param) {
	for i, p := range params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.Key)
		sb.WriteByte('=')
		sb.WriteString(p.Value)
	}
}

package ingestion

import (
	"fmt"
	"strings"

	"github.com/Benny93/haeca-go/internal/catalog"
	"github.com/Benny93/haeca-go/internal/graph"
	"github.com/Benny93/haeca-go/internal/rules"
)

// Canonicalizer maps triggers and leaf steps to node identities. Identity
// depends only on canonical fields, never on the automation or position a
// trigger or step came from.
type Canonicalizer struct {
	g   *graph.FlowGraph
	cat *catalog.Catalog
}

// NewCanonicalizer creates a canonicalizer registering into g.
func NewCanonicalizer(g *graph.FlowGraph, cat *catalog.Catalog) *Canonicalizer {
	return &Canonicalizer{g: g, cat: cat}
}

// EventIDs registers the events of a trigger and returns their handles.
func (c *Canonicalizer) EventIDs(t rules.Trigger) ([]graph.NodeID, error) {
	events, err := Events(t)
	ids := make([]graph.NodeID, 0, len(events))
	for _, e := range events {
		ids = append(ids, c.g.AddEvent(e))
	}
	return ids, err
}

// ActionIDs registers the actions of a leaf step and returns their handles.
func (c *Canonicalizer) ActionIDs(step rules.Action) ([]graph.NodeID, error) {
	actions, err := Actions(step, c.cat)
	ids := make([]graph.NodeID, 0, len(actions))
	for _, a := range actions {
		ids = append(ids, c.g.AddAction(a))
	}
	return ids, err
}

// Register adds resolved identities to the graph and returns their handles
// in input order. Repeated identities map to the same handle.
func (c *Canonicalizer) Register(events []graph.EventNode, actions []graph.ActionNode) (eventIDs, actionIDs []graph.NodeID) {
	eventIDs = make([]graph.NodeID, len(events))
	for i, e := range events {
		eventIDs[i] = c.g.AddEvent(e)
	}
	actionIDs = make([]graph.NodeID, len(actions))
	for i, a := range actions {
		actionIDs[i] = c.g.AddAction(a)
	}
	return eventIDs, actionIDs
}

// Events returns the event identities of a trigger: one per watched entity
// and target state for entity triggers, one per value for multi-valued
// triggers. Unknown platforms yield an opaque event and
// ErrUnknownTriggerKind.
func Events(t rules.Trigger) ([]graph.EventNode, error) {
	kind := t.Kind()
	switch t := t.(type) {
	case rules.StateTrigger:
		var out []graph.EventNode
		for _, entity := range orBlank(t.EntityIDs) {
			base := graph.EventNode{Kind: kind, EntityID: entity, Params: params("attribute", t.Attribute)}
			if !t.HasTo {
				out = append(out, base)
				continue
			}
			for _, to := range orBlank(t.To) {
				e := base
				e.To, e.HasTo = to, true
				out = append(out, e)
			}
		}
		return out, nil
	case rules.NumericStateTrigger:
		return perEntity(kind, t.EntityIDs, params("attribute", t.Attribute, "above", t.Above, "below", t.Below)), nil
	case rules.EventTrigger:
		var data []graph.Param
		for _, k := range rules.SortedKeys(t.EventData) {
			data = append(data, graph.Param{Key: "event_data." + k, Value: t.EventData[k]})
		}
		var out []graph.EventNode
		for _, typ := range orBlank(t.EventTypes) {
			ps := append(params("event_type", typ), data...)
			out = append(out, graph.EventNode{Kind: kind, Params: ps})
		}
		return out, nil
	case rules.TimeTrigger:
		var out []graph.EventNode
		for _, at := range orBlank(t.At) {
			out = append(out, graph.EventNode{Kind: kind, Params: params("at", at)})
		}
		return out, nil
	case rules.TimePatternTrigger:
		return single(kind, params("hours", t.Hours, "minutes", t.Minutes, "seconds", t.Seconds)), nil
	case rules.SunTrigger:
		return single(kind, params("event", t.Event, "offset", t.Offset)), nil
	case rules.HomeAssistantTrigger:
		return single(kind, params("event", t.Event)), nil
	case rules.MQTTTrigger:
		return single(kind, params("topic", t.Topic, "payload", t.Payload)), nil
	case rules.WebhookTrigger:
		return single(kind, params("webhook_id", t.WebhookID)), nil
	case rules.ZoneTrigger:
		return perEntity(kind, t.EntityIDs, params("zone", t.Zone, "event", t.Event)), nil
	case rules.TemplateTrigger:
		return single(kind, params("value_template", t.ValueTemplate)), nil
	case rules.DeviceTrigger:
		return []graph.EventNode{{
			Kind:     kind,
			EntityID: t.EntityID,
			Params:   params("device_id", t.DeviceID, "domain", t.Domain, "type", t.Type, "subtype", t.Subtype),
		}}, nil
	case rules.TagTrigger:
		return single(kind, params("tag_id", t.TagID, "device_id", t.DeviceID)), nil
	case rules.CalendarTrigger:
		return []graph.EventNode{{Kind: kind, EntityID: t.EntityID, Params: params("event", t.Event, "offset", t.Offset)}}, nil
	case rules.UnknownTrigger:
		var ps []graph.Param
		for _, k := range rules.SortedKeys(t.Params) {
			ps = append(ps, graph.Param{Key: k, Value: t.Params[k]})
		}
		return single(kind, ps), fmt.Errorf("%w: %q", ErrUnknownTriggerKind, kind)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownTriggerKind, t)
	}
}

// Actions returns the action identities of a leaf step: one per target.
// Non-leaf steps yield nothing. The error is ErrMissingCatalogEntry for
// uncataloged service calls and ErrUnknownActionKind for unknown steps; the
// actions are returned regardless.
func Actions(step rules.Action, cat *catalog.Catalog) ([]graph.ActionNode, error) {
	switch s := step.(type) {
	case rules.ServiceCall:
		sig, state, ok := cat.Resolve(s.Service, s.Data)
		var err error
		if !ok {
			err = fmt.Errorf("%w: %s", ErrMissingCatalogEntry, s.Service)
		}
		var out []graph.ActionNode
		for _, target := range serviceTargets(s) {
			out = append(out, graph.ActionNode{Origin: graph.OriginService, Service: sig, Entity: target, State: state})
		}
		return out, err
	case rules.DeviceAction:
		sig := s.Domain + "." + s.Type
		if isEntityID(s.EntityID) {
			resolved, state, _ := cat.Resolve(sig, s.Data)
			return []graph.ActionNode{{Origin: graph.OriginDevice, Service: resolved, Entity: s.EntityID, State: state}}, nil
		}
		return []graph.ActionNode{{Origin: graph.OriginDevice, Service: sig, Entity: prefixed("device_id", s.DeviceID)}}, nil
	case rules.FireEvent:
		return []graph.ActionNode{{Origin: graph.OriginEvent, Service: s.EventType}}, nil
	case rules.Delay, rules.WaitTemplate, rules.WaitForTrigger, rules.Variables:
		// Pass-through steps become leaves only when their kind is cataloged.
		e, ok := cat.Effect(s.Kind())
		if !ok {
			return nil, nil
		}
		return []graph.ActionNode{{Origin: graph.OriginStep, Service: s.Kind(), State: e.State}}, nil
	case rules.UnknownAction:
		return []graph.ActionNode{{Origin: graph.OriginUnknown, Service: s.Name}},
			fmt.Errorf("%w: %q", ErrUnknownActionKind, s.Name)
	case rules.ConditionStep, rules.Choose, rules.If, rules.Repeat, rules.Parallel,
		rules.Sequence, rules.Stop, rules.Malformed:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownActionKind, step)
	}
}

// IsLeaf reports whether a step produces Action nodes.
func IsLeaf(step rules.Action, cat *catalog.Catalog) bool {
	switch s := step.(type) {
	case rules.ServiceCall, rules.DeviceAction, rules.FireEvent, rules.UnknownAction:
		return true
	case rules.Delay, rules.WaitTemplate, rules.WaitForTrigger, rules.Variables:
		_, ok := cat.Effect(s.Kind())
		return ok
	default:
		return false
	}
}

// serviceTargets lists the entity targets of a call, falling back to
// area_id:/device_id: references, or a single blank target.
func serviceTargets(s rules.ServiceCall) []string {
	if len(s.EntityIDs) > 0 {
		return s.EntityIDs
	}
	var out []string
	for _, a := range s.AreaIDs {
		out = append(out, prefixed("area_id", a))
	}
	for _, d := range s.DeviceIDs {
		out = append(out, prefixed("device_id", d))
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

func prefixed(kind, id string) string {
	if id == "" {
		return ""
	}
	return kind + ":" + id
}

func isEntityID(s string) bool {
	return strings.Contains(s, ".") && !strings.Contains(s, "{{")
}

// params builds a parameter list from key/value pairs, dropping blanks.
func params(kv ...string) []graph.Param {
	var out []graph.Param
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			out = append(out, graph.Param{Key: kv[i], Value: kv[i+1]})
		}
	}
	return out
}

func single(kind string, ps []graph.Param) []graph.EventNode {
	return []graph.EventNode{{Kind: kind, Params: ps}}
}

func perEntity(kind string, entities []string, ps []graph.Param) []graph.EventNode {
	var out []graph.EventNode
	for _, e := range orBlank(entities) {
		out = append(out, graph.EventNode{Kind: kind, EntityID: e, Params: ps})
	}
	return out
}

// orBlank returns vals, or a single blank value when vals is empty, so an
// under-specified trigger still yields one event.
func orBlank(vals []string) []string {
	if len(vals) == 0 {
		return []string{""}
	}
	return vals
}

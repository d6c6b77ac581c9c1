package rules

import (
	"fmt"
	"strings"
)

// Decode converts one decoded YAML value into an Automation. It returns
// ErrNotAutomation when v is not a mapping with triggers, actions or a
// blueprint reference. Unrecognised trigger and step kinds never fail the
// decode; they become UnknownTrigger and UnknownAction variants.
func Decode(v any, index int) (*Automation, error) {
	m, ok := asMap(v)
	if !ok {
		return nil, fmt.Errorf("%w: item %d is %T", ErrNotAutomation, index, v)
	}

	a := &Automation{
		ID:          str(m, "id"),
		Alias:       str(m, "alias"),
		Description: str(m, "description"),
		Mode:        str(m, "mode"),
		Index:       index,
	}

	if bp, ok := asMap(m["use_blueprint"]); ok {
		a.Blueprint = str(bp, "path")
		if a.Blueprint == "" {
			a.Blueprint = "unknown"
		}
		return a, nil
	}

	rawTriggers, hasTriggers := first(m, "triggers", "trigger")
	rawActions, hasActions := first(m, "actions", "action", "sequence")
	if !hasTriggers && !hasActions {
		return nil, fmt.Errorf("%w: item %d has neither triggers nor actions", ErrNotAutomation, index)
	}

	a.Triggers = DecodeTriggers(rawTriggers)
	if rawConds, ok := first(m, "conditions", "condition"); ok {
		a.Conditions = DecodeConditions(rawConds)
	}
	a.Actions = DecodeActions(rawActions)
	return a, nil
}

// DecodeTriggers decodes a trigger list. Disabled triggers are dropped.
func DecodeTriggers(v any) []Trigger {
	var out []Trigger
	for _, item := range asList(v) {
		m, ok := asMap(item)
		if !ok {
			out = append(out, UnknownTrigger{Params: map[string]string{"value": Canonical(item)}})
			continue
		}
		if disabled(m) {
			continue
		}
		// Trigger groups nest a list under triggers:.
		if nested, ok := m["triggers"]; ok && m["trigger"] == nil && m["platform"] == nil {
			out = append(out, DecodeTriggers(nested)...)
			continue
		}
		out = append(out, decodeTrigger(m))
	}
	return out
}

func decodeTrigger(m map[string]any) Trigger {
	kind := str(m, "trigger")
	if kind == "" {
		kind = str(m, "platform")
	}

	switch kind {
	case "state":
		t := StateTrigger{
			EntityIDs: stringList(m["entity_id"]),
			Attribute: str(m, "attribute"),
			From:      scalarList(m["from"]),
			For:       Canonical(m["for"]),
		}
		if to, ok := m["to"]; ok && to != nil {
			t.To = scalarList(to)
			t.HasTo = true
		}
		return t
	case "numeric_state":
		return NumericStateTrigger{
			EntityIDs: stringList(m["entity_id"]),
			Attribute: str(m, "attribute"),
			Above:     str(m, "above"),
			Below:     str(m, "below"),
		}
	case "event":
		return EventTrigger{
			EventTypes: stringList(m["event_type"]),
			EventData:  stringMap(m["event_data"]),
		}
	case "time":
		return TimeTrigger{At: scalarList(m["at"])}
	case "time_pattern":
		return TimePatternTrigger{
			Hours:   str(m, "hours"),
			Minutes: str(m, "minutes"),
			Seconds: str(m, "seconds"),
		}
	case "sun":
		return SunTrigger{Event: str(m, "event"), Offset: str(m, "offset")}
	case "homeassistant":
		return HomeAssistantTrigger{Event: str(m, "event")}
	case "mqtt":
		return MQTTTrigger{Topic: str(m, "topic"), Payload: str(m, "payload")}
	case "webhook":
		return WebhookTrigger{WebhookID: str(m, "webhook_id")}
	case "zone":
		return ZoneTrigger{
			EntityIDs: stringList(m["entity_id"]),
			Zone:      str(m, "zone"),
			Event:     str(m, "event"),
		}
	case "template":
		return TemplateTrigger{ValueTemplate: strings.TrimSpace(str(m, "value_template"))}
	case "device":
		return DeviceTrigger{
			DeviceID: str(m, "device_id"),
			Domain:   str(m, "domain"),
			Type:     str(m, "type"),
			EntityID: str(m, "entity_id"),
			Subtype:  str(m, "subtype"),
		}
	case "tag":
		return TagTrigger{TagID: str(m, "tag_id"), DeviceID: Canonical(m["device_id"])}
	case "calendar":
		return CalendarTrigger{
			EntityID: str(m, "entity_id"),
			Event:    str(m, "event"),
			Offset:   str(m, "offset"),
		}
	}

	params := make(map[string]string)
	for k, val := range m {
		switch k {
		case "platform", "trigger", "id", "alias", "enabled", "variables":
			continue
		}
		params[k] = Canonical(val)
	}
	return UnknownTrigger{Platform: kind, Params: params}
}

// DecodeConditions decodes a condition list or a single condition.
func DecodeConditions(v any) []Condition {
	var out []Condition
	for _, item := range asList(v) {
		if c := decodeCondition(item); c != nil {
			out = append(out, c)
		}
	}
	return out
}

func decodeCondition(v any) Condition {
	if s, ok := v.(string); ok {
		return TemplateCondition{ValueTemplate: strings.TrimSpace(s)}
	}
	m, ok := asMap(v)
	if !ok {
		return UnknownCondition{Name: "unknown"}
	}
	if disabled(m) {
		return nil
	}

	kind := str(m, "condition")
	if kind == "" {
		// Shorthand: {and: [...]}, {or: [...]}, {not: [...]}.
		for _, k := range []string{"and", "or", "not"} {
			if _, ok := m[k]; ok {
				kind = k
				m = map[string]any{"conditions": m[k]}
				break
			}
		}
	}

	switch kind {
	case "and":
		return AndCondition{Conditions: DecodeConditions(m["conditions"])}
	case "or":
		return OrCondition{Conditions: DecodeConditions(m["conditions"])}
	case "not":
		return NotCondition{Conditions: DecodeConditions(m["conditions"])}
	case "state":
		return StateCondition{
			EntityIDs: stringList(m["entity_id"]),
			States:    scalarList(m["state"]),
			Attribute: str(m, "attribute"),
		}
	case "numeric_state":
		return NumericStateCondition{
			EntityIDs: stringList(m["entity_id"]),
			Above:     str(m, "above"),
			Below:     str(m, "below"),
		}
	case "template":
		return TemplateCondition{ValueTemplate: strings.TrimSpace(str(m, "value_template"))}
	case "time":
		return TimeCondition{After: str(m, "after"), Before: str(m, "before"), Weekday: scalarList(m["weekday"])}
	case "sun":
		return SunCondition{After: str(m, "after"), Before: str(m, "before")}
	case "zone":
		return ZoneCondition{EntityIDs: stringList(m["entity_id"]), Zone: str(m, "zone")}
	case "trigger":
		return TriggerCondition{IDs: scalarList(m["id"])}
	case "device":
		return DeviceCondition{DeviceID: str(m, "device_id"), Domain: str(m, "domain"), Type: str(m, "type")}
	case "":
		return UnknownCondition{Name: "unknown"}
	default:
		return UnknownCondition{Name: kind}
	}
}

// DecodeActions decodes an action sequence. Disabled steps are dropped.
func DecodeActions(v any) []Action {
	var out []Action
	for _, item := range asList(v) {
		m, ok := asMap(item)
		if !ok {
			out = append(out, UnknownAction{Name: "unknown", Params: map[string]string{"value": Canonical(item)}})
			continue
		}
		if disabled(m) {
			continue
		}
		out = append(out, decodeAction(m))
	}
	return out
}

func decodeAction(m map[string]any) Action {
	if svc, ok := first(m, "action", "service", "service_template"); ok {
		return decodeServiceCall(m, Scalar(svc))
	}
	if _, ok := m["condition"]; ok {
		return ConditionStep{Condition: decodeCondition(m)}
	}

	switch {
	case has(m, "delay"):
		return Delay{Duration: Canonical(m["delay"])}
	case has(m, "wait_template"):
		return WaitTemplate{Template: strings.TrimSpace(str(m, "wait_template"))}
	case has(m, "wait_for_trigger"):
		return WaitForTrigger{Triggers: DecodeTriggers(m["wait_for_trigger"])}
	case has(m, "event"):
		return FireEvent{EventType: str(m, "event"), EventData: stringMap(m["event_data"])}
	case has(m, "choose"):
		return decodeChoose(m)
	case has(m, "if"):
		return decodeIf(m)
	case has(m, "repeat"):
		return decodeRepeat(m)
	case has(m, "parallel"):
		return decodeParallel(m)
	case has(m, "sequence"):
		return Sequence{Steps: DecodeActions(m["sequence"])}
	case has(m, "stop"):
		err, _ := m["error"].(bool)
		return Stop{Reason: str(m, "stop"), Error: err}
	case has(m, "variables"):
		vars, _ := asMap(m["variables"])
		return Variables{Names: SortedKeys(vars)}
	case has(m, "scene"):
		return ServiceCall{Service: "scene.turn_on", EntityIDs: stringList(m["scene"])}
	case has(m, "device_id") && has(m, "domain"):
		return DeviceAction{
			DeviceID: str(m, "device_id"),
			Domain:   str(m, "domain"),
			Type:     str(m, "type"),
			EntityID: str(m, "entity_id"),
			Data:     stringMap(m),
		}
	}

	name := "unknown"
	for _, k := range SortedKeys(m) {
		if k != "alias" && k != "enabled" && k != "continue_on_error" {
			name = k
			break
		}
	}
	params := make(map[string]string, len(m))
	for k, val := range m {
		params[k] = Canonical(val)
	}
	return UnknownAction{Name: name, Params: params}
}

func has(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func decodeServiceCall(m map[string]any, service string) ServiceCall {
	call := ServiceCall{Service: strings.ToLower(strings.TrimSpace(service))}

	data := make(map[string]string)
	for _, key := range []string{"data_template", "data"} {
		for k, val := range stringMap(m[key]) {
			data[k] = val
		}
	}
	if len(data) > 0 {
		call.Data = data
	}

	target, _ := asMap(m["target"])
	dataMap, _ := asMap(m["data"])
	switch {
	case m["entity_id"] != nil:
		call.EntityIDs = stringList(m["entity_id"])
	case target["entity_id"] != nil:
		call.EntityIDs = stringList(target["entity_id"])
	case dataMap["entity_id"] != nil:
		call.EntityIDs = stringList(dataMap["entity_id"])
	}
	call.AreaIDs = stringList(firstNonNil(target["area_id"], m["area_id"]))
	call.DeviceIDs = stringList(firstNonNil(target["device_id"], m["device_id"]))
	return call
}

func firstNonNil(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func decodeChoose(m map[string]any) Action {
	c := Choose{}
	if def, ok := m["default"]; ok {
		c.Default = DecodeActions(def)
		c.HasDefault = true
	}
	valid := 0
	for i, item := range asList(m["choose"]) {
		opt, ok := asMap(item)
		var seq any
		if ok {
			seq, ok = opt["sequence"]
		}
		if !ok {
			// Kept as a branch so the flattener reports it.
			c.Options = append(c.Options, ChooseOption{
				Sequence: []Action{Malformed{Name: "choose", Reason: fmt.Sprintf("option %d has no sequence", i)}},
			})
			continue
		}
		valid++
		c.Options = append(c.Options, ChooseOption{
			Conditions: DecodeConditions(opt["conditions"]),
			Sequence:   DecodeActions(seq),
		})
	}
	if valid == 0 && !c.HasDefault {
		return Malformed{Name: "choose", Reason: "no options"}
	}
	return c
}

func decodeIf(m map[string]any) Action {
	then, ok := m["then"]
	if !ok {
		return Malformed{Name: "if", Reason: "missing then"}
	}
	a := If{
		Conditions: DecodeConditions(m["if"]),
		Then:       DecodeActions(then),
	}
	if els, ok := m["else"]; ok {
		a.Else = DecodeActions(els)
		a.HasElse = true
	}
	return a
}

func decodeRepeat(m map[string]any) Action {
	r, ok := asMap(m["repeat"])
	if !ok {
		return Malformed{Name: "repeat", Reason: "repeat is not a mapping"}
	}
	seq, ok := r["sequence"]
	if !ok {
		return Malformed{Name: "repeat", Reason: "missing sequence"}
	}
	mode := ""
	for _, k := range []string{"count", "while", "until", "for_each"} {
		if has(r, k) {
			mode = k
			break
		}
	}
	return Repeat{Mode: mode, Sequence: DecodeActions(seq)}
}

func decodeParallel(m map[string]any) Action {
	items := asList(m["parallel"])
	if len(items) == 0 {
		return Malformed{Name: "parallel", Reason: "no branches"}
	}
	p := Parallel{}
	for _, item := range items {
		branch, ok := asMap(item)
		if ok && len(branch) == 1 && has(branch, "sequence") {
			p.Branches = append(p.Branches, DecodeActions(branch["sequence"]))
			continue
		}
		p.Branches = append(p.Branches, DecodeActions(item))
	}
	return p
}

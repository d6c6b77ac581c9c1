// Package rules defines the typed automation model.
//
// Home Assistant automations are loosely typed YAML: a trigger is any mapping
// carrying a platform tag, an action step is recognised by which keys it
// holds. This package turns them into closed variant types (Trigger,
// Condition, Action) so every consumer has to handle every kind explicitly.
package rules

import (
	"errors"
	"strconv"
)

// ErrNotAutomation is returned by Decode for values that are not automations.
var ErrNotAutomation = errors.New("not an automation")

// Automation is one decoded ECA rule.
type Automation struct {
	ID          string
	Alias       string
	Description string
	Mode        string

	// Index is the position of the automation in its input, used for naming
	// anonymous rules.
	Index int

	// Source is the file the automation was read from, if any.
	Source string

	Triggers   []Trigger
	Conditions []Condition
	Actions    []Action

	// Blueprint is set for use_blueprint automations, which carry no inline
	// triggers or actions.
	Blueprint string
}

// Name returns the display name: alias, then id, then description, then
// rule_<index>.
func (a *Automation) Name() string {
	switch {
	case a.Alias != "":
		return a.Alias
	case a.ID != "":
		return a.ID
	case a.Description != "":
		return a.Description
	default:
		return "rule_" + strconv.Itoa(a.Index)
	}
}

// Trigger is one of the trigger variants below.
//
//sumtype:decl
type Trigger interface {
	// Kind returns the platform tag the trigger was declared with.
	Kind() string
	isTrigger()
}

type (
	// StateTrigger fires when an entity changes state.
	StateTrigger struct {
		EntityIDs []string
		Attribute string
		From      []string

		// To lists target states. Empty with HasTo unset means any state.
		To    []string
		HasTo bool
		For   string
	}

	// NumericStateTrigger fires when a numeric state crosses a threshold.
	NumericStateTrigger struct {
		EntityIDs []string
		Attribute string
		Above     string
		Below     string
	}

	// EventTrigger fires on a bus event.
	EventTrigger struct {
		EventTypes []string
		EventData  map[string]string
	}

	// TimeTrigger fires at fixed times of day.
	TimeTrigger struct {
		At []string
	}

	// TimePatternTrigger fires on a recurring clock pattern.
	TimePatternTrigger struct {
		Hours   string
		Minutes string
		Seconds string
	}

	// SunTrigger fires at sunrise or sunset.
	SunTrigger struct {
		Event  string
		Offset string
	}

	// HomeAssistantTrigger fires on start or shutdown.
	HomeAssistantTrigger struct {
		Event string
	}

	// MQTTTrigger fires on an MQTT message.
	MQTTTrigger struct {
		Topic   string
		Payload string
	}

	// WebhookTrigger fires on an incoming webhook.
	WebhookTrigger struct {
		WebhookID string
	}

	// ZoneTrigger fires when a tracked entity enters or leaves a zone.
	ZoneTrigger struct {
		EntityIDs []string
		Zone      string
		Event     string
	}

	// TemplateTrigger fires when a template renders true.
	TemplateTrigger struct {
		ValueTemplate string
	}

	// DeviceTrigger is an integration-specific device trigger.
	DeviceTrigger struct {
		DeviceID string
		Domain   string
		Type     string
		EntityID string
		Subtype  string
	}

	// TagTrigger fires when an NFC tag is scanned.
	TagTrigger struct {
		TagID    string
		DeviceID string
	}

	// CalendarTrigger fires on a calendar event boundary.
	CalendarTrigger struct {
		EntityID string
		Event    string
		Offset   string
	}

	// UnknownTrigger holds a trigger of an unrecognised platform. Params
	// holds its scalar fields in canonical string form.
	UnknownTrigger struct {
		Platform string
		Params   map[string]string
	}
)

func (StateTrigger) Kind() string         { return "state" }
func (NumericStateTrigger) Kind() string  { return "numeric_state" }
func (EventTrigger) Kind() string         { return "event" }
func (TimeTrigger) Kind() string          { return "time" }
func (TimePatternTrigger) Kind() string   { return "time_pattern" }
func (SunTrigger) Kind() string           { return "sun" }
func (HomeAssistantTrigger) Kind() string { return "homeassistant" }
func (MQTTTrigger) Kind() string          { return "mqtt" }
func (WebhookTrigger) Kind() string       { return "webhook" }
func (ZoneTrigger) Kind() string          { return "zone" }
func (TemplateTrigger) Kind() string      { return "template" }
func (DeviceTrigger) Kind() string        { return "device" }
func (TagTrigger) Kind() string           { return "tag" }
func (CalendarTrigger) Kind() string      { return "calendar" }

func (t UnknownTrigger) Kind() string {
	if t.Platform == "" {
		return "unknown"
	}
	return t.Platform
}

func (StateTrigger) isTrigger()         {}
func (NumericStateTrigger) isTrigger()  {}
func (EventTrigger) isTrigger()         {}
func (TimeTrigger) isTrigger()          {}
func (TimePatternTrigger) isTrigger()   {}
func (SunTrigger) isTrigger()           {}
func (HomeAssistantTrigger) isTrigger() {}
func (MQTTTrigger) isTrigger()          {}
func (WebhookTrigger) isTrigger()       {}
func (ZoneTrigger) isTrigger()          {}
func (TemplateTrigger) isTrigger()      {}
func (DeviceTrigger) isTrigger()        {}
func (TagTrigger) isTrigger()           {}
func (CalendarTrigger) isTrigger()      {}
func (UnknownTrigger) isTrigger()       {}

// Condition is one of the condition variants below. Conditions are decoded
// for completeness; the analysis treats every guard as satisfiable.
//
//sumtype:decl
type Condition interface {
	Kind() string
	isCondition()
}

type (
	AndCondition struct{ Conditions []Condition }
	OrCondition  struct{ Conditions []Condition }
	NotCondition struct{ Conditions []Condition }

	StateCondition struct {
		EntityIDs []string
		States    []string
		Attribute string
	}

	NumericStateCondition struct {
		EntityIDs []string
		Above     string
		Below     string
	}

	TemplateCondition struct{ ValueTemplate string }

	TimeCondition struct {
		After   string
		Before  string
		Weekday []string
	}

	SunCondition struct {
		After  string
		Before string
	}

	ZoneCondition struct {
		EntityIDs []string
		Zone      string
	}

	// TriggerCondition matches on the id of the trigger that fired.
	TriggerCondition struct{ IDs []string }

	DeviceCondition struct {
		DeviceID string
		Domain   string
		Type     string
	}

	UnknownCondition struct{ Name string }
)

func (AndCondition) Kind() string          { return "and" }
func (OrCondition) Kind() string           { return "or" }
func (NotCondition) Kind() string          { return "not" }
func (StateCondition) Kind() string        { return "state" }
func (NumericStateCondition) Kind() string { return "numeric_state" }
func (TemplateCondition) Kind() string     { return "template" }
func (TimeCondition) Kind() string         { return "time" }
func (SunCondition) Kind() string          { return "sun" }
func (ZoneCondition) Kind() string         { return "zone" }
func (TriggerCondition) Kind() string      { return "trigger" }
func (DeviceCondition) Kind() string       { return "device" }
func (c UnknownCondition) Kind() string    { return c.Name }

func (AndCondition) isCondition()          {}
func (OrCondition) isCondition()           {}
func (NotCondition) isCondition()          {}
func (StateCondition) isCondition()        {}
func (NumericStateCondition) isCondition() {}
func (TemplateCondition) isCondition()     {}
func (TimeCondition) isCondition()         {}
func (SunCondition) isCondition()          {}
func (ZoneCondition) isCondition()         {}
func (TriggerCondition) isCondition()      {}
func (DeviceCondition) isCondition()       {}
func (UnknownCondition) isCondition()      {}

// Action is one step of an action tree: a leaf call, a pass-through step
// or a control structure.
//
//sumtype:decl
type Action interface {
	Kind() string
	isAction()
}

type (
	// ServiceCall invokes a service (service: or action: key).
	ServiceCall struct {
		Service   string
		EntityIDs []string
		AreaIDs   []string
		DeviceIDs []string

		// Data is the merged data / data_template mapping, values in
		// canonical string form.
		Data map[string]string
	}

	// DeviceAction is an integration-specific device command.
	DeviceAction struct {
		DeviceID string
		Domain   string
		Type     string
		EntityID string
		Data     map[string]string
	}

	// FireEvent fires a bus event.
	FireEvent struct {
		EventType string
		EventData map[string]string
	}

	Delay struct{ Duration string }

	WaitTemplate struct{ Template string }

	WaitForTrigger struct{ Triggers []Trigger }

	Variables struct{ Names []string }

	// ConditionStep stops the sequence when its condition fails.
	ConditionStep struct{ Condition Condition }

	// Choose runs the first option whose conditions hold, else Default.
	Choose struct {
		Options    []ChooseOption
		Default    []Action
		HasDefault bool
	}

	If struct {
		Conditions []Condition
		Then       []Action
		Else       []Action
		HasElse    bool
	}

	// Repeat runs Sequence in a loop. Mode is count, while, until or
	// for_each.
	Repeat struct {
		Mode     string
		Sequence []Action
	}

	Parallel struct{ Branches [][]Action }

	Sequence struct{ Steps []Action }

	Stop struct {
		Reason string
		Error  bool
	}

	// Malformed is a control structure missing required children.
	Malformed struct {
		Name   string
		Reason string
	}

	// UnknownAction is a step of an unrecognised kind.
	UnknownAction struct {
		Name   string
		Params map[string]string
	}
)

// ChooseOption is one guarded alternative of a Choose.
type ChooseOption struct {
	Conditions []Condition
	Sequence   []Action
}

func (ServiceCall) Kind() string     { return "service" }
func (DeviceAction) Kind() string    { return "device" }
func (FireEvent) Kind() string       { return "event" }
func (Delay) Kind() string           { return "delay" }
func (WaitTemplate) Kind() string    { return "wait_template" }
func (WaitForTrigger) Kind() string  { return "wait_for_trigger" }
func (Variables) Kind() string       { return "variables" }
func (ConditionStep) Kind() string   { return "condition" }
func (Choose) Kind() string          { return "choose" }
func (If) Kind() string              { return "if" }
func (Repeat) Kind() string          { return "repeat" }
func (Parallel) Kind() string        { return "parallel" }
func (Sequence) Kind() string        { return "sequence" }
func (Stop) Kind() string            { return "stop" }
func (a Malformed) Kind() string     { return a.Name }
func (a UnknownAction) Kind() string { return a.Name }

func (ServiceCall) isAction()    {}
func (DeviceAction) isAction()   {}
func (FireEvent) isAction()      {}
func (Delay) isAction()          {}
func (WaitTemplate) isAction()   {}
func (WaitForTrigger) isAction() {}
func (Variables) isAction()      {}
func (ConditionStep) isAction()  {}
func (Choose) isAction()         {}
func (If) isAction()             {}
func (Repeat) isAction()         {}
func (Parallel) isAction()       {}
func (Sequence) isAction()       {}
func (Stop) isAction()           {}
func (Malformed) isAction()      {}
func (UnknownAction) isAction()  {}

package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/haeca-go/internal/catalog"
	"github.com/Benny93/haeca-go/internal/graph"
	"github.com/Benny93/haeca-go/internal/rules"
)

func eventLabels(t *testing.T, tr rules.Trigger) []string {
	t.Helper()
	evs, err := Events(tr)
	require.NoError(t, err)
	out := make([]string, len(evs))
	for i := range evs {
		out[i] = evs[i].Label()
	}
	return out
}

func TestEvents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		trigger  rules.Trigger
		expected []string
	}{
		{
			name:     "State",
			trigger:  rules.StateTrigger{EntityIDs: []string{"light.l1"}, To: []string{"on"}, HasTo: true},
			expected: []string{"E:state(light.l1→on)"},
		},
		{
			name:     "StateAnyTarget",
			trigger:  rules.StateTrigger{EntityIDs: []string{"light.l1"}},
			expected: []string{"E:state(light.l1)"},
		},
		{
			name: "StateFanOut",
			trigger: rules.StateTrigger{
				EntityIDs: []string{"light.a", "light.b"},
				To:        []string{"on", "off"},
				HasTo:     true,
			},
			expected: []string{"E:state(light.a→on)", "E:state(light.a→off)", "E:state(light.b→on)", "E:state(light.b→off)"},
		},
		{
			name:     "StateAttribute",
			trigger:  rules.StateTrigger{EntityIDs: []string{"climate.c"}, Attribute: "hvac_action", To: []string{"heating"}, HasTo: true},
			expected: []string{"E:state(climate.c→heating)[attribute=hvac_action]"},
		},
		{
			name:     "NumericState",
			trigger:  rules.NumericStateTrigger{EntityIDs: []string{"sensor.t"}, Above: "25"},
			expected: []string{"E:numeric_state(sensor.t)[above=25]"},
		},
		{
			name:     "Time",
			trigger:  rules.TimeTrigger{At: []string{"07:00:00", "19:00:00"}},
			expected: []string{"E:time(at=07:00:00)", "E:time(at=19:00:00)"},
		},
		{
			name:     "Sun",
			trigger:  rules.SunTrigger{Event: "sunset", Offset: "-00:30:00"},
			expected: []string{"E:sun(event=sunset,offset=-00:30:00)"},
		},
		{
			name:     "Event",
			trigger:  rules.EventTrigger{EventTypes: []string{"zha_event"}, EventData: map[string]string{"command": "on"}},
			expected: []string{"E:event(event_data.command=on,event_type=zha_event)"},
		},
		{
			name:     "HomeAssistant",
			trigger:  rules.HomeAssistantTrigger{Event: "start"},
			expected: []string{"E:homeassistant(event=start)"},
		},
		{
			name:     "Webhook",
			trigger:  rules.WebhookTrigger{WebhookID: "doorbell"},
			expected: []string{"E:webhook(webhook_id=doorbell)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, eventLabels(t, tt.trigger))
		})
	}
}

func TestEvents_Unknown(t *testing.T) {
	t.Parallel()

	evs, err := Events(rules.UnknownTrigger{Platform: "persistent_notification", Params: map[string]string{"notification_id": "x"}})

	assert.ErrorIs(t, err, ErrUnknownTriggerKind)
	require.Len(t, evs, 1)
	assert.Equal(t, "E:persistent_notification(notification_id=x)", evs[0].Label())
}

func TestActions(t *testing.T) {
	t.Parallel()
	cat := catalog.Default()

	t.Run("PerTarget", func(t *testing.T) {
		t.Parallel()
		acts, err := Actions(rules.ServiceCall{Service: "light.turn_off", EntityIDs: []string{"light.a", "light.b"}}, cat)
		require.NoError(t, err)
		require.Len(t, acts, 2)
		assert.Equal(t, "A:light.turn_off(light.a=off)", acts[0].Label())
		assert.Equal(t, "A:light.turn_off(light.b=off)", acts[1].Label())
	})

	t.Run("AreaTarget", func(t *testing.T) {
		t.Parallel()
		acts, err := Actions(rules.ServiceCall{Service: "light.turn_on", AreaIDs: []string{"kitchen"}}, cat)
		require.NoError(t, err)
		require.Len(t, acts, 1)
		assert.Equal(t, "area_id:kitchen", acts[0].Entity)
	})

	t.Run("Qualified", func(t *testing.T) {
		t.Parallel()
		acts, err := Actions(rules.ServiceCall{
			Service:   "climate.set_hvac_mode",
			EntityIDs: []string{"climate.c"},
			Data:      map[string]string{"hvac_mode": "heat"},
		}, cat)
		require.NoError(t, err)
		require.Len(t, acts, 1)
		assert.Equal(t, "climate.set_hvac_mode:heat", acts[0].Service)
		assert.Equal(t, "heat", acts[0].State)
	})

	t.Run("Uncataloged", func(t *testing.T) {
		t.Parallel()
		acts, err := Actions(rules.ServiceCall{Service: "notify.phone"}, cat)
		assert.ErrorIs(t, err, ErrMissingCatalogEntry)
		require.Len(t, acts, 1)
		assert.Empty(t, acts[0].State)
		assert.Equal(t, "A:notify.phone", acts[0].Label())
	})

	t.Run("FireEvent", func(t *testing.T) {
		t.Parallel()
		acts, err := Actions(rules.FireEvent{EventType: "scene_done"}, cat)
		require.NoError(t, err)
		require.Len(t, acts, 1)
		assert.Equal(t, graph.OriginEvent, acts[0].Origin)
	})

	t.Run("DeviceWithEntity", func(t *testing.T) {
		t.Parallel()
		acts, err := Actions(rules.DeviceAction{DeviceID: "abc", Domain: "light", Type: "turn_on", EntityID: "light.l1"}, cat)
		require.NoError(t, err)
		require.Len(t, acts, 1)
		assert.Equal(t, "light.l1", acts[0].Entity)
		assert.Equal(t, "on", acts[0].State)
	})

	t.Run("Unknown", func(t *testing.T) {
		t.Parallel()
		acts, err := Actions(rules.UnknownAction{Name: "frobnicate"}, cat)
		assert.ErrorIs(t, err, ErrUnknownActionKind)
		require.Len(t, acts, 1)
		assert.Equal(t, graph.OriginUnknown, acts[0].Origin)
	})

	t.Run("ControlStepsYieldNothing", func(t *testing.T) {
		t.Parallel()
		for _, step := range []rules.Action{rules.Stop{}, rules.Choose{}, rules.ConditionStep{}, rules.Delay{}} {
			acts, err := Actions(step, cat)
			assert.NoError(t, err)
			assert.Empty(t, acts, step.Kind())
		}
	})
}

func TestCanonicalizer_IdentityIndependentOfOrigin(t *testing.T) {
	t.Parallel()

	g := graph.NewFlowGraph()
	c := NewCanonicalizer(g, catalog.Default())

	// Same canonical fields written two ways.
	a, err := c.EventIDs(rules.StateTrigger{EntityIDs: []string{"light.l1"}, To: []string{"on"}, HasTo: true, For: "00:05:00"})
	require.NoError(t, err)
	b, err := c.EventIDs(rules.StateTrigger{EntityIDs: []string{"light.l1"}, From: []string{"off"}, To: []string{"on"}, HasTo: true})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Absent target state is its own identity.
	anyState, err := c.EventIDs(rules.StateTrigger{EntityIDs: []string{"light.l1"}})
	require.NoError(t, err)
	assert.NotEqual(t, a, anyState)

	x, err := c.ActionIDs(call("light.turn_on", "light.l1"))
	require.NoError(t, err)
	// Service data other than a qualifier does not take part in identity.
	z, err := c.ActionIDs(rules.ServiceCall{Service: "light.turn_on", EntityIDs: []string{"light.l1"}, Data: map[string]string{"brightness": "10"}})
	require.NoError(t, err)
	assert.Equal(t, x, z)

	assert.Equal(t, 2, g.CountNodesByKind(graph.NodeEvent))
}

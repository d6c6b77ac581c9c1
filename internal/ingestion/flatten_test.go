package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/haeca-go/internal/catalog"
	"github.com/Benny93/haeca-go/internal/rules"
)

func call(service, entity string) rules.ServiceCall {
	return rules.ServiceCall{Service: service, EntityIDs: []string{entity}}
}

func leafPaths(leaves []Leaf) []string {
	out := make([]string, len(leaves))
	for i, l := range leaves {
		out[i] = l.Path
	}
	return out
}

func flatten(t *testing.T, steps ...rules.Action) ([]Leaf, []Diagnostic) {
	t.Helper()
	return NewFlattener(catalog.Default()).Flatten(&rules.Automation{Alias: "test", Actions: steps})
}

func TestFlatten_Paths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		steps    []rules.Action
		expected []string
	}{
		{
			name:     "Sequence",
			steps:    []rules.Action{call("light.turn_on", "light.a"), call("light.turn_off", "light.b")},
			expected: []string{"action[0]", "action[1]"},
		},
		{
			name: "ChooseWithDefault",
			steps: []rules.Action{rules.Choose{
				Options: []rules.ChooseOption{
					{Sequence: []rules.Action{call("light.turn_on", "light.a")}},
					{Sequence: []rules.Action{call("light.turn_off", "light.a")}},
				},
				Default:    []rules.Action{call("switch.turn_on", "switch.s")},
				HasDefault: true,
			}},
			expected: []string{
				"action[0].choose[0].sequence[0]",
				"action[0].choose[1].sequence[0]",
				"action[0].default[0]",
			},
		},
		{
			name: "IfElse",
			steps: []rules.Action{rules.If{
				Then:    []rules.Action{call("light.turn_on", "light.a")},
				Else:    []rules.Action{call("light.turn_off", "light.a")},
				HasElse: true,
			}},
			expected: []string{"action[0].then[0]", "action[0].else[0]"},
		},
		{
			name: "RepeatOnce",
			steps: []rules.Action{rules.Repeat{
				Mode:     "count",
				Sequence: []rules.Action{call("light.toggle", "light.a")},
			}},
			expected: []string{"action[0].repeat.sequence[0]"},
		},
		{
			name: "Parallel",
			steps: []rules.Action{rules.Parallel{Branches: [][]rules.Action{
				{call("light.turn_on", "light.a")},
				{call("switch.turn_on", "switch.s")},
			}}},
			expected: []string{"action[0].parallel[0][0]", "action[0].parallel[1][0]"},
		},
		{
			name: "NestedSequence",
			steps: []rules.Action{rules.Sequence{Steps: []rules.Action{
				call("light.turn_on", "light.a"),
			}}},
			expected: []string{"action[0].sequence[0]"},
		},
		{
			name: "ConditionAndUncatalogedDelayPassThrough",
			steps: []rules.Action{
				rules.ConditionStep{Condition: rules.TemplateCondition{ValueTemplate: "{{ true }}"}},
				rules.Delay{Duration: "5"},
				call("light.turn_on", "light.a"),
			},
			expected: []string{"action[2]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			leaves, diags := flatten(t, tt.steps...)

			assert.Empty(t, diags)
			assert.Equal(t, tt.expected, leafPaths(leaves))
		})
	}
}

func TestFlatten_Stop(t *testing.T) {
	t.Parallel()

	t.Run("FirstStep", func(t *testing.T) {
		t.Parallel()
		leaves, _ := flatten(t, rules.Stop{Reason: "done"}, call("light.turn_on", "light.a"))
		assert.Empty(t, leaves)
	})

	t.Run("InOneBranchOnly", func(t *testing.T) {
		t.Parallel()
		// Without an else, skipping the branch is possible: the tail is reachable.
		leaves, _ := flatten(t,
			rules.If{Then: []rules.Action{rules.Stop{}}},
			call("light.turn_on", "light.a"),
		)
		assert.Equal(t, []string{"action[1]"}, leafPaths(leaves))
	})

	t.Run("InEveryBranch", func(t *testing.T) {
		t.Parallel()
		leaves, _ := flatten(t,
			rules.If{
				Then:    []rules.Action{call("light.turn_on", "light.a"), rules.Stop{}},
				Else:    []rules.Action{rules.Stop{}},
				HasElse: true,
			},
			call("light.turn_off", "light.a"),
		)
		assert.Equal(t, []string{"action[0].then[0]"}, leafPaths(leaves))
	})

	t.Run("ChooseWithoutDefaultFallsThrough", func(t *testing.T) {
		t.Parallel()
		leaves, _ := flatten(t,
			rules.Choose{Options: []rules.ChooseOption{{Sequence: []rules.Action{rules.Stop{}}}}},
			call("light.turn_off", "light.a"),
		)
		assert.Equal(t, []string{"action[1]"}, leafPaths(leaves))
	})

	t.Run("ParallelNeedsEveryBranch", func(t *testing.T) {
		t.Parallel()
		leaves, _ := flatten(t,
			rules.Parallel{Branches: [][]rules.Action{
				{rules.Stop{}},
				{call("light.turn_on", "light.a")},
			}},
			call("light.turn_off", "light.a"),
		)
		assert.Equal(t, []string{"action[0].parallel[1][0]"}, leafPaths(leaves))
	})
}

func TestFlatten_Malformed(t *testing.T) {
	t.Parallel()

	leaves, diags := flatten(t,
		rules.Malformed{Name: "choose", Reason: "no options"},
		call("light.turn_on", "light.a"),
	)

	require.Len(t, diags, 1)
	assert.ErrorIs(t, diags[0], ErrMalformedRule)
	assert.Equal(t, "test", diags[0].Automation)
	assert.Equal(t, "action[0]", diags[0].Path)
	assert.Equal(t, []string{"action[1]"}, leafPaths(leaves))
}

func TestFlatten_ResetsBetweenAutomations(t *testing.T) {
	t.Parallel()

	f := NewFlattener(catalog.Default())
	_, diags := f.Flatten(&rules.Automation{Alias: "a", Actions: []rules.Action{rules.Malformed{Name: "if"}}})
	require.Len(t, diags, 1)

	_, diags = f.Flatten(&rules.Automation{Alias: "b", Actions: []rules.Action{call("light.turn_on", "light.a")}})
	assert.Empty(t, diags)
}

func TestBranchUnion(t *testing.T) {
	t.Parallel()

	stopped := flow{leaves: []Leaf{{Path: "x"}}}
	open := flow{leaves: []Leaf{{Path: "y"}}, continues: true}

	assert.False(t, branchUnion([]flow{stopped}, true).continues)
	assert.True(t, branchUnion([]flow{stopped}, false).continues)
	assert.True(t, branchUnion([]flow{stopped, open}, true).continues)
	assert.Equal(t, []string{"x", "y"}, leafPaths(branchUnion([]flow{stopped, open}, true).leaves))
}

package ingestion

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/haeca-go/internal/analysis"
	"github.com/Benny93/haeca-go/internal/catalog"
	"github.com/Benny93/haeca-go/internal/graph"
	"github.com/Benny93/haeca-go/internal/loader"
)

var (
	propEntities = []string{"light.a", "light.b", "switch.c", "lock.d"}
	propServices = map[string][2]string{
		"light":  {"turn_on", "turn_off"},
		"switch": {"turn_on", "turn_off"},
		"lock":   {"lock", "unlock"},
	}
	propStates = map[string][2]string{
		"light":  {"on", "off"},
		"switch": {"on", "off"},
		"lock":   {"locked", "unlocked"},
	}
)

func domainOf(entity string) string {
	return entity[:strings.Index(entity, ".")]
}

// renderAutomations turns a slice of seeds into automation YAML. Every
// four seeds make one automation: a state trigger, one service call, and
// for some seeds a choose with a second call or a duplicated trigger.
func renderAutomations(seeds []int) string {
	var sb strings.Builder
	for i := 0; i+3 < len(seeds); i += 4 {
		trigEntity := propEntities[seeds[i]%len(propEntities)]
		to := propStates[domainOf(trigEntity)][seeds[i+1]%2]
		callEntity := propEntities[seeds[i+2]%len(propEntities)]
		service := domainOf(callEntity) + "." + propServices[domainOf(callEntity)][seeds[i+3]%2]

		fmt.Fprintf(&sb, "- alias: r%d\n", i/4)
		fmt.Fprintf(&sb, "  trigger:\n    - {platform: state, entity_id: %s, to: %q}\n", trigEntity, to)
		if seeds[i+1]%5 == 0 {
			fmt.Fprintf(&sb, "    - {platform: state, entity_id: %s, to: %q}\n", trigEntity, to)
		}
		sb.WriteString("  action:\n")
		switch seeds[i+3] % 3 {
		case 0:
			fmt.Fprintf(&sb, "    - {service: %s, entity_id: %s}\n", service, callEntity)
		default:
			other := propEntities[(seeds[i+2]+seeds[i+3])%len(propEntities)]
			otherService := domainOf(other) + "." + propServices[domainOf(other)][seeds[i]%2]
			sb.WriteString("    - choose:\n")
			fmt.Fprintf(&sb, "        - conditions: {condition: state, entity_id: sun.sun, state: above_horizon}\n          sequence: {service: %s, entity_id: %s}\n", service, callEntity)
			fmt.Fprintf(&sb, "      default: {service: %s, entity_id: %s}\n", otherService, other)
		}
	}
	return sb.String()
}

func buildSeeds(seeds []int, cat *catalog.Catalog) *graph.FlowGraph {
	res, err := loader.Parse([]byte(renderAutomations(seeds)), "prop.yaml", loader.Options{})
	if err != nil {
		panic(err)
	}
	return NewBuilder(cat, nil).Build(res.Automations).Graph
}

func reversedCatalog() *catalog.Catalog {
	doc := catalog.DefaultDocument()
	for i, c := range doc.Conflicts {
		doc.Conflicts[i] = catalog.ConflictPair{A: c.B, B: c.A}
	}
	cat, err := catalog.New(doc)
	if err != nil {
		panic(err)
	}
	return cat
}

func seedGen() gopter.Gen {
	return gen.SliceOfN(24, gen.IntRange(0, 1000))
}

// TestGraphProperties uses property-based testing to verify the builder and
// analysis invariants over random automation sets.
func TestGraphProperties(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)
	cat := catalog.Default()

	properties.Property("building twice yields identical graphs", prop.ForAll(
		func(seeds []int) bool {
			a := buildSeeds(seeds, cat).Snapshot()
			b := buildSeeds(seeds, cat).Snapshot()
			return reflect.DeepEqual(a, b)
		},
		seedGen(),
	))

	properties.Property("circularity findings are deterministic", prop.ForAll(
		func(seeds []int) bool {
			g := buildSeeds(seeds, cat)
			first := analysis.Circularity(g)
			again := analysis.Circularity(graph.FromSnapshot(g.Snapshot()))
			return reflect.DeepEqual(first, again)
		},
		seedGen(),
	))

	properties.Property("redundancy reported iff path count >= 2", prop.ForAll(
		func(seeds []int) bool {
			g := buildSeeds(seeds, cat)
			counts := map[[2]string]int{}
			for _, e := range g.EdgesByKind(graph.EdgeTrigger) {
				counts[[2]string{g.Label(e.Source), g.Label(e.Target)}]++
			}
			reported := map[[2]string]int{}
			for _, f := range analysis.Redundancy(g) {
				reported[[2]string{f.Event, f.Action}] = f.PathsCount
			}
			for pair, n := range counts {
				got, ok := reported[pair]
				if ok != (n >= 2) || (ok && got != n) {
					return false
				}
			}
			for pair := range reported {
				if counts[pair] < 2 {
					return false
				}
			}
			return true
		},
		seedGen(),
	))

	properties.Property("inconsistency ignores conflict pair direction", prop.ForAll(
		func(seeds []int) bool {
			forward := analysis.Inconsistency(buildSeeds(seeds, cat), cat)
			reversed := reversedCatalog()
			backward := analysis.Inconsistency(buildSeeds(seeds, reversed), reversed)
			if !reflect.DeepEqual(forward, backward) {
				return false
			}
			seen := map[string]bool{}
			for _, f := range forward {
				a, b := f.Action1, f.Action2
				if a > b {
					a, b = b, a
				}
				key := f.Event + "|" + f.Entity + "|" + a + "|" + b
				if seen[key] {
					return false
				}
				seen[key] = true
			}
			return true
		},
		seedGen(),
	))

	properties.Property("reported cycles use only graph edges", prop.ForAll(
		func(seeds []int) bool {
			g := buildSeeds(seeds, cat)
			for _, f := range analysis.Circularity(g) {
				if f.Size != len(f.Path) || f.Size < 2 {
					return false
				}
				seen := map[graph.NodeID]bool{}
				for i, id := range f.Path {
					if seen[id] {
						return false
					}
					seen[id] = true
					if !g.HasEdge(id, f.Path[(i+1)%len(f.Path)]) {
						return false
					}
				}
				if !strings.HasPrefix(f.CycleNodes, g.Label(f.Path[0])) {
					return false
				}
			}
			return true
		},
		seedGen(),
	))

	properties.TestingRun(t)
}

func TestRenderAutomations(t *testing.T) {
	t.Parallel()

	// Seeds chosen to produce a light.a -> light.a self-feeding rule.
	src := renderAutomations([]int{0, 0, 0, 0})
	res, err := loader.Parse([]byte(src), "prop.yaml", loader.Options{})
	require.NoError(t, err)
	require.Len(t, res.Automations, 1)

	g := NewBuilder(catalog.Default(), nil).Build(res.Automations).Graph
	rep, _, err := analysis.Analyze(context.Background(), g, catalog.Default(), analysis.Options{})
	require.NoError(t, err)

	// Two identical triggers give two paths to the same action.
	assert.Equal(t, 1, rep.Summary.RedundancyIssues)
	assert.Equal(t, 1, rep.Summary.CircularityIssues)
}

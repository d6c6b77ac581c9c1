package ingestion

import (
	"fmt"

	"github.com/Benny93/haeca-go/internal/catalog"
	"github.com/Benny93/haeca-go/internal/rules"
)

// Leaf is one occurrence of a leaf step: a distinct path through the action
// tree that reaches it.
type Leaf struct {
	Path string
	Step rules.Action
}

// flow is the result of flattening a step or sequence: the leaves reached
// in order, and whether control can continue past it.
type flow struct {
	leaves    []Leaf
	continues bool
}

// Flattener walks action trees. Conditions are never evaluated: every
// branch of a choice is considered reachable.
type Flattener struct {
	cat         *catalog.Catalog
	diagnostics []Diagnostic
	automation  string
}

// NewFlattener creates a flattener that classifies leaves with cat.
func NewFlattener(cat *catalog.Catalog) *Flattener {
	return &Flattener{cat: cat}
}

// Flatten returns the ordered leaf occurrences of an automation's actions,
// plus diagnostics for malformed structures met along the way.
func (f *Flattener) Flatten(a *rules.Automation) ([]Leaf, []Diagnostic) {
	f.automation = a.Name()
	f.diagnostics = nil
	res := f.sequence(a.Actions, "action")
	return res.leaves, f.diagnostics
}

func (f *Flattener) sequence(steps []rules.Action, path string) flow {
	out := flow{continues: true}
	for i, step := range steps {
		res := f.step(step, fmt.Sprintf("%s[%d]", path, i))
		out.leaves = append(out.leaves, res.leaves...)
		if !res.continues {
			out.continues = false
			break
		}
	}
	return out
}

func (f *Flattener) step(step rules.Action, path string) flow {
	switch s := step.(type) {
	case rules.ServiceCall, rules.DeviceAction, rules.FireEvent, rules.UnknownAction,
		rules.Delay, rules.WaitTemplate, rules.WaitForTrigger, rules.Variables:
		if IsLeaf(step, f.cat) {
			return flow{leaves: []Leaf{{Path: path, Step: step}}, continues: true}
		}
		return flow{continues: true}
	case rules.ConditionStep:
		return flow{continues: true}
	case rules.Stop:
		return flow{continues: false}
	case rules.Sequence:
		return f.sequence(s.Steps, path+".sequence")
	case rules.Choose:
		branches := make([]flow, 0, len(s.Options)+1)
		for i, opt := range s.Options {
			branches = append(branches, f.sequence(opt.Sequence, fmt.Sprintf("%s.choose[%d].sequence", path, i)))
		}
		if s.HasDefault {
			branches = append(branches, f.sequence(s.Default, path+".default"))
		}
		return branchUnion(branches, s.HasDefault)
	case rules.If:
		branches := []flow{f.sequence(s.Then, path+".then")}
		if s.HasElse {
			branches = append(branches, f.sequence(s.Else, path+".else"))
		}
		return branchUnion(branches, s.HasElse)
	case rules.Repeat:
		// One iteration of the body; loops are not unrolled.
		return f.sequence(s.Sequence, path+".repeat.sequence")
	case rules.Parallel:
		out := flow{continues: true}
		for i, branch := range s.Branches {
			res := f.sequence(branch, fmt.Sprintf("%s.parallel[%d]", path, i))
			out.leaves = append(out.leaves, res.leaves...)
			out.continues = out.continues && res.continues
		}
		return out
	case rules.Malformed:
		f.diagnostics = append(f.diagnostics, Diagnostic{
			Automation: f.automation,
			Path:       path,
			Err:        fmt.Errorf("%w: %s: %s", ErrMalformedRule, s.Name, s.Reason),
		})
		return flow{continues: true}
	default:
		f.diagnostics = append(f.diagnostics, Diagnostic{
			Automation: f.automation,
			Path:       path,
			Err:        fmt.Errorf("%w: %T", ErrUnknownActionKind, step),
		})
		return flow{continues: true}
	}
}

// branchUnion merges alternative branches of a conditional under the
// both-branches-taken model: every branch is reachable, so the result is the
// concatenation of all branch leaves (each keeping its own path). Control
// continues past the conditional if any branch falls through, or if the
// alternatives are not exhaustive (no default/else), in which case skipping
// every branch is also possible.
func branchUnion(branches []flow, exhaustive bool) flow {
	out := flow{continues: !exhaustive}
	for _, b := range branches {
		out.leaves = append(out.leaves, b.leaves...)
		out.continues = out.continues || b.continues
	}
	return out
}

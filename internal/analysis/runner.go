package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Benny93/haeca-go/internal/catalog"
	"github.com/Benny93/haeca-go/internal/graph"
)

// Pass names.
const (
	PassRedundancy    = "redundancy"
	PassInconsistency = "inconsistency"
	PassCircularity   = "circularity"
)

// AllPasses lists every pass in report order.
var AllPasses = []string{PassRedundancy, PassInconsistency, PassCircularity}

// Options configures an analysis run.
type Options struct {
	// Passes selects which analyses run. Empty means all.
	Passes []string

	// Sequential runs the passes one after another instead of concurrently.
	Sequential bool

	Logger *slog.Logger
}

// Timings records how long each pass took.
type Timings map[string]time.Duration

// Analyze runs the selected passes over the completed graph and assembles
// the report. The graph and catalog are only read, so the passes share them
// without locking.
func Analyze(ctx context.Context, g *graph.FlowGraph, cat *catalog.Catalog, opts Options) (*Report, Timings, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	passes := AllPasses
	if len(opts.Passes) > 0 {
		passes = nil
		for _, p := range opts.Passes {
			if !slices.Contains(AllPasses, p) {
				return nil, nil, fmt.Errorf("unknown analysis pass %q", p)
			}
			if !slices.Contains(passes, p) {
				passes = append(passes, p)
			}
		}
	}

	var (
		red  []RedundancyFinding
		inc  []InconsistencyFinding
		circ []CircularityFinding
	)
	durations := make([]time.Duration, len(AllPasses))
	run := map[string]func(){
		PassRedundancy:    func() { red = Redundancy(g) },
		PassInconsistency: func() { inc = Inconsistency(g, cat) },
		PassCircularity:   func() { circ = Circularity(g) },
	}

	eg, egCtx := errgroup.WithContext(ctx)
	if opts.Sequential {
		eg.SetLimit(1)
	}
	for _, p := range passes {
		slot := slices.Index(AllPasses, p)
		fn := run[p]
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			start := time.Now()
			fn()
			durations[slot] = time.Since(start)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	timings := make(Timings, len(passes))
	for _, p := range passes {
		d := durations[slices.Index(AllPasses, p)]
		timings[p] = d
		logger.Debug("analysis pass finished", "pass", p, "duration", d)
	}

	report := NewReport(g, red, inc, circ)
	logger.Info("analysis complete",
		"redundancy", report.Summary.RedundancyIssues,
		"inconsistency", report.Summary.InconsistencyIssues,
		"circularity", report.Summary.CircularityIssues)
	return report, timings, nil
}

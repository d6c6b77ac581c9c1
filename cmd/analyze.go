package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Benny93/haeca-go/internal/analysis"
	"github.com/Benny93/haeca-go/internal/catalog"
	"github.com/Benny93/haeca-go/internal/ingestion"
	"github.com/Benny93/haeca-go/internal/metrics"
)

// ErrFindings is returned by analyze --fail-on-findings when the report is
// not clean.
var ErrFindings = errors.New("analysis reported findings")

// AnalyzeCmd analyzes automations and prints the JSON report.
type AnalyzeCmd struct {
	In             string   `name:"in" default:"-" env:"HAECA_IN" help:"automations.yaml, a Home Assistant config directory, or - for stdin" validate:"required"`
	Out            string   `name:"out" help:"Write the JSON report to this file instead of stdout" type:"path"`
	Passes         []string `help:"Analyses to run (redundancy, inconsistency, circularity). Default: all" validate:"omitempty,dive,oneof=redundancy inconsistency circularity"`
	Store          bool     `help:"Persist the graph and report to the analysis store" env:"HAECA_STORE"`
	NoEmbeddings   bool     `help:"Skip vector embedding generation for stored runs"`
	Sequential     bool     `help:"Run analyses one after another instead of concurrently" env:"HAECA_SEQUENTIAL"`
	Diagnostics    bool     `help:"List build diagnostics (skipped automations, uncataloged services)"`
	Progress       bool     `help:"Show pipeline progress"`
	MetricsFile    string   `help:"Write Prometheus textfile-collector metrics to this file" env:"HAECA_METRICS_FILE" type:"path"`
	FailOnFindings bool     `help:"Exit non-zero when any finding is reported"`
}

// Validate implements kong's validation hook.
func (c *AnalyzeCmd) Validate() error {
	return validate.Struct(c)
}

// Run executes the analyze command.
func (c *AnalyzeCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	cat, err := g.LoadCatalog()
	if err != nil {
		return err
	}

	opts := ingestion.PipelineOptions{
		Catalog:    cat,
		Analysis:   analysis.Options{Passes: c.Passes, Sequential: c.Sequential},
		Embeddings: !c.NoEmbeddings,
		Stdin:      g.stdin,
		Logger:     g.Logger(),
	}
	if c.Store {
		store, err := g.OpenStore(false)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		opts.Store = store
	}

	var progress ingestion.ProgressCallback
	if c.Progress && !g.Quiet {
		progress = func(phase string, pct float64) {
			fmt.Fprintf(g.stderr, "\r\033[K%s (%.0f%%)", phase, pct*100)
		}
	}

	out, err := ingestion.RunPipeline(ctx, c.In, opts, progress)
	if progress != nil {
		fmt.Fprintln(g.stderr) // Newline after progress
	}
	if c.MetricsFile != "" {
		if merr := writeMetrics(c.MetricsFile, out, err); merr != nil {
			g.Logger().Warn("writing metrics failed", "file", c.MetricsFile, "error", merr)
		}
	}
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}

	g.notef("Parsed %d automations\n", out.Result.Automations)
	g.notef("EFG has %d events, %d actions, %d edges\n", out.Result.Events, out.Result.Actions, out.Result.Edges)
	if c.Diagnostics {
		printDiagnostics(g, out.Build.Diagnostics)
	}

	data, err := out.Report.JSON()
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if c.Out != "" {
		if err := os.WriteFile(c.Out, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	} else {
		g.printf("%s\n", data)
	}

	printSummary(g, out)
	if out.Run != nil {
		g.notef("  Stored run:     %s\n", out.Run.ID)
	}

	if c.FailOnFindings && out.Result.Findings > 0 {
		return fmt.Errorf("%w: %d", ErrFindings, out.Result.Findings)
	}
	return nil
}

func writeMetrics(path string, out *ingestion.Outcome, runErr error) error {
	reg := metrics.NewRegistry()
	reg.RecordRun(out, runErr)
	return reg.WriteTextfile(path)
}

func printDiagnostics(g *Globals, diags []ingestion.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	g.warnf("%d diagnostics:\n", len(diags))
	for _, d := range diags {
		g.notef("  [%s] %s\n", d.Kind(), d.Error())
	}
}

func printSummary(g *Globals, out *ingestion.Outcome) {
	s := out.Report.Summary
	if out.Result.Findings == 0 {
		g.successf("✓ No findings")
	} else {
		g.warnf("✗ %d findings", out.Result.Findings)
	}
	g.notef(" (%d redundancy, %d inconsistency, %d circularity)\n",
		s.RedundancyIssues, s.InconsistencyIssues, s.CircularityIssues)
	g.notef("  Automations:    %d (%d analyzed, %d skipped)\n", out.Result.Automations, out.Result.Included, out.Result.Skipped)
	if out.Result.FileErrors > 0 {
		g.notef("  Unreadable:     %d files\n", out.Result.FileErrors)
	}
	g.notef("  Duration:       %.2fs\n", out.Result.DurationSecs)
}

// WatchCmd re-analyzes on every change to the input.
type WatchCmd struct {
	In       string        `name:"in" default:"." env:"HAECA_IN" help:"automations.yaml or a Home Assistant config directory" validate:"required,ne=-"`
	Debounce time.Duration `default:"500ms" help:"Quiet period before re-analyzing" validate:"gte=0"`
	Store    bool          `help:"Persist every run to the analysis store" env:"HAECA_STORE"`
}

// Validate implements kong's validation hook.
func (c *WatchCmd) Validate() error {
	return validate.Struct(c)
}

// Run executes the watch command.
func (c *WatchCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()
	return c.watch(ctx, g)
}

func (c *WatchCmd) watch(ctx context.Context, g *Globals) error {
	cat, err := g.LoadCatalog()
	if err != nil {
		return err
	}
	opts := ingestion.PipelineOptions{
		Catalog:    cat,
		Embeddings: true,
		Logger:     g.Logger(),
	}
	if c.Store {
		store, err := g.OpenStore(false)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		opts.Store = store
	}

	g.notef("## Watch Mode\n")
	g.notef("Watching %s for changes (Ctrl+C to stop)\n\n", c.In)

	err = ingestion.WatchConfig(ctx, c.In, c.Debounce, opts, watchPrinter(g))
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}

	g.notef("Watch mode stopped.\n")
	return nil
}

// watchPrinter reports each watch run on stderr.
func watchPrinter(g *Globals) ingestion.RunHandler {
	return func(out *ingestion.Outcome, err error) {
		stamp := time.Now().Format("15:04:05")
		if err != nil {
			g.warnf("[%s] analysis failed: %v\n", stamp, err)
			return
		}
		g.notef("[%s] ", stamp)
		printSummary(g, out)
	}
}

// CatalogCmd prints the effective catalog.
type CatalogCmd struct {
	Format string `enum:"yaml,json" default:"yaml" help:"Output format (yaml|json)"`
	Schema bool   `help:"Print the catalog document JSON schema instead"`
}

// Run executes the catalog command.
func (c *CatalogCmd) Run(g *Globals) error {
	if c.Schema {
		g.printf("%s", catalog.Schema())
		return nil
	}

	cat, err := g.LoadCatalog()
	if err != nil {
		return err
	}
	doc := cat.Document()

	if c.Format == "json" {
		g.printf("%s\n", toJSON(doc))
		return nil
	}
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	g.printf("%s", data)
	return nil
}

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/Benny93/haeca-go/internal/ingestion"
	"github.com/Benny93/haeca-go/internal/storage"
)

// QueryCmd searches node labels of the latest stored run.
type QueryCmd struct {
	Query string `arg:"" help:"Search query (entity id, service or label text)"`
	Limit int    `short:"n" default:"20" help:"Maximum results" validate:"gt=0"`
}

// Validate implements kong's validation hook.
func (c *QueryCmd) Validate() error {
	return validate.Struct(c)
}

// Run executes the query command.
func (c *QueryCmd) Run(g *Globals) error {
	ctx := context.Background()
	store, err := g.OpenStore(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var vector []float32
	if embedder, err := ingestion.QueryEmbedder(ctx, store); err == nil {
		vector = embedder.Embed(c.Query)
	}

	results, err := store.HybridSearch(ctx, c.Query, vector, c.Limit)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}

	if len(results) == 0 {
		g.printf("No results found\n")
		return nil
	}

	for i, r := range results {
		g.printf("%d. %s\n", i+1, r.Label)
		g.printf("   Kind: %s  Score: %.3f\n", r.Kind, r.Score)
	}
	return nil
}

// TraceCmd lists what an event or action leads to, or what leads to it.
type TraceCmd struct {
	Node     string `arg:"" help:"Node label, e.g. 'E:state(light.l1→on)', or search text"`
	Upstream bool   `short:"u" help:"Follow edges backwards"`
	Depth    int    `short:"d" default:"3" help:"Maximum traversal depth" validate:"gt=0,lte=10"`
}

// Validate implements kong's validation hook.
func (c *TraceCmd) Validate() error {
	return validate.Struct(c)
}

// Run executes the trace command.
func (c *TraceCmd) Run(g *Globals) error {
	ctx := context.Background()
	store, err := g.OpenStore(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	nodeID, err := findNode(ctx, store, c.Node)
	if err != nil {
		return err
	}
	start, err := store.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}

	direction := storage.DirectionDownstream
	if c.Upstream {
		direction = storage.DirectionUpstream
	}
	nodes, err := store.Traverse(ctx, nodeID, c.Depth, direction)
	if err != nil {
		return fmt.Errorf("traversing: %w", err)
	}

	g.printf("%s\n", color.New(color.Bold).Sprint(start.Label))
	if len(nodes) == 0 {
		g.printf("  nothing %s within depth %d\n", direction, c.Depth)
		return nil
	}
	for _, n := range nodes {
		g.printf("  %s %s\n", arrow(direction), n.Label)
	}
	return nil
}

func arrow(direction string) string {
	if direction == storage.DirectionUpstream {
		return "←"
	}
	return "→"
}

// findNode resolves an exact label first, then falls back to the best
// search hit.
func findNode(ctx context.Context, store storage.StorageBackend, ref string) (string, error) {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	for _, n := range snap.Nodes {
		if n.Label == ref {
			return storage.NodeKey(n.ID), nil
		}
	}

	results, err := store.FTSSearch(ctx, ref, 1)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("no event or action matches %q", ref)
	}
	return results[0].NodeID, nil
}

// latestRun fetches the latest run with a hint when none exists.
func latestRun(ctx context.Context, store storage.StorageBackend) (*storage.Run, error) {
	run, err := store.LatestRun(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.New("no stored runs. Run 'haeca-go analyze --store' first")
	}
	return run, err
}

// StatusCmd shows the latest stored run.
type StatusCmd struct {
	JSON bool `help:"Print the stored report as JSON"`
}

// Run executes the status command.
func (c *StatusCmd) Run(g *Globals) error {
	ctx := context.Background()
	store, err := g.OpenStore(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := latestRun(ctx, store)
	if err != nil {
		return err
	}

	if c.JSON {
		data, err := run.Report.JSON()
		if err != nil {
			return err
		}
		g.printf("%s\n", data)
		return nil
	}

	s := run.Report.Summary
	g.printf("Latest run %s\n", run.ID)
	g.printf("  Analyzed:       %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	g.printf("  Source:         %s\n", run.Source)
	g.printf("  Files:          %d\n", len(run.Sources))
	g.printf("  Catalog:        %s\n", run.CatalogVersion)
	g.printf("  Automations:    %d (%d analyzed)\n", run.Automations, run.Included)
	g.printf("  Events:         %d\n", s.Events)
	g.printf("  Actions:        %d\n", s.Actions)
	g.printf("  Edges:          %d\n", s.Edges)
	g.printf("  Redundancy:     %d\n", s.RedundancyIssues)
	g.printf("  Inconsistency:  %d\n", s.InconsistencyIssues)
	g.printf("  Circularity:    %d\n", s.CircularityIssues)
	g.printf("  Diagnostics:    %d\n", len(run.Diagnostics))
	return nil
}

// ListCmd lists stored runs, newest first.
type ListCmd struct {
	Limit int `short:"n" default:"10" help:"Maximum runs to list (0 for all)" validate:"gte=0"`
}

// Validate implements kong's validation hook.
func (c *ListCmd) Validate() error {
	return validate.Struct(c)
}

// Run executes the list command.
func (c *ListCmd) Run(g *Globals) error {
	ctx := context.Background()
	store, err := g.OpenStore(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(ctx, c.Limit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(runs) == 0 {
		g.printf("No stored runs\n")
		return nil
	}

	g.printf("%-36s  %-19s  %6s  %6s  %8s  %s\n", "ID", "ANALYZED", "AUTOS", "EDGES", "FINDINGS", "SOURCE")
	for _, r := range runs {
		g.printf("%-36s  %-19s  %6d  %6d  %8d  %s\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Automations, r.Edges, r.Findings, r.Source)
	}
	return nil
}

// CleanCmd deletes the analysis store.
type CleanCmd struct {
	Force bool `short:"f" help:"Skip confirmation"`
}

// Run executes the clean command.
func (c *CleanCmd) Run(g *Globals) error {
	if _, err := os.Stat(g.Home); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no analysis store at %s. Nothing to clean", g.Home)
	}

	if !c.Force {
		fmt.Fprintf(g.stderr, "Delete analysis store at %s? [y/N] ", g.Home)
		response, _ := bufio.NewReader(g.stdin).ReadString('\n')
		if r := strings.TrimSpace(response); r != "y" && r != "Y" {
			g.notef("Aborted\n")
			return nil
		}
	}

	if err := os.RemoveAll(g.Home); err != nil {
		return fmt.Errorf("deleting store: %w", err)
	}

	g.successf("Deleted %s\n", g.Home)
	return nil
}

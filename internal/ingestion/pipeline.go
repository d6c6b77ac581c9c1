// Package ingestion turns Home Assistant automations into a flow graph and
// drives a complete analysis run: reading input, building the graph,
// running the analyses and optionally persisting the result.
package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Benny93/haeca-go/internal/analysis"
	"github.com/Benny93/haeca-go/internal/catalog"
	"github.com/Benny93/haeca-go/internal/embeddings"
	"github.com/Benny93/haeca-go/internal/graph"
	"github.com/Benny93/haeca-go/internal/loader"
	"github.com/Benny93/haeca-go/internal/storage"
)

// StdinPath selects standard input as the pipeline input.
const StdinPath = "-"

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// PipelineOptions configures RunPipeline.
type PipelineOptions struct {
	// Catalog is the effect and conflict catalog. Nil uses the default.
	Catalog *catalog.Catalog

	// Analysis selects and schedules the analysis passes.
	Analysis analysis.Options

	// Store persists the graph and the run when set.
	Store storage.StorageBackend

	// Embeddings stores TF-IDF node vectors alongside the graph.
	Embeddings bool

	// Stdin is read when the input path is StdinPath.
	Stdin io.Reader

	Logger *slog.Logger
}

// PipelineResult summarizes a pipeline run.
type PipelineResult struct {
	Files        int
	FileErrors   int
	Automations  int
	Included     int
	Skipped      int
	Diagnostics  int
	Events       int
	Actions      int
	Edges        int
	Findings     int
	DurationSecs float64
	Timings      analysis.Timings
}

// Outcome is everything a pipeline run produced.
type Outcome struct {
	Input  string
	Load   *loader.Result
	Build  *BuildResult
	Report *analysis.Report
	Result PipelineResult

	// Run is the persisted record. Nil when no store was configured.
	Run *storage.Run
}

// Graph returns the built flow graph.
func (o *Outcome) Graph() *graph.FlowGraph {
	return o.Build.Graph
}

// RunPipeline runs the full analysis pipeline over a file, a directory or
// standard input.
func RunPipeline(ctx context.Context, input string, opts PipelineOptions, progress ProgressCallback) (*Outcome, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	report := func(phase string, p float64) {
		if progress != nil {
			progress(phase, p)
		}
	}

	// Phase 1: Reading
	report("Reading automations", 0.0)
	loaded, fileErrors, err := LoadInput(input, opts.Stdin, logger)
	if err != nil {
		return nil, err
	}
	report("Reading automations", 1.0)

	// Phase 2: Graph
	report("Building graph", 0.0)
	built := NewBuilder(cat, logger).Build(loaded.Automations)
	report("Building graph", 1.0)

	// Phase 3: Analysis
	report("Analyzing", 0.0)
	aopts := opts.Analysis
	if aopts.Logger == nil {
		aopts.Logger = logger
	}
	rep, timings, err := analysis.Analyze(ctx, built.Graph, cat, aopts)
	if err != nil {
		return nil, fmt.Errorf("analyzing: %w", err)
	}
	report("Analyzing", 1.0)

	out := &Outcome{
		Input:  input,
		Load:   loaded,
		Build:  built,
		Report: rep,
		Result: PipelineResult{
			Files:       len(loaded.Sources),
			FileErrors:  fileErrors,
			Automations: len(loaded.Automations),
			Included:    len(built.Included),
			Skipped:     loaded.Skipped + built.Skipped(),
			Diagnostics: len(built.Diagnostics),
			Events:      rep.Summary.Events,
			Actions:     rep.Summary.Actions,
			Edges:       rep.Summary.Edges,
			Findings:    rep.Total(),
			Timings:     timings,
		},
	}

	// Phase 4: Storage
	if opts.Store != nil {
		report("Loading to storage", 0.0)
		if err := opts.Store.BulkLoad(ctx, built.Graph); err != nil {
			return nil, fmt.Errorf("bulk load: %w", err)
		}
		if opts.Embeddings {
			if err := GenerateAndStoreEmbeddings(ctx, built.Graph, opts.Store); err != nil {
				logger.Warn("embedding generation failed", "error", err)
			}
		}
		out.Run = out.NewRun(cat.Version())
		if err := opts.Store.SaveRun(ctx, out.Run); err != nil {
			return nil, fmt.Errorf("saving run: %w", err)
		}
		report("Loading to storage", 1.0)
	}

	out.Result.DurationSecs = time.Since(start).Seconds()
	logger.Info("pipeline complete",
		"input", input,
		"automations", out.Result.Automations,
		"findings", out.Result.Findings,
		"duration", time.Since(start))
	return out, nil
}

// NewRun converts the outcome into a storage record.
func (o *Outcome) NewRun(catalogVersion string) *storage.Run {
	run := storage.NewRun(o.Input)
	run.CatalogVersion = catalogVersion
	run.Automations = len(o.Load.Automations)
	run.Included = len(o.Build.Included)
	run.Report = o.Report
	for _, s := range o.Load.Sources {
		run.Sources = append(run.Sources, storage.SourceFile{Path: s.Path, SHA256: s.SHA256})
	}
	for _, d := range o.Build.Diagnostics {
		run.Diagnostics = append(run.Diagnostics, storage.DiagnosticRecord{
			Automation: d.Automation,
			Path:       d.Path,
			Message:    d.Message(),
		})
	}
	return run
}

// LoadInput reads automations from a file, a directory or stdin. In a
// directory every YAML file is read on its own with include tags left
// unresolved, so files pulled in by configuration.yaml are not counted
// twice. Files that fail to parse are logged and counted, not fatal.
func LoadInput(input string, stdin io.Reader, logger *slog.Logger) (*loader.Result, int, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if input == StdinPath {
		if stdin == nil {
			stdin = os.Stdin
		}
		res, err := loader.Read(stdin, "<stdin>", logger)
		return res, 0, err
	}

	info, err := os.Stat(input)
	if err != nil {
		return nil, 0, fmt.Errorf("reading input: %w", err)
	}
	if !info.IsDir() {
		res, err := loader.ReadFile(input, logger)
		return res, 0, err
	}

	entries, err := WalkConfig(input)
	if err != nil {
		return nil, 0, fmt.Errorf("walking %s: %w", input, err)
	}

	res := &loader.Result{}
	failed := 0
	for _, entry := range entries {
		part, err := loader.Parse(entry.Content, entry.RelPath, loader.Options{
			BaseDir: filepath.Dir(entry.Path),
			Logger:  logger,
		})
		if err != nil {
			logger.Warn("skipping file", "file", entry.RelPath, "error", err)
			failed++
			continue
		}
		res.Merge(part)
	}
	if len(entries) > 0 && failed == len(entries) {
		return nil, failed, fmt.Errorf("no readable YAML files in %s", input)
	}
	return res, failed, nil
}

// GenerateAndStoreEmbeddings generates TF-IDF embeddings for all nodes and stores them.
func GenerateAndStoreEmbeddings(ctx context.Context, g *graph.FlowGraph, store storage.StorageBackend) error {
	nodes := g.Nodes()
	if len(nodes) == 0 {
		return nil
	}

	embedder := embeddings.NewTFIDFEmbedder()
	vectors := embedder.EmbedNodes(nodes)

	storageEmbeddings := make([]storage.NodeEmbedding, len(nodes))
	for i, node := range nodes {
		storageEmbeddings[i] = storage.NodeEmbedding{
			NodeID:    storage.NodeKey(node.ID),
			Embedding: vectors[i],
		}
	}
	return store.StoreEmbeddings(ctx, storageEmbeddings)
}

// QueryEmbedder rebuilds the embedder a stored graph was embedded with, so
// query vectors land in the same space.
func QueryEmbedder(ctx context.Context, store storage.StorageBackend) (*embeddings.TFIDFEmbedder, error) {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	nodes := make([]*graph.Node, len(snap.Nodes))
	for i := range snap.Nodes {
		nodes[i] = &snap.Nodes[i]
	}
	embedder := embeddings.NewTFIDFEmbedder()
	embedder.EmbedNodes(nodes)
	return embedder, nil
}

// Package mcp provides the MCP (Model Context Protocol) server for haeca-go.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/haeca-go/internal/analysis"
	"github.com/Benny93/haeca-go/internal/catalog"
	"github.com/Benny93/haeca-go/internal/ingestion"
	"github.com/Benny93/haeca-go/internal/metrics"
	"github.com/Benny93/haeca-go/internal/storage"
)

// Version is reported to clients during initialization.
const Version = "0.1.0"

const (
	defaultLimit = 20
	defaultDepth = 3
)

// Server represents the MCP server.
type Server struct {
	storage storage.StorageBackend
	catalog *catalog.Catalog
	metrics *metrics.Registry
	logger  *slog.Logger
	server  *mcp.Server

	// analyzeMu serialises eca_analyze, which replaces the stored graph.
	analyzeMu sync.Mutex
}

// Options configures NewServer.
type Options struct {
	// Catalog is used by eca_analyze and eca_catalog. Nil uses the default.
	Catalog *catalog.Catalog

	// Metrics, when set, records every eca_analyze run.
	Metrics *metrics.Registry

	Logger *slog.Logger
}

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a new MCP server over a storage backend.
func NewServer(store storage.StorageBackend, opts Options) *Server {
	s := &Server{
		storage: store,
		catalog: opts.Catalog,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	if s.catalog == nil {
		s.catalog = catalog.Default()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "haeca-go",
		Version: Version,
	}, nil)

	s.registerTools()
	s.registerResources()

	return s
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	return []Tool{
		{
			Name:        "eca_analyze",
			Description: "Analyze Home Assistant automations (a YAML file or a config directory) for redundancy, inconsistency and circularity. Stores the result as the latest run.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"path": {Type: "string", Description: "automations.yaml or a Home Assistant config directory"},
					"passes": {
						Type:        "array",
						Items:       &jsonschema.Schema{Type: "string", Enum: []any{analysis.PassRedundancy, analysis.PassInconsistency, analysis.PassCircularity}},
						Description: "Analyses to run. Default: all",
					},
				},
				Required: []string{"path"},
			},
		},
		{
			Name:        "eca_summary",
			Description: "Summary of the latest analysis run: graph size, finding counts and build diagnostics.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{},
			},
		},
		{
			Name:        "eca_findings",
			Description: "List findings of the latest analysis run, optionally for one defect class.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"class": {Type: "string", Enum: []any{analysis.PassRedundancy, analysis.PassInconsistency, analysis.PassCircularity}, Description: "Defect class"},
					"limit": {Type: "integer", Description: "Maximum findings per class"},
				},
			},
		},
		{
			Name:        "eca_search",
			Description: "Search events and actions of the latest run by entity, service or label using hybrid search.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string", Description: "Search query text"},
					"limit": {Type: "integer", Description: "Maximum number of results"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "eca_trace",
			Description: "Follow trigger and effect edges from an event or action: what it causes (downstream) or what causes it (upstream).",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"node":      {Type: "string", Description: "Node label, e.g. E:state(light.l1→on), or search text"},
					"direction": {Type: "string", Enum: []any{storage.DirectionDownstream, storage.DirectionUpstream}, Description: "Traversal direction. Default: downstream"},
					"depth":     {Type: "integer", Description: "Maximum traversal depth"},
				},
				Required: []string{"node"},
			},
		},
		{
			Name:        "eca_catalog",
			Description: "Look up the effect catalog: the state a service leaves its target in and the services it conflicts with.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"service": {Type: "string", Description: "Service or signature, e.g. light.turn_on. Omit for catalog overview"},
				},
			},
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         "haeca://overview",
			Name:        "Analysis Overview",
			Description: "Statistics and finding counts of the latest analysis run",
			MimeType:    "text/plain",
		},
		{
			URI:         "haeca://schema",
			Name:        "Flow Graph Schema",
			Description: "Description of the event flow graph and the defect classes",
			MimeType:    "text/plain",
		},
		{
			URI:         "haeca://catalog",
			Name:        "Effect Catalog",
			Description: "The effect and conflict catalog in use, as JSON",
			MimeType:    "application/json",
		},
	}
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "eca_analyze":
		path, _ := args["path"].(string)
		return s.handleAnalyze(ctx, path, stringList(args["passes"]))
	case "eca_summary":
		return handleSummary(ctx, s.storage)
	case "eca_findings":
		class, _ := args["class"].(string)
		return handleFindings(ctx, s.storage, class, intArg(args, "limit", 0))
	case "eca_search":
		query, _ := args["query"].(string)
		return handleSearch(ctx, s.storage, query, intArg(args, "limit", defaultLimit))
	case "eca_trace":
		node, _ := args["node"].(string)
		direction, _ := args["direction"].(string)
		return handleTrace(ctx, s.storage, node, direction, intArg(args, "depth", defaultDepth))
	case "eca_catalog":
		service, _ := args["service"].(string)
		return handleCatalog(s.catalog, service)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case "haeca://overview":
		return getOverview(ctx, s.storage), nil
	case "haeca://schema":
		return getSchema(), nil
	case "haeca://catalog":
		data, err := json.MarshalIndent(s.catalog.Document(), "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Run serves MCP over stdin/stdout until the client disconnects or ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves a single session over the given transport.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// registerTools registers tools with the MCP server.
func (s *Server) registerTools() {
	for _, tool := range s.ListTools() {
		name := tool.Name
		s.server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := map[string]any{}
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return errorResult(fmt.Errorf("invalid arguments: %w", err)), nil
				}
			}
			text, err := s.CallTool(ctx, name, args)
			if err != nil {
				s.logger.Warn("tool failed", "tool", name, "error", err)
				return errorResult(err), nil
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
		})
	}
}

// registerResources registers resources with the MCP server.
func (s *Server) registerResources() {
	for _, res := range s.ListResources() {
		uri, mime := res.URI, res.MimeType
		s.server.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, uri)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mime, Text: text}},
			}, nil
		})
	}
}

func (s *Server) handleAnalyze(ctx context.Context, path string, passes []string) (string, error) {
	if path == "" {
		return "", errors.New("path is required")
	}

	s.analyzeMu.Lock()
	defer s.analyzeMu.Unlock()

	out, err := ingestion.RunPipeline(ctx, path, ingestion.PipelineOptions{
		Catalog:    s.catalog,
		Analysis:   analysis.Options{Passes: passes},
		Store:      s.storage,
		Embeddings: true,
		Logger:     s.logger,
	}, nil)
	if s.metrics != nil {
		s.metrics.RecordRun(out, err)
	}
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("# Analysis Complete\n\n")
	writeRunStats(&sb, out.Run)
	sb.WriteString("\n## Report\n\n```json\n")
	data, err := out.Report.JSON()
	if err != nil {
		return "", err
	}
	sb.Write(data)
	sb.WriteString("\n```\n")
	return sb.String(), nil
}

func latestRun(ctx context.Context, store storage.StorageBackend) (*storage.Run, error) {
	run, err := store.LatestRun(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.New("no analysis run stored yet; call eca_analyze first")
	}
	return run, err
}

func handleSummary(ctx context.Context, store storage.StorageBackend) (string, error) {
	run, err := latestRun(ctx, store)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("# Latest Analysis\n\n")
	writeRunStats(&sb, run)

	if len(run.Diagnostics) > 0 {
		fmt.Fprintf(&sb, "\n## Diagnostics (%d)\n\n", len(run.Diagnostics))
		for _, d := range run.Diagnostics {
			if d.Path != "" {
				fmt.Fprintf(&sb, "- **%s** `%s`: %s\n", d.Automation, d.Path, d.Message)
			} else {
				fmt.Fprintf(&sb, "- **%s**: %s\n", d.Automation, d.Message)
			}
		}
	}
	return sb.String(), nil
}

func writeRunStats(sb *strings.Builder, run *storage.Run) {
	s := run.Report.Summary
	fmt.Fprintf(sb, "Run: %s (%s)\n", run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(sb, "Source: %s\n", run.Source)
	fmt.Fprintf(sb, "Catalog: %s\n\n", run.CatalogVersion)
	fmt.Fprintf(sb, "Automations: %d (%d analyzed)\n", run.Automations, run.Included)
	fmt.Fprintf(sb, "Events: %d\nActions: %d\nEdges: %d\n\n", s.Events, s.Actions, s.Edges)
	fmt.Fprintf(sb, "Redundancy issues: %d\n", s.RedundancyIssues)
	fmt.Fprintf(sb, "Inconsistency issues: %d\n", s.InconsistencyIssues)
	fmt.Fprintf(sb, "Circularity issues: %d\n", s.CircularityIssues)
}

func handleFindings(ctx context.Context, store storage.StorageBackend, class string, limit int) (string, error) {
	run, err := latestRun(ctx, store)
	if err != nil {
		return "", err
	}
	rep := run.Report

	classes := analysis.AllPasses
	if class != "" {
		switch class {
		case analysis.PassRedundancy, analysis.PassInconsistency, analysis.PassCircularity:
			classes = []string{class}
		default:
			return "", fmt.Errorf("unknown class %q (want redundancy, inconsistency or circularity)", class)
		}
	}

	capped := func(n int) int {
		if limit > 0 && n > limit {
			return limit
		}
		return n
	}

	var sb strings.Builder
	for _, c := range classes {
		switch c {
		case analysis.PassRedundancy:
			fmt.Fprintf(&sb, "## Redundancy (%d)\n\n", len(rep.Redundancy))
			for _, f := range rep.Redundancy[:capped(len(rep.Redundancy))] {
				fmt.Fprintf(&sb, "- %s → %s (%d paths)\n", f.Event, f.Action, f.PathsCount)
			}
		case analysis.PassInconsistency:
			fmt.Fprintf(&sb, "## Inconsistency (%d)\n\n", len(rep.Inconsistency))
			for _, f := range rep.Inconsistency[:capped(len(rep.Inconsistency))] {
				fmt.Fprintf(&sb, "- %s: %s vs %s on %s\n", f.Event, f.Action1, f.Action2, f.Entity)
			}
		case analysis.PassCircularity:
			fmt.Fprintf(&sb, "## Circularity (%d)\n\n", len(rep.Circularity))
			for _, f := range rep.Circularity[:capped(len(rep.Circularity))] {
				fmt.Fprintf(&sb, "- %s (%d nodes)\n", f.CycleNodes, f.Size)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func handleSearch(ctx context.Context, store storage.StorageBackend, query string, limit int) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", errors.New("query is required")
	}

	var vector []float32
	if embedder, err := ingestion.QueryEmbedder(ctx, store); err == nil {
		vector = embedder.Embed(query)
	}

	results, err := store.HybridSearch(ctx, query, vector, limit)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		return fmt.Sprintf("No results found for '%s'.", query), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results for '%s':\n\n", len(results), query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, r.Label, r.Kind)
	}
	return sb.String(), nil
}

// resolveNode maps a label, or failing that search text, to a stored node ID.
func resolveNode(ctx context.Context, store storage.StorageBackend, ref string) (string, error) {
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
		return "", fmt.Errorf("node not found: %s", ref)
	}
	return results[0].NodeID, nil
}

func handleTrace(ctx context.Context, store storage.StorageBackend, ref, direction string, depth int) (string, error) {
	if ref == "" {
		return "", errors.New("node is required")
	}
	if direction == "" {
		direction = storage.DirectionDownstream
	}
	if direction != storage.DirectionDownstream && direction != storage.DirectionUpstream {
		return "", fmt.Errorf("unknown direction %q", direction)
	}

	id, err := resolveNode(ctx, store, ref)
	if err != nil {
		return "", err
	}
	start, err := store.GetNode(ctx, id)
	if err != nil {
		return "", err
	}
	nodes, err := store.Traverse(ctx, id, depth, direction)
	if err != nil {
		return "", fmt.Errorf("traversal failed: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Trace: %s\n\n", start.Label)
	if len(nodes) == 0 {
		fmt.Fprintf(&sb, "Nothing %s within depth %d.\n", direction, depth)
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "%d nodes %s within depth %d:\n\n", len(nodes), direction, depth)
	for _, n := range nodes {
		fmt.Fprintf(&sb, "- %s\n", n.Label)
	}
	return sb.String(), nil
}

func handleCatalog(cat *catalog.Catalog, service string) (string, error) {
	doc := cat.Document()
	if service == "" {
		effects, conflicts := cat.Size()
		return fmt.Sprintf("Catalog %s: %d effects, %d conflict pairs. Read haeca://catalog for the full table.", cat.Version(), effects, conflicts), nil
	}

	base, _, _ := strings.Cut(service, ":")
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", service)
	if e, ok := cat.Effect(base); ok {
		switch {
		case e.Qualifier != "":
			fmt.Fprintf(&sb, "Effect: sets the state named by `%s`", e.Qualifier)
			if e.State != "" {
				fmt.Fprintf(&sb, " (default %s)", e.State)
			}
			sb.WriteString("\n")
		case e.State != "":
			fmt.Fprintf(&sb, "Effect: sets state %s\n", e.State)
		default:
			sb.WriteString("Effect: no resulting state\n")
		}
	} else {
		sb.WriteString("Effect: not in catalog\n")
	}

	var opposing []string
	for _, p := range doc.Conflicts {
		switch service {
		case p.A:
			opposing = append(opposing, p.B)
		case p.B:
			opposing = append(opposing, p.A)
		}
	}
	if len(opposing) == 0 {
		sb.WriteString("Conflicts: none\n")
	} else {
		fmt.Fprintf(&sb, "Conflicts: %s\n", strings.Join(opposing, ", "))
	}
	return sb.String(), nil
}

func getOverview(ctx context.Context, store storage.StorageBackend) string {
	var sb strings.Builder
	sb.WriteString("# haeca-go Overview\n\n")

	runs, err := store.ListRuns(ctx, 0)
	if err != nil || len(runs) == 0 {
		sb.WriteString("No analysis runs stored.\n")
		return sb.String()
	}
	latest := runs[0]
	fmt.Fprintf(&sb, "Stored runs: %d\n", len(runs))
	fmt.Fprintf(&sb, "Latest: %s (%s)\n\n", latest.Source, latest.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "Automations: %d\n", latest.Automations)
	fmt.Fprintf(&sb, "Events: %d\n", latest.Events)
	fmt.Fprintf(&sb, "Actions: %d\n", latest.Actions)
	fmt.Fprintf(&sb, "Edges: %d\n", latest.Edges)
	fmt.Fprintf(&sb, "Findings: %d\n", latest.Findings)
	return sb.String()
}

func getSchema() string {
	var sb strings.Builder
	sb.WriteString("# Event Flow Graph Schema\n\n")

	sb.WriteString("## Node Kinds\n\n")
	sb.WriteString("| Kind | Label | Identity |\n")
	sb.WriteString("|------|-------|----------|\n")
	sb.WriteString("| `event` | `E:state(light.l1→on)` | trigger kind + entity + target state or parameters |\n")
	sb.WriteString("| `action` | `A:light.turn_on(light.l1=on)` | service signature + target entity |\n")

	sb.WriteString("\n## Edge Kinds\n\n")
	sb.WriteString("| Kind | Direction | Meaning |\n")
	sb.WriteString("|------|-----------|---------|\n")
	sb.WriteString("| `trigger` | Event → Action | an automation runs the action when the event fires, one edge per path |\n")
	sb.WriteString("| `effect` | Action → Event | the action leaves its entity in the state the event waits for |\n")

	sb.WriteString("\n## Defect Classes\n\n")
	sb.WriteString("- **redundancy**: an action reachable from one event over two or more paths\n")
	sb.WriteString("- **inconsistency**: two conflicting actions on the same entity reachable from one event\n")
	sb.WriteString("- **circularity**: a cycle of events and actions that can retrigger itself\n")

	return sb.String()
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}

func stringList(v any) []string {
	var out []string
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, list...)
	}
	return out
}

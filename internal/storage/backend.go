// Package storage persists analysis runs and the flow graph behind the
// latest one.
//
// It defines the StorageBackend protocol that all storage implementations
// must satisfy, along with the run records and search results shared across
// backends.
package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Benny93/haeca-go/internal/analysis"
	"github.com/Benny93/haeca-go/internal/graph"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Traversal directions.
const (
	DirectionDownstream = "downstream"
	DirectionUpstream   = "upstream"
)

// MaxTraverseDepth caps Traverse.
const MaxTraverseDepth = 10

// SearchResult represents a search result from the storage backend.
type SearchResult struct {
	// NodeID is the stored ID of the matching node.
	NodeID string `json:"node_id"`

	// Score is the relevance score (higher is better).
	Score float64 `json:"score"`

	// Label is the report label of the node.
	Label string `json:"label"`

	// Kind is the node kind (event or action).
	Kind string `json:"kind"`
}

// NodeEmbedding represents a vector embedding for a node.
type NodeEmbedding struct {
	NodeID    string
	Embedding []float32
}

// HybridSearchResult represents a result from hybrid search.
type HybridSearchResult struct {
	NodeID string  `json:"node_id"`
	Score  float64 `json:"score"`
	Label  string  `json:"label"`
	Kind   string  `json:"kind"`
}

// SourceFile is one input document of a run.
type SourceFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// DiagnosticRecord is the stored form of a build diagnostic.
type DiagnosticRecord struct {
	Automation string `json:"automation"`
	Path       string `json:"path,omitempty"`
	Message    string `json:"message"`
}

// Run is one persisted analysis.
type Run struct {
	ID             string             `json:"id"`
	CreatedAt      time.Time          `json:"created_at"`
	Source         string             `json:"source"`
	Sources        []SourceFile       `json:"sources,omitempty"`
	CatalogVersion string             `json:"catalog_version"`
	Automations    int                `json:"automations"`
	Included       int                `json:"included"`
	Report         *analysis.Report   `json:"report"`
	Diagnostics    []DiagnosticRecord `json:"diagnostics,omitempty"`
}

// NewRun creates a run with a time-ordered ID, so lexical ID order is
// creation order.
func NewRun(source string) *Run {
	return &Run{
		ID:        uuid.Must(uuid.NewV7()).String(),
		CreatedAt: time.Now().UTC(),
		Source:    source,
	}
}

// RunInfo is the listing form of a run.
type RunInfo struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Source      string    `json:"source"`
	Automations int       `json:"automations"`
	Events      int       `json:"events"`
	Actions     int       `json:"actions"`
	Edges       int       `json:"edges"`
	Findings    int       `json:"findings"`
}

// Info summarises the run.
func (r *Run) Info() RunInfo {
	info := RunInfo{
		ID:          r.ID,
		CreatedAt:   r.CreatedAt,
		Source:      r.Source,
		Automations: r.Automations,
	}
	if r.Report != nil {
		info.Events = r.Report.Summary.Events
		info.Actions = r.Report.Summary.Actions
		info.Edges = r.Report.Summary.Edges
		info.Findings = r.Report.Total()
	}
	return info
}

// NodeKey returns the stored ID of a graph node.
func NodeKey(id graph.NodeID) string {
	return strconv.Itoa(int(id))
}

// StorageBackend defines the interface for storage implementations.
//
// Implementations must be thread-safe and support concurrent access.
type StorageBackend interface {
	// Lifecycle methods

	// Initialize opens or creates the storage backend at the given path.
	// If readOnly is true, the backend is opened in read-only mode.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// Graph

	// BulkLoad replaces the stored graph with g and rebuilds the search
	// index over its nodes.
	BulkLoad(ctx context.Context, g *graph.FlowGraph) error

	// Snapshot returns the stored graph.
	Snapshot(ctx context.Context) (graph.Snapshot, error)

	// GetNode returns a single node by stored ID, or nil if not found.
	GetNode(ctx context.Context, nodeID string) (*graph.Node, error)

	// GetNodesByKind returns all nodes of the given kind in ID order.
	GetNodesByKind(ctx context.Context, kind graph.NodeKind) []*graph.Node

	// Traverse performs a BFS along trigger and effect edges, up to depth
	// hops. Direction is DirectionDownstream or DirectionUpstream.
	Traverse(ctx context.Context, startID string, depth int, direction string) ([]*graph.Node, error)

	// Runs

	// SaveRun persists a run record.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun returns a run by ID, or ErrNotFound.
	GetRun(ctx context.Context, id string) (*Run, error)

	// LatestRun returns the most recent run, or ErrNotFound.
	LatestRun(ctx context.Context) (*Run, error)

	// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]RunInfo, error)

	// Search

	// FTSSearch performs token search over node labels.
	FTSSearch(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// VectorSearch finds nodes closest to the given vector.
	VectorSearch(ctx context.Context, vector []float32, limit int) ([]SearchResult, error)

	// StoreEmbeddings persists node embeddings.
	StoreEmbeddings(ctx context.Context, embeddings []NodeEmbedding) error

	// HybridSearch combines FTS and vector search using RRF.
	HybridSearch(ctx context.Context, query string, queryVector []float32, limit int) ([]HybridSearchResult, error)

	// Maintenance

	// RebuildFTSIndexes drops and recreates the search index from the
	// stored nodes.
	RebuildFTSIndexes(ctx context.Context) error
}

func nodeResult(n *graph.Node, score float64) SearchResult {
	return SearchResult{
		NodeID: NodeKey(n.ID),
		Score:  score,
		Label:  n.Label,
		Kind:   string(n.Kind),
	}
}

// searchText is the text indexed for a node.
func searchText(n *graph.Node) string {
	text := n.Label
	switch {
	case n.Event != nil:
		text += " " + n.Event.Kind + " " + n.Event.EntityID + " " + n.Event.To
	case n.Action != nil:
		text += " " + n.Action.Service + " " + n.Action.Entity + " " + n.Action.State + " " + string(n.Action.Origin)
	}
	return text
}

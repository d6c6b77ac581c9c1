package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Benny93/haeca-go/internal/graph"
)

// MemoryBackend is an in-memory implementation of StorageBackend for testing
// and for one-shot analyses that should leave nothing on disk.
type MemoryBackend struct {
	mu         sync.RWMutex
	graph      *graph.FlowGraph
	runs       map[string]*Run
	embeddings map[string][]float32
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		graph:      graph.NewFlowGraph(),
		runs:       make(map[string]*Run),
		embeddings: make(map[string][]float32),
	}
}

// Initialize implements StorageBackend.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	return nil
}

// Close implements StorageBackend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graph = graph.NewFlowGraph()
	m.runs = make(map[string]*Run)
	m.embeddings = make(map[string][]float32)
	return nil
}

// BulkLoad implements StorageBackend. The graph is copied so later changes
// by the caller are not observed.
func (m *MemoryBackend) BulkLoad(ctx context.Context, g *graph.FlowGraph) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := graph.FromSnapshot(g.Snapshot())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.graph = cp
	m.embeddings = make(map[string][]float32)
	return nil
}

// Snapshot implements StorageBackend.
func (m *MemoryBackend) Snapshot(ctx context.Context) (graph.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph.Snapshot(), nil
}

// GetNode implements StorageBackend.
func (m *MemoryBackend) GetNode(ctx context.Context, nodeID string) (*graph.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.node(nodeID), nil
}

func (m *MemoryBackend) node(nodeID string) *graph.Node {
	for _, n := range m.graph.Nodes() {
		if NodeKey(n.ID) == nodeID {
			return n
		}
	}
	return nil
}

// GetNodesByKind implements StorageBackend.
func (m *MemoryBackend) GetNodesByKind(ctx context.Context, kind graph.NodeKind) []*graph.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph.NodesByKind(kind)
}

// Traverse implements StorageBackend.
func (m *MemoryBackend) Traverse(ctx context.Context, startID string, depth int, direction string) ([]*graph.Node, error) {
	if depth > MaxTraverseDepth {
		depth = MaxTraverseDepth
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	next := func(id string) []string {
		n := m.node(id)
		if n == nil {
			return nil
		}
		var out []string
		if direction == DirectionUpstream {
			for _, e := range m.graph.GetIncoming(n.ID) {
				out = append(out, NodeKey(e.Source))
			}
			return out
		}
		for _, e := range m.graph.GetOutgoing(n.ID) {
			out = append(out, NodeKey(e.Target))
		}
		return out
	}
	get := func(id string) (*graph.Node, error) { return m.node(id), nil }
	return bfs(startID, depth, next, get)
}

// SaveRun implements StorageBackend.
func (m *MemoryBackend) SaveRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

// GetRun implements StorageBackend.
func (m *MemoryBackend) GetRun(ctx context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, nil
}

// LatestRun implements StorageBackend.
func (m *MemoryBackend) LatestRun(ctx context.Context) (*Run, error) {
	runs := m.sortedRuns()
	if len(runs) == 0 {
		return nil, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	return runs[0], nil
}

// ListRuns implements StorageBackend.
func (m *MemoryBackend) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	runs := m.sortedRuns()
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	infos := make([]RunInfo, len(runs))
	for i, r := range runs {
		infos[i] = r.Info()
	}
	return infos, nil
}

// sortedRuns returns runs newest first.
func (m *MemoryBackend) sortedRuns() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID > runs[j].ID })
	return runs
}

// FTSSearch implements StorageBackend.
func (m *MemoryBackend) FTSSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queryTokens := tokenize(query)
	results := []SearchResult{}
	if len(queryTokens) == 0 {
		return results, nil
	}

	for _, node := range m.graph.Nodes() {
		freq := tokenFrequencies(node)
		score := 0
		for _, t := range queryTokens {
			score += freq[t]
		}
		if score > 0 {
			results = append(results, nodeResult(node, float64(score)))
		}
	}

	sortResults(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// VectorSearch implements StorageBackend.
func (m *MemoryBackend) VectorSearch(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := []SearchResult{}
	for nodeID, emb := range m.embeddings {
		node := m.node(nodeID)
		if node == nil {
			continue
		}
		if sim := CosineSimilarity(vector, emb); sim > 0 {
			results = append(results, nodeResult(node, sim))
		}
	}

	sortResults(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// StoreEmbeddings implements StorageBackend.
func (m *MemoryBackend) StoreEmbeddings(ctx context.Context, embeddings []NodeEmbedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, emb := range embeddings {
		m.embeddings[emb.NodeID] = emb.Embedding
	}
	return nil
}

// HybridSearch implements StorageBackend.
func (m *MemoryBackend) HybridSearch(ctx context.Context, query string, queryVector []float32, limit int) ([]HybridSearchResult, error) {
	return HybridSearch(ctx, m, query, queryVector, limit, DefaultRRFConstant)
}

// RebuildFTSIndexes implements StorageBackend. Memory search scans nodes
// directly, so there is nothing to rebuild.
func (m *MemoryBackend) RebuildFTSIndexes(ctx context.Context) error {
	return nil
}

// String describes the backend contents.
func (m *MemoryBackend) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("memory(nodes=%d edges=%d runs=%d)", m.graph.NodeCount(), m.graph.EdgeCount(), len(m.runs))
}

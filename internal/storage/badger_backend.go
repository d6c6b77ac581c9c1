package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/haeca-go/internal/graph"
)

// Key prefixes for different data types
const (
	prefixNode      = "n:"     // node data, n:<padded id>
	prefixEdge      = "r:"     // edge data, r:<padded id>
	prefixIncoming  = "i:in:"  // i:in:<target>:<kind>:<edge id> -> source
	prefixOutgoing  = "i:out:" // i:out:<source>:<kind>:<edge id> -> target
	prefixEmbedding = "e:"     // embedding data
	prefixRun       = "run:"   // run:<uuid v7>
)

// BadgerBackend is a BadgerDB-backed storage implementation.
type BadgerBackend struct {
	db          *badger.DB
	fts         *FTSIndex
	initialized bool
	mu          sync.RWMutex
	nodeCount   int
	edgeCount   int
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	var err error
	b.db, err = badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}

	b.initialized = true
	b.fts = NewFTSIndex(b.db)
	b.nodeCount = b.countPrefix(prefixNode)
	b.edgeCount = b.countPrefix(prefixEdge)
	return nil
}

func (b *BadgerBackend) countPrefix(prefix string) int {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	err := b.db.Close()
	b.db = nil
	b.fts = nil
	b.initialized = false
	return err
}

// BulkLoad replaces the stored graph with the contents of g. Runs are kept.
func (b *BadgerBackend) BulkLoad(ctx context.Context, g *graph.FlowGraph) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.db.DropPrefix(
		[]byte(prefixNode), []byte(prefixEdge),
		[]byte(prefixIncoming), []byte(prefixOutgoing),
		[]byte(prefixEmbedding),
	); err != nil {
		return fmt.Errorf("dropping graph: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	b.nodeCount = 0
	b.edgeCount = 0

	nodes := g.Nodes()
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("marshaling node: %w", err)
		}
		if err := wb.Set(nodeKey(node.ID), data); err != nil {
			return fmt.Errorf("setting node: %w", err)
		}
		b.nodeCount++
	}

	for _, edge := range g.Edges() {
		data, err := json.Marshal(edge)
		if err != nil {
			return fmt.Errorf("marshaling edge: %w", err)
		}
		if err := wb.Set(edgeKey(edge.ID), data); err != nil {
			return fmt.Errorf("setting edge: %w", err)
		}
		b.edgeCount++

		// Index for adjacency lists
		if err := indexEdge(wb, edge); err != nil {
			return err
		}
	}

	if err := wb.Flush(); err != nil {
		return err
	}

	return b.fts.IndexNodes(nodes)
}

// indexEdge creates adjacency list indexes for an edge.
func indexEdge(wb *badger.WriteBatch, e *graph.Edge) error {
	outKey := fmt.Sprintf("%s%s:%s:%d", prefixOutgoing, NodeKey(e.Source), e.Kind, e.ID)
	if err := wb.Set([]byte(outKey), []byte(NodeKey(e.Target))); err != nil {
		return fmt.Errorf("setting outgoing index: %w", err)
	}

	inKey := fmt.Sprintf("%s%s:%s:%d", prefixIncoming, NodeKey(e.Target), e.Kind, e.ID)
	if err := wb.Set([]byte(inKey), []byte(NodeKey(e.Source))); err != nil {
		return fmt.Errorf("setting incoming index: %w", err)
	}

	return nil
}

// Snapshot returns the stored graph in ID order.
func (b *BadgerBackend) Snapshot(ctx context.Context) (graph.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := graph.Snapshot{Nodes: []graph.Node{}, Edges: []graph.Edge{}}
	err := b.db.View(func(txn *badger.Txn) error {
		if err := scanJSON(txn, prefixNode, func() any { return &graph.Node{} }, func(v any) {
			s.Nodes = append(s.Nodes, *v.(*graph.Node))
		}); err != nil {
			return err
		}
		return scanJSON(txn, prefixEdge, func() any { return &graph.Edge{} }, func(v any) {
			s.Edges = append(s.Edges, *v.(*graph.Edge))
		})
	})
	return s, err
}

// scanJSON decodes every value under prefix, in key order.
func scanJSON(txn *badger.Txn, prefix string, alloc func() any, emit func(any)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		v := alloc()
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		}); err != nil {
			return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
		}
		emit(v)
	}
	return nil
}

// GetNode returns a single node by ID, or nil if not found.
func (b *BadgerBackend) GetNode(ctx context.Context, nodeID string) (*graph.Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.getNode(nodeID)
}

// getNode is a helper that gets a node without locking (caller must hold lock).
func (b *BadgerBackend) getNode(nodeID string) (*graph.Node, error) {
	key, ok := parseNodeKey(nodeID)
	if !ok {
		return nil, nil
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting node: %w", err)
	}

	var node graph.Node
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &node)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling node: %w", err)
	}
	return &node, nil
}

// GetNodesByKind returns all nodes of the given kind.
func (b *BadgerBackend) GetNodesByKind(ctx context.Context, kind graph.NodeKind) []*graph.Node {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var nodes []*graph.Node
	_ = b.db.View(func(txn *badger.Txn) error {
		return scanJSON(txn, prefixNode, func() any { return &graph.Node{} }, func(v any) {
			if n := v.(*graph.Node); n.Kind == kind {
				nodes = append(nodes, n)
			}
		})
	})
	return nodes
}

// neighbors returns the node IDs adjacent to nodeID in the given direction.
func (b *BadgerBackend) neighbors(txn *badger.Txn, nodeID, direction string) []string {
	prefix := prefixOutgoing
	if direction == DirectionUpstream {
		prefix = prefixIncoming
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix + nodeID + ":")
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Rewind(); it.Valid(); it.Next() {
		_ = it.Item().Value(func(val []byte) error {
			out = append(out, string(val))
			return nil
		})
	}
	return out
}

// Traverse performs BFS traversal through trigger and effect edges.
func (b *BadgerBackend) Traverse(ctx context.Context, startID string, depth int, direction string) ([]*graph.Node, error) {
	if depth > MaxTraverseDepth {
		depth = MaxTraverseDepth
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	return bfs(startID, depth, func(id string) []string {
		return b.neighbors(txn, id, direction)
	}, b.getNode)
}

// bfs walks from startID up to depth hops and returns every reached node
// except the start, in visit order.
func bfs(startID string, depth int, next func(string) []string, get func(string) (*graph.Node, error)) ([]*graph.Node, error) {
	type traversalItem struct {
		nodeID string
		depth  int
	}

	visited := map[string]bool{startID: true}
	queue := []traversalItem{{nodeID: startID}}
	var result []*graph.Node

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.nodeID != startID {
			node, err := get(current.nodeID)
			if err != nil {
				return nil, err
			}
			if node != nil {
				result = append(result, node)
			}
		}
		if current.depth >= depth {
			continue
		}
		for _, n := range next(current.nodeID) {
			if visited[n] {
				continue
			}
			visited[n] = true
			queue = append(queue, traversalItem{nodeID: n, depth: current.depth + 1})
		}
	}
	return result, nil
}

// SaveRun persists a run record.
func (b *BadgerBackend) SaveRun(ctx context.Context, run *Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixRun+run.ID), data)
	})
}

// GetRun returns a run by ID.
func (b *BadgerBackend) GetRun(ctx context.Context, id string) (*Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var run Run
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixRun + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return &run, nil
}

// LatestRun returns the most recent run.
func (b *BadgerBackend) LatestRun(ctx context.Context) (*Run, error) {
	runs, err := b.scanRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	return runs[0], nil
}

// ListRuns returns up to limit runs, newest first.
func (b *BadgerBackend) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	runs, err := b.scanRuns(limit)
	if err != nil {
		return nil, err
	}
	infos := make([]RunInfo, len(runs))
	for i, r := range runs {
		infos[i] = r.Info()
	}
	return infos, nil
}

// scanRuns iterates run keys in reverse. Run IDs are UUIDv7, so reverse
// key order is newest first.
func (b *BadgerBackend) scanRuns(limit int) ([]*Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var runs []*Run
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefixRun)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefixRun + "\xff")); it.Valid(); it.Next() {
			var run Run
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				return fmt.Errorf("decoding run: %w", err)
			}
			runs = append(runs, &run)
			if limit > 0 && len(runs) >= limit {
				break
			}
		}
		return nil
	})
	return runs, err
}

// FTSSearch performs full-text search over node labels.
func (b *BadgerBackend) FTSSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.fts == nil {
		return []SearchResult{}, nil
	}
	return b.fts.Search(query, limit)
}

// VectorSearch finds nodes closest to the given vector using cosine similarity.
func (b *BadgerBackend) VectorSearch(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	type scoredNode struct {
		nodeID string
		score  float64
	}
	var scoredNodes []scoredNode

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixEmbedding)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var embedding []float32
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &embedding)
		}); err != nil {
			continue
		}

		nodeID := strings.TrimPrefix(string(item.Key()), prefixEmbedding)
		if sim := CosineSimilarity(vector, embedding); sim > 0 {
			scoredNodes = append(scoredNodes, scoredNode{nodeID: nodeID, score: sim})
		}
	}

	sort.SliceStable(scoredNodes, func(i, j int) bool {
		return scoredNodes[i].score > scoredNodes[j].score
	})
	if limit > 0 && len(scoredNodes) > limit {
		scoredNodes = scoredNodes[:limit]
	}

	results := make([]SearchResult, 0, len(scoredNodes))
	for _, sn := range scoredNodes {
		node, err := b.getNode(sn.nodeID)
		if err != nil || node == nil {
			continue
		}
		results = append(results, nodeResult(node, sn.score))
	}
	return results, nil
}

// StoreEmbeddings persists node embeddings.
func (b *BadgerBackend) StoreEmbeddings(ctx context.Context, embeddings []NodeEmbedding) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, emb := range embeddings {
		data, err := json.Marshal(emb.Embedding)
		if err != nil {
			return fmt.Errorf("marshaling embedding: %w", err)
		}
		if err := wb.Set([]byte(prefixEmbedding+emb.NodeID), data); err != nil {
			return fmt.Errorf("setting embedding: %w", err)
		}
	}
	return wb.Flush()
}

// HybridSearch combines FTS and vector search using RRF.
func (b *BadgerBackend) HybridSearch(ctx context.Context, query string, queryVector []float32, limit int) ([]HybridSearchResult, error) {
	return HybridSearch(ctx, b, query, queryVector, limit, DefaultRRFConstant)
}

// RebuildFTSIndexes drops and recreates the search index.
func (b *BadgerBackend) RebuildFTSIndexes(ctx context.Context) error {
	var nodes []*graph.Node
	for _, kind := range []graph.NodeKind{graph.NodeEvent, graph.NodeAction} {
		nodes = append(nodes, b.GetNodesByKind(ctx, kind)...)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fts.IndexNodes(nodes)
}

// NodeCount returns the stored node count.
func (b *BadgerBackend) NodeCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nodeCount
}

// EdgeCount returns the stored edge count.
func (b *BadgerBackend) EdgeCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.edgeCount
}

// nodeKey returns the BadgerDB key for a node. IDs are zero-padded so key
// order is ID order.
func nodeKey(id graph.NodeID) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixNode, id))
}

func parseNodeKey(nodeID string) ([]byte, bool) {
	id, err := strconv.Atoi(nodeID)
	if err != nil || id < 0 {
		return nil, false
	}
	return nodeKey(graph.NodeID(id)), true
}

// edgeKey returns the BadgerDB key for an edge.
func edgeKey(id int) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixEdge, id))
}

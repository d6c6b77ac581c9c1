package storage

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/haeca-go/internal/graph"
)

// Key prefixes for FTS
const (
	prefixFTSToken = "fts:t:" // fts:t:token:nodeID -> frequency
	prefixFTSMeta  = "fts:m:" // fts:m:nodeID -> serialized metadata
)

var subTokenSep = regexp.MustCompile(`[_\.\-:]+`)

// FTSIndex is a simple inverted index for full-text search.
type FTSIndex struct {
	db *badger.DB
}

// NewFTSIndex creates a new FTS index using the given BadgerDB instance.
func NewFTSIndex(db *badger.DB) *FTSIndex {
	return &FTSIndex{db: db}
}

// tokenize splits text into searchable tokens.
// Entity ids and service names are kept whole and also split on their
// separators: "light.turn_on" -> "light.turn_on", "light", "turn", "on".
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' && r != '-' && r != ':'
	})

	var result []string
	seen := make(map[string]bool)
	add := func(t string) {
		t = strings.Trim(t, "_.-:")
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		result = append(result, t)
	}
	for _, f := range fields {
		add(f)
		for _, part := range subTokenSep.Split(f, -1) {
			add(part)
		}
	}
	return result
}

// tokenFrequencies counts tokens of a node's search text.
func tokenFrequencies(n *graph.Node) map[string]int {
	freq := make(map[string]int)
	for _, field := range strings.Fields(searchText(n)) {
		for _, t := range tokenize(field) {
			freq[t]++
		}
	}
	return freq
}

// IndexNodes replaces the index contents with the given nodes.
func (f *FTSIndex) IndexNodes(nodes []*graph.Node) error {
	if f.db == nil {
		return nil // Index not initialized
	}
	if err := f.db.DropPrefix([]byte(prefixFTSToken), []byte(prefixFTSMeta)); err != nil {
		return fmt.Errorf("dropping fts index: %w", err)
	}

	wb := f.db.NewWriteBatch()
	defer wb.Cancel()

	for _, node := range nodes {
		id := NodeKey(node.ID)
		for token, freq := range tokenFrequencies(node) {
			key := fmt.Sprintf("%s%s:%s", prefixFTSToken, token, id)
			if err := wb.Set([]byte(key), []byte(strconv.Itoa(freq))); err != nil {
				return fmt.Errorf("setting token index: %w", err)
			}
		}

		// Metadata for search results
		meta := map[string]any{
			"id":    id,
			"label": node.Label,
			"kind":  string(node.Kind),
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
		if err := wb.Set([]byte(prefixFTSMeta+id), metaJSON); err != nil {
			return fmt.Errorf("setting metadata: %w", err)
		}
	}

	return wb.Flush()
}

// Search performs full-text search with simple TF scoring.
func (f *FTSIndex) Search(query string, limit int) ([]SearchResult, error) {
	if f.db == nil {
		return []SearchResult{}, nil
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return []SearchResult{}, nil
	}

	nodeScores := make(map[string]float64)

	txn := f.db.NewTransaction(false)
	defer txn.Discard()

	for _, token := range queryTokens {
		prefix := fmt.Sprintf("%s%s:", prefixFTSToken, token)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			// Extract nodeID from key: fts:t:token:nodeID
			nodeID := strings.TrimPrefix(string(item.Key()), prefix)
			if strings.Contains(nodeID, ":") {
				// A longer token sharing this prefix.
				continue
			}

			var freq int
			_ = item.Value(func(val []byte) error {
				freq, _ = strconv.Atoi(string(val))
				return nil
			})
			nodeScores[nodeID] += float64(freq)
		}
		it.Close()
	}

	var results []SearchResult
	for nodeID, score := range nodeScores {
		if score <= 0 {
			continue
		}

		metaItem, err := txn.Get([]byte(prefixFTSMeta + nodeID))
		if err != nil {
			continue // Node metadata not found
		}

		var meta map[string]any
		_ = metaItem.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})

		results = append(results, SearchResult{
			NodeID: nodeID,
			Score:  score,
			Label:  getString(meta, "label"),
			Kind:   getString(meta, "kind"),
		})
	}

	sortResults(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// IndexSize returns the number of indexed tokens (for debugging/testing).
func (f *FTSIndex) IndexSize() (int, error) {
	if f.db == nil {
		return 0, nil
	}

	count := 0
	txn := f.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixFTSToken)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		count++
	}
	return count, nil
}

// getString safely extracts a string from a map.
func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// sortResults orders by score descending, then by label for stable output.
func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Label < results[j].Label
	})
}

package embeddings

import (
	"math"
	"strings"
	"sync"

	"github.com/Benny93/haeca-go/internal/graph"
)

// EmbeddingDimension is the dimension of generated embeddings.
const EmbeddingDimension = 100

// TFIDFEmbedder generates TF-IDF based embeddings for graph nodes.
// This is a simple embedding model that doesn't require external ML models.
//
// The vocabulary is built from the documents in the order given, so the
// same node set in the same order always yields the same vectors. Query
// vectors are only comparable to vectors from an embedder fitted on the
// same node set.
type TFIDFEmbedder struct {
	mu       sync.RWMutex
	idf      map[string]float64 // term -> IDF score
	docCount int                // number of documents processed
	vocab    map[string]int     // term -> index in embedding vector
}

// NewTFIDFEmbedder creates a new TF-IDF embedder.
func NewTFIDFEmbedder() *TFIDFEmbedder {
	return &TFIDFEmbedder{
		idf:   make(map[string]float64),
		vocab: make(map[string]int),
	}
}

// BuildVocabulary builds the vocabulary from a set of documents. Terms past
// EmbeddingDimension are ignored.
func (e *TFIDFEmbedder) BuildVocabulary(docs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.docCount = len(docs)
	termIndex := len(e.vocab)
	for _, doc := range docs {
		for _, term := range tokenize(doc) {
			if termIndex >= EmbeddingDimension {
				return
			}
			if _, exists := e.vocab[term]; !exists {
				e.vocab[term] = termIndex
				termIndex++
			}
		}
	}
}

// ComputeIDF computes IDF scores for all terms in the vocabulary.
func (e *TFIDFEmbedder) ComputeIDF(docs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Count document frequency for each term
	docFreq := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, term := range tokenize(doc) {
			if !seen[term] {
				docFreq[term]++
				seen[term] = true
			}
		}
	}

	// IDF: log(1 + N / df), so terms present everywhere still carry weight.
	for term, df := range docFreq {
		e.idf[term] = math.Log(1 + float64(e.docCount)/float64(df))
	}
}

// Embed generates a TF-IDF embedding for a document.
func (e *TFIDFEmbedder) Embed(doc string) []float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	embedding := make([]float32, EmbeddingDimension)

	tf := make(map[string]int)
	maxTF := 0
	for _, term := range tokenize(doc) {
		tf[term]++
		maxTF = max(maxTF, tf[term])
	}

	for term, count := range tf {
		idx, exists := e.vocab[term]
		if !exists {
			continue
		}
		idf := e.idf[term]
		if idf == 0 {
			idf = 1.0 // Default IDF for unseen terms
		}
		embedding[idx] = float32(float64(count) / float64(maxTF) * idf)
	}

	// L2 normalize the embedding
	norm := 0.0
	for _, v := range embedding {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range embedding {
			embedding[i] = float32(float64(embedding[i]) / norm)
		}
	}

	return embedding
}

// EmbedNode generates an embedding for a graph node.
func (e *TFIDFEmbedder) EmbedNode(node *graph.Node) []float32 {
	return e.Embed(GenerateEmbeddingText(node))
}

// EmbedNodes fits the embedder on nodes and returns one vector per node.
func (e *TFIDFEmbedder) EmbedNodes(nodes []*graph.Node) [][]float32 {
	docs := make([]string, 0, len(nodes))
	for _, node := range nodes {
		docs = append(docs, GenerateEmbeddingText(node))
	}

	e.BuildVocabulary(docs)
	e.ComputeIDF(docs)

	embeddings := make([][]float32, len(nodes))
	for i, doc := range docs {
		embeddings[i] = e.Embed(doc)
	}
	return embeddings
}

// VocabularySize returns the number of terms with a vector slot.
func (e *TFIDFEmbedder) VocabularySize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.vocab)
}

// tokenize splits text into terms.
func tokenize(text string) []string {
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})

	// Filter out very short terms
	filtered := terms[:0]
	for _, term := range terms {
		if len(term) >= 2 {
			filtered = append(filtered, term)
		}
	}
	return filtered
}

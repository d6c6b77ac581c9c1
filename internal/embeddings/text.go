// Package embeddings turns flow graph nodes into vectors for semantic
// search over a stored analysis.
package embeddings

import (
	"fmt"
	"strings"

	"github.com/Benny93/haeca-go/internal/graph"
)

// GenerateEmbeddingText generates natural language text from a graph node for embedding.
// Entity ids are spelled out with their domain so that "light" finds every
// light.* node.
func GenerateEmbeddingText(node *graph.Node) string {
	if node == nil {
		return ""
	}

	var parts []string
	switch {
	case node.Event != nil:
		e := node.Event
		parts = append(parts, fmt.Sprintf("event %s trigger", e.Kind))
		if e.EntityID != "" {
			parts = append(parts, "on "+describeEntity(e.EntityID))
		}
		if e.HasTo {
			parts = append(parts, fmt.Sprintf("changing to %s", e.To))
		}
		for _, p := range e.Params {
			parts = append(parts, fmt.Sprintf("%s %s", p.Key, p.Value))
		}
	case node.Action != nil:
		a := node.Action
		parts = append(parts, fmt.Sprintf("action %s %s", a.Origin, a.Service))
		if a.Entity != "" {
			parts = append(parts, "targeting "+describeEntity(a.Entity))
		}
		if a.State != "" {
			parts = append(parts, fmt.Sprintf("sets state %s", a.State))
		}
	}
	parts = append(parts, node.Label)

	return strings.Join(parts, ". ")
}

// GenerateNodeText generates a shorter text representation for a node.
func GenerateNodeText(node *graph.Node) string {
	if node == nil {
		return ""
	}
	return fmt.Sprintf("%s %s", node.Kind, node.Label)
}

// describeEntity renders light.kitchen as "light kitchen (light.kitchen)".
func describeEntity(entity string) string {
	domain, object, ok := strings.Cut(entity, ".")
	if !ok || strings.Contains(domain, ":") {
		return entity
	}
	return fmt.Sprintf("%s %s (%s)", domain, strings.ReplaceAll(object, "_", " "), entity)
}

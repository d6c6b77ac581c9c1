package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/haeca-go/internal/graph"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Service",
			input:    "light.turn_on",
			expected: []string{"light.turn_on", "light", "turn", "on"},
		},
		{
			name:     "EventLabel",
			input:    "E:state(light.l2→on)",
			expected: []string{"e:state", "e", "state", "light.l2", "light", "l2", "on"},
		},
		{
			name:     "AreaReference",
			input:    "area_id:kitchen",
			expected: []string{"area_id:kitchen", "area", "id", "kitchen"},
		},
		{
			name:     "RepeatedPartsOnce",
			input:    "A:media_player.play(media_player.mp1=playing)",
			expected: []string{"a:media_player.play", "a", "media", "player", "play", "media_player.mp1", "mp1", "playing"},
		},
		{
			name:     "Lowercased",
			input:    "Switch.Porch",
			expected: []string{"switch.porch", "switch", "porch"},
		},
		{
			name:     "EmptyString",
			input:    "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tokenize(tt.input))
		})
	}
}

func TestTokenFrequencies(t *testing.T) {
	t.Parallel()

	n := &graph.Node{
		Kind:  graph.NodeAction,
		Label: "A:switch.turn_off(switch.s1=off)",
		Action: &graph.ActionNode{
			Origin:  graph.OriginService,
			Service: "switch.turn_off",
			Entity:  "switch.s1",
			State:   "off",
		},
	}
	freq := tokenFrequencies(n)
	assert.Equal(t, 3, freq["switch"])
	assert.Equal(t, 2, freq["switch.s1"])
	assert.Equal(t, 1, freq["service"])
}

func TestFTSIndex_IndexAndSearch(t *testing.T) {
	// Subtests share the same database.
	backend := NewBadgerBackend()
	require.NoError(t, backend.Initialize(filepath.Join(t.TempDir(), "badger"), false))
	defer backend.Close()

	fts := NewFTSIndex(backend.db)
	g := sampleGraph()
	require.NoError(t, fts.IndexNodes(g.Nodes()))

	t.Run("EntityMatch", func(t *testing.T) {
		results, err := fts.Search("light.l2", 10)
		require.NoError(t, err)
		// The query also matches the "light" sub-token of light.l1.
		require.Len(t, results, 3)
		assert.Equal(t, "A:light.turn_on(light.l2=on)", results[0].Label)
		assert.Equal(t, "E:state(light.l2→on)", results[1].Label)
		assert.Equal(t, "E:state(light.l1→on)", results[2].Label)
		assert.InDelta(t, 7.0, results[0].Score, 0.001)
		assert.Equal(t, "1", results[0].NodeID)
		assert.Equal(t, "action", results[0].Kind)
	})

	t.Run("SubTokenMatch", func(t *testing.T) {
		results, err := fts.Search("l2", 10)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("ScoreIsTermFrequency", func(t *testing.T) {
		results, err := fts.Search("switch", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.InDelta(t, 3.0, results[0].Score, 0.001)
	})

	t.Run("PartialTokenDoesNotMatch", func(t *testing.T) {
		results, err := fts.Search("swit", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("Limit", func(t *testing.T) {
		results, err := fts.Search("light", 1)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("EmptyQuery", func(t *testing.T) {
		results, err := fts.Search("  ", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("IndexSize", func(t *testing.T) {
		size, err := fts.IndexSize()
		require.NoError(t, err)
		assert.Positive(t, size)
	})

	t.Run("Reindex", func(t *testing.T) {
		require.NoError(t, fts.IndexNodes(nil))
		size, err := fts.IndexSize()
		require.NoError(t, err)
		assert.Zero(t, size)
	})
}

func TestBadgerBackend_RebuildFTSIndexes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewBadgerBackend()
	require.NoError(t, backend.Initialize(filepath.Join(t.TempDir(), "badger"), false))
	defer backend.Close()

	require.NoError(t, backend.BulkLoad(ctx, sampleGraph()))
	require.NoError(t, backend.fts.IndexNodes(nil))

	results, err := backend.FTSSearch(ctx, "switch", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, backend.RebuildFTSIndexes(ctx))
	results, err = backend.FTSSearch(ctx, "switch", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestNilFTSIndex(t *testing.T) {
	t.Parallel()

	fts := NewFTSIndex(nil)
	assert.NoError(t, fts.IndexNodes(nil))
	results, err := fts.Search("light", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

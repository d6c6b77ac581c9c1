package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// watchRuns starts WatchConfig and returns a channel of completed runs.
func watchRuns(t *testing.T, input string) <-chan *Outcome {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	runs := make(chan *Outcome, 8)
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, input, 50*time.Millisecond, PipelineOptions{}, func(out *Outcome, err error) {
			if err == nil {
				runs <- out
			}
		})
	}()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
	return runs
}

func nextRun(t *testing.T, runs <-chan *Outcome) *Outcome {
	t.Helper()
	select {
	case out := <-runs:
		return out
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no analysis run within timeout")
		return nil
	}
}

func TestWatchConfig(t *testing.T) {
	t.Parallel()

	t.Run("ReanalyzesChangedFile", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeFile(t, dir, "automations.yaml", conflictYAML)

		runs := watchRuns(t, path)
		first := nextRun(t, runs)
		assert.Zero(t, first.Report.Summary.CircularityIssues)

		require.NoError(t, os.WriteFile(path, []byte(cycleYAML), 0o644))
		second := nextRun(t, runs)
		assert.Equal(t, 1, second.Report.Summary.CircularityIssues)
	})

	t.Run("ReanalyzesDirectory", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, dir, "automations.yaml", conflictYAML)

		runs := watchRuns(t, dir)
		first := nextRun(t, runs)
		assert.Equal(t, 1, first.Result.Automations)

		writeFile(t, dir, "more.yaml", redundantYAML)
		second := nextRun(t, runs)
		assert.Equal(t, 2, second.Result.Automations)
	})

	t.Run("MissingInput", func(t *testing.T) {
		t.Parallel()
		err := WatchConfig(context.Background(), filepath.Join(t.TempDir(), "nope"), 0, PipelineOptions{}, func(*Outcome, error) {})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestShouldWatchFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	matcher := newMatcher(nil)

	tests := []struct {
		name     string
		path     string
		input    string
		isDir    bool
		expected bool
	}{
		{"TheFile", filepath.Join(dir, "automations.yaml"), filepath.Join(dir, "automations.yaml"), false, true},
		{"SiblingOfFile", filepath.Join(dir, "scripts.yaml"), filepath.Join(dir, "automations.yaml"), false, false},
		{"YAMLInDir", filepath.Join(dir, "packages", "x.yml"), dir, true, true},
		{"NonYAMLInDir", filepath.Join(dir, "home-assistant.log"), dir, true, false},
		{"Secrets", filepath.Join(dir, "secrets.yaml"), dir, true, false},
		{"Blueprint", filepath.Join(dir, "blueprints", "a.yaml"), dir, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, shouldWatchFile(tt.path, tt.input, tt.isDir, matcher))
		})
	}
}

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/haeca-go/internal/metrics"
)

const circularAutomations = `
- alias: Light follows switch
  trigger:
    - platform: state
      entity_id: light.l2
      to: "on"
  action:
    - service: switch.turn_on
      entity_id: switch.out2
- alias: Switch follows light
  trigger:
    - platform: state
      entity_id: switch.out2
      to: "on"
  action:
    - service: light.turn_on
      target:
        entity_id: light.l2
- alias: Motion
  use_blueprint:
    path: motion_light.yaml
`

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testGlobals(t *testing.T, stdin string) (*Globals, *syncBuffer, *syncBuffer) {
	t.Helper()
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	return &Globals{
		Home:   filepath.Join(t.TempDir(), ".haeca"),
		stdin:  strings.NewReader(stdin),
		stdout: stdout,
		stderr: stderr,
	}, stdout, stderr
}

// execute runs the CLI with captured streams.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cli := &CLI{}
	cli.stdin, cli.stdout, cli.stderr = strings.NewReader(stdin), &stdout, &stderr
	err := cli.Execute(args)
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func decodeReport(t *testing.T, data string) map[string]any {
	t.Helper()
	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &report))
	return report
}

func summaryOf(t *testing.T, report map[string]any) map[string]any {
	t.Helper()
	summary, ok := report["summary"].(map[string]any)
	require.True(t, ok)
	return summary
}

func TestAnalyzeCmd_Run(t *testing.T) {
	t.Parallel()

	t.Run("Stdin", func(t *testing.T) {
		t.Parallel()
		home := filepath.Join(t.TempDir(), ".haeca")

		stdout, stderr, err := execute(t, circularAutomations, "--home", home, "analyze")
		require.NoError(t, err)

		summary := summaryOf(t, decodeReport(t, stdout))
		assert.InDelta(t, 1, summary["circularity_issues"], 0)
		assert.InDelta(t, 4, summary["edges"], 0)

		assert.Contains(t, stderr, "Parsed 3 automations\n")
		assert.Contains(t, stderr, "EFG has 2 events, 2 actions, 4 edges\n")
		assert.Contains(t, stderr, "1 findings (0 redundancy, 0 inconsistency, 1 circularity)")
		assert.Contains(t, stderr, "Automations:    3 (2 analyzed, 1 skipped)")

		_, err = os.Stat(home)
		assert.True(t, os.IsNotExist(err), "no store without --store")
	})

	t.Run("FileToOut", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		in := writeFile(t, dir, "automations.yaml", circularAutomations)
		out := filepath.Join(dir, "report.json")

		stdout, _, err := execute(t, "", "analyze", "--in", in, "--out", out)
		require.NoError(t, err)
		assert.Empty(t, stdout)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		report := decodeReport(t, string(data))
		assert.Len(t, report["circularity"], 1)
		assert.Empty(t, report["redundancy"])
	})

	t.Run("Quiet", func(t *testing.T) {
		t.Parallel()
		stdout, stderr, err := execute(t, circularAutomations, "-q", "analyze")
		require.NoError(t, err)
		assert.NotEmpty(t, stdout)
		assert.Empty(t, stderr)
	})

	t.Run("Passes", func(t *testing.T) {
		t.Parallel()
		stdout, _, err := execute(t, circularAutomations, "analyze", "--passes", "redundancy,inconsistency")
		require.NoError(t, err)
		assert.InDelta(t, 0, summaryOf(t, decodeReport(t, stdout))["circularity_issues"], 0)
	})

	t.Run("UnknownPass", func(t *testing.T) {
		t.Parallel()
		_, _, err := execute(t, circularAutomations, "analyze", "--passes", "chaos")
		assert.Error(t, err)
	})

	t.Run("FailOnFindings", func(t *testing.T) {
		t.Parallel()
		_, _, err := execute(t, circularAutomations, "analyze", "--fail-on-findings")
		assert.ErrorIs(t, err, ErrFindings)

		_, _, err = execute(t, "- alias: idle\n  trigger: {platform: sun, event: sunset}\n  action: {service: light.turn_on, entity_id: light.porch}\n", "analyze", "--fail-on-findings")
		assert.NoError(t, err)
	})

	t.Run("Diagnostics", func(t *testing.T) {
		t.Parallel()
		_, stderr, err := execute(t, circularAutomations, "analyze", "--diagnostics")
		require.NoError(t, err)
		assert.Contains(t, stderr, "1 diagnostics:")
		assert.Contains(t, stderr, "[blueprint] Motion:")
	})

	t.Run("MetricsFile", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "haeca.prom")
		_, _, err := execute(t, circularAutomations, "analyze", "--metrics-file", path)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `haeca_findings{class="circularity"} 1`)
		assert.Contains(t, string(data), `haeca_runs_total{status="ok"} 1`)
	})

	t.Run("MissingInput", func(t *testing.T) {
		t.Parallel()
		_, _, err := execute(t, "", "analyze", "--in", "/nonexistent/automations.yaml")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("ReplacementCatalog", func(t *testing.T) {
		t.Parallel()
		cat := writeFile(t, t.TempDir(), "catalog.yaml", "catalog_version: \"test\"\neffects:\n  - {service: switch.turn_on, state: \"on\"}\n")

		stdout, _, err := execute(t, circularAutomations, "--catalog", cat, "analyze")
		require.NoError(t, err)

		summary := summaryOf(t, decodeReport(t, stdout))
		assert.InDelta(t, 0, summary["circularity_issues"], 0)
		assert.InDelta(t, 3, summary["edges"], 0)
	})

	t.Run("InvalidCatalog", func(t *testing.T) {
		t.Parallel()
		cat := writeFile(t, t.TempDir(), "catalog.yaml", "effects: []\n")
		_, _, err := execute(t, circularAutomations, "--catalog", cat, "analyze")
		assert.ErrorContains(t, err, "loading catalog")
	})
}

func TestStoreCommands(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	home := filepath.Join(dir, ".haeca")
	in := writeFile(t, dir, "automations.yaml", circularAutomations)

	_, _, err := execute(t, "", "--home", home, "status")
	require.ErrorContains(t, err, "no analysis store")

	_, stderr, err := execute(t, "", "--home", home, "analyze", "--in", in, "--store")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Stored run:")

	t.Run("Status", func(t *testing.T) {
		stdout, _, err := execute(t, "", "--home", home, "status")
		require.NoError(t, err)
		assert.Contains(t, stdout, "Source:         "+in)
		assert.Contains(t, stdout, "Automations:    3 (2 analyzed)")
		assert.Contains(t, stdout, "Circularity:    1")
		assert.Contains(t, stdout, "Diagnostics:    1")

		stdout, _, err = execute(t, "", "--home", home, "status", "--json")
		require.NoError(t, err)
		assert.InDelta(t, 1, summaryOf(t, decodeReport(t, stdout))["circularity_issues"], 0)
	})

	t.Run("List", func(t *testing.T) {
		stdout, _, err := execute(t, "", "--home", home, "list")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(stdout), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "FINDINGS")
		assert.Contains(t, lines[1], in)
	})

	t.Run("Query", func(t *testing.T) {
		stdout, _, err := execute(t, "", "--home", home, "query", "switch.out2", "-n", "5")
		require.NoError(t, err)
		assert.Contains(t, stdout, "A:switch.turn_on(switch.out2=on)")
		assert.Contains(t, stdout, "Kind: action")

		stdout, _, err = execute(t, "", "--home", home, "query", "garage")
		require.NoError(t, err)
		assert.Equal(t, "No results found\n", stdout)
	})

	t.Run("Trace", func(t *testing.T) {
		stdout, _, err := execute(t, "", "--home", home, "trace", "E:state(light.l2→on)", "-d", "1")
		require.NoError(t, err)
		assert.Contains(t, stdout, "E:state(light.l2→on)")
		assert.Contains(t, stdout, "  → A:switch.turn_on(switch.out2=on)\n")
		assert.NotContains(t, stdout, "light.turn_on")

		stdout, _, err = execute(t, "", "--home", home, "trace", "E:state(light.l2→on)", "-d", "1", "-u")
		require.NoError(t, err)
		assert.Contains(t, stdout, "← A:light.turn_on(light.l2=on)")

		_, _, err = execute(t, "", "--home", home, "trace", "garage", "-d", "1")
		assert.ErrorContains(t, err, "no event or action matches")

		_, _, err = execute(t, "", "--home", home, "trace", "light.l2", "-d", "0")
		assert.Error(t, err)
	})

	t.Run("SecondRun", func(t *testing.T) {
		_, _, err := execute(t, circularAutomations, "--home", home, "analyze", "--store", "--passes", "redundancy")
		require.NoError(t, err)

		stdout, _, err := execute(t, "", "--home", home, "list", "-n", "0")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(stdout), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasSuffix(lines[1], "  -"), lines[1])
	})

	t.Run("Clean", func(t *testing.T) {
		_, stderr, err := execute(t, "n\n", "--home", home, "clean")
		require.NoError(t, err)
		assert.Contains(t, stderr, "Aborted")
		assert.DirExists(t, home)

		_, _, err = execute(t, "", "--home", home, "clean", "-f")
		require.NoError(t, err)
		assert.NoDirExists(t, home)

		_, _, err = execute(t, "", "--home", home, "clean", "-f")
		assert.ErrorContains(t, err, "Nothing to clean")
	})
}

func TestCatalogCmd_Run(t *testing.T) {
	t.Parallel()

	t.Run("YAML", func(t *testing.T) {
		t.Parallel()
		stdout, _, err := execute(t, "", "catalog")
		require.NoError(t, err)
		assert.Contains(t, stdout, "catalog_version: 2024.10.1")
		assert.Contains(t, stdout, "service: light.turn_on")
	})

	t.Run("JSON", func(t *testing.T) {
		t.Parallel()
		stdout, _, err := execute(t, "", "catalog", "--format", "json")
		require.NoError(t, err)

		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
		assert.Equal(t, "2024.10.1", doc["catalog_version"])
	})

	t.Run("Schema", func(t *testing.T) {
		t.Parallel()
		stdout, _, err := execute(t, "", "catalog", "--schema")
		require.NoError(t, err)
		assert.Contains(t, stdout, `"catalog_version"`)
		assert.Contains(t, stdout, "draft/2020-12")
	})

	t.Run("Extended", func(t *testing.T) {
		t.Parallel()
		ext := writeFile(t, t.TempDir(), "extra.yaml", "catalog_version: \"local\"\neffects:\n  - {service: humidifier.turn_on, state: \"on\"}\n")
		stdout, _, err := execute(t, "", "--extend-catalog", ext, "catalog", "--format", "json")
		require.NoError(t, err)
		assert.Contains(t, stdout, `"2024.10.1+local"`)
		assert.Contains(t, stdout, `"humidifier.turn_on"`)
	})

	t.Run("CatalogAndExtendExclusive", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		a := writeFile(t, dir, "a.yaml", "catalog_version: a\n")
		b := writeFile(t, dir, "b.yaml", "catalog_version: b\n")
		_, _, err := execute(t, "", "--catalog", a, "--extend-catalog", b, "catalog")
		assert.Error(t, err)
	})
}

func TestWatchCmd(t *testing.T) {
	t.Parallel()

	g, _, stderr := testGlobals(t, "")
	in := writeFile(t, t.TempDir(), "automations.yaml", circularAutomations)
	c := &WatchCmd{In: in, Debounce: 50 * time.Millisecond, Store: true}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.watch(ctx, g) }()

	require.Eventually(t, func() bool {
		return strings.Contains(stderr.String(), "1 findings")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Contains(t, stderr.String(), "Watching "+in)
	assert.Contains(t, stderr.String(), "Watch mode stopped.")
	assert.DirExists(t, g.StorePath())
}

func TestWatchCmd_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, (&WatchCmd{In: "."}).Validate())
	assert.Error(t, (&WatchCmd{In: "-"}).Validate())
	assert.Error(t, (&WatchCmd{In: ".", Debounce: -time.Second}).Validate())
}

func TestServeCmd_Recorder(t *testing.T) {
	t.Parallel()

	g, _, _ := testGlobals(t, "")
	path := filepath.Join(t.TempDir(), "haeca.prom")
	c := &ServeCmd{In: "automations.yaml", MetricsFile: path}

	reg := metrics.NewRegistry()
	c.recorder(reg, g)(nil, os.ErrNotExist)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `haeca_runs_total{status="error"} 1`)
}

func TestGlobals_Logger(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	tests := []struct {
		name    string
		globals Globals
		enabled slog.Level
		off     slog.Level
	}{
		{"Default", Globals{}, slog.LevelWarn, slog.LevelInfo},
		{"Verbose", Globals{Verbose: true}, slog.LevelDebug, slog.LevelDebug - 1},
		{"Quiet", Globals{Quiet: true}, slog.LevelError, slog.LevelWarn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := tt.globals
			g.stderr = &bytes.Buffer{}
			logger := g.Logger()
			assert.True(t, logger.Enabled(ctx, tt.enabled))
			assert.False(t, logger.Enabled(ctx, tt.off))
		})
	}
}

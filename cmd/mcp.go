package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Benny93/haeca-go/internal/ingestion"
	"github.com/Benny93/haeca-go/internal/metrics"
	"github.com/Benny93/haeca-go/mcp"
)

// MCPCmd starts the MCP server.
type MCPCmd struct{}

// Run executes the mcp command.
func (c *MCPCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	cat, err := g.LoadCatalog()
	if err != nil {
		return err
	}
	store, err := g.OpenStore(false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	server := mcp.NewServer(store, mcp.Options{Catalog: cat, Logger: g.Logger()})

	// Note: No output to stdout - MCP server uses stdio for JSON-RPC only
	return server.Run(ctx)
}

// ServeCmd starts the MCP server and re-analyzes the input on change, so
// the tools always see the current automations.
type ServeCmd struct {
	In          string        `name:"in" env:"HAECA_IN" help:"automations.yaml or config directory to watch; empty serves the store as is"`
	Debounce    time.Duration `default:"500ms" help:"Quiet period before re-analyzing" validate:"gte=0"`
	MetricsFile string        `help:"Rewrite Prometheus textfile-collector metrics after every run" env:"HAECA_METRICS_FILE" type:"path"`
}

// Validate implements kong's validation hook.
func (c *ServeCmd) Validate() error {
	return validate.Struct(c)
}

// Run executes the serve command.
func (c *ServeCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	cat, err := g.LoadCatalog()
	if err != nil {
		return err
	}
	store, err := g.OpenStore(false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	logger := g.Logger()
	reg := metrics.NewRegistry()
	server := mcp.NewServer(store, mcp.Options{Catalog: cat, Metrics: reg, Logger: logger})

	if c.In != "" {
		fmt.Fprintf(g.stderr, "Starting MCP server, watching %s...\n", c.In)

		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()

		opts := ingestion.PipelineOptions{Catalog: cat, Store: store, Embeddings: true, Logger: logger}
		go func() {
			err := ingestion.WatchConfig(watchCtx, c.In, c.Debounce, opts, c.recorder(reg, g))
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("watch stopped", "error", err)
			}
		}()
	} else {
		fmt.Fprintln(g.stderr, "Starting MCP server...")
	}

	return server.Run(ctx)
}

// recorder feeds watch runs into the metrics registry.
func (c *ServeCmd) recorder(reg *metrics.Registry, g *Globals) ingestion.RunHandler {
	logger := g.Logger()
	return func(out *ingestion.Outcome, err error) {
		reg.RecordRun(out, err)
		if err != nil {
			logger.Warn("analysis failed", "input", c.In, "error", err)
		}
		if c.MetricsFile == "" {
			return
		}
		if werr := reg.WriteTextfile(c.MetricsFile); werr != nil {
			logger.Warn("writing metrics failed", "file", c.MetricsFile, "error", werr)
		}
	}
}

// SetupCmd configures MCP for various AI clients.
type SetupCmd struct {
	Qwen     bool   `help:"Configure for Qwen CLI"`
	Claude   bool   `help:"Configure for Claude Code"`
	Cursor   bool   `help:"Configure for Cursor"`
	Global   bool   `help:"Create global configuration instead of a project-local one"`
	In       string `help:"Automations to watch from the configured server (passed as serve --in)"`
	Format   string `help:"Output format (json|text)" enum:"json,text" default:"json"`
	FilePath string `help:"Custom directory for the configuration file" type:"path"`
}

// Run executes the setup command.
func (c *SetupCmd) Run(g *Globals) error {
	if c.Format != "json" && c.Format != "text" {
		return fmt.Errorf("invalid format: %s (must be json or text)", c.Format)
	}

	config := generateServerConfig(c.In)

	var clients []string
	for _, sel := range []struct {
		name string
		on   bool
	}{{"qwen", c.Qwen}, {"claude", c.Claude}, {"cursor", c.Cursor}} {
		if sel.on {
			clients = append(clients, sel.name)
		}
	}
	if len(clients) == 0 {
		// No client selected: print the snippet to paste.
		content, err := renderConfig(config, c.Format)
		if err != nil {
			return err
		}
		g.printf("%s", content)
		return nil
	}

	for _, client := range clients {
		path, err := c.configPath(client)
		if err != nil {
			return err
		}
		if err := writeConfig(path, config, c.Format); err != nil {
			return err
		}
		g.successf("✓ Created %s MCP config at %s\n", client, path)
	}
	return nil
}

func (c *SetupCmd) configPath(client string) (string, error) {
	switch {
	case c.FilePath != "":
		return filepath.Join(c.FilePath, "mcp.json"), nil
	case c.Global:
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locating home directory: %w", err)
		}
		return filepath.Join(homeDir, getClientConfigDir(client), "global", "mcp.json"), nil
	default:
		return getLocalConfigPath(".", client), nil
	}
}

// generateServerConfig is the mcpServers entry that launches haeca-go.
func generateServerConfig(in string) map[string]any {
	args := []string{"serve"}
	if in != "" {
		args = append(args, "--in", in)
	}
	return map[string]any{
		"mcpServers": map[string]any{
			"haeca-go": map[string]any{
				"command": "haeca-go",
				"args":    args,
			},
		},
	}
}

// Path helpers

func getLocalConfigPath(basePath, client string) string {
	return filepath.Join(basePath, getClientConfigDir(client), "mcp.json")
}

func getClientConfigDir(client string) string {
	switch client {
	case "claude":
		return ".claude"
	case "cursor":
		return ".cursor"
	default:
		return ".qwen"
	}
}

func renderConfig(config map[string]any, format string) ([]byte, error) {
	if format == "json" {
		content, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling JSON: %w", err)
		}
		return append(content, '\n'), nil
	}

	var sb strings.Builder
	sb.WriteString("# MCP Configuration for haeca-go\n")
	sb.WriteString("# Generated by haeca-go setup\n\n")
	for key, value := range config {
		fmt.Fprintf(&sb, "%s: %s\n", key, toJSON(value))
	}
	return []byte(sb.String()), nil
}

func writeConfig(configPath string, config map[string]any, format string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	content, err := renderConfig(config, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, content, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Package cmd provides CLI command implementations for haeca-go.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/go-playground/validator/v10"

	"github.com/Benny93/haeca-go/internal/catalog"
	"github.com/Benny93/haeca-go/internal/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

// validate checks command options after kong has parsed them.
var validate = validator.New()

// Globals are the flags shared by every command.
type Globals struct {
	Verbose bool `short:"v" help:"Enable debug logging" env:"HAECA_VERBOSE" xor:"verbosity"`
	Quiet   bool `short:"q" help:"Suppress non-essential output" env:"HAECA_QUIET" xor:"verbosity"`

	Home          string `help:"Directory holding the analysis store" default:".haeca" env:"HAECA_HOME" type:"path"`
	CatalogFile   string `name:"catalog" help:"Catalog document (YAML or JSON) replacing the built-in catalog" env:"HAECA_CATALOG" type:"path" xor:"catalog"`
	ExtendCatalog string `help:"Catalog document merged into the built-in catalog" env:"HAECA_EXTEND_CATALOG" type:"path" xor:"catalog"`

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Logger returns the structured logger for the selected verbosity. It
// writes text records to stderr.
func (g *Globals) Logger() *slog.Logger {
	level := slog.LevelWarn
	switch {
	case g.Verbose:
		level = slog.LevelDebug
	case g.Quiet:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(g.stderr, &slog.HandlerOptions{Level: level}))
}

// LoadCatalog returns the effective catalog: the built-in one, a
// replacement, or the built-in one extended by a document.
func (g *Globals) LoadCatalog() (*catalog.Catalog, error) {
	switch {
	case g.CatalogFile != "":
		cat, err := catalog.Load(g.CatalogFile)
		if err != nil {
			return nil, fmt.Errorf("loading catalog: %w", err)
		}
		return cat, nil
	case g.ExtendCatalog != "":
		extra, err := catalog.LoadDocument(g.ExtendCatalog)
		if err != nil {
			return nil, fmt.Errorf("loading catalog extension: %w", err)
		}
		cat, err := catalog.New(catalog.Merge(catalog.DefaultDocument(), extra))
		if err != nil {
			return nil, fmt.Errorf("merging catalog: %w", err)
		}
		return cat, nil
	default:
		return catalog.Default(), nil
	}
}

// StorePath is the badger directory inside Home.
func (g *Globals) StorePath() string {
	return filepath.Join(g.Home, "badger")
}

// OpenStore opens the analysis store. A read-only open fails when no
// analysis has been stored yet.
func (g *Globals) OpenStore(readOnly bool) (*storage.BadgerBackend, error) {
	dbPath := g.StorePath()
	if readOnly {
		if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no analysis store at %s. Run 'haeca-go analyze --store' first", g.Home)
		}
	} else if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	store := storage.NewBadgerBackend()
	if err := store.Initialize(dbPath, readOnly); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return store, nil
}

// printf writes user-facing output to stdout.
func (g *Globals) printf(format string, args ...any) {
	fmt.Fprintf(g.stdout, format, args...)
}

// notef writes progress and summaries to stderr unless --quiet is set.
func (g *Globals) notef(format string, args ...any) {
	if g.Quiet {
		return
	}
	fmt.Fprintf(g.stderr, format, args...)
}

// successf is notef in green.
func (g *Globals) successf(format string, args ...any) {
	if g.Quiet {
		return
	}
	color.New(color.FgGreen).Fprintf(g.stderr, format, args...)
}

// warnf is notef in yellow.
func (g *Globals) warnf(format string, args ...any) {
	if g.Quiet {
		return
	}
	color.New(color.FgYellow).Fprintf(g.stderr, format, args...)
}

// signalContext is cancelled on SIGINT or SIGTERM for graceful shutdown.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func toJSON(v any) string {
	bytes, _ := json.MarshalIndent(v, "", "  ")
	return string(bytes)
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	// Commands
	Analyze AnalyzeCmd `cmd:"" help:"Analyze automations for redundancy, inconsistency and circularity"`
	Watch   WatchCmd   `cmd:"" help:"Re-analyze whenever automations change"`
	Catalog CatalogCmd `cmd:"" help:"Print the effective effect and conflict catalog"`
	Query   QueryCmd   `cmd:"" help:"Search events and actions of the latest stored run"`
	Trace   TraceCmd   `cmd:"" help:"Follow the flow graph from an event or action"`
	Status  StatusCmd  `cmd:"" help:"Show the latest stored run"`
	List    ListCmd    `cmd:"" help:"List stored runs"`
	Clean   CleanCmd   `cmd:"" help:"Delete the analysis store"`
	MCP     MCPCmd     `cmd:"" name:"mcp" help:"Start MCP server (stdio transport)"`
	Serve   ServeCmd   `cmd:"" help:"Start MCP server and keep the store current with watch mode"`
	Setup   SetupCmd   `cmd:"" help:"Configure MCP for Claude Code / Cursor / Qwen"`
}

// NewCLI creates a new CLI instance wired to the process's standard streams.
func NewCLI() *CLI {
	c := &CLI{}
	c.stdin, c.stdout, c.stderr = os.Stdin, os.Stdout, os.Stderr
	return c
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("haeca-go"),
		kong.Description("Static conflict analysis for Home Assistant automations"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Configuration(kong.JSON, "~/.haeca-go.json", "./.haeca-go.json"),
		kong.Vars{
			"version": Version,
		},
		kong.Writers(c.stdout, c.stderr),
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kongCtx.Run(&c.Globals)
}

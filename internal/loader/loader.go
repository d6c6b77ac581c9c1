// Package loader reads Home Assistant automation documents.
//
// It understands the YAML dialect Home Assistant uses: multi-document
// streams, the !secret / !input / !env_var tags and the !include family,
// and the three ways automations are laid out in a file (a bare list, an
// automation: key, or a single automation mapping).
package loader

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Benny93/haeca-go/internal/rules"
)

// maxIncludeDepth bounds nested !include resolution.
const maxIncludeDepth = 8

// Options controls document decoding.
type Options struct {
	// BaseDir is the directory !include paths are resolved against.
	BaseDir string

	// ResolveIncludes enables the !include family. When false, include tags
	// decode as their path string.
	ResolveIncludes bool

	Logger *slog.Logger
}

// Source identifies one input file.
type Source struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Result is the outcome of loading one or more documents.
type Result struct {
	Automations []*rules.Automation
	Sources     []Source

	// Skipped counts top-level items that were not automations.
	Skipped int
}

// Merge appends other's automations and sources to r, re-indexing the
// appended automations so rule_<i> names stay unique.
func (r *Result) Merge(other *Result) {
	offset := len(r.Automations) + r.Skipped
	for _, a := range other.Automations {
		a.Index += offset
		r.Automations = append(r.Automations, a)
	}
	r.Sources = append(r.Sources, other.Sources...)
	r.Skipped += other.Skipped
}

// ReadFile loads automations from one file, resolving includes relative to
// the file's directory.
func ReadFile(path string, logger *slog.Logger) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(data, path, Options{
		BaseDir:         filepath.Dir(path),
		ResolveIncludes: true,
		Logger:          logger,
	})
}

// Read loads automations from a stream, e.g. stdin.
func Read(r io.Reader, name string, logger *slog.Logger) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	cwd, _ := os.Getwd()
	return Parse(data, name, Options{BaseDir: cwd, ResolveIncludes: true, Logger: logger})
}

// Parse decodes a document stream and extracts its automations.
func Parse(data []byte, name string, opts Options) (*Result, error) {
	docs, err := Decode(data, opts)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}

	sum := sha256.Sum256(data)
	res := &Result{Sources: []Source{{Path: name, SHA256: hex.EncodeToString(sum[:])}}}

	for i, item := range Extract(docs) {
		a, err := rules.Decode(item, i)
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.Debug("skipping item", "source", name, "index", i, "error", err)
			}
			res.Skipped++
			continue
		}
		a.Source = name
		res.Automations = append(res.Automations, a)
	}
	return res, nil
}

// Decode decodes every document of a YAML stream into generic values.
// Empty documents are dropped.
func Decode(data []byte, opts Options) ([]any, error) {
	return decodeStream(data, opts, 0, map[string]bool{})
}

func decodeStream(data []byte, opts Options, depth int, visiting map[string]bool) ([]any, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []any
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := resolveTags(&node, opts, depth, visiting); err != nil {
			return nil, err
		}
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		if v != nil {
			docs = append(docs, v)
		}
	}
	return docs, nil
}

// resolveTags rewrites Home Assistant custom tags in place.
func resolveTags(n *yaml.Node, opts Options, depth int, visiting map[string]bool) error {
	switch n.Tag {
	case "!secret", "!input", "!env_var":
		n.Tag = "!!str"
		return nil
	case "!include", "!include_dir_list", "!include_dir_merge_list",
		"!include_dir_named", "!include_dir_merge_named":
		if !opts.ResolveIncludes {
			n.Tag = "!!str"
			return nil
		}
		return resolveInclude(n, opts, depth, visiting)
	}
	for _, child := range n.Content {
		if err := resolveTags(child, opts, depth, visiting); err != nil {
			return err
		}
	}
	return nil
}

func resolveInclude(n *yaml.Node, opts Options, depth int, visiting map[string]bool) error {
	if depth >= maxIncludeDepth {
		return fmt.Errorf("line %d: includes nested deeper than %d", n.Line, maxIncludeDepth)
	}
	target := filepath.Join(opts.BaseDir, strings.TrimSpace(n.Value))

	switch n.Tag {
	case "!include":
		root, err := includeFile(target, opts, depth, visiting)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		*n = *root
		return nil
	}

	files, err := yamlFiles(target)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}

	var out yaml.Node
	if n.Tag == "!include_dir_list" || n.Tag == "!include_dir_merge_list" {
		out = yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	} else {
		out = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}

	for _, file := range files {
		root, err := includeFile(file, opts, depth, visiting)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		switch n.Tag {
		case "!include_dir_list":
			out.Content = append(out.Content, root)
		case "!include_dir_merge_list":
			if root.Kind == yaml.SequenceNode {
				out.Content = append(out.Content, root.Content...)
			}
		case "!include_dir_named":
			key := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
			out.Content = append(out.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, root)
		case "!include_dir_merge_named":
			if root.Kind == yaml.MappingNode {
				out.Content = append(out.Content, root.Content...)
			}
		}
	}
	*n = out
	return nil
}

// includeFile parses an included file and returns its root node. An empty
// file yields a null node.
func includeFile(path string, opts Options, depth int, visiting map[string]bool) (*yaml.Node, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if visiting[abs] {
		return nil, fmt.Errorf("include cycle at %s", filepath.Base(path))
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("including %s: %w", filepath.Base(path), err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("including %s: %w", filepath.Base(path), err)
	}
	if len(doc.Content) == 0 {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null"}, nil
	}

	sub := opts
	sub.BaseDir = filepath.Dir(path)
	root := doc.Content[0]
	if err := resolveTags(root, sub, depth+1, visiting); err != nil {
		return nil, err
	}
	return root, nil
}

// yamlFiles lists the YAML files below dir, recursively, in lexical order.
func yamlFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsYAML(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", filepath.Base(dir), err)
	}
	sort.Strings(files)
	return files, nil
}

// IsYAML reports whether path has a YAML extension.
func IsYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Extract flattens decoded documents into candidate automation values: list
// documents contribute their items, mappings with an automation key (or
// package-style "automation <name>" keys) contribute that key's items, and
// any other mapping is taken as a single automation.
func Extract(docs []any) []any {
	var items []any
	for _, doc := range docs {
		switch d := doc.(type) {
		case []any:
			items = append(items, d...)
		case map[string]any:
			keys := automationKeys(d)
			if len(keys) == 0 {
				items = append(items, d)
				continue
			}
			for _, k := range keys {
				switch v := d[k].(type) {
				case []any:
					items = append(items, v...)
				case nil:
				default:
					items = append(items, v)
				}
			}
		default:
			items = append(items, doc)
		}
	}
	return items
}

func automationKeys(m map[string]any) []string {
	var keys []string
	for k := range m {
		if k == "automation" || strings.HasPrefix(k, "automation ") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

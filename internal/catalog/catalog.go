// Package catalog provides the static lookup data the analyzer reasons with.
//
// Two tables make up a catalog: the effect table (which service call leaves
// its target entity in which state) and the conflict table (which pairs of
// service signatures oppose each other on the same entity). Catalogs are
// plain data, loaded once and read-only afterwards, so a single instance can
// be shared by concurrent analyses.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// Catalog is an immutable, indexed view of a Document.
type Catalog struct {
	version   string
	effects   map[string]Effect
	conflicts map[string]map[string]struct{}
}

// New indexes a validated document.
func New(doc *Document) (*Catalog, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	c := &Catalog{
		version:   doc.Version,
		effects:   make(map[string]Effect, len(doc.Effects)),
		conflicts: make(map[string]map[string]struct{}, len(doc.Conflicts)*2),
	}
	for _, e := range doc.Effects {
		c.effects[e.Service] = e
	}
	for _, p := range doc.Conflicts {
		c.addConflict(p.A, p.B)
		c.addConflict(p.B, p.A)
	}
	return c, nil
}

func (c *Catalog) addConflict(a, b string) {
	if c.conflicts[a] == nil {
		c.conflicts[a] = make(map[string]struct{})
	}
	c.conflicts[a][b] = struct{}{}
}

// DefaultDocument returns a fresh copy of the built-in catalog document.
func DefaultDocument() *Document {
	doc, err := ParseDocument(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return doc
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(DefaultDocument())
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog document from disk and indexes it.
func Load(path string) (*Catalog, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return New(doc)
}

// Merge overlays extra on top of base: effects with the same service are
// replaced, conflict pairs are added. The version becomes "base+extra".
func Merge(base, extra *Document) *Document {
	out := &Document{Version: base.Version}
	if extra.Version != "" && extra.Version != base.Version {
		out.Version = base.Version + "+" + extra.Version
	}

	override := make(map[string]Effect, len(extra.Effects))
	for _, e := range extra.Effects {
		override[e.Service] = e
	}
	for _, e := range base.Effects {
		if o, ok := override[e.Service]; ok {
			out.Effects = append(out.Effects, o)
			delete(override, e.Service)
			continue
		}
		out.Effects = append(out.Effects, e)
	}
	for _, e := range extra.Effects {
		if _, ok := override[e.Service]; ok {
			out.Effects = append(out.Effects, e)
		}
	}

	seen := make(map[[2]string]struct{})
	for _, list := range [][]ConflictPair{base.Conflicts, extra.Conflicts} {
		for _, p := range list {
			key := pairKey(p.A, p.B)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out.Conflicts = append(out.Conflicts, p)
		}
	}
	return out
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// Version returns the catalog version string.
func (c *Catalog) Version() string {
	return c.version
}

// Effect returns the effect entry registered for a service.
func (c *Catalog) Effect(service string) (Effect, bool) {
	e, ok := c.effects[service]
	return e, ok
}

// Resolve maps a service call to its canonical signature and resulting
// state. data is the call's service data, consulted for qualified services.
// ok is false when the service has no effect entry; the signature is then
// the service name itself and the state is empty.
func (c *Catalog) Resolve(service string, data map[string]string) (signature, state string, ok bool) {
	e, found := c.effects[service]
	if !found {
		return service, "", false
	}
	if e.Qualifier != "" {
		if q := data[e.Qualifier]; q != "" && !strings.Contains(q, "{{") {
			return service + ":" + q, q, true
		}
	}
	return service, e.State, e.State != ""
}

// Conflicts reports whether two signatures are listed as opposing. The
// relation is symmetric regardless of the direction it was declared in.
func (c *Catalog) Conflicts(a, b string) bool {
	if a == b {
		return false
	}
	_, ok := c.conflicts[a][b]
	return ok
}

// Document renders the catalog back to its document form, sorted by service.
func (c *Catalog) Document() *Document {
	doc := &Document{Version: c.version}
	for _, e := range c.effects {
		doc.Effects = append(doc.Effects, e)
	}
	sort.Slice(doc.Effects, func(i, j int) bool { return doc.Effects[i].Service < doc.Effects[j].Service })

	seen := make(map[[2]string]struct{})
	for a, targets := range c.conflicts {
		for b := range targets {
			key := pairKey(a, b)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			doc.Conflicts = append(doc.Conflicts, ConflictPair{A: key[0], B: key[1]})
		}
	}
	sort.Slice(doc.Conflicts, func(i, j int) bool {
		if doc.Conflicts[i].A != doc.Conflicts[j].A {
			return doc.Conflicts[i].A < doc.Conflicts[j].A
		}
		return doc.Conflicts[i].B < doc.Conflicts[j].B
	})
	return doc
}

// Size returns the number of effect entries and conflict pairs.
func (c *Catalog) Size() (effects, conflicts int) {
	n := 0
	for _, targets := range c.conflicts {
		n += len(targets)
	}
	return len(c.effects), n / 2
}

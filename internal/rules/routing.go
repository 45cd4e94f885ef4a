package rules

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agentic-research/stacgen/api"
	"github.com/bmatcuk/doublestar/v4"
)

// Table is the loaded routing table.
type Table struct {
	Path    string
	Entries []api.RoutingEntry
	byType  map[string]int
}

// LoadTable reads a routing file. Rule-set paths are resolved relative to
// the routing file's directory.
func LoadTable(path string) (*Table, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &api.ConfigError{Source: path, Err: err}
	}
	records, err := readTable(abs, api.RoutingColumns)
	if err != nil {
		return nil, err
	}

	t := &Table{Path: abs, byType: make(map[string]int, len(records))}
	dir := filepath.Dir(abs)
	for _, rec := range records {
		where := fmt.Sprintf("%s:%d", abs, rec.line)
		entry := api.RoutingEntry{
			ProductType: rec.values["product_type"],
			Pattern:     rec.values["pattern"],
		}
		if entry.ProductType == "" {
			return nil, api.Configf(where, "empty product_type column")
		}
		if _, dup := t.byType[entry.ProductType]; dup {
			return nil, api.Configf(where, "duplicate product type %q", entry.ProductType)
		}
		if entry.Pattern != "" && !doublestar.ValidatePattern(entry.Pattern) {
			return nil, api.Configf(where, "invalid pattern %q", entry.Pattern)
		}
		for _, rel := range strings.Split(rec.values["rule_sets"], ",") {
			rel = strings.TrimSpace(rel)
			if rel == "" {
				continue
			}
			if !filepath.IsAbs(rel) {
				rel = filepath.Join(dir, rel)
			}
			entry.RuleSets = append(entry.RuleSets, rel)
		}
		if len(entry.RuleSets) == 0 {
			return nil, api.Configf(where, "product type %q has no rule sets", entry.ProductType)
		}
		t.byType[entry.ProductType] = len(t.Entries)
		t.Entries = append(t.Entries, entry)
	}
	return t, nil
}

// NewTable builds a table from entries, mainly for tests and embedding.
func NewTable(entries ...api.RoutingEntry) *Table {
	t := &Table{Entries: entries, byType: make(map[string]int, len(entries))}
	for i, e := range entries {
		t.byType[e.ProductType] = i
	}
	return t
}

// Lookup returns the entry for productType.
func (t *Table) Lookup(productType string) (api.RoutingEntry, bool) {
	i, ok := t.byType[productType]
	if !ok {
		return api.RoutingEntry{}, false
	}
	return t.Entries[i], true
}

// Types lists the product types in table order.
func (t *Table) Types() []string {
	out := make([]string, len(t.Entries))
	for i, e := range t.Entries {
		out[i] = e.ProductType
	}
	return out
}

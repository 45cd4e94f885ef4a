package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/agentic-research/stacgen/api"
	"github.com/bmatcuk/doublestar/v4"
)

// ErrUnknownProduct is returned by Detect when no routing pattern matches.
// It is a per-product failure, not a configuration error.
var ErrUnknownProduct = errors.New("no routing entry matches product")

// Router selects rule sets for product types.
type Router struct {
	table  *Table
	cache  *Cache
	logger *slog.Logger
}

// NewRouter builds a router over table. A nil cache gets a private one.
func NewRouter(table *Table, cache *Cache, logger *slog.Logger) *Router {
	if cache == nil {
		cache = NewCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{table: table, cache: cache, logger: logger}
}

// Table returns the routing table.
func (r *Router) Table() *Table { return r.table }

// SelectRuleSet returns the merged rule set for productType. An unknown
// product type is a configuration error.
func (r *Router) SelectRuleSet(productType string) (*RuleSet, error) {
	entry, ok := r.table.Lookup(productType)
	if !ok {
		return nil, api.Configf(r.table.Path, "unknown product type %q", productType)
	}
	sets := make([]*RuleSet, 0, len(entry.RuleSets))
	for _, path := range entry.RuleSets {
		rs, err := r.cache.Get(path)
		if err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}
	if len(sets) == 1 {
		return sets[0], nil
	}
	return Merge(sets...), nil
}

// Detect returns the product type of the first entry whose pattern matches
// the product's base name.
func (r *Router) Detect(productPath string) (string, error) {
	name := filepath.Base(strings.TrimRight(productPath, `/\`))
	for _, e := range r.table.Entries {
		if e.Pattern == "" {
			continue
		}
		ok, err := doublestar.Match(e.Pattern, name)
		if err != nil {
			return "", api.Configf(r.table.Path, "pattern %q: %v", e.Pattern, err)
		}
		if ok {
			r.logger.Debug("product type detected",
				slog.String("product", name),
				slog.String("type", e.ProductType))
			return e.ProductType, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, ErrUnknownProduct)
}

// CheckAll loads every rule set the table references and returns all
// problems joined. It is meant to run before any product is processed.
func (r *Router) CheckAll() error {
	var errs []error
	for _, t := range r.table.Types() {
		rs, err := r.SelectRuleSet(t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.logger.Debug("rule set ok",
			slog.String("type", t),
			slog.Int("rules", rs.Len()))
	}
	return errors.Join(errs...)
}

// Package template turns a resolved attribute map into a STAC Item.
//
// A template reads required keys with attr.Required and optional keys with
// attr.Optional; an absent optional key means the field is omitted.
package template

import (
	"sort"

	"github.com/agentic-research/stacgen/api"
	"github.com/agentic-research/stacgen/internal/attr"
	"github.com/agentic-research/stacgen/internal/ingest"
	"github.com/agentic-research/stacgen/internal/stac"
)

// Template builds the Item of one product. product may be nil when the
// attributes did not come from a filesystem.
type Template interface {
	Name() string
	Build(attrs attr.Map, product *ingest.Product) (*stac.Item, error)
}

var registry = map[string]Template{}

func register(t Template) {
	registry[t.Name()] = t
}

func init() {
	register(Generic{})
}

// Lookup returns the template registered under name.
func Lookup(name string) (Template, error) {
	if name == "" {
		name = GenericName
	}
	t, ok := registry[name]
	if !ok {
		return nil, api.Configf("template", "unknown template %q (known: %v)", name, Names())
	}
	return t, nil
}

// Names returns the registered template names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

package ingest

import (
	"sync"

	"github.com/agentic-research/stacgen/api"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// JSONWalker implements Walker for JSON documents with JSONPath selectors.
type JSONWalker struct{}

func NewJSONWalker() *JSONWalker {
	return &JSONWalker{}
}

// jsonPaths caches parsed selectors; a jp.Expr is read-only once parsed.
var jsonPaths sync.Map

func parseJSONPath(selector string) (jp.Expr, error) {
	if x, ok := jsonPaths.Load(selector); ok {
		return x.(jp.Expr), nil
	}
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, err
	}
	jsonPaths.Store(selector, x)
	return x, nil
}

// ParseJSON decodes JSON metadata into the generic tree JSONWalker queries.
// Integers decode as int64 and other numbers as float64.
func ParseJSON(content []byte) (any, error) {
	return oj.Parse(content)
}

// Query implements Walker.
func (w *JSONWalker) Query(root any, selector string) ([]any, error) {
	x, err := parseJSONPath(selector)
	if err != nil {
		return nil, api.Configf("jsonpath", "invalid selector %q: %v", selector, err)
	}

	var out []any
	for _, r := range x.Get(root) {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

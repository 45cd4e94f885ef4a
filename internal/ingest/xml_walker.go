package ingest

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/agentic-research/stacgen/api"
	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// XMLWalker implements Walker for XML documents with XPath 1.0 selectors.
// Prefixed name tests (gml:posList) match on the prefix used in the document.
type XMLWalker struct{}

func NewXMLWalker() *XMLWalker {
	return &XMLWalker{}
}

// xpaths holds a *sync.Pool of compiled expressions per selector text. A
// compiled xpath.Expr carries evaluation state and must not be shared
// between goroutines.
var xpaths sync.Map

// compileXPath returns a compiled selector and the func that gives it back.
func compileXPath(selector string) (*xpath.Expr, func(), error) {
	if p, ok := xpaths.Load(selector); ok {
		pool := p.(*sync.Pool)
		e := pool.Get().(*xpath.Expr)
		return e, func() { pool.Put(e) }, nil
	}
	e, err := xpath.Compile(selector)
	if err != nil {
		return nil, nil, err
	}
	p, _ := xpaths.LoadOrStore(selector, &sync.Pool{New: func() any {
		return xpath.MustCompile(selector)
	}})
	pool := p.(*sync.Pool)
	return e, func() { pool.Put(e) }, nil
}

// ParseXML parses an XML manifest.
func ParseXML(content []byte) (*xmlquery.Node, error) {
	return xmlquery.Parse(bytes.NewReader(content))
}

// Query implements Walker. Node-set results yield the string value of
// every node; number, string and boolean results yield one value.
func (w *XMLWalker) Query(root any, selector string) ([]any, error) {
	doc, ok := root.(*xmlquery.Node)
	if !ok {
		return nil, fmt.Errorf("xml walker: unexpected root %T", root)
	}
	expr, release, err := compileXPath(selector)
	if err != nil {
		return nil, api.Configf("xpath", "invalid selector %q: %v", selector, err)
	}
	defer release()

	switch v := expr.Evaluate(xmlquery.CreateXPathNavigator(doc)).(type) {
	case *xpath.NodeIterator:
		var out []any
		for v.MoveNext() {
			out = append(out, v.Current().Value())
		}
		return out, nil
	case float64, string, bool:
		return []any{v}, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("xpath %q: unexpected result %T", selector, v)
	}
}

package ingest

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/agentic-research/stacgen/api"
)

// Document is one parsed product file. It implements expr.Source.
type Document struct {
	name   string
	kind   Kind
	root   any
	walker Walker
}

// LoadDocument parses content, choosing the format from its leading bytes
// and falling back to the file extension.
func LoadDocument(name string, content []byte) (*Document, error) {
	d := &Document{name: name, kind: sniff(name, content)}
	var err error
	switch d.kind {
	case KindXML:
		d.root, err = ParseXML(content)
		d.walker = NewXMLWalker()
	case KindJSON:
		d.root, err = ParseJSON(content)
		d.walker = NewJSONWalker()
	case KindNetCDF:
		d.root, err = ParseNetCDF(content)
		d.walker = NewNetCDFWalker()
	default:
		return nil, fmt.Errorf("%s: unsupported document format", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s %s: %w", d.kind, name, err)
	}
	return d, nil
}

// Name returns the product-relative path of the document.
func (d *Document) Name() string { return d.name }

// Kind returns the document format.
func (d *Document) Kind() Kind { return d.kind }

// Query evaluates selector. No match is a *api.MissError, one match is
// returned as is and several as a []any.
func (d *Document) Query(selector string) (any, error) {
	matches, err := d.walker.Query(d.root, selector)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, &api.MissError{File: d.name, Query: selector}
	case 1:
		return matches[0], nil
	}
	return matches, nil
}

func sniff(name string, content []byte) Kind {
	if bytes.HasPrefix(content, []byte("CDF")) || bytes.HasPrefix(content, []byte("\x89HDF")) {
		return KindNetCDF
	}
	trimmed := bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	trimmed = bytes.TrimLeft(trimmed, " \t\r\n")
	if len(trimmed) > 0 {
		switch trimmed[0] {
		case '<':
			return KindXML
		case '{', '[':
			return KindJSON
		}
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".xml", ".safe", ".xfdu":
		return KindXML
	case ".json", ".geojson":
		return KindJSON
	case ".nc", ".cdf":
		return KindNetCDF
	}
	return KindUnknown
}

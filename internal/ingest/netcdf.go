package ingest

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/agentic-research/stacgen/api"
	"github.com/batchatco/go-native-netcdf/netcdf"
	ncapi "github.com/batchatco/go-native-netcdf/netcdf/api"
)

// NetCDFHeader is the metadata of a NetCDF file, classic (CDF-1, CDF-2,
// CDF-5) or NetCDF-4/HDF5. Variable data is never read.
type NetCDFHeader struct {
	Format     string // "cdf" or "hdf5"
	Dimensions map[string]int64
	Globals    map[string]any
	Variables  map[string]map[string]any
}

// nopCloser lets an in-memory document stand in for an open file.
type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

// ParseNetCDF decodes the dimensions and attributes of the root group.
// Character attributes decode as strings, single numbers as int64 or
// float64, and numeric arrays as []any.
func ParseNetCDF(content []byte) (*NetCDFHeader, error) {
	g, err := netcdf.New(nopCloser{bytes.NewReader(content)})
	if err != nil {
		return nil, fmt.Errorf("netcdf: %w", err)
	}
	defer g.Close()

	h := &NetCDFHeader{
		Format:     "cdf",
		Dimensions: map[string]int64{},
		Globals:    attributeMap(g.Attributes()),
		Variables:  map[string]map[string]any{},
	}
	if bytes.HasPrefix(content, []byte("\x89HDF")) {
		h.Format = "hdf5"
	}
	for _, name := range g.ListDimensions() {
		if n, ok := g.GetDimension(name); ok {
			h.Dimensions[name] = int64(n)
		}
	}
	for _, name := range g.ListVariables() {
		vg, err := g.GetVarGetter(name)
		if err != nil {
			return nil, fmt.Errorf("netcdf: variable %s: %w", name, err)
		}
		h.Variables[name] = attributeMap(vg.Attributes())
	}
	return h, nil
}

func attributeMap(am ncapi.AttributeMap) map[string]any {
	out := map[string]any{}
	if am == nil {
		return out
	}
	for _, k := range am.Keys() {
		if v, ok := am.Get(k); ok {
			out[k] = ncValue(v)
		}
	}
	return out
}

// ncValue flattens the reader's typed values into the kinds the coercion
// layer understands. One-element arrays collapse to their element.
func ncValue(v any) any {
	if s, ok := v.(string); ok {
		return strings.TrimRight(s, "\x00")
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if u := rv.Uint(); u <= 1<<63-1 {
			return int64(u)
		}
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Slice, reflect.Array:
		if rv.Len() == 1 {
			return ncValue(rv.Index(0).Interface())
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = ncValue(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

// NetCDFWalker implements Walker over a NetCDFHeader. Selectors are
// ":attr" for global attributes, "var:attr" for variable attributes and
// "dim/<name>" for dimension lengths.
type NetCDFWalker struct{}

func NewNetCDFWalker() *NetCDFWalker {
	return &NetCDFWalker{}
}

func checkSelector(selector string) error {
	if dim, ok := strings.CutPrefix(selector, "dim/"); ok {
		if dim == "" {
			return api.Configf("netcdf", "invalid selector %q, empty dimension name", selector)
		}
		return nil
	}
	if _, attr, ok := strings.Cut(selector, ":"); !ok || attr == "" {
		return api.Configf("netcdf", "invalid selector %q, want var:attr, :attr or dim/<name>", selector)
	}
	return nil
}

// Query implements Walker.
func (w *NetCDFWalker) Query(root any, selector string) ([]any, error) {
	h, ok := root.(*NetCDFHeader)
	if !ok {
		return nil, fmt.Errorf("netcdf walker: unexpected root %T", root)
	}
	if err := checkSelector(selector); err != nil {
		return nil, err
	}
	if dim, ok := strings.CutPrefix(selector, "dim/"); ok {
		if n, found := h.Dimensions[dim]; found {
			return []any{n}, nil
		}
		return nil, nil
	}
	variable, attr, _ := strings.Cut(selector, ":")
	attrs := h.Globals
	if variable != "" {
		attrs = h.Variables[variable]
	}
	v, found := attrs[attr]
	if !found {
		return nil, nil
	}
	return []any{v}, nil
}

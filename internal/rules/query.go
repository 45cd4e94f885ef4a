package rules

import (
	"fmt"
	"path"
	"strings"

	"github.com/agentic-research/stacgen/internal/expr"
	"github.com/antchfx/xpath"
	"github.com/ohler55/ojg/jp"
)

// Query languages a rule's document can be addressed in.
const (
	langXPath    = "xpath"
	langJSONPath = "jsonpath"
	langNetCDF   = "netcdf"
)

// queryLanguage picks the language of q from the rule's file reference, and
// from the query's own syntax when the extension says nothing. An empty
// result means the query is checked only when the document is loaded.
func queryLanguage(file, q string) string {
	switch strings.ToLower(path.Ext(file)) {
	case ".xml", ".safe", ".xfdu", ".xsd", ".gml":
		return langXPath
	case ".json", ".geojson":
		return langJSONPath
	case ".nc", ".cdf", ".nc4":
		return langNetCDF
	}
	switch {
	case strings.HasPrefix(q, "$"):
		return langJSONPath
	case strings.HasPrefix(q, "/"):
		return langXPath
	}
	return ""
}

// checkQueries compiles every document query of e in the language of file.
func checkQueries(e *expr.Expr, file string) error {
	for _, q := range e.Queries() {
		lang := queryLanguage(file, q)
		var err error
		switch lang {
		case langXPath:
			_, err = xpath.Compile(q)
		case langJSONPath:
			_, err = jp.ParseString(q)
		case langNetCDF:
			err = checkNetCDFSelector(q)
		}
		if err != nil {
			return fmt.Errorf("invalid %s query %q: %w", lang, q, err)
		}
	}
	return nil
}

func checkNetCDFSelector(q string) error {
	if dim, ok := strings.CutPrefix(q, "dim/"); ok {
		if dim == "" {
			return fmt.Errorf("empty dimension name")
		}
		return nil
	}
	if _, attr, ok := strings.Cut(q, ":"); !ok || attr == "" {
		return fmt.Errorf("want var:attr, :attr or dim/<name>")
	}
	return nil
}

package ingest

// Walker abstracts over the query languages of product documents: XPath for
// XML manifests, JSONPath for JSON metadata and var:attr lookups for NetCDF.
type Walker interface {
	// Query executes selector against root and returns every match.
	// An invalid selector is a *api.ConfigError; no match is an empty slice.
	Query(root any, selector string) ([]any, error)
}

// Kind identifies the parsed form of a document.
type Kind int

const (
	KindUnknown Kind = iota
	KindXML
	KindJSON
	KindNetCDF
)

func (k Kind) String() string {
	switch k {
	case KindXML:
		return "xml"
	case KindJSON:
		return "json"
	case KindNetCDF:
		return "netcdf"
	}
	return "unknown"
}

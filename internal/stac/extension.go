package stac

import (
	"sort"
	"strings"

	"github.com/agentic-research/stacgen/api"
)

// Extension is one of the STAC extensions an Item can declare.
type Extension int

const (
	EO Extension = iota + 1
	Projection
	Raster
	SAR
	Satellite
	View
	File
	Processing
	Product
	Storage
	Authentication
	Alternate
	EOPF
	Timestamps
	Grid
	MGRS
	Scientific
	Classification
)

type extensionInfo struct {
	name   string
	prefix string
	schema string
}

var extensionTable = map[Extension]extensionInfo{
	EO:             {"eo", "eo", "https://stac-extensions.github.io/eo/v2.0.0/schema.json"},
	Projection:     {"proj", "proj", "https://stac-extensions.github.io/projection/v2.0.0/schema.json"},
	Raster:         {"raster", "raster", "https://stac-extensions.github.io/raster/v2.0.0/schema.json"},
	SAR:            {"sar", "sar", "https://stac-extensions.github.io/sar/v1.2.0/schema.json"},
	Satellite:      {"sat", "sat", "https://stac-extensions.github.io/sat/v1.1.0/schema.json"},
	View:           {"view", "view", "https://stac-extensions.github.io/view/v1.0.0/schema.json"},
	File:           {"file", "file", "https://stac-extensions.github.io/file/v2.1.0/schema.json"},
	Processing:     {"processing", "processing", "https://stac-extensions.github.io/processing/v1.2.0/schema.json"},
	Product:        {"product", "product", "https://stac-extensions.github.io/product/v1.0.0/schema.json"},
	Storage:        {"storage", "storage", "https://stac-extensions.github.io/storage/v2.0.0/schema.json"},
	Authentication: {"auth", "auth", "https://stac-extensions.github.io/authentication/v1.1.0/schema.json"},
	Alternate:      {"alternate", "alternate", "https://stac-extensions.github.io/alternate-assets/v1.2.0/schema.json"},
	EOPF:           {"eopf", "eopf", "https://cs-si.github.io/eopf-stac-extension/v1.2.0/schema.json"},
	Timestamps:     {"timestamps", "", "https://stac-extensions.github.io/timestamps/v1.1.0/schema.json"},
	Grid:           {"grid", "grid", "https://stac-extensions.github.io/grid/v1.1.0/schema.json"},
	MGRS:           {"mgrs", "mgrs", "https://stac-extensions.github.io/mgrs/v1.0.0/schema.json"},
	Scientific:     {"sci", "sci", "https://stac-extensions.github.io/scientific/v1.0.0/schema.json"},
	Classification: {"classification", "classification", "https://stac-extensions.github.io/classification/v2.0.0/schema.json"},
}

var (
	extensionsByName   = map[string]Extension{}
	extensionsByPrefix = map[string]Extension{}
)

// timestampFields are the un-prefixed fields owned by the timestamps extension.
var timestampFields = map[string]bool{"published": true, "expires": true, "unpublished": true}

func init() {
	for ext, info := range extensionTable {
		extensionsByName[info.name] = ext
		if info.prefix != "" {
			extensionsByPrefix[info.prefix] = ext
		}
	}
}

func (e Extension) String() string {
	if info, ok := extensionTable[e]; ok {
		return info.name
	}
	return "unknown"
}

// SchemaURL returns the canonical JSON schema URL of the extension.
func (e Extension) SchemaURL() string {
	return extensionTable[e].schema
}

// ParseExtension returns the extension with the given short name, such as
// "proj" or "eo". Unknown names are configuration errors.
func ParseExtension(name string) (Extension, error) {
	ext, ok := extensionsByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, api.Configf("extensions", "unknown extension %q (known: %s)", name, strings.Join(ExtensionNames(), ", "))
	}
	return ext, nil
}

// ExtensionNames lists the known extension names, sorted.
func ExtensionNames() []string {
	names := make([]string, 0, len(extensionsByName))
	for name := range extensionsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fieldExtension returns the extension that owns a field. namespaced is
// false for plain fields, which need no extension.
func fieldExtension(key string) (ext Extension, namespaced, known bool) {
	if timestampFields[key] {
		return Timestamps, true, true
	}
	prefix, _, ok := strings.Cut(key, ":")
	if !ok {
		return 0, false, false
	}
	ext, known = extensionsByPrefix[prefix]
	return ext, true, known
}

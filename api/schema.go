package api

import (
	"fmt"
	"strings"
)

// StaticFile is the sentinel value of the file column for literal rows.
// The expression of a static row is the value itself; no file is read.
const StaticFile = "static"

// AssetPrefix starts every asset-scoped output key: asset:<NAME>[:<suffix>].
const AssetPrefix = "asset:"

// Reserved asset suffixes synthesized by the resolution engine.
const (
	AssetChecksumSuffix = "checksum"
	AssetSizeSuffix     = "size"
)

// RuleColumns is the mandatory header of a rule-set file, in order.
var RuleColumns = []string{"metadata", "file", "mappings", "datatype"}

// RoutingColumns is the mandatory header of the routing table, in order.
var RoutingColumns = []string{"product_type", "pattern", "rule_sets"}

// MappingRule is one row of a rule set.
type MappingRule struct {
	// Metadata is the output key, flat or asset-scoped.
	Metadata string `json:"metadata"`
	// File is a product-relative file name, a glob, or StaticFile.
	File string `json:"file"`
	// Mappings is the expression evaluated against File (or the literal for static rows).
	Mappings string `json:"mappings"`
	// Datatype is the declared type of the produced value.
	Datatype Datatype `json:"datatype"`
}

// Static reports whether the rule is a literal row.
func (r MappingRule) Static() bool {
	return r.File == StaticFile
}

func (r MappingRule) String() string {
	return fmt.Sprintf("%s <- %s[%s] as %s", r.Metadata, r.File, r.Mappings, r.Datatype)
}

// RoutingEntry maps a product type to the rule-set files that describe it.
type RoutingEntry struct {
	ProductType string   `json:"product_type"`
	Pattern     string   `json:"pattern,omitempty"` // doublestar glob on the product base name
	RuleSets    []string `json:"rule_sets"`         // resolved to absolute paths by the loader
}

// Datatype is the closed set of declared rule value types.
type Datatype string

const (
	String         Datatype = "String"
	Int64          Datatype = "Int64"
	Double         Datatype = "Double"
	Boolean        Datatype = "Boolean"
	DateTimeOffset Datatype = "DateTimeOffset"
	StringList     Datatype = "StringList"
	Int64List      Datatype = "Int64List"
	DoubleList     Datatype = "DoubleList"
	JSON           Datatype = "Json"
	WKT            Datatype = "Wkt"
)

var datatypes = map[string]Datatype{
	string(String):         String,
	string(Int64):          Int64,
	string(Double):         Double,
	string(Boolean):        Boolean,
	string(DateTimeOffset): DateTimeOffset,
	string(StringList):     StringList,
	string(Int64List):      Int64List,
	string(DoubleList):     DoubleList,
	string(JSON):           JSON,
	string(WKT):            WKT,
}

// ParseDatatype returns the Datatype named s. Matching is exact.
func ParseDatatype(s string) (Datatype, bool) {
	dt, ok := datatypes[strings.TrimSpace(s)]
	return dt, ok
}

// IsList reports whether values of this type are slices.
func (d Datatype) IsList() bool {
	switch d {
	case StringList, Int64List, DoubleList:
		return true
	}
	return false
}

// Elem returns the element type of a list datatype, or d itself.
func (d Datatype) Elem() Datatype {
	switch d {
	case StringList:
		return String
	case Int64List:
		return Int64
	case DoubleList:
		return Double
	}
	return d
}

// AssetKey splits an asset-scoped key into its asset name and suffix.
// "asset:B01" yields ("B01", "", true); "asset:B01:proj:code" yields ("B01", "proj:code", true).
func AssetKey(key string) (name, suffix string, ok bool) {
	rest, found := strings.CutPrefix(key, AssetPrefix)
	if !found {
		return "", "", false
	}
	name, suffix, _ = strings.Cut(rest, ":")
	return name, suffix, true
}

// ValidateKey checks the output key grammar. Flat keys are free-form but
// non-empty; asset keys need a name and no empty segments.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("empty output key")
	}
	name, suffix, ok := AssetKey(key)
	if !ok {
		return nil
	}
	if name == "" {
		return fmt.Errorf("asset key %q has no asset name", key)
	}
	if strings.HasSuffix(key, ":") {
		return fmt.Errorf("asset key %q ends with an empty segment", key)
	}
	for _, seg := range strings.Split(suffix, ":") {
		if suffix != "" && seg == "" {
			return fmt.Errorf("asset key %q has an empty segment", key)
		}
	}
	return nil
}

// Package stac assembles STAC Items from typed assets, links and extensions.
//
// An Item is built by a template and then frozen by Generate, which
// derives geometry and bbox, merges framework defaults, resolves asset
// hrefs against an optional remote context and checks that every
// namespaced field has its extension declared.
package stac

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentic-research/stacgen/api"
)

// Version is the STAC specification version of generated Items.
const Version = "1.1.0"

// Software is reported in processing:software. It is set at build time.
var Software = map[string]string{"stacgen": "dev"}

// Expires is the default far-future expires timestamp.
const Expires = "9999-12-31T23:59:59Z"

// DefaultRemoteTimeout bounds the remote-context lookup of one Item.
const DefaultRemoteTimeout = 30 * time.Second

// ErrGenerated is returned by mutators once an Item has been generated.
var ErrGenerated = errors.New("item already generated")

// structuralKeys cannot be set as properties.
var structuralKeys = map[string]bool{
	"id": true, "type": true, "bbox": true, "geometry": true, "links": true, "assets": true,
	"stac_version": true, "stac_extensions": true, "collection": true,
	"datetime": true, "start_datetime": true, "end_datetime": true,
}

type namedAsset struct {
	key   string
	asset Asset
}

// Item is a STAC Item under construction.
type Item struct {
	// Path is the product location handed to the remote provider.
	Path string
	// Remote is optional. When set it is called once, on the first Generate.
	Remote        RemoteProvider
	RemoteTimeout time.Duration

	Collection  string
	ID          string
	Coordinates string // WKT

	Datetime      time.Time
	StartDatetime time.Time
	EndDatetime   time.Time

	// ProductAssetName names the product asset added with a remote
	// context. Defaults to "product".
	ProductAssetName string

	links      []Link
	assets     []namedAsset
	assetKeys  map[string]bool
	extensions map[Extension]bool
	properties map[string]any

	doc *Document

	// remote lookup outcome, kept across Generate calls
	looked    bool
	remote    *RemoteContext
	remoteErr error
}

// NewItem returns an empty Item with the given identifier.
func NewItem(id string) *Item {
	return &Item{
		ID:         id,
		assetKeys:  map[string]bool{},
		extensions: map[Extension]bool{},
		properties: map[string]any{},
	}
}

func (it *Item) init() {
	if it.assetKeys == nil {
		it.assetKeys = map[string]bool{}
	}
	if it.extensions == nil {
		it.extensions = map[Extension]bool{}
	}
	if it.properties == nil {
		it.properties = map[string]any{}
	}
}

// Generated reports whether Generate has completed.
func (it *Item) Generated() bool { return it.doc != nil }

// AddAsset appends an asset. Keys are unique.
func (it *Item) AddAsset(key string, a Asset) error {
	if it.Generated() {
		return ErrGenerated
	}
	it.init()
	if key == "" {
		return &api.AssemblyError{Item: it.ID, Field: "assets", Msg: "empty asset key"}
	}
	if it.assetKeys[key] {
		return &api.AssemblyError{Item: it.ID, Field: "assets." + key, Msg: "duplicate asset key"}
	}
	it.assetKeys[key] = true
	it.assets = append(it.assets, namedAsset{key: key, asset: a})
	return nil
}

// Asset returns the asset stored under key.
func (it *Item) Asset(key string) (Asset, bool) {
	for _, na := range it.assets {
		if na.key == key {
			return na.asset, true
		}
	}
	return nil, false
}

// AddLink appends a link.
func (it *Item) AddLink(l Link) error {
	if it.Generated() {
		return ErrGenerated
	}
	it.links = append(it.links, l)
	return nil
}

// AddExtension declares extensions.
func (it *Item) AddExtension(exts ...Extension) error {
	if it.Generated() {
		return ErrGenerated
	}
	it.init()
	for _, e := range exts {
		if _, ok := extensionTable[e]; !ok {
			return api.Configf("extensions", "unknown extension %d", int(e))
		}
		it.extensions[e] = true
	}
	return nil
}

// SetProperty sets an Item property. Structural keys are rejected.
func (it *Item) SetProperty(key string, v any) error {
	if it.Generated() {
		return ErrGenerated
	}
	it.init()
	if structuralKeys[key] {
		return &api.AssemblyError{Item: it.ID, Field: key, Msg: "is a structural field and cannot be set as a property"}
	}
	it.properties[key] = v
	return nil
}

// Property returns a property set by the caller.
func (it *Item) Property(key string) (any, bool) {
	v, ok := it.properties[key]
	return v, ok
}

func (it *Item) assemblyErr(field, format string, args ...any) error {
	return &api.AssemblyError{Item: it.ID, Field: field, Msg: fmt.Sprintf(format, args...)}
}

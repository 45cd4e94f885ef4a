package template

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/agentic-research/stacgen/api"
	"github.com/agentic-research/stacgen/internal/attr"
	"github.com/agentic-research/stacgen/internal/ingest"
	"github.com/agentic-research/stacgen/internal/stac"
)

// GenericName is the name of the attribute-driven template.
const GenericName = "generic"

// Keys read by the generic template. Every other flat key becomes a property.
const (
	KeyID            = "id"
	KeyCollection    = "collection"
	KeyDatetime      = "datetime"
	KeyStartDatetime = "start_datetime"
	KeyEndDatetime   = "end_datetime"
	KeyCoordinates   = "coordinates"
	KeyExtensions    = "extensions"
	KeyProductAsset  = "product_asset"

	// LinkPrefix keys become links: link:license, link:traceability,
	// link:via, link:related, link:collection, link:zipper.
	LinkPrefix = "link:"
)

var consumed = map[string]bool{
	KeyID: true, KeyCollection: true, KeyDatetime: true, KeyStartDatetime: true,
	KeyEndDatetime: true, KeyCoordinates: true, KeyExtensions: true, KeyProductAsset: true,
}

// Generic maps attribute keys straight onto Item fields. It is what a
// mission needs when its rule set already produces STAC-shaped keys.
type Generic struct{}

func (Generic) Name() string { return GenericName }

func (g Generic) Build(attrs attr.Map, product *ingest.Product) (*stac.Item, error) {
	id, err := attr.Required[string](attrs, KeyID)
	if err != nil {
		return nil, g.fail("", err)
	}
	it := stac.NewItem(id)
	if product != nil {
		it.Path = product.Path()
	}

	if it.Collection, _, err = attr.Optional[string](attrs, KeyCollection); err != nil {
		return nil, g.fail(id, err)
	}
	if it.Coordinates, _, err = attr.Optional[string](attrs, KeyCoordinates); err != nil {
		return nil, g.fail(id, err)
	}
	if it.ProductAssetName, _, err = attr.Optional[string](attrs, KeyProductAsset); err != nil {
		return nil, g.fail(id, err)
	}
	if err := g.times(it, attrs); err != nil {
		return nil, err
	}

	names, _, err := attr.Optional[[]string](attrs, KeyExtensions)
	if err != nil {
		return nil, g.fail(id, err)
	}
	for _, name := range names {
		ext, err := stac.ParseExtension(name)
		if err != nil {
			return nil, err
		}
		if err := it.AddExtension(ext); err != nil {
			return nil, err
		}
	}

	for _, key := range attrs.Flat() {
		if consumed[key] {
			continue
		}
		v, _ := attrs.Get(key)
		if rel, ok := strings.CutPrefix(key, LinkPrefix); ok {
			if err := g.link(it, rel, v); err != nil {
				return nil, err
			}
			continue
		}
		if err := it.SetProperty(key, property(v)); err != nil {
			return nil, err
		}
	}

	for _, name := range attrs.AssetNames() {
		a, err := g.asset(id, name, attrs, product)
		if err != nil {
			return nil, err
		}
		if err := it.AddAsset(name, a); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (g Generic) fail(id string, err error) error {
	return fmt.Errorf("template %s: item %q: %w", GenericName, id, err)
}

func (g Generic) times(it *stac.Item, attrs attr.Map) error {
	var err error
	var ok bool
	if it.Datetime, ok, err = attr.Optional[time.Time](attrs, KeyDatetime); err != nil {
		return g.fail(it.ID, err)
	}
	if ok {
		// start and end are optional next to a datetime
		if it.StartDatetime, _, err = attr.Optional[time.Time](attrs, KeyStartDatetime); err != nil {
			return g.fail(it.ID, err)
		}
		if it.EndDatetime, _, err = attr.Optional[time.Time](attrs, KeyEndDatetime); err != nil {
			return g.fail(it.ID, err)
		}
		return nil
	}
	if it.StartDatetime, err = attr.Required[time.Time](attrs, KeyStartDatetime); err != nil {
		return g.fail(it.ID, err)
	}
	if it.EndDatetime, err = attr.Required[time.Time](attrs, KeyEndDatetime); err != nil {
		return g.fail(it.ID, err)
	}
	return nil
}

func (g Generic) link(it *stac.Item, rel string, v any) error {
	href, ok := v.(string)
	if !ok {
		if b, isBool := v.(bool); isBool && rel == "zipper" {
			if !b {
				return nil
			}
			return it.AddLink(stac.Zipper{})
		}
		return &api.AssemblyError{Item: it.ID, Field: LinkPrefix + rel, Msg: fmt.Sprintf("holds %T, want a href", v)}
	}
	var l stac.Link
	switch rel {
	case "license":
		l = stac.License{Href: href}
	case "traceability":
		l = stac.Traceability{Href: href}
	case "via":
		l = stac.Via{Href: href}
	case "related":
		l = stac.Related{Href: href}
	case "collection":
		l = stac.CollectionLink{Href: href}
	case "zipper":
		l = stac.Zipper{Href: href}
	default:
		return &api.AssemblyError{Item: it.ID, Field: LinkPrefix + rel, Msg: "unknown link relation"}
	}
	return it.AddLink(l)
}

// property renders attribute values that have no JSON form of their own.
func property(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func (g Generic) asset(id, name string, attrs attr.Map, product *ingest.Product) (stac.Asset, error) {
	field := api.AssetPrefix + name
	p, err := attr.Required[string](attrs, field)
	if err != nil {
		return nil, g.fail(id, err)
	}
	if product != nil && !strings.HasPrefix(p, "s3://") {
		p = product.Rel(p)
	}
	base := stac.AssetBase{Path: p}
	kind := ""

	sub := attrs.Asset(name)
	for _, k := range sortedKeys(sub) {
		v := sub[k]
		bad := func() error {
			return &api.AssemblyError{Item: id, Field: field + ":" + k, Msg: fmt.Sprintf("unexpected %T", v)}
		}
		switch k {
		case "title", "description", api.AssetChecksumSuffix, "https_href", "type":
			s, ok := v.(string)
			if !ok {
				return nil, bad()
			}
			switch k {
			case "title":
				base.Title = s
			case "description":
				base.Description = s
			case api.AssetChecksumSuffix:
				base.Checksum = s
			case "type":
				kind = s
			default:
				mode, err := stac.ParseHrefMode(s)
				if err != nil {
					return nil, &api.AssemblyError{Item: id, Field: field + ":" + k, Msg: err.Error()}
				}
				base.HTTPSHref = mode
			}
		case api.AssetSizeSuffix:
			n, ok := v.(int64)
			if !ok {
				return nil, bad()
			}
			base.Size = &n
		case "roles":
			switch r := v.(type) {
			case []string:
				base.Roles = r
			case string:
				base.Roles = []string{r}
			default:
				return nil, bad()
			}
		default:
			if !strings.Contains(k, ":") {
				return nil, &api.AssemblyError{Item: id, Field: field + ":" + k, Msg: "unknown asset field"}
			}
			if base.Extra == nil {
				base.Extra = map[string]any{}
			}
			base.Extra[k] = property(v)
		}
	}

	a, err := variant(name, kind, base)
	if err != nil {
		return nil, &api.AssemblyError{Item: id, Field: field, Msg: err.Error()}
	}
	return a, nil
}

// variant picks the asset type from an explicit kind, or from the file
// extension and asset name.
func variant(name, kind string, base stac.AssetBase) (stac.Asset, error) {
	if kind == "" {
		kind = guessKind(name, base.Path)
	}
	switch strings.ToLower(kind) {
	case "cog", "geotiff":
		return &stac.COG{AssetBase: base}, nil
	case "jp2", "jpeg2000":
		return &stac.JPEG2000{AssetBase: base}, nil
	case "netcdf":
		return &stac.NetCDF{AssetBase: base}, nil
	case "xml":
		return &stac.XML{AssetBase: base}, nil
	case "json":
		return &stac.JSON{AssetBase: base}, nil
	case "thumbnail":
		return &stac.Thumbnail{AssetBase: base}, nil
	case "manifest":
		return &stac.ProductManifest{AssetBase: base}, nil
	case "product":
		return &stac.ProductAsset{AssetBase: base}, nil
	case "":
		return nil, fmt.Errorf("cannot tell the asset type of %q; set a type sub-key", base.Path)
	}
	return nil, fmt.Errorf("unknown asset type %q", kind)
}

func guessKind(name, p string) string {
	lname := strings.ToLower(name)
	ext := strings.ToLower(path.Ext(p))
	switch ext {
	case ".tif", ".tiff":
		return "cog"
	case ".jp2":
		return "jp2"
	case ".nc":
		return "netcdf"
	case ".safe":
		return "manifest"
	case ".xml":
		if strings.Contains(lname, "manifest") {
			return "manifest"
		}
		return "xml"
	case ".json":
		return "json"
	case ".png", ".jpg", ".jpeg":
		return "thumbnail"
	case ".zip":
		return "product"
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package stac

import "fmt"

// Link is a sealed union of link variants. The relation type is implied by
// the variant.
type Link interface {
	link()
}

// Traceability points at the product's trace in a traceability service.
type Traceability struct{ Href string }

// Zipper points at the zipped product. An empty Href uses the zipper URL
// of the remote context.
type Zipper struct{ Href string }

// License points at the data license.
type License struct{ Href, Title string }

// Related points at any related resource.
type Related struct{ Href, Title, MediaType string }

// Via points at the source the Item was derived from.
type Via struct{ Href, Title, MediaType string }

// CollectionLink points at the parent collection document.
type CollectionLink struct{ Href string }

func (Traceability) link()   {}
func (Zipper) link()         {}
func (License) link()        {}
func (Related) link()        {}
func (Via) link()            {}
func (CollectionLink) link() {}

// linkObject renders a link. rc may be nil.
func linkObject(l Link, rc *RemoteContext) (map[string]any, error) {
	obj := map[string]any{}
	switch v := l.(type) {
	case Traceability:
		obj["rel"] = "version-history"
		obj["href"] = v.Href
		obj["type"] = "application/json"
		obj["title"] = "Product history record from the traceability service"
	case Zipper:
		href := v.Href
		if href == "" {
			if rc == nil {
				return nil, fmt.Errorf("zipper link without href needs a remote context")
			}
			href = rc.ProductURL()
		}
		obj["rel"] = "enclosure"
		obj["href"] = href
		obj["type"] = "application/zip"
		obj["title"] = "Download the product archive"
	case License:
		obj["rel"] = "license"
		obj["href"] = v.Href
		setIf(obj, "title", v.Title)
	case Related:
		obj["rel"] = "related"
		obj["href"] = v.Href
		setIf(obj, "title", v.Title)
		setIf(obj, "type", v.MediaType)
	case Via:
		obj["rel"] = "via"
		obj["href"] = v.Href
		setIf(obj, "title", v.Title)
		setIf(obj, "type", v.MediaType)
	case CollectionLink:
		obj["rel"] = "collection"
		obj["href"] = v.Href
		obj["type"] = "application/json"
	default:
		panic(fmt.Sprintf("stac: unhandled link variant %T", l))
	}
	if obj["href"] == "" {
		return nil, fmt.Errorf("%s link has no href", obj["rel"])
	}
	return obj, nil
}

func setIf(obj map[string]any, key, value string) {
	if value != "" {
		obj[key] = value
	}
}

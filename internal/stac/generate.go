package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/agentic-research/stacgen/api"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// Document is a generated STAC Item. Fields marshal in STAC order.
type Document struct {
	Type           string            `json:"type"`
	StacVersion    string            `json:"stac_version"`
	StacExtensions []string          `json:"stac_extensions"`
	ID             string            `json:"id"`
	Collection     string            `json:"collection,omitempty"`
	Geometry       *geojson.Geometry `json:"geometry"`
	BBox           []float64         `json:"bbox,omitempty"`
	Properties     map[string]any    `json:"properties"`
	Links          []map[string]any  `json:"links"`
	Assets         Assets            `json:"assets"`
}

// AssetEntry is one rendered asset.
type AssetEntry struct {
	Key    string
	Fields map[string]any
}

// Assets marshals as a JSON object in insertion order.
type Assets []AssetEntry

// Get returns the fields of the asset under key.
func (a Assets) Get(key string) (map[string]any, bool) {
	for _, e := range a {
		if e.Key == key {
			return e.Fields, true
		}
	}
	return nil, false
}

func (a Assets) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Fields)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// JSON returns the indented document.
func (d *Document) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// generation is the working state of one Generate call.
type generation struct {
	it       *Item
	rc       *RemoteContext
	required map[Extension]bool
}

func (g *generation) need(exts ...Extension) {
	for _, e := range exts {
		g.required[e] = true
	}
}

// Generate freezes the Item into its STAC document. The first successful
// call is memoised; later calls return the same document. The remote
// context, if any, is looked up at most once per Item.
func (it *Item) Generate(ctx context.Context) (*Document, error) {
	if it.doc != nil {
		return it.doc, nil
	}
	it.init()
	if it.ID == "" {
		return nil, it.assemblyErr("id", "missing")
	}
	if it.Datetime.IsZero() && (it.StartDatetime.IsZero() || it.EndDatetime.IsZero()) {
		return nil, it.assemblyErr("datetime", "need datetime or both start_datetime and end_datetime")
	}

	rc, err := it.lookup(ctx)
	if err != nil {
		return nil, err
	}
	g := &generation{it: it, rc: rc, required: map[Extension]bool{}}

	doc := &Document{
		Type:        "Feature",
		StacVersion: Version,
		ID:          it.ID,
		Collection:  it.Collection,
		Links:       []map[string]any{},
		Assets:      Assets{},
	}

	if it.Coordinates != "" {
		geom, err := wkt.Unmarshal(it.Coordinates)
		if err != nil {
			return nil, it.assemblyErr("coordinates", "invalid WKT: %v", err)
		}
		doc.Geometry = geojson.NewGeometry(geom)
		doc.BBox = bbox(geom.Bound())
	}

	if doc.Properties, err = g.properties(); err != nil {
		return nil, err
	}
	for _, na := range it.assets {
		fields, err := g.asset(na.key, na.asset)
		if err != nil {
			return nil, err
		}
		doc.Assets = append(doc.Assets, AssetEntry{Key: na.key, Fields: fields})
	}
	if rc != nil && !it.hasProductAsset() {
		key := it.ProductAssetName
		if key == "" {
			key = "product"
		}
		if it.assetKeys[key] {
			return nil, it.assemblyErr("assets."+key, "name is taken; set ProductAssetName")
		}
		fields, err := g.productAsset()
		if err != nil {
			return nil, err
		}
		doc.Assets = append(doc.Assets, AssetEntry{Key: key, Fields: fields})
	}
	for i, l := range it.links {
		obj, err := linkObject(l, rc)
		if err != nil {
			return nil, it.assemblyErr("links", "link %d: %v", i, err)
		}
		doc.Links = append(doc.Links, obj)
	}

	doc.StacExtensions = g.extensionURLs()
	it.doc = doc
	return doc, nil
}

func (it *Item) lookup(ctx context.Context) (*RemoteContext, error) {
	if it.Remote == nil {
		return nil, nil
	}
	if !it.looked {
		timeout := it.RemoteTimeout
		if timeout <= 0 {
			timeout = DefaultRemoteTimeout
		}
		lctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		it.remote, it.remoteErr = it.Remote.Lookup(lctx, it.Path)
		if it.remoteErr == nil && it.remote == nil {
			it.remoteErr = errEmptyRemote
		}
		it.looked = true
	}
	if it.remoteErr != nil {
		var rerr *api.RemoteContextError
		if errors.As(it.remoteErr, &rerr) {
			return nil, rerr
		}
		return nil, &api.RemoteContextError{Product: it.Path, Err: it.remoteErr}
	}
	return it.remote, nil
}

var errEmptyRemote = errors.New("provider returned no context")

func (it *Item) hasProductAsset() bool {
	for _, na := range it.assets {
		if _, ok := na.asset.(*ProductAsset); ok {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func bbox(b orb.Bound) []float64 {
	return []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (g *generation) properties() (map[string]any, error) {
	it := g.it
	props := make(map[string]any, len(it.properties)+8)
	for _, k := range sortedKeys(it.properties) {
		v := it.properties[k]
		if structuralKeys[k] {
			return nil, it.assemblyErr(k, "is a structural field and cannot be set as a property")
		}
		if err := g.checkField("properties", k, v); err != nil {
			return nil, err
		}
		props[k] = v
	}

	if it.Datetime.IsZero() {
		props["datetime"] = nil
	} else {
		props["datetime"] = formatTime(it.Datetime)
	}
	if !it.StartDatetime.IsZero() {
		props["start_datetime"] = formatTime(it.StartDatetime)
	}
	if !it.EndDatetime.IsZero() {
		props["end_datetime"] = formatTime(it.EndDatetime)
	}

	g.setDefault(props, "processing:software", Software, Processing)
	g.setDefault(props, "expires", Expires, Timestamps)
	if rc := g.rc; rc != nil {
		if !rc.OriginDate.IsZero() {
			g.setDefault(props, "eopf:origin_datetime", formatTime(rc.OriginDate), EOPF)
		}
		g.setDefault(props, "auth:schemes", rc.authSchemes(), Authentication)
		g.setDefault(props, "storage:schemes", rc.storageSchemes(), Storage)
	}
	return props, nil
}

// setDefault sets a framework value unless the caller already set key.
func (g *generation) setDefault(props map[string]any, key string, v any, ext Extension) {
	if _, ok := props[key]; ok {
		return
	}
	props[key] = v
	g.need(ext)
}

// checkField enforces that a caller-supplied namespaced field has its
// extension declared.
func (g *generation) checkField(where, key string, v any) error {
	it := g.it
	ext, namespaced, known := fieldExtension(key)
	if !namespaced {
		return nil
	}
	if !known {
		return it.assemblyErr(where+"."+key, "unknown extension prefix")
	}
	if !it.extensions[ext] {
		return it.assemblyErr(where+"."+key, "extension %s is not declared", ext)
	}
	if key == "proj:transform" && isGDALTransform(v) {
		return it.assemblyErr(where+"."+key, "looks like a GDAL geotransform; convert it with gdal_to_affine")
	}
	return nil
}

func (g *generation) asset(key string, a Asset) (map[string]any, error) {
	it, rc := g.it, g.rc
	base := a.Base()
	where := "assets." + key
	fields := map[string]any{
		"type":  MediaType(a),
		"roles": roles(a),
	}
	setIf(fields, "title", base.Title)
	setIf(fields, "description", base.Description)

	for _, k := range sortedKeys(base.Extra) {
		v := base.Extra[k]
		switch k {
		case "href", "type", "roles", "title", "description", "alternate":
			return nil, it.assemblyErr(where+"."+k, "is set by the framework")
		}
		if err := g.checkField(where, k, v); err != nil {
			return nil, err
		}
		fields[k] = v
	}

	if base.Checksum != "" {
		sum, err := normalizeChecksum(base.Checksum)
		if err != nil {
			return nil, it.assemblyErr(where+".checksum", "%v", err)
		}
		fields["file:checksum"] = sum
		g.need(File)
	}
	if base.Size != nil {
		if *base.Size < 0 {
			return nil, it.assemblyErr(where+".size", "negative size %d", *base.Size)
		}
		fields["file:size"] = *base.Size
		g.need(File)
	}

	_, isProduct := a.(*ProductAsset)

	switch {
	case rc == nil:
		if base.Path == "" {
			return nil, it.assemblyErr(where, "missing path")
		}
		fields["href"] = base.Path
		if strings.HasPrefix(base.Path, "s3://") {
			fields["alternate"] = map[string]any{"s3": map[string]any{"href": base.Path}}
			g.need(Alternate)
		}
	case isProduct:
		fields["href"] = rc.ProductURL()
		if base.Path != "" && base.HTTPSHref == HrefNone {
			fields["href"] = base.Path
		}
		g.remoteRefs(fields, rc.S3Href(""))
	default:
		if base.Path == "" {
			return nil, it.assemblyErr(where, "missing path")
		}
		rel, s3 := g.locate(base.Path)
		if base.HTTPSHref == HrefNone {
			fields["href"] = base.Path
		} else {
			fields["href"] = rc.NodeURL(rel)
		}
		g.remoteRefs(fields, s3)
	}
	return fields, nil
}

// locate splits an asset path into its product-relative part and its
// object-store location.
func (g *generation) locate(p string) (rel, s3 string) {
	if strings.HasPrefix(p, "s3://") {
		rest := strings.TrimPrefix(p, "s3:/")
		prefix := path.Join("/", g.rc.S3Path) + "/"
		return strings.TrimPrefix(rest, prefix), p
	}
	rel = strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(p, "./")), "/")
	if name := g.rc.Name; name != "" {
		if i := strings.Index(rel, name+"/"); i >= 0 {
			rel = rel[i+len(name)+1:]
		}
	}
	return rel, g.rc.S3Href(rel)
}

func (g *generation) remoteRefs(fields map[string]any, s3 string) {
	if refs := g.rc.httpsAuthRefs(); refs != nil {
		fields["auth:refs"] = refs
	}
	fields["alternate"] = map[string]any{
		"s3": map[string]any{
			"href":         s3,
			"storage:refs": []string{StorageScheme},
			"auth:refs":    []string{AuthS3},
		},
	}
	g.need(Alternate, Authentication, Storage)
}

func (g *generation) productAsset() (map[string]any, error) {
	rc := g.rc
	p := &ProductAsset{AssetBase: AssetBase{Title: "Zipped product"}}
	if rc.Checksum != "" {
		p.Checksum = rc.Checksum
	}
	if rc.ContentLength > 0 {
		size := rc.ContentLength
		p.Size = &size
	}
	return g.asset("product", p)
}

func (g *generation) extensionURLs() []string {
	set := map[string]bool{}
	for e := range g.it.extensions {
		set[e.SchemaURL()] = true
	}
	for e := range g.required {
		set[e.SchemaURL()] = true
	}
	urls := make([]string, 0, len(set))
	for u := range set {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// isGDALTransform reports whether v has the shape of a GDAL geotransform
// (c, a, b, f, d, e) rather than affine coefficients (a, b, c, d, e, f).
func isGDALTransform(v any) bool {
	seq, ok := floats(v)
	if !ok || len(seq) < 6 {
		return false
	}
	return seq[2] == 0 && seq[4] == 0 && seq[1] > 0 && seq[5] < 0
}

func floats(v any) ([]float64, bool) {
	switch t := v.(type) {
	case []float64:
		return t, true
	case []any:
		out := make([]float64, len(t))
		for i, x := range t {
			switch n := x.(type) {
			case float64:
				out[i] = n
			case int64:
				out[i] = float64(n)
			case int:
				out[i] = float64(n)
			default:
				return nil, false
			}
		}
		return out, true
	case []int64:
		out := make([]float64, len(t))
		for i, n := range t {
			out[i] = float64(n)
		}
		return out, true
	}
	return nil, false
}

package stac

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

// HrefMode selects how an asset href is built when a remote context exists.
type HrefMode string

const (
	// HrefZipper points the asset at the zipper service. It is the default.
	HrefZipper HrefMode = "zipper"
	// HrefNone keeps the asset path as href.
	HrefNone HrefMode = "none"
)

// ParseHrefMode parses an https_href value. The empty string is HrefZipper.
func ParseHrefMode(s string) (HrefMode, error) {
	switch HrefMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", HrefZipper:
		return HrefZipper, nil
	case HrefNone:
		return HrefNone, nil
	}
	return "", fmt.Errorf("unknown https_href mode %q", s)
}

// AssetBase holds the fields every asset variant shares.
type AssetBase struct {
	// Path is product-relative, absolute, or an object-store URL (s3://).
	Path        string
	Title       string
	Description string
	Roles       []string
	// Extra holds extension fields such as proj:code or eo:bands.
	Extra map[string]any
	// Checksum is a multihash hex string or a raw 32-hex MD5 digest.
	Checksum  string
	Size      *int64
	HTTPSHref HrefMode
}

// Base returns the shared fields.
func (b *AssetBase) Base() *AssetBase { return b }

// Asset is a sealed union of asset variants.
type Asset interface {
	Base() *AssetBase
	asset()
}

// COG is a cloud-optimized GeoTIFF.
type COG struct{ AssetBase }

// JPEG2000 is a JPEG 2000 raster.
type JPEG2000 struct{ AssetBase }

// NetCDF is a NetCDF data file.
type NetCDF struct{ AssetBase }

// XML is an XML metadata file.
type XML struct{ AssetBase }

// JSON is a JSON metadata file.
type JSON struct{ AssetBase }

// Thumbnail is a quicklook image. Its media type follows the file extension.
type Thumbnail struct{ AssetBase }

// ProductManifest is the manifest describing the product bundle.
type ProductManifest struct{ AssetBase }

// ProductAsset is the whole product archive.
type ProductAsset struct{ AssetBase }

func (*COG) asset()             {}
func (*JPEG2000) asset()        {}
func (*NetCDF) asset()          {}
func (*XML) asset()             {}
func (*JSON) asset()            {}
func (*Thumbnail) asset()       {}
func (*ProductManifest) asset() {}
func (*ProductAsset) asset()    {}

// MediaType returns the IANA media type of an asset.
func MediaType(a Asset) string {
	switch v := a.(type) {
	case *COG:
		return "image/tiff; application=geotiff; profile=cloud-optimized"
	case *JPEG2000:
		return "image/jp2"
	case *NetCDF:
		return "application/netcdf"
	case *XML, *ProductManifest:
		return "application/xml"
	case *JSON:
		return "application/json"
	case *Thumbnail:
		switch strings.ToLower(path.Ext(v.Path)) {
		case ".jpg", ".jpeg":
			return "image/jpeg"
		case ".tif", ".tiff":
			return "image/tiff"
		}
		return "image/png"
	case *ProductAsset:
		return "application/zip"
	}
	panic(fmt.Sprintf("stac: unhandled asset variant %T", a))
}

func defaultRoles(a Asset) []string {
	switch a.(type) {
	case *COG, *JPEG2000, *NetCDF:
		return []string{"data"}
	case *XML, *JSON, *ProductManifest:
		return []string{"metadata"}
	case *Thumbnail:
		return []string{"thumbnail", "overview"}
	case *ProductAsset:
		return []string{"data", "archive"}
	}
	return nil
}

// roles returns the caller roles, or the variant defaults when none are given.
func roles(a Asset) []string {
	if r := a.Base().Roles; len(r) > 0 {
		return append([]string(nil), r...)
	}
	return defaultRoles(a)
}

// multihashMD5 is the multihash prefix of an MD5 digest: varint code 0xd5
// followed by the digest length 0x10.
const multihashMD5 = "d50110"

// normalizeChecksum turns a raw MD5 hex digest into its multihash form and
// validates anything else as a multihash hex string.
func normalizeChecksum(sum string) (string, error) {
	sum = strings.ToLower(strings.TrimSpace(sum))
	raw, err := hex.DecodeString(sum)
	if err != nil {
		return "", fmt.Errorf("checksum %q is not hex", sum)
	}
	if len(raw) == md5.Size {
		return multihashMD5 + sum, nil
	}
	_, n := binary.Uvarint(raw)
	if n <= 0 {
		return "", fmt.Errorf("checksum %q is neither MD5 nor a multihash", sum)
	}
	length, m := binary.Uvarint(raw[n:])
	if m <= 0 || length == 0 || int(length) != len(raw)-n-m {
		return "", fmt.Errorf("checksum %q is neither MD5 nor a multihash", sum)
	}
	return sum, nil
}

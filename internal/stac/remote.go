package stac

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// Authentication and storage scheme names referenced by remote assets.
const (
	AuthOIDC      = "oidc"
	AuthS3        = "s3"
	StorageScheme = "cdse-s3"
)

// RemoteContext is what the product catalogue knows about a product.
type RemoteContext struct {
	// ID is the catalogue identifier used in zipper URLs.
	ID   string
	Name string
	// S3Path is the object-store prefix of the product, such as
	// /eodata/Sentinel-2/MSI/L1C/2024/01/01/<name>.
	S3Path        string
	OriginDate    time.Time
	ContentLength int64
	// Checksum is the hex MD5 of the zipped product, if known.
	Checksum string

	ZipperURL  string
	OIDCURL    string
	S3Platform string
}

// RemoteProvider looks up the remote context of a product.
type RemoteProvider interface {
	Lookup(ctx context.Context, productPath string) (*RemoteContext, error)
}

// RemoteFunc adapts a function to RemoteProvider.
type RemoteFunc func(ctx context.Context, productPath string) (*RemoteContext, error)

func (f RemoteFunc) Lookup(ctx context.Context, productPath string) (*RemoteContext, error) {
	return f(ctx, productPath)
}

// ProductURL returns the zipper URL of the whole product archive.
func (rc *RemoteContext) ProductURL() string {
	return fmt.Sprintf("%s/odata/v1/Products(%s)/$value", strings.TrimRight(rc.ZipperURL, "/"), rc.ID)
}

// NodeURL returns the zipper URL of one file inside the product.
func (rc *RemoteContext) NodeURL(rel string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/odata/v1/Products(%s)/Nodes(%s)", strings.TrimRight(rc.ZipperURL, "/"), rc.ID, rc.Name)
	for _, seg := range strings.Split(strings.Trim(rel, "/"), "/") {
		if seg == "" || seg == "." {
			continue
		}
		fmt.Fprintf(&b, "/Nodes(%s)", seg)
	}
	b.WriteString("/$value")
	return b.String()
}

// S3Href returns the object-store location of rel, or of the product when
// rel is empty.
func (rc *RemoteContext) S3Href(rel string) string {
	return "s3:/" + path.Join("/", rc.S3Path, rel)
}

func (rc *RemoteContext) authSchemes() map[string]any {
	schemes := map[string]any{
		AuthS3: map[string]any{"type": "s3"},
	}
	if rc.OIDCURL != "" {
		schemes[AuthOIDC] = map[string]any{
			"type":             "openIdConnect",
			"openIdConnectUrl": rc.OIDCURL,
		}
	}
	return schemes
}

func (rc *RemoteContext) storageSchemes() map[string]any {
	scheme := map[string]any{
		"type":           "custom-s3",
		"requester_pays": false,
	}
	if rc.S3Platform != "" {
		scheme["platform"] = rc.S3Platform
	}
	return map[string]any{StorageScheme: scheme}
}

func (rc *RemoteContext) httpsAuthRefs() []string {
	if rc.OIDCURL == "" {
		return nil
	}
	return []string{AuthOIDC}
}

package ingest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// Product is a bundle of files rooted at one directory. Paths handed to and
// returned by a Product are slash-separated and relative to its root.
type Product struct {
	path string
	fs   billy.Filesystem
	// only is set when the product is a single file.
	only string
}

// OpenProduct opens a product directory, or a single-file product.
func OpenProduct(p string) (*Product, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return &Product{path: abs, fs: osfs.New(abs)}, nil
	}
	return &Product{path: abs, fs: osfs.New(filepath.Dir(abs)), only: filepath.Base(abs)}, nil
}

// NewProduct wraps an existing filesystem, such as memfs in tests.
func NewProduct(p string, fs billy.Filesystem) *Product {
	return &Product{path: p, fs: fs}
}

// Path returns the product location as given.
func (p *Product) Path() string { return p.path }

// Name returns the base name of the product.
func (p *Product) Name() string {
	return filepath.Base(strings.TrimRight(p.path, `/\`))
}

// FS returns the underlying filesystem.
func (p *Product) FS() billy.Filesystem { return p.fs }

// Files lists every regular file of the product in lexical order.
func (p *Product) Files() ([]string, error) {
	if p.only != "" {
		return []string{p.only}, nil
	}
	var out []string
	if err := p.walk("", &out); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (p *Product) walk(dir string, out *[]string) error {
	target := dir
	if target == "" {
		target = "/"
	}
	infos, err := p.fs.ReadDir(target)
	if err != nil {
		return fmt.Errorf("read %s: %w", target, err)
	}
	for _, info := range infos {
		rel := path.Join(dir, info.Name())
		if info.IsDir() {
			if err := p.walk(rel, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, rel)
	}
	return nil
}

// Resolve maps a rule file reference to a product file. A literal name
// must exist; a glob yields its first match in lexical order.
func (p *Product) Resolve(ref string) (string, bool, error) {
	ref = cleanRef(ref)
	if !isGlob(ref) {
		return p.stat(ref)
	}
	files, err := p.Files()
	if err != nil {
		return "", false, err
	}
	return firstMatch(files, ref)
}

func (p *Product) stat(ref string) (string, bool, error) {
	info, err := p.Stat(ref)
	if err != nil || info.IsDir() {
		return "", false, nil
	}
	return ref, true, nil
}

func cleanRef(ref string) string {
	return strings.TrimPrefix(filepath.ToSlash(ref), "./")
}

func isGlob(ref string) bool { return strings.ContainsAny(ref, "*?[{") }

// firstMatch returns the first of files, which are sorted, matching pattern.
func firstMatch(files []string, pattern string) (string, bool, error) {
	for _, f := range files {
		ok, err := doublestar.Match(pattern, f)
		if err != nil {
			return "", false, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		if ok {
			return f, true, nil
		}
	}
	return "", false, nil
}

// Rel turns an asset reference into a product-relative path. References
// already inside the product directory lose that prefix.
func (p *Product) Rel(ref string) string {
	ref = filepath.ToSlash(ref)
	root := filepath.ToSlash(p.path)
	if rest, ok := strings.CutPrefix(ref, root+"/"); ok {
		return rest
	}
	return strings.TrimPrefix(ref, "./")
}

// Stat returns file information for rel.
func (p *Product) Stat(rel string) (os.FileInfo, error) {
	if p.only != "" && rel != p.only {
		return nil, &os.PathError{Op: "stat", Path: rel, Err: os.ErrNotExist}
	}
	return p.fs.Stat(rel)
}

// Read returns the content of rel.
func (p *Product) Read(rel string) ([]byte, error) {
	f, err := p.fs.Open(rel)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// Checksum returns the hex MD5 digest of rel.
func (p *Product) Checksum(rel string) (string, error) {
	f, err := p.fs.Open(rel)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

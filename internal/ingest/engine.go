package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/stacgen/api"
	"github.com/agentic-research/stacgen/internal/attr"
	"github.com/agentic-research/stacgen/internal/coerce"
	"github.com/agentic-research/stacgen/internal/expr"
	"github.com/agentic-research/stacgen/internal/rules"
)

// Options configures an Engine.
type Options struct {
	// Checksums enables MD5 synthesis of asset:<NAME>:checksum.
	Checksums bool
	Logger    *slog.Logger
}

// Engine resolves rule sets against products. It holds no per-product
// state and is safe for concurrent use.
type Engine struct {
	checksums bool
	logger    *slog.Logger
}

func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{checksums: opts.Checksums, logger: logger}
}

// Resolution is the outcome of resolving one product.
type Resolution struct {
	Attrs attr.Map
	// Missed holds the indexes of rules that produced no value.
	Missed *roaring.Bitmap
	// Documents lists the product files parsed, in load order.
	Documents []string
}

// resolution is the per-product state of one Resolve call.
type resolution struct {
	product *Product
	docs    map[string]*Document
	order   []string
	// files is the product listing, taken once on the first glob.
	files []string
	// refs memoises rule file references; "" records a miss.
	refs map[string]string
}

func (r *resolution) resolve(ref string) (string, bool, error) {
	if rel, ok := r.refs[ref]; ok {
		return rel, rel != "", nil
	}
	clean := cleanRef(ref)
	var (
		rel   string
		found bool
		err   error
	)
	if isGlob(clean) {
		if r.files == nil {
			if r.files, err = r.product.Files(); err != nil {
				return "", false, err
			}
			if r.files == nil {
				r.files = []string{}
			}
		}
		rel, found, err = firstMatch(r.files, clean)
	} else {
		rel, found, err = r.product.stat(clean)
	}
	if err != nil {
		return "", false, err
	}
	r.refs[ref] = rel
	return rel, found, nil
}

func (r *resolution) document(rel string) (*Document, error) {
	if d, ok := r.docs[rel]; ok {
		return d, nil
	}
	content, err := r.product.Read(rel)
	if err != nil {
		return nil, err
	}
	d, err := LoadDocument(rel, content)
	if err != nil {
		return nil, err
	}
	r.docs[rel] = d
	r.order = append(r.order, rel)
	return d, nil
}

// Resolve runs rs against product in rule order. Misses omit the key and
// are recorded; coercion, configuration and parse failures abort with a
// *api.RuleError. Later rules overwrite earlier ones with the same key.
func (e *Engine) Resolve(ctx context.Context, product *Product, rs *rules.RuleSet) (*Resolution, error) {
	res := &resolution{product: product, docs: make(map[string]*Document), refs: make(map[string]string)}
	b := attr.NewBuilder()
	missed := roaring.New()

	for i, r := range rs.Rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, rel, err := e.evaluate(ctx, res, r)
		if errors.Is(err, api.ErrResolutionMiss) {
			missed.Add(uint32(i))
			e.logger.Debug("rule missed",
				slog.String("product", product.Name()),
				slog.String("key", r.Metadata),
				slog.String("rule", r.Source),
				slog.String("reason", err.Error()))
			continue
		}
		if err != nil {
			return nil, &api.RuleError{Index: i, Rule: r.MappingRule, Path: rel, Err: err}
		}

		v, err := coerce.Value(raw, r.Datatype)
		if err != nil {
			file := rel
			if file == "" {
				file = r.File
			}
			return nil, &api.RuleError{Index: i, Rule: r.MappingRule, Path: rel, Err: &api.CoercionError{
				Key:        r.Metadata,
				File:       file,
				Expression: r.Mappings,
				Raw:        raw,
				Target:     r.Datatype,
				Err:        err,
			}}
		}
		b.Set(r.Metadata, v)
	}

	e.synthesize(product, rs, b)

	e.logger.Debug("product resolved",
		slog.String("product", product.Name()),
		slog.Int("rules", rs.Len()),
		slog.Int("missed", int(missed.GetCardinality())),
		slog.Int("documents", len(res.order)))

	return &Resolution{Attrs: b.Map(), Missed: missed, Documents: res.order}, nil
}

func (e *Engine) evaluate(ctx context.Context, res *resolution, r rules.Rule) (any, string, error) {
	if r.Static() {
		return r.Mappings, "", nil
	}
	rel, ok, err := res.resolve(r.File)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", &api.MissError{File: r.File, Query: "file"}
	}
	doc, err := res.document(rel)
	if err != nil {
		return nil, rel, err
	}
	raw, err := expr.Evaluate(ctx, doc, r.Expr)
	return raw, rel, err
}

// synthesize fills asset:<NAME>:size and asset:<NAME>:checksum for assets
// whose value names an existing product file, unless a rule set them.
// Failures only skip the asset.
func (e *Engine) synthesize(product *Product, rs *rules.RuleSet, b *attr.Builder) {
	seen := make(map[string]bool)
	for _, r := range rs.Rules {
		name, suffix, ok := api.AssetKey(r.Metadata)
		if !ok || suffix != "" || seen[name] {
			continue
		}
		seen[name] = true

		v, ok := b.Get(r.Metadata)
		if !ok {
			continue
		}
		ref, ok := v.(string)
		if !ok {
			continue
		}
		rel := product.Rel(ref)
		info, err := product.Stat(rel)
		if err != nil || info.IsDir() {
			continue
		}

		sizeKey := r.Metadata + ":" + api.AssetSizeSuffix
		if !b.Has(sizeKey) {
			b.Set(sizeKey, info.Size())
		}
		sumKey := r.Metadata + ":" + api.AssetChecksumSuffix
		if e.checksums && !b.Has(sumKey) {
			sum, err := product.Checksum(rel)
			if err != nil {
				e.logger.Warn("asset checksum failed",
					slog.String("asset", name),
					slog.String("error", err.Error()))
				continue
			}
			b.Set(sumKey, sum)
		}
	}
}

// Package batch runs the resolve and generate pipeline over many products.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentic-research/stacgen/internal/ingest"
	"github.com/agentic-research/stacgen/internal/rules"
	"github.com/agentic-research/stacgen/internal/stac"
	"github.com/agentic-research/stacgen/internal/template"
)

// Pipeline turns one product into one STAC document. It is safe for
// concurrent use; all per-product state lives in the call.
type Pipeline struct {
	Router   *rules.Router
	Engine   *ingest.Engine
	Template template.Template
	// Remote is optional.
	Remote        stac.RemoteProvider
	RemoteTimeout time.Duration
	Logger        *slog.Logger
}

// Result is the outcome of one product.
type Result struct {
	Product     string
	ProductType string
	Resolution  *ingest.Resolution
	Item        *stac.Item
	Document    *stac.Document
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Resolve opens the product and resolves its rule set. An empty
// productType is detected from the routing patterns.
func (p *Pipeline) Resolve(ctx context.Context, productPath, productType string) (*Result, error) {
	res, _, err := p.resolve(ctx, productPath, productType)
	return res, err
}

func (p *Pipeline) resolve(ctx context.Context, productPath, productType string) (*Result, *ingest.Product, error) {
	res := &Result{Product: productPath, ProductType: productType}
	if res.ProductType == "" {
		t, err := p.Router.Detect(productPath)
		if err != nil {
			return res, nil, err
		}
		res.ProductType = t
	}
	rs, err := p.Router.SelectRuleSet(res.ProductType)
	if err != nil {
		return res, nil, err
	}
	product, err := ingest.OpenProduct(productPath)
	if err != nil {
		return res, nil, fmt.Errorf("open product: %w", err)
	}
	res.Product = product.Path()
	if res.Resolution, err = p.Engine.Resolve(ctx, product, rs); err != nil {
		return res, nil, err
	}
	return res, product, nil
}

// Generate resolves the product, builds its Item and generates it.
func (p *Pipeline) Generate(ctx context.Context, productPath, productType string) (*Result, error) {
	res, product, err := p.resolve(ctx, productPath, productType)
	if err != nil {
		return res, err
	}
	tpl := p.Template
	if tpl == nil {
		if tpl, err = template.Lookup(template.GenericName); err != nil {
			return res, err
		}
	}
	if res.Item, err = tpl.Build(res.Resolution.Attrs, product); err != nil {
		return res, err
	}
	if p.Remote != nil {
		res.Item.Remote = p.Remote
		res.Item.RemoteTimeout = p.RemoteTimeout
	}
	if res.Document, err = res.Item.Generate(ctx); err != nil {
		return res, err
	}
	p.logger().Debug("item generated",
		slog.String("product", res.Product),
		slog.String("type", res.ProductType),
		slog.String("id", res.Document.ID),
		slog.Int("assets", len(res.Document.Assets)))
	return res, nil
}

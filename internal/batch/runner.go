package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agentic-research/stacgen/api"
	"github.com/agentic-research/stacgen/internal/metrics"
	"github.com/agentic-research/stacgen/internal/stac"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Failure is a product that produced no item.
type Failure struct {
	Product string
	Err     error
}

// Report summarises a run. Succeeded and Failed are sorted by product.
type Report struct {
	RunID     string
	Started   time.Time
	Finished  time.Time
	Succeeded []Success
	Failed    []Failure
	// Skipped counts products never started because the run was cancelled.
	Skipped int
}

// Success is a product and the id of the item generated for it.
type Success struct {
	Product string
	ID      string
}

// Runner processes products in parallel. A product failure is recorded and
// the batch continues; a configuration error stops the whole run.
type Runner struct {
	Pipeline    *Pipeline
	Concurrency int
	Sinks       []Sink
	// Metrics is optional.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Run validates every routed rule set, then processes products.
func (r *Runner) Run(ctx context.Context, products []string) (*Report, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	logger = logger.With(slog.String("run", report.RunID))

	if err := r.Pipeline.Router.CheckAll(); err != nil {
		report.Finished = time.Now()
		return report, fmt.Errorf("rule sets: %w", err)
	}

	limit := r.Concurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	logger.Info("batch started", slog.Int("products", len(products)), slog.Int("concurrency", limit))

	for _, product := range products {
		if gctx.Err() != nil {
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				return nil
			}
			id, err := r.process(gctx, product, logger)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, Failure{Product: product, Err: err})
				if api.IsConfiguration(err) {
					return err
				}
				return nil
			}
			report.Succeeded = append(report.Succeeded, Success{Product: product, ID: id})
			return nil
		})
	}
	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	sort.Slice(report.Succeeded, func(i, j int) bool { return report.Succeeded[i].Product < report.Succeeded[j].Product })
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Product < report.Failed[j].Product })
	report.Finished = time.Now()

	logger.Info("batch finished",
		slog.Int("succeeded", len(report.Succeeded)),
		slog.Int("failed", len(report.Failed)),
		slog.Int("skipped", report.Skipped),
		slog.Duration("elapsed", report.Finished.Sub(report.Started)))
	return report, err
}

func (r *Runner) process(ctx context.Context, product string, logger *slog.Logger) (string, error) {
	if r.Metrics != nil {
		r.Metrics.InFlight.Inc()
		defer r.Metrics.InFlight.Dec()
	}
	start := time.Now()
	res, err := r.Pipeline.Generate(ctx, product, "")
	if err == nil {
		for i, sink := range r.Sinks {
			if serr := sink.Put(res.Product, res.Document); serr != nil {
				err = fmt.Errorf("write item %s: %w", res.Document.ID, serr)
				r.withdraw(res.Product, res.Document, r.Sinks[:i], logger)
				break
			}
		}
	}
	if r.Metrics != nil {
		misses := 0
		if res != nil && res.Resolution != nil {
			misses = int(res.Resolution.Missed.GetCardinality())
		}
		productType := ""
		if res != nil {
			productType = res.ProductType
		}
		r.Metrics.Observe(productType, err, time.Since(start), misses)
	}
	if err != nil {
		level := slog.LevelWarn
		if api.IsConfiguration(err) {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "product failed", slog.String("product", product), slog.Any("error", err))
		return "", err
	}
	return res.Document.ID, nil
}

// withdraw removes doc from sinks that stored it before a later sink failed.
func (r *Runner) withdraw(product string, doc *stac.Document, sinks []Sink, logger *slog.Logger) {
	for _, sink := range sinks {
		rm, ok := sink.(Remover)
		if !ok {
			continue
		}
		if err := rm.Remove(product, doc); err != nil {
			logger.Warn("withdraw item failed",
				slog.String("product", product),
				slog.String("id", doc.ID),
				slog.Any("error", err))
		}
	}
}

// Err joins every failure of the report, or returns nil.
func (rep *Report) Err() error {
	errs := make([]error, 0, len(rep.Failed))
	for _, f := range rep.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", f.Product, f.Err))
	}
	return errors.Join(errs...)
}

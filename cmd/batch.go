package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentic-research/stacgen/internal/batch"
	"github.com/agentic-research/stacgen/internal/catalog"
	"github.com/agentic-research/stacgen/internal/metrics"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
)

var (
	batchOut         string
	batchCatalog     string
	batchConcurrency int
	batchTemplate    string
	batchMetricsAddr string
)

func init() {
	f := batchCmd.Flags()
	f.StringVarP(&batchOut, "out", "o", "", "Directory receiving one <id>.json per item (overrides output.dir)")
	f.StringVar(&batchCatalog, "catalog", "", "SQLite database receiving every item (overrides output.catalog)")
	f.IntVarP(&batchConcurrency, "concurrency", "j", 0, "Products processed in parallel (overrides batch.concurrency)")
	f.StringVar(&batchTemplate, "template", "", "Item template (default: generic)")
	f.StringVar(&batchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the batch runs")
	rootCmd.AddCommand(batchCmd)
}

var batchCmd = &cobra.Command{
	Use:   "batch <product|glob>...",
	Short: "Generate items for many products in parallel",
	Long: `Generate items for many products in parallel.

Arguments may be doublestar globs (e.g. 'data/**/S2*.SAFE'). A failed product
is reported and the batch continues; an invalid rule set stops the run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		products, err := expandProducts(args)
		if err != nil {
			return err
		}
		if batchOut != "" {
			cfg.Output.Dir = batchOut
		}
		if batchCatalog != "" {
			cfg.Output.Catalog = batchCatalog
		}
		if batchConcurrency > 0 {
			cfg.Batch.Concurrency = batchConcurrency
		}
		if cfg.Output.Dir == "" && cfg.Output.Catalog == "" {
			return fmt.Errorf("no output: set --out or --catalog")
		}

		p, err := newPipeline(batchTemplate)
		if err != nil {
			return err
		}
		runner := &batch.Runner{
			Pipeline:    p,
			Concurrency: cfg.Batch.Concurrency,
			Metrics:     metrics.New(),
			Logger:      logger,
		}
		if cfg.Output.Dir != "" {
			sink, err := batch.NewDirSink(cfg.Output.Dir)
			if err != nil {
				return err
			}
			runner.Sinks = append(runner.Sinks, sink)
		}
		var writer *catalog.Writer
		if cfg.Output.Catalog != "" {
			if writer, err = catalog.NewWriter(cfg.Output.Catalog, logger); err != nil {
				return err
			}
			runner.Sinks = append(runner.Sinks, writer)
		}

		ctx := cmd.Context()
		if batchMetricsAddr != "" {
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(ctx)
			defer cancel()
			go func() {
				if err := runner.Metrics.Serve(ctx, batchMetricsAddr, logger); err != nil {
					logger.Error("metrics server failed", slog.Any("error", err))
				}
			}()
		}

		report, runErr := runner.Run(ctx, products)
		if writer != nil {
			if err := writer.Close(); err != nil && runErr == nil {
				runErr = err
			}
		}
		if report != nil {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "run %s: %d succeeded, %d failed, %d skipped in %s\n",
				report.RunID, len(report.Succeeded), len(report.Failed), report.Skipped,
				report.Finished.Sub(report.Started).Round(time.Millisecond))
			for _, f := range report.Failed {
				fmt.Fprintf(w, "  FAIL %s: %v\n", f.Product, f.Err)
			}
		}
		if runErr != nil {
			return runErr
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d of %d products failed", len(report.Failed), len(products))
		}
		return nil
	},
}

// expandProducts resolves glob arguments. Plain paths are kept even when
// they do not exist so the failure is reported per product.
func expandProducts(args []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, arg := range args {
		matches := []string{arg}
		if hasMeta(arg) {
			base, pattern := doublestar.SplitPattern(filepath.ToSlash(arg))
			found, err := doublestar.Glob(os.DirFS(base), pattern)
			if err != nil {
				return nil, fmt.Errorf("glob %q: %w", arg, err)
			}
			if len(found) == 0 {
				return nil, fmt.Errorf("glob %q matched no products", arg)
			}
			matches = matches[:0]
			for _, m := range found {
				matches = append(matches, filepath.Join(base, filepath.FromSlash(m)))
			}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

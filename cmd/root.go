package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentic-research/stacgen/internal/batch"
	"github.com/agentic-research/stacgen/internal/config"
	"github.com/agentic-research/stacgen/internal/ingest"
	"github.com/agentic-research/stacgen/internal/odata"
	"github.com/agentic-research/stacgen/internal/rules"
	"github.com/agentic-research/stacgen/internal/template"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	routingPath string
	logLevel    string
	logFormat   string
	useOData    bool

	// cfg and logger are set by the root command before any subcommand runs.
	cfg    *config.Config
	logger *slog.Logger
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to stacgen.yaml (default: ./stacgen.yaml if present)")
	pf.StringVarP(&routingPath, "routing", "r", "", "Path to the routing table (overrides rules.routing)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text or json")
	pf.BoolVar(&useOData, "odata", false, "Look up the remote context of each product in the catalogue")
}

var rootCmd = &cobra.Command{
	Use:           "stacgen",
	Short:         "Generate STAC Items from Earth-observation product metadata",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath, nil)
		if err != nil {
			return err
		}
		if routingPath != "" {
			c.Rules.Routing = routingPath
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		if logFormat != "" {
			c.Log.Format = logFormat
		}
		if useOData {
			c.OData.Enabled = true
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c
		logger = c.Log.NewLogger(cmd.ErrOrStderr())
		slog.SetDefault(logger)
		return nil
	},
}

// newRouter loads the routing table of the current configuration.
func newRouter() (*rules.Router, error) {
	table, err := rules.LoadTable(cfg.Rules.Routing)
	if err != nil {
		return nil, err
	}
	return rules.NewRouter(table, rules.NewCache(), logger), nil
}

func newEngine() *ingest.Engine {
	return ingest.NewEngine(ingest.Options{Checksums: cfg.Resolve.Checksums, Logger: logger})
}

// newPipeline wires the router, engine, template and optional catalogue
// client from the current configuration.
func newPipeline(templateName string) (*batch.Pipeline, error) {
	router, err := newRouter()
	if err != nil {
		return nil, err
	}
	tpl, err := template.Lookup(templateName)
	if err != nil {
		return nil, err
	}
	p := &batch.Pipeline{
		Router:   router,
		Engine:   newEngine(),
		Template: tpl,
		Logger:   logger,
	}
	if o := cfg.OData; o.Enabled {
		p.Remote = odata.New(o.CatalogueURL,
			odata.WithZipperURL(o.ZipperURL),
			odata.WithOIDCURL(o.OIDCURL),
			odata.WithS3Platform(o.S3Platform),
			odata.WithMaxAttempts(o.MaxAttempts),
			odata.WithLogger(logger))
		// bounds the whole lookup, retries included
		p.RemoteTimeout = o.Timeout
	}
	return p, nil
}

// Execute runs the root command. An interrupt cancels the command context,
// so a running batch stops scheduling products and reports what it did.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "stacgen:", err)
		os.Exit(1)
	}
}

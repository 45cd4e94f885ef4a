package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/agentic-research/stacgen/internal/batch"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
)

var (
	resolveType string
	resolveDump bool
)

func init() {
	resolveCmd.Flags().StringVarP(&resolveType, "type", "t", "", "Product type (default: detect from the routing patterns)")
	resolveCmd.Flags().BoolVar(&resolveDump, "dump", false, "Dump the resolved values with their Go types")
	rootCmd.AddCommand(resolveCmd)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <product>",
	Short: "Resolve the attributes of a product without building an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		router, err := newRouter()
		if err != nil {
			return err
		}
		p := &batch.Pipeline{Router: router, Engine: newEngine(), Logger: logger}
		res, err := p.Resolve(cmd.Context(), args[0], resolveType)
		if err != nil {
			return err
		}
		return writeResolution(cmd.OutOrStdout(), res, resolveDump)
	},
}

// resolution is the JSON shape printed by resolve.
type resolution struct {
	Product     string   `json:"product"`
	ProductType string   `json:"product_type"`
	Documents   []string `json:"documents"`
	Missed      []uint32 `json:"missed_rules,omitempty"`
	Attributes  any      `json:"attributes"`
}

func writeResolution(w io.Writer, res *batch.Result, dump bool) error {
	if dump {
		fmt.Fprintf(w, "product: %s (%s)\n", res.Product, res.ProductType)
		for _, k := range res.Resolution.Attrs.Keys() {
			v, _ := res.Resolution.Attrs.Get(k)
			fmt.Fprintf(w, "%s = ", k)
			spew.Fdump(w, v)
		}
		return nil
	}
	out := resolution{
		Product:     res.Product,
		ProductType: res.ProductType,
		Documents:   res.Resolution.Documents,
		Attributes:  res.Resolution.Attrs,
	}
	if res.Resolution.Missed != nil && !res.Resolution.Missed.IsEmpty() {
		out.Missed = res.Resolution.Missed.ToArray()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	generateType     string
	generateTemplate string
	generateOutput   string
)

func init() {
	generateCmd.Flags().StringVarP(&generateType, "type", "t", "", "Product type (default: detect from the routing patterns)")
	generateCmd.Flags().StringVar(&generateTemplate, "template", "", "Item template (default: generic)")
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "Write the item to this file instead of stdout")
	rootCmd.AddCommand(generateCmd)
}

var generateCmd = &cobra.Command{
	Use:   "generate <product>",
	Short: "Generate the STAC Item of one product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline(generateTemplate)
		if err != nil {
			return err
		}
		res, err := p.Generate(cmd.Context(), args[0], generateType)
		if err != nil {
			return err
		}
		raw, err := res.Document.JSON()
		if err != nil {
			return fmt.Errorf("encode item: %w", err)
		}
		raw = append(raw, '\n')
		if generateOutput == "" {
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		}
		if err := os.WriteFile(generateOutput, raw, 0o644); err != nil {
			return fmt.Errorf("write item: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%s)\n", generateOutput, res.Document.ID)
		return nil
	},
}

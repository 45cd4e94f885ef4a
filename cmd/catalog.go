package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/agentic-research/stacgen/internal/catalog"
	"github.com/spf13/cobra"
)

var catalogCollection string

func init() {
	catalogExportCmd.Flags().StringVar(&catalogCollection, "collection", "", "Only export items of this collection")
	catalogCmd.AddCommand(catalogExportCmd)
	rootCmd.AddCommand(catalogCmd)
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Work with a SQLite item catalog written by batch",
}

var catalogExportCmd = &cobra.Command{
	Use:   "export <db>",
	Short: "Write every stored item as newline-delimited JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		w := bufio.NewWriter(cmd.OutOrStdout())
		n := 0
		err := catalog.Stream(args[0], func(e catalog.Entry) error {
			if catalogCollection != "" && e.Collection != catalogCollection {
				return nil
			}
			n++
			if _, err := w.Write(e.Document); err != nil {
				return err
			}
			return w.WriteByte('\n')
		})
		if err != nil {
			return err
		}
		logger.Debug("catalog exported", slog.Int("items", n))
		return w.Flush()
	},
}
